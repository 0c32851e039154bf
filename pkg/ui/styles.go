package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

// ══════════════════════════════════════════════════════════════════════════════
// COLOR PALETTE - Dracula-inspired, adaptive for light terminals
// ══════════════════════════════════════════════════════════════════════════════

var (
	colorPrimary   = lipgloss.AdaptiveColor{Light: "#7C4DCC", Dark: "#BD93F9"}
	colorSecondary = lipgloss.AdaptiveColor{Light: "#4A5A8C", Dark: "#6272A4"}
	colorText      = lipgloss.AdaptiveColor{Light: "#282A36", Dark: "#F8F8F2"}
	colorSubtext   = lipgloss.AdaptiveColor{Light: "#555555", Dark: "#BFBFBF"}
	colorBorder    = lipgloss.AdaptiveColor{Light: "#BBBBBB", Dark: "#44475A"}
	colorSuccess   = lipgloss.AdaptiveColor{Light: "#1E8C3A", Dark: "#50FA7B"}
	colorWarning   = lipgloss.AdaptiveColor{Light: "#B8650A", Dark: "#FFB86C"}
	colorDanger    = lipgloss.AdaptiveColor{Light: "#C62828", Dark: "#FF5555"}
	colorInfo      = lipgloss.AdaptiveColor{Light: "#0277BD", Dark: "#8BE9FD"}
)

// Theme bundles the renderer and colors every view draws with
type Theme struct {
	Renderer *lipgloss.Renderer

	Primary   lipgloss.AdaptiveColor
	Secondary lipgloss.AdaptiveColor
	Subtext   lipgloss.AdaptiveColor
	Border    lipgloss.AdaptiveColor
	Success   lipgloss.AdaptiveColor
	Warning   lipgloss.AdaptiveColor
	Danger    lipgloss.AdaptiveColor
	Info      lipgloss.AdaptiveColor

	Base lipgloss.Style
}

// DefaultTheme builds the theme on r, or the default renderer when r is nil
func DefaultTheme(r *lipgloss.Renderer) Theme {
	if r == nil {
		r = lipgloss.DefaultRenderer()
	}
	return Theme{
		Renderer:  r,
		Primary:   colorPrimary,
		Secondary: colorSecondary,
		Subtext:   colorSubtext,
		Border:    colorBorder,
		Success:   colorSuccess,
		Warning:   colorWarning,
		Danger:    colorDanger,
		Info:      colorInfo,
		Base:      r.NewStyle().Foreground(colorText),
	}
}

// PanelStyle is the style for an unfocused stage field
func (t Theme) PanelStyle() lipgloss.Style {
	return t.Renderer.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(t.Border)
}

// FocusedPanelStyle is the style for the focused stage field
func (t Theme) FocusedPanelStyle() lipgloss.Style {
	return t.Renderer.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(t.Primary)
}

// RenderDivider renders a horizontal divider line
func (t Theme) RenderDivider(width int) string {
	if width <= 0 {
		return ""
	}
	return t.Renderer.NewStyle().
		Foreground(t.Border).
		Render(strings.Repeat("─", width))
}

// truncate shortens s to fit width terminal cells
func truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "…")
}

// padRight pads s with spaces to width terminal cells
func padRight(s string, width int) string {
	return runewidth.FillRight(s, width)
}
