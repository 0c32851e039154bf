package ui

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

const helpMarkdown = `# Study Browser

Pick a **subject**, then a **study**, then a **series**. Changing a field
clears everything below it.

## Navigation

| Key | Action |
| --- | --- |
| tab / shift+tab | Move between fields |
| enter | Choose a value for the focused field |
| m | Toggle modality (MEG / MR) |
| j / k | Scroll the file list |

## Processing

| Key | Action |
| --- | --- |
| p | Edit processing parameters |
| o | Fit the origin from a header file |
| x | Run the processing command on the selected files |
| y | Copy the file list to the clipboard |

## Other

| Key | Action |
| --- | --- |
| ? | Toggle this help |
| q / ctrl+c | Quit and print the selection |
`

// HelpOverlayModel shows keyboard shortcuts help
type HelpOverlayModel struct {
	visible bool
	width   int
	height  int
	theme   Theme

	rendered      string
	renderedWidth int
}

// NewHelpOverlayModel creates a new help overlay
func NewHelpOverlayModel(theme Theme) HelpOverlayModel {
	return HelpOverlayModel{
		theme: theme,
	}
}

// Show makes the help overlay visible
func (m *HelpOverlayModel) Show() {
	m.visible = true
}

// Hide makes the help overlay invisible
func (m *HelpOverlayModel) Hide() {
	m.visible = false
}

// Toggle toggles visibility
func (m *HelpOverlayModel) Toggle() {
	m.visible = !m.visible
}

// IsVisible returns true if overlay is showing
func (m HelpOverlayModel) IsVisible() bool {
	return m.visible
}

// SetSize sets dimensions
func (m *HelpOverlayModel) SetSize(width, height int) {
	m.width = width
	m.height = height
}

// Update handles input
func (m HelpOverlayModel) Update(msg tea.Msg) (HelpOverlayModel, tea.Cmd) {
	if !m.visible {
		return m, nil
	}

	switch msg.(type) {
	case tea.KeyMsg:
		// Any key closes help
		m.visible = false
	}

	return m, nil
}

func (m *HelpOverlayModel) render(width int) string {
	if m.rendered != "" && m.renderedWidth == width {
		return m.rendered
	}

	style := "dark"
	if !m.theme.Renderer.HasDarkBackground() {
		style = "light"
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(width),
	)
	out := helpMarkdown
	if err == nil {
		if md, err := r.Render(helpMarkdown); err == nil {
			out = strings.TrimSpace(md)
		}
	}
	m.rendered = out
	m.renderedWidth = width
	return out
}

// View renders the help overlay
func (m *HelpOverlayModel) View() string {
	if !m.visible {
		return ""
	}

	width := 70
	if m.width > 0 && m.width-8 < width {
		width = m.width - 8
	}
	if width < 30 {
		width = 30
	}

	var b strings.Builder
	b.WriteString(m.render(width))
	b.WriteString("\n\n")
	hintStyle := m.theme.Renderer.NewStyle().Faint(true).Italic(true)
	b.WriteString(hintStyle.Render("[Press any key to close]"))

	boxStyle := m.theme.Renderer.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(m.theme.Border).
		Padding(1, 2)

	return boxStyle.Render(b.String())
}
