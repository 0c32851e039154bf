package ui

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// PathInputModel is a one-line modal asking for a file path
type PathInputModel struct {
	input  textinput.Model
	title  string
	width  int
	height int
	theme  Theme

	submitted bool
	cancelled bool
}

// NewPathInputModel creates a path prompt prefilled with initial
func NewPathInputModel(title, initial string, theme Theme) PathInputModel {
	ti := textinput.New()
	ti.Placeholder = "/path/to/raw.fif"
	ti.SetValue(initial)
	ti.Focus()
	ti.CharLimit = 1024
	ti.Width = 50

	return PathInputModel{
		input: ti,
		title: title,
		theme: theme,
	}
}

// Init implements tea.Model
func (m PathInputModel) Init() tea.Cmd {
	return textinput.Blink
}

// Update implements tea.Model
func (m PathInputModel) Update(msg tea.Msg) (PathInputModel, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "esc":
			m.cancelled = true
			return m, nil
		case "enter":
			if strings.TrimSpace(m.input.Value()) != "" {
				m.submitted = true
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View implements tea.Model
func (m PathInputModel) View() string {
	var b strings.Builder

	width := 60
	if m.width > 0 && m.width < 70 {
		width = m.width - 10
	}

	titleStyle := m.theme.Renderer.NewStyle().
		Bold(true).
		Foreground(m.theme.Primary).
		Width(width).
		Align(lipgloss.Center)
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n\n")
	b.WriteString(m.input.View())
	b.WriteString("\n\n")

	hintStyle := m.theme.Renderer.NewStyle().Faint(true)
	b.WriteString(hintStyle.Render("[Enter] Confirm  [Esc] Cancel"))

	boxStyle := m.theme.Renderer.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(m.theme.Border).
		Padding(1, 2).
		Width(width)

	return boxStyle.Render(b.String())
}

// SetSize sets the modal dimensions
func (m *PathInputModel) SetSize(width, height int) {
	m.width = width
	m.height = height

	inputWidth := width - 20
	if inputWidth < 30 {
		inputWidth = 30
	}
	if inputWidth > 60 {
		inputWidth = 60
	}
	m.input.Width = inputWidth
}

// IsSubmitted returns true if the user confirmed a path
func (m PathInputModel) IsSubmitted() bool {
	return m.submitted
}

// IsCancelled returns true if the user cancelled
func (m PathInputModel) IsCancelled() bool {
	return m.cancelled
}

// Value returns the entered path
func (m PathInputModel) Value() string {
	return strings.TrimSpace(m.input.Value())
}
