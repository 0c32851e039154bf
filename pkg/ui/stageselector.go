package ui

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/lipgloss"
	"github.com/sahilm/fuzzy"
)

// SelectorItem is one choice in a stage selector
type SelectorItem struct {
	Label string
	Value string
}

// StageSelectorModel is the fuzzy-filterable overlay used to pick the value
// of one stage field
type StageSelectorModel struct {
	title string

	allItems      []SelectorItem
	filteredItems []SelectorItem

	searchInput   textinput.Model
	selectedIndex int

	width  int
	height int
	theme  Theme

	confirmed    bool
	cancelled    bool
	selectedItem *SelectorItem
}

// NewStageSelectorModel creates a selector over items with current
// preselected
func NewStageSelectorModel(title string, items []SelectorItem, current string, theme Theme) StageSelectorModel {
	ti := textinput.New()
	ti.Placeholder = "Type to filter..."
	ti.Focus()
	ti.CharLimit = 64
	ti.Width = 40

	m := StageSelectorModel{
		title:         title,
		allItems:      items,
		filteredItems: items,
		searchInput:   ti,
		theme:         theme,
		width:         60,
		height:        20,
	}
	for i, item := range items {
		if item.Value == current {
			m.selectedIndex = i
			break
		}
	}
	return m
}

// SetSize updates the selector dimensions
func (m *StageSelectorModel) SetSize(width, height int) {
	m.width = width
	m.height = height
	inputWidth := width - 20
	if inputWidth < 20 {
		inputWidth = 20
	}
	if inputWidth > 50 {
		inputWidth = 50
	}
	m.searchInput.Width = inputWidth
}

// Update handles a key and reports whether it was consumed
func (m *StageSelectorModel) Update(key string) (handled bool) {
	switch key {
	case "up", "ctrl+k":
		if m.selectedIndex > 0 {
			m.selectedIndex--
		}
		return true
	case "down", "ctrl+j":
		if m.selectedIndex < len(m.filteredItems)-1 {
			m.selectedIndex++
		}
		return true
	case "home":
		m.selectedIndex = 0
		return true
	case "end":
		if len(m.filteredItems) > 0 {
			m.selectedIndex = len(m.filteredItems) - 1
		}
		return true
	case "enter":
		if len(m.filteredItems) > 0 && m.selectedIndex < len(m.filteredItems) {
			item := m.filteredItems[m.selectedIndex]
			m.selectedItem = &item
			m.confirmed = true
		}
		return true
	case "esc":
		m.cancelled = true
		m.confirmed = false
		m.selectedItem = nil
		return true
	case "backspace":
		if v := []rune(m.searchInput.Value()); len(v) > 0 {
			m.searchInput.SetValue(string(v[:len(v)-1]))
			m.filterItems()
		}
		return true
	default:
		if r := []rune(key); len(r) == 1 {
			m.searchInput.SetValue(m.searchInput.Value() + key)
			m.filterItems()
			return true
		}
	}
	return false
}

func (m *StageSelectorModel) filterItems() {
	query := strings.TrimSpace(m.searchInput.Value())
	m.selectedIndex = 0
	if query == "" {
		m.filteredItems = m.allItems
		return
	}

	labels := make([]string, len(m.allItems))
	for i, item := range m.allItems {
		labels[i] = item.Label
	}

	matches := fuzzy.Find(query, labels)
	m.filteredItems = make([]SelectorItem, 0, len(matches))
	for _, match := range matches {
		m.filteredItems = append(m.filteredItems, m.allItems[match.Index])
	}
}

// IsConfirmed returns true if the user chose an item
func (m *StageSelectorModel) IsConfirmed() bool {
	return m.confirmed
}

// IsCancelled returns true if the user closed the selector without choosing
func (m *StageSelectorModel) IsCancelled() bool {
	return m.cancelled
}

// SelectedItem returns the chosen item, or nil
func (m *StageSelectorModel) SelectedItem() *SelectorItem {
	return m.selectedItem
}

// SearchValue returns the current filter text
func (m *StageSelectorModel) SearchValue() string {
	return m.searchInput.Value()
}

// ItemCount returns the number of items passing the filter
func (m *StageSelectorModel) ItemCount() int {
	return len(m.filteredItems)
}

// View renders the overlay centered in the window
func (m *StageSelectorModel) View() string {
	t := m.theme

	boxWidth := 55
	if m.width < 65 {
		boxWidth = m.width - 10
	}
	if boxWidth < 35 {
		boxWidth = 35
	}
	contentWidth := boxWidth - 4

	var lines []string
	titleStyle := t.Renderer.NewStyle().Foreground(t.Primary).Bold(true)
	lines = append(lines, titleStyle.Render("Select "+m.title), "")

	inputStyle := t.Renderer.NewStyle().
		Foreground(t.Base.GetForeground()).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(t.Secondary).
		Padding(0, 1).
		Width(contentWidth - 2)
	searchValue := m.searchInput.Value()
	if searchValue == "" {
		searchValue = t.Renderer.NewStyle().Foreground(t.Subtext).Render(m.searchInput.Placeholder)
	}
	lines = append(lines, inputStyle.Render(searchValue), "")

	maxVisible := m.height - 12
	if maxVisible < 5 {
		maxVisible = 5
	}
	if maxVisible > 15 {
		maxVisible = 15
	}

	if len(m.filteredItems) == 0 {
		emptyStyle := t.Renderer.NewStyle().Foreground(t.Subtext).Italic(true)
		lines = append(lines, emptyStyle.Render("  No matches"))
	} else {
		// Scroll so the cursor stays visible
		start := 0
		if m.selectedIndex >= maxVisible {
			start = m.selectedIndex - maxVisible + 1
		}
		end := start + maxVisible
		if end > len(m.filteredItems) {
			end = len(m.filteredItems)
		}
		for i := start; i < end; i++ {
			lines = append(lines, m.renderItem(m.filteredItems[i], i == m.selectedIndex, contentWidth))
		}
		if hidden := len(m.filteredItems) - (end - start); hidden > 0 {
			moreStyle := t.Renderer.NewStyle().Foreground(t.Subtext).Italic(true)
			lines = append(lines, moreStyle.Render("  ... "+strconv.Itoa(hidden)+" more"))
		}
	}

	lines = append(lines, "")
	footerStyle := t.Renderer.NewStyle().Foreground(t.Subtext).Italic(true)
	lines = append(lines, footerStyle.Render("↑/↓: navigate • enter: select • esc: cancel"))

	boxStyle := t.Renderer.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(t.Primary).
		Padding(1, 2).
		Width(boxWidth)

	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, boxStyle.Render(strings.Join(lines, "\n")))
}

func (m *StageSelectorModel) renderItem(item SelectorItem, isSelected bool, maxWidth int) string {
	t := m.theme

	prefix := "  "
	style := t.Renderer.NewStyle().Foreground(t.Base.GetForeground())
	if isSelected {
		prefix = "▸ "
		style = style.Foreground(t.Primary).Bold(true)
	}
	return style.Render(prefix + truncate(item.Label, maxWidth-2))
}
