// Package ui is the terminal front end of the study browser.
package ui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/meeg-cfin/studybrowser/pkg/batch"
	"github.com/meeg-cfin/studybrowser/pkg/browse"
	"github.com/meeg-cfin/studybrowser/pkg/model"
	"github.com/meeg-cfin/studybrowser/pkg/panel"
)

// CatalogChangedMsg asks the browser to reload the subject list
type CatalogChangedMsg struct{}

type loadSubjectsMsg struct{}

type launchDoneMsg struct {
	launch *model.Launch
	err    error
}

// Options wires the browser to its collaborators
type Options struct {
	Selector  *browse.Selector
	Panel     *panel.Panel
	Submitter panel.Submitter
	Theme     Theme
	Modality  model.Modality
	Logger    *slog.Logger

	// OnChange is called with the selection after every user transition
	OnChange func(model.SelectionState)
}

// Model is the top-level bubbletea model
type Model struct {
	ctx       context.Context
	sel       *browse.Selector
	panel     *panel.Panel
	submitter panel.Submitter
	theme     Theme
	logger    *slog.Logger
	onChange  func(model.SelectionState)

	subject  string
	modality model.Modality
	focus    browse.Field

	files    viewport.Model
	help     HelpOverlayModel
	overlay  *StageSelectorModel
	form     *PanelFormModel
	prompt   *PathInputModel
	overlayF browse.Field

	status      string
	statusError bool
	running     bool
	lastHeader  string

	width    int
	height   int
	quitting bool

	copyToClipboard func(string) error
}

// NewModel creates the browser. The context bounds every backend call.
func NewModel(ctx context.Context, opts Options) *Model {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Theme.Renderer == nil {
		opts.Theme = DefaultTheme(nil)
	}
	if !opts.Modality.IsValid() {
		opts.Modality = model.DefaultModality
	}
	if opts.Panel == nil {
		opts.Panel = panel.New(nil, nil, opts.Logger)
	}

	m := &Model{
		ctx:             ctx,
		sel:             opts.Selector,
		panel:           opts.Panel,
		submitter:       opts.Submitter,
		theme:           opts.Theme,
		logger:          opts.Logger,
		onChange:        opts.OnChange,
		modality:        opts.Modality,
		focus:           browse.FieldSubject,
		files:           viewport.New(60, 5),
		help:            NewHelpOverlayModel(opts.Theme),
		width:           80,
		height:          24,
		copyToClipboard: clipboard.WriteAll,
	}

	m.sel.Observe(func(c browse.Change) {
		if c.Field == browse.FieldFiles {
			m.files.SetContent(m.sel.FilesText())
			m.files.GotoTop()
		}
	})
	return m
}

// Init implements tea.Model
func (m *Model) Init() tea.Cmd {
	return func() tea.Msg { return loadSubjectsMsg{} }
}

// Selection returns the current selection
func (m *Model) Selection() model.SelectionState {
	return m.sel.Selection()
}

// Params returns the current processing parameters
func (m *Model) Params() model.ParameterSet {
	return m.panel.Params()
}

// Quitting returns true once the user asked to leave
func (m *Model) Quitting() bool {
	return m.quitting
}

// Update implements tea.Model
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case loadSubjectsMsg, CatalogChangedMsg:
		if err := m.sel.LoadSubjects(m.ctx); err != nil {
			m.setError(err)
		} else if _, ok := msg.(CatalogChangedMsg); ok {
			m.setStatus(fmt.Sprintf("Catalog reloaded: %d subjects", m.sel.SubjectOptions().Len()-1))
		}
		return m, nil

	case launchDoneMsg:
		m.running = false
		m.handleLaunchDone(msg)
		return m, nil
	}

	if m.help.IsVisible() {
		var cmd tea.Cmd
		m.help, cmd = m.help.Update(msg)
		return m, cmd
	}
	if m.form != nil {
		return m, m.updateForm(msg)
	}
	if m.prompt != nil {
		return m, m.updatePrompt(msg)
	}

	key, ok := msg.(tea.KeyMsg)
	if !ok {
		if m.focus == browse.FieldFiles {
			var cmd tea.Cmd
			m.files, cmd = m.files.Update(msg)
			return m, cmd
		}
		return m, nil
	}

	if m.overlay != nil {
		m.updateOverlay(key.String())
		return m, nil
	}
	return m.handleKey(key)
}

func (m *Model) handleKey(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.String() {
	case "ctrl+c", "q":
		m.quitting = true
		return m, tea.Quit
	case "?":
		m.help.Toggle()
	case "tab":
		m.focus = (m.focus + 1) % (browse.FieldFiles + 1)
	case "shift+tab":
		m.focus = (m.focus + browse.FieldFiles) % (browse.FieldFiles + 1)
	case "enter":
		m.openOverlay(m.focus)
	case "m":
		m.toggleModality()
	case "y":
		m.copyFiles()
	case "p":
		m.form = NewPanelFormModel(m.panel.Params(), m.width-4)
		return m, m.form.Init()
	case "o":
		p := NewPathInputModel("Fit origin from header", m.lastHeader, m.theme)
		p.SetSize(m.width, m.height)
		m.prompt = &p
		return m, p.Init()
	case "x":
		return m, m.launch()
	default:
		if m.focus == browse.FieldFiles {
			var cmd tea.Cmd
			m.files, cmd = m.files.Update(key)
			return m, cmd
		}
	}
	return m, nil
}

func (m *Model) resize(width, height int) {
	m.width = width
	m.height = height
	m.help.SetSize(width, height)
	if m.overlay != nil {
		m.overlay.SetSize(width, height)
	}
	if m.form != nil {
		m.form.SetWidth(width - 4)
	}
	if m.prompt != nil {
		m.prompt.SetSize(width, height)
	}

	// header + three bordered fields + files border + status + footer
	filesHeight := height - 15
	if filesHeight < 3 {
		filesHeight = 3
	}
	m.files.Width = width - 4
	m.files.Height = filesHeight
}

func (m *Model) openOverlay(f browse.Field) {
	var (
		items   []SelectorItem
		current string
	)
	sel := m.sel.Selection()

	switch f {
	case browse.FieldSubject:
		for _, o := range m.sel.SubjectOptions().Options() {
			label := o.Label
			if label == model.SubjectSentinel {
				label = "(none)"
			}
			items = append(items, SelectorItem{Label: label, Value: o.Value})
		}
		current = m.subject
	case browse.FieldStudy:
		for _, o := range m.sel.StudyOptions().Options() {
			items = append(items, SelectorItem{Label: o.Label, Value: o.Value})
		}
		current = sel.Study
	case browse.FieldSeries:
		for _, o := range m.sel.SeriesOptions().Options() {
			items = append(items, SelectorItem{Label: o.Label, Value: strconv.Itoa(o.Value)})
		}
		current = strconv.Itoa(sel.SeriesID)
	default:
		return
	}

	o := NewStageSelectorModel(f.String(), items, current, m.theme)
	o.SetSize(m.width, m.height)
	m.overlay = &o
	m.overlayF = f
}

func (m *Model) updateOverlay(key string) {
	m.overlay.Update(key)
	switch {
	case m.overlay.IsConfirmed():
		item := m.overlay.SelectedItem()
		field := m.overlayF
		m.overlay = nil
		if item != nil {
			m.choose(field, item.Value)
		}
	case m.overlay.IsCancelled():
		m.overlay = nil
	}
}

// choose runs the transition for a value picked in field
func (m *Model) choose(field browse.Field, value string) {
	var err error
	switch field {
	case browse.FieldSubject:
		// The selector ignores the empty subject, so the header keeps the
		// subject it still holds
		if value == model.SubjectSentinel {
			if m.subject != model.SubjectSentinel {
				m.setStatus("Subject unchanged: " + m.subject)
			}
			return
		}
		m.subject = value
		err = m.sel.SubjectOrModalityChanged(m.ctx, value, m.modality)
	case browse.FieldStudy:
		err = m.sel.StudyChanged(m.ctx, value)
	case browse.FieldSeries:
		id, convErr := strconv.Atoi(value)
		if convErr != nil {
			err = convErr
			break
		}
		err = m.sel.SeriesChanged(m.ctx, id)
	}
	m.afterTransition(err)
	if err == nil && field < browse.FieldFiles {
		m.focus = field + 1
	}
}

func (m *Model) toggleModality() {
	next := model.ModalityMEG
	if m.modality == model.ModalityMEG {
		next = model.ModalityMR
	}
	m.modality = next
	if m.subject == model.SubjectSentinel {
		m.setStatus("Modality: " + string(next))
		return
	}
	m.afterTransition(m.sel.SubjectOrModalityChanged(m.ctx, m.subject, next))
}

func (m *Model) afterTransition(err error) {
	if err != nil {
		var lookupErr *browse.LookupError
		if errors.As(err, &lookupErr) {
			m.logger.Error("series lookup failed", "error", err)
		}
		m.setError(err)
	} else {
		m.status = ""
		m.statusError = false
	}
	if m.onChange != nil {
		m.onChange(m.sel.Selection())
	}
}

func (m *Model) copyFiles() {
	files := m.sel.Selection().Files
	if len(files) == 0 {
		m.setStatus("No files to copy")
		return
	}
	if err := m.copyToClipboard(strings.Join(files, "\n")); err != nil {
		m.setError(fmt.Errorf("copy to clipboard: %w", err))
		return
	}
	m.setStatus(fmt.Sprintf("Copied %d file paths", len(files)))
}

func (m *Model) updateForm(msg tea.Msg) tea.Cmd {
	cmd := m.form.Update(msg)
	if !m.form.Done() {
		return cmd
	}
	defer func() { m.form = nil }()

	if m.form.Cancelled() {
		m.setStatus("Parameters unchanged")
		return nil
	}
	params, err := m.form.Result()
	if err == nil {
		err = m.panel.Replace(params)
	}
	if err != nil {
		m.setError(err)
		return nil
	}
	m.setStatus("Parameters updated")
	return nil
}

func (m *Model) updatePrompt(msg tea.Msg) tea.Cmd {
	p, cmd := m.prompt.Update(msg)
	m.prompt = &p
	switch {
	case p.IsCancelled():
		m.prompt = nil
	case p.IsSubmitted():
		m.prompt = nil
		m.lastHeader = p.Value()
		origin, err := m.panel.FitOrigin(m.ctx, p.Value())
		if err != nil {
			m.setError(err)
		} else {
			m.setStatus("Origin set to " + origin.String() + " mm")
		}
		return nil
	}
	return cmd
}

func (m *Model) launch() tea.Cmd {
	if m.running {
		m.setStatus("A processing command is already running")
		return nil
	}
	if !m.sel.Complete() {
		m.setStatus("Choose a series first")
		return nil
	}
	if m.submitter == nil {
		m.setStatus("No processing command configured")
		return nil
	}
	params := m.panel.Params()
	if err := params.Validate(); err != nil {
		m.setError(err)
		return nil
	}

	m.running = true
	m.setStatus("Running...")
	ctx, sub, sel := m.ctx, m.submitter, m.sel.Selection()
	return func() tea.Msg {
		l, err := sub.Launch(ctx, sel, params)
		return launchDoneMsg{launch: l, err: err}
	}
}

func (m *Model) handleLaunchDone(msg launchDoneMsg) {
	var exitErr *batch.ExitError
	switch {
	case errors.As(msg.err, &exitErr):
		m.setError(fmt.Errorf("command exited with code %d", exitErr.Code))
	case msg.err != nil:
		m.setError(msg.err)
	case msg.launch != nil:
		m.setStatus(fmt.Sprintf("Processed %d files", len(msg.launch.Files)))
	}
}

func (m *Model) setStatus(s string) {
	m.status = s
	m.statusError = false
}

func (m *Model) setError(err error) {
	m.logger.Warn("browser error", "error", err)
	m.status = err.Error()
	m.statusError = true
}

// View implements tea.Model
func (m *Model) View() string {
	if m.quitting {
		return ""
	}
	place := func(s string) string {
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, s)
	}
	switch {
	case m.help.IsVisible():
		return place(m.help.View())
	case m.overlay != nil:
		return m.overlay.View()
	case m.form != nil:
		return place(m.form.View())
	case m.prompt != nil:
		return place(m.prompt.View())
	}

	t := m.theme
	sel := m.sel.Selection()
	inner := m.width - 4
	if inner < 20 {
		inner = 20
	}

	var b strings.Builder
	titleStyle := t.Renderer.NewStyle().Bold(true).Foreground(t.Primary)
	modStyle := t.Renderer.NewStyle().Foreground(t.Info)
	b.WriteString(titleStyle.Render("Study Browser") + "  " + modStyle.Render("["+string(m.modality)+"]"))
	b.WriteString("\n")

	subject := sel.SubjectID
	if subject == "" {
		subject = "(none)"
	}
	study := sel.Study
	if study == "" {
		study = model.StudySentinel
	}
	series := sel.SeriesName
	if series == "" {
		series = model.SeriesSentinelLabel
	}

	b.WriteString(m.renderField(browse.FieldSubject, "Subject", subject, m.sel.SubjectOptions().Len()-1, inner) + "\n")
	b.WriteString(m.renderField(browse.FieldStudy, "Study", study, m.sel.StudyOptions().Len()-1, inner) + "\n")
	b.WriteString(m.renderField(browse.FieldSeries, "Series", series, m.sel.SeriesOptions().Len()-1, inner) + "\n")

	filesStyle := t.PanelStyle()
	if m.focus == browse.FieldFiles {
		filesStyle = t.FocusedPanelStyle()
	}
	b.WriteString(filesStyle.Width(inner + 2).Render(m.files.View()))
	b.WriteString("\n")

	statusStyle := t.Renderer.NewStyle().Foreground(t.Subtext)
	if m.statusError {
		statusStyle = statusStyle.Foreground(t.Danger)
	}
	b.WriteString(statusStyle.Render(truncate(m.status, m.width)))
	b.WriteString("\n")

	footerStyle := t.Renderer.NewStyle().Faint(true)
	b.WriteString(footerStyle.Render(truncate("tab: field • enter: choose • m: modality • p: parameters • x: run • y: copy • ?: help • q: quit", m.width)))
	return b.String()
}

func (m *Model) renderField(f browse.Field, name, value string, count int, width int) string {
	t := m.theme
	style := t.PanelStyle()
	nameStyle := t.Renderer.NewStyle().Foreground(t.Secondary).Bold(true)
	if m.focus == f {
		style = t.FocusedPanelStyle()
		nameStyle = nameStyle.Foreground(t.Primary)
	}
	if count < 0 {
		count = 0
	}

	countText := fmt.Sprintf("%d options", count)
	label := padRight(name, 9)
	valueWidth := width - len(label) - len(countText) - 2
	line := nameStyle.Render(label) + padRight(truncate(value, valueWidth), valueWidth) + "  " +
		t.Renderer.NewStyle().Foreground(t.Subtext).Render(countText)
	return style.Width(width + 2).Render(line)
}
