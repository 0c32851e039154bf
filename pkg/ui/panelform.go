package ui

import (
	"fmt"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"

	"github.com/meeg-cfin/studybrowser/pkg/model"
)

// panelValues is the string form of a ParameterSet that huh fields bind to
type panelValues struct {
	originX, originY, originZ string
	frame                     string
	badChannels               string
	badMode                   string
	temporalFilter            bool
	bufferSeconds             string
	correlationLimit          string
	moveComp                  bool
	moveCompTarget            string
	miscArgs                  string
}

func valuesFromParams(p model.ParameterSet) *panelValues {
	return &panelValues{
		originX:          formatNumber(p.Origin.X),
		originY:          formatNumber(p.Origin.Y),
		originZ:          formatNumber(p.Origin.Z),
		frame:            string(p.Frame),
		badChannels:      strings.Join(p.BadChannels, " "),
		badMode:          string(p.BadMode),
		temporalFilter:   p.TemporalFilter,
		bufferSeconds:    formatNumber(p.BufferSeconds),
		correlationLimit: formatNumber(p.CorrelationLimit),
		moveComp:         p.MoveComp,
		moveCompTarget:   p.MoveCompTarget,
		miscArgs:         p.MiscArgs,
	}
}

// params converts the form values back. Every field is parsed on its own.
func (v *panelValues) params() (model.ParameterSet, error) {
	var p model.ParameterSet
	var err error

	if p.Origin.X, err = parseNumber("origin x", v.originX); err != nil {
		return p, err
	}
	if p.Origin.Y, err = parseNumber("origin y", v.originY); err != nil {
		return p, err
	}
	if p.Origin.Z, err = parseNumber("origin z", v.originZ); err != nil {
		return p, err
	}
	p.Frame = model.Frame(v.frame)
	p.BadChannels = model.ParseChannelList(v.badChannels)
	p.BadMode = model.BadMode(v.badMode)
	p.TemporalFilter = v.temporalFilter
	if p.BufferSeconds, err = parseNumber("buffer length", v.bufferSeconds); err != nil {
		return p, err
	}
	if p.CorrelationLimit, err = parseNumber("correlation limit", v.correlationLimit); err != nil {
		return p, err
	}
	p.MoveComp = v.moveComp
	p.MoveCompTarget = v.moveCompTarget
	p.MiscArgs = v.miscArgs

	return p, p.Validate()
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func parseNumber(name, s string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not a number", name, s)
	}
	return f, nil
}

func validateNumber(s string) error {
	if _, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err != nil {
		return fmt.Errorf("enter a number")
	}
	return nil
}

// PanelFormModel edits the processing parameters in a huh form
type PanelFormModel struct {
	form   *huh.Form
	values *panelValues
	width  int

	cancelled bool
	result    model.ParameterSet
	err       error
}

// NewPanelFormModel builds the form prefilled with params
func NewPanelFormModel(params model.ParameterSet, width int) *PanelFormModel {
	v := valuesFromParams(params)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Origin x (mm)").Value(&v.originX).Validate(validateNumber),
			huh.NewInput().Title("Origin y (mm)").Value(&v.originY).Validate(validateNumber),
			huh.NewInput().Title("Origin z (mm)").Value(&v.originZ).Validate(validateNumber),
			huh.NewSelect[string]().
				Title("Frame").
				Options(huh.NewOptions(string(model.FrameHead), string(model.FrameDevice))...).
				Value(&v.frame),
		).Title("Origin"),
		huh.NewGroup(
			huh.NewInput().Title("Bad channels").Description("Space or comma separated").Value(&v.badChannels),
			huh.NewSelect[string]().
				Title("Bad channel detection").
				Options(huh.NewOptions(string(model.BadModeManual), string(model.BadModeAuto), string(model.BadModeBoth))...).
				Value(&v.badMode),
		).Title("Channels"),
		huh.NewGroup(
			huh.NewConfirm().Title("Temporal filter").Value(&v.temporalFilter),
			huh.NewInput().Title("Buffer length (s)").Value(&v.bufferSeconds).Validate(validateNumber),
			huh.NewInput().Title("Correlation limit").Value(&v.correlationLimit).Validate(validateNumber),
			huh.NewConfirm().Title("Movement compensation").Value(&v.moveComp),
			huh.NewSelect[string]().
				Title("Movement compensation target").
				Options(
					huh.NewOption("none", model.MoveCompTargetNone),
					huh.NewOption("head positions", model.MoveCompTargetHeadPos),
					huh.NewOption("initial position", model.MoveCompTargetInitial),
				).
				Value(&v.moveCompTarget),
			huh.NewText().Title("Extra arguments").Value(&v.miscArgs),
		).Title("Processing"),
	).
		WithTheme(huh.ThemeDracula()).
		WithShowHelp(true)

	m := &PanelFormModel{form: form, values: v}
	m.SetWidth(width)
	return m
}

// SetWidth limits the form width
func (m *PanelFormModel) SetWidth(width int) {
	if width <= 0 || width > 80 {
		width = 80
	}
	m.width = width
	m.form = m.form.WithWidth(width)
}

// Init implements tea.Model
func (m *PanelFormModel) Init() tea.Cmd {
	return m.form.Init()
}

// Update forwards msg to the form. Esc cancels.
func (m *PanelFormModel) Update(msg tea.Msg) tea.Cmd {
	if key, ok := msg.(tea.KeyMsg); ok && key.String() == "esc" {
		m.cancelled = true
		return nil
	}

	updated, cmd := m.form.Update(msg)
	if f, ok := updated.(*huh.Form); ok {
		m.form = f
	}
	switch m.form.State {
	case huh.StateCompleted:
		m.result, m.err = m.values.params()
	case huh.StateAborted:
		m.cancelled = true
	}
	return cmd
}

// View renders the form
func (m *PanelFormModel) View() string {
	return m.form.View()
}

// Done returns true once the form was submitted or cancelled
func (m *PanelFormModel) Done() bool {
	return m.cancelled || m.form.State == huh.StateCompleted
}

// Cancelled returns true if the form was abandoned
func (m *PanelFormModel) Cancelled() bool {
	return m.cancelled
}

// Result returns the parsed parameters after completion
func (m *PanelFormModel) Result() (model.ParameterSet, error) {
	return m.result, m.err
}
