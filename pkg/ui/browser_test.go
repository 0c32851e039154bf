package ui

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/meeg-cfin/studybrowser/pkg/batch"
	"github.com/meeg-cfin/studybrowser/pkg/browse"
	"github.com/meeg-cfin/studybrowser/pkg/model"
	"github.com/meeg-cfin/studybrowser/pkg/query"
)

const uiCatalog = `{"subject":"S2","modality":"MEG","study":"2021-05-05","series_id":1,"series":"rest","path":"/d/s2_rest.fif"}
{"subject":"S1","modality":"MEG","study":"2020-01-01","series_id":3,"series":"run1","path":"/d/f1.dat"}
{"subject":"S1","modality":"MEG","study":"2020-01-01","series_id":3,"series":"run1","path":"/d/f2.dat"}
{"subject":"S1","modality":"MEG","study":"2020-01-01","series_id":1,"series":"empty_room","path":"/d/er.dat"}
{"subject":"S1","modality":"MR","study":"2019-12-12","series_id":2,"series":"t1","path":"/d/t1.nii"}
{"subject":"S1","modality":"MEG","study":"2019-06-01","series_id":1,"series":"rest","path":"/d/old.dat"}
`

type recordingSubmitter struct {
	calls  int
	params model.ParameterSet
	err    error
}

func (s *recordingSubmitter) Launch(ctx context.Context, sel model.SelectionState, params model.ParameterSet) (*model.Launch, error) {
	s.calls++
	s.params = params
	if s.err != nil {
		return &model.Launch{Files: sel.Files}, s.err
	}
	return &model.Launch{ID: "l1", Files: sel.Files}, nil
}

type testHarness struct {
	m         *Model
	sub       *recordingSubmitter
	clipboard string
	changes   []model.SelectionState
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.jsonl")
	if err := os.WriteFile(path, []byte(uiCatalog), 0644); err != nil {
		t.Fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &testHarness{sub: &recordingSubmitter{}}
	h.m = NewModel(context.Background(), Options{
		Selector:  browse.New(query.NewCatalogService(path), browse.WithLogger(logger)),
		Submitter: h.sub,
		Theme:     DefaultTheme(lipgloss.NewRenderer(io.Discard)),
		Logger:    logger,
		OnChange: func(sel model.SelectionState) {
			h.changes = append(h.changes, sel)
		},
	})
	h.m.copyToClipboard = func(s string) error {
		h.clipboard = s
		return nil
	}
	h.send(tea.WindowSizeMsg{Width: 100, Height: 40})
	h.send(h.m.Init()())
	return h
}

func (h *testHarness) send(msg tea.Msg) tea.Cmd {
	_, cmd := h.m.Update(msg)
	return cmd
}

func (h *testHarness) press(keys ...string) tea.Cmd {
	var cmd tea.Cmd
	for _, k := range keys {
		cmd = h.send(keyMsg(k))
	}
	return cmd
}

func keyMsg(k string) tea.KeyMsg {
	switch k {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "shift+tab":
		return tea.KeyMsg{Type: tea.KeyShiftTab}
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "backspace":
		return tea.KeyMsg{Type: tea.KeyBackspace}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
}

// selectRun1 walks the cascade to S1 / 2020-01-01 / run1
func (h *testHarness) selectRun1(t *testing.T) {
	t.Helper()
	h.press("enter", "S", "1", "enter")
	if got := h.m.Selection().SubjectID; got != "S1" {
		t.Fatalf("subject = %q, want S1", got)
	}
	h.press("enter", "down", "enter")
	if got := h.m.Selection().Study; got != "2020-01-01" {
		t.Fatalf("study = %q, want 2020-01-01", got)
	}
	h.press("enter", "down", "down", "enter")
	if got := h.m.Selection().SeriesName; got != "run1" {
		t.Fatalf("series = %q, want run1", got)
	}
}

func TestBrowser_LoadsSubjectsOnInit(t *testing.T) {
	h := newHarness(t)
	if got := h.m.sel.SubjectOptions().Labels(); len(got) != 3 || got[1] != "S1" {
		t.Errorf("subject options = %v", got)
	}
}

func TestBrowser_CascadeThroughOverlays(t *testing.T) {
	h := newHarness(t)
	h.selectRun1(t)

	if !h.m.sel.Complete() {
		t.Fatal("selection should be complete")
	}
	if h.m.focus != browse.FieldFiles {
		t.Errorf("focus = %v, want files", h.m.focus)
	}
	if !strings.Contains(h.m.files.View(), "/d/f1.dat") {
		t.Errorf("files pane does not show files:\n%s", h.m.files.View())
	}
	if len(h.changes) != 3 {
		t.Errorf("OnChange called %d times, want 3", len(h.changes))
	}
	if last := h.changes[len(h.changes)-1]; last.SeriesID != 3 {
		t.Errorf("last change = %+v", last)
	}
}

func TestBrowser_OverlayEscapeKeepsSelection(t *testing.T) {
	h := newHarness(t)
	h.press("enter", "S", "1", "enter")
	h.press("shift+tab", "enter", "esc")
	if h.m.overlay != nil {
		t.Error("overlay should be closed")
	}
	if h.m.Selection().SubjectID != "S1" {
		t.Error("cancelled overlay changed the selection")
	}
}

func TestBrowser_ModalityToggleResetsDownstream(t *testing.T) {
	h := newHarness(t)
	h.selectRun1(t)

	h.press("m")
	sel := h.m.Selection()
	if sel.Modality != model.ModalityMR || sel.SubjectID != "S1" {
		t.Errorf("selection = %+v", sel)
	}
	if sel.Study != "" || sel.SeriesID != 0 || len(sel.Files) != 0 {
		t.Errorf("downstream not cleared: %+v", sel)
	}
	if got := h.m.sel.StudyOptions().Labels(); len(got) != 2 || got[1] != "2019-12-12" {
		t.Errorf("MR studies = %v", got)
	}
	if h.m.sel.FilesText() != "" {
		t.Error("files display should be empty")
	}
}

func TestBrowser_NoneSubjectKeepsSelectionInSync(t *testing.T) {
	h := newHarness(t)
	h.selectRun1(t)

	// Back to the subject field and pick "(none)"
	h.press("shift+tab", "shift+tab", "shift+tab", "enter", "up", "enter")
	if h.m.subject != "S1" {
		t.Errorf("subject = %q, want S1 kept", h.m.subject)
	}
	if h.m.Selection().SeriesID != 3 {
		t.Errorf("selection = %+v, want it untouched", h.m.Selection())
	}

	h.press("m")
	sel := h.m.Selection()
	if h.m.modality != model.ModalityMR || sel.Modality != model.ModalityMR || sel.SubjectID != "S1" {
		t.Errorf("header modality = %s, selection = %+v", h.m.modality, sel)
	}
	if sel.SeriesID != 0 {
		t.Errorf("modality toggle left series %d selected", sel.SeriesID)
	}
}

func TestBrowser_CopyFiles(t *testing.T) {
	h := newHarness(t)
	h.press("y")
	if h.clipboard != "" || h.m.status != "No files to copy" {
		t.Errorf("copy without files: clipboard=%q status=%q", h.clipboard, h.m.status)
	}

	h.selectRun1(t)
	h.press("y")
	if h.clipboard != "/d/f1.dat\n/d/f2.dat" {
		t.Errorf("clipboard = %q", h.clipboard)
	}
}

func TestBrowser_Launch(t *testing.T) {
	h := newHarness(t)
	if cmd := h.press("x"); cmd != nil || h.sub.calls != 0 {
		t.Fatal("launch should wait for a complete selection")
	}

	h.selectRun1(t)
	cmd := h.press("x")
	if cmd == nil {
		t.Fatal("expected launch command")
	}
	if h.press("x") != nil {
		t.Error("second launch while running should be refused")
	}

	h.send(cmd())
	if h.sub.calls != 1 {
		t.Errorf("submitter called %d times", h.sub.calls)
	}
	if h.sub.params.Origin != model.DefaultParameters().Origin {
		t.Errorf("params = %+v", h.sub.params)
	}
	if h.m.running || h.m.status != "Processed 2 files" {
		t.Errorf("running=%v status=%q", h.m.running, h.m.status)
	}

	h.sub.err = &batch.ExitError{Argv: []string{"mf"}, Code: 3}
	h.send(h.press("x")())
	if !h.m.statusError || !strings.Contains(h.m.status, "code 3") {
		t.Errorf("status = %q", h.m.status)
	}
}

func TestBrowser_PanelFormCancel(t *testing.T) {
	h := newHarness(t)
	h.press("p")
	if h.m.form == nil {
		t.Fatal("form should open")
	}
	if !strings.Contains(h.m.View(), "Origin") {
		t.Error("form view should be shown")
	}
	h.press("esc")
	if h.m.form != nil || h.m.status != "Parameters unchanged" {
		t.Errorf("form=%v status=%q", h.m.form, h.m.status)
	}
}

func TestBrowser_FitOriginPrompt(t *testing.T) {
	h := newHarness(t)

	var sb strings.Builder
	for _, theta := range []float64{0.4, 0.9, 1.3} {
		for _, phi := range []float64{0, 2, 4} {
			fmt.Fprintf(&sb, "extra head %g %g %g\n",
				80*math.Sin(theta)*math.Cos(phi),
				80*math.Sin(theta)*math.Sin(phi),
				45+80*math.Cos(theta))
		}
	}
	path := filepath.Join(t.TempDir(), "points.txt")
	if err := os.WriteFile(path, []byte(sb.String()), 0644); err != nil {
		t.Fatal(err)
	}

	h.press("o")
	if h.m.prompt == nil {
		t.Fatal("prompt should open")
	}
	h.press(path, "enter")
	if h.m.prompt != nil {
		t.Error("prompt should close")
	}
	if z := h.m.Params().Origin.Z; math.Abs(z-45) > 1e-6 {
		t.Errorf("origin z = %g, want 45 (status %q)", z, h.m.status)
	}
}

func TestBrowser_HelpToggle(t *testing.T) {
	h := newHarness(t)
	h.press("?")
	if !h.m.help.IsVisible() {
		t.Fatal("help should be visible")
	}
	if !strings.Contains(h.m.View(), "Press any key") {
		t.Error("help view missing hint")
	}
	h.press("j")
	if h.m.help.IsVisible() {
		t.Error("any key should close help")
	}
}

func TestBrowser_CatalogReload(t *testing.T) {
	h := newHarness(t)
	h.send(CatalogChangedMsg{})
	if !strings.Contains(h.m.status, "2 subjects") {
		t.Errorf("status = %q", h.m.status)
	}
}

func TestBrowser_Quit(t *testing.T) {
	h := newHarness(t)
	if cmd := h.press("q"); cmd == nil {
		t.Fatal("expected quit command")
	}
	if !h.m.Quitting() || h.m.View() != "" {
		t.Error("model should be quitting")
	}
}

func TestBrowser_ViewShowsFields(t *testing.T) {
	h := newHarness(t)
	h.selectRun1(t)
	view := h.m.View()
	for _, want := range []string{"Study Browser", "[MEG]", "S1", "2020-01-01", "run1"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}
