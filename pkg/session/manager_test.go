package session

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/meeg-cfin/studybrowser/pkg/model"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "nested", "history.db")
	m, err := NewManager(DriverPure, dbPath, quietLogger())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func completeSelection() model.SelectionState {
	sel := model.NewSelectionState()
	sel.SubjectID = "0001_ABC"
	sel.Study = "20200101_000000"
	sel.SeriesID = 3
	sel.SeriesName = "rest"
	sel.Files = []string{"/raw/rest.fif", "/raw/rest-1.fif"}
	return sel
}

func TestOpenDB_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "a", "b", "history.db")
	db, err := OpenDB("", dbPath)
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("database file not created: %v", err)
	}
}

func TestOpenDB_RejectsUnknownDriver(t *testing.T) {
	_, err := OpenDB("postgres", filepath.Join(t.TempDir(), "x.db"))
	if err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestManager_SessionLifecycle(t *testing.T) {
	m := newTestManager(t)

	if err := m.RecordSelection(completeSelection()); err != nil {
		t.Errorf("RecordSelection without session should be a no-op, got %v", err)
	}

	if err := m.StartSession("alice"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	s := m.CurrentSession()
	if s == nil || s.ID == 0 {
		t.Fatalf("expected active session, got %+v", s)
	}
	if s.Stage != model.StageEmpty {
		t.Errorf("new session stage = %v, want empty", s.Stage)
	}

	sel := completeSelection()
	if err := m.CompleteSession(sel); err != nil {
		t.Fatalf("CompleteSession: %v", err)
	}

	got, err := m.db.GetSession(s.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt not stored")
	}
	if got.User != "alice" {
		t.Errorf("User = %q, want alice", got.User)
	}
	if got.Stage != model.StageSeriesChosen {
		t.Errorf("Stage = %v, want series chosen", got.Stage)
	}
	if got.Selection.SeriesName != "rest" || len(got.Selection.Files) != 2 {
		t.Errorf("selection not round-tripped: %+v", got.Selection)
	}
	if time.Since(got.StartedAt) > time.Minute {
		t.Errorf("StartedAt looks wrong: %v", got.StartedAt)
	}
}

func TestManager_RecordLaunch(t *testing.T) {
	m := newTestManager(t)
	if err := m.StartSession("bob"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	finished := time.Now()
	launches := []*model.Launch{
		{
			ID:         "11111111-1111-1111-1111-111111111111",
			SubjectID:  "0001_ABC",
			Study:      "20200101_000000",
			SeriesID:   3,
			Argv:       []string{"maxfilter", "-f", "/raw/rest.fif"},
			Files:      []string{"/raw/rest.fif"},
			ExitCode:   0,
			Output:     "done",
			StartedAt:  finished.Add(-2 * time.Second),
			FinishedAt: &finished,
		},
		{
			ID:        "22222222-2222-2222-2222-222222222222",
			SubjectID: "0001_ABC",
			Study:     "20200101_000000",
			SeriesID:  4,
			Argv:      []string{"maxfilter"},
			Files:     []string{},
			ExitCode:  model.LaunchExitUnknown,
			StartedAt: finished.Add(-time.Second),
		},
	}
	for _, l := range launches {
		if err := m.RecordLaunch(l); err != nil {
			t.Fatalf("RecordLaunch(%s): %v", l.ID, err)
		}
		if l.SessionID != m.CurrentSession().ID {
			t.Errorf("launch session id = %d, want %d", l.SessionID, m.CurrentSession().ID)
		}
	}
	if m.CurrentSession().Launches != 2 {
		t.Errorf("session launch count = %d, want 2", m.CurrentSession().Launches)
	}

	got, err := m.Launches()
	if err != nil {
		t.Fatalf("Launches: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 launches, got %d", len(got))
	}
	if got[0].ID != launches[0].ID {
		t.Errorf("launches not ordered by start time: %s first", got[0].ID)
	}
	if !got[0].Succeeded() {
		t.Error("first launch should report success")
	}
	if got[1].Succeeded() || got[1].FinishedAt != nil {
		t.Error("unfinished launch should not report success")
	}
	if len(got[0].Argv) != 3 || got[0].Argv[2] != "/raw/rest.fif" {
		t.Errorf("argv not round-tripped: %v", got[0].Argv)
	}
}

func TestManager_History(t *testing.T) {
	m := newTestManager(t)
	for _, user := range []string{"a", "b", "c"} {
		if err := m.StartSession(user); err != nil {
			t.Fatalf("StartSession(%s): %v", user, err)
		}
	}

	history, err := m.History(2)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(history))
	}
	if history[0].User != "c" || history[1].User != "b" {
		t.Errorf("history order = %s,%s; want c,b", history[0].User, history[1].User)
	}
}

func TestTryStartSession(t *testing.T) {
	dir := t.TempDir()

	m := TryStartSession(DriverPure, filepath.Join(dir, "history.db"), "carol", quietLogger())
	if m == nil {
		t.Fatal("expected manager")
	}
	defer m.Close()
	if m.CurrentSession() == nil {
		t.Error("expected started session")
	}

	// A regular file where the directory should be makes the open fail
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if got := TryStartSession(DriverPure, filepath.Join(blocker, "history.db"), "carol", quietLogger()); got != nil {
		got.Close()
		t.Error("expected nil manager when the store cannot be opened")
	}
}
