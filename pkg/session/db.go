package session

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/meeg-cfin/studybrowser/pkg/model"
)

// Driver names accepted by OpenDB
const (
	DriverCGo  = "sqlite3" // github.com/mattn/go-sqlite3
	DriverPure = "sqlite"  // modernc.org/sqlite
)

// DB handles browse history persistence
type DB struct {
	db *sql.DB
}

// OpenDB opens or creates the history database at the given path
func OpenDB(driver, dbPath string) (*DB, error) {
	switch driver {
	case "":
		driver = DriverPure
	case DriverCGo, DriverPure:
	default:
		return nil, fmt.Errorf("unsupported sqlite driver: %q", driver)
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open(driver, dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sdb := &DB{db: db}
	if err := sdb.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return sdb, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS browse_sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user TEXT NOT NULL,
		started_at TEXT NOT NULL,
		completed_at TEXT,
		selection TEXT DEFAULT '{}',
		stage INTEGER DEFAULT 0,
		launches INTEGER DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS launches (
		id TEXT PRIMARY KEY,
		session_id INTEGER NOT NULL,
		subject_id TEXT NOT NULL,
		study TEXT NOT NULL,
		series_id INTEGER NOT NULL,
		argv TEXT NOT NULL,
		files TEXT NOT NULL,
		exit_code INTEGER DEFAULT -1,
		output TEXT DEFAULT '',
		started_at TEXT NOT NULL,
		finished_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_launches_session ON launches(session_id);
	`

	_, err := d.db.Exec(schema)
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// StartSession creates a new browse session
func (d *DB) StartSession(user string) (*model.BrowseSession, error) {
	now := time.Now()
	sel := model.NewSelectionState()
	selJSON, err := json.Marshal(sel)
	if err != nil {
		return nil, err
	}

	result, err := d.db.Exec(`
		INSERT INTO browse_sessions (user, started_at, selection)
		VALUES (?, ?, ?)
	`, user, formatTime(now), string(selJSON))
	if err != nil {
		return nil, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	return &model.BrowseSession{
		ID:        id,
		User:      user,
		StartedAt: now,
		Selection: sel,
	}, nil
}

// UpdateSelection stores the latest selection of a session
func (d *DB) UpdateSelection(session *model.BrowseSession) error {
	selJSON, err := json.Marshal(session.Selection)
	if err != nil {
		return err
	}
	_, err = d.db.Exec(`
		UPDATE browse_sessions
		SET selection = ?, stage = ?, launches = ?
		WHERE id = ?
	`, string(selJSON), int(session.Stage), session.Launches, session.ID)
	return err
}

// CompleteSession marks a session as complete
func (d *DB) CompleteSession(session *model.BrowseSession) error {
	now := time.Now()
	session.CompletedAt = &now
	selJSON, err := json.Marshal(session.Selection)
	if err != nil {
		return err
	}
	_, err = d.db.Exec(`
		UPDATE browse_sessions
		SET completed_at = ?, selection = ?, stage = ?, launches = ?
		WHERE id = ?
	`, formatTime(now), string(selJSON), int(session.Stage), session.Launches, session.ID)
	return err
}

const sessionColumns = `id, user, started_at, completed_at, selection, stage, launches`

func scanSession(row interface{ Scan(...any) error }) (*model.BrowseSession, error) {
	var (
		s           model.BrowseSession
		startedAt   string
		completedAt sql.NullString
		selJSON     string
		stage       int
	)
	if err := row.Scan(&s.ID, &s.User, &startedAt, &completedAt, &selJSON, &stage, &s.Launches); err != nil {
		return nil, err
	}

	var err error
	if s.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, fmt.Errorf("session %d started_at: %w", s.ID, err)
	}
	if s.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, fmt.Errorf("session %d completed_at: %w", s.ID, err)
	}
	if err := json.Unmarshal([]byte(selJSON), &s.Selection); err != nil {
		return nil, fmt.Errorf("session %d selection: %w", s.ID, err)
	}
	s.Stage = model.Stage(stage)
	return &s, nil
}

// GetSession retrieves a session by ID
func (d *DB) GetSession(id int64) (*model.BrowseSession, error) {
	row := d.db.QueryRow(`SELECT `+sessionColumns+` FROM browse_sessions WHERE id = ?`, id)
	return scanSession(row)
}

// RecentSessions returns the newest sessions first
func (d *DB) RecentSessions(limit int) ([]model.BrowseSession, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.db.Query(`SELECT `+sessionColumns+` FROM browse_sessions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []model.BrowseSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

// CreateLaunch inserts a launch record
func (d *DB) CreateLaunch(l *model.Launch) error {
	argv, err := json.Marshal(l.Argv)
	if err != nil {
		return err
	}
	files, err := json.Marshal(l.Files)
	if err != nil {
		return err
	}

	var finished any
	if l.FinishedAt != nil {
		finished = formatTime(*l.FinishedAt)
	}

	_, err = d.db.Exec(`
		INSERT INTO launches (id, session_id, subject_id, study, series_id, argv, files, exit_code, output, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, l.ID, l.SessionID, l.SubjectID, l.Study, l.SeriesID, string(argv), string(files), l.ExitCode, l.Output, formatTime(l.StartedAt), finished)
	return err
}

// GetLaunchesForSession returns the launches of one session, oldest first
func (d *DB) GetLaunchesForSession(sessionID int64) ([]model.Launch, error) {
	rows, err := d.db.Query(`
		SELECT id, session_id, subject_id, study, series_id, argv, files, exit_code, output, started_at, finished_at
		FROM launches
		WHERE session_id = ?
		ORDER BY started_at ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var launches []model.Launch
	for rows.Next() {
		var (
			l          model.Launch
			argv       string
			files      string
			startedAt  string
			finishedAt sql.NullString
		)
		if err := rows.Scan(&l.ID, &l.SessionID, &l.SubjectID, &l.Study, &l.SeriesID, &argv, &files, &l.ExitCode, &l.Output, &startedAt, &finishedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(argv), &l.Argv); err != nil {
			return nil, fmt.Errorf("launch %s argv: %w", l.ID, err)
		}
		if err := json.Unmarshal([]byte(files), &l.Files); err != nil {
			return nil, fmt.Errorf("launch %s files: %w", l.ID, err)
		}
		if l.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, fmt.Errorf("launch %s started_at: %w", l.ID, err)
		}
		if l.FinishedAt, err = parseNullTime(finishedAt); err != nil {
			return nil, fmt.Errorf("launch %s finished_at: %w", l.ID, err)
		}
		launches = append(launches, l)
	}
	return launches, rows.Err()
}
