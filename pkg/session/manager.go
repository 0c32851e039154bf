// Package session persists browse sessions and batch launches in SQLite.
package session

import (
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/meeg-cfin/studybrowser/pkg/model"
)

// Manager handles browse session lifecycle. It is safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	db      *DB
	session *model.BrowseSession
	dbPath  string
	logger  *slog.Logger
}

// NewManager opens the store at dbPath with the given driver
func NewManager(driver, dbPath string, logger *slog.Logger) (*Manager, error) {
	db, err := OpenDB(driver, dbPath)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		db:     db,
		dbPath: dbPath,
		logger: logger,
	}, nil
}

// StartSession creates a new browse session for user
func (m *Manager) StartSession(user string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, err := m.db.StartSession(user)
	if err != nil {
		return err
	}
	m.session = session
	return nil
}

// CurrentSession returns the active session, nil before StartSession
func (m *Manager) CurrentSession() *model.BrowseSession {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.session
}

// RecordSelection stores the latest selection of the active session
func (m *Manager) RecordSelection(sel model.SelectionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return nil
	}
	m.session.Selection = sel.Clone()
	m.session.Stage = sel.Stage()
	return m.db.UpdateSelection(m.session)
}

// RecordLaunch stores a launch under the active session
func (m *Manager) RecordLaunch(l *model.Launch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil {
		l.SessionID = m.session.ID
	}
	if err := m.db.CreateLaunch(l); err != nil {
		return err
	}

	if m.session != nil {
		m.session.Launches++
		if err := m.db.UpdateSelection(m.session); err != nil {
			m.logger.Warn("failed to update session launch count", "session", m.session.ID, "error", err)
		}
	}
	return nil
}

// Launches returns the launches of the active session
func (m *Manager) Launches() ([]model.Launch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return nil, nil
	}
	return m.db.GetLaunchesForSession(m.session.ID)
}

// History returns up to limit recent sessions, newest first
func (m *Manager) History(limit int) ([]model.BrowseSession, error) {
	return m.db.RecentSessions(limit)
}

// CompleteSession records the terminal selection and closes the session
func (m *Manager) CompleteSession(sel model.SelectionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return nil
	}
	m.session.Selection = sel.Clone()
	m.session.Stage = sel.Stage()
	return m.db.CompleteSession(m.session)
}

// Close closes the database connection
func (m *Manager) Close() error {
	return m.db.Close()
}

// DefaultDBPath returns the default history database path
func DefaultDBPath() string {
	return filepath.Join(".sbrowse", "history.db")
}

// TryStartSession opens the store and starts a session. Failures are logged
// and nil is returned so the browser keeps working without history.
func TryStartSession(driver, dbPath, user string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if dbPath == "" {
		dbPath = DefaultDBPath()
	}

	m, err := NewManager(driver, dbPath, logger)
	if err != nil {
		logger.Warn("could not open history database", "path", dbPath, "error", err)
		return nil
	}

	if err := m.StartSession(user); err != nil {
		logger.Warn("could not start browse session", "error", err)
		m.Close()
		return nil
	}

	return m
}
