package model

import "time"

// BrowseSession groups the selections made in one run of the browser
type BrowseSession struct {
	ID          int64          `json:"id"`
	User        string         `json:"user"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Selection   SelectionState `json:"selection"`
	Stage       Stage          `json:"stage"`
	Launches    int            `json:"launches"`
}

// Launch records one invocation of the batch-processing command
type Launch struct {
	ID         string     `json:"id"`
	SessionID  int64      `json:"session_id"`
	SubjectID  string     `json:"subject_id"`
	Study      string     `json:"study"`
	SeriesID   int        `json:"series_id"`
	Argv       []string   `json:"argv"`
	Files      []string   `json:"files"`
	ExitCode   int        `json:"exit_code"`
	Output     string     `json:"output,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Launch status helpers
const (
	LaunchExitUnknown = -1
)

// Succeeded returns true if the command finished with exit code 0
func (l *Launch) Succeeded() bool {
	return l.FinishedAt != nil && l.ExitCode == 0
}
