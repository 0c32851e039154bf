package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"time"

	"github.com/google/uuid"

	"github.com/meeg-cfin/studybrowser/pkg/model"
)

// MaxOutputSize is the max bytes of combined output kept per launch (64KB).
const MaxOutputSize = 64 * 1024

// ExitError reports a command that ran but exited non-zero
type ExitError struct {
	Argv   []string
	Code   int
	Output string
}

func (e *ExitError) Error() string {
	name := ""
	if len(e.Argv) > 0 {
		name = e.Argv[0]
	}
	return fmt.Sprintf("batch: %s exited with code %d", name, e.Code)
}

// Recorder stores launch records
type Recorder interface {
	RecordLaunch(l *model.Launch) error
}

// Launcher builds and runs batch commands
type Launcher struct {
	builder  Builder
	recorder Recorder
	logger   *slog.Logger

	// For testing: allow overriding execution and the clock
	runCommand func(ctx context.Context, argv []string) (output []byte, exitCode int, err error)
	now        func() time.Time
}

// LauncherOption configures a Launcher
type LauncherOption func(*Launcher)

// WithRecorder stores every launch through r
func WithRecorder(r Recorder) LauncherOption {
	return func(l *Launcher) {
		l.recorder = r
	}
}

// WithLauncherLogger sets the logger
func WithLauncherLogger(logger *slog.Logger) LauncherOption {
	return func(l *Launcher) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLauncher creates a Launcher using builder
func NewLauncher(builder Builder, opts ...LauncherOption) *Launcher {
	l := &Launcher{
		builder:    builder,
		logger:     slog.Default(),
		runCommand: defaultRunCommand,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Launch runs the command for a complete selection. The returned Launch is
// populated even when the command fails.
func (l *Launcher) Launch(ctx context.Context, sel model.SelectionState, params model.ParameterSet) (*model.Launch, error) {
	if sel.Stage() != model.StageSeriesChosen {
		return nil, fmt.Errorf("batch: selection incomplete (%s)", sel.Stage())
	}
	argv, err := l.builder.Build(sel.Files, params)
	if err != nil {
		return nil, err
	}

	launch := &model.Launch{
		ID:        uuid.NewString(),
		SubjectID: sel.SubjectID,
		Study:     sel.Study,
		SeriesID:  sel.SeriesID,
		Argv:      argv,
		Files:     append([]string(nil), sel.Files...),
		ExitCode:  model.LaunchExitUnknown,
		StartedAt: l.now(),
	}
	l.logger.Info("launching batch command", "launch", launch.ID, "argv", argv)

	out, code, runErr := l.runCommand(ctx, argv)
	finished := l.now()
	launch.ExitCode = code
	launch.Output = string(out)
	if runErr == nil {
		launch.FinishedAt = &finished
	}

	if l.recorder != nil {
		if err := l.recorder.RecordLaunch(launch); err != nil {
			l.logger.Warn("failed to record launch", "launch", launch.ID, "error", err)
		}
	}

	if runErr != nil {
		return launch, fmt.Errorf("batch: run %s: %w", argv[0], runErr)
	}
	if code != 0 {
		return launch, &ExitError{Argv: argv, Code: code, Output: launch.Output}
	}
	l.logger.Info("batch command finished", "launch", launch.ID, "elapsed", finished.Sub(launch.StartedAt))
	return launch, nil
}

// defaultRunCommand executes argv. A process that started and exited
// non-zero is reported through the exit code, not the error.
func defaultRunCommand(ctx context.Context, argv []string) ([]byte, int, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)

	var out bytes.Buffer
	w := &limitedWriter{w: &out, limit: MaxOutputSize}
	cmd.Stdout = w
	cmd.Stderr = w

	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			return out.Bytes(), exitErr.ExitCode(), nil
		}
		return out.Bytes(), model.LaunchExitUnknown, err
	}
	return out.Bytes(), 0, nil
}

// limitedWriter wraps a writer and limits total bytes written.
type limitedWriter struct {
	w       io.Writer
	limit   int
	written int
}

func (lw *limitedWriter) Write(p []byte) (n int, err error) {
	remaining := lw.limit - lw.written
	if remaining <= 0 {
		return len(p), nil
	}
	toWrite := p
	if len(p) > remaining {
		toWrite = p[:remaining]
	}
	written, err := lw.w.Write(toWrite)
	lw.written += written
	if err != nil {
		return written, err
	}
	return len(p), nil
}
