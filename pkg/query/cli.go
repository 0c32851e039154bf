package query

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/meeg-cfin/studybrowser/pkg/model"
)

// DefaultQueryTimeout is the default timeout for one tool invocation.
const DefaultQueryTimeout = 10 * time.Second

// MaxOutputSize is the max bytes read from the tool's stdout (4MB).
const MaxOutputSize = 4 * 1024 * 1024

// MaxConcurrentQueries limits concurrent tool processes.
const MaxConcurrentQueries = 2

// CLIService runs an external database tool in JSON mode.
//
// The tool is invoked as
//
//	<tool> [extra...] subjects --json
//	<tool> [extra...] studies <subject> --modality <m> [--unique] --json
//	<tool> [extra...] series <subject> <study> --modality <m> --json
//	<tool> [extra...] files <subject> <study> <series> --modality <m> --json
type CLIService struct {
	tool      string
	extraArgs []string
	timeout   time.Duration
	sem       *semaphore.Weighted

	// For testing: allow overriding tool lookup and execution
	lookPath   func(file string) (string, error)
	runCommand func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// CLIOption configures a CLIService.
type CLIOption func(*CLIService)

// WithTimeout sets the per-call timeout.
func WithTimeout(timeout time.Duration) CLIOption {
	return func(s *CLIService) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// WithExtraArgs adds arguments placed before the sub-command.
func WithExtraArgs(args ...string) CLIOption {
	return func(s *CLIService) {
		s.extraArgs = append(s.extraArgs, args...)
	}
}

// WithMaxConcurrent overrides MaxConcurrentQueries.
func WithMaxConcurrent(n int) CLIOption {
	return func(s *CLIService) {
		if n > 0 {
			s.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// NewCLIService creates a service backed by the named tool.
func NewCLIService(tool string, opts ...CLIOption) *CLIService {
	s := &CLIService{
		tool:       tool,
		timeout:    DefaultQueryTimeout,
		sem:        semaphore.NewWeighted(MaxConcurrentQueries),
		lookPath:   exec.LookPath,
		runCommand: defaultRunCommand,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Available reports whether the tool can be found.
func (s *CLIService) Available() bool {
	_, err := s.lookPath(s.tool)
	return err == nil
}

// Subjects implements Service.
func (s *CLIService) Subjects(ctx context.Context) ([]string, error) {
	out, err := s.run(ctx, "subjects")
	if err != nil {
		return nil, err
	}
	r := model.DecodeResult(out)
	if r.Shape() == model.ShapeMalformed {
		return nil, fmt.Errorf("subjects: %w", ErrBadResponse)
	}
	return r.Normalize(), nil
}

// Studies implements Service.
func (s *CLIService) Studies(ctx context.Context, subjectID string, modality model.Modality, unique bool) (model.Result, error) {
	args := []string{"studies", subjectID, "--modality", string(modality)}
	if unique {
		args = append(args, "--unique")
	}
	out, err := s.run(ctx, args...)
	if err != nil {
		return model.Malformed(), err
	}
	return model.DecodeResult(out), nil
}

// Series implements Service.
func (s *CLIService) Series(ctx context.Context, subjectID, study string, modality model.Modality) ([]model.Option[int], error) {
	out, err := s.run(ctx, "series", subjectID, study, "--modality", string(modality))
	if err != nil {
		return nil, err
	}
	series, err := decodeSeries(out)
	if err != nil {
		return nil, fmt.Errorf("series: %w", err)
	}
	return series, nil
}

// Files implements Service.
func (s *CLIService) Files(ctx context.Context, subjectID, study string, modality model.Modality, seriesID int) (model.Result, error) {
	out, err := s.run(ctx, "files", subjectID, study, strconv.Itoa(seriesID), "--modality", string(modality))
	if err != nil {
		return model.Malformed(), err
	}
	return model.DecodeResult(out), nil
}

func (s *CLIService) run(ctx context.Context, args ...string) ([]byte, error) {
	if !s.Available() {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, s.tool)
	}

	// Acquire semaphore to limit concurrent processes
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for query slot: %w", err)
	}
	defer s.sem.Release(1)

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	full := make([]string, 0, len(s.extraArgs)+len(args)+1)
	full = append(full, s.extraArgs...)
	full = append(full, args...)
	full = append(full, "--json")

	out, err := s.runCommand(callCtx, s.tool, full...)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s %s timed out after %s", s.tool, args[0], s.timeout)
		}
		return nil, fmt.Errorf("%s %s failed: %w", s.tool, args[0], err)
	}
	return out, nil
}

// decodeSeries accepts either a JSON object {"label": id, ...}, whose key
// order is preserved, or a list of {"label": ..., "id": ...} records.
func decodeSeries(data []byte) ([]model.Option[int], error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return []model.Option[int]{}, nil
	}

	if data[0] == '[' {
		var records []struct {
			Label string `json:"label"`
			ID    int    `json:"id"`
		}
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
		}
		series := make([]model.Option[int], 0, len(records))
		for _, r := range records {
			if r.ID < 0 {
				return nil, fmt.Errorf("%w: series %q has negative id %d", ErrBadResponse, r.Label, r.ID)
			}
			series = append(series, model.Option[int]{Label: r.Label, Value: r.ID})
		}
		return series, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("%w: expected object, got %v", ErrBadResponse, tok)
	}

	series := []model.Option[int]{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
		}
		label, _ := keyTok.(string)

		// IDs arrive as numbers or numeric strings
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
		}
		id, err := parseSeriesID(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: series %q: %v", ErrBadResponse, label, err)
		}
		series = append(series, model.Option[int]{Label: label, Value: id})
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return series, nil
}

// parseSeriesID accepts a non-negative number or numeric string.
func parseSeriesID(raw json.RawMessage) (int, error) {
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
		if n, err = strconv.Atoi(s); err != nil {
			return 0, err
		}
	}
	if n < 0 {
		return 0, fmt.Errorf("negative id %d", n)
	}
	return n, nil
}

// defaultRunCommand executes a command and returns its stdout.
func defaultRunCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdout, limit: MaxOutputSize}
	cmd.Stderr = &limitedWriter{w: &stderr, limit: 4096}

	if err := cmd.Run(); err != nil {
		if msg := bytes.TrimSpace(stderr.Bytes()); len(msg) > 0 {
			return nil, fmt.Errorf("%v: %s", err, msg)
		}
		return nil, err
	}

	return stdout.Bytes(), nil
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
		return len(p), nil // Silently discard, return original length
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
