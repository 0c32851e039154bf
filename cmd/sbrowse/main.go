package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"os/user"
	"path/filepath"
	"sync"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/meeg-cfin/studybrowser/pkg/batch"
	"github.com/meeg-cfin/studybrowser/pkg/browse"
	"github.com/meeg-cfin/studybrowser/pkg/config"
	"github.com/meeg-cfin/studybrowser/pkg/export"
	"github.com/meeg-cfin/studybrowser/pkg/model"
	"github.com/meeg-cfin/studybrowser/pkg/panel"
	"github.com/meeg-cfin/studybrowser/pkg/query"
	"github.com/meeg-cfin/studybrowser/pkg/session"
	"github.com/meeg-cfin/studybrowser/pkg/ui"
	"github.com/meeg-cfin/studybrowser/pkg/watcher"
)

const version = "0.3.0"

// options are the parsed command line flags
type options struct {
	help        bool
	showVersion bool
	configPath  string
	catalog     string
	modality    string
	format      string
	paramsPath  string

	robotSubjects bool
	robotSelect   bool
	robotRun      bool

	subject     string
	study       string
	seriesID    int
	seriesLabel string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("sbrowse", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.BoolVar(&o.help, "help", false, "Show help")
	fs.BoolVar(&o.showVersion, "version", false, "Show version")
	fs.StringVar(&o.configPath, "config", config.DefaultPath, "Path to the YAML config file")
	fs.StringVar(&o.catalog, "catalog", "", "Use a JSONL catalog instead of the query tool")
	fs.StringVar(&o.modality, "modality", "", "Modality (MEG or MR); defaults to the configured one")
	fs.StringVar(&o.format, "format", "json", "Selection output format (json or yaml)")
	fs.StringVar(&o.paramsPath, "params", "", "YAML file with processing parameters for --robot-run")

	fs.BoolVar(&o.robotSubjects, "robot-subjects", false, "Print the subject list as JSON and exit")
	fs.BoolVar(&o.robotSelect, "robot-select", false, "Walk the cascade non-interactively and print the selection")
	fs.BoolVar(&o.robotRun, "robot-run", false, "Like --robot-select, then run the processing command")

	fs.StringVar(&o.subject, "subject", "", "Subject ID for --robot-select")
	fs.StringVar(&o.study, "study", "", "Study for --robot-select")
	fs.IntVar(&o.seriesID, "series", 0, "Series ID for --robot-select")
	fs.StringVar(&o.seriesLabel, "series-name", "", "Series name for --robot-select (instead of --series)")

	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: sbrowse [options]")
		fmt.Fprintln(stderr, "\nBrowse subjects, studies and series and pick the files to process.")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.robotRun {
		o.robotSelect = true
	}
	return o, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if opts.help {
		fmt.Fprintln(stdout, "Usage: sbrowse [options]")
		fmt.Fprintln(stdout, "\nBrowse subjects, studies and series and pick the files to process.")
		fmt.Fprintln(stdout, "Run with -h for the list of flags.")
		return 0
	}
	if opts.showVersion {
		fmt.Fprintf(stdout, "sbrowse version %s\n", version)
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return 1
	}
	if opts.catalog != "" {
		cfg.Query.Catalog = opts.catalog
	}
	modality := cfg.Browse.DefaultModality
	if opts.modality != "" {
		if modality, err = model.ParseModality(opts.modality); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
	}
	format, err := export.ParseFormat(opts.format)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	robot := opts.robotSubjects || opts.robotSelect
	logger, closeLog, err := newLogger(cfg.Log, robot, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error opening log: %v\n", err)
		return 1
	}
	defer closeLog()

	reg := prometheus.NewRegistry()
	svc := newService(cfg.Query, query.NewMetrics(reg), logger)
	sel := browse.New(svc, browse.WithLogger(logger), browse.WithUniqueStudies(cfg.Browse.UniqueStudies))

	switch {
	case opts.robotSubjects:
		return robotSubjects(ctx, svc, stdout, stderr)
	case opts.robotSelect:
		return robotSelect(ctx, cfg, opts, sel, modality, format, logger, stdout, stderr)
	}
	return runTUI(ctx, cfg, sel, reg, modality, format, logger, stdout, stderr)
}

// newLogger logs to the configured file while the TUI owns the terminal,
// and to stderr (warnings only) in robot modes.
func newLogger(lc config.LogConfig, robot bool, stderr io.Writer) (*slog.Logger, func(), error) {
	level, err := config.ParseLevel(lc.Level)
	if err != nil {
		return nil, nil, err
	}
	if robot {
		if level < slog.LevelWarn {
			level = slog.LevelWarn
		}
		return slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})), func() {}, nil
	}
	if lc.File == "" {
		return slog.New(slog.NewTextHandler(io.Discard, nil)), func() {}, nil
	}

	if err := os.MkdirAll(filepath.Dir(lc.File), 0755); err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(lc.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}))
	return logger, func() { f.Close() }, nil
}

func newService(qc config.QueryConfig, metrics *query.Metrics, logger *slog.Logger) query.Service {
	var backend query.Service
	if qc.Catalog != "" {
		backend = query.NewCatalogService(qc.Catalog)
	} else {
		backend = query.NewCLIService(qc.Tool,
			query.WithExtraArgs(qc.Args...),
			query.WithTimeout(qc.Timeout),
			query.WithMaxConcurrent(qc.MaxConcurrent),
		)
	}
	return query.NewInstrumented(backend, metrics, logger)
}

func robotSubjects(ctx context.Context, svc query.Service, stdout, stderr io.Writer) int {
	subjects, err := svc.Subjects(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(struct {
		Subjects []string `json:"subjects"`
	}{Subjects: subjects}); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func robotSelect(ctx context.Context, cfg config.Config, opts options, sel *browse.Selector, modality model.Modality,
	format export.Format, logger *slog.Logger, stdout, stderr io.Writer) int {
	fail := func(err error) int {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if opts.subject == "" {
		return fail(errors.New("--subject is required"))
	}

	if err := sel.SubjectOrModalityChanged(ctx, opts.subject, modality); err != nil {
		return fail(err)
	}
	if opts.study != "" {
		if err := sel.StudyChanged(ctx, opts.study); err != nil {
			return fail(err)
		}
	}
	switch {
	case opts.seriesLabel != "":
		if err := sel.SeriesLabelChanged(ctx, opts.seriesLabel); err != nil {
			return fail(err)
		}
	case opts.seriesID != 0:
		if err := sel.SeriesChanged(ctx, opts.seriesID); err != nil {
			return fail(err)
		}
	}

	var params *model.ParameterSet
	if opts.robotRun {
		p, err := loadParams(opts.paramsPath)
		if err != nil {
			return fail(err)
		}
		params = &p
	}

	if err := export.WriteSelection(stdout, sel.Selection(), params, format); err != nil {
		return fail(err)
	}
	if !opts.robotRun {
		return 0
	}

	pn := panel.New(nil, panel.SphereFitter{ExcludeKinds: cfg.Panel.ExcludeKinds}, logger)
	if err := pn.Replace(*params); err != nil {
		return fail(err)
	}

	launcherOpts := []batch.LauncherOption{batch.WithLauncherLogger(logger)}
	if cfg.Session.Enabled {
		if mgr := session.TryStartSession(cfg.Session.Driver, cfg.Session.Path, currentUser(), logger); mgr != nil {
			defer mgr.Close()
			defer func() {
				if err := mgr.CompleteSession(sel.Selection()); err != nil {
					logger.Warn("failed to complete session", "error", err)
				}
			}()
			launcherOpts = append(launcherOpts, batch.WithRecorder(mgr))
		}
	}
	launcher := batch.NewLauncher(batch.NewTemplateBuilder(cfg.Batch.Command...), launcherOpts...)

	launch, err := pn.Submit(ctx, launcher, sel.Selection())
	if launch != nil {
		io.WriteString(stderr, launch.Output)
	}
	var exitErr *batch.ExitError
	if errors.As(err, &exitErr) {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitErr.Code
	}
	if err != nil {
		return fail(err)
	}
	return 0
}

// loadParams reads a YAML parameter file over the defaults
func loadParams(path string) (model.ParameterSet, error) {
	p := model.DefaultParameters()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read params: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parse params %s: %w", path, err)
	}
	return p, p.Validate()
}

func currentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "unknown"
}

// selectionSnapshot hands the selection from the UI goroutine to the
// status server
type selectionSnapshot struct {
	mu  sync.Mutex
	sel model.SelectionState
}

func (s *selectionSnapshot) set(sel model.SelectionState) {
	s.mu.Lock()
	s.sel = sel.Clone()
	s.mu.Unlock()
}

func (s *selectionSnapshot) get() model.SelectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sel.Clone()
}

func runTUI(ctx context.Context, cfg config.Config, sel *browse.Selector, reg *prometheus.Registry, modality model.Modality,
	format export.Format, logger *slog.Logger, stdout, stderr io.Writer) int {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintln(stderr, "Error: no terminal; use --robot-subjects or --robot-select")
		return 1
	}
	// Draw on stderr when stdout is captured so the selection can be piped
	programOut := io.Writer(os.Stdout)
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		programOut = os.Stderr
	}

	var mgr *session.Manager
	if cfg.Session.Enabled {
		mgr = session.TryStartSession(cfg.Session.Driver, cfg.Session.Path, currentUser(), logger)
		if mgr != nil {
			defer mgr.Close()
		}
	}

	launcherOpts := []batch.LauncherOption{batch.WithLauncherLogger(logger)}
	if mgr != nil {
		launcherOpts = append(launcherOpts, batch.WithRecorder(mgr))
	}
	launcher := batch.NewLauncher(batch.NewTemplateBuilder(cfg.Batch.Command...), launcherOpts...)

	snapshot := &selectionSnapshot{sel: sel.Selection()}
	if cfg.Status.Addr != "" {
		status := export.NewStatusServer(cfg.Status.Addr, snapshot.get, reg)
		if err := status.Start(); err != nil {
			logger.Warn("status server not started", "error", err)
		} else {
			logger.Info("status server listening", "url", status.URL())
			defer status.Stop()
		}
	}

	m := ui.NewModel(ctx, ui.Options{
		Selector:  sel,
		Panel:     panel.New(nil, panel.SphereFitter{ExcludeKinds: cfg.Panel.ExcludeKinds}, logger),
		Submitter: launcher,
		Theme:     ui.DefaultTheme(lipgloss.NewRenderer(programOut)),
		Modality:  modality,
		Logger:    logger,
		OnChange: func(s model.SelectionState) {
			snapshot.set(s)
			if mgr != nil {
				if err := mgr.RecordSelection(s); err != nil {
					logger.Warn("failed to record selection", "error", err)
				}
			}
		},
	})

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx), tea.WithOutput(programOut))

	if cfg.Query.Catalog != "" && cfg.Watch.Enabled {
		w, err := watcher.New(cfg.Query.Catalog, cfg.Watch.Debounce, func() {
			p.Send(ui.CatalogChangedMsg{})
		}, logger)
		if err != nil {
			logger.Warn("catalog watch disabled", "error", err)
		} else {
			defer w.Close()
		}
	}

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		fmt.Fprintf(stderr, "Error running study browser: %v\n", err)
		return 1
	}

	final := m.Selection()
	if mgr != nil {
		if err := mgr.CompleteSession(final); err != nil {
			logger.Warn("failed to complete session", "error", err)
		}
	}
	params := m.Params()
	if err := export.WriteSelection(stdout, final, &params, format); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
