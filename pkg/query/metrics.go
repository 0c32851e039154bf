package query

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/meeg-cfin/studybrowser/pkg/model"
)

// Metrics holds the query counters. One set per registry.
type Metrics struct {
	calls    *prometheus.CounterVec
	errors   *prometheus.CounterVec
	empty    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics registers the query metrics with reg (the default registerer
// when nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		calls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "studybrowser_query_calls_total",
			Help: "Query service calls by operation",
		}, []string{"op"}),
		errors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "studybrowser_query_errors_total",
			Help: "Query service calls that returned an error",
		}, []string{"op"}),
		empty: f.NewCounterVec(prometheus.CounterOpts{
			Name: "studybrowser_query_empty_total",
			Help: "Query service calls that returned no entries",
		}, []string{"op"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "studybrowser_query_duration_seconds",
			Help:    "Query service call latency",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		}, []string{"op"}),
	}
}

// Instrumented decorates a Service with metrics and debug logging.
type Instrumented struct {
	next    Service
	metrics *Metrics
	logger  *slog.Logger
}

// NewInstrumented wraps next.
func NewInstrumented(next Service, metrics *Metrics, logger *slog.Logger) *Instrumented {
	if logger == nil {
		logger = slog.Default()
	}
	return &Instrumented{next: next, metrics: metrics, logger: logger}
}

func (s *Instrumented) observe(op string, start time.Time, n int, err error, attrs ...any) {
	s.metrics.calls.WithLabelValues(op).Inc()
	s.metrics.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.errors.WithLabelValues(op).Inc()
		s.logger.Warn("query failed", append([]any{"op", op, "err", err}, attrs...)...)
		return
	}
	if n == 0 {
		s.metrics.empty.WithLabelValues(op).Inc()
	}
	s.logger.Debug("query", append([]any{"op", op, "n", n, "elapsed", time.Since(start)}, attrs...)...)
}

// Subjects implements Service.
func (s *Instrumented) Subjects(ctx context.Context) ([]string, error) {
	start := time.Now()
	subjects, err := s.next.Subjects(ctx)
	s.observe("subjects", start, len(subjects), err)
	return subjects, err
}

// Studies implements Service.
func (s *Instrumented) Studies(ctx context.Context, subjectID string, modality model.Modality, unique bool) (model.Result, error) {
	start := time.Now()
	r, err := s.next.Studies(ctx, subjectID, modality, unique)
	s.observe("studies", start, len(r.Normalize()), err, "subject", subjectID, "modality", modality)
	return r, err
}

// Series implements Service.
func (s *Instrumented) Series(ctx context.Context, subjectID, study string, modality model.Modality) ([]model.Option[int], error) {
	start := time.Now()
	series, err := s.next.Series(ctx, subjectID, study, modality)
	s.observe("series", start, len(series), err, "subject", subjectID, "study", study)
	return series, err
}

// Files implements Service.
func (s *Instrumented) Files(ctx context.Context, subjectID, study string, modality model.Modality, seriesID int) (model.Result, error) {
	start := time.Now()
	r, err := s.next.Files(ctx, subjectID, study, modality, seriesID)
	s.observe("files", start, len(r.Items()), err, "subject", subjectID, "series", seriesID)
	return r, err
}
