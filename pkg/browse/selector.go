// Package browse implements the cascading subject -> study -> series -> files
// selection.
//
// A Selector owns the SelectionState and the option set of every stage.
// Each stage operation writes the new upstream values into the state before
// it queries the backend or replaces any option set, so observers that run
// synchronously on a change (and may call back into the Selector) always see
// a consistent state.
package browse

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/meeg-cfin/studybrowser/pkg/model"
	"github.com/meeg-cfin/studybrowser/pkg/query"
)

// Field names a stage of the cascade
type Field int

const (
	FieldSubject Field = iota
	FieldStudy
	FieldSeries
	FieldFiles
)

func (f Field) String() string {
	switch f {
	case FieldSubject:
		return "subject"
	case FieldStudy:
		return "study"
	case FieldSeries:
		return "series"
	case FieldFiles:
		return "files"
	default:
		return "unknown"
	}
}

// Change is delivered to observers after a field's options or value changed
type Change struct {
	Field Field
}

// Observer is called synchronously on every change. It may call back into
// the Selector.
type Observer func(Change)

// Selector is the cascading selection state machine. It is not safe for
// concurrent use; every call is expected on the goroutine delivering UI events.
type Selector struct {
	svc    query.Service
	logger *slog.Logger
	unique bool

	state     model.SelectionState
	subjects  model.OptionSet[string]
	studies   model.OptionSet[string]
	series    model.OptionSet[int]
	filesText string

	// epoch advances on every transition; a query whose epoch is no longer
	// current was superseded by a nested transition and its result is dropped
	epoch     uint64
	observers []Observer
}

// Option configures a Selector.
type Option func(*Selector)

// WithLogger sets the logger used for transition tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Selector) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithUniqueStudies asks the backend for de-duplicated study lists.
func WithUniqueStudies(unique bool) Option {
	return func(s *Selector) {
		s.unique = unique
	}
}

// New creates a Selector in the Empty stage over svc.
func New(svc query.Service, opts ...Option) *Selector {
	s := &Selector{
		svc:      svc,
		logger:   slog.Default(),
		state:    model.NewSelectionState(),
		subjects: model.SubjectOptions(nil),
		studies:  model.StudyOptions(nil),
		series:   model.EmptySeriesOptions(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Observe registers fn for change notifications.
func (s *Selector) Observe(fn Observer) {
	s.observers = append(s.observers, fn)
}

func (s *Selector) notify(f Field) {
	observers := make([]Observer, len(s.observers))
	copy(observers, s.observers)
	for _, fn := range observers {
		fn(Change{Field: f})
	}
}

func (s *Selector) setStudies(o model.OptionSet[string]) {
	s.studies = o
	s.notify(FieldStudy)
}

func (s *Selector) setSeries(o model.OptionSet[int]) {
	s.series = o
	s.notify(FieldSeries)
}

func (s *Selector) setFiles(text string) {
	s.filesText = text
	s.notify(FieldFiles)
}

// LoadSubjects fills the subject options from the backend. The current
// selection is left alone.
func (s *Selector) LoadSubjects(ctx context.Context) error {
	subjects, err := s.svc.Subjects(ctx)
	if err != nil {
		return fmt.Errorf("load subjects: %w", err)
	}
	s.subjects = model.SubjectOptions(subjects)
	s.notify(FieldSubject)
	return nil
}

// SubjectOrModalityChanged handles a new subject or modality. An empty
// subject means nothing is chosen yet and is ignored.
func (s *Selector) SubjectOrModalityChanged(ctx context.Context, subjectID string, modality model.Modality) error {
	if subjectID == model.SubjectSentinel {
		return nil
	}
	if !modality.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidModality, modality)
	}

	s.epoch++
	epoch := s.epoch

	// State first: replacing option sets below notifies observers
	s.state.SubjectID = subjectID
	s.state.Modality = modality
	s.state.ClearFromStudy()
	s.logger.Debug("subject changed", "subject", subjectID, "modality", modality)
	s.notify(FieldSubject)

	res, err := s.svc.Studies(ctx, subjectID, modality, s.unique)
	if err != nil {
		if s.epoch == epoch {
			s.setStudies(model.StudyOptions(nil))
			s.setFiles("")
		}
		return fmt.Errorf("studies for %s/%s: %w", subjectID, modality, err)
	}
	if s.epoch != epoch {
		s.logger.Debug("dropping superseded studies", "subject", subjectID)
		return nil
	}

	studies := res.Normalize()
	if len(studies) > 0 {
		s.setStudies(model.StudyOptions(studies))
		s.setSeries(model.EmptySeriesOptions())
	} else {
		// The series options keep whatever they held before
		s.setStudies(model.StudyOptions(nil))
	}
	s.setFiles("")
	return nil
}

// ModalityChanged re-runs the subject stage with the current subject.
func (s *Selector) ModalityChanged(ctx context.Context, modality model.Modality) error {
	return s.SubjectOrModalityChanged(ctx, s.state.SubjectID, modality)
}

// StudyChanged handles a new study. The "---" sentinel resets the series
// stage without querying.
func (s *Selector) StudyChanged(ctx context.Context, study string) error {
	if study == model.StudySentinel {
		s.epoch++
		s.state.ClearFromStudy()
		s.setSeries(model.EmptySeriesOptions())
		s.setFiles("")
		return nil
	}
	if s.state.SubjectID == "" {
		return fmt.Errorf("%w: study %q chosen without a subject", ErrAncestorMissing, study)
	}

	s.epoch++
	epoch := s.epoch

	s.state.ClearFromSeries()
	s.state.Study = study
	s.logger.Debug("study changed", "subject", s.state.SubjectID, "study", study)

	entries, err := s.svc.Series(ctx, s.state.SubjectID, study, s.state.Modality)
	if err != nil {
		if s.epoch == epoch {
			s.setSeries(model.EmptySeriesOptions())
			s.setFiles("")
		}
		return fmt.Errorf("series for %s/%s: %w", s.state.SubjectID, study, err)
	}
	if s.epoch != epoch {
		s.logger.Debug("dropping superseded series", "study", study)
		return nil
	}

	s.setSeries(MergeSeries(entries))
	s.setFiles("")
	return nil
}

// SeriesChanged handles a new series ID. Zero is the sentinel and clears
// the files.
func (s *Selector) SeriesChanged(ctx context.Context, seriesID int) error {
	if seriesID == model.SeriesSentinelValue {
		s.epoch++
		s.state.ClearFromSeries()
		s.setFiles("")
		return nil
	}
	if s.state.SubjectID == "" || s.state.Study == "" {
		return fmt.Errorf("%w: series %d chosen without a study", ErrAncestorMissing, seriesID)
	}

	s.epoch++
	epoch := s.epoch

	res, err := s.svc.Files(ctx, s.state.SubjectID, s.state.Study, s.state.Modality, seriesID)
	if err != nil {
		if s.epoch == epoch {
			s.state.ClearFromSeries()
			s.setFiles("")
		}
		return fmt.Errorf("files for series %d: %w", seriesID, err)
	}

	// The options may have been replaced while the query ran; an id they no
	// longer hold is a lookup failure even when the result is superseded
	name, ok := s.series.Invert()[seriesID]
	if !ok {
		if s.epoch == epoch {
			s.state.ClearFromSeries()
			s.setFiles("")
		}
		return &LookupError{SeriesID: seriesID, Offered: s.series.Labels()}
	}
	if s.epoch != epoch {
		s.logger.Debug("dropping superseded files", "series", seriesID)
		return nil
	}

	s.state.SeriesID = seriesID
	s.state.SeriesName = name
	s.state.Files = res.Items()
	s.logger.Debug("series changed", "series", seriesID, "name", name, "files", len(s.state.Files))

	text := ""
	if res.IsSequence() {
		text = strings.Join(res.Items(), "\n")
	}
	s.setFiles(text)
	return nil
}

// SeriesLabelChanged resolves a series label against the current options
// and selects it.
func (s *Selector) SeriesLabelChanged(ctx context.Context, label string) error {
	id, ok := s.series.Lookup(label)
	if !ok {
		return &LookupError{Label: label, Offered: s.series.Labels()}
	}
	return s.SeriesChanged(ctx, id)
}

// MergeSeries adds the {"---": 0} sentinel to a backend series mapping and
// orders the entries by ascending ID. An existing "---" entry is overwritten
// in place; entries with equal IDs keep their backend order.
func MergeSeries(entries []model.Option[int]) model.OptionSet[int] {
	merged := make([]model.Option[int], 0, len(entries)+1)
	found := false
	for _, e := range entries {
		if e.Label == model.SeriesSentinelLabel {
			if found {
				continue
			}
			e.Value = model.SeriesSentinelValue
			found = true
		}
		merged = append(merged, e)
	}
	if !found {
		merged = append(merged, model.Option[int]{Label: model.SeriesSentinelLabel, Value: model.SeriesSentinelValue})
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Value < merged[j].Value
	})
	return model.NewOptionSet(merged...)
}

// Selection returns a copy of the current selection
func (s *Selector) Selection() model.SelectionState {
	return s.state.Clone()
}

// Stage returns how far the cascade has progressed
func (s *Selector) Stage() model.Stage {
	return s.state.Stage()
}

// Complete returns true once a series with its files has been chosen
func (s *Selector) Complete() bool {
	return s.state.Stage() == model.StageSeriesChosen
}

// SubjectOptions returns the subject field's options
func (s *Selector) SubjectOptions() model.OptionSet[string] {
	return s.subjects
}

// StudyOptions returns the study field's options
func (s *Selector) StudyOptions() model.OptionSet[string] {
	return s.studies
}

// SeriesOptions returns the series field's options
func (s *Selector) SeriesOptions() model.OptionSet[int] {
	return s.series
}

// FilesText returns the files display value
func (s *Selector) FilesText() string {
	return s.filesText
}
