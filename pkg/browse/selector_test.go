package browse

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/meeg-cfin/studybrowser/pkg/model"
)

// fakeService is an in-memory backend that records every call and lets a
// test peek at the selector while a query is in flight.
type fakeService struct {
	subjects []string
	studies  map[string]model.Result
	series   map[string][]model.Option[int]
	files    map[int]model.Result
	err      error

	calls   []string
	onQuery func(op string)
}

func (f *fakeService) record(op string) {
	f.calls = append(f.calls, op)
	if f.onQuery != nil {
		f.onQuery(op)
	}
}

func (f *fakeService) Subjects(ctx context.Context) ([]string, error) {
	f.record("subjects")
	return f.subjects, f.err
}

func (f *fakeService) Studies(ctx context.Context, subjectID string, modality model.Modality, unique bool) (model.Result, error) {
	f.record("studies:" + subjectID + "/" + string(modality))
	if f.err != nil {
		return model.Malformed(), f.err
	}
	r, ok := f.studies[subjectID+"/"+string(modality)]
	if !ok {
		return model.Sequence(nil), nil
	}
	return r, nil
}

func (f *fakeService) Series(ctx context.Context, subjectID, study string, modality model.Modality) ([]model.Option[int], error) {
	f.record("series:" + study)
	if f.err != nil {
		return nil, f.err
	}
	return f.series[study], nil
}

func (f *fakeService) Files(ctx context.Context, subjectID, study string, modality model.Modality, seriesID int) (model.Result, error) {
	f.record("files")
	if f.err != nil {
		return model.Malformed(), f.err
	}
	r, ok := f.files[seriesID]
	if !ok {
		return model.Sequence(nil), nil
	}
	return r, nil
}

func newFake() *fakeService {
	return &fakeService{
		subjects: []string{"S1", "S2", "S3"},
		studies: map[string]model.Result{
			"S1/MEG": model.Sequence([]string{"2020-01-01", "2020-02-02"}),
			"S1/MR":  model.Scalar("2019-12-12"),
			"S3/MEG": model.Sequence([]string{"2021-03-03"}),
		},
		series: map[string][]model.Option[int]{
			"2020-01-01": {{Label: "run1", Value: 3}, {Label: "empty_room", Value: 1}},
			"2020-02-02": {{Label: "rest", Value: 9}},
			"2021-03-03": {{Label: "task", Value: 4}},
		},
		files: map[int]model.Result{
			3: model.Sequence([]string{"f1.dat", "f2.dat"}),
			1: model.Scalar("er.dat"),
			9: model.Sequence([]string{"rest.fif"}),
		},
	}
}

func labelsOf[V comparable](o model.OptionSet[V]) []string {
	return o.Labels()
}

func TestSelector_RoundTrip(t *testing.T) {
	ctx := context.Background()
	svc := newFake()
	s := New(svc)

	if err := s.LoadSubjects(ctx); err != nil {
		t.Fatalf("LoadSubjects() error = %v", err)
	}
	if got := labelsOf(s.SubjectOptions()); !reflect.DeepEqual(got, []string{"", "S1", "S2", "S3"}) {
		t.Errorf("subject options = %v", got)
	}

	if err := s.SubjectOrModalityChanged(ctx, "S1", model.ModalityMEG); err != nil {
		t.Fatalf("SubjectOrModalityChanged() error = %v", err)
	}
	if err := s.StudyChanged(ctx, "2020-01-01"); err != nil {
		t.Fatalf("StudyChanged() error = %v", err)
	}
	if err := s.SeriesLabelChanged(ctx, "run1"); err != nil {
		t.Fatalf("SeriesLabelChanged() error = %v", err)
	}

	want := model.SelectionState{
		SubjectID:  "S1",
		Modality:   model.ModalityMEG,
		Study:      "2020-01-01",
		SeriesID:   3,
		SeriesName: "run1",
		Files:      []string{"f1.dat", "f2.dat"},
	}
	if got := s.Selection(); !reflect.DeepEqual(got, want) {
		t.Errorf("Selection() = %+v, want %+v", got, want)
	}
	if s.FilesText() != "f1.dat\nf2.dat" {
		t.Errorf("FilesText() = %q", s.FilesText())
	}
	if !s.Complete() {
		t.Error("Complete() = false after choosing a series")
	}
}

func TestSelector_SubjectChangeClearsDownstreamBeforeQuery(t *testing.T) {
	ctx := context.Background()
	svc := newFake()
	s := New(svc)

	s.SubjectOrModalityChanged(ctx, "S1", model.ModalityMEG)
	s.StudyChanged(ctx, "2020-01-01")
	s.SeriesChanged(ctx, 3)

	var during model.SelectionState
	svc.onQuery = func(op string) {
		during = s.Selection()
	}

	if err := s.SubjectOrModalityChanged(ctx, "S3", model.ModalityMEG); err != nil {
		t.Fatalf("SubjectOrModalityChanged() error = %v", err)
	}

	for name, st := range map[string]model.SelectionState{"during query": during, "after call": s.Selection()} {
		if st.SubjectID != "S3" || st.Modality != model.ModalityMEG {
			t.Errorf("%s: subject/modality = %s/%s, want S3/MEG", name, st.SubjectID, st.Modality)
		}
		if st.Study != "" || st.SeriesID != 0 || st.SeriesName != "" || st.Files != nil {
			t.Errorf("%s: downstream not cleared: %+v", name, st)
		}
	}
	if got := labelsOf(s.StudyOptions()); !reflect.DeepEqual(got, []string{"---", "2021-03-03"}) {
		t.Errorf("study options = %v", got)
	}
	if !s.SeriesOptions().Equal(model.EmptySeriesOptions()) {
		t.Errorf("series options = %v, want reset", labelsOf(s.SeriesOptions()))
	}
	if s.FilesText() != "" {
		t.Errorf("FilesText() = %q, want empty", s.FilesText())
	}
}

func TestSelector_EmptySubjectIsIgnored(t *testing.T) {
	svc := newFake()
	s := New(svc)
	notified := 0
	s.Observe(func(Change) { notified++ })

	if err := s.SubjectOrModalityChanged(context.Background(), "", model.ModalityMR); err != nil {
		t.Fatalf("error = %v", err)
	}
	if len(svc.calls) != 0 || notified != 0 {
		t.Errorf("empty subject caused calls=%v notifications=%d", svc.calls, notified)
	}
	if s.Selection().Modality != model.ModalityMEG {
		t.Errorf("modality changed to %s", s.Selection().Modality)
	}
}

func TestSelector_ScalarStudiesNormalized(t *testing.T) {
	s := New(newFake())
	if err := s.SubjectOrModalityChanged(context.Background(), "S1", model.ModalityMR); err != nil {
		t.Fatalf("error = %v", err)
	}
	if got := labelsOf(s.StudyOptions()); !reflect.DeepEqual(got, []string{"---", "2019-12-12"}) {
		t.Errorf("study options = %v", got)
	}
}

func TestSelector_StudySentinelIdempotent(t *testing.T) {
	ctx := context.Background()
	svc := newFake()
	s := New(svc)
	s.SubjectOrModalityChanged(ctx, "S1", model.ModalityMEG)
	s.StudyChanged(ctx, "2020-01-01")
	svc.calls = nil

	for i := 0; i < 3; i++ {
		if err := s.StudyChanged(ctx, "---"); err != nil {
			t.Fatalf("StudyChanged(---) error = %v", err)
		}
		if !s.SeriesOptions().Equal(model.EmptySeriesOptions()) {
			t.Errorf("pass %d: series options = %v", i, labelsOf(s.SeriesOptions()))
		}
		if s.FilesText() != "" {
			t.Errorf("pass %d: FilesText() = %q", i, s.FilesText())
		}
	}
	if len(svc.calls) != 0 {
		t.Errorf("sentinel study queried the service: %v", svc.calls)
	}
	if st := s.Selection(); st.Study != "" || st.SubjectID != "S1" {
		t.Errorf("Selection() = %+v", st)
	}
}

func TestMergeSeries_SortStability(t *testing.T) {
	got := MergeSeries([]model.Option[int]{
		{Label: "A", Value: 5},
		{Label: "B", Value: 2},
		{Label: "C", Value: 2},
	})
	want := []model.Option[int]{
		{Label: "---", Value: 0},
		{Label: "B", Value: 2},
		{Label: "C", Value: 2},
		{Label: "A", Value: 5},
	}
	if !reflect.DeepEqual(got.Options(), want) {
		t.Errorf("MergeSeries() = %v, want %v", got.Options(), want)
	}
}

func TestMergeSeries_OverwritesExistingSentinel(t *testing.T) {
	got := MergeSeries([]model.Option[int]{
		{Label: "run", Value: 2},
		{Label: "---", Value: 7},
	})
	want := []model.Option[int]{{Label: "---", Value: 0}, {Label: "run", Value: 2}}
	if !reflect.DeepEqual(got.Options(), want) {
		t.Errorf("MergeSeries() = %v, want %v", got.Options(), want)
	}
}

func TestSelector_EmptyStudiesLeaveSeriesUntouched(t *testing.T) {
	ctx := context.Background()
	s := New(newFake())
	s.SubjectOrModalityChanged(ctx, "S1", model.ModalityMEG)
	s.StudyChanged(ctx, "2020-01-01")
	before := s.SeriesOptions()

	if err := s.SubjectOrModalityChanged(ctx, "S2", model.ModalityMEG); err != nil {
		t.Fatalf("error = %v", err)
	}
	if got := labelsOf(s.StudyOptions()); !reflect.DeepEqual(got, []string{"---"}) {
		t.Errorf("study options = %v, want [---]", got)
	}
	if !s.SeriesOptions().Equal(before) {
		t.Errorf("series options changed to %v", labelsOf(s.SeriesOptions()))
	}

	// A stale series cannot be picked: its study is no longer selected
	if err := s.SeriesChanged(ctx, 3); !errors.Is(err, ErrAncestorMissing) {
		t.Errorf("SeriesChanged on stale options error = %v, want ErrAncestorMissing", err)
	}
}

func TestSelector_SeriesLookupFailure(t *testing.T) {
	ctx := context.Background()
	svc := newFake()
	svc.files[42] = model.Sequence([]string{"ghost.dat"})
	s := New(svc)
	s.SubjectOrModalityChanged(ctx, "S1", model.ModalityMEG)
	s.StudyChanged(ctx, "2020-01-01")

	err := s.SeriesChanged(ctx, 42)
	var lookupErr *LookupError
	if !errors.As(err, &lookupErr) {
		t.Fatalf("SeriesChanged(42) error = %v, want *LookupError", err)
	}
	if !errors.Is(err, ErrSeriesNotFound) {
		t.Errorf("error does not match ErrSeriesNotFound")
	}
	if lookupErr.SeriesID != 42 {
		t.Errorf("LookupError.SeriesID = %d", lookupErr.SeriesID)
	}
	if st := s.Selection(); st.SeriesID != 0 || st.SeriesName != "" || st.Files != nil {
		t.Errorf("failed lookup left series state %+v", st)
	}

	if err := s.SeriesLabelChanged(ctx, "nope"); !errors.Is(err, ErrSeriesNotFound) {
		t.Errorf("SeriesLabelChanged(nope) error = %v", err)
	}
}

func TestSelector_NonSequenceFilesLeaveDisplayEmpty(t *testing.T) {
	ctx := context.Background()
	s := New(newFake())
	s.SubjectOrModalityChanged(ctx, "S1", model.ModalityMEG)
	s.StudyChanged(ctx, "2020-01-01")

	if err := s.SeriesChanged(ctx, 1); err != nil {
		t.Fatalf("SeriesChanged(1) error = %v", err)
	}
	if s.FilesText() != "" {
		t.Errorf("FilesText() = %q, want empty for scalar result", s.FilesText())
	}
	st := s.Selection()
	if st.SeriesID != 1 || st.SeriesName != "empty_room" {
		t.Errorf("Selection() = %+v", st)
	}
}

func TestSelector_SeriesSentinelClearsFiles(t *testing.T) {
	ctx := context.Background()
	svc := newFake()
	s := New(svc)
	s.SubjectOrModalityChanged(ctx, "S1", model.ModalityMEG)
	s.StudyChanged(ctx, "2020-01-01")
	s.SeriesChanged(ctx, 3)
	svc.calls = nil

	if err := s.SeriesChanged(ctx, 0); err != nil {
		t.Fatalf("SeriesChanged(0) error = %v", err)
	}
	if s.FilesText() != "" || s.Selection().Files != nil {
		t.Errorf("files not cleared: %q %v", s.FilesText(), s.Selection().Files)
	}
	if s.Stage() != model.StageStudyChosen {
		t.Errorf("Stage() = %v, want study", s.Stage())
	}
	if len(svc.calls) != 0 {
		t.Errorf("sentinel series queried the service: %v", svc.calls)
	}
}

func TestSelector_AncestorsRequired(t *testing.T) {
	ctx := context.Background()
	s := New(newFake())
	if err := s.StudyChanged(ctx, "2020-01-01"); !errors.Is(err, ErrAncestorMissing) {
		t.Errorf("StudyChanged without subject error = %v", err)
	}
	if err := s.SeriesChanged(ctx, 3); !errors.Is(err, ErrAncestorMissing) {
		t.Errorf("SeriesChanged without study error = %v", err)
	}
	if err := s.SubjectOrModalityChanged(ctx, "S1", "EEG"); !errors.Is(err, ErrInvalidModality) {
		t.Errorf("bad modality error = %v", err)
	}
}

func TestSelector_QueryErrorKeepsStateConsistent(t *testing.T) {
	ctx := context.Background()
	svc := newFake()
	s := New(svc)
	s.SubjectOrModalityChanged(ctx, "S1", model.ModalityMEG)
	s.StudyChanged(ctx, "2020-01-01")

	svc.err = errors.New("backend down")
	if err := s.SeriesChanged(ctx, 3); err == nil {
		t.Fatal("SeriesChanged should surface the query error")
	}
	st := s.Selection()
	if err := st.Validate(); err != nil {
		t.Errorf("state invalid after query error: %v", err)
	}
	if st.SeriesID != 0 {
		t.Errorf("SeriesID = %d after failed query", st.SeriesID)
	}

	if err := s.SubjectOrModalityChanged(ctx, "S3", model.ModalityMEG); err == nil {
		t.Fatal("SubjectOrModalityChanged should surface the query error")
	}
	if got := labelsOf(s.StudyOptions()); !reflect.DeepEqual(got, []string{"---"}) {
		t.Errorf("study options after error = %v", got)
	}
}

// An observer that behaves like a bound dropdown: when its options are
// replaced it snaps back to the sentinel and fires its own handler.
func TestSelector_ReentrantObserverSeesConsistentState(t *testing.T) {
	ctx := context.Background()
	svc := newFake()
	s := New(svc)

	var violations []string
	s.Observe(func(c Change) {
		st := s.Selection()
		if err := st.Validate(); err != nil {
			violations = append(violations, c.Field.String()+": "+err.Error())
		}
		if c.Field == FieldStudy {
			if err := s.StudyChanged(ctx, model.StudySentinel); err != nil {
				t.Errorf("nested StudyChanged error = %v", err)
			}
		}
	})

	s.SubjectOrModalityChanged(ctx, "S1", model.ModalityMEG)
	s.StudyChanged(ctx, "2020-01-01")
	if err := s.SeriesChanged(ctx, 3); err != nil {
		t.Fatalf("SeriesChanged() error = %v", err)
	}
	s.SubjectOrModalityChanged(ctx, "S3", model.ModalityMEG)

	if len(violations) > 0 {
		t.Errorf("observer saw invalid state: %v", violations)
	}
	if got := labelsOf(s.StudyOptions()); !reflect.DeepEqual(got, []string{"---", "2021-03-03"}) {
		t.Errorf("study options = %v", got)
	}
}

func TestSelector_SupersededQueryIsDropped(t *testing.T) {
	ctx := context.Background()
	svc := newFake()
	s := New(svc)

	// While S1's studies are being fetched, a nested handler switches to S3
	switched := false
	svc.onQuery = func(op string) {
		if op == "studies:S1/MEG" && !switched {
			switched = true
			if err := s.SubjectOrModalityChanged(ctx, "S3", model.ModalityMEG); err != nil {
				t.Errorf("nested change error = %v", err)
			}
		}
	}

	if err := s.SubjectOrModalityChanged(ctx, "S1", model.ModalityMEG); err != nil {
		t.Fatalf("error = %v", err)
	}
	if got := labelsOf(s.StudyOptions()); !reflect.DeepEqual(got, []string{"---", "2021-03-03"}) {
		t.Errorf("study options = %v, want S3's", got)
	}
	if s.Selection().SubjectID != "S3" {
		t.Errorf("SubjectID = %q, want S3", s.Selection().SubjectID)
	}
}

func TestSelector_ModalityChanged(t *testing.T) {
	ctx := context.Background()
	svc := newFake()
	s := New(svc)
	s.SubjectOrModalityChanged(ctx, "S1", model.ModalityMEG)
	s.StudyChanged(ctx, "2020-01-01")

	if err := s.ModalityChanged(ctx, model.ModalityMR); err != nil {
		t.Fatalf("ModalityChanged() error = %v", err)
	}
	st := s.Selection()
	if st.Modality != model.ModalityMR || st.Study != "" {
		t.Errorf("Selection() = %+v", st)
	}
	if got := labelsOf(s.StudyOptions()); !reflect.DeepEqual(got, []string{"---", "2019-12-12"}) {
		t.Errorf("study options = %v", got)
	}
}

func TestSelector_SeriesMissingAfterNestedStudyChange(t *testing.T) {
	ctx := context.Background()
	svc := newFake()
	s := New(svc)
	s.SubjectOrModalityChanged(ctx, "S1", model.ModalityMEG)
	s.StudyChanged(ctx, "2020-01-01")

	// While series 3's files are being fetched, a nested handler picks another
	// study whose options do not hold series 3
	switched := false
	svc.onQuery = func(op string) {
		if op == "files" && !switched {
			switched = true
			if err := s.StudyChanged(ctx, "2020-02-02"); err != nil {
				t.Errorf("nested StudyChanged error = %v", err)
			}
		}
	}

	err := s.SeriesChanged(ctx, 3)
	var lookupErr *LookupError
	if !errors.As(err, &lookupErr) {
		t.Fatalf("SeriesChanged(3) error = %v, want *LookupError", err)
	}
	if lookupErr.SeriesID != 3 {
		t.Errorf("LookupError.SeriesID = %d, want 3", lookupErr.SeriesID)
	}
	if !reflect.DeepEqual(lookupErr.Offered, []string{"---", "rest"}) {
		t.Errorf("LookupError.Offered = %v", lookupErr.Offered)
	}

	st := s.Selection()
	if st.Study != "2020-02-02" || st.SeriesID != 0 || st.Files != nil {
		t.Errorf("Selection() = %+v, want the nested study with no series", st)
	}
}

func TestSelector_SupersededFilesResultIsDropped(t *testing.T) {
	ctx := context.Background()
	svc := newFake()
	s := New(svc)
	s.SubjectOrModalityChanged(ctx, "S1", model.ModalityMEG)
	s.StudyChanged(ctx, "2020-01-01")

	// The nested pick of series 1 wins; series 3 is still offered so the
	// outer call is not a lookup failure
	switched := false
	svc.onQuery = func(op string) {
		if op == "files" && !switched {
			switched = true
			if err := s.SeriesChanged(ctx, 1); err != nil {
				t.Errorf("nested SeriesChanged error = %v", err)
			}
		}
	}

	if err := s.SeriesChanged(ctx, 3); err != nil {
		t.Fatalf("SeriesChanged(3) error = %v", err)
	}
	if st := s.Selection(); st.SeriesID != 1 || st.SeriesName != "empty_room" {
		t.Errorf("Selection() = %+v, want the nested series", st)
	}
}
