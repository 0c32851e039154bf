package query

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/meeg-cfin/studybrowser/pkg/model"
)

// CatalogRecord is one line of a JSONL catalog: a single file and where it
// sits in the subject/study/series hierarchy.
type CatalogRecord struct {
	SubjectID  string         `json:"subject"`
	Modality   model.Modality `json:"modality"`
	Study      string         `json:"study"`
	StudyUID   string         `json:"study_uid,omitempty"`
	SeriesID   int            `json:"series_id"`
	SeriesName string         `json:"series"`
	Path       string         `json:"path"`
}

// CatalogService answers queries from a JSONL catalog file. The file is
// re-read on every call so edits show up on the next upstream change.
type CatalogService struct {
	path string
}

// NewCatalogService creates a service over the catalog at path.
func NewCatalogService(path string) *CatalogService {
	return &CatalogService{path: path}
}

// Path returns the catalog file location
func (c *CatalogService) Path() string {
	return c.path
}

// LoadCatalog reads all well-formed records from a JSONL catalog.
func LoadCatalog(path string) ([]CatalogRecord, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("no catalog found at %s", path)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	defer file.Close()

	var records []CatalogRecord
	scanner := bufio.NewScanner(file)
	const maxCapacity = 1024 * 1024
	buf := make([]byte, maxCapacity)
	scanner.Buffer(buf, maxCapacity)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec CatalogRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			// Skip malformed lines but continue loading the rest
			slog.Debug("skipping malformed catalog line", "path", path, "line", lineNum, "err", err)
			continue
		}
		if rec.SubjectID == "" || !rec.Modality.IsValid() {
			slog.Debug("skipping incomplete catalog line", "path", path, "line", lineNum)
			continue
		}
		records = append(records, rec)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading catalog: %w", err)
	}

	return records, nil
}

// Subjects implements Service. Subjects are returned sorted.
func (c *CatalogService) Subjects(ctx context.Context) ([]string, error) {
	records, err := LoadCatalog(c.path)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	subjects := []string{}
	for _, r := range records {
		if !seen[r.SubjectID] {
			seen[r.SubjectID] = true
			subjects = append(subjects, r.SubjectID)
		}
	}
	sort.Strings(subjects)
	return subjects, nil
}

// Studies implements Service. The catalog holds one line per file, so rows
// are first grouped into study records: by study_uid when present, else by
// name. Without unique every record is listed in catalog order, so two
// acquisitions sharing a date appear twice. With unique the names are
// de-duplicated and sorted.
func (c *CatalogService) Studies(ctx context.Context, subjectID string, modality model.Modality, unique bool) (model.Result, error) {
	records, err := LoadCatalog(c.path)
	if err != nil {
		return model.Malformed(), err
	}

	seen := make(map[string]bool)
	studies := []string{}
	for _, r := range records {
		if r.SubjectID != subjectID || r.Modality != modality || r.Study == "" {
			continue
		}
		key := r.Study
		if !unique && r.StudyUID != "" {
			key = r.Study + "\x00" + r.StudyUID
		}
		if !seen[key] {
			seen[key] = true
			studies = append(studies, r.Study)
		}
	}
	if unique {
		sort.Strings(studies)
	}
	return model.Sequence(studies), nil
}

// Series implements Service.
func (c *CatalogService) Series(ctx context.Context, subjectID, study string, modality model.Modality) ([]model.Option[int], error) {
	records, err := LoadCatalog(c.path)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	series := []model.Option[int]{}
	for _, r := range records {
		if r.SubjectID != subjectID || r.Study != study || r.Modality != modality {
			continue
		}
		label := r.SeriesName
		if label == "" {
			label = fmt.Sprintf("series %d", r.SeriesID)
		}
		if !seen[label] {
			seen[label] = true
			series = append(series, model.Option[int]{Label: label, Value: r.SeriesID})
		}
	}
	return series, nil
}

// Files implements Service.
func (c *CatalogService) Files(ctx context.Context, subjectID, study string, modality model.Modality, seriesID int) (model.Result, error) {
	records, err := LoadCatalog(c.path)
	if err != nil {
		return model.Malformed(), err
	}

	files := []string{}
	for _, r := range records {
		if r.SubjectID == subjectID && r.Study == study && r.Modality == modality && r.SeriesID == seriesID && r.Path != "" {
			files = append(files, r.Path)
		}
	}
	return model.Sequence(files), nil
}
