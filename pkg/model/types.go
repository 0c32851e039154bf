package model

import (
	"fmt"
	"strings"
)

// Modality is the acquisition type a subject's studies are filed under
type Modality string

const (
	ModalityMEG Modality = "MEG"
	ModalityMR  Modality = "MR"
)

// DefaultModality is selected until the user picks another one
const DefaultModality = ModalityMEG

// Modalities lists the modalities in display order
var Modalities = []Modality{ModalityMEG, ModalityMR}

// IsValid returns true if the modality is a recognized value
func (m Modality) IsValid() bool {
	switch m {
	case ModalityMEG, ModalityMR:
		return true
	}
	return false
}

// ParseModality accepts the modality name case-insensitively
func ParseModality(s string) (Modality, error) {
	m := Modality(strings.ToUpper(strings.TrimSpace(s)))
	if !m.IsValid() {
		return "", fmt.Errorf("invalid modality: %q", s)
	}
	return m, nil
}

// Stage is how far down the cascade a selection has progressed
type Stage int

const (
	StageEmpty Stage = iota
	StageSubjectChosen
	StageStudyChosen
	StageSeriesChosen
)

func (s Stage) String() string {
	switch s {
	case StageSubjectChosen:
		return "subject"
	case StageStudyChosen:
		return "study"
	case StageSeriesChosen:
		return "series"
	default:
		return "empty"
	}
}

// SelectionState is the authoritative record of the current choices across
// all cascade stages. Empty strings and a zero SeriesID mean "not chosen".
type SelectionState struct {
	SubjectID  string   `json:"subject_id,omitempty" yaml:"subject_id,omitempty"`
	Modality   Modality `json:"modality" yaml:"modality"`
	Study      string   `json:"study,omitempty" yaml:"study,omitempty"`
	SeriesID   int      `json:"series_id,omitempty" yaml:"series_id,omitempty"`
	SeriesName string   `json:"series_name,omitempty" yaml:"series_name,omitempty"`
	Files      []string `json:"files,omitempty" yaml:"files,omitempty"`
}

// NewSelectionState returns an empty selection on the default modality
func NewSelectionState() SelectionState {
	return SelectionState{Modality: DefaultModality}
}

// Clone creates a deep copy of the selection
func (s SelectionState) Clone() SelectionState {
	clone := s
	if s.Files != nil {
		clone.Files = make([]string, len(s.Files))
		copy(clone.Files, s.Files)
	}
	return clone
}

// Stage derives the cascade stage from which fields are set
func (s SelectionState) Stage() Stage {
	switch {
	case s.SubjectID == "":
		return StageEmpty
	case s.Study == "":
		return StageSubjectChosen
	case s.SeriesID == SeriesSentinelValue:
		return StageStudyChosen
	default:
		return StageSeriesChosen
	}
}

// ClearFromStudy unsets the study and everything below it
func (s *SelectionState) ClearFromStudy() {
	s.Study = ""
	s.ClearFromSeries()
}

// ClearFromSeries unsets the series and its files
func (s *SelectionState) ClearFromSeries() {
	s.SeriesID = SeriesSentinelValue
	s.SeriesName = ""
	s.Files = nil
}

// Validate checks that no descendant is set while an ancestor is unset
func (s *SelectionState) Validate() error {
	if !s.Modality.IsValid() {
		return fmt.Errorf("invalid modality: %q", s.Modality)
	}
	if s.Study != "" && s.SubjectID == "" {
		return fmt.Errorf("study %q set without a subject", s.Study)
	}
	if s.SeriesID != SeriesSentinelValue && (s.Study == "" || s.SubjectID == "") {
		return fmt.Errorf("series %d set without a study and subject", s.SeriesID)
	}
	if s.SeriesID < 0 {
		return fmt.Errorf("invalid series id: %d", s.SeriesID)
	}
	if len(s.Files) > 0 && s.SeriesID == SeriesSentinelValue {
		return fmt.Errorf("files set without a series")
	}
	return nil
}
