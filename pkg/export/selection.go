// Package export writes the terminal selection for a containing application
// and serves it, with the query metrics, over a small status endpoint.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/meeg-cfin/studybrowser/pkg/model"
)

// Format is a manifest encoding
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts json, yaml or yml
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json", "":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unknown export format: %q", s)
}

// Manifest is the record handed to whoever consumes the selection
type Manifest struct {
	GeneratedAt time.Time            `json:"generated_at" yaml:"generated_at"`
	Complete    bool                 `json:"complete" yaml:"complete"`
	Stage       string               `json:"stage" yaml:"stage"`
	Selection   model.SelectionState `json:"selection" yaml:"selection"`
	Parameters  *model.ParameterSet  `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// NewManifest snapshots sel and, if given, params
func NewManifest(sel model.SelectionState, params *model.ParameterSet) Manifest {
	m := Manifest{
		GeneratedAt: time.Now().UTC(),
		Complete:    sel.Stage() == model.StageSeriesChosen,
		Stage:       sel.Stage().String(),
		Selection:   sel.Clone(),
	}
	if params != nil {
		p := params.Clone()
		m.Parameters = &p
	}
	return m
}

// WriteSelection encodes the manifest of sel to w
func WriteSelection(w io.Writer, sel model.SelectionState, params *model.ParameterSet, format Format) error {
	m := NewManifest(sel, params)
	switch format {
	case FormatJSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(m)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(m); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown export format: %q", format)
}
