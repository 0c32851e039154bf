// Package batch turns a selection and a parameter set into an external
// processing command and runs it.
package batch

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/meeg-cfin/studybrowser/pkg/model"
)

// ErrNoFiles is returned when there is nothing to process
var ErrNoFiles = errors.New("batch: no files selected")

// Builder turns files and parameters into an argv
type Builder interface {
	Build(files []string, params model.ParameterSet) ([]string, error)
}

// TemplateBuilder passes every parameter through as one flag after a fixed
// argv prefix, followed by the files.
type TemplateBuilder struct {
	Prefix []string
}

// NewTemplateBuilder creates a builder with the given argv prefix
func NewTemplateBuilder(prefix ...string) *TemplateBuilder {
	return &TemplateBuilder{Prefix: append([]string(nil), prefix...)}
}

// Build implements Builder
func (b *TemplateBuilder) Build(files []string, params model.ParameterSet) ([]string, error) {
	if len(b.Prefix) == 0 {
		return nil, errors.New("batch: empty command prefix")
	}
	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("batch: %w", err)
	}

	argv := append([]string(nil), b.Prefix...)
	argv = append(argv,
		"--origin", formatFloat(params.Origin.X), formatFloat(params.Origin.Y), formatFloat(params.Origin.Z),
		"--frame", string(params.Frame),
		"--bad-mode", string(params.BadMode),
	)
	if len(params.BadChannels) > 0 {
		argv = append(argv, "--bad", strings.Join(params.BadChannels, ","))
	}
	if params.TemporalFilter {
		argv = append(argv,
			"--st",
			"--st-buflen", formatFloat(params.BufferSeconds),
			"--st-corr", formatFloat(params.CorrelationLimit),
		)
	}
	if params.MoveComp {
		argv = append(argv, "--movecomp")
		if params.MoveCompTarget != model.MoveCompTargetNone {
			argv = append(argv, "--movecomp-target", params.MoveCompTarget)
		}
	}
	if misc := strings.Fields(params.MiscArgs); len(misc) > 0 {
		argv = append(argv, misc...)
	}
	argv = append(argv, "--")
	argv = append(argv, files...)
	return argv, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
