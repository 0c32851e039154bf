// Package panel holds the processing parameters chosen next to the
// selector and submits them, unchanged, together with the selected files.
package panel

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/meeg-cfin/studybrowser/pkg/model"
)

// Submitter runs the processing command for a complete selection
type Submitter interface {
	Launch(ctx context.Context, sel model.SelectionState, params model.ParameterSet) (*model.Launch, error)
}

// Panel is the parameter panel. Every setter touches one field only.
type Panel struct {
	params model.ParameterSet
	reader HeaderReader
	fitter OriginFitter
	logger *slog.Logger
}

// New creates a panel with default parameters
func New(reader HeaderReader, fitter OriginFitter, logger *slog.Logger) *Panel {
	if reader == nil {
		reader = PointsFileReader{}
	}
	if fitter == nil {
		fitter = SphereFitter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Panel{
		params: model.DefaultParameters(),
		reader: reader,
		fitter: fitter,
		logger: logger,
	}
}

// Params returns a copy of the current parameters
func (p *Panel) Params() model.ParameterSet {
	return p.params.Clone()
}

// Replace sets all parameters at once, e.g. from a submitted form
func (p *Panel) Replace(params model.ParameterSet) error {
	if err := params.Validate(); err != nil {
		return err
	}
	p.params = params.Clone()
	return nil
}

// Reset restores the defaults
func (p *Panel) Reset() {
	p.params = model.DefaultParameters()
}

// SetOrigin sets the origin in millimetres
func (p *Panel) SetOrigin(o model.Origin) {
	p.params.Origin = o
}

// SetFrame sets the coordinate frame of the origin
func (p *Panel) SetFrame(f model.Frame) error {
	if !f.IsValid() {
		return fmt.Errorf("invalid frame: %q", f)
	}
	p.params.Frame = f
	return nil
}

// SetBadChannels parses a comma or space separated channel list
func (p *Panel) SetBadChannels(list string) {
	p.params.BadChannels = model.ParseChannelList(list)
}

// SetBadMode sets how bad channels are determined
func (p *Panel) SetBadMode(m model.BadMode) error {
	if !m.IsValid() {
		return fmt.Errorf("invalid bad channel mode: %q", m)
	}
	p.params.BadMode = m
	return nil
}

// SetTemporalFilter toggles temporal filtering and sets its sub-parameters
func (p *Panel) SetTemporalFilter(enabled bool, bufferSeconds, corrLimit float64) {
	p.params.TemporalFilter = enabled
	p.params.BufferSeconds = bufferSeconds
	p.params.CorrelationLimit = corrLimit
}

// SetMovementComp toggles movement compensation
func (p *Panel) SetMovementComp(enabled bool, target string) {
	p.params.MoveComp = enabled
	p.params.MoveCompTarget = target
}

// SetMiscArgs sets extra arguments passed through to the command
func (p *Panel) SetMiscArgs(args string) {
	p.params.MiscArgs = args
}

// FitOrigin reads the digitization points from headerPath and sets the
// origin to the centre of the best-fitting sphere in the current frame.
func (p *Panel) FitOrigin(ctx context.Context, headerPath string) (model.Origin, error) {
	points, err := p.reader.ReadPoints(ctx, headerPath)
	if err != nil {
		return model.Origin{}, err
	}
	origin, radius, err := p.fitter.Fit(points, p.params.Frame)
	if err != nil {
		return model.Origin{}, err
	}
	p.logger.Info("fitted origin", "origin", origin.String(), "radius", radius, "points", len(points))
	p.params.Origin = origin
	return origin, nil
}

// Submit launches the processing command for sel with the current
// parameters.
func (p *Panel) Submit(ctx context.Context, sub Submitter, sel model.SelectionState) (*model.Launch, error) {
	if err := p.params.Validate(); err != nil {
		return nil, err
	}
	return sub.Launch(ctx, sel, p.params.Clone())
}
