package model

import (
	"fmt"
	"strings"
)

// Frame is the coordinate frame the origin is expressed in
type Frame string

const (
	FrameHead   Frame = "head"
	FrameDevice Frame = "device"
)

// IsValid returns true if the frame is a recognized value
func (f Frame) IsValid() bool {
	switch f {
	case FrameHead, FrameDevice:
		return true
	}
	return false
}

// BadMode controls how bad channels are determined
type BadMode string

const (
	BadModeManual BadMode = "manual"
	BadModeAuto   BadMode = "auto"
	BadModeBoth   BadMode = "both"
)

// IsValid returns true if the bad-channel mode is a recognized value
func (b BadMode) IsValid() bool {
	switch b {
	case BadModeManual, BadModeAuto, BadModeBoth:
		return true
	}
	return false
}

// Movement compensation targets
const (
	MoveCompTargetNone    = ""
	MoveCompTargetHeadPos = "headpos"
	MoveCompTargetInitial = "initial"
)

// Origin is a point in millimetres
type Origin struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
}

func (o Origin) String() string {
	return fmt.Sprintf("%.1f %.1f %.1f", o.X, o.Y, o.Z)
}

// ParameterSet is the flat configuration handed to the batch builder.
// Fields are independent of each other.
type ParameterSet struct {
	Origin      Origin   `json:"origin" yaml:"origin"`
	Frame       Frame    `json:"frame" yaml:"frame"`
	BadChannels []string `json:"bad_channels,omitempty" yaml:"bad_channels,omitempty"`
	BadMode     BadMode  `json:"bad_mode" yaml:"bad_mode"`

	TemporalFilter   bool    `json:"temporal_filter" yaml:"temporal_filter"`
	BufferSeconds    float64 `json:"buffer_seconds" yaml:"buffer_seconds"`
	CorrelationLimit float64 `json:"correlation_limit" yaml:"correlation_limit"`

	MoveComp       bool   `json:"movement_compensation" yaml:"movement_compensation"`
	MoveCompTarget string `json:"movement_compensation_target,omitempty" yaml:"movement_compensation_target,omitempty"`

	MiscArgs string `json:"misc_args,omitempty" yaml:"misc_args,omitempty"`
}

// DefaultParameters returns the values the panel starts with
func DefaultParameters() ParameterSet {
	return ParameterSet{
		Origin:           Origin{X: 0, Y: 0, Z: 40},
		Frame:            FrameHead,
		BadMode:          BadModeBoth,
		BufferSeconds:    16,
		CorrelationLimit: 0.96,
	}
}

// Clone creates a deep copy of the parameters
func (p ParameterSet) Clone() ParameterSet {
	clone := p
	if p.BadChannels != nil {
		clone.BadChannels = make([]string, len(p.BadChannels))
		copy(clone.BadChannels, p.BadChannels)
	}
	return clone
}

// Validate checks each field on its own; no field constrains another
// except that a disabled option's sub-parameters are ignored.
func (p *ParameterSet) Validate() error {
	if !p.Frame.IsValid() {
		return fmt.Errorf("invalid frame: %q", p.Frame)
	}
	if !p.BadMode.IsValid() {
		return fmt.Errorf("invalid bad channel mode: %q", p.BadMode)
	}
	for _, ch := range p.BadChannels {
		if strings.TrimSpace(ch) == "" {
			return fmt.Errorf("bad channel list contains an empty name")
		}
	}
	if p.TemporalFilter {
		if p.BufferSeconds <= 0 {
			return fmt.Errorf("buffer length must be positive, got %g", p.BufferSeconds)
		}
		if p.CorrelationLimit <= 0 || p.CorrelationLimit > 1 {
			return fmt.Errorf("correlation limit must be in (0, 1], got %g", p.CorrelationLimit)
		}
	}
	if p.MoveComp {
		switch p.MoveCompTarget {
		case MoveCompTargetNone, MoveCompTargetHeadPos, MoveCompTargetInitial:
		default:
			return fmt.Errorf("invalid movement compensation target: %q", p.MoveCompTarget)
		}
	}
	return nil
}

// ParseChannelList splits a comma or whitespace separated channel list
func ParseChannelList(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	if len(fields) == 0 {
		return nil
	}
	return fields
}
