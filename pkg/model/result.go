package model

import (
	"bytes"
	"encoding/json"
)

// Shape tags what a query actually returned
type Shape int

const (
	ShapeSequence Shape = iota
	ShapeScalar
	ShapeMalformed
)

func (s Shape) String() string {
	switch s {
	case ShapeSequence:
		return "sequence"
	case ShapeScalar:
		return "scalar"
	default:
		return "malformed"
	}
}

// Result is a query answer that is either a list of strings, a single bare
// string, or something unusable. Callers normalize it once at the boundary.
type Result struct {
	shape  Shape
	items  []string
	scalar string
}

// Sequence wraps a list result
func Sequence(items []string) Result {
	cp := make([]string, len(items))
	copy(cp, items)
	return Result{shape: ShapeSequence, items: cp}
}

// Scalar wraps a single bare value
func Scalar(value string) Result {
	return Result{shape: ShapeScalar, scalar: value}
}

// Malformed is a result that is neither a list nor a string
func Malformed() Result {
	return Result{shape: ShapeMalformed}
}

// Shape returns the tag
func (r Result) Shape() Shape {
	return r.shape
}

// IsSequence returns true if the query returned a list
func (r Result) IsSequence() bool {
	return r.shape == ShapeSequence
}

// Items returns the list for sequence results and nil otherwise
func (r Result) Items() []string {
	if r.shape != ShapeSequence {
		return nil
	}
	cp := make([]string, len(r.items))
	copy(cp, r.items)
	return cp
}

// Normalize turns a scalar into a one-element list and a malformed result
// into an empty one. An empty scalar counts as no value.
func (r Result) Normalize() []string {
	switch r.shape {
	case ShapeSequence:
		return r.Items()
	case ShapeScalar:
		if r.scalar == "" {
			return []string{}
		}
		return []string{r.scalar}
	default:
		return []string{}
	}
}

// DecodeResult interprets a JSON payload as a Result. Lists of strings are
// sequences, strings are scalars, anything else (including lists holding
// non-strings) is malformed.
func DecodeResult(data []byte) Result {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Malformed()
	}

	switch data[0] {
	case '[':
		var items []string
		if err := json.Unmarshal(data, &items); err != nil {
			return Malformed()
		}
		return Sequence(items)
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return Malformed()
		}
		return Scalar(s)
	}
	return Malformed()
}

// MarshalJSON writes the result in the shape it was received in
func (r Result) MarshalJSON() ([]byte, error) {
	switch r.shape {
	case ShapeSequence:
		if r.items == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(r.items)
	case ShapeScalar:
		return json.Marshal(r.scalar)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON is the inverse of MarshalJSON
func (r *Result) UnmarshalJSON(data []byte) error {
	*r = DecodeResult(data)
	return nil
}
