package model

// Sentinel entries that prefix every option set
const (
	SubjectSentinel     = ""
	StudySentinel       = "---"
	SeriesSentinelLabel = "---"
	SeriesSentinelValue = 0
)

// Option is one label/value pair offered by a selection field
type Option[V comparable] struct {
	Label string `json:"label" yaml:"label"`
	Value V      `json:"value" yaml:"value"`
}

// OptionSet is the ordered label->value mapping a field currently offers.
// It is replaced wholesale on upstream changes and never appended to.
type OptionSet[V comparable] struct {
	options []Option[V]
}

// NewOptionSet copies opts into a new set
func NewOptionSet[V comparable](opts ...Option[V]) OptionSet[V] {
	cp := make([]Option[V], len(opts))
	copy(cp, opts)
	return OptionSet[V]{options: cp}
}

// LabelOptions builds a set whose labels double as values, prefixed by sentinel
func LabelOptions(sentinel string, labels []string) OptionSet[string] {
	opts := make([]Option[string], 0, len(labels)+1)
	opts = append(opts, Option[string]{Label: sentinel, Value: sentinel})
	for _, l := range labels {
		opts = append(opts, Option[string]{Label: l, Value: l})
	}
	return OptionSet[string]{options: opts}
}

// SubjectOptions is the subject field's set: "" followed by the subjects
func SubjectOptions(subjects []string) OptionSet[string] {
	return LabelOptions(SubjectSentinel, subjects)
}

// StudyOptions is the study field's set: "---" followed by the studies
func StudyOptions(studies []string) OptionSet[string] {
	return LabelOptions(StudySentinel, studies)
}

// EmptySeriesOptions is the series field's reset state {"---": 0}
func EmptySeriesOptions() OptionSet[int] {
	return NewOptionSet(Option[int]{Label: SeriesSentinelLabel, Value: SeriesSentinelValue})
}

// Options returns a copy of the entries in display order
func (o OptionSet[V]) Options() []Option[V] {
	cp := make([]Option[V], len(o.options))
	copy(cp, o.options)
	return cp
}

// Len returns the number of entries including the sentinel
func (o OptionSet[V]) Len() int {
	return len(o.options)
}

// At returns the i-th entry
func (o OptionSet[V]) At(i int) Option[V] {
	return o.options[i]
}

// Labels returns the labels in display order
func (o OptionSet[V]) Labels() []string {
	labels := make([]string, len(o.options))
	for i, opt := range o.options {
		labels[i] = opt.Label
	}
	return labels
}

// Values returns the values in display order
func (o OptionSet[V]) Values() []V {
	values := make([]V, len(o.options))
	for i, opt := range o.options {
		values[i] = opt.Value
	}
	return values
}

// Lookup finds the value for a label
func (o OptionSet[V]) Lookup(label string) (V, bool) {
	for _, opt := range o.options {
		if opt.Label == label {
			return opt.Value, true
		}
	}
	var zero V
	return zero, false
}

// IndexOf returns the position of the first entry holding value, or -1
func (o OptionSet[V]) IndexOf(value V) int {
	for i, opt := range o.options {
		if opt.Value == value {
			return i
		}
	}
	return -1
}

// Invert maps each value back to its label. When several labels share a
// value the one appearing last wins.
func (o OptionSet[V]) Invert() map[V]string {
	inv := make(map[V]string, len(o.options))
	for _, opt := range o.options {
		inv[opt.Value] = opt.Label
	}
	return inv
}

// Equal reports whether both sets hold the same entries in the same order
func (o OptionSet[V]) Equal(other OptionSet[V]) bool {
	if len(o.options) != len(other.options) {
		return false
	}
	for i := range o.options {
		if o.options[i] != other.options[i] {
			return false
		}
	}
	return true
}
