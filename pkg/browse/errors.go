package browse

import (
	"errors"
	"fmt"
	"strings"
)

// Common errors
var (
	ErrSeriesNotFound  = errors.New("browse: series not in option set")
	ErrAncestorMissing = errors.New("browse: ancestor not selected")
	ErrInvalidModality = errors.New("browse: invalid modality")
)

// LookupError is returned when a series is selected that the current series
// option set does not contain. It means a caller broke the cascade ordering
// and is not a data condition.
type LookupError struct {
	SeriesID int
	Label    string
	Offered  []string
}

func (e *LookupError) Error() string {
	what := fmt.Sprintf("id %d", e.SeriesID)
	if e.Label != "" {
		what = fmt.Sprintf("label %q", e.Label)
	}
	return fmt.Sprintf("series lookup failed: %s not among [%s]", what, strings.Join(e.Offered, ", "))
}

// Unwrap lets errors.Is match ErrSeriesNotFound
func (e *LookupError) Unwrap() error {
	return ErrSeriesNotFound
}
