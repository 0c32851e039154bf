// Package query defines the capability set the browser needs from the
// external database query service, plus the implementations shipped with it.
package query

import (
	"context"
	"errors"

	"github.com/meeg-cfin/studybrowser/pkg/model"
)

// Common errors
var (
	ErrToolNotFound = errors.New("query: database tool not found")
	ErrBadResponse  = errors.New("query: unreadable response")
)

// Service answers the four questions the cascade asks, top to bottom.
// Empty answers are normal and are not errors.
type Service interface {
	// Subjects lists every subject ID in display order
	Subjects(ctx context.Context) ([]string, error)

	// Studies lists the studies of a subject for one modality. The answer may
	// be a list or a single bare value.
	Studies(ctx context.Context, subjectID string, modality model.Modality, unique bool) (model.Result, error)

	// Series maps series labels to numeric IDs, in the order the backend
	// returned them
	Series(ctx context.Context, subjectID, study string, modality model.Modality) ([]model.Option[int], error)

	// Files lists the file paths of one series
	Files(ctx context.Context, subjectID, study string, modality model.Modality, seriesID int) (model.Result, error)
}
