// Package store persists recorded runs and their delivered units.
package store

import (
	"context"
	"errors"

	"github.com/gsitechorg/open-belex-debug/internal/domain"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the interface for trace persistence.
type Store interface {
	// Run operations
	CreateRun(ctx context.Context, run *domain.Run) error
	CompleteRun(ctx context.Context, runID string, status domain.RunStatus, errData []byte) error
	GetRun(ctx context.Context, runID string) (*domain.Run, error)
	ListRuns(ctx context.Context, limit int) ([]domain.Run, error)

	// Unit operations
	AppendUnit(ctx context.Context, unit *domain.RecordedUnit) error
	GetUnits(ctx context.Context, runID string, afterSeq int64, limit int) ([]domain.RecordedUnit, error)

	// Lifecycle
	Close() error
}
