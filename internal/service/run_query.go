package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/gsitechorg/open-belex-debug/internal/domain"
)

// GetRun returns one recorded run.
func (s *Service) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	if err := s.syncRecorder(ctx); err != nil {
		return nil, err
	}
	run, err := s.recorder.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns recorded runs, newest first.
func (s *Service) ListRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	if err := s.syncRecorder(ctx); err != nil {
		return nil, err
	}
	runs, err := s.recorder.store.ListRuns(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// GetRunUnits returns the units recorded for a run after afterSeq.
func (s *Service) GetRunUnits(ctx context.Context, runID string, afterSeq int64, limit int) ([]domain.RecordedUnit, error) {
	if err := s.syncRecorder(ctx); err != nil {
		return nil, err
	}
	units, err := s.recorder.store.GetUnits(ctx, runID, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get run units: %w", err)
	}
	return units, nil
}

// syncRecorder makes writes submitted before the query visible to it.
// After shutdown the recorder is closed and already drained.
func (s *Service) syncRecorder(ctx context.Context) error {
	if s.recorder == nil {
		return ErrRecordingDisabled
	}
	if err := s.flushRecorder(ctx); err != nil && !errors.Is(err, errRecorderClosed) {
		return err
	}
	return nil
}
