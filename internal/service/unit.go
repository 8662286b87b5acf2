package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gsitechorg/open-belex-debug/internal/domain"
)

// AwaitUnit blocks until the classifier produces the next unit. Requests
// from several sessions are served one at a time in arrival order.
func (s *Service) AwaitUnit(ctx context.Context) (domain.Unit, error) {
	s.classifyMu.Lock()
	defer s.classifyMu.Unlock()

	unit, err := s.classifier.Next(ctx)
	if err != nil {
		return domain.Unit{}, err
	}

	if unit.Tag == domain.TagAppStart {
		s.deliveredRun = runIDOf(unit)
		s.deliveredSeq = 0
	}
	if s.recorder != nil && s.deliveredRun != "" {
		s.deliveredSeq++
		s.recordUnit(s.deliveredRun, s.deliveredSeq, unit)
	}
	return unit, nil
}

func runIDOf(unit domain.Unit) string {
	if len(unit.Payload) == 0 || unit.Payload[0] == nil {
		return ""
	}
	id, _ := unit.Payload[0].Serialize().(string)
	return id
}

// recordUnit queues the unit for the recorder without waiting for it.
func (s *Service) recordUnit(runID string, seq int64, unit domain.Unit) {
	payload, err := json.Marshal(unit.Serialize())
	if err != nil {
		s.logger.Warn("failed to marshal unit for recording", "run_id", runID, "tag", unit.Tag, "error", err)
		return
	}
	recorded := &domain.RecordedUnit{
		RunID:   runID,
		Seq:     seq,
		Ts:      time.Now().UnixMilli(),
		Tag:     unit.Tag,
		Payload: payload,
	}
	s.recorder.submit(false, func(ctx context.Context) error {
		return s.recorder.store.AppendUnit(ctx, recorded)
	})
}
