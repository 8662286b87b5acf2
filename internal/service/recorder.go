package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gsitechorg/open-belex-debug/internal/domain"
	"github.com/gsitechorg/open-belex-debug/internal/repository"
)

const (
	recorderBacklog   = 1024
	recorderOpTimeout = 5 * time.Second
)

// recorder applies store writes in submission order on its own
// goroutine, so a slow database never holds up delivery.
type recorder struct {
	store  store.Store
	logger *slog.Logger
	ops    chan func(ctx context.Context) error

	mu      sync.Mutex
	closed  bool
	dropped int
	wg      sync.WaitGroup
}

func newRecorder(st store.Store, logger *slog.Logger) *recorder {
	r := &recorder{
		store:  st,
		logger: logger,
		ops:    make(chan func(ctx context.Context) error, recorderBacklog),
	}
	r.wg.Add(1)
	go r.loop()
	return r
}

func (r *recorder) loop() {
	defer r.wg.Done()
	for op := range r.ops {
		ctx, cancel := context.WithTimeout(context.Background(), recorderOpTimeout)
		if err := op(ctx); err != nil {
			r.logger.Warn("trace recording failed", "error", err)
		}
		cancel()
	}
}

// submit queues op and reports whether it was accepted. With wait false
// the op is dropped when the backlog is full.
func (r *recorder) submit(wait bool, op func(ctx context.Context) error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	if wait {
		r.ops <- op
		return true
	}
	select {
	case r.ops <- op:
		return true
	default:
		r.dropped++
		if r.dropped == 1 || r.dropped%100 == 0 {
			r.logger.Warn("trace recorder backlog full, dropping units", "dropped", r.dropped)
		}
		return false
	}
}

// close waits for queued writes to finish.
func (r *recorder) close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.ops)
	r.mu.Unlock()
	r.wg.Wait()
}

func (s *Service) onRunStart(runID string) {
	if s.recorder == nil {
		return
	}
	run := &domain.Run{RunID: runID, Status: domain.RunStatusRunning, StartedAt: time.Now()}
	s.recorder.submit(true, func(ctx context.Context) error {
		return s.recorder.store.CreateRun(ctx, run)
	})
}

func (s *Service) onRunStop(runID string, runErr error, cancelled bool) {
	if s.recorder == nil {
		return
	}
	status := domain.RunStatusDone
	var errData []byte
	switch {
	case cancelled:
		status = domain.RunStatusCancelled
	case runErr != nil:
		status = domain.RunStatusFailed
		errData, _ = json.Marshal(domain.RunError{Code: "execution_fault", Message: runErr.Error()})
	}
	s.recorder.submit(true, func(ctx context.Context) error {
		return s.recorder.store.CompleteRun(ctx, runID, status, errData)
	})
}

// flushRecorder waits until every write submitted so far was applied.
func (s *Service) flushRecorder(ctx context.Context) error {
	if s.recorder == nil {
		return nil
	}
	done := make(chan struct{})
	accepted := s.recorder.submit(true, func(context.Context) error {
		close(done)
		return nil
	})
	if !accepted {
		return errRecorderClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var errRecorderClosed = errors.New("recorder closed")
