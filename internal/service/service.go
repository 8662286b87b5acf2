package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/gsitechorg/open-belex-debug/internal/adapter/sourceview"
	"github.com/gsitechorg/open-belex-debug/internal/capture"
	"github.com/gsitechorg/open-belex-debug/internal/classifier"
	"github.com/gsitechorg/open-belex-debug/internal/domain"
	"github.com/gsitechorg/open-belex-debug/internal/eventqueue"
	"github.com/gsitechorg/open-belex-debug/internal/repository"
	"github.com/gsitechorg/open-belex-debug/internal/runctl"
)

// ErrRecordingDisabled is returned by trace queries when no store is
// configured.
var ErrRecordingDisabled = errors.New("trace recording is disabled")

// ErrSourceViewDisabled is returned by LoadFile when no source view is
// configured.
var ErrSourceViewDisabled = errors.New("source view is disabled")

// Options configures a Service.
type Options struct {
	QueueCapacity int
	// Store records delivered units; nil disables recording.
	Store store.Store
	// Sources serves load_file; nil disables it.
	Sources *sourceview.Service
	// CaptureOutput turns program stdout/stderr into events. Output is
	// forwarded to Stdout and Stderr either way.
	CaptureOutput bool
	Stdout        io.Writer
	Stderr        io.Writer
	Logger        *slog.Logger
}

// Service is the relay context object: it owns the event queue, the run
// controller, the classifier and the recorder for one observed program.
type Service struct {
	queue      *eventqueue.Queue
	controller *runctl.Controller
	sources    *sourceview.Service
	recorder   *recorder
	logger     *slog.Logger

	// classifyMu serializes await_app_event requests from all sessions.
	classifyMu   sync.Mutex
	classifier   *classifier.Classifier
	deliveredRun string
	deliveredSeq int64

	shutdownOnce sync.Once
	done         chan struct{}
}

// New creates the service for program. The program starts once Serve is
// called.
func New(program runctl.Program, opts Options) (*Service, error) {
	if opts.QueueCapacity == 0 {
		opts.QueueCapacity = eventqueue.DefaultCapacity
	}
	queue, err := eventqueue.New(opts.QueueCapacity)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		queue:      queue,
		sources:    opts.Sources,
		logger:     logger,
		classifier: classifier.New(queue),
		done:       make(chan struct{}),
	}
	if opts.Store != nil {
		s.recorder = newRecorder(opts.Store, logger)
	}

	stdout, stderr := opts.Stdout, opts.Stderr
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	if opts.CaptureOutput {
		stdout = capture.NewStdout(queue.Push, stdout)
		stderr = capture.NewStderr(queue.Push, stderr)
	}

	s.controller = runctl.New(queue, program,
		runctl.WithStreams(stdout, stderr),
		runctl.WithLogger(logger),
		runctl.WithHooks(runctl.Hooks{
			OnRunStart: s.onRunStart,
			OnRunStop:  s.onRunStop,
		}),
	)
	return s, nil
}

// Serve runs the program loop until Shutdown is called or ctx ends.
func (s *Service) Serve(ctx context.Context) error {
	err := s.controller.Serve(ctx)
	s.Shutdown()
	if s.recorder != nil {
		s.recorder.close()
	}
	return err
}

// Emit pushes one event produced by the program. It blocks while the
// queue is full and fails with eventqueue.ErrShutdown once the service
// is shutting down.
func (s *Service) Emit(tag string, components ...domain.Serializable) error {
	return s.queue.Push(domain.NewEvent(tag, components...))
}

// EmitEvent pushes a decoded event.
func (s *Service) EmitEvent(event domain.Event) error {
	return s.queue.Push(event)
}

// Restart drains pending events and re-runs the program.
func (s *Service) Restart() {
	s.controller.RequestRestart()
}

// Shutdown stops the program and releases every waiter. It is safe to
// call more than once.
func (s *Service) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.logger.Info("shutting down relay")
		s.controller.Shutdown()
		close(s.done)
	})
}

// Done is closed once Shutdown was called.
func (s *Service) Done() <-chan struct{} {
	return s.done
}

// Snapshot is the observable state of the relay.
type Snapshot struct {
	RunState domain.RunState `json:"run_state"`
	RunID    string          `json:"run_id,omitempty"`
	QueueLen int             `json:"queue_len"`
	QueueCap int             `json:"queue_cap"`
}

// State returns the current run state and queue fill.
func (s *Service) State() Snapshot {
	return Snapshot{
		RunState: s.controller.State(),
		RunID:    s.controller.RunID(),
		QueueLen: s.queue.Len(),
		QueueCap: s.queue.Cap(),
	}
}

// Recording reports whether delivered units are persisted.
func (s *Service) Recording() bool {
	return s.recorder != nil
}
