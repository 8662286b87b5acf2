// Package runctl owns the run-state machine that (re)executes the observed
// program.
//
// The controller cycles Idle → Running → Idle. A run starts only when one
// was requested and the state is Idle; both are checked under the
// controller's lock, so two runs can never overlap. Restart drains the
// event queue, cancels the in-flight run and re-arms the run request.
package runctl

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/gsitechorg/open-belex-debug/internal/domain"
)

// Program is the external execution entry point. Run must return once ctx
// is cancelled; stdout and stderr are the capture streams for the run.
type Program interface {
	Run(ctx context.Context, stdout, stderr io.Writer) error
}

// Queue is the part of the event queue the controller drives.
type Queue interface {
	Push(domain.Event) error
	Drain() int
	Shutdown()
}

// Hooks observe run boundaries. They are called outside the controller's
// lock, from the run loop goroutine.
type Hooks struct {
	OnRunStart func(runID string)
	OnRunStop  func(runID string, err error, cancelled bool)
}

// Option configures a Controller.
type Option func(*Controller)

// WithStreams sets the writers handed to the program as stdout and stderr.
func WithStreams(stdout, stderr io.Writer) Option {
	return func(c *Controller) {
		c.stdout = stdout
		c.stderr = stderr
	}
}

// WithHooks sets the run boundary hooks.
func WithHooks(hooks Hooks) Option {
	return func(c *Controller) {
		c.hooks = hooks
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithRunIDFunc overrides run id generation.
func WithRunIDFunc(fn func() string) Option {
	return func(c *Controller) {
		c.newRunID = fn
	}
}

// Controller gates execution of the observed program.
type Controller struct {
	queue   Queue
	program Program
	stdout  io.Writer
	stderr  io.Writer
	hooks   Hooks
	logger  *slog.Logger

	newRunID func() string

	mu      sync.Mutex
	changed *sync.Cond
	state   domain.RunState
	// pending records a run request not yet picked up by the loop.
	pending bool
	closed  bool
	runID   string
	cancel  context.CancelFunc
	// generation increases on every restart of a running program so the
	// loop can tell that its run was superseded.
	generation uint64
}

// New creates a controller. The first run is requested immediately, so
// the program starts as soon as Serve is called.
func New(queue Queue, program Program, options ...Option) *Controller {
	c := &Controller{
		queue:    queue,
		program:  program,
		stdout:   io.Discard,
		stderr:   io.Discard,
		state:    domain.RunStateIdle,
		pending:  true,
		newRunID: defaultRunID,
	}
	c.changed = sync.NewCond(&c.mu)
	for _, option := range options {
		option(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

func defaultRunID() string {
	return "run_" + uuid.New().String()[:8]
}

// State returns the current run state.
func (c *Controller) State() domain.RunState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RunID returns the id of the run in progress, or "" when idle.
func (c *Controller) RunID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != domain.RunStateRunning {
		return ""
	}
	return c.runID
}

// Serve runs the loop until Shutdown is called or ctx ends. It returns
// after the in-flight run, if any, has returned.
func (c *Controller) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, c.Shutdown)
	defer stop()

	for {
		run, ok := c.awaitRun()
		if !ok {
			return nil
		}
		c.execute(run)
	}
}

type runTicket struct {
	ctx        context.Context
	cancel     context.CancelFunc
	id         string
	generation uint64
}

// awaitRun blocks until a run may start and claims it.
func (c *Controller) awaitRun() (runTicket, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for !c.closed && !(c.pending && c.state == domain.RunStateIdle) {
		c.changed.Wait()
	}
	if c.closed {
		return runTicket{}, false
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.pending = false
	c.state = domain.RunStateRunning
	c.runID = c.newRunID()
	c.cancel = cancel
	return runTicket{ctx: ctx, cancel: cancel, id: c.runID, generation: c.generation}, true
}

func (c *Controller) execute(run runTicket) {
	defer run.cancel()
	logger := c.logger.With("run_id", run.id)

	// The start hook runs before app::start is visible to consumers.
	if c.hooks.OnRunStart != nil {
		c.hooks.OnRunStart(run.id)
	}
	if err := c.queue.Push(domain.NewEvent(domain.TagAppStart, domain.Value{V: run.id})); err != nil {
		logger.Debug("queue closed before run start", "error", err)
		if c.hooks.OnRunStop != nil {
			c.hooks.OnRunStop(run.id, err, true)
		}
		c.finish(run)
		return
	}

	logger.Info("starting application")
	err := c.runProgram(run.ctx)
	cancelled := c.superseded(run)
	if err != nil && !cancelled {
		logger.Warn("application failed", "error", err)
		fmt.Fprintf(c.stderr, "%v\n", err)
	}
	c.flushStreams(logger)

	if cancelled {
		if n := c.queue.Drain(); n > 0 {
			logger.Debug("drained events of cancelled run", "count", n)
		}
	}
	if err := c.queue.Push(domain.NewEvent(domain.TagAppStop, domain.Value{V: run.id})); err != nil {
		logger.Debug("queue closed before run stop", "error", err)
	}
	logger.Info("application stopped", "cancelled", cancelled)

	if c.hooks.OnRunStop != nil {
		c.hooks.OnRunStop(run.id, err, cancelled)
	}
	c.finish(run)
}

// runProgram invokes the program and turns a panic into an error.
func (c *Controller) runProgram(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("program panicked: %v", r)
		}
	}()
	return c.program.Run(ctx, c.stdout, c.stderr)
}

type flusher interface {
	Flush() error
}

func (c *Controller) flushStreams(logger *slog.Logger) {
	for _, w := range []io.Writer{c.stdout, c.stderr} {
		if f, ok := w.(flusher); ok {
			if err := f.Flush(); err != nil {
				logger.Debug("flushing capture stream failed", "error", err)
			}
		}
	}
}

func (c *Controller) superseded(run runTicket) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed || c.generation != run.generation
}

func (c *Controller) finish(run runTicket) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = domain.RunStateIdle
	c.cancel = nil
	c.changed.Broadcast()
}

// RequestRestart resets the run. While running it drains the queue,
// cancels the program and flips to Idle; in both states it leaves a run
// request for the loop.
func (c *Controller) RequestRestart() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	if c.state == domain.RunStateRunning {
		drained := c.queue.Drain()
		c.generation++
		if c.cancel != nil {
			c.cancel()
		}
		c.state = domain.RunStateIdle
		c.logger.Info("restarting application", "run_id", c.runID, "drained", drained)
	}
	c.pending = true
	c.changed.Broadcast()
}

// Shutdown stops the loop for good, cancels the in-flight run and shuts
// the queue down. It is safe to call more than once.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.cancel != nil {
		c.cancel()
	}
	c.changed.Broadcast()
	c.mu.Unlock()

	c.queue.Shutdown()
}
