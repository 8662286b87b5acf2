// Package classifier collapses the fine-grained event stream into the
// units an observer steps through.
//
// Statement and multi-statement spans are the unit of interest: what
// happens inside an open span is accumulated and delivered as one
// diri::batch unit when the span closes. Side-channel events (seu::*,
// stdout, stderr) and lifecycle events are always delivered at once.
package classifier

import (
	"context"

	"github.com/gsitechorg/open-belex-debug/internal/domain"
)

// Source is the consumer side of the event queue.
type Source interface {
	Pop() (domain.Event, error)
	Done()
}

// Classifier holds the span state across events. It is not safe for
// concurrent use; callers serialize access.
type Classifier struct {
	src Source

	inMultiStatement bool
	inStatement      bool
	batch            []domain.Event
}

// New returns a classifier outside of any span that pulls from src.
func New(src Source) *Classifier {
	return &Classifier{src: src}
}

// InSpan reports whether a statement or multi-statement span is open.
func (c *Classifier) InSpan() bool {
	return c.inMultiStatement || c.inStatement
}

// Pending returns the number of accumulated events.
func (c *Classifier) Pending() int {
	return len(c.batch)
}

// Reset closes every span and drops the accumulator.
func (c *Classifier) Reset() {
	c.inMultiStatement = false
	c.inStatement = false
	c.batch = nil
}

// Classify applies the decision table to one event. It returns the unit
// to deliver and true, or false when the event was discarded or
// accumulated.
func (c *Classifier) Classify(event domain.Event) (domain.Unit, bool) {
	switch event.Kind() {
	case domain.KindFragmentEnter:
		return event, true

	case domain.KindFragmentExit:
		return domain.Unit{}, false

	case domain.KindMultiStatementEnter:
		c.inMultiStatement = true
		return event, true

	case domain.KindMultiStatementExit:
		c.inMultiStatement = false
		return c.flush(), true

	case domain.KindStatementEnter:
		c.inStatement = true
		if !c.inMultiStatement {
			return event, true
		}
		c.batch = append(c.batch, event)
		return domain.Unit{}, false

	case domain.KindStatementExit:
		c.inStatement = false
		if !c.inMultiStatement {
			return c.flush(), true
		}
		c.batch = append(c.batch, event)
		return domain.Unit{}, false

	case domain.KindSideChannel:
		return event, true

	case domain.KindLifecycle:
		if event.Tag == domain.TagAppStart {
			c.Reset()
		}
		return event, true

	case domain.KindOther:
		if !c.InSpan() {
			return event, true
		}
		c.batch = append(c.batch, event)
		return domain.Unit{}, false
	}
	return event, true
}

func (c *Classifier) flush() domain.Unit {
	unit := domain.NewBatchUnit(c.batch)
	c.batch = c.batch[:0]
	return unit
}

// Next pops events until one unit is ready. Every popped event is
// acknowledged after classification. ctx is checked between pops; a
// blocked Pop is only released by the queue's shutdown.
func (c *Classifier) Next(ctx context.Context) (domain.Unit, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.Unit{}, err
		}
		event, err := c.src.Pop()
		if err != nil {
			return domain.Unit{}, err
		}
		unit, ok := c.Classify(event)
		c.src.Done()
		if ok {
			return unit, nil
		}
	}
}
