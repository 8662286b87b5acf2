package eventqueue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gsitechorg/open-belex-debug/internal/domain"
)

func newTestQueue(t *testing.T, capacity int) *Queue {
	t.Helper()
	q, err := New(capacity)
	require.NoError(t, err)
	return q
}

func ev(tag string) domain.Event {
	return domain.NewEvent(tag)
}

func TestNewRejectsZeroCapacity(t *testing.T) {
	_, err := New(0)
	assert.Error(t, err)
}

func TestFIFOSingleProducer(t *testing.T) {
	q := newTestQueue(t, 4)
	for i := 0; i < 4; i++ {
		require.NoError(t, q.Push(ev(fmt.Sprint(i))))
	}
	for i := 0; i < 4; i++ {
		got, err := q.Pop()
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprint(i), got.Tag)
	}
}

func TestFIFOPerProducerAcrossProducers(t *testing.T) {
	const producers = 4
	const perProducer = 200
	q := newTestQueue(t, 8)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				if err := q.Push(domain.NewEvent(fmt.Sprint(p), domain.Value{V: i})); err != nil {
					t.Errorf("push: %v", err)
					return
				}
			}
		}(p)
	}

	next := make(map[string]int)
	for n := 0; n < producers*perProducer; n++ {
		got, err := q.Pop()
		require.NoError(t, err)
		assert.LessOrEqual(t, q.Len(), q.Cap())
		seq := got.Payload[0].Serialize().(int)
		require.Equal(t, next[got.Tag], seq, "producer %s out of order", got.Tag)
		next[got.Tag]++
	}
	wg.Wait()
}

func TestPushBlocksWhenFull(t *testing.T) {
	q := newTestQueue(t, 2)
	require.NoError(t, q.Push(ev("a")))
	require.NoError(t, q.Push(ev("b")))

	pushed := make(chan error, 1)
	go func() { pushed <- q.Push(ev("c")) }()

	select {
	case <-pushed:
		t.Fatal("push on a full queue returned before a pop")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 2, q.Len())

	got, err := q.Pop()
	require.NoError(t, err)
	assert.Equal(t, "a", got.Tag)

	select {
	case err := <-pushed:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("blocked producer not released by pop")
	}
	assert.Equal(t, 2, q.Len())
}

func TestShutdownReleasesAllWaiters(t *testing.T) {
	const producers, consumers = 5, 3

	full := newTestQueue(t, 1)
	require.NoError(t, full.Push(ev("fill")))
	empty := newTestQueue(t, 1)

	results := make(chan error, producers+consumers)
	for i := 0; i < producers; i++ {
		go func() { results <- full.Push(ev("blocked")) }()
	}
	for i := 0; i < consumers; i++ {
		go func() {
			_, err := empty.Pop()
			results <- err
		}()
	}

	time.Sleep(20 * time.Millisecond)
	full.Shutdown()
	empty.Shutdown()

	deadline := time.After(time.Second)
	for i := 0; i < producers+consumers; i++ {
		select {
		case err := <-results:
			assert.ErrorIs(t, err, ErrShutdown)
		case <-deadline:
			t.Fatalf("only %d of %d waiters released", i, producers+consumers)
		}
	}
	assert.Equal(t, 1, full.Len(), "blocked producers must not enqueue")
}

func TestPopDrainsAfterShutdown(t *testing.T) {
	q := newTestQueue(t, 4)
	require.NoError(t, q.Push(ev("a")))
	require.NoError(t, q.Push(ev("b")))
	q.Shutdown()
	q.Shutdown()

	assert.ErrorIs(t, q.Push(ev("c")), ErrShutdown)

	got, err := q.Pop()
	require.NoError(t, err)
	assert.Equal(t, "a", got.Tag)
	got, err = q.Pop()
	require.NoError(t, err)
	assert.Equal(t, "b", got.Tag)

	_, err = q.Pop()
	assert.ErrorIs(t, err, ErrShutdown)
	assert.False(t, q.Alive())
}

func TestDrainWakesProducers(t *testing.T) {
	q := newTestQueue(t, 1)
	require.NoError(t, q.Push(ev("a")))

	pushed := make(chan error, 1)
	go func() { pushed <- q.Push(ev("b")) }()
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 1, q.Drain())
	select {
	case err := <-pushed:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("drain did not release the blocked producer")
	}
	assert.True(t, q.Alive())

	got, err := q.Pop()
	require.NoError(t, err)
	assert.Equal(t, "b", got.Tag)
}

func TestJoinWaitsForAcknowledgement(t *testing.T) {
	q := newTestQueue(t, 4)
	require.NoError(t, q.Push(ev("a")))
	require.NoError(t, q.Push(ev("b")))
	require.NoError(t, q.Push(ev("c")))

	joined := make(chan error, 1)
	go func() { joined <- q.Join(context.Background()) }()

	_, err := q.Pop()
	require.NoError(t, err)
	q.Done()

	select {
	case <-joined:
		t.Fatal("join returned with unacknowledged events")
	case <-time.After(30 * time.Millisecond):
	}

	// The remaining two are acknowledged by a drain.
	assert.Equal(t, 2, q.Drain())
	select {
	case err := <-joined:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("join did not return")
	}
}

func TestJoinHonoursContext(t *testing.T) {
	q := newTestQueue(t, 1)
	require.NoError(t, q.Push(ev("a")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Join(ctx), context.DeadlineExceeded)
}

func TestJoinReturnsOnShutdown(t *testing.T) {
	q := newTestQueue(t, 1)
	require.NoError(t, q.Push(ev("a")))

	joined := make(chan error, 1)
	go func() { joined <- q.Join(context.Background()) }()
	time.Sleep(10 * time.Millisecond)
	q.Shutdown()

	select {
	case err := <-joined:
		assert.ErrorIs(t, err, ErrShutdown)
	case <-time.After(time.Second):
		t.Fatal("join not released by shutdown")
	}
}
