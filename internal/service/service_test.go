package service

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gsitechorg/open-belex-debug/internal/adapter/program"
	"github.com/gsitechorg/open-belex-debug/internal/domain"
	"github.com/gsitechorg/open-belex-debug/internal/eventqueue"
	"github.com/gsitechorg/open-belex-debug/tests/helpers"
)

func startService(t *testing.T, svc *Service) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- svc.Serve(context.Background()) }()
	t.Cleanup(func() {
		svc.Shutdown()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Error("Serve did not return after shutdown")
		}
	})
}

func awaitTag(t *testing.T, svc *Service) domain.Unit {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got := make(chan domain.Unit, 1)
	errs := make(chan error, 1)
	go func() {
		unit, err := svc.AwaitUnit(ctx)
		if err != nil {
			errs <- err
			return
		}
		got <- unit
	}()
	select {
	case unit := <-got:
		return unit
	case err := <-errs:
		t.Fatalf("AwaitUnit failed: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a unit")
	}
	return domain.Unit{}
}

func TestServiceDeliversAndRecordsUnits(t *testing.T) {
	st := helpers.NewTestSQLiteStore(t)
	var svc *Service
	prog := program.Func(func(ctx context.Context, stdout, stderr io.Writer) error {
		fmt.Fprintln(stdout, "hello")
		if err := svc.Emit(domain.TagStatementEnter, domain.SourceLocation{FilePath: "k.py", LineNumber: 4}); err != nil {
			return err
		}
		if err := svc.Emit("seu::write", domain.IntList{7}); err != nil {
			return err
		}
		if err := svc.Emit("mov", domain.Value{V: "rl"}); err != nil {
			return err
		}
		return svc.Emit(domain.TagStatementExit)
	})

	var err error
	svc, err = New(prog, Options{QueueCapacity: 8, Store: st, CaptureOutput: true})
	require.NoError(t, err)
	startService(t, svc)

	start := awaitTag(t, svc)
	require.Equal(t, domain.TagAppStart, start.Tag)
	runID := runIDOf(start)
	require.NotEmpty(t, runID)

	var tags []string
	for {
		unit := awaitTag(t, svc)
		tags = append(tags, unit.Tag)
		if unit.Tag == domain.TagAppStop {
			break
		}
	}
	assert.Equal(t, []string{domain.TagStdout, domain.TagStatementEnter, "seu::write", domain.TagBatch, domain.TagAppStop}, tags)

	ctx := context.Background()
	require.Eventually(t, func() bool {
		run, err := svc.GetRun(ctx, runID)
		return err == nil && run.Status == domain.RunStatusDone
	}, 2*time.Second, 10*time.Millisecond)

	units, err := svc.GetRunUnits(ctx, runID, 0, 0)
	require.NoError(t, err)
	require.Len(t, units, 6)
	for i, unit := range units {
		assert.Equal(t, int64(i+1), unit.Seq)
	}
	assert.Equal(t, domain.TagBatch, units[4].Tag)
	assert.JSONEq(t, `["diri::batch",[["mov","rl"]]]`, string(units[4].Payload))

	runs, err := svc.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, runID, runs[0].RunID)
}

func TestServiceRestartRecordsCancelledRun(t *testing.T) {
	st := helpers.NewTestSQLiteStore(t)
	prog := program.Func(func(ctx context.Context, stdout, stderr io.Writer) error {
		<-ctx.Done()
		return ctx.Err()
	})
	svc, err := New(prog, Options{Store: st})
	require.NoError(t, err)
	startService(t, svc)

	first := runIDOf(awaitTag(t, svc))
	require.Eventually(t, func() bool { return svc.State().RunState == domain.RunStateRunning }, time.Second, 5*time.Millisecond)

	svc.Restart()

	stop := awaitTag(t, svc)
	assert.Equal(t, domain.TagAppStop, stop.Tag)
	next := awaitTag(t, svc)
	require.Equal(t, domain.TagAppStart, next.Tag)
	assert.NotEqual(t, first, runIDOf(next))

	ctx := context.Background()
	require.Eventually(t, func() bool {
		run, err := svc.GetRun(ctx, first)
		return err == nil && run.Status == domain.RunStatusCancelled
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServiceExecutionFaultRecorded(t *testing.T) {
	st := helpers.NewTestSQLiteStore(t)
	prog := program.Func(func(ctx context.Context, stdout, stderr io.Writer) error {
		return fmt.Errorf("kernel exploded")
	})
	svc, err := New(prog, Options{Store: st, CaptureOutput: true})
	require.NoError(t, err)
	startService(t, svc)

	runID := runIDOf(awaitTag(t, svc))
	fault := awaitTag(t, svc)
	assert.Equal(t, domain.TagStderr, fault.Tag)
	assert.Equal(t, domain.TagAppStop, awaitTag(t, svc).Tag)

	ctx := context.Background()
	require.Eventually(t, func() bool {
		run, err := svc.GetRun(ctx, runID)
		return err == nil && run.Status == domain.RunStatusFailed
	}, 2*time.Second, 10*time.Millisecond)
	run, err := svc.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Contains(t, string(run.Error), "kernel exploded")
}

func TestServiceShutdownReleasesAwaitingObserver(t *testing.T) {
	prog := program.Func(func(ctx context.Context, stdout, stderr io.Writer) error {
		<-ctx.Done()
		return nil
	})
	svc, err := New(prog, Options{})
	require.NoError(t, err)
	startService(t, svc)

	assert.Equal(t, domain.TagAppStart, awaitTag(t, svc).Tag)

	errs := make(chan error, 1)
	go func() {
		// app::stop may still slip in ahead of the queue shutdown.
		for {
			if _, err := svc.AwaitUnit(context.Background()); err != nil {
				errs <- err
				return
			}
		}
	}()
	time.Sleep(20 * time.Millisecond)
	svc.Shutdown()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, eventqueue.ErrShutdown)
	case <-time.After(2 * time.Second):
		t.Fatal("AwaitUnit was not released by shutdown")
	}
	select {
	case <-svc.Done():
	default:
		t.Fatal("Done not closed after shutdown")
	}
}

func TestServiceDisabledFeatures(t *testing.T) {
	svc, err := New(program.Func(func(ctx context.Context, stdout, stderr io.Writer) error { return nil }), Options{})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = svc.ListRuns(ctx, 10)
	assert.ErrorIs(t, err, ErrRecordingDisabled)
	_, err = svc.LoadFile(ctx, "/etc/hosts")
	assert.ErrorIs(t, err, ErrSourceViewDisabled)
	assert.False(t, svc.Recording())

	state := svc.State()
	assert.Equal(t, domain.RunStateIdle, state.RunState)
	assert.Equal(t, eventqueue.DefaultCapacity, state.QueueCap)
	svc.Shutdown()
}

func TestNewRejectsBadCapacity(t *testing.T) {
	_, err := New(program.Func(nil), Options{QueueCapacity: -1})
	assert.Error(t, err)
}
