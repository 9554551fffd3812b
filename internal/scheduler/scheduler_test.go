package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsidianmc/controlplane/pkg/logger"
)

func TestSchedulerRunsDueTask(t *testing.T) {
	s := New(logger.New(), 20*time.Millisecond, time.Second)

	var runs int32
	task, err := EveryTask("t1", 30*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	})
	require.NoError(t, err)
	s.AddTask(task)

	require.NoError(t, s.Start())
	defer s.Stop()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&runs) >= 2
	}, time.Second, 10*time.Millisecond)
}

func TestStopWaitsForInFlightHandlers(t *testing.T) {
	s := New(logger.New(), 10*time.Millisecond, time.Second)

	started := make(chan struct{})
	finished := make(chan struct{})
	task, err := EveryTask("slow", 10*time.Millisecond, func(ctx context.Context) error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		close(finished)
		return nil
	})
	require.NoError(t, err)
	s.AddTask(task)
	require.NoError(t, s.Start())

	<-started
	require.NoError(t, s.Stop())

	select {
	case <-finished:
	default:
		t.Fatal("Stop returned before the in-flight handler finished")
	}
}

func TestStopAbandonsHandlerPastTimeout(t *testing.T) {
	s := New(logger.New(), 10*time.Millisecond, 20*time.Millisecond)

	started := make(chan struct{})
	task, err := EveryTask("stuck", 10*time.Millisecond, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)
	s.AddTask(task)
	require.NoError(t, s.Start())

	<-started

	done := make(chan struct{})
	go func() {
		_ = s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after stopTimeout elapsed")
	}
}

func TestAddTaskReplacesExistingID(t *testing.T) {
	s := New(logger.New(), time.Hour, time.Second)

	var calls int32
	first, err := EveryTask("dup", time.Hour, func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	require.NoError(t, err)
	second, err := EveryTask("dup", time.Hour, func(ctx context.Context) error {
		atomic.AddInt32(&calls, 10)
		return nil
	})
	require.NoError(t, err)

	s.AddTask(first)
	s.AddTask(second)

	s.mu.Lock()
	task := s.tasks["dup"]
	s.mu.Unlock()
	require.NotNil(t, task)

	_ = task.Handler(context.Background())
	assert.Equal(t, int32(10), atomic.LoadInt32(&calls))
}
