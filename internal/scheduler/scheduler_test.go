package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextTimesAlignsToInterval(t *testing.T) {
	s := NewAlignedScheduler(context.Background(), 5*time.Minute, 10*time.Second)
	now := time.Date(2026, 4, 1, 10, 7, 30, 0, time.UTC)

	boundary, wakeAt, untilBoundary, wait := s.nextTimes(now)
	assert.Equal(t, time.Date(2026, 4, 1, 10, 10, 0, 0, time.UTC), boundary)
	assert.Equal(t, time.Date(2026, 4, 1, 10, 10, 10, 0, time.UTC), wakeAt)
	assert.Equal(t, 150*time.Second, untilBoundary)
	assert.Equal(t, 160*time.Second, wait)
}

func TestNextTimesOnBoundary(t *testing.T) {
	s := NewAlignedScheduler(context.Background(), time.Minute, 0)
	now := time.Date(2026, 4, 1, 10, 7, 0, 0, time.UTC)
	boundary, _, _, wait := s.nextTimes(now)
	assert.Equal(t, now.Add(time.Minute), boundary)
	assert.Equal(t, time.Minute, wait)
}

func TestStartRunsImmediatelyAndStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewAlignedScheduler(ctx, time.Hour, 0)
	s.Name = "test"
	s.RunImmediately = true

	var runs atomic.Int32
	done := make(chan struct{})
	go func() {
		s.Start(func() { runs.Add(1) })
		close(done)
	}()

	assert.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Equal(t, int32(1), runs.Load())
}

func TestStartRejectsInvalidInterval(t *testing.T) {
	s := NewAlignedScheduler(context.Background(), 0, 0)
	called := false
	s.Start(func() { called = true })
	assert.False(t, called)
}

func TestStartFiresOnTick(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewAlignedScheduler(ctx, 20*time.Millisecond, 0)

	var runs atomic.Int32
	go s.Start(func() { runs.Add(1) })
	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
}
