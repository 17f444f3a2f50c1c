package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff_Delay(t *testing.T) {
	b := Backoff{Base: 2 * time.Second, Max: 30 * time.Second}

	tests := []struct {
		attempt int
		full    time.Duration
	}{
		{0, 2 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{20, 30 * time.Second},
	}

	for _, tt := range tests {
		for i := 0; i < 20; i++ {
			d := b.Delay(tt.attempt)
			assert.GreaterOrEqual(t, d, tt.full/2, "attempt %d", tt.attempt)
			assert.LessOrEqual(t, d, tt.full, "attempt %d", tt.attempt)
		}
	}

	assert.Equal(t, time.Duration(0), Backoff{}.Delay(3))
}

func TestDispatcher_RunsAllTasks(t *testing.T) {
	var mu sync.Mutex
	seen := map[uuid.UUID]int{}
	d := NewDispatcher(3, func(_ context.Context, task Task) {
		mu.Lock()
		seen[task.ApplicationID] = task.Attempt
		mu.Unlock()
	}, false)

	ids := make([]uuid.UUID, 50)
	for i := range ids {
		ids[i] = uuid.New()
		d.Dispatch(Task{ApplicationID: ids[i], Stage: "scrape"})
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == len(ids)
	}, 2*time.Second, 5*time.Millisecond)

	for _, id := range ids {
		assert.Equal(t, 1, seen[id], "attempt defaults to 1")
	}

	cancel()
	assert.NoError(t, <-done)
}

func TestDispatcher_HandlersCanDispatchFollowUps(t *testing.T) {
	var count atomic.Int32
	var d *Dispatcher
	d = NewDispatcher(1, func(_ context.Context, task Task) {
		count.Add(1)
		if task.Attempt < 5 {
			d.Dispatch(Task{ApplicationID: task.ApplicationID, Stage: task.Stage, Attempt: task.Attempt + 1})
		}
	}, false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	d.Dispatch(Task{ApplicationID: uuid.New(), Stage: "craft"})
	require.Eventually(t, func() bool { return count.Load() == 5 }, 2*time.Second, 5*time.Millisecond)
}

func TestDispatcher_DispatchAfter(t *testing.T) {
	fired := make(chan time.Time, 1)
	d := NewDispatcher(1, func(context.Context, Task) { fired <- time.Now() }, false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	start := time.Now()
	d.DispatchAfter(Task{ApplicationID: uuid.New(), Stage: "submit"}, 30*time.Millisecond)
	assert.Equal(t, 1, d.Pending())

	select {
	case at := <-fired:
		assert.GreaterOrEqual(t, at.Sub(start), 30*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("delayed task never ran")
	}
}

func TestDispatcher_RecoversFromPanics(t *testing.T) {
	var count atomic.Int32
	d := NewDispatcher(1, func(_ context.Context, task Task) {
		count.Add(1)
		if task.Stage == "boom" {
			panic("handler exploded")
		}
	}, false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	d.Dispatch(Task{ApplicationID: uuid.New(), Stage: "boom"})
	d.Dispatch(Task{ApplicationID: uuid.New(), Stage: "fine"})
	require.Eventually(t, func() bool { return count.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestDispatcher_StopsDelayedTasksOnShutdown(t *testing.T) {
	d := NewDispatcher(1, func(context.Context, Task) {}, false)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = d.Run(ctx)
		close(done)
	}()

	d.DispatchAfter(Task{ApplicationID: uuid.New(), Stage: "scrape"}, time.Hour)
	cancel()
	<-done

	assert.Equal(t, 0, d.Pending())
	d.Dispatch(Task{ApplicationID: uuid.New(), Stage: "scrape"})
	assert.Equal(t, 0, d.Pending())
}

func TestPermanent(t *testing.T) {
	base := errors.New("no backend")
	err := Permanent(base)

	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, base)
	assert.False(t, IsPermanent(base))
	assert.Nil(t, Permanent(nil))

	wrapped := &StageError{Stage: "craft", Attempt: 2, Cause: err}
	assert.True(t, IsPermanent(wrapped))
	assert.Contains(t, wrapped.Error(), "craft")
}
