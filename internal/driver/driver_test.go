package driver_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yinyin/filewatcher/internal/driver"
)

type recordingSink struct {
	mu     sync.Mutex
	events []driver.Event
}

func (s *recordingSink) OnChange(name, relpath, code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, driver.Event{Name: name, RelPath: relpath, Code: code})
}

func (s *recordingSink) snapshot() []driver.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]driver.Event, len(s.events))
	copy(out, s.events)
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRun_DispatchesPostedEventsInOrder(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	d := driver.New(discardLogger(), sink, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	d.Post(driver.Event{Name: "a.txt", Code: "new"})
	d.Post(driver.Event{Name: "b.txt", Code: "modified"})

	require.Eventually(t, func() bool {
		return len(sink.snapshot()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	events := sink.snapshot()
	require.Equal(t, "a.txt", events[0].Name)
	require.Equal(t, "b.txt", events[1].Name)

	cancel()
	require.NoError(t, <-done)
}

func TestRun_InvokesDuePeriodicalCalls(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	d := driver.New(discardLogger(), sink, 20*time.Millisecond)

	var calls int
	var mu sync.Mutex
	d.AddPeriodicalCall(&driver.PeriodicalCall{
		Name:        "tick",
		MinInterval: 20 * time.Millisecond,
		Fn: func(ctx context.Context, now time.Time) error {
			mu.Lock()
			calls++
			mu.Unlock()
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestRun_ReturnsNilOnContextCancelWithNoActivity(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	d := driver.New(discardLogger(), sink, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
