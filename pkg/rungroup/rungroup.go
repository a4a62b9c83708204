// Package rungroup implements a small actor-group runner used to run the
// daemon's top-level actors (the process driver loop and the signal
// listener) together: every actor's interrupt is
// called once any actor's execute returns, shutdown is bounded by
// InterruptTimeout and executeReturnTimeout rather than blocking forever
// on a wedged actor, and a panicking execute is recovered and reported as
// an error instead of taking down the process.
package rungroup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// InterruptTimeout bounds how long Run waits for a single actor's
// interrupt function to return during shutdown.
const InterruptTimeout = 10 * time.Second

// executeReturnTimeout bounds how long Run waits, after issuing
// interrupts, for all actors' execute functions to return.
const executeReturnTimeout = 10 * time.Second

type actor struct {
	name      string
	execute   func() error
	interrupt func(error)
}

// RunGroup runs a set of named (execute, interrupt) actor pairs together:
// the first execute to return triggers interrupt on every actor,
// including the one that returned first.
type RunGroup struct {
	actors  []actor
	slogger *slog.Logger
}

// NewRunGroup returns an empty RunGroup with a discard logger; call
// SetSlogger to attach a real one.
func NewRunGroup() *RunGroup {
	return &RunGroup{slogger: slog.New(slog.NewTextHandler(discardWriter{}, nil))}
}

// SetSlogger replaces the group's logger.
func (g *RunGroup) SetSlogger(slogger *slog.Logger) {
	g.slogger = slogger.With("component", "rungroup")
}

// Add registers one actor. execute should block until interrupt is
// called or it decides to return on its own; interrupt should cause
// execute to return promptly.
func (g *RunGroup) Add(name string, execute func() error, interrupt func(error)) {
	g.actors = append(g.actors, actor{name: name, execute: execute, interrupt: interrupt})
}

// Run starts every actor's execute concurrently, waits for the first to
// return (or panic), interrupts every actor (bounded by InterruptTimeout
// each), waits for all executes to return (bounded in aggregate by
// executeReturnTimeout), and returns the triggering error.
func (g *RunGroup) Run() error {
	if len(g.actors) == 0 {
		return nil
	}

	firstReturn := make(chan error, len(g.actors))
	executeDone := make(chan struct{}, len(g.actors))

	for _, a := range g.actors {
		go func(a actor) {
			defer func() {
				if r := recover(); r != nil {
					g.slogger.Error("recovered from panic in actor execute", "actor", a.name, "panic", r)
					firstReturn <- fmt.Errorf("actor %s panicked: %v", a.name, r)
				}
				executeDone <- struct{}{}
			}()
			err := a.execute()
			firstReturn <- err
		}(a)
	}

	triggeringErr := <-firstReturn

	for _, a := range g.actors {
		go func(a actor) {
			done := make(chan struct{})
			go func() {
				a.interrupt(triggeringErr)
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(InterruptTimeout):
				g.slogger.Warn("actor interrupt did not return within timeout", "actor", a.name, "timeout", InterruptTimeout)
			}
		}(a)
	}

	deadline := time.After(executeReturnTimeout)
	remaining := len(g.actors)
	for remaining > 0 {
		select {
		case <-executeDone:
			remaining--
		case <-deadline:
			g.slogger.Warn("giving up waiting for actor executes to return", "remaining", remaining)
			return triggeringErr
		}
	}

	return triggeringErr
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// WithContext derives a cancellation-token actor pair from ctx: execute
// blocks until ctx is done, and interrupt is a no-op since cancellation
// already came from the context itself. Useful for adding a top-level
// "stop everything" source to a group the same way a signal listener
// would.
func WithContext(ctx context.Context) (execute func() error, interrupt func(error)) {
	return func() error {
			<-ctx.Done()
			return ctx.Err()
		}, func(error) {
		}
}
