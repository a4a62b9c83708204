// Package driver implements the cooperative process scheduler: the single
// loop that serializes every event-driven call into WatcherEngine plus a
// list of adaptively-scheduled periodical callbacks. It mirrors the
// actor-group shutdown discipline of the launcher's pkg/rungroup (a
// termination context observed at each iteration boundary) while folding
// monitor event delivery and periodical maintenance into one goroutine, so
// that no two on_change invocations and no pipeline execution ever
// overlap.
package driver

import (
	"context"
	"log/slog"
	"sort"
	"time"
)

// Event is one occurrence delivered by a monitor for serialized dispatch
// into the engine.
type Event struct {
	Name    string
	RelPath string
	Code    string // mirrors event.Code.String(); kept as string to avoid an import cycle with internal/event's consumers
}

// Sink receives serialized events from the driver loop.
type Sink interface {
	OnChange(name, relpath string, code string)
}

// PeriodicalCall is a named callback with an EWMA-adaptive re-invocation
// interval bounded below by MinInterval.
type PeriodicalCall struct {
	Name        string
	Fn          func(ctx context.Context, now time.Time) error
	MinInterval time.Duration

	adaptiveInterval time.Duration
	lastInvoked      time.Time
	slogger          *slog.Logger
}

func (p *PeriodicalCall) due(now time.Time) bool {
	if p.lastInvoked.IsZero() {
		return true
	}
	interval := p.adaptiveInterval
	if interval < p.MinInterval {
		interval = p.MinInterval
	}
	return !now.Before(p.lastInvoked.Add(interval))
}

func (p *PeriodicalCall) invoke(ctx context.Context, now time.Time) {
	start := time.Now()
	err := p.Fn(ctx, now)
	duration := time.Since(start)
	p.lastInvoked = now

	if p.adaptiveInterval == 0 {
		p.adaptiveInterval = p.MinInterval
	}
	p.adaptiveInterval = time.Duration(0.98*float64(p.adaptiveInterval) + 0.02*float64(duration)) + p.MinInterval
	if p.adaptiveInterval < p.MinInterval {
		p.adaptiveInterval = p.MinInterval
	}

	if err != nil {
		p.slogger.Log(ctx, slog.LevelWarn, "periodical call failed", "call", p.Name, "err", err, "duration", duration)
		return
	}
	p.slogger.Log(ctx, slog.LevelDebug, "periodical call completed", "call", p.Name, "duration", duration)
}

// Driver is the ProcessDriver: one goroutine, reached via Run, that is the
// single suspension point for the whole daemon.
type Driver struct {
	slogger         *slog.Logger
	sink            Sink
	events          chan Event
	periodicalCalls []*PeriodicalCall
	wakeInterval    time.Duration
}

// New builds a Driver. wakeInterval bounds how long the loop can go
// between periodical-call checks when no event arrives; it plays the role
// of the spec's periodical_interval sleep bound.
func New(slogger *slog.Logger, sink Sink, wakeInterval time.Duration) *Driver {
	if wakeInterval <= 0 {
		wakeInterval = 5 * time.Second
	}
	return &Driver{
		slogger:      slogger.With("component", "process_driver"),
		sink:         sink,
		events:       make(chan Event, 64),
		wakeInterval: wakeInterval,
	}
}

// AddPeriodicalCall registers a callback with the driver. Must be called
// before Run.
func (d *Driver) AddPeriodicalCall(p *PeriodicalCall) {
	p.slogger = d.slogger
	d.periodicalCalls = append(d.periodicalCalls, p)
}

// Post enqueues an event for serialized dispatch. Safe to call from any
// monitor goroutine; blocks if the event buffer is momentarily full.
func (d *Driver) Post(ev Event) {
	d.events <- ev
}

// Run is the single cooperative loop. It returns when ctx is cancelled,
// after observing the cancellation at the next iteration boundary -- it
// does not abort an in-flight OnChange or periodical call.
func (d *Driver) Run(ctx context.Context) error {
	d.slogger.Log(ctx, slog.LevelInfo, "process driver starting", "wake_interval", d.wakeInterval)

	ticker := time.NewTicker(d.wakeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.slogger.Log(context.Background(), slog.LevelInfo, "process driver terminating")
			return nil
		case ev := <-d.events:
			d.sink.OnChange(ev.Name, ev.RelPath, ev.Code)
			d.runDuePeriodicalCalls(ctx, time.Now())
		case <-ticker.C:
			d.runDuePeriodicalCalls(ctx, time.Now())
		}
	}
}

func (d *Driver) runDuePeriodicalCalls(ctx context.Context, now time.Time) {
	due := make([]*PeriodicalCall, 0, len(d.periodicalCalls))
	for _, p := range d.periodicalCalls {
		if p.due(now) {
			due = append(due, p)
		}
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].MinInterval < due[j].MinInterval })
	for _, p := range due {
		p.invoke(ctx, now)
	}
}
