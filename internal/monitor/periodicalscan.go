package monitor

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/yinyin/filewatcher/internal/driver"
	"github.com/yinyin/filewatcher/internal/event"
	"github.com/yinyin/filewatcher/internal/metadata"
	"github.com/yinyin/filewatcher/internal/timeinterval"
	"github.com/yinyin/filewatcher/internal/watchentry"
)

// EventSource reports the time of the last event the engine observed, so
// the scan decision's quiescence mode can tell whether the tree has been
// quiet for scan_interval seconds.
type EventSource interface {
	LastFileEventTime() time.Time
}

// PeriodicalScan is the periodical-scan monitor: a walker run as a
// PeriodicalCall on the process driver rather than a dedicated thread,
// fixing the spec's note that source variants disagreed on this point.
type PeriodicalScan struct {
	slogger      *slog.Logger
	scanInterval time.Duration
	cronAligned  bool
	useMeta      bool
	blackout     []timeinterval.Interval
	ignorance    watchentry.IgnorancePredicate
	meta         *metadata.Store
	events       EventSource

	mu       sync.Mutex
	lastScan time.Time

	d         *driver.Driver
	rootDir   string
	recursive bool
}

// NewPeriodicalScan builds a PeriodicalScan monitor. meta may be nil, in
// which case presence comparisons fall back to mtime > last_scan_time.
// cronAligned selects the scan-decision mode: true runs the walk at
// wall-clock-aligned scanInterval boundaries, false waits for the watched
// tree to go quiet for scanInterval (quiescence mode).
func NewPeriodicalScan(slogger *slog.Logger, scanInterval time.Duration, cronAligned, useMeta bool, blackout []timeinterval.Interval, ignorance watchentry.IgnorancePredicate, meta *metadata.Store, events EventSource) *PeriodicalScan {
	return &PeriodicalScan{
		slogger:      slogger.With("component", "periodical_scan_monitor"),
		scanInterval: scanInterval,
		cronAligned:  cronAligned,
		useMeta:      useMeta,
		blackout:     blackout,
		ignorance:    ignorance,
		meta:         meta,
		events:       events,
	}
}

// Prop implements Monitor.
func (p *PeriodicalScan) Prop() Prop {
	return Prop{Name: "periodical-scan", IsMonitor: true}
}

// Start registers the walker as a periodical call; the driver invokes it
// adaptively, never more often than scanInterval/4 per the scan decision.
func (p *PeriodicalScan) Start(ctx context.Context, d *driver.Driver, targetDirectory string, recursive bool) error {
	p.d = d
	p.rootDir = targetDirectory
	p.recursive = recursive

	d.AddPeriodicalCall(&driver.PeriodicalCall{
		Name:        "periodical_scan",
		MinInterval: p.scanInterval / 4,
		Fn:          p.maybeScan,
	})
	return nil
}

// Stop is a no-op: the walker has no background goroutine of its own.
func (p *PeriodicalScan) Stop() {}

func (p *PeriodicalScan) inBlackout(now time.Time) bool {
	for _, iv := range p.blackout {
		if iv.IsIn(now) {
			return true
		}
	}
	return false
}

func (p *PeriodicalScan) maybeScan(ctx context.Context, now time.Time) error {
	p.mu.Lock()
	last := p.lastScan
	p.mu.Unlock()

	if !last.IsZero() && now.Sub(last) < p.scanInterval/4 {
		return nil
	}
	if p.inBlackout(now) {
		return nil
	}

	if p.cronAligned {
		aligned := last.IsZero() || now.Truncate(p.scanInterval).After(last)
		if !aligned {
			return nil
		}
	} else {
		quiescent := last.IsZero() || (p.events != nil && now.Sub(p.events.LastFileEventTime()) >= p.scanInterval)
		if !quiescent {
			return nil
		}
	}

	p.scan(now)

	p.mu.Lock()
	p.lastScan = now
	p.mu.Unlock()
	return nil
}

func (p *PeriodicalScan) scan(now time.Time) {
	if p.ignorance != nil {
		p.ignorance(nil, nil)
	}

	filepath.WalkDir(p.rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if path == p.rootDir {
			return nil
		}

		rel, relErr := filepath.Rel(p.rootDir, filepath.Dir(path))
		if relErr != nil || rel == "." {
			rel = ""
		}
		name := d.Name()

		if d.IsDir() {
			if !p.recursive {
				return fs.SkipDir
			}
			dirRel, dirRelErr := filepath.Rel(p.rootDir, path)
			if dirRelErr != nil {
				dirRel = rel
			}
			if p.ignorance != nil && p.ignorance(&dirRel, nil) {
				return fs.SkipDir
			}
			return nil
		}

		if p.ignorance != nil && p.ignorance(&rel, &name) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}

		p.reportFile(rel, name, info, now)
		return nil
	})

	if p.meta != nil && p.useMeta {
		stale, err := p.meta.CollectDeletionsAndPurge(context.Background(), now.Add(-time.Second))
		if err != nil {
			p.slogger.Warn("collect deletions failed", "err", err)
			return
		}
		for _, s := range stale {
			p.d.Post(driver.Event{Name: s.Name, RelPath: s.RelFolder, Code: event.Deleted.String()})
		}
	}
}

func (p *PeriodicalScan) reportFile(rel, name string, info fs.FileInfo, now time.Time) {
	if p.meta != nil && p.useMeta {
		result, err := p.meta.CheckAndRecordPresence(context.Background(), rel, name, info.Size(), info.ModTime().Unix(), now)
		if err != nil {
			p.slogger.Warn("check and record presence failed", "name", name, "relpath", rel, "err", err)
			return
		}
		if result == metadata.PresenceNew || result == metadata.PresenceModified {
			p.d.Post(driver.Event{Name: name, RelPath: rel, Code: event.Modified.String()})
		}
		return
	}

	if info.ModTime().After(p.lastScanTime()) {
		p.d.Post(driver.Event{Name: name, RelPath: rel, Code: event.Modified.String()})
	}
}

func (p *PeriodicalScan) lastScanTime() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastScan
}
