package monitor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/yinyin/filewatcher/internal/driver"
	"github.com/yinyin/filewatcher/internal/event"
	"github.com/yinyin/filewatcher/internal/watchentry"
)

const minReviseInterval = 200 * time.Second

// KernelNotify is the kernel filesystem-notification monitor, backed by
// fsnotify. It forwards create (which covers moved-in) and write events as
// Modified, and deleted/renamed-away as Deleted. It does not wait for the
// writer to close the file: every write event is forwarded.
type KernelNotify struct {
	slogger        *slog.Logger
	ignorance      watchentry.IgnorancePredicate
	reviseInterval time.Duration
	overflow       func()

	watcher *fsnotify.Watcher
	d       *driver.Driver

	recursive bool
	rootDir   string

	wg   sync.WaitGroup
	done chan struct{}
}

// NewKernelNotify builds a KernelNotify monitor. ignorance may be nil.
// reviseInterval is clamped to at least 200s, matching the spec's floor
// for the adaptive watch reviser.
func NewKernelNotify(slogger *slog.Logger, ignorance watchentry.IgnorancePredicate, reviseInterval time.Duration, overflow func()) *KernelNotify {
	if reviseInterval < minReviseInterval {
		reviseInterval = minReviseInterval
	}
	return &KernelNotify{
		slogger:        slogger.With("component", "kernel_notify_monitor"),
		ignorance:      ignorance,
		reviseInterval: reviseInterval,
		overflow:       overflow,
	}
}

// Prop implements Monitor.
func (k *KernelNotify) Prop() Prop {
	return Prop{Name: "kernel-notify", IsMonitor: true}
}

func (k *KernelNotify) excluded(path string) bool {
	if !k.recursive && path != k.rootDir {
		return true
	}
	if k.ignorance != nil {
		rel, err := filepath.Rel(k.rootDir, path)
		if err != nil {
			rel = path
		}
		if k.ignorance(&rel, nil) {
			return true
		}
	}
	return false
}

// Start registers watches on targetDirectory (and, when recursive, every
// subdirectory not excluded) and begins forwarding events into d.
func (k *KernelNotify) Start(ctx context.Context, d *driver.Driver, targetDirectory string, recursive bool) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	k.watcher = w
	k.d = d
	k.recursive = recursive
	k.rootDir = targetDirectory
	k.done = make(chan struct{})

	if err := k.addTree(targetDirectory); err != nil {
		w.Close()
		return err
	}

	k.wg.Add(1)
	go k.loop()

	d.AddPeriodicalCall(&driver.PeriodicalCall{
		Name:        "kernel_notify_revise",
		MinInterval: k.reviseInterval,
		Fn: func(ctx context.Context, now time.Time) error {
			return k.revise()
		},
	})

	return nil
}

func (k *KernelNotify) addTree(root string) error {
	if k.excluded(root) {
		return nil
	}
	if err := k.watcher.Add(root); err != nil {
		return err
	}
	if !k.recursive {
		return nil
	}
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if path == root || !d.IsDir() {
			return nil
		}
		if k.excluded(path) {
			return filepath.SkipDir
		}
		return k.watcher.Add(path)
	})
}

func (k *KernelNotify) loop() {
	defer k.wg.Done()
	for {
		select {
		case <-k.done:
			return
		case ev, ok := <-k.watcher.Events:
			if !ok {
				return
			}
			k.handle(ev)
		case err, ok := <-k.watcher.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				if k.overflow != nil {
					k.overflow()
				}
				continue
			}
			k.slogger.Warn("fsnotify error", "err", err)
		}
	}
}

func (k *KernelNotify) handle(ev fsnotify.Event) {
	name := filepath.Base(ev.Name)
	rel, err := filepath.Rel(k.rootDir, filepath.Dir(ev.Name))
	if err != nil || rel == "." {
		rel = ""
	}

	switch {
	case ev.HasCreate():
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() && k.recursive && !k.excluded(ev.Name) {
			k.watcher.Add(ev.Name)
		}
		k.d.Post(driver.Event{Name: name, RelPath: rel, Code: event.Modified.String()})
	case ev.HasWrite():
		k.d.Post(driver.Event{Name: name, RelPath: rel, Code: event.Modified.String()})
	case ev.HasRemove(), ev.HasRename():
		k.d.Post(driver.Event{Name: name, RelPath: rel, Code: event.Deleted.String()})
	}
}

// revise checks every currently watched path and removes the watches whose
// paths are now excluded by the ignorance predicate.
func (k *KernelNotify) revise() error {
	if !k.recursive {
		return nil
	}
	for _, path := range k.watcher.WatchList() {
		if k.excluded(path) {
			k.watcher.Remove(path)
		}
	}
	return nil
}

// Stop closes the watcher and waits for the forwarding loop to exit.
func (k *KernelNotify) Stop() {
	if k.done != nil {
		close(k.done)
	}
	if k.watcher != nil {
		k.watcher.Close()
	}
	k.wg.Wait()
}
