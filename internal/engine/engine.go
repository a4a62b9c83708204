// Package engine implements WatcherEngine: the component that receives
// on_change calls from monitors (via the process driver), matches the
// event against the configured WatchEntry sequence, arbitrates unique
// naming and duplicate suppression against the metadata store, and
// dispatches the matched entry's update or remove pipeline.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/yinyin/filewatcher/internal/event"
	"github.com/yinyin/filewatcher/internal/metadata"
	"github.com/yinyin/filewatcher/internal/operator"
	"github.com/yinyin/filewatcher/internal/signature"
	"github.com/yinyin/filewatcher/internal/watchentry"
)

// Engine is the WatcherEngine.
type Engine struct {
	targetDirectory     string
	recursiveWatch      bool
	removeUnoperateFile bool

	entries []*watchentry.WatchEntry
	meta    *metadata.Store // nil when no meta section is configured

	slogger *slog.Logger

	serial atomic.Uint32

	mu                sync.Mutex
	lastFileEventTime time.Time
}

// New builds an Engine. entries must already be in declaration order --
// the registry package is responsible for compiling and ordering them.
func New(slogger *slog.Logger, targetDirectory string, recursiveWatch, removeUnoperateFile bool, entries []*watchentry.WatchEntry, meta *metadata.Store) *Engine {
	return &Engine{
		targetDirectory:     targetDirectory,
		recursiveWatch:      recursiveWatch,
		removeUnoperateFile: removeUnoperateFile,
		entries:             entries,
		meta:                meta,
		slogger:             slogger.With("component", "watcher_engine"),
	}
}

// LastFileEventTime reports when OnChange was last entered (it is stamped
// before the event is matched or filtered), used by the periodical-scan monitor's quiescence-mode scan decision.
func (e *Engine) LastFileEventTime() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastFileEventTime
}

// OnChange implements driver.Sink. code is event.Code.String(); an
// unrecognized code is dropped with a logged warning rather than a panic,
// since it can only arrive from a monitor bug.
func (e *Engine) OnChange(name, relpath string, code string) {
	e.mu.Lock()
	e.lastFileEventTime = time.Now()
	e.mu.Unlock()

	codeVal, ok := event.Parse(code)
	if !ok {
		e.slogger.Warn("on_change received unrecognized event code", "code", code)
		return
	}

	if !e.recursiveWatch && relpath != "" {
		e.slogger.Debug("dropped: recursive_watch disabled and relpath non-empty", "name", name, "relpath", relpath)
		return
	}

	currentPath := filepath.Join(e.targetDirectory, relpath, name)

	if codeVal != event.Deleted {
		info, err := os.Lstat(currentPath)
		if err != nil || !info.Mode().IsRegular() {
			e.slogger.Debug("dropped: target is not an existing regular file", "path", currentPath)
			return
		}
	}

	for _, entry := range e.entries {
		if !entry.Matches(name, relpath) {
			continue
		}

		if entry.IgnoranceChecker != nil && entry.IgnoranceChecker(&relpath, &name) {
			e.slogger.Info("Ignored", "name", name, "relpath", relpath)
			return
		}

		serial := e.serial.Add(1) % 1024

		workingPath := currentPath
		filenameMatch := name

		var signatureStr string
		cancelled := false

		if codeVal != event.Deleted {
			if entry.ProcessAsUniqname {
				newName := fmt.Sprintf("%s-Wr%04d", name, serial)
				newPath := filepath.Join(filepath.Dir(currentPath), newName)
				if err := os.Rename(currentPath, newPath); err != nil {
					e.slogger.Warn("rename to unique name failed, continuing with original path",
						"path", currentPath, "attempted", newPath, "err", err)
				} else {
					workingPath = newPath
					filenameMatch = newName
				}
			}

			if entry.DoDupcheck && e.meta != nil {
				key, lifetimeRetain := entry.DuplicateKey(filenameMatch)
				sig, err := signature.Compute(workingPath)
				if err != nil {
					e.slogger.Warn("signature computation failed, skipping duplicate check", "path", workingPath, "err", err)
				} else {
					signatureStr = sig
					dup, err := e.meta.CheckAndRecordDuplicate(context.Background(), key, sig, lifetimeRetain, time.Now())
					if err != nil {
						e.slogger.Warn("duplicate check-in failed", "key", key, "err", err)
					} else if dup {
						cancelled = true
					}
				}
			}
		}

		if cancelled {
			if e.removeUnoperateFile {
				if err := os.Remove(workingPath); err != nil && !os.IsNotExist(err) {
					e.slogger.Warn("failed to delete cancelled file", "path", workingPath, "err", err)
				}
			}
			e.slogger.Info("operation cancelled: duplicate", "name", filenameMatch, "relpath", relpath)
			return
		}

		ref := operator.NewExecRef(filenameMatch, relpath, signatureStr, codeVal)
		ref.CarryVariable["EVENT_ID"] = uuid.NewString()

		switch codeVal {
		case event.New, event.Modified:
			e.runPipeline(entry.OperationUpdate, workingPath, filenameMatch, ref)
		case event.Deleted:
			e.runPipeline(entry.OperationRemove, workingPath, filenameMatch, ref)
		default:
			e.slogger.Info("NoOP", "name", filenameMatch, "relpath", relpath, "code", code)
		}
		return
	}

	e.slogger.Info("NoWatchEntryFound", "name", name, "relpath", relpath)
}

func (e *Engine) runPipeline(blocks []watchentry.OperationBlock, targetPath, originalFilename string, ref *operator.ExecRef) {
	for i, block := range blocks {
		currentPath := targetPath
		var executed []string
		aborted := false

		for j, op := range block {
			if j > 0 {
				if _, err := os.Lstat(currentPath); err != nil {
					aborted = true
					break
				}
			}

			blockLogger := e.slogger.With("operation", op.OperationName, "block", i)
			newPath, err := op.Operator.Perform(context.Background(), currentPath, originalFilename, op.ParsedArgv, ref, blockLogger)
			executed = append(executed, op.OperationName)
			if err != nil {
				e.slogger.Warn("operation block aborted", "block", i, "operation", op.OperationName, "err", err)
				aborted = true
				break
			}
			currentPath = newPath
		}

		e.slogger.Info("operation block complete", "block", i, "executed", executed, "aborted", aborted)
	}
}
