package engine_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yinyin/filewatcher/internal/engine"
	"github.com/yinyin/filewatcher/internal/event"
	"github.com/yinyin/filewatcher/internal/metadata"
	"github.com/yinyin/filewatcher/internal/operator"
	"github.com/yinyin/filewatcher/internal/watchentry"
)

// recordingOperator copies currentPath to a sibling "<name>.out" file in
// the same directory and records every Perform call it received.
type recordingOperator struct {
	calls []string
}

func (r *recordingOperator) Prop() operator.Prop { return operator.Prop{Name: "record", OperationName: "record"} }
func (r *recordingOperator) Configure(map[string]any) error { return nil }
func (r *recordingOperator) ParseArgv(raw any) (any, error) { return raw, nil }
func (r *recordingOperator) Stop()                          {}

func (r *recordingOperator) Perform(ctx context.Context, currentPath, originalFilename string, parsedArgv any, ref *operator.ExecRef, logSink *slog.Logger) (string, error) {
	r.calls = append(r.calls, originalFilename)
	out := currentPath + ".out"
	data, err := os.ReadFile(currentPath)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return "", err
	}
	return out, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMetaStore(t *testing.T) *metadata.Store {
	t.Helper()
	store, err := metadata.Open(context.Background(), discardLogger(), filepath.Join(t.TempDir(), "meta.db"), 3, 2)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestOnChange_MatchedEntryRunsUpdatePipeline(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "report.csv")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))

	op := &recordingOperator{}
	entry := &watchentry.WatchEntry{
		FileRegex: regexp.MustCompile(`\.csv$`),
		OperationUpdate: []watchentry.OperationBlock{
			{{OperationName: "record", Operator: op}},
		},
	}

	e := engine.New(discardLogger(), dir, false, false, []*watchentry.WatchEntry{entry}, nil)
	e.OnChange("report.csv", "", event.New.String())

	require.Equal(t, []string{"report.csv"}, op.calls)
	require.FileExists(t, path+".out")
}

func TestOnChange_NoMatchingEntryIsNoOp(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "report.txt")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))

	op := &recordingOperator{}
	entry := &watchentry.WatchEntry{
		FileRegex: regexp.MustCompile(`\.csv$`),
		OperationUpdate: []watchentry.OperationBlock{
			{{OperationName: "record", Operator: op}},
		},
	}

	e := engine.New(discardLogger(), dir, false, false, []*watchentry.WatchEntry{entry}, nil)
	e.OnChange("report.txt", "", event.New.String())

	require.Empty(t, op.calls)
}

func TestOnChange_DuplicateSuppressesSecondDispatch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	write("a.csv", "same-content")

	op := &recordingOperator{}
	entry := &watchentry.WatchEntry{
		FileRegex:  regexp.MustCompile(`\.csv$`),
		DoDupcheck: true,
		OperationUpdate: []watchentry.OperationBlock{
			{{OperationName: "record", Operator: op}},
		},
	}

	meta := newMetaStore(t)
	e := engine.New(discardLogger(), dir, false, false, []*watchentry.WatchEntry{entry}, meta)

	e.OnChange("a.csv", "", event.New.String())
	require.Len(t, op.calls, 1)

	// Re-deliver the same event for the same unchanged file: the second
	// signature check-in finds the (name, sig) pair already recorded and
	// cancels the dispatch.
	e.OnChange("a.csv", "", event.New.String())
	require.Len(t, op.calls, 1, "duplicate content must not re-run the pipeline")
}

func TestOnChange_DeletedEventRunsRemovePipeline(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	removeOp := &recordingOperator{}
	entry := &watchentry.WatchEntry{
		FileRegex: regexp.MustCompile(`\.csv$`),
		OperationRemove: []watchentry.OperationBlock{
			{{OperationName: "record", Operator: removeOp}},
		},
	}

	e := engine.New(discardLogger(), dir, false, false, []*watchentry.WatchEntry{entry}, nil)
	e.OnChange("gone.csv", "", event.Deleted.String())

	// The remove pipeline's first operator runs even though the file is
	// already gone; recordingOperator then fails to read it, which aborts
	// the rest of the block.
	require.Equal(t, []string{"gone.csv"}, removeOp.calls)
}

func TestLastFileEventTime_UpdatesOnEveryCall(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	e := engine.New(discardLogger(), dir, false, false, nil, nil)

	before := e.LastFileEventTime()
	e.OnChange("whatever.txt", "", event.New.String())
	after := e.LastFileEventTime()

	require.True(t, after.After(before) || after.Equal(before))
	require.False(t, after.IsZero())
	require.True(t, time.Since(after) < time.Minute)
}
