package registry_test

import (
	"context"
	"log/slog"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yinyin/filewatcher/internal/config"
	"github.com/yinyin/filewatcher/internal/operator"
	"github.com/yinyin/filewatcher/internal/registry"
	"github.com/yinyin/filewatcher/internal/watchentry"
)

// fakeOperator is a minimal Operator used to exercise the registry's
// scheduling/ordering logic without any real side effects.
type fakeOperator struct {
	name             string
	schedulePriority *int
	runPriority      *int
	handleDismiss    bool
}

func intPtr(v int) *int { return &v }

func (f *fakeOperator) Prop() operator.Prop {
	return operator.Prop{
		Name:             f.name,
		OperationName:    f.name,
		SchedulePriority: f.schedulePriority,
		RunPriority:      f.runPriority,
		HandleDismiss:    f.handleDismiss,
	}
}

func (f *fakeOperator) Configure(map[string]any) error { return nil }

func (f *fakeOperator) ParseArgv(raw any) (any, error) { return raw, nil }

func (f *fakeOperator) Perform(ctx context.Context, currentPath, originalFilename string, parsedArgv any, ref *operator.ExecRef, logSink *slog.Logger) (string, error) {
	return currentPath, nil
}

func (f *fakeOperator) Stop() {}

func block(steps ...config.OperationStep) config.OperationBlock {
	return config.OperationBlock(steps)
}

func step(name string) config.OperationStep {
	return config.OperationStep{OperationName: name}
}

func TestCompileWatchEntry_BlockScheduleOrder(t *testing.T) {
	t.Parallel()

	// "copy" is scheduled before "notify"; declared blocks are in the
	// opposite order, so the registry must reorder them.
	copyOp := &fakeOperator{name: "copy", schedulePriority: intPtr(0), runPriority: intPtr(0)}
	notifyOp := &fakeOperator{name: "notify", schedulePriority: intPtr(1), runPriority: intPtr(0)}
	reg := registry.New([]operator.Operator{copyOp, notifyOp})

	entry := config.WatchEntry{
		FileRegex: mustCompile(`.*`),
		OperationUpdate: []config.OperationBlock{
			block(step("notify")),
			block(step("copy")),
		},
	}

	compiled, err := reg.CompileWatchEntry(entry)
	require.NoError(t, err)
	require.Len(t, compiled.OperationUpdate, 2)
	require.Equal(t, "copy", compiled.OperationUpdate[0][0].OperationName)
	require.Equal(t, "notify", compiled.OperationUpdate[1][0].OperationName)
}

func TestCompileWatchEntry_WithinBlockRunOrder(t *testing.T) {
	t.Parallel()

	// Within one block, "verify" should run before "move" per run
	// priority, even though it's declared second.
	verifyOp := &fakeOperator{name: "verify", runPriority: intPtr(0)}
	moveOp := &fakeOperator{name: "move", runPriority: intPtr(1)}
	reg := registry.New([]operator.Operator{verifyOp, moveOp})

	entry := config.WatchEntry{
		FileRegex: mustCompile(`.*`),
		OperationUpdate: []config.OperationBlock{
			block(step("move"), step("verify")),
		},
	}

	compiled, err := reg.CompileWatchEntry(entry)
	require.NoError(t, err)
	require.Len(t, compiled.OperationUpdate, 1)
	require.Equal(t, []string{"verify", "move"}, names(compiled.OperationUpdate[0]))
}

func TestCompileWatchEntry_UnorderedStepsKeepDeclarationOrder(t *testing.T) {
	t.Parallel()

	// Neither operator has a run priority: declaration order must survive.
	first := &fakeOperator{name: "first"}
	second := &fakeOperator{name: "second"}
	reg := registry.New([]operator.Operator{first, second})

	entry := config.WatchEntry{
		FileRegex: mustCompile(`.*`),
		OperationUpdate: []config.OperationBlock{
			block(step("second"), step("first")),
		},
	}

	compiled, err := reg.CompileWatchEntry(entry)
	require.NoError(t, err)
	require.Equal(t, []string{"second", "first"}, names(compiled.OperationUpdate[0]))
}

func TestCompileWatchEntry_RemovePipelineDropsNonDismissOperators(t *testing.T) {
	t.Parallel()

	dismissable := &fakeOperator{name: "archive", runPriority: intPtr(0), handleDismiss: true}
	nonDismissable := &fakeOperator{name: "thumbnail", runPriority: intPtr(1), handleDismiss: false}
	reg := registry.New([]operator.Operator{dismissable, nonDismissable})

	entry := config.WatchEntry{
		FileRegex: mustCompile(`.*`),
		OperationRemove: []config.OperationBlock{
			block(step("thumbnail"), step("archive")),
		},
	}

	compiled, err := reg.CompileWatchEntry(entry)
	require.NoError(t, err)
	require.Len(t, compiled.OperationRemove, 1)
	require.Equal(t, []string{"archive"}, names(compiled.OperationRemove[0]))
}

func TestCompileWatchEntry_UnknownOperationErrors(t *testing.T) {
	t.Parallel()

	reg := registry.New(nil)
	entry := config.WatchEntry{
		FileRegex: mustCompile(`.*`),
		OperationUpdate: []config.OperationBlock{
			block(step("does-not-exist")),
		},
	}

	_, err := reg.CompileWatchEntry(entry)
	require.Error(t, err)
}

func TestConvertIgnorance_NilStaysNil(t *testing.T) {
	t.Parallel()

	require.Nil(t, registry.ConvertIgnorance(nil))
}

func TestConvertIgnorance_Delegates(t *testing.T) {
	t.Parallel()

	called := false
	fn := registry.ConvertIgnorance(func(relpath, filename *string) bool {
		called = true
		return true
	})
	require.True(t, fn(nil, nil))
	require.True(t, called)
}

func names(block watchentry.OperationBlock) []string {
	out := make([]string, len(block))
	for i, entry := range block {
		out[i] = entry.OperationName
	}
	return out
}

func mustCompile(pattern string) *regexp.Regexp {
	return regexp.MustCompile(pattern)
}
