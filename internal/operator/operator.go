// Package operator defines the uniform operator contract (configure,
// parse_argv, perform, stop) and the built-in operators: copier, mover,
// coderunner.
package operator

import (
	"context"
	"log/slog"

	"github.com/yinyin/filewatcher/internal/event"
)

// Prop describes an operator module to the registry. A nil priority means
// "not scheduled/ordered" per spec.
type Prop struct {
	Name             string
	OperationName    string
	SchedulePriority *int
	RunPriority      *int
	HandleDismiss    bool
}

// ExecRef is the per-event ephemeral record threaded through a pipeline
// (OperationExecRef in the data model).
type ExecRef struct {
	FilenameMatch    string
	PathnameMatch    string
	ContentSignature string
	EventType        event.Code
	IsDismissEvent   bool
	CarryVariable    map[string]string
}

// NewExecRef builds an ExecRef, deriving IsDismissEvent from EventType --
// the field is conceptually derivable at the call site rather than an
// independent input (see spec's note on the source never actually wiring
// this derivation up).
func NewExecRef(filenameMatch, pathnameMatch, contentSignature string, eventType event.Code) *ExecRef {
	return &ExecRef{
		FilenameMatch:    filenameMatch,
		PathnameMatch:    pathnameMatch,
		ContentSignature: contentSignature,
		EventType:        eventType,
		IsDismissEvent:   eventType == event.Deleted,
		CarryVariable:    make(map[string]string),
	}
}

// Operator is the uniform operator contract. Perform returning a non-nil
// error covers both "operator returned null" and "operator threw" from
// the source material -- both abort the containing block the same way.
type Operator interface {
	Prop() Prop
	Configure(section map[string]any) error
	ParseArgv(raw any) (any, error)
	Perform(ctx context.Context, currentPath, originalFilename string, parsedArgv any, ref *ExecRef, logSink *slog.Logger) (string, error)
	Stop()
}

func intPtr(v int) *int { return &v }
