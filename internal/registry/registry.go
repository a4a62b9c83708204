// Package registry implements the ModuleRegistry & pipeline planner: it
// collects the enabled operator modules, derives their schedule/run-order
// sequences from Prop(), and compiles each config.WatchEntry into a
// fully-ordered watchentry.WatchEntry ready for the engine.
package registry

import (
	"fmt"
	"sort"

	"github.com/yinyin/filewatcher/internal/config"
	"github.com/yinyin/filewatcher/internal/operator"
	"github.com/yinyin/filewatcher/internal/watchentry"
)

// Registry is the ModuleRegistry.
type Registry struct {
	operationDeliver map[string]operator.Operator
	scheduleSeq      []string
	runUpdateSeq     []string
	runDismissSeq    []string
}

// New builds a Registry from the enabled operator set, consulting each
// operator's Prop() once.
func New(operators []operator.Operator) *Registry {
	r := &Registry{operationDeliver: make(map[string]operator.Operator, len(operators))}

	type scheduled struct {
		name     string
		priority int
	}
	var sched, runUpdate, runDismiss []scheduled

	for _, op := range operators {
		p := op.Prop()
		r.operationDeliver[p.OperationName] = op
		if p.SchedulePriority != nil {
			sched = append(sched, scheduled{p.OperationName, *p.SchedulePriority})
		}
		if p.RunPriority != nil {
			runUpdate = append(runUpdate, scheduled{p.OperationName, *p.RunPriority})
			if p.HandleDismiss {
				runDismiss = append(runDismiss, scheduled{p.OperationName, *p.RunPriority})
			}
		}
	}

	sortByPriority := func(s []scheduled) []string {
		sort.SliceStable(s, func(i, j int) bool { return s[i].priority < s[j].priority })
		names := make([]string, len(s))
		for i, v := range s {
			names[i] = v.name
		}
		return names
	}

	r.scheduleSeq = sortByPriority(sched)
	r.runUpdateSeq = sortByPriority(runUpdate)
	r.runDismissSeq = sortByPriority(runDismiss)

	return r
}

// Operator looks up an operator by operation_name.
func (r *Registry) Operator(name string) (operator.Operator, bool) {
	op, ok := r.operationDeliver[name]
	return op, ok
}

// CompileWatchEntry resolves a config.WatchEntry into a watchentry.WatchEntry,
// applying the block-scheduling and within-block run-order rules.
func (r *Registry) CompileWatchEntry(e config.WatchEntry) (*watchentry.WatchEntry, error) {
	update, err := r.compilePipeline(e.OperationUpdate, false)
	if err != nil {
		return nil, fmt.Errorf("update-operation: %w", err)
	}
	remove, err := r.compilePipeline(e.OperationRemove, true)
	if err != nil {
		return nil, fmt.Errorf("remove-operation: %w", err)
	}

	return &watchentry.WatchEntry{
		FileRegex:         e.FileRegex,
		PathRegex:         e.PathRegex,
		DoDupcheck:        e.DoDupcheck,
		ContentCheckLabel: e.ContentCheckLabel,
		ProcessAsUniqname: e.ProcessAsUniqname,
		IgnoranceChecker:  ConvertIgnorance(e.IgnoranceChecker),
		OperationUpdate:   update,
		OperationRemove:   remove,
	}, nil
}

// ConvertIgnorance adapts a config.IgnorancePredicate to the distinct
// watchentry.IgnorancePredicate named type; both share the same underlying
// function signature but Go does not consider named func types assignable.
func ConvertIgnorance(fn config.IgnorancePredicate) watchentry.IgnorancePredicate {
	if fn == nil {
		return nil
	}
	return func(relpath, filename *string) bool { return fn(relpath, filename) }
}

// compilePipeline reorders raw blocks by schedule sequence, then orders
// and parses each surviving block's ops by the relevant run sequence.
func (r *Registry) compilePipeline(raw []config.OperationBlock, dismiss bool) ([]watchentry.OperationBlock, error) {
	ordered := r.scheduleBlocks(raw)

	runSeq := r.runUpdateSeq
	if dismiss {
		runSeq = r.runDismissSeq
	}

	compiled := make([]watchentry.OperationBlock, 0, len(ordered))
	for _, block := range ordered {
		steps := r.orderSteps(block, runSeq)

		out := make(watchentry.OperationBlock, 0, len(steps))
		for _, step := range steps {
			op, ok := r.operationDeliver[step.OperationName]
			if !ok {
				return nil, fmt.Errorf("unknown operation %q", step.OperationName)
			}
			if dismiss && !op.Prop().HandleDismiss {
				continue
			}
			parsedArgv, err := op.ParseArgv(step.RawArgv)
			if err != nil {
				return nil, fmt.Errorf("operation %q: parse_argv: %w", step.OperationName, err)
			}
			if parsedArgv == nil {
				continue
			}
			out = append(out, watchentry.OperationEntry{
				OperationName: step.OperationName,
				ParsedArgv:    parsedArgv,
				Operator:      op,
			})
		}
		if len(out) > 0 {
			compiled = append(compiled, out)
		}
	}
	return compiled, nil
}

// scheduleBlocks implements the block-scheduling step: for each scheduled
// operation name in order, pull every not-yet-placed block containing
// that name (preserving relative input order), then append the remaining
// blocks at the tail in their original order.
func (r *Registry) scheduleBlocks(raw []config.OperationBlock) []config.OperationBlock {
	placed := make([]bool, len(raw))
	ordered := make([]config.OperationBlock, 0, len(raw))

	contains := func(block config.OperationBlock, name string) bool {
		for _, step := range block {
			if step.OperationName == name {
				return true
			}
		}
		return false
	}

	for _, name := range r.scheduleSeq {
		for i, block := range raw {
			if placed[i] || !contains(block, name) {
				continue
			}
			ordered = append(ordered, block)
			placed[i] = true
		}
	}
	for i, block := range raw {
		if !placed[i] {
			ordered = append(ordered, block)
		}
	}
	return ordered
}

// orderSteps orders one block's steps by runSeq position; steps whose
// operation has no entry in runSeq keep their declaration-order position
// at the tail.
func (r *Registry) orderSteps(block config.OperationBlock, runSeq []string) []config.OperationStep {
	placed := make([]bool, len(block))
	ordered := make([]config.OperationStep, 0, len(block))

	for _, name := range runSeq {
		for i, step := range block {
			if placed[i] || step.OperationName != name {
				continue
			}
			ordered = append(ordered, step)
			placed[i] = true
		}
	}
	for i, step := range block {
		if !placed[i] {
			ordered = append(ordered, step)
		}
	}
	return ordered
}
