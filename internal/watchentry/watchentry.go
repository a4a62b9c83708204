// Package watchentry defines the compiled WatchEntry -- the matcher and
// the two compiled operation pipelines it dispatches to. Entries are
// tried in declaration order; the first whose file_regex (and, if
// present, path_regex) matches claims the event.
package watchentry

import (
	"regexp"

	"github.com/yinyin/filewatcher/internal/operator"
)

// IgnorancePredicate decides whether a matched item should be skipped.
// relpath/filename are nil for the periodical-scan monitor's "new round
// begins" signal, and filename is nil when pruning a directory mid-walk.
type IgnorancePredicate func(relpath, filename *string) bool

// OperationEntry is one resolved step of an operation block: the operator
// it runs against, and the argv that operator's own ParseArgv produced.
type OperationEntry struct {
	OperationName string
	ParsedArgv    any
	Operator      operator.Operator
}

// OperationBlock is an ordered group of operations that run together,
// in run-order, before the next block in the pipeline begins.
type OperationBlock []OperationEntry

// WatchEntry is one compiled rule from watching_entries.
type WatchEntry struct {
	FileRegex         *regexp.Regexp
	PathRegex         *regexp.Regexp // nil when unset
	DoDupcheck        bool
	ContentCheckLabel string // empty means "key duplicates by filename"
	ProcessAsUniqname bool
	IgnoranceChecker  IgnorancePredicate // nil when unset
	OperationUpdate   []OperationBlock
	OperationRemove   []OperationBlock
}

// Matches reports whether name/relpath satisfy this entry's regex
// matchers. It does not consult the ignorance checker -- that is a
// separate, logged decision made by the engine.
func (w *WatchEntry) Matches(name, relpath string) bool {
	if !w.FileRegex.MatchString(name) {
		return false
	}
	if w.PathRegex != nil && !w.PathRegex.MatchString(relpath) {
		return false
	}
	return true
}

// DuplicateKey returns the key and lifetime_retain flag used for
// duplicate checking: content_check_label when configured (a lifetime
// retain, since a label intentionally collides across filenames), the
// matched filename otherwise.
func (w *WatchEntry) DuplicateKey(filename string) (key string, lifetimeRetain bool) {
	if w.ContentCheckLabel != "" {
		return w.ContentCheckLabel, true
	}
	return filename, false
}
