package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// OperationStep is one operation_name -> raw_argv pair within a block.
// Value is decoded as a plain Go value (string, []any, map[string]any)
// and stays opaque until the owning operator's ParseArgv interprets it.
type OperationStep struct {
	OperationName string
	RawArgv       any
}

// OperationBlock is one raw operation-name -> argv mapping from an
// update-operation/remove-operation sequence, in the order the mapping
// was written -- a plain map[string]any would have silently discarded
// that order, which matters when a block declares more than one
// operation and their relative run order is otherwise unresolved.
type OperationBlock []OperationStep

// UnmarshalYAML walks the mapping node's key/value pairs directly to
// preserve document order instead of decoding through map[string]any.
func (b *OperationBlock) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("operation block must be a mapping of operation_name to argv")
	}
	steps := make(OperationBlock, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var name string
		if err := node.Content[i].Decode(&name); err != nil {
			return fmt.Errorf("operation block key: %w", err)
		}
		var raw any
		if err := node.Content[i+1].Decode(&raw); err != nil {
			return fmt.Errorf("operation block value for %q: %w", name, err)
		}
		steps = append(steps, OperationStep{OperationName: name, RawArgv: raw})
	}
	*b = steps
	return nil
}

type watchEntryDocument struct {
	FileRegex                  string           `yaml:"file_regex"`
	PathRegex                  string           `yaml:"path_regex"`
	DuplicateCheck             Truthy           `yaml:"duplicate_check"`
	DuplicateContentCheckLabel string           `yaml:"duplicate_content_check_label"`
	ProcessAsUniqname          Truthy           `yaml:"process_as_uniqname"`
	IgnoranceChecker           string           `yaml:"ignorance-checker"`
	UpdateOperation            []OperationBlock `yaml:"update-operation"`
	Operation                  []OperationBlock `yaml:"operation"`
	RemoveOperation            []OperationBlock `yaml:"remove-operation"`
}

// updateBlocks returns update-operation, falling back to its alias
// "operation" when update-operation was not given.
func (d watchEntryDocument) updateBlocks() []OperationBlock {
	if len(d.UpdateOperation) > 0 {
		return d.UpdateOperation
	}
	return d.Operation
}

type blackoutWindowDocument struct {
	From string
	To   string
}

// UnmarshalYAML accepts either {from, to} or a 2-element [from, to]
// sequence.
func (b *blackoutWindowDocument) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.MappingNode:
		var m struct {
			From string `yaml:"from"`
			To   string `yaml:"to"`
		}
		if err := node.Decode(&m); err != nil {
			return err
		}
		b.From, b.To = m.From, m.To
		return nil
	case yaml.SequenceNode:
		var seq []string
		if err := node.Decode(&seq); err != nil {
			return err
		}
		if len(seq) != 2 {
			return fmt.Errorf("blackout_time sequence form requires exactly 2 elements, got %d", len(seq))
		}
		b.From, b.To = seq[0], seq[1]
		return nil
	default:
		return fmt.Errorf("blackout_time entry must be a mapping {from,to} or a 2-element sequence")
	}
}

type periodicalScanDocument struct {
	ScanInterval     int                      `yaml:"scan_interval"`
	UseMeta          Truthy                   `yaml:"use_meta"`
	BlackoutTime     []blackoutWindowDocument `yaml:"blackout_time"`
	IgnoranceChecker string                   `yaml:"ignorance-checker"`
}

type kernelNotifyDocument struct {
	IgnoranceChecker string `yaml:"ignorance-checker"`
	ReviseInterval   int    `yaml:"revise-interval"`
}

type coderunnerQueueDocument struct {
	Name              string `yaml:"name"`
	MaxRunningProgram int    `yaml:"max_running_program"`
}

type coderunnerDocument struct {
	MaxRunningProgram int                       `yaml:"max_running_program"`
	Queue             []coderunnerQueueDocument `yaml:"queue"`
}

type metaDocument struct {
	DBPath                   string `yaml:"db_path"`
	DuplicateCheckReserveDay int    `yaml:"duplicate_check_reserve_day"`
	MissingDetectReserveDay  int    `yaml:"missing_detect_reserve_day"`
}

type document struct {
	TargetDirectory     string                  `yaml:"target_directory"`
	RecursiveWatch      Truthy                  `yaml:"recursive_watch"`
	RemoveUnoperateFile Truthy                  `yaml:"remove_unoperate_file"`
	Meta                *metaDocument           `yaml:"meta"`
	WatchingEntries     []watchEntryDocument    `yaml:"watching_entries"`
	PeriodicalScan      *periodicalScanDocument `yaml:"periodical-scan"`
	KernelNotify        *kernelNotifyDocument   `yaml:"kernel-notify"`
	Coderunner          *coderunnerDocument     `yaml:"coderunner"`
}
