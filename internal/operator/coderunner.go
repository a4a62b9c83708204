package operator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/yinyin/filewatcher/internal/runner"
)

// coderunnerArgv is the normalized form of an operation argv for
// run_program: either a bare command (dispatched through the
// queue-shortcut/default resolution in runner.Queues.Run) or one
// explicitly bound to a named queue via the {queue, command} mapping
// form, in which case it is dispatched directly with runner.Queues.RunOn.
type coderunnerArgv struct {
	queue   string
	command []string
}

// Coderunner delegates to a named RunnerQueue; it always returns
// current_path unchanged since it only observes the file.
type Coderunner struct {
	queues *runner.Queues
}

func NewCoderunner(queues *runner.Queues) *Coderunner {
	return &Coderunner{queues: queues}
}

func (c *Coderunner) Prop() Prop {
	return Prop{
		Name:             "coderunner",
		OperationName:    "run_program",
		SchedulePriority: nil,
		RunPriority:      intPtr(10),
		HandleDismiss:    true,
	}
}

// Configure reads the coderunner top-level section: max_running_program
// (default queue concurrency) and queue (a list of {name,
// max_running_program} overrides).
func (c *Coderunner) Configure(section map[string]any) error {
	if section == nil {
		return nil
	}

	if max, ok := section["max_running_program"]; ok {
		n, err := toInt(max)
		if err != nil {
			return fmt.Errorf("coderunner: max_running_program: %w", err)
		}
		c.queues.Configure(runner.DefaultQueueName, n)
	}

	rawQueues, ok := section["queue"].([]any)
	if !ok {
		return nil
	}
	for _, rq := range rawQueues {
		m, ok := rq.(map[string]any)
		if !ok {
			return fmt.Errorf("coderunner: queue entries must be mappings, got %T", rq)
		}
		name, _ := m["name"].(string)
		if name == "" {
			return fmt.Errorf("coderunner: queue entry missing name")
		}
		n, err := toInt(m["max_running_program"])
		if err != nil {
			return fmt.Errorf("coderunner: queue %q max_running_program: %w", name, err)
		}
		c.queues.Configure(name, n)
	}
	return nil
}

// ParseArgv normalizes the three accepted argv shapes: a bare string, a
// sequence, or a {queue, command} mapping.
func (c *Coderunner) ParseArgv(raw any) (any, error) {
	switch v := raw.(type) {
	case string:
		return coderunnerArgv{command: []string{v, "%FILENAME%"}}, nil
	case []any:
		cmd, err := toStringSlice(v)
		if err != nil {
			return nil, fmt.Errorf("coderunner: %w", err)
		}
		return coderunnerArgv{command: appendFilenameIfAbsent(cmd)}, nil
	case map[string]any:
		queue, _ := v["queue"].(string)
		cmdRaw, ok := v["command"]
		if !ok {
			return nil, fmt.Errorf("coderunner: mapping argv missing \"command\"")
		}
		cmd, err := normalizeCommand(cmdRaw)
		if err != nil {
			return nil, fmt.Errorf("coderunner: %w", err)
		}
		return coderunnerArgv{queue: queue, command: cmd}, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("coderunner: unsupported argv type %T", raw)
	}
}

func (c *Coderunner) Perform(ctx context.Context, currentPath, originalFilename string, parsedArgv any, ref *ExecRef, logSink *slog.Logger) (string, error) {
	parsed, ok := parsedArgv.(coderunnerArgv)
	if !ok {
		return "", fmt.Errorf("coderunner: invalid parsed argv type %T", parsedArgv)
	}

	var err error
	if parsed.queue != "" {
		err = c.queues.RunOn(parsed.queue, parsed.command, currentPath, ref.CarryVariable)
	} else {
		err = c.queues.Run(parsed.command, currentPath, ref.CarryVariable)
	}
	if err != nil {
		return "", fmt.Errorf("coderunner: %w", err)
	}

	logSink.Log(ctx, slog.LevelInfo, "dispatched command", "command", parsed.command, "queue", parsed.queue)
	return currentPath, nil
}

func (c *Coderunner) Stop() {
	c.queues.Stop()
}

func appendFilenameIfAbsent(cmd []string) []string {
	for _, tok := range cmd {
		if tok == "%FILENAME%" {
			return cmd
		}
	}
	return append(cmd, "%FILENAME%")
}

func normalizeCommand(raw any) ([]string, error) {
	switch v := raw.(type) {
	case string:
		return appendFilenameIfAbsent([]string{v}), nil
	case []any:
		cmd, err := toStringSlice(v)
		if err != nil {
			return nil, err
		}
		return appendFilenameIfAbsent(cmd), nil
	default:
		return nil, fmt.Errorf("command must be a string or a sequence, got %T", raw)
	}
}

func toStringSlice(raw []any) ([]string, error) {
	out := make([]string, len(raw))
	for i, v := range raw {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("element %d is not a string: %T", i, v)
		}
		out[i] = s
	}
	return out, nil
}

func toInt(raw any) (int, error) {
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("expected an integer, got %T", raw)
	}
}
