package operator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Copier copies the current file to a configured destination directory,
// leaving the original in place.
type Copier struct{}

func NewCopier() *Copier { return &Copier{} }

func (c *Copier) Prop() Prop {
	return Prop{
		Name:             "copier",
		OperationName:    "copy_to",
		SchedulePriority: intPtr(1),
		RunPriority:      intPtr(1),
		HandleDismiss:    true,
	}
}

func (c *Copier) Configure(section map[string]any) error { return nil }

// ParseArgv expects raw to be the destination directory as a string.
func (c *Copier) ParseArgv(raw any) (any, error) {
	dest, ok := raw.(string)
	if !ok || dest == "" {
		return nil, fmt.Errorf("copier: copy_to argument must be a non-empty directory path, got %T", raw)
	}
	return dest, nil
}

func (c *Copier) Perform(ctx context.Context, currentPath, originalFilename string, parsedArgv any, ref *ExecRef, logSink *slog.Logger) (string, error) {
	destDir, ok := parsedArgv.(string)
	if !ok {
		return "", fmt.Errorf("copier: invalid parsed argv type %T", parsedArgv)
	}

	info, err := os.Stat(destDir)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("copier: destination %q is not an existing directory", destDir)
	}

	destPath := filepath.Join(destDir, originalFilename)
	if err := copyFile(currentPath, destPath); err != nil {
		return "", fmt.Errorf("copier: copying %s to %s: %w", currentPath, destPath, err)
	}

	logSink.Log(ctx, slog.LevelInfo, "copied file", "src", currentPath, "dest", destPath)
	return destPath, nil
}

func (c *Copier) Stop() {}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
