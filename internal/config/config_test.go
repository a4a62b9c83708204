package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yinyin/filewatcher/internal/config"
)

// newConfigFile creates a fresh target_directory and writes body (with the
// placeholder "TARGET" substituted for that directory's path) to a
// config.yaml alongside it, returning the config file's path.
func newConfigFile(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	target := filepath.Join(dir, "watched")
	require.NoError(t, os.Mkdir(target, 0o755))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(strings.ReplaceAll(body, "TARGET", target)), 0o644))
	return path
}

func TestLoad_MinimalConfig(t *testing.T) {
	t.Parallel()

	path := newConfigFile(t, "target_directory: TARGET\n")

	cfg, err := config.Load(path, config.NewIgnoranceRegistry())
	require.NoError(t, err)
	require.False(t, bool(cfg.RecursiveWatch))
	require.Empty(t, cfg.WatchEntries)
}

func TestLoad_MissingTargetDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("target_directory: /does/not/exist\n"), 0o644))

	_, err := config.Load(path, config.NewIgnoranceRegistry())
	require.ErrorIs(t, err, config.ErrConfig)
}

func TestLoad_OperationBlockPreservesDeclarationOrder(t *testing.T) {
	t.Parallel()

	path := newConfigFile(t, `
target_directory: TARGET
watching_entries:
  - file_regex: ".*\\.csv$"
    update-operation:
      - second_op: {}
        first_op: {}
`)

	cfg, err := config.Load(path, config.NewIgnoranceRegistry())
	require.NoError(t, err)
	require.Len(t, cfg.WatchEntries, 1)
	require.Len(t, cfg.WatchEntries[0].OperationUpdate, 1)

	block := cfg.WatchEntries[0].OperationUpdate[0]
	require.Len(t, block, 2)
	require.Equal(t, "second_op", block[0].OperationName)
	require.Equal(t, "first_op", block[1].OperationName)
}

func TestLoad_UnknownIgnoranceCheckerErrors(t *testing.T) {
	t.Parallel()

	path := newConfigFile(t, `
target_directory: TARGET
watching_entries:
  - file_regex: ".*"
    ignorance-checker: not-registered
`)

	_, err := config.Load(path, config.NewIgnoranceRegistry())
	require.ErrorIs(t, err, config.ErrConfig)
}

func TestLoad_BlackoutWindowsBothForms(t *testing.T) {
	t.Parallel()

	path := newConfigFile(t, `
target_directory: TARGET
periodical-scan:
  scan_interval: 120
  blackout_time:
    - from: "22:00"
      to: "23:00"
    - ["01:00", "02:00"]
`)

	cfg, err := config.Load(path, config.NewIgnoranceRegistry())
	require.NoError(t, err)
	require.NotNil(t, cfg.PeriodicalScan)
	require.Len(t, cfg.PeriodicalScan.BlackoutWindows, 2)
}

func TestLoad_TruthyStringsAndInts(t *testing.T) {
	t.Parallel()

	path := newConfigFile(t, `
target_directory: TARGET
recursive_watch: "yes"
remove_unoperate_file: 1
`)

	cfg, err := config.Load(path, config.NewIgnoranceRegistry())
	require.NoError(t, err)
	require.True(t, cfg.RecursiveWatch)
	require.True(t, cfg.RemoveUnoperateFile)
}

func TestLoad_PeriodicalScanNegativeIntervalSelectsCronAligned(t *testing.T) {
	t.Parallel()

	path := newConfigFile(t, `
target_directory: TARGET
periodical-scan:
  scan_interval: -300
`)

	cfg, err := config.Load(path, config.NewIgnoranceRegistry())
	require.NoError(t, err)
	require.NotNil(t, cfg.PeriodicalScan)
	require.True(t, cfg.PeriodicalScan.CronAligned)
	require.Equal(t, 300, cfg.PeriodicalScan.ScanIntervalSecond)
}

func TestLoad_PeriodicalScanPositiveIntervalIsQuiescenceMode(t *testing.T) {
	t.Parallel()

	path := newConfigFile(t, `
target_directory: TARGET
periodical-scan:
  scan_interval: 300
`)

	cfg, err := config.Load(path, config.NewIgnoranceRegistry())
	require.NoError(t, err)
	require.NotNil(t, cfg.PeriodicalScan)
	require.False(t, cfg.PeriodicalScan.CronAligned)
	require.Equal(t, 300, cfg.PeriodicalScan.ScanIntervalSecond)
}

func TestLoad_PeriodicalScanIntervalClampedToFloor(t *testing.T) {
	t.Parallel()

	path := newConfigFile(t, `
target_directory: TARGET
periodical-scan:
  scan_interval: -30
`)

	cfg, err := config.Load(path, config.NewIgnoranceRegistry())
	require.NoError(t, err)
	require.NotNil(t, cfg.PeriodicalScan)
	require.True(t, cfg.PeriodicalScan.CronAligned)
	require.Equal(t, 120, cfg.PeriodicalScan.ScanIntervalSecond, "sub-floor magnitude must clamp up to the 120s minimum")
}

func TestLoad_KernelNotifyReviseIntervalClampedToFloor(t *testing.T) {
	t.Parallel()

	path := newConfigFile(t, `
target_directory: TARGET
kernel-notify:
  revise-interval: 5
`)

	cfg, err := config.Load(path, config.NewIgnoranceRegistry())
	require.NoError(t, err)
	require.NotNil(t, cfg.KernelNotify)
	require.Equal(t, 200, cfg.KernelNotify.ReviseIntervalSecond)
}
