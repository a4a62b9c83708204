// Command filewatcher runs the watcher-engine daemon: it loads a YAML
// configuration file naming a target directory, a set of watch entries,
// and the monitors/operators that should watch and react to it, then
// runs until it receives an interrupt signal.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/peterbourgon/ff/v3"

	"github.com/yinyin/filewatcher/internal/config"
	"github.com/yinyin/filewatcher/internal/driver"
	"github.com/yinyin/filewatcher/internal/engine"
	"github.com/yinyin/filewatcher/internal/metadata"
	"github.com/yinyin/filewatcher/internal/monitor"
	"github.com/yinyin/filewatcher/internal/operator"
	"github.com/yinyin/filewatcher/internal/registry"
	"github.com/yinyin/filewatcher/internal/runner"
	"github.com/yinyin/filewatcher/internal/watchentry"
	"github.com/yinyin/filewatcher/pkg/rungroup"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flagset := flag.NewFlagSet("filewatcher", flag.ExitOnError)
	flDebug := flagset.Bool("debug", false, "enable debug logging")

	if err := ff.Parse(flagset, args, ff.WithEnvVarNoPrefix()); err != nil {
		return fmt.Errorf("parsing flags: %w", err)
	}

	configPath := flagset.Arg(0)
	if configPath == "" {
		return fmt.Errorf("usage: filewatcher [-debug] <config-path>")
	}

	logLevel := slog.LevelInfo
	if *flDebug {
		logLevel = slog.LevelDebug
	}
	slogger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		AddSource: true,
		Level:     logLevel,
	})).With("pid", os.Getpid())

	ignorance := config.NewIgnoranceRegistry()
	config.RegisterBuiltins(ignorance)

	cfg, err := config.Load(configPath, ignorance)
	if err != nil {
		return fmt.Errorf("loading config %s: %w", configPath, err)
	}

	var metaStore *metadata.Store
	if cfg.Meta != nil {
		metaStore, err = metadata.Open(context.Background(), slogger, cfg.Meta.DBPath,
			cfg.Meta.DuplicateCheckReserveDay, cfg.Meta.MissingDetectReserveDay)
		if err != nil {
			return fmt.Errorf("opening metadata store: %w", err)
		}
		defer metaStore.Close()
	}

	queues := runner.NewQueues(slogger)
	coderunner := operator.NewCoderunner(queues)
	if cfg.Coderunner != nil {
		if err := coderunner.Configure(coderunnerSection(cfg.Coderunner)); err != nil {
			return fmt.Errorf("configuring coderunner: %w", err)
		}
	}

	ops := []operator.Operator{
		operator.NewCopier(),
		operator.NewMover(),
		coderunner,
	}
	reg := registry.New(ops)

	entries := make([]*watchentry.WatchEntry, 0, len(cfg.WatchEntries))
	for i, e := range cfg.WatchEntries {
		compiled, err := reg.CompileWatchEntry(e)
		if err != nil {
			return fmt.Errorf("watching_entries[%d]: %w", i, err)
		}
		entries = append(entries, compiled)
	}

	eng := engine.New(slogger, cfg.TargetDirectory, cfg.RecursiveWatch, cfg.RemoveUnoperateFile, entries, metaStore)

	proc := driver.New(slogger, eng, 5*time.Second)

	if metaStore != nil {
		proc.AddPeriodicalCall(&driver.PeriodicalCall{
			Name:        "metadata_maintain",
			MinInterval: time.Hour,
			Fn: func(ctx context.Context, now time.Time) error {
				return metaStore.Maintain(ctx, now)
			},
		})
	}

	var monitors []monitor.Monitor
	if cfg.KernelNotify != nil {
		kn := monitor.NewKernelNotify(slogger, registry.ConvertIgnorance(cfg.KernelNotify.IgnoranceChecker),
			time.Duration(cfg.KernelNotify.ReviseIntervalSecond)*time.Second, nil)
		monitors = append(monitors, kn)
	}
	if cfg.PeriodicalScan != nil {
		ps := monitor.NewPeriodicalScan(slogger,
			time.Duration(cfg.PeriodicalScan.ScanIntervalSecond)*time.Second,
			cfg.PeriodicalScan.CronAligned,
			cfg.PeriodicalScan.UseMeta, cfg.PeriodicalScan.BlackoutWindows,
			registry.ConvertIgnorance(cfg.PeriodicalScan.IgnoranceChecker), metaStore, eng)
		monitors = append(monitors, ps)
	}

	ctx, cancel := context.WithCancel(context.Background())
	for _, m := range monitors {
		if err := m.Start(ctx, proc, cfg.TargetDirectory, cfg.RecursiveWatch); err != nil {
			cancel()
			return fmt.Errorf("starting monitor %s: %w", m.Prop().Name, err)
		}
	}

	group := rungroup.NewRunGroup()
	group.SetSlogger(slogger)

	group.Add("processDriver", func() error {
		return proc.Run(ctx)
	}, func(error) {
		cancel()
	})

	group.Add("signalListener", func() error {
		listenSignals(slogger)
		return nil
	}, func(error) {})

	runErr := group.Run()

	for _, m := range monitors {
		m.Stop()
	}
	for _, op := range ops {
		op.Stop()
	}

	return runErr
}

func coderunnerSection(c *config.Coderunner) map[string]any {
	section := map[string]any{"max_running_program": c.MaxRunningProgram}
	queues := make([]any, 0, len(c.Queues))
	for _, q := range c.Queues {
		queues = append(queues, map[string]any{"name": q.Name, "max_running_program": q.MaxRunningProgram})
	}
	section["queue"] = queues
	return section
}

func listenSignals(slogger *slog.Logger) {
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt)
	sig := <-signals
	slogger.Info("received signal", "signal", sig.String())
}
