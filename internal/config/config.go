// Package config loads and validates the YAML watcher configuration file
// into a resolved, ready-to-wire form: compiled regexes, resolved
// ignorance-checker predicates, parsed blackout windows, and defaulted
// retention settings. It does not build WatchEntry or operator instances
// itself -- that compilation (resolving operation-name strings against
// the live operator registry and running each operator's ParseArgv) is
// the registry package's job, grounded on kolide-launcher's separation
// between config decoding (ee/agent/flags) and component construction.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/yinyin/filewatcher/internal/timeinterval"
)

// ErrConfig wraps every validation failure produced while loading or
// resolving a configuration document.
var ErrConfig = errors.New("config: invalid configuration")

const (
	defaultDuplicateCheckReserveDay = 3
	defaultMissingDetectReserveDay  = 2
	defaultScanIntervalSecond       = 120
	minScanIntervalSecond           = 120
)

// WatchEntry is one resolved (but not yet compiled-against-operators)
// watching_entries element.
type WatchEntry struct {
	FileRegex         *regexp.Regexp
	PathRegex         *regexp.Regexp
	DoDupcheck        bool
	ContentCheckLabel string
	ProcessAsUniqname bool
	IgnoranceChecker  IgnorancePredicate
	OperationUpdate   []OperationBlock
	OperationRemove   []OperationBlock
}

// Meta holds the metadata-store section.
type Meta struct {
	DBPath                   string
	DuplicateCheckReserveDay int
	MissingDetectReserveDay  int
}

// PeriodicalScan holds the periodical-scan monitor section. CronAligned is
// set when scan_interval was configured negative, meaning the scan should
// run at wall-clock-aligned boundaries rather than after scan_interval
// seconds of file-event quiescence.
type PeriodicalScan struct {
	ScanIntervalSecond int
	CronAligned        bool
	UseMeta            bool
	BlackoutWindows    []timeinterval.Interval
	IgnoranceChecker   IgnorancePredicate
}

// KernelNotify holds the kernel-notify monitor section.
type KernelNotify struct {
	IgnoranceChecker     IgnorancePredicate
	ReviseIntervalSecond int
}

// CoderunnerQueue is one named subprocess worker queue declaration.
type CoderunnerQueue struct {
	Name              string
	MaxRunningProgram int
}

// Coderunner holds the coderunner operator section.
type Coderunner struct {
	MaxRunningProgram int
	Queues            []CoderunnerQueue
}

// Config is the fully resolved configuration.
type Config struct {
	TargetDirectory     string
	RecursiveWatch      bool
	RemoveUnoperateFile bool
	Meta                *Meta
	WatchEntries        []WatchEntry
	PeriodicalScan      *PeriodicalScan
	KernelNotify        *KernelNotify
	Coderunner          *Coderunner
}

// Load reads path, decodes it as YAML, and resolves it into a Config.
// ignorance resolves named ignorance-checker references; an entry with
// no ignorance-checker configured carries a nil IgnorancePredicate.
func Load(path string, ignorance *IgnoranceRegistry) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrConfig, path, err)
	}

	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrConfig, path, err)
	}

	return resolve(&doc, ignorance)
}

func resolve(doc *document, ignorance *IgnoranceRegistry) (*Config, error) {
	if doc.TargetDirectory == "" {
		return nil, fmt.Errorf("%w: target_directory is required", ErrConfig)
	}
	info, err := os.Stat(doc.TargetDirectory)
	if err != nil {
		return nil, fmt.Errorf("%w: target_directory %q: %v", ErrConfig, doc.TargetDirectory, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: target_directory %q is not a directory", ErrConfig, doc.TargetDirectory)
	}

	cfg := &Config{
		TargetDirectory:     doc.TargetDirectory,
		RecursiveWatch:      bool(doc.RecursiveWatch),
		RemoveUnoperateFile: bool(doc.RemoveUnoperateFile),
	}

	if doc.Meta != nil {
		m := &Meta{
			DBPath:                   doc.Meta.DBPath,
			DuplicateCheckReserveDay: doc.Meta.DuplicateCheckReserveDay,
			MissingDetectReserveDay:  doc.Meta.MissingDetectReserveDay,
		}
		if m.DBPath == "" {
			return nil, fmt.Errorf("%w: meta.db_path is required when meta section is present", ErrConfig)
		}
		if m.DuplicateCheckReserveDay <= 0 {
			m.DuplicateCheckReserveDay = defaultDuplicateCheckReserveDay
		}
		if m.MissingDetectReserveDay <= 0 {
			m.MissingDetectReserveDay = defaultMissingDetectReserveDay
		}
		cfg.Meta = m
	}

	entries := make([]WatchEntry, 0, len(doc.WatchingEntries))
	for i, d := range doc.WatchingEntries {
		e, err := resolveWatchEntry(d, ignorance)
		if err != nil {
			return nil, fmt.Errorf("%w: watching_entries[%d]: %v", ErrConfig, i, err)
		}
		entries = append(entries, e)
	}
	cfg.WatchEntries = entries

	if doc.PeriodicalScan != nil {
		ps, err := resolvePeriodicalScan(doc.PeriodicalScan, ignorance)
		if err != nil {
			return nil, fmt.Errorf("%w: periodical-scan: %v", ErrConfig, err)
		}
		cfg.PeriodicalScan = ps
	}

	if doc.KernelNotify != nil {
		checker, err := ignorance.Lookup(doc.KernelNotify.IgnoranceChecker)
		if err != nil {
			return nil, fmt.Errorf("kernel-notify: %w", err)
		}
		revise := doc.KernelNotify.ReviseInterval
		if revise < 200 {
			revise = 200
		}
		cfg.KernelNotify = &KernelNotify{
			IgnoranceChecker:     checker,
			ReviseIntervalSecond: revise,
		}
	}

	if doc.Coderunner != nil {
		cr := &Coderunner{MaxRunningProgram: doc.Coderunner.MaxRunningProgram}
		for _, q := range doc.Coderunner.Queue {
			if q.Name == "" {
				return nil, fmt.Errorf("%w: coderunner.queue entries require a name", ErrConfig)
			}
			cr.Queues = append(cr.Queues, CoderunnerQueue{
				Name:              q.Name,
				MaxRunningProgram: q.MaxRunningProgram,
			})
		}
		cfg.Coderunner = cr
	}

	return cfg, nil
}

func resolveWatchEntry(d watchEntryDocument, ignorance *IgnoranceRegistry) (WatchEntry, error) {
	if d.FileRegex == "" {
		return WatchEntry{}, fmt.Errorf("file_regex is required")
	}
	fileRE, err := regexp.Compile(d.FileRegex)
	if err != nil {
		return WatchEntry{}, fmt.Errorf("file_regex: %w", err)
	}

	var pathRE *regexp.Regexp
	if d.PathRegex != "" {
		pathRE, err = regexp.Compile(d.PathRegex)
		if err != nil {
			return WatchEntry{}, fmt.Errorf("path_regex: %w", err)
		}
	}

	checker, err := ignorance.Lookup(d.IgnoranceChecker)
	if err != nil {
		return WatchEntry{}, err
	}

	return WatchEntry{
		FileRegex:         fileRE,
		PathRegex:         pathRE,
		DoDupcheck:        bool(d.DuplicateCheck),
		ContentCheckLabel: d.DuplicateContentCheckLabel,
		ProcessAsUniqname: bool(d.ProcessAsUniqname),
		IgnoranceChecker:  checker,
		OperationUpdate:   d.updateBlocks(),
		OperationRemove:   d.RemoveOperation,
	}, nil
}

func resolvePeriodicalScan(d *periodicalScanDocument, ignorance *IgnoranceRegistry) (*PeriodicalScan, error) {
	checker, err := ignorance.Lookup(d.IgnoranceChecker)
	if err != nil {
		return nil, err
	}

	windows := make([]timeinterval.Interval, 0, len(d.BlackoutTime))
	for i, w := range d.BlackoutTime {
		iv, err := timeinterval.Parse(w.From, w.To)
		if err != nil {
			return nil, fmt.Errorf("blackout_time[%d]: %w", i, err)
		}
		windows = append(windows, iv)
	}

	interval := d.ScanInterval
	var cronAligned bool
	if interval < 0 {
		interval = -interval
		cronAligned = true
	}
	if interval == 0 {
		interval = defaultScanIntervalSecond
	}
	if interval < minScanIntervalSecond {
		interval = minScanIntervalSecond
	}

	return &PeriodicalScan{
		ScanIntervalSecond: interval,
		CronAligned:        cronAligned,
		UseMeta:            bool(d.UseMeta),
		BlackoutWindows:    windows,
		IgnoranceChecker:   checker,
	}, nil
}
