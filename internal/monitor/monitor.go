// Package monitor implements the uniform monitor contract and the two
// built-in monitors: kernel-notify (fsnotify-backed) and periodical-scan
// (metadata-store-driven directory walk). Both deliver events into the
// process driver rather than calling the engine directly, so that every
// on_change dispatch happens on the driver's single cooperative loop.
package monitor

import (
	"context"

	"github.com/yinyin/filewatcher/internal/driver"
)

// Prop describes a monitor module to the registry.
type Prop struct {
	Name      string
	IsMonitor bool
}

// Monitor is the uniform monitor contract: a monitor receives its
// configuration from its constructor, is started against a driver and
// target directory, then stopped.
type Monitor interface {
	Prop() Prop
	Start(ctx context.Context, d *driver.Driver, targetDirectory string, recursive bool) error
	Stop()
}
