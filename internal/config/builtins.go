package config

import (
	"path/filepath"
	"strings"
)

// RegisterBuiltins registers the two stock ignorance-checkers a watcher
// config can reference by name: "dotfiles" (skip dotfiles/dot-directories)
// and "tmpfiles" (skip editor/temp-file leftovers). The original source's
// registry populated equivalents at import time via a decorator; this is
// the same table, populated explicitly by the CLI before Load.
func RegisterBuiltins(r *IgnoranceRegistry) {
	r.Register("dotfiles", isDotfile)
	r.Register("tmpfiles", isTempFile)
}

func isDotfile(relpath, filename *string) bool {
	if filename == nil {
		if relpath == nil {
			return false
		}
		base := filepath.Base(*relpath)
		return base != "." && strings.HasPrefix(base, ".")
	}
	return strings.HasPrefix(*filename, ".")
}

func isTempFile(relpath, filename *string) bool {
	if filename == nil {
		return false
	}
	name := *filename
	return strings.HasSuffix(name, "~") || strings.HasSuffix(name, ".tmp") || strings.HasSuffix(name, ".swp")
}
