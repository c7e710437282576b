// Package migratelog provides the rotating log destination the
// migration CLI and daemon write phase progress to: a stdlib
// *log.Logger backed by a lumberjack rolling file writer, satisfying
// migration.Logger so the orchestrator's Scope can log directly
// without knowing about rotation.
package migratelog

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the rotating writer.
type Options struct {
	Path       string // log file path; empty means stderr only
	MaxSizeMB  int    // rotate after this many megabytes
	MaxBackups int    // old rotated files to keep
	MaxAgeDays int    // days to retain rotated files
	Compress   bool
}

// DefaultOptions matches what a single-pod migration run needs: modest
// rotation, no long retention since each run's checkpoint file is the
// durable record of progress.
func DefaultOptions(path string) Options {
	return Options{
		Path:       path,
		MaxSizeMB:  10,
		MaxBackups: 3,
		MaxAgeDays: 14,
		Compress:   true,
	}
}

// New builds a *log.Logger that writes to both stderr and the rotating
// file (when Path is set), with the standard date/time/short-file
// prefix.
func New(opts Options) *log.Logger {
	writers := []io.Writer{os.Stderr}
	if opts.Path != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   opts.Path,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		})
	}
	return log.New(io.MultiWriter(writers...), "podmigrate: ", log.LstdFlags|log.Lshortfile)
}
