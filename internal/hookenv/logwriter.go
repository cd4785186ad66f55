// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package hookenv

import (
	"fmt"
	"io"
	"strings"

	"github.com/juju/loggo/v2"
)

// LogWriter is a loggo.Writer which sends records to the unit's log
// through juju-log.
type LogWriter struct {
	runner Runner

	// fallback receives records juju-log could not take.
	fallback io.Writer
}

var _ loggo.Writer = (*LogWriter)(nil)

// NewLogWriter returns a LogWriter running juju-log through runner.
func NewLogWriter(runner Runner, fallback io.Writer) *LogWriter {
	return &LogWriter{runner: runner, fallback: fallback}
}

// Write implements loggo.Writer.
func (w *LogWriter) Write(entry loggo.Entry) {
	// Records from this package may come from running juju-log itself.
	if entry.Module == logger.Name() {
		return
	}
	level := entry.Level.String()
	if entry.Level == loggo.TRACE {
		level = loggo.DEBUG.String()
	}
	message := entry.Module + " " + strings.TrimRight(entry.Message, "\n")
	if _, err := w.runner.Run("juju-log", "-l", level, message); err != nil && w.fallback != nil {
		fmt.Fprintf(w.fallback, "%s %s (juju-log: %v)\n", level, message, err)
	}
}
