// Package rlog wires up the process-wide structured logger: a
// console-pretty zerolog writer to stderr, matching the progress lines the
// original tool writes there (warmup done, per-interval sched delay and
// current RPS, startup pinning notices).
package rlog

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds the process-wide logger. verbose lowers the level to debug;
// otherwise only info-and-above lines are emitted.
func New(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}

	w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339, NoColor: !isTerminal()}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

func isTerminal() bool {
	fi, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}
