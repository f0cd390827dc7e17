// Package logging provides the process-wide logger used by every other
// package. It exists so packages don't each construct their own
// logrus.Logger with divergent formatting.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Log is the shared logger. Tests may swap its output or level.
var Log = logrus.New()

func init() {
	Log.SetOutput(os.Stderr)
	Log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// SetLevel parses a level name (case-insensitive) and applies it, falling
// back to Info on an unrecognized name.
func SetLevel(name string) {
	lvl, err := logrus.ParseLevel(name)
	if err != nil {
		Log.WithField("requested", name).Warn("unknown log level, defaulting to info")
		lvl = logrus.InfoLevel
	}
	Log.SetLevel(lvl)
}
