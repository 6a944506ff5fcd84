// Package logging builds the logrus loggers shared by every grove-kb package.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	base     *logrus.Logger
	baseOnce sync.Once
)

// Base returns the process wide logger. Level and format come from
// KB_LOG_LEVEL and KB_LOG_FORMAT the first time it is called.
func Base() *logrus.Logger {
	baseOnce.Do(func() {
		base = logrus.New()
		base.SetOutput(os.Stderr)
		base.SetLevel(levelFromEnv())
		if strings.EqualFold(os.Getenv("KB_LOG_FORMAT"), "json") {
			base.SetFormatter(&logrus.JSONFormatter{})
		} else {
			base.SetFormatter(&logrus.TextFormatter{
				DisableTimestamp: false,
				FullTimestamp:    true,
			})
		}
	})
	return base
}

// NewLogger returns an entry tagged with the component name.
func NewLogger(component string) *logrus.Entry {
	return Base().WithField("component", component)
}

// SetVerbose raises the base logger to debug level.
func SetVerbose(verbose bool) {
	if verbose {
		Base().SetLevel(logrus.DebugLevel)
	}
}

// SetOutput redirects the base logger, e.g. to io.Discard while a TUI owns the terminal.
func SetOutput(w io.Writer) {
	Base().SetOutput(w)
}

func levelFromEnv() logrus.Level {
	raw := strings.TrimSpace(os.Getenv("KB_LOG_LEVEL"))
	if raw == "" {
		return logrus.WarnLevel
	}
	level, err := logrus.ParseLevel(raw)
	if err != nil {
		return logrus.WarnLevel
	}
	return level
}
