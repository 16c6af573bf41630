// Package logging provides structured logging for the fieldsync engine.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	global *logrus.Logger
	once   sync.Once
)

// Init initializes the global logger. Subsequent calls are no-ops.
func Init(out io.Writer, level string) {
	once.Do(func() {
		global = logrus.New()
		global.SetOutput(out)
		global.SetFormatter(&logrus.JSONFormatter{})

		lvl, err := logrus.ParseLevel(level)
		if err != nil {
			lvl = logrus.InfoLevel
		}
		global.SetLevel(lvl)
	})
}

// L returns the global logger, initializing it with defaults if needed.
func L() *logrus.Logger {
	if global == nil {
		Init(os.Stdout, "info")
	}
	return global
}

// Component returns an entry scoped to an engine component. All engine
// packages log through this so every line carries its origin.
func Component(name string) *logrus.Entry {
	return L().WithField("component", name)
}
