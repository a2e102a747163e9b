// File: internal/logging/logging.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Logger construction. Every component owns an explicit *logrus.Entry tagged
// with its name; there is no package-level logger.

package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Config describes how a root logger is built.
type Config struct {
	Level  string    // debug, info, warn, error
	Format string    // text or json
	Output io.Writer // defaults to os.Stderr
}

// NewLogger builds a root logger from cfg.
func NewLogger(cfg Config) (*logrus.Logger, error) {
	l := logrus.New()
	if cfg.Output != nil {
		l.SetOutput(cfg.Output)
	} else {
		l.SetOutput(os.Stderr)
	}

	level := cfg.Level
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", cfg.Level)
	}
	l.SetLevel(lvl)

	switch strings.ToLower(cfg.Format) {
	case "", "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("invalid log format %q: must be text or json", cfg.Format)
	}
	return l, nil
}

// Component returns an entry of root tagged with the component name.
func Component(root *logrus.Logger, name string) *logrus.Entry {
	return root.WithField("component", name)
}

// New returns an info-level stderr entry for name. Used when a caller did
// not supply a logger of its own.
func New(name string) *logrus.Entry {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	return Component(l, name)
}

// Discard returns an entry that drops everything.
func Discard() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.PanicLevel)
	return l.WithField("component", "discard")
}
