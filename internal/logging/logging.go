// Package logging builds the process logger.
package logging

import (
	"fmt"
	"io"
	"runtime/debug"

	"github.com/sirupsen/logrus"
	"github.com/zulandar/lifeline/internal/config"
)

// New returns a logger configured from cfg writing to out.
func New(cfg config.LogConfig, out io.Writer) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}

	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(level)
	switch cfg.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
	return logger, nil
}

// Discard returns a logger that drops everything. Used when a component is
// built without one.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l logrus.FieldLogger) logrus.FieldLogger {
	if l == nil {
		return Discard()
	}
	return l
}

// WithStack attaches the current goroutine stack to the entry.
func WithStack(l logrus.FieldLogger) *logrus.Entry {
	return l.WithField("stack", string(debug.Stack()))
}
