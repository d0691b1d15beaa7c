// Package logging builds the process logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// New returns a logrus logger writing to w (stderr when nil). format is
// "text" or "json"; level is any logrus level name.
func New(w io.Writer, level, format string) (*logrus.Logger, error) {
	if w == nil {
		w = os.Stderr
	}

	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}

	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(lvl)

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("logging: unknown format %q", format)
	}
	return l, nil
}

// Discard is a logger that drops everything; handy in tests.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
