// Package log provides the logging backend, built on the go-logging
// package. Components obtain per-module loggers from a shared Backend.
package log

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/op/go-logging.v1"
)

// Backend is a shared log backend.
type Backend struct {
	w       io.Writer
	backend logging.LeveledBackend
}

// GetLogger returns a per-module logger that writes to the backend.
func (b *Backend) GetLogger(module string) *logging.Logger {
	l := logging.MustGetLogger(module)
	l.SetBackend(b.backend)
	return l
}

// New initializes a logging backend. An empty file means stdout; disable
// discards everything.
func New(file, level string, disable bool) (*Backend, error) {
	b := new(Backend)

	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	switch {
	case disable:
		b.w = io.Discard
	case file == "":
		b.w = os.Stdout
	default:
		const fileMode = 0600
		flags := os.O_CREATE | os.O_APPEND | os.O_WRONLY
		b.w, err = os.OpenFile(file, flags, fileMode)
		if err != nil {
			return nil, fmt.Errorf("log: failed to open log file: %w", err)
		}
	}

	format := logging.MustStringFormatter("%{time:15:04:05.000} %{level:.4s} %{module}: %{message}")
	base := logging.NewLogBackend(b.w, "", 0)
	b.backend = logging.AddModuleLevel(logging.NewBackendFormatter(base, format))
	b.backend.SetLevel(lvl, "")
	return b, nil
}

// NewDefault returns a stdout backend at the given level, for tools and
// tests that have no config file.
func NewDefault(level string) (*Backend, error) {
	return New("", level, false)
}

func parseLevel(level string) (logging.Level, error) {
	switch level {
	case "ERROR":
		return logging.ERROR, nil
	case "WARNING":
		return logging.WARNING, nil
	case "NOTICE":
		return logging.NOTICE, nil
	case "INFO":
		return logging.INFO, nil
	case "DEBUG":
		return logging.DEBUG, nil
	}
	return logging.CRITICAL, fmt.Errorf("log: invalid level: %q", level)
}
