// Package testlog provides the logger used across package tests.
package testlog

import (
	"bytes"
	"log/slog"
	"os"
	"testing"
)

// New returns a logger that writes through t.Log, so records land interleaved
// with the owning test's output and stay hidden unless the test fails or -v is
// set. Verbosity follows the DEBUG env var (1 for info, 2 for debug, errors
// only otherwise).
func New(t testing.TB) *slog.Logger {
	var level slog.Level
	switch os.Getenv("DEBUG") {
	case "2":
		level = slog.LevelDebug
	case "1":
		level = slog.LevelInfo
	default:
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// t.Log already stamps each line.
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	}))
}

type testWriter struct {
	t testing.TB
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Logf("%s", bytes.TrimRight(p, "\n"))
	return len(p), nil
}
