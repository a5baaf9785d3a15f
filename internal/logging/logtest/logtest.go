// Package logtest provides loggers for tests.
package logtest

import (
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
)

// writer maps log lines onto t.Log so output only shows for failed tests.
// Lines written after the test has finished are dropped.
type writer struct {
	t    testing.TB
	mu   sync.Mutex
	done bool
}

func (w *writer) Write(d []byte) (int, error) {
	n := len(d)
	if n > 0 && d[n-1] == '\n' {
		d = d[:n-1]
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.done {
		w.t.Log(string(d))
	}
	return n, nil
}

func (w *writer) finish() {
	w.mu.Lock()
	w.done = true
	w.mu.Unlock()
}

// New returns a debug-level logger that writes through t.Log.
func New(t testing.TB) *logrus.Logger {
	w := &writer{t: t}
	t.Cleanup(w.finish)

	logger := logrus.New()
	logger.Out = w
	logger.Level = logrus.DebugLevel
	return logger
}
