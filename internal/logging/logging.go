// File: internal/logging/logging.go
// Author: momentics <momentics@gmail.com>
//
// Package-level logger shared by every internal package. Defaults to a
// no-op logger so library use in a host application stays silent until
// Loop.SetLogger redirects it.

package logging

import (
	"sync"

	"go.uber.org/zap"
)

var (
	logger     *zap.Logger
	loggerOnce sync.Once
	mu         sync.RWMutex
)

// L returns the shared logger, initializing it to a no-op logger on first
// use if SetLogger has not already been called.
func L() *zap.Logger {
	loggerOnce.Do(func() {
		mu.Lock()
		if logger == nil {
			logger = zap.NewNop()
		}
		mu.Unlock()
	})
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// SetLogger makes l the logger every later L() call returns. A logger
// already obtained from L() and kept by its caller (as loop.New hands one
// to the scheduler) is not replaced.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	logger = l
	mu.Unlock()
}
