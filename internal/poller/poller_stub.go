//go:build !linux
// +build !linux

// File: internal/poller/poller_stub.go
// Author: momentics <momentics@gmail.com>
//
// Non-Linux placeholder. The fiber runtime's I/O model is epoll-shaped;
// porting it to kqueue or IOCP is future work, not attempted here.

package poller

import (
	"errors"

	"github.com/momentics/hioload-fiber/api"
)

// Poller is an unusable placeholder satisfying api.Poller's shape so the
// package still compiles on non-Linux hosts.
type Poller struct{}

// New always fails on non-Linux platforms.
func New() (*Poller, error) {
	return nil, errors.New("poller: only linux is supported")
}

func (p *Poller) CreateContext(fd int) (*api.FileOptions, error) { return nil, api.ErrNotSupported }
func (p *Poller) DestroyContext(fd int)                          {}
func (p *Poller) ContextExists(fd int) bool                      { return false }
func (p *Poller) ContextTag(fd int) *api.FileOptions             { return nil }
func (p *Poller) AddWatcher(w *api.IOWatcher, fd int, conditions api.IOCondition) error {
	return api.ErrNotSupported
}
func (p *Poller) RemoveWatcher(w *api.IOWatcher) {}
func (p *Poller) GetReadyWatchers(clk api.Clock, cb func(*api.IOWatcher, api.IOCondition)) error {
	return api.ErrNotSupported
}
func (p *Poller) Close() error { return nil }

var _ api.Poller = (*Poller)(nil)
