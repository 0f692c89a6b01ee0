// File: control/runtime.go
// Author: momentics <momentics@gmail.com>
//
// Runtime composes ConfigStore, MetricsRegistry and DebugProbes behind the
// single api.Control surface Loop exposes to callers.

package control

import "github.com/momentics/hioload-fiber/api"

// Runtime satisfies api.Control by composing the package's three
// independent stores. Loop owns exactly one Runtime.
type Runtime struct {
	Config  *ConfigStore
	Metrics *MetricsRegistry
	Debug   *DebugProbes
}

// NewRuntime wires a fresh, empty Runtime and registers the
// platform-specific probes.
func NewRuntime() *Runtime {
	r := &Runtime{
		Config:  NewConfigStore(),
		Metrics: NewMetricsRegistry(),
		Debug:   NewDebugProbes(),
	}
	RegisterPlatformProbes(r.Debug)
	return r
}

func (r *Runtime) GetConfig() map[string]any { return r.Config.GetSnapshot() }

func (r *Runtime) SetConfig(cfg map[string]any) error {
	r.Config.SetConfig(cfg)
	return nil
}

// Stats returns the union of the cumulative counters Metrics has
// recorded (via Add or Set) and the live values every registered debug probe currently
// reports.
func (r *Runtime) Stats() map[string]any {
	out := r.Metrics.GetSnapshot()
	for k, v := range r.Debug.DumpState() {
		out[k] = v
	}
	return out
}

func (r *Runtime) OnReload(fn func()) { r.Config.OnReload(fn) }

func (r *Runtime) RegisterDebugProbe(name string, fn func() any) { r.Debug.RegisterProbe(name, fn) }

var _ api.Control = (*Runtime)(nil)
