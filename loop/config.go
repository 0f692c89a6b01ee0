// File: loop/config.go
// Author: momentics <momentics@gmail.com>
//
// Config is Loop's construction-time tunable set. Most fields have
// reasonable zero-value defaults; DefaultConfig documents them explicitly
// the way the teacher's control/config.go documents its own defaults.

package loop

import "go.uber.org/zap"

// Config configures a Loop at construction time.
type Config struct {
	// Workers is the thread pool's worker count. 0 defaults to
	// runtime.NumCPU().
	Workers int
	// PinCPU, if >= 0, is the CPU the calling OS thread is pinned to on
	// the first call to Run.
	PinCPU int
	// Logger, if non-nil, becomes the package-wide diagnostic logger for
	// the whole runtime, not just this Loop.
	Logger *zap.Logger
}

// DefaultConfig returns a Config with no CPU pin and a nil logger (the
// runtime stays silent until SetLogger or Config.Logger is set).
func DefaultConfig() Config {
	return Config{
		Workers: 0,
		PinCPU:  -1,
	}
}
