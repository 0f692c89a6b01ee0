//go:build !hioloaddebug
// +build !hioloaddebug

// File: internal/assert/assert.go
// Author: momentics <momentics@gmail.com>
//
// Assert is a no-op in ordinary builds. Build with -tags hioloaddebug to
// get the panicking variant in assert_debug.go, mirroring the source's
// SIREN_ASSERT posture: enabled in development builds, compiled out of
// release ones rather than left as a runtime-configurable check.

package assert

// Assertf does nothing in a release build; cond and format are evaluated
// for their side effects only (there are none in the call sites this
// package expects).
func Assertf(cond bool, format string, args ...any) {}
