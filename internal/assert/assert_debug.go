//go:build hioloaddebug
// +build hioloaddebug

// File: internal/assert/assert_debug.go
// Author: momentics <momentics@gmail.com>
//
// Debug-build variant: panics on a failed assertion instead of silently
// falling through. Grounded on assert.cc's AssertionFails, which prints a
// diagnostic and calls std::terminate; panic is the idiomatic Go analogue.

package assert

import "fmt"

// Assertf panics with the formatted message if cond is false.
func Assertf(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf("assert: "+format, args...))
	}
}
