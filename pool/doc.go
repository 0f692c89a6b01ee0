// Package pool
// Author: momentics <momentics@gmail.com>
//
// Generic object pooling for transient allocations on hot paths, such as
// the poller's per-cycle event batch buffer. See objpool.go.
package pool
