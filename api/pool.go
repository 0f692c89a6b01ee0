// File: api/pool.go
// Author: momentics <momentics@gmail.com>
//
// Defines abstract pooling APIs for transient object reuse on hot paths
// (epoll event batch buffers).

package api

// ObjectPool provides generic pooling of Go objects allocated transiently.
type ObjectPool[T any] interface {
	// Get returns an available instance from pool.
	Get() T

	// Put returns an instance for reuse.
	Put(obj T)
}
