//go:build !debug

package channel

// New creates the inbound channel for one session.
// In production builds, this returns a buffered channel
func New[T any](size int) Channel[T] {
	return NewBuffered[T](size)
}
