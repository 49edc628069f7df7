//go:build debug

package channel

// New creates the inbound channel for one session.
// In debug builds, this returns an unbuffered channel (ignores size) so
// every frame handoff synchronises with the tick thread.
func New[T any](size int) Channel[T] {
	return NewUnbuffered[T]()
}
