// internal/sdbus/stream.go

package sdbus

import "context"

// Depth is the capacity of a crossing stream. Two slots absorb the
// producer/consumer skew between the domains; a full stream blocks the
// sender, which is the flow control.
const Depth = 2

// Stream carries frames across a domain boundary.
type Stream = chan Frame

// NewStream returns a bounded crossing stream.
func NewStream() Stream {
	return make(Stream, Depth)
}

// Send enqueues f, blocking while the stream is full. Returns the context
// error if ctx ends first.
func Send(ctx context.Context, s Stream, f Frame) error {
	select {
	case s <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recv dequeues the next frame, blocking while the stream is empty.
// Returns the context error if ctx ends first.
func Recv(ctx context.Context, s Stream) (Frame, error) {
	select {
	case f := <-s:
		return f, nil
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

// TryRecv dequeues a frame if one is ready. It never blocks.
func TryRecv(s Stream) (Frame, bool) {
	select {
	case f := <-s:
		return f, true
	default:
		return Frame{}, false
	}
}
