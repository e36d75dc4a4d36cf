// internal/phy/sampler.go

package phy

import "context"

// session is one borrow of the line by the sampler: search for a start
// bit within window cycles, then assemble bytes until the reader closes
// stop. The sampler closes bytes when it lets go of the line; closing
// with no byte ever delivered means the start bit never came.
type session struct {
	window uint32
	bytes  chan byte
	stop   chan struct{}
}

// sampler reconstructs bytes from the serial command line. It runs in
// its own timing domain and owns the line for the duration of a
// session; assembled bytes cross back to the reader through the bounded
// session channel.
type sampler struct {
	line     Line
	sessions chan session
}

func (s *sampler) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ss := <-s.sessions:
			s.service(ctx, ss)
		}
	}
}

// sample advances one bus clock with the command line released and
// returns the level the card drives.
func (s *sampler) sample() bool {
	return s.line.Step(LineState{Clk: true})
}

func (s *sampler) service(ctx context.Context, ss session) {
	defer close(ss.bytes)

	// Start bit: the resting-high line falls. The wait is bounded by the
	// configured window; timeout fires when it is strictly exceeded.
	var waited uint32
	for s.sample() {
		waited++
		if waited > ss.window {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ss.stop:
			return
		default:
		}
	}

	// The start bit lands in bit 7 of the first byte; everything after
	// shifts in most significant bit first, eight samples per byte.
	var b uint8
	nbits := 1
	for {
		select {
		case <-ctx.Done():
			return
		case <-ss.stop:
			return
		default:
		}
		b <<= 1
		if s.sample() {
			b |= 1
		}
		nbits++
		if nbits < 8 {
			continue
		}
		select {
		case ss.bytes <- b:
			b, nbits = 0, 0
		case <-ss.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}
