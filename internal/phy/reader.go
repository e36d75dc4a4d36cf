// internal/phy/reader.go

package phy

import (
	"context"

	"github.com/ostraca/sdcard-engine/internal/sdbus"
)

// readCmd services one response request: f.Data+1 bytes streamed back
// from the bit sampler with OK status and last on the final byte. A
// start bit missing the configured window turns into a single timeout
// frame instead. A request carrying the last marker asks for the
// trailing clocks once the response is in.
func (p *PHY) readCmd(ctx context.Context, f sdbus.Frame) error {
	want := int(f.Data) + 1
	ss := session{
		window: p.cfg.cmdTimeout,
		bytes:  make(chan byte, sdbus.Depth),
		stop:   make(chan struct{}),
	}
	select {
	case p.smp.sessions <- ss:
	case <-ctx.Done():
		return ctx.Err()
	}

	timedOut, err := p.forward(ctx, ss, want)

	// End the session and wait for the sampler to let go of the line
	// before driving it again.
	close(ss.stop)
	for range ss.bytes {
	}

	if err != nil {
		return err
	}
	if timedOut {
		p.log.WithField("window", p.cfg.cmdTimeout).Debug("phy: response start bit timed out")
		return sdbus.Send(ctx, p.tx, sdbus.Frame{
			Ctrl: sdbus.ReadTag(sdbus.ChannelCmd, sdbus.StatusTimeout),
			Last: true,
		})
	}
	if f.Last {
		p.clk8()
	}
	return nil
}

// forward streams want sampled bytes to the controller. timedOut
// reports the sampler giving up before the byte count was met.
func (p *PHY) forward(ctx context.Context, ss session, want int) (timedOut bool, err error) {
	for got := 0; got < want; got++ {
		select {
		case b, ok := <-ss.bytes:
			if !ok {
				return true, nil
			}
			err := sdbus.Send(ctx, p.tx, sdbus.Frame{
				Data: b,
				Ctrl: sdbus.ReadTag(sdbus.ChannelCmd, sdbus.StatusOK),
				Last: got == want-1,
			})
			if err != nil {
				return false, err
			}
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	return false, nil
}
