// internal/ctrl/command.go

package ctrl

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/ostraca/sdcard-engine/internal/crc"
	"github.com/ostraca/sdcard-engine/internal/sdbus"
)

// command runs one full command cycle: send the framed command, collect
// the response if one is expected, then the data phase the descriptor
// asks for. Timeouts and CRC mismatches latch flags and end the cycle;
// only queue failures surface as errors.
func (c *Controller) command(ctx context.Context, req request) error {
	index := uint8(sdbus.Bits(req.value, 8, 14))
	resp := RespKind(sdbus.Bits(req.value, 0, 2))
	xfer := XferKind(sdbus.Bits(req.value, 5, 7))
	c.log.WithFields(logrus.Fields{
		"cmd": index, "arg": req.arg, "resp": resp, "xfer": xfer,
	}).Debug("ctrl: command issued")

	if err := c.sendCommand(ctx, index, req.arg, resp); err != nil {
		return err
	}
	if resp == RespNone {
		// No response leg and, with nothing to wait for, no data leg.
		c.latch(func() {
			c.cmdEvt.Done = true
			c.dataEvt.Done = true
		})
		return nil
	}

	ok, err := c.recvResponse(ctx, resp, xfer)
	if err != nil || !ok {
		return err
	}

	switch xfer {
	case XferRead:
		return c.recvData(ctx)
	case XferWrite:
		return c.sendData(ctx)
	default:
		c.latch(func() { c.dataEvt.Done = true })
		return nil
	}
}

// sendCommand emits the six command bytes: index with start and
// transmission bits, the argument most significant byte first, and the
// CRC7 trailer with the stop bit. The trailer carries the last marker
// only when no response will follow.
func (c *Controller) sendCommand(ctx context.Context, index uint8, arg uint32, resp RespKind) error {
	frame := [6]byte{
		0x40 | index&0x3f,
		byte(arg >> 24), byte(arg >> 16), byte(arg >> 8), byte(arg),
		crc.Command7(index, arg)<<1 | 1,
	}
	for i, b := range frame {
		f := sdbus.Frame{
			Data: b,
			Ctrl: sdbus.XferTag(sdbus.ChannelCmd, sdbus.DirWrite),
			Last: i == len(frame)-1 && resp == RespNone,
		}
		if err := sdbus.Send(ctx, c.tx, f); err != nil {
			return err
		}
	}
	return nil
}

// recvResponse asks the framer for the response bytes and shifts them
// into the response buffer. ok reports whether the cycle continues: a
// command timeout latches its flags, closes the data leg too, and ends
// the cycle here.
func (c *Controller) recvResponse(ctx context.Context, resp RespKind, xfer XferKind) (ok bool, err error) {
	count := byte(5) // (5+1)*8 = 48 bits
	if resp == RespLong {
		count = 16 // (16+1)*8 = 136 bits
	}
	req := sdbus.Frame{
		Data: count,
		Ctrl: sdbus.XferTag(sdbus.ChannelCmd, sdbus.DirRead),
		Last: xfer == XferNone,
	}
	if err := sdbus.Send(ctx, c.tx, req); err != nil {
		return false, err
	}

	for {
		f, err := sdbus.Recv(ctx, c.rx)
		if err != nil {
			return false, err
		}
		if f.Ctrl.Channel() != sdbus.ChannelCmd {
			continue // stale data frame from the previous cycle
		}
		if f.Ctrl.Status() == sdbus.StatusTimeout {
			c.log.Warn("ctrl: command response timed out")
			c.latch(func() {
				c.cmdEvt.Timeout = true
				c.cmdEvt.Done = true
				c.dataEvt.Done = true // no data phase will run
			})
			return false, nil
		}
		if !f.Last {
			c.mu.Lock()
			copy(c.resp[:], c.resp[1:])
			c.resp[14] = f.Data
			c.mu.Unlock()
			continue
		}

		// The final byte carries the 7-bit check value; recompute over
		// the whole buffer, its unpopulated leading zeros are neutral.
		check := uint8(sdbus.Bits(uint32(f.Data), 1, 8))
		c.mu.Lock()
		sum := crc.Sum7(c.resp[:])
		c.cmdEvt.Done = true
		if sum != check {
			c.cmdEvt.CRCError = true
		}
		c.mu.Unlock()
		if sum != check {
			c.log.WithFields(logrus.Fields{"got": sum, "want": check}).Warn("ctrl: response crc mismatch")
		}
		return true, nil
	}
}
