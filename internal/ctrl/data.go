// internal/ctrl/data.go

package ctrl

import (
	"context"
	"fmt"

	"github.com/ostraca/sdcard-engine/internal/crc"
	"github.com/ostraca/sdcard-engine/internal/sdbus"
)

// recvData pulls blockcount+1 blocks from the framer, one request per
// block, feeding accepted bytes to the CRC checker. A timeout status at
// any point aborts the loop, resets the counter and closes the leg; a
// block failing its CRC latches the error and the loop carries on.
func (c *Controller) recvData(ctx context.Context) error {
	c.mu.Lock()
	blocks := int(c.blocks)
	c.mu.Unlock()
	chk := crc.NewChecker16(c.dst)

	for blk := 0; blk <= blocks; blk++ {
		req := sdbus.Frame{
			Ctrl: sdbus.XferTag(sdbus.ChannelData, sdbus.DirRead),
			Last: blk == blocks,
		}
		if err := sdbus.Send(ctx, c.tx, req); err != nil {
			return err
		}
		for {
			f, err := sdbus.Recv(ctx, c.rx)
			if err != nil {
				return err
			}
			if f.Ctrl.Status() == sdbus.StatusTimeout {
				// Regardless of channel, as the bus protocol has it.
				c.log.WithField("block", blk).Warn("ctrl: block read timed out")
				c.latch(func() {
					c.dataEvt.Timeout = true
					c.dataEvt.Done = true
					c.blkcnt = 0
				})
				return nil
			}
			if f.Ctrl.Channel() != sdbus.ChannelData {
				continue // stale command frame, drained
			}
			if f.Ctrl.Status() == sdbus.StatusOK {
				if err := chk.Push(f.Data, f.Last); err != nil {
					return fmt.Errorf("ctrl: payload sink: %w", err)
				}
			}
			if f.Last {
				break
			}
		}
		bad := !chk.Valid()
		c.latch(func() {
			if bad {
				c.dataEvt.CRCError = true
			}
			if blk < blocks {
				c.blkcnt++
			} else {
				c.blkcnt = 0
				c.dataEvt.Done = true
			}
		})
		if bad {
			c.log.WithField("block", blk).Warn("ctrl: block crc mismatch")
		}
	}
	return nil
}

// sendData streams blockcount+1 blocks through the CRC generator to the
// framer. Acknowledgement frames coming back are inspected on every
// sent byte: each one latches the debug status, and any status other
// than data-accepted marks the write error without stopping the
// transfer, since the card may still take the remaining blocks.
func (c *Controller) sendData(ctx context.Context) error {
	c.mu.Lock()
	blocks := int(c.blocks)
	size := int(c.blkSize)
	c.mu.Unlock()

	if c.src == nil || size == 0 {
		c.log.Error("ctrl: write transfer without payload source or block size")
		c.latch(func() {
			c.dataEvt.WriteError = true
			c.dataEvt.Done = true
		})
		return nil
	}

	gen := crc.NewGenerator16(c.src, size)
	for blk := 0; blk <= blocks; blk++ {
		for {
			b, last, err := gen.Next()
			if err != nil {
				return fmt.Errorf("ctrl: payload source: %w", err)
			}
			f := sdbus.Frame{
				Data: b,
				Ctrl: sdbus.XferTag(sdbus.ChannelData, sdbus.DirWrite),
				Last: last,
			}
			if err := sdbus.Send(ctx, c.tx, f); err != nil {
				return err
			}
			c.pollAck()
			if last {
				break
			}
		}
		c.latch(func() {
			if blk < blocks {
				c.blkcnt++
			} else {
				c.blkcnt = 0
				c.dataEvt.Done = true
			}
		})
	}
	if gen.Short() {
		c.log.Warn("ctrl: payload source ran short, blocks zero filled")
	}
	c.pollAck()
	return nil
}

// pollAck drains whatever acknowledgement frames the framer has queued.
func (c *Controller) pollAck() {
	for {
		f, ok := sdbus.TryRecv(c.rx)
		if !ok {
			return
		}
		st := f.Ctrl.Status()
		c.latch(func() {
			c.debug = uint32(st)
			if st != sdbus.StatusDataAccepted {
				c.dataEvt.WriteError = true
			}
		})
		if st != sdbus.StatusDataAccepted {
			c.log.WithField("status", st).Warn("ctrl: write block not accepted")
		}
	}
}
