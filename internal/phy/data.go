// internal/phy/data.go

package phy

import (
	"context"

	"github.com/ostraca/sdcard-engine/internal/sdbus"
)

// dataXfer routes a data-channel frame to the attached block port. A
// read request pulls one framed block and streams it back; write bytes
// accumulate until the last marker, then the whole block goes to the
// port and the card's acknowledge status returns as a single frame.
// Without a port the framer parks on the frame until shutdown.
func (p *PHY) dataXfer(ctx context.Context, f sdbus.Frame) error {
	if p.port == nil {
		p.log.Warn("phy: data frame with no port attached")
		<-ctx.Done()
		return ctx.Err()
	}

	if f.Ctrl.Dir() == sdbus.DirWrite {
		p.wbuf = append(p.wbuf, f.Data)
		if !f.Last {
			return nil
		}
		st := p.port.WriteBlock(p.wbuf)
		p.wbuf = p.wbuf[:0]
		return sdbus.Send(ctx, p.tx, sdbus.Frame{
			Data: byte(st),
			Ctrl: sdbus.ReadTag(sdbus.ChannelData, st),
			Last: true,
		})
	}

	block, ok := p.port.ReadBlock(p.cfg.dataTimeout)
	if !ok {
		p.log.WithField("window", p.cfg.dataTimeout).Debug("phy: block read timed out")
		return sdbus.Send(ctx, p.tx, sdbus.Frame{
			Ctrl: sdbus.ReadTag(sdbus.ChannelData, sdbus.StatusTimeout),
			Last: true,
		})
	}
	for i, b := range block {
		err := sdbus.Send(ctx, p.tx, sdbus.Frame{
			Data: b,
			Ctrl: sdbus.ReadTag(sdbus.ChannelData, sdbus.StatusOK),
			Last: i == len(block)-1,
		})
		if err != nil {
			return err
		}
	}
	return nil
}
