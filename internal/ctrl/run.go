// internal/ctrl/run.go

package ctrl

import (
	"context"

	"github.com/ostraca/sdcard-engine/internal/sdbus"
)

// Run services register triggers until the context ends. One request is
// in flight at a time; a command cycle runs to completion, including
// its forced-termination timeout paths, before the next dequeues.
func (c *Controller) Run(ctx context.Context) error {
	c.log.Debug("ctrl: control task up")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-c.reqs:
			var err error
			if req.kind == reqCommand {
				err = c.command(ctx, req)
			} else {
				err = c.configure(ctx, req)
			}
			if err != nil {
				return err
			}
		}
	}
}

// configure streams one framer setting, a byte per config mode, most
// significant byte first, each byte flow-controlled by the queue.
func (c *Controller) configure(ctx context.Context, req request) error {
	var base sdbus.Mode
	n := 4
	switch req.kind {
	case reqCmdTimeout:
		base = sdbus.ModeCfgTimeoutCmdHH
	case reqDataTimeout:
		base = sdbus.ModeCfgTimeoutDataHH
	case reqBlkSize:
		base, n = sdbus.ModeCfgBlkSizeH, 2
		c.latch(func() { c.blkSize = uint16(req.value) })
	case reqVoltage:
		base, n = sdbus.ModeCfgVoltage, 1
	}
	c.log.WithField("mode", base).Debug("ctrl: config write")
	for i := 0; i < n; i++ {
		f := sdbus.Frame{
			Data: byte(req.value >> uint(8*(n-1-i))),
			Ctrl: sdbus.CfgTag(base + sdbus.Mode(i)),
			Last: i == n-1,
		}
		if err := sdbus.Send(ctx, c.tx, f); err != nil {
			return err
		}
	}
	return nil
}
