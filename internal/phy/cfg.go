// internal/phy/cfg.go

package phy

import "github.com/ostraca/sdcard-engine/internal/sdbus"

// busConfig is the framer-side copy of the bus settings, written one
// byte at a time by config frames and read between commands.
type busConfig struct {
	cmdTimeout  uint32
	dataTimeout uint32
	blkSize     uint16
	voltage     uint8
}

// apply latches one config byte at the offset its mode encodes. The
// mode distance from the range base gives the byte shift, most
// significant byte first. Reports false for a mode outside the config
// ranges.
func (c *busConfig) apply(m sdbus.Mode, b byte) bool {
	switch {
	case m >= sdbus.ModeCfgTimeoutCmdHH && m <= sdbus.ModeCfgTimeoutCmdLL:
		c.cmdTimeout = sdbus.PutByte(c.cmdTimeout, 24-8*int(m-sdbus.ModeCfgTimeoutCmdHH), b)
	case m >= sdbus.ModeCfgTimeoutDataHH && m <= sdbus.ModeCfgTimeoutDataLL:
		c.dataTimeout = sdbus.PutByte(c.dataTimeout, 24-8*int(m-sdbus.ModeCfgTimeoutDataHH), b)
	case m == sdbus.ModeCfgBlkSizeH, m == sdbus.ModeCfgBlkSizeL:
		c.blkSize = sdbus.PutByte(c.blkSize, 8-8*int(m-sdbus.ModeCfgBlkSizeH), b)
	case m == sdbus.ModeCfgVoltage:
		c.voltage = b & 1
	default:
		return false
	}
	return true
}

// BusConfig returns the framer's settings copy. Meaningful only between
// commands; the framer itself writes it while servicing config frames.
func (p *PHY) BusConfig() (cmdTimeout, dataTimeout uint32, blkSize uint16, voltage uint8) {
	return p.cfg.cmdTimeout, p.cfg.dataTimeout, p.cfg.blkSize, p.cfg.voltage
}
