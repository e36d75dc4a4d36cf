// internal/phy/writer.go

package phy

import "github.com/ostraca/sdcard-engine/internal/sdbus"

// initCycles is the bring-up preamble length the protocol requires
// before the first command: that many clocks with the command line high
// and the data lines driven to ones.
const initCycles = 80

// writeCmd shifts one command byte onto the line most significant bit
// first, one bit per bus clock. The first byte ever written is preceded
// by the one-time preamble; a byte carrying the last marker is followed
// by the trailing clocks.
func (p *PHY) writeCmd(f sdbus.Frame) {
	if !p.didInit {
		p.init()
	}
	for bit := 7; bit >= 0; bit-- {
		p.line.Step(LineState{
			Clk:   true,
			Cmd:   f.Data>>uint(bit)&1 == 1,
			CmdOE: true,
		})
	}
	if f.Last {
		p.clk8()
	}
}

func (p *PHY) init() {
	p.log.Debug("phy: bus init preamble")
	for i := 0; i < initCycles; i++ {
		p.line.Step(LineState{Clk: true, Cmd: true, CmdOE: true, Dat: 0xf, DatOE: true})
	}
	p.didInit = true
}

// clk8 gives the card the eight trailing clocks due after a finished
// command or response, command line held high.
func (p *PHY) clk8() {
	for i := 0; i < 8; i++ {
		p.line.Step(LineState{Clk: true, Cmd: true, CmdOE: true})
	}
}
