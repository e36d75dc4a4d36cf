// internal/phy/phy.go
//
// Package phy implements the bus framer: the card-facing side of the
// engine. It consumes tagged frames from the controller stream, serializes
// command bytes onto the line, reconstructs responses through the bit
// sampler, latches its own copy of the bus configuration, and hands
// data-channel frames to the attached block port. One goroutine owns the
// line; the sampler borrows it for the duration of a read session.
package phy

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/ostraca/sdcard-engine/internal/sdbus"
)

// LineState is the host-driven pin state for one bus clock cycle.
type LineState struct {
	Clk   bool  // clock runs this cycle
	Cmd   bool  // command line level when driven
	CmdOE bool  // host drives the command line
	Dat   uint8 // data line levels, low four bits
	DatOE bool  // host drives the data lines
}

// Line is the card-facing pin surface. Step advances exactly one bus
// clock with the given host state and returns the command line level seen
// at the host; the card drives it when CmdOE is false, otherwise it reads
// back the driven level. Levels persist between calls.
type Line interface {
	Step(LineState) bool
}

// DataPort is the block-level collaborator behind the data lines. The
// framer itself moves no payload; whoever owns the data path plugs in
// here.
type DataPort interface {
	// ReadBlock returns one block framed with its CRC trailer, or
	// ok=false when no data turns up inside the window (cycles).
	ReadBlock(window uint32) (block []byte, ok bool)
	// WriteBlock consumes one framed block and returns the card's
	// acknowledge status.
	WriteBlock(block []byte) sdbus.Status
}

// Config wires a framer.
type Config struct {
	Line   Line
	Port   DataPort // optional; data frames park without one
	Logger *logrus.Logger
}

// PHY is the bus framer task.
type PHY struct {
	line Line
	port DataPort
	log  *logrus.Logger

	rx sdbus.Stream // frames from the controller
	tx sdbus.Stream // frames to the controller

	cfg     busConfig
	didInit bool
	smp     *sampler
	wbuf    []byte
}

// New creates a framer reading rx and answering on tx.
func New(cfg Config, rx, tx sdbus.Stream) (*PHY, error) {
	if cfg.Line == nil {
		return nil, errors.New("phy: line required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	p := &PHY{
		line: cfg.Line,
		port: cfg.Port,
		log:  cfg.Logger,
		rx:   rx,
		tx:   tx,
	}
	p.smp = &sampler{line: cfg.Line, sessions: make(chan session)}
	return p, nil
}

// Run services frames until the context ends. It owns the sampler task
// for the same lifetime.
func (p *PHY) Run(ctx context.Context) error {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go p.smp.run(sctx)

	p.log.Debug("phy: bus task up")
	for {
		f, ok := sdbus.TryRecv(p.rx)
		if !ok {
			// Nothing pending: hold the safe idle drive while waiting.
			p.park()
			var err error
			if f, err = sdbus.Recv(ctx, p.rx); err != nil {
				return err
			}
		}
		if err := p.dispatch(ctx, f); err != nil {
			return err
		}
	}
}

func (p *PHY) dispatch(ctx context.Context, f sdbus.Frame) error {
	if f.Ctrl.Mode() != sdbus.ModeXfer {
		if !p.cfg.apply(f.Ctrl.Mode(), f.Data) {
			p.log.WithField("mode", f.Ctrl.Mode()).Debug("phy: unknown config mode dropped")
		}
		return nil
	}

	if f.Ctrl.Channel() == sdbus.ChannelData {
		return p.dataXfer(ctx, f)
	}
	if f.Ctrl.Dir() == sdbus.DirWrite {
		p.writeCmd(f)
		return nil
	}
	return p.readCmd(ctx, f)
}

// park drives the quiescent state: clock stopped, command line driven
// high, data lines released.
func (p *PHY) park() {
	p.line.Step(LineState{Cmd: true, CmdOE: true})
}
