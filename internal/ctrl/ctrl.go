// internal/ctrl/ctrl.go
//
// Package ctrl implements the control orchestrator: the host-facing
// register surface and the state machine behind it. A command write
// turns into a sequence of framed bytes for the bus framer; the
// response and data flowing back are collected, CRC-checked, and the
// outcome latched into the event registers until the next command.
package ctrl

import (
	"errors"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ostraca/sdcard-engine/internal/event"
	"github.com/ostraca/sdcard-engine/internal/sdbus"
)

// ErrBusy means the trigger queue is full: too many register writes
// outstanding ahead of the state machine.
var ErrBusy = errors.New("ctrl: request queue full")

// RespKind is the command register's response-kind field.
type RespKind uint8

const (
	RespNone  RespKind = 0
	RespShort RespKind = 1 // 48 bits
	RespLong  RespKind = 2 // 136 bits
)

// XferKind is the command register's data-transfer field.
type XferKind uint8

const (
	XferNone  XferKind = 0
	XferRead  XferKind = 1
	XferWrite XferKind = 2
)

// EncodeCommand packs the command register image: bits[0:2] response
// kind, bits[5:7] transfer direction, bits[8:14] index.
func EncodeCommand(index uint8, resp RespKind, xfer XferKind) uint32 {
	return uint32(resp&3) | uint32(xfer&3)<<5 | uint32(index&0x3f)<<8
}

// Pending register writes queue here until the state machine is back in
// idle; writes past this depth are rejected with ErrBusy.
const reqDepth = 4

type reqKind uint8

const (
	reqCommand reqKind = iota
	reqCmdTimeout
	reqDataTimeout
	reqBlkSize
	reqVoltage
)

type request struct {
	kind  reqKind
	value uint32
	arg   uint32 // commands only: argument snapshot at issue
}

// Config wires a controller.
type Config struct {
	Source io.Reader // write-transfer payload
	Sink   io.Writer // read-transfer payload destination
	Logger *logrus.Logger
}

// Controller is the control-side task. Host register access is safe
// from any goroutine; the state machine itself runs in Run.
type Controller struct {
	log *logrus.Logger
	src io.Reader
	dst io.Writer

	tx sdbus.Stream // to the framer
	rx sdbus.Stream // from the framer

	reqs chan request

	mu      sync.Mutex
	arg     uint32
	blocks  uint16 // blockcount register
	blkSize uint16 // host copy, snapshot for write framing
	resp    [15]byte
	cmdEvt  event.Flags
	dataEvt event.Flags
	debug   uint32
	blkcnt  uint16
}

// New creates a controller speaking to the framer over tx and rx.
func New(cfg Config, tx, rx sdbus.Stream) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Controller{
		log:     cfg.Logger,
		src:     cfg.Source,
		dst:     cfg.Sink,
		tx:      tx,
		rx:      rx,
		reqs:    make(chan request, reqDepth),
		cmdEvt:  event.Initial(),
		dataEvt: event.Initial(),
	}
}

// ---- host register surface ----

// SetArgument latches the command argument. Plain storage, no trigger.
func (c *Controller) SetArgument(v uint32) {
	c.mu.Lock()
	c.arg = v
	c.mu.Unlock()
}

// SetBlockCount latches the block count register: a data transfer moves
// blockcount+1 blocks. Plain storage, no trigger.
func (c *Controller) SetBlockCount(v uint16) {
	c.mu.Lock()
	c.blocks = v
	c.mu.Unlock()
}

// Command issues a command described by the register image (see
// EncodeCommand). It clears the event registers, the response buffer
// and the debug register, and snapshots the argument.
func (c *Controller) Command(v uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case c.reqs <- request{kind: reqCommand, value: v, arg: c.arg}:
	default:
		return ErrBusy
	}
	c.cmdEvt = event.Flags{}
	c.dataEvt = event.Flags{}
	c.resp = [15]byte{}
	c.debug = 0
	return nil
}

// SetCmdTimeout streams a new command timeout to the framer. Serviced
// from idle, in issue order with commands.
func (c *Controller) SetCmdTimeout(v uint32) error { return c.push(reqCmdTimeout, v) }

// SetDataTimeout streams a new data timeout to the framer.
func (c *Controller) SetDataTimeout(v uint32) error { return c.push(reqDataTimeout, v) }

// SetBlockSize streams a new block size to the framer and keeps the
// host-side copy used to frame outgoing blocks.
func (c *Controller) SetBlockSize(v uint16) error { return c.push(reqBlkSize, uint32(v)) }

// SetVoltage streams the voltage select; bit 0 picks 1.8V over 3.3V.
func (c *Controller) SetVoltage(v uint8) error { return c.push(reqVoltage, uint32(v)) }

func (c *Controller) push(k reqKind, v uint32) error {
	select {
	case c.reqs <- request{kind: k, value: v}:
		return nil
	default:
		return ErrBusy
	}
}

// Response returns the 120-bit response buffer, most recent byte last.
func (c *Controller) Response() [15]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resp
}

// CmdEvent returns the command leg's latched flags.
func (c *Controller) CmdEvent() event.Flags {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cmdEvt
}

// DataEvent returns the data leg's latched flags.
func (c *Controller) DataEvent() event.Flags {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dataEvt
}

// Debug returns the last write-acknowledge status seen by the state
// machine, cleared on command issue.
func (c *Controller) Debug() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.debug
}

// BlockCounter returns the transfer progress counter. It advances per
// finished block and returns to zero when a transfer ends or aborts.
func (c *Controller) BlockCounter() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blkcnt
}

// latch runs f with the register file locked.
func (c *Controller) latch(f func()) {
	c.mu.Lock()
	f()
	c.mu.Unlock()
}
