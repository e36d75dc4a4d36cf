// internal/card/card.go
//
// Package card is a simulated SD card: the collaborator the bus framer
// talks to. It decodes 48-bit command frames shifted onto the line,
// answers with CRC7-framed responses after a configurable start-bit
// latency, and serves block reads and writes from an in-memory store
// behind the framer's data port. Fault injection covers the engine's
// error paths: a silent card, corrupted read trailers and refused
// writes.
package card

import (
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/ostraca/sdcard-engine/internal/crc"
	"github.com/ostraca/sdcard-engine/internal/phy"
	"github.com/ostraca/sdcard-engine/internal/sdbus"
)

// Card status word the short responses carry: ready, transfer state.
const statusWord uint32 = 0x00000900

// Config describes the simulated card.
type Config struct {
	Blocks        int    // capacity in blocks; 0 means 128
	BlockSize     uint16 // bytes per block; 0 means 512
	Image         string // optional backing image loaded at creation
	ResponseDelay uint32 // idle cycles before the response start bit
	ReadDelay     uint32 // cycles before block data turns up

	// Fault injection.
	Silent         bool // never answer on the command line
	CorruptReadCRC bool // damage every read block trailer
	NackWrites     bool // refuse every write block

	Logger *logrus.Logger
}

// Card implements phy.Line and phy.DataPort.
type Card struct {
	cfg Config
	log *logrus.Logger

	data []byte
	cid  [15]byte

	blockLen uint16 // current block length, CMD16 overrides
	addr     uint32 // block address of the active transfer

	// Command receiver.
	rxActive bool
	rxBits   int
	rxBuf    uint64

	// Response driver.
	out    []byte
	outPos int // bit position across out
	delay  uint32
}

// New builds a card, loading the backing image when one is configured.
func New(cfg Config) (*Card, error) {
	if cfg.Blocks == 0 {
		cfg.Blocks = 128
	}
	if cfg.Blocks < 0 {
		return nil, errors.New("card: negative capacity")
	}
	if cfg.BlockSize == 0 {
		cfg.BlockSize = 512
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	c := &Card{
		cfg:      cfg,
		log:      cfg.Logger,
		data:     make([]byte, cfg.Blocks*int(cfg.BlockSize)),
		blockLen: cfg.BlockSize,
	}
	copy(c.cid[:], []byte{
		0x1b, 'S', 'M', 'G', 'O', 'S', 'D', 'S', 'I', 'M',
		0x10, 0x00, 0x00, 0x13, 0x37,
	})
	if cfg.Image != "" {
		raw, err := os.ReadFile(cfg.Image)
		if err != nil {
			return nil, fmt.Errorf("card: image %s: %w", cfg.Image, err)
		}
		copy(c.data, raw)
		c.log.WithFields(logrus.Fields{"image": cfg.Image, "bytes": len(raw)}).Info("card: image loaded")
	}
	return c, nil
}

// Flush writes the block store back to the backing image, if any.
func (c *Card) Flush() error {
	if c.cfg.Image == "" {
		return nil
	}
	if err := os.WriteFile(c.cfg.Image, c.data, 0o644); err != nil {
		return fmt.Errorf("card: flush %s: %w", c.cfg.Image, err)
	}
	return nil
}

// ---- phy.Line ----

// Step advances one bus clock. While the host drives the command line
// the card shifts the level into its command receiver; while the host
// listens the card drives its pending response, high when idle.
func (c *Card) Step(s phy.LineState) bool {
	if !s.Clk {
		// Clock stopped: the line just shows whoever drives it.
		if s.CmdOE {
			return s.Cmd
		}
		return true
	}
	if s.CmdOE {
		// Host owns the line; any half-sent response is abandoned.
		c.out, c.outPos = nil, 0
		c.shiftIn(s.Cmd)
		return s.Cmd
	}
	return c.driveBit()
}

// shiftIn accumulates host-driven bits into 48-bit command frames. The
// resting-high line contributes nothing until a start bit falls.
func (c *Card) shiftIn(level bool) {
	if !c.rxActive {
		if level {
			return // idle, preamble or trailer clocks
		}
		c.rxActive = true
		c.rxBits = 1
		c.rxBuf = 0
		return
	}
	c.rxBuf <<= 1
	if level {
		c.rxBuf |= 1
	}
	c.rxBits++
	if c.rxBits == 48 {
		c.rxActive = false
		c.decode()
	}
}

// driveBit produces the card side of the line for one listening cycle.
func (c *Card) driveBit() bool {
	if len(c.out) == 0 {
		return true
	}
	if c.delay > 0 {
		c.delay--
		return true
	}
	b := c.out[c.outPos/8]>>(7-uint(c.outPos%8))&1 == 1
	c.outPos++
	if c.outPos == 8*len(c.out) {
		c.out, c.outPos = nil, 0
	}
	return b
}

// decode interprets a received 48-bit frame and prepares the response.
func (c *Card) decode() {
	frame := [5]byte{
		byte(c.rxBuf >> 40), byte(c.rxBuf >> 32), byte(c.rxBuf >> 24),
		byte(c.rxBuf >> 16), byte(c.rxBuf >> 8),
	}
	check := uint8(c.rxBuf >> 1 & 0x7f)
	index := frame[0] & 0x3f
	arg := uint32(frame[1])<<24 | uint32(frame[2])<<16 | uint32(frame[3])<<8 | uint32(frame[4])

	if sum := crc.Sum7(frame[:]); sum != check {
		c.log.WithFields(logrus.Fields{"cmd": index, "got": check, "want": sum}).
			Warn("card: command crc mismatch, ignoring")
		return
	}
	c.log.WithFields(logrus.Fields{"cmd": index, "arg": arg}).Debug("card: command")

	switch index {
	case 16: // SET_BLOCKLEN
		if arg > 0 && arg <= 0xffff {
			c.blockLen = uint16(arg)
		}
	case 17, 18, 24, 25: // block transfers address by block number
		c.addr = arg
	}

	if c.cfg.Silent {
		return
	}
	c.out = c.respond(index, arg)
	c.outPos = 0
	c.delay = c.cfg.ResponseDelay
}

// respond builds the wire response for a command: a 17-byte CID-style
// frame for the register reads, the 6-byte short form otherwise. CMD0
// expects no response at all.
func (c *Card) respond(index uint8, arg uint32) []byte {
	switch index {
	case 0:
		return nil
	case 2, 9, 10:
		body := make([]byte, 16)
		body[0] = 0x3f
		copy(body[1:], c.cid[:])
		return append(body, crc.Sum7(body[1:])<<1|1)
	case 8:
		// Echo the check pattern back.
		body := []byte{index, byte(arg >> 24), byte(arg >> 16), byte(arg >> 8), byte(arg)}
		return append(body, crc.Sum7(body)<<1|1)
	default:
		body := []byte{
			index,
			byte(statusWord >> 24), byte(statusWord >> 16),
			byte(statusWord >> 8), byte(statusWord & 0xff),
		}
		return append(body, crc.Sum7(body)<<1|1)
	}
}

// ---- phy.DataPort ----

// ReadBlock serves one framed block at the current address, advancing
// it. Data later than the window never turns up at all.
func (c *Card) ReadBlock(window uint32) ([]byte, bool) {
	if c.cfg.ReadDelay > window {
		c.log.WithFields(logrus.Fields{"delay": c.cfg.ReadDelay, "window": window}).
			Debug("card: read delay exceeds window")
		return nil, false
	}
	payload := c.slice(c.addr)
	c.addr++
	sum := crc.Sum16(payload)
	framed := append(append([]byte(nil), payload...), byte(sum>>8), byte(sum))
	if c.cfg.CorruptReadCRC {
		framed[len(framed)-1] ^= 0x01
	}
	return framed, true
}

// WriteBlock verifies and stores one framed block at the current
// address, advancing it, and returns the acknowledge status.
func (c *Card) WriteBlock(block []byte) sdbus.Status {
	if len(block) < 2 {
		return sdbus.StatusWriteError
	}
	payload := block[:len(block)-2]
	want := uint16(block[len(block)-2])<<8 | uint16(block[len(block)-1])
	if crc.Sum16(payload) != want {
		c.log.WithField("addr", c.addr).Warn("card: write block crc mismatch")
		return sdbus.StatusCRCError
	}
	if c.cfg.NackWrites {
		c.addr++
		return sdbus.StatusWriteError
	}
	dst := c.slice(c.addr)
	c.addr++
	if len(payload) != len(dst) {
		c.log.WithFields(logrus.Fields{"got": len(payload), "want": len(dst)}).
			Warn("card: write block length mismatch")
		return sdbus.StatusWriteError
	}
	copy(dst, payload)
	return sdbus.StatusDataAccepted
}

// slice returns the storage for one block, clamped to capacity.
func (c *Card) slice(addr uint32) []byte {
	size := int(c.blockLen)
	off := int(addr) * size
	if off+size > len(c.data) {
		off = 0
	}
	return c.data[off : off+size]
}
