// internal/crc/crc16.go

package crc

import "io"

const poly16 = 0x1021 // x^16 + x^12 + x^5 + 1

func update16(crc uint16, b byte) uint16 {
	for i := 7; i >= 0; i-- {
		top := crc >> 15 & 1
		crc <<= 1
		if top^uint16(b>>uint(i)&1) == 1 {
			crc ^= poly16
		}
	}
	return crc
}

// Sum16 returns the 16-bit CRC of p.
func Sum16(p []byte) uint16 {
	var crc uint16
	for _, b := range p {
		crc = update16(crc, b)
	}
	return crc
}

// Generator16 frames payload from a source into blocks carrying their CRC
// trailer: block-size payload bytes, then the CRC most significant byte
// first, with last set on the final trailer byte. A source that runs out
// mid-block zero-fills the remainder; Short reports it afterwards.
type Generator16 struct {
	src   io.Reader
	size  int
	buf   []byte
	pos   int
	crc   uint16
	short bool
}

// NewGenerator16 returns a generator cutting src into blockSize blocks.
func NewGenerator16(src io.Reader, blockSize int) *Generator16 {
	return &Generator16{src: src, size: blockSize, pos: -1}
}

// Next returns the next framed byte, loading a fresh block from the
// source when the previous one has fully drained.
func (g *Generator16) Next() (data byte, last bool, err error) {
	if g.pos < 0 {
		if err := g.load(); err != nil {
			return 0, false, err
		}
	}
	switch {
	case g.pos < g.size:
		data = g.buf[g.pos]
	case g.pos == g.size:
		data = byte(g.crc >> 8)
	default:
		data, last = byte(g.crc), true
	}
	g.pos++
	if g.pos == g.size+2 {
		g.pos = -1
	}
	return data, last, nil
}

// Short reports whether the source ended before a block boundary.
func (g *Generator16) Short() bool { return g.short }

func (g *Generator16) load() error {
	if g.buf == nil {
		g.buf = make([]byte, g.size)
	}
	n, err := io.ReadFull(g.src, g.buf)
	switch err {
	case nil:
	case io.EOF, io.ErrUnexpectedEOF:
		for i := n; i < g.size; i++ {
			g.buf[i] = 0
		}
		g.short = true
	default:
		return err
	}
	g.crc = Sum16(g.buf)
	g.pos = 0
	return nil
}

// Checker16 strips and verifies the CRC trailer from framed blocks. Bytes
// pass through a two-byte delay; when a block's final byte arrives the
// delayed pair is the trailer and everything ahead of it was payload,
// forwarded to the sink. Block boundaries come from the last marker, the
// CRC plays no part in delimiting.
type Checker16 struct {
	sink    io.Writer // may be nil to discard payload
	pipe    [2]byte
	filled  int
	crc     uint16
	valid   bool
	blocks  int
	scratch [1]byte
}

// NewChecker16 returns a checker writing recovered payload to sink.
func NewChecker16(sink io.Writer) *Checker16 {
	return &Checker16{sink: sink, valid: true}
}

// Push feeds one byte; last marks the final trailer byte of a block.
// Sink write errors propagate.
func (c *Checker16) Push(b byte, last bool) error {
	if c.filled < 2 {
		c.pipe[c.filled] = b
		c.filled++
	} else {
		out := c.pipe[0]
		c.pipe[0], c.pipe[1] = c.pipe[1], b
		c.crc = update16(c.crc, out)
		if c.sink != nil {
			c.scratch[0] = out
			if _, err := c.sink.Write(c.scratch[:]); err != nil {
				return err
			}
		}
	}
	if last {
		want := uint16(c.pipe[0])<<8 | uint16(c.pipe[1])
		c.valid = c.crc == want
		c.blocks++
		c.crc = 0
		c.filled = 0
	}
	return nil
}

// Valid reports whether the most recently completed block's trailer
// matched the payload CRC. True before any block completes.
func (c *Checker16) Valid() bool { return c.valid }

// Blocks returns the number of completed blocks since the last reset.
func (c *Checker16) Blocks() int { return c.blocks }

// Reset clears all progress for a new transfer. The sink is kept.
func (c *Checker16) Reset() {
	c.pipe = [2]byte{}
	c.filled = 0
	c.crc = 0
	c.valid = true
	c.blocks = 0
}
