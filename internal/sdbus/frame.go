// internal/sdbus/frame.go
//
// Package sdbus defines the tagged byte frames exchanged between the
// controller and the bus framer, and the bounded streams that carry them
// across the two timing domains.
//
// A frame is one payload byte plus an 8-bit control tag and an
// end-of-unit marker. The tag layout is shared by both directions:
//
//	bit 0      channel (command / data)
//	bit 1      direction (read / write)        write side
//	bits 2..7  mode (transfer or config slot)  write side
//	bits 1..4  status                          read side
package sdbus

// Channel selects which physical line group a frame belongs to.
type Channel uint8

const (
	ChannelCmd  Channel = 0 // command line
	ChannelData Channel = 1 // data lines
)

// Direction is the bus transfer direction seen from the host.
type Direction uint8

const (
	DirRead  Direction = 0
	DirWrite Direction = 1
)

// Mode distinguishes transfer frames from configuration frames. Config
// modes carry one byte of a framer-side setting; multi-byte settings use
// one mode per byte, most significant first.
type Mode uint8

const (
	ModeXfer Mode = 0

	ModeCfgTimeoutCmdHH Mode = 1 // command timeout bits 31..24
	ModeCfgTimeoutCmdHL Mode = 2
	ModeCfgTimeoutCmdLH Mode = 3
	ModeCfgTimeoutCmdLL Mode = 4

	ModeCfgTimeoutDataHH Mode = 5 // data timeout bits 31..24
	ModeCfgTimeoutDataHL Mode = 6
	ModeCfgTimeoutDataLH Mode = 7
	ModeCfgTimeoutDataLL Mode = 8

	ModeCfgBlkSizeH Mode = 9 // block size bits 15..8
	ModeCfgBlkSizeL Mode = 10

	ModeCfgVoltage Mode = 11
)

// Status is the framer-side outcome carried on return frames.
type Status uint8

const (
	StatusOK           Status = 0b000
	StatusTimeout      Status = 0b001
	StatusDataAccepted Status = 0b010 // write acknowledge token
	StatusCRCError     Status = 0b101
	StatusWriteError   Status = 0b110
)

// Voltage levels for the ModeCfgVoltage byte.
const (
	Voltage33 = 0
	Voltage18 = 1
)

// Tag is the 8-bit frame control word.
type Tag uint8

// XferTag builds a write-side transfer tag.
func XferTag(ch Channel, dir Direction) Tag {
	return Tag(ch&1) | Tag(dir&1)<<1
}

// CfgTag builds a write-side configuration tag. Config frames always
// travel on the command channel with write direction.
func CfgTag(m Mode) Tag {
	return Tag(DirWrite)<<1 | Tag(m&0x3f)<<2
}

// ReadTag builds a read-side tag: channel plus a status code.
func ReadTag(ch Channel, st Status) Tag {
	return Tag(ch&1) | Tag(st&0xf)<<1
}

// Channel returns tag bit 0.
func (t Tag) Channel() Channel { return Channel(t & 1) }

// Dir returns tag bit 1. Meaningful on write-side frames only.
func (t Tag) Dir() Direction { return Direction(t >> 1 & 1) }

// Mode returns tag bits 2..7. Meaningful on write-side frames only.
func (t Tag) Mode() Mode { return Mode(t >> 2 & 0x3f) }

// Status returns tag bits 1..4. Meaningful on read-side frames only.
func (t Tag) Status() Status { return Status(t >> 1 & 0xf) }

// Frame is one byte in flight between the two domains.
type Frame struct {
	Data uint8
	Ctrl Tag
	Last bool // final byte of the current unit
}
