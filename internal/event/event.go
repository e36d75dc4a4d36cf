// internal/event/event.go
//
// Package event models the two latched completion registers the host
// polls: one for the command leg, one for the data leg. Flags are set
// by the controller during a command cycle and cleared only when the
// host issues the next command.
package event

// Bit positions inside a 32-bit event register.
const (
	BitDone       = 0 // unit finished
	BitWriteError = 1 // data register only; reserved on the command register
	BitTimeout    = 2 // no reply inside the configured window
	BitCRCError   = 3 // checker mismatch
)

// Flags is the decoded state of one event register.
type Flags struct {
	Done       bool
	WriteError bool
	Timeout    bool
	CRCError   bool
}

// Initial returns the reset state: done, nothing else. A freshly powered
// engine has no command in flight, so both registers read complete.
func Initial() Flags {
	return Flags{Done: true}
}

// Bits renders the register image. Placement only, no interpretation.
func (f Flags) Bits() uint32 {
	var v uint32
	if f.Done {
		v |= 1 << BitDone
	}
	if f.WriteError {
		v |= 1 << BitWriteError
	}
	if f.Timeout {
		v |= 1 << BitTimeout
	}
	if f.CRCError {
		v |= 1 << BitCRCError
	}
	return v
}

// FromBits decodes a register image.
func FromBits(v uint32) Flags {
	return Flags{
		Done:       v>>BitDone&1 == 1,
		WriteError: v>>BitWriteError&1 == 1,
		Timeout:    v>>BitTimeout&1 == 1,
		CRCError:   v>>BitCRCError&1 == 1,
	}
}
