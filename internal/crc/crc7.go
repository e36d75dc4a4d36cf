// internal/crc/crc7.go
//
// Package crc implements the two cyclic redundancy checks of the card
// protocol: CRC7 for command and response frames and CRC-16/CCITT for
// data blocks, plus the streaming generator and checker wrapped around
// the latter. Both run bit-serial, most significant bit first, from a
// zero seed, exactly as the bits appear on the wire.
package crc

const poly7 = 0x09 // x^7 + x^3 + 1

// Sum7 returns the 7-bit CRC of p.
func Sum7(p []byte) uint8 {
	var crc uint8
	for _, b := range p {
		for i := 7; i >= 0; i-- {
			top := crc >> 6 & 1
			crc = crc << 1 & 0x7f
			if top^(b>>uint(i)&1) == 1 {
				crc ^= poly7
			}
		}
	}
	return crc
}

// Command7 returns the CRC of a command frame: the start/transmission
// byte carrying the index, then the argument most significant byte first.
func Command7(index uint8, arg uint32) uint8 {
	return Sum7([]byte{
		0x40 | index&0x3f,
		byte(arg >> 24), byte(arg >> 16), byte(arg >> 8), byte(arg),
	})
}
