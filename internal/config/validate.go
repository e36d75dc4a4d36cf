// internal/config/validate.go
package config

import (
	"fmt"
)

// Largest block a card will accept; the block size register is 16 bits
// but the protocol caps payloads well below that.
const maxBlockSize = 2048

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration. Zero values mean "defaulted" and
// pass here; Normalize resolves them afterwards.
func Validate(cfg *Config) error {
	// ------------------------------------------------------------
	// ENGINE
	// ------------------------------------------------------------

	e := cfg.Engine

	if e.BlockSize > maxBlockSize {
		return fmt.Errorf(
			"config: engine block_size %d exceeds %d",
			e.BlockSize, maxBlockSize,
		)
	}

	switch e.Voltage {
	case "", "3.3", "1.8":
	default:
		return fmt.Errorf(
			"config: engine voltage %q: want \"3.3\" or \"1.8\"",
			e.Voltage,
		)
	}

	// ------------------------------------------------------------
	// CARD
	// ------------------------------------------------------------

	c := cfg.Card

	if c.Blocks < 0 {
		return fmt.Errorf("config: card blocks %d is negative", c.Blocks)
	}

	if c.Silent && (c.CorruptReadCRC || c.NackWrites) {
		return fmt.Errorf(
			"config: card silent excludes other faults: a silent card never reaches data",
		)
	}

	// A transfer must fit the card.
	if c.Blocks > 0 && int(e.Blocks) > c.Blocks {
		return fmt.Errorf(
			"config: blocks_per_transfer %d exceeds card capacity %d",
			e.Blocks, c.Blocks,
		)
	}

	// ------------------------------------------------------------
	// LOG
	// ------------------------------------------------------------

	switch cfg.Log.Level {
	case "", "trace", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("config: log level %q unknown", cfg.Log.Level)
	}

	return nil
}
