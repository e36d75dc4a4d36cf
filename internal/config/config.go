// internal/config/config.go
//
// Package config defines the daemon configuration: the engine bus
// settings, the simulated card wired behind the engine, and logging.
// Files are YAML. Load parses, Validate checks, Normalize fills
// defaults; callers run all three in that order.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Engine EngineConfig `yaml:"engine"`
	Card   CardConfig   `yaml:"card"`
	Log    LogConfig    `yaml:"log"`
}

// ---- ENGINE ----

type EngineConfig struct {
	CmdTimeout  uint32 `yaml:"cmd_timeout_cycles"`  // command response window
	DataTimeout uint32 `yaml:"data_timeout_cycles"` // block read window
	BlockSize   uint16 `yaml:"block_size"`
	Blocks      uint16 `yaml:"blocks_per_transfer"` // bring-up transfer length
	Voltage     string `yaml:"voltage"`             // "3.3" or "1.8"
}

// ---- CARD ----

type CardConfig struct {
	Blocks        int    `yaml:"blocks"` // capacity in blocks
	Image         string `yaml:"image"`  // optional backing image, loaded then flushed
	ResponseDelay uint32 `yaml:"response_delay_cycles"`
	ReadDelay     uint32 `yaml:"read_delay_cycles"`

	// Fault injection for bring-up exercises
	Silent         bool `yaml:"silent"`           // never answer on the command line
	CorruptReadCRC bool `yaml:"corrupt_read_crc"` // damage every read block trailer
	NackWrites     bool `yaml:"nack_writes"`      // refuse every write block
}

// ---- LOG ----

type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads and parses a configuration file. Parsed only: run Validate
// and Normalize before use.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &cfg, nil
}

// VoltageByte maps the voltage string onto its config-frame encoding.
// Call only after Normalize.
func (e EngineConfig) VoltageByte() uint8 {
	if e.Voltage == "1.8" {
		return 1
	}
	return 0
}
