// internal/config/normalize.go
package config

// Reset-equivalent defaults. The response window must clear the card's
// answer delay plus a byte of assembly; the data window covers a whole
// block arriving late.
const (
	defaultCmdTimeout  = 512
	defaultDataTimeout = 8192
	defaultBlockSize   = 512
	defaultBlocks      = 2
	defaultCardBlocks  = 128
)

// Normalize applies post-validation defaulting.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	e := &cfg.Engine
	if e.CmdTimeout == 0 {
		e.CmdTimeout = defaultCmdTimeout
	}
	if e.DataTimeout == 0 {
		e.DataTimeout = defaultDataTimeout
	}
	if e.BlockSize == 0 {
		e.BlockSize = defaultBlockSize
	}
	if e.Blocks == 0 {
		e.Blocks = defaultBlocks
	}
	if e.Voltage == "" {
		e.Voltage = "3.3"
	}

	c := &cfg.Card
	if c.Blocks == 0 {
		c.Blocks = defaultCardBlocks
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Level == "warning" {
		cfg.Log.Level = "warn"
	}
}
