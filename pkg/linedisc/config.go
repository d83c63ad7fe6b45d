package linedisc

import (
	"fmt"
	"time"
)

// Config holds the operator-chosen line settings shared by the inbound and
// outbound paths. It is read on every tick and changed only through the
// Engine.
type Config struct {
	TxStyle   Style         `json:"tx_style"`
	CharDelay time.Duration `json:"char_delay"`
	LineDelay time.Duration `json:"line_delay"`
	Echo      bool          `json:"echo"`
}

// DefaultConfig returns Windows newlines, no pacing and local echo on.
func DefaultConfig() Config {
	return Config{
		TxStyle:   StyleWindows,
		CharDelay: 0,
		LineDelay: 0,
		Echo:      true,
	}
}

// Validate checks that the style is known and the delays are not negative.
func (c Config) Validate() error {
	if !c.TxStyle.Valid() {
		return fmt.Errorf("invalid tx newline style: %d", c.TxStyle)
	}

	if c.CharDelay < 0 {
		return fmt.Errorf("char delay cannot be negative, got: %v", c.CharDelay)
	}

	if c.LineDelay < 0 {
		return fmt.Errorf("line delay cannot be negative, got: %v", c.LineDelay)
	}

	return nil
}
