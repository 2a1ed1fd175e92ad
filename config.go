package genesys

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

const (
	// DefaultReplyTimeout is the window for a carriage-return terminated
	// response after a command has been written. 500ms comfortably covers
	// the manual's worst-case command processing time at 1200 baud.
	DefaultReplyTimeout = 500 * time.Millisecond

	// DefaultGroupSettleDelay is the pause required after a broadcast
	// (G-prefix) command, which produces no reply (manual 7.8.1).
	DefaultGroupSettleDelay = 200 * time.Millisecond
)

// Config holds the channel configuration.
type Config struct {
	// PortName is the path to the serial device, e.g. /dev/ttyUSB0 or COM4.
	PortName string `validate:"required"`

	// BaudRate must be one of the rates the supply supports. Framing is
	// always 8N1 (manual 7.2.4), so data bits, parity and stop bits are
	// not configurable here.
	BaudRate BaudRate `validate:"required"`

	// ReplyTimeout bounds each read for a response terminator.
	// Zero selects DefaultReplyTimeout.
	ReplyTimeout time.Duration `validate:"min=0"`

	// SettleDelay is a minimum gap enforced between consecutive exchanges.
	// The supplies tolerate back-to-back traffic at 9600 baud and above;
	// raise this on slow or noisy buses.
	SettleDelay time.Duration `validate:"min=0"`

	// GroupSettleDelay is the pause after broadcast commands.
	// Zero selects DefaultGroupSettleDelay.
	GroupSettleDelay time.Duration `validate:"min=0"`

	// Logger receives exchange-level debug events. The zero value logs
	// nothing.
	Logger zerolog.Logger `validate:"-"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration for obvious issues.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("genesys: invalid config: %w", err)
	}
	if !c.BaudRate.Valid() {
		return fmt.Errorf("genesys: invalid baud rate %d, must be one of %v", c.BaudRate, supportedBaudRates)
	}
	return nil
}

// withDefaults fills in zero-valued optional fields.
func (c Config) withDefaults() Config {
	if c.ReplyTimeout == 0 {
		c.ReplyTimeout = DefaultReplyTimeout
	}
	if c.GroupSettleDelay == 0 {
		c.GroupSettleDelay = DefaultGroupSettleDelay
	}
	return c
}
