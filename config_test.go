package genesys

import (
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	cfg := Config{PortName: "/dev/ttyUSB0", BaudRate: Baud9600}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestConfigValidateMissingPort(t *testing.T) {
	cfg := Config{BaudRate: Baud9600}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing port name")
	}
}

func TestConfigValidateBaudRate(t *testing.T) {
	// The Genesys front panel only offers five rates; anything else must
	// be rejected even if the host UART could do it.
	for _, baud := range []BaudRate{0, 300, 38400, 57600, 115200} {
		cfg := Config{PortName: "/dev/ttyUSB0", BaudRate: baud}
		if err := cfg.Validate(); err == nil {
			t.Fatalf("baud rate %d accepted", baud)
		}
	}
	for _, baud := range supportedBaudRates {
		cfg := Config{PortName: "/dev/ttyUSB0", BaudRate: baud}
		if err := cfg.Validate(); err != nil {
			t.Fatalf("baud rate %d rejected: %v", baud, err)
		}
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{PortName: "/dev/ttyUSB0", BaudRate: Baud9600}.withDefaults()
	if cfg.ReplyTimeout != DefaultReplyTimeout {
		t.Fatalf("ReplyTimeout default = %v", cfg.ReplyTimeout)
	}
	if cfg.GroupSettleDelay != DefaultGroupSettleDelay {
		t.Fatalf("GroupSettleDelay default = %v", cfg.GroupSettleDelay)
	}

	// explicit values survive
	cfg = Config{
		PortName:         "/dev/ttyUSB0",
		BaudRate:         Baud9600,
		ReplyTimeout:     time.Second,
		GroupSettleDelay: time.Millisecond,
	}.withDefaults()
	if cfg.ReplyTimeout != time.Second || cfg.GroupSettleDelay != time.Millisecond {
		t.Fatalf("explicit values overwritten: %+v", cfg)
	}
}

func TestValidPortPattern(t *testing.T) {
	valid := []string{"/dev/ttyUSB0", "/dev/ttyS1", "/dev/cu.usbserial", "COM4", "COM42"}
	for _, name := range valid {
		if !validPortPattern(name) {
			t.Fatalf("validPortPattern(%q) = false", name)
		}
	}

	invalid := []string{"", "ttyUSB0", "/etc/passwd", "/dev/../etc/passwd", "COM"}
	for _, name := range invalid {
		if validPortPattern(name) {
			t.Fatalf("validPortPattern(%q) = true", name)
		}
	}
}
