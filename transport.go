package genesys

import (
	"fmt"
	"strings"
	"time"

	"go.bug.st/serial"
)

// SerialPort abstracts the subset of go.bug.st/serial.Port used by this package.
type SerialPort interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	SetReadTimeout(d time.Duration) error
}

// bugstPort wraps the concrete serial.Port to satisfy SerialPort.
type bugstPort struct {
	serial.Port
}

// allow tests to stub the port opener
var openPort = func(name string, mode *serial.Mode) (SerialPort, error) {
	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, err
	}
	return &bugstPort{Port: p}, nil
}

// AvailablePorts lists serial port names present on the system.
func AvailablePorts() ([]string, error) {
	return serial.GetPortsList()
}

// validPortPattern rejects names that cannot be a serial device.
func validPortPattern(portName string) bool {
	if strings.Contains(portName, "..") {
		return false
	}
	// Windows: COM1-COM999
	if strings.HasPrefix(portName, "COM") && len(portName) >= 4 && len(portName) <= 6 {
		return true
	}
	// Unix/Linux: /dev/tty*, macOS: /dev/cu*
	return strings.HasPrefix(portName, "/dev/tty") || strings.HasPrefix(portName, "/dev/cu")
}

// openConfigured opens the device named in cfg with Genesys framing: the
// configured baud rate, 8 data bits, no parity, one stop bit.
func openConfigured(cfg Config) (SerialPort, error) {
	if !validPortPattern(cfg.PortName) {
		return nil, fmt.Errorf("genesys: %q does not look like a serial port", cfg.PortName)
	}

	mode := &serial.Mode{
		BaudRate: cfg.BaudRate.Int(),
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	return openPort(cfg.PortName, mode)
}
