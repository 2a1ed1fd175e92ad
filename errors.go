package genesys

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by operations on a closed channel.
	ErrClosed = errors.New("genesys: channel closed")

	// ErrTimeout is returned (wrapped) when no carriage-return terminated
	// response arrives within the reply window.
	ErrTimeout = errors.New("genesys: response timeout")
)

// AddressError reports an invalid or unreachable unit address.
type AddressError struct {
	Address int
	Reason  string
	Err     error // underlying cause, when the unit failed to acknowledge
}

func (e *AddressError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("genesys: address %d: %s: %v", e.Address, e.Reason, e.Err)
	}
	return fmt.Sprintf("genesys: address %d: %s", e.Address, e.Reason)
}

func (e *AddressError) Unwrap() error {
	return e.Err
}

// Device error codes, manual section 7.5.4.
const (
	CodeIllegalCommand    = 1 // E01 - unrecognized command
	CodeMissingParameter  = 2 // E02 - missing parameter
	CodeIllegalParameter  = 4 // E04 - parameter out of range or wrong format
	CodeChecksumMismatch  = 6 // E06 - checksum error
	CodeSettingOutOfRange = 7 // E07 - setting conflicts with a protection limit
	CodeIllegalInState    = 8 // E08 - command not allowed in present state
)

var errCodeText = map[int]string{
	CodeIllegalCommand:    "illegal command",
	CodeMissingParameter:  "missing parameter",
	3:                     "illegal language",
	CodeIllegalParameter:  "illegal parameter",
	5:                     "buffer overflow",
	CodeChecksumMismatch:  "checksum error",
	CodeSettingOutOfRange: "setting conflicts with protection limit",
	CodeIllegalInState:    "command not allowed in present state",
}

// ProtocolError is a device-reported error reply (E01..E08).
type ProtocolError struct {
	Code int
}

func (e *ProtocolError) Error() string {
	text, ok := errCodeText[e.Code]
	if !ok {
		text = "unknown error"
	}
	return fmt.Sprintf("genesys: device error E%02d: %s", e.Code, text)
}
