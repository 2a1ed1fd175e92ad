package genesys

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Fast queries, manual section 7.9: two-byte binary frames that bypass ADR
// selection entirely because the unit address travels in the frame itself.
// Replies are still carriage-return terminated, but carry a '$' separator
// followed by a two-character hex checksum of the payload.

const (
	// fastPing is the "fast test for connection" opcode (7.9.1).
	fastPing = 0xAA
	// fastRegisters is ORed with the address to read all six status and
	// fault registers in one frame (7.9.2).
	fastRegisters = 0x80
	// fastPowerOnTime reads the lifetime active-minutes counter (7.9.3).
	fastPowerOnTime = 0xA6

	// fastReplyWindow bounds the reply wait. A responsive supply answers
	// within 10ms; the rest covers transmission time at low baud rates.
	fastReplyWindow = 50 * time.Millisecond
)

// ErrChecksum is returned when a fast-query reply fails verification.
var ErrChecksum = errors.New("genesys: fast query checksum mismatch")

// FastRegisters is the register file returned by the fast register read,
// in the wire order STAT, SENA, SEVE, FLT, FENA, FEVE.
type FastRegisters struct {
	StatusCondition uint8
	StatusEnable    uint8
	StatusEvents    uint8
	FaultCondition  uint8
	FaultEnable     uint8
	FaultEvents     uint8
}

// Ping reports whether the addressed supply answers a fast connection
// test. A silent bus is not an error: it returns (false, nil).
func (c *Channel) Ping(ctx context.Context, addr Address) (bool, error) {
	_, err := c.fastQuery(ctx, addr, []byte{fastPing, byte(addr)})
	if errors.Is(err, ErrTimeout) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MultidropEnabled reports whether the addressed supply answers the fast
// connection test with the multi-drop option enabled (reply byte '1').
func (c *Channel) MultidropEnabled(ctx context.Context, addr Address) (bool, error) {
	reply, err := c.fastQuery(ctx, addr, []byte{fastPing, byte(addr)})
	if err != nil {
		return false, err
	}
	return len(reply) > 0 && reply[0] == '1', nil
}

// ReadRegistersFast reads all six registers in a single fast exchange.
func (c *Channel) ReadRegistersFast(ctx context.Context, addr Address) (FastRegisters, error) {
	op := byte(fastRegisters | byte(addr))
	reply, err := c.fastQuery(ctx, addr, []byte{op, op})
	if err != nil {
		return FastRegisters{}, err
	}

	payload, err := c.verifyChecksum(reply)
	if err != nil {
		return FastRegisters{}, err
	}
	if len(payload) != 12 {
		return FastRegisters{}, fmt.Errorf("genesys: fast register reply %q: expected 12 hex chars", payload)
	}

	var regs [6]uint8
	for i := range regs {
		v, err := strconv.ParseUint(payload[2*i:2*i+2], 16, 8)
		if err != nil {
			return FastRegisters{}, fmt.Errorf("genesys: fast register reply %q: %w", payload, err)
		}
		regs[i] = uint8(v)
	}

	return FastRegisters{
		StatusCondition: regs[0],
		StatusEnable:    regs[1],
		StatusEvents:    regs[2],
		FaultCondition:  regs[3],
		FaultEnable:     regs[4],
		FaultEvents:     regs[5],
	}, nil
}

// PowerOnTime reads the supply's lifetime active operational time.
func (c *Channel) PowerOnTime(ctx context.Context, addr Address) (time.Duration, error) {
	reply, err := c.fastQuery(ctx, addr, []byte{fastPowerOnTime, byte(addr)})
	if err != nil {
		return 0, err
	}

	payload, err := c.verifyChecksum(reply)
	if err != nil {
		return 0, err
	}
	if len(payload) != 8 {
		return 0, fmt.Errorf("genesys: power-on time reply %q: expected 8 hex chars", payload)
	}

	minutes, err := strconv.ParseUint(payload, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("genesys: power-on time reply %q: %w", payload, err)
	}
	return time.Duration(minutes) * time.Minute, nil
}

func (c *Channel) fastQuery(ctx context.Context, addr Address, frame []byte) (string, error) {
	if err := validateAddress(addr); err != nil {
		return "", err
	}
	return c.rawExchange(ctx, frame, fastReplyWindow)
}

// verifyChecksum splits "PAYLOAD$CS" and checks CS against the payload sum.
func (c *Channel) verifyChecksum(reply string) (string, error) {
	payload, ok := checkFrame(reply)
	if !ok {
		c.metrics.ChecksumErrors.Add(1)
		return "", fmt.Errorf("%w: reply %q", ErrChecksum, reply)
	}
	return payload, nil
}

// checksum is the sum of the payload bytes modulo 256, transmitted as two
// uppercase hex characters after the '$' separator.
func checksum(payload string) string {
	var sum uint8
	for i := 0; i < len(payload); i++ {
		sum += payload[i]
	}
	return fmt.Sprintf("%02X", sum)
}

// checkFrame validates a "PAYLOAD$CS" frame and returns the payload.
func checkFrame(reply string) (string, bool) {
	if len(reply) < 3 || reply[len(reply)-3] != '$' {
		return "", false
	}
	payload := reply[:len(reply)-3]
	want := reply[len(reply)-2:]
	return payload, checksum(payload) == want
}
