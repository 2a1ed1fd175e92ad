package gensim

import (
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// noListener marks the bus as having no addressed unit.
const noListener = -1

var groupCommands = map[string]bool{
	"GRST": true, "GPV": true, "GPC": true,
	"GOUT": true, "GSAV": true, "GRCL": true,
}

// Bus is a simulated multi-drop RS-485 segment. It implements
// genesys.SerialPort, so a genesys.Channel can be constructed directly on
// top of it:
//
//	bus := gensim.NewBus()
//	ch := genesys.NewChannel(bus, cfg)
//
// Only the addressed unit replies; frames sent while no unit listens
// vanish, exactly like on the real bus.
type Bus struct {
	mu        sync.Mutex
	units     map[int]*Unit
	listening int
	pending   []byte

	rd      chan []byte
	closed  bool
	closeMu sync.Mutex

	log zerolog.Logger
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		units:     make(map[int]*Unit),
		listening: noListener,
		rd:        make(chan []byte, 32),
	}
}

// SetLogger attaches a logger for frame-level tracing.
func (b *Bus) SetLogger(log zerolog.Logger) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.log = log
}

// Add puts a unit on the bus.
func (b *Bus) Add(u *Unit) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, dup := b.units[u.addr]; dup {
		return fmt.Errorf("gensim: duplicate address %d", u.addr)
	}
	b.units[u.addr] = u
	return nil
}

// AddModel creates a unit of the given model and puts it on the bus.
func (b *Bus) AddModel(addr int, model string) (*Unit, error) {
	u, err := NewUnit(addr, model)
	if err != nil {
		return nil, err
	}
	if err := b.Add(u); err != nil {
		return nil, err
	}
	return u, nil
}

// Unit returns the unit at addr, if present.
func (b *Bus) Unit(addr int) (*Unit, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	u, found := b.units[addr]
	return u, found
}

// Write receives controller traffic. Complete frames are executed
// immediately; replies become readable via Read.
func (b *Bus) Write(p []byte) (int, error) {
	b.closeMu.Lock()
	if b.closed {
		b.closeMu.Unlock()
		return 0, io.ErrClosedPipe
	}
	b.closeMu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending = append(b.pending, p...)
	b.drain()
	return len(p), nil
}

// Read blocks until a unit transmits. It unblocks with io.EOF when the
// bus is closed.
func (b *Bus) Read(p []byte) (int, error) {
	data, open := <-b.rd
	if !open {
		return 0, io.EOF
	}
	return copy(p, data), nil
}

// Close shuts the bus down and unblocks any pending Read.
func (b *Bus) Close() error {
	b.closeMu.Lock()
	defer b.closeMu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.rd)
	}
	return nil
}

// SetReadTimeout is accepted for SerialPort compatibility; the simulated
// Read blocks until traffic or Close.
func (b *Bus) SetReadTimeout(d time.Duration) error { return nil }

// drain consumes complete frames from the pending buffer. Caller holds mu.
func (b *Bus) drain() {
	for len(b.pending) > 0 {
		// Fast queries are two raw bytes with the high bit or 0xAA/0xA6
		// leading; they are not CR-terminated.
		if b.pending[0]&0x80 != 0 {
			if len(b.pending) < 2 {
				return
			}
			op, arg := b.pending[0], b.pending[1]
			b.pending = b.pending[2:]
			b.fastQuery(op, arg)
			continue
		}

		idx := -1
		for i, c := range b.pending {
			if c == '\r' {
				idx = i
				break
			}
		}
		if idx < 0 {
			return
		}

		frame := string(b.pending[:idx])
		b.pending = b.pending[idx+1:]
		b.dispatch(frame)
	}
}

// dispatch routes one ASCII frame. Caller holds mu.
func (b *Bus) dispatch(frame string) {
	if frame == "" {
		return
	}

	b.log.Debug().Str("frame", frame).Msg("bus rx")

	mnemonic, arg := splitFrame(frame)

	switch {
	case mnemonic == "ADR":
		b.selectUnit(arg)

	case groupCommands[mnemonic]:
		// group broadcast: every unit acts, nobody replies
		for _, u := range b.units {
			u.broadcast(frame)
		}
		b.listening = noListener

	default:
		u, found := b.units[b.listening]
		if !found {
			// nobody listens, the frame dies on the wire
			return
		}
		if resp, hasReply := u.handle(frame); hasReply {
			b.transmit(resp + "\r")
		}
	}
}

// selectUnit handles ADR. An out-of-range address draws an error from the
// listening unit if any; an absent unit simply never acknowledges.
func (b *Bus) selectUnit(arg string) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 0 || n > 30 {
		if _, anyone := b.units[b.listening]; anyone {
			b.transmit(reply(4) + "\r")
		}
		return
	}

	u, found := b.units[n]
	if !found {
		b.listening = noListener
		return
	}

	b.listening = u.addr
	b.transmit(ok + "\r")
}

// fastQuery answers the binary two-byte queries.
func (b *Bus) fastQuery(op, arg byte) {
	switch {
	case op == 0xAA:
		u, found := b.units[int(arg)]
		if !found {
			return
		}
		payload := "0"
		if u.multidrop {
			payload = "1"
		}
		b.transmitChecksummed(payload)

	case op == 0xA6:
		u, found := b.units[int(arg)]
		if !found {
			return
		}
		b.transmitChecksummed(fmt.Sprintf("%08X", u.powerOnMinutes))

	case op&0x80 != 0 && op == arg:
		u, found := b.units[int(op&0x1F)]
		if !found {
			return
		}
		b.transmitChecksummed(fmt.Sprintf("%02X%02X%02X%02X%02X%02X",
			u.stat, u.sena, u.seve, u.flt, u.fena, u.feve))
	}
}

// transmitChecksummed appends the '$' separator, payload checksum and
// terminator.
func (b *Bus) transmitChecksummed(payload string) {
	var sum uint8
	for i := 0; i < len(payload); i++ {
		sum += payload[i]
	}
	b.transmit(fmt.Sprintf("%s$%02X\r", payload, sum))
}

func (b *Bus) transmit(s string) {
	b.log.Debug().Str("frame", s).Msg("bus tx")

	b.closeMu.Lock()
	defer b.closeMu.Unlock()
	if b.closed {
		return
	}
	select {
	case b.rd <- []byte(s):
	default:
		// controller not draining; real hardware would overrun too
	}
}
