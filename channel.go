package genesys

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// State is the channel's position in its exchange cycle. It is purely
// observational: callers never drive transitions themselves.
type State int32

const (
	// StateIdle between exchanges.
	StateIdle State = iota
	// StateAddressing while an ADR handshake is in flight.
	StateAddressing
	// StateAwaitingReply after a command frame has been written.
	StateAwaitingReply
	// StateError transiently, while a failed exchange is being surfaced.
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAddressing:
		return "addressing"
	case StateAwaitingReply:
		return "awaiting-reply"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// noListener marks the listening-address cache as invalid.
const noListener int32 = -1

// Channel owns one serial port and runs the Genesys command/response
// protocol over it: unit selection on the multi-drop bus, CR framing in
// both directions and reply classification. All methods are safe for
// concurrent use; exchanges are serialized internally because the bus is
// half duplex.
type Channel struct {
	port SerialPort
	cfg  Config
	log  zerolog.Logger

	// exchangeMu serializes complete exchanges (select + write + read).
	exchangeMu sync.Mutex

	responses chan string
	closeCh   chan struct{}
	doneCh    chan struct{}

	closed bool
	mu     sync.RWMutex

	state     atomic.Int32
	listening atomic.Int32
	lastDone  atomic.Int64 // UnixNano of the last completed exchange

	metrics Metrics
}

// Open opens the configured serial device and returns a channel over it.
func Open(cfg Config) (*Channel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p, err := openConfigured(cfg)
	if err != nil {
		return nil, err
	}

	// Short port-level timeout so the reader loop can observe Close.
	_ = p.SetReadTimeout(100 * time.Millisecond)

	return NewChannel(p, cfg), nil
}

// NewChannel wraps an existing port. Use this for transports that are not
// real serial devices, such as gensim buses in tests.
func NewChannel(sp SerialPort, cfg Config) *Channel {
	cfg = cfg.withDefaults()

	c := &Channel{
		port:      sp,
		cfg:       cfg,
		log:       cfg.Logger,
		responses: make(chan string, 16),
		closeCh:   make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	c.listening.Store(noListener)

	go c.readerLoop()

	return c
}

// State reports the current exchange state.
func (c *Channel) State() State {
	return State(c.state.Load())
}

// Listening returns the unit currently selected on the bus, if known.
func (c *Channel) Listening() (Address, bool) {
	v := c.listening.Load()
	if v == noListener {
		return 0, false
	}
	return Address(v), true
}

// Metrics returns the channel's counters.
func (c *Channel) Metrics() *Metrics {
	return &c.metrics
}

// Select makes the addressed unit the bus listener by sending ADR <n> and
// waiting for OK. Selecting the already-listening unit is a no-op: the
// supplies stay in listen mode until another address is sent (manual
// 7.2.2), so re-addressing would only waste bus time.
func (c *Channel) Select(ctx context.Context, addr Address) error {
	if err := validateAddress(addr); err != nil {
		return err
	}

	c.exchangeMu.Lock()
	defer c.exchangeMu.Unlock()

	return c.selectLocked(ctx, addr)
}

// Exec selects the unit, transmits one command frame and returns the
// classified reply. E0x replies surface as *ProtocolError, a missing
// terminator as an error satisfying errors.Is(err, ErrTimeout).
func (c *Channel) Exec(ctx context.Context, addr Address, mnemonic, arg string) (Response, error) {
	if err := validateAddress(addr); err != nil {
		return Response{}, err
	}

	c.exchangeMu.Lock()
	defer c.exchangeMu.Unlock()

	if err := c.selectLocked(ctx, addr); err != nil {
		return Response{}, err
	}

	frame := buildFrame(mnemonic, arg)
	resp, err := c.exchangeLocked(ctx, frame)
	if err != nil {
		return Response{}, err
	}
	return resp, nil
}

// Query runs an interrogative command and returns its payload.
func (c *Channel) Query(ctx context.Context, addr Address, mnemonic string) (string, error) {
	resp, err := c.Exec(ctx, addr, mnemonic, "")
	if err != nil {
		return "", err
	}
	if resp.Kind != KindData {
		return "", fmt.Errorf("genesys: %s: expected data reply, got OK", mnemonic)
	}
	return resp.Payload, nil
}

// Command runs an imperative command and checks the OK acknowledgement.
func (c *Channel) Command(ctx context.Context, addr Address, mnemonic, arg string) error {
	resp, err := c.Exec(ctx, addr, mnemonic, arg)
	if err != nil {
		return err
	}
	if resp.Kind != KindOK {
		return fmt.Errorf("genesys: %s: expected OK, got %q", mnemonic, resp.Payload)
	}
	return nil
}

// Broadcast transmits a group (G-prefix) frame. Group commands reach every
// unit at once and produce no reply; the channel instead enforces the
// manual's settle delay and invalidates the listener cache, since every
// unit has been re-addressed by the broadcast.
func (c *Channel) Broadcast(ctx context.Context, mnemonic, arg string) error {
	c.exchangeMu.Lock()
	defer c.exchangeMu.Unlock()

	if err := c.writeFrame(ctx, buildFrame(mnemonic, arg)); err != nil {
		return err
	}
	c.listening.Store(noListener)
	c.metrics.Broadcasts.Add(1)

	c.log.Debug().Str("cmd", mnemonic).Msg("broadcast")

	return sleepCtx(ctx, c.cfg.GroupSettleDelay)
}

// rawExchange writes raw bytes (no terminator appended) and reads one
// CR-delimited reply. Fast queries use this: they carry the unit address
// in the frame itself, so no ADR selection happens.
func (c *Channel) rawExchange(ctx context.Context, raw []byte, timeout time.Duration) (string, error) {
	c.exchangeMu.Lock()
	defer c.exchangeMu.Unlock()

	c.state.Store(int32(StateAwaitingReply))
	defer c.state.Store(int32(StateIdle))

	if err := c.write(ctx, raw); err != nil {
		c.state.Store(int32(StateError))
		return "", err
	}

	line, err := c.readReply(ctx, timeout)
	if err != nil {
		c.state.Store(int32(StateError))
		return "", err
	}
	return line, nil
}

// Close closes the underlying port. It is safe to call multiple times.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.closeCh)
	c.mu.Unlock()

	// Close the underlying port first to unblock any in-flight Read calls.
	if err := c.port.Close(); err != nil {
		return err
	}

	// Wait for the reader loop to finish cleanup.
	<-c.doneCh
	return nil
}

// selectLocked runs the ADR handshake. Caller holds exchangeMu.
func (c *Channel) selectLocked(ctx context.Context, addr Address) error {
	if c.listening.Load() == int32(addr) {
		return nil
	}

	c.state.Store(int32(StateAddressing))
	defer c.state.Store(int32(StateIdle))

	resp, err := c.exchangeLocked(ctx, buildFrame(CmdAddress, fmt.Sprintf("%d", addr.Int())))
	if err != nil {
		c.state.Store(int32(StateError))
		return &AddressError{Address: addr.Int(), Reason: "no acknowledgement", Err: err}
	}
	if resp.Kind != KindOK {
		c.state.Store(int32(StateError))
		return &AddressError{Address: addr.Int(), Reason: fmt.Sprintf("unexpected reply %q", resp.Payload)}
	}

	c.listening.Store(int32(addr))
	c.metrics.AddressSelects.Add(1)

	c.log.Debug().Int("address", addr.Int()).Msg("unit selected")

	return nil
}

// exchangeLocked writes one frame and reads one classified reply.
// Caller holds exchangeMu. Any failure invalidates the listener cache:
// after line noise or a timeout there is no telling which unit listens.
func (c *Channel) exchangeLocked(ctx context.Context, frame string) (Response, error) {
	if prev := State(c.state.Load()); prev == StateIdle {
		c.state.Store(int32(StateAwaitingReply))
		defer c.state.Store(int32(StateIdle))
	}

	if err := c.pace(ctx); err != nil {
		return Response{}, err
	}

	if err := c.writeFrame(ctx, frame); err != nil {
		c.fail()
		return Response{}, err
	}

	line, err := c.readReply(ctx, c.cfg.ReplyTimeout)
	if err != nil {
		c.fail()
		return Response{}, err
	}

	c.metrics.Exchanges.Add(1)
	c.lastDone.Store(time.Now().UnixNano())

	resp, perr := ParseResponse(line)
	if perr != nil {
		c.metrics.ProtocolErrors.Add(1)
		c.log.Debug().Str("cmd", frame).Str("reply", line).Msg("device error reply")
		return resp, perr
	}

	c.log.Debug().Str("cmd", frame).Str("reply", line).Msg("exchange")

	return resp, nil
}

// fail records a broken exchange: error state plus listener invalidation.
func (c *Channel) fail() {
	c.state.Store(int32(StateError))
	c.listening.Store(noListener)
}

// pace enforces the configured minimum gap between exchanges.
func (c *Channel) pace(ctx context.Context) error {
	if c.cfg.SettleDelay <= 0 {
		return nil
	}
	last := c.lastDone.Load()
	if last == 0 {
		return nil
	}
	gap := time.Until(time.Unix(0, last).Add(c.cfg.SettleDelay))
	return sleepCtx(ctx, gap)
}

// writeFrame appends the terminator and writes the frame.
func (c *Channel) writeFrame(ctx context.Context, frame string) error {
	return c.write(ctx, append([]byte(frame), Terminator))
}

func (c *Channel) write(ctx context.Context, data []byte) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	written := 0
	for written < len(data) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := c.port.Write(data[written:])
		if err != nil {
			return err
		}
		written += n
	}

	c.metrics.BytesWritten.Add(int64(len(data)))
	return nil
}

// readReply waits for one complete line from the reader loop.
func (c *Channel) readReply(ctx context.Context, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-timer.C:
		c.metrics.Timeouts.Add(1)
		return "", fmt.Errorf("%w: no terminator within %v", ErrTimeout, timeout)
	case line, ok := <-c.responses:
		if !ok {
			return "", ErrClosed
		}
		return line, nil
	}
}

// readerLoop continuously reads from the serial port and emits complete
// CR-delimited lines onto the response channel.
func (c *Channel) readerLoop() {
	defer close(c.doneCh)
	defer close(c.responses)

	buf := getReadBuf()
	defer putReadBuf(buf)

	var lineBuf []byte

	for {
		select {
		case <-c.closeCh:
			return
		default:
		}

		n, err := c.port.Read(buf)
		if err != nil {
			return
		}
		if n == 0 {
			continue
		}

		c.metrics.BytesRead.Add(int64(n))

		chunk := buf[:n]
		for len(chunk) > 0 {
			idx := bytes.IndexByte(chunk, Terminator)
			if idx == -1 {
				lineBuf = append(lineBuf, chunk...)
				if len(lineBuf) > maxLineSize {
					// line noise, drop it
					c.metrics.DroppedLines.Add(1)
					lineBuf = lineBuf[:0]
				}
				break
			}

			lineBuf = append(lineBuf, chunk[:idx]...)
			c.metrics.LinesReceived.Add(1)
			select {
			case c.responses <- string(lineBuf):
			case <-c.closeCh:
				return
			}
			lineBuf = lineBuf[:0]

			chunk = chunk[idx+1:]
		}
	}
}

// sleepCtx sleeps for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
