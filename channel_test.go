package genesys

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

type mockPort struct {
	readCh chan []byte

	writeMu sync.Mutex
	writes  [][]byte

	closed bool

	mu sync.Mutex
	// errToReturn, if non-nil, will be returned on the next Read call
	// instead of data from readCh.
	errToReturn error
}

func newMockPort() *mockPort {
	return &mockPort{readCh: make(chan []byte, 16)}
}

func (m *mockPort) Read(p []byte) (int, error) {
	m.mu.Lock()
	if m.errToReturn != nil {
		err := m.errToReturn
		m.errToReturn = nil
		m.mu.Unlock()
		return 0, err
	}
	m.mu.Unlock()

	b, ok := <-m.readCh
	if !ok {
		return 0, context.Canceled
	}
	n := copy(p, b)
	return n, nil
}

func (m *mockPort) Write(p []byte) (int, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	cp := make([]byte, len(p))
	copy(cp, p)
	m.writes = append(m.writes, cp)
	return len(p), nil
}

func (m *mockPort) Close() error {
	if !m.closed {
		close(m.readCh)
		m.closed = true
	}
	return nil
}

func (m *mockPort) SetReadTimeout(d time.Duration) error { return nil }

func (m *mockPort) written() []string {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	out := make([]string, len(m.writes))
	for i, w := range m.writes {
		out[i] = string(w)
	}
	return out
}

func testConfig() Config {
	return Config{
		PortName:         "mock",
		BaudRate:         Baud9600,
		ReplyTimeout:     100 * time.Millisecond,
		GroupSettleDelay: time.Millisecond,
	}
}

func TestSelectFrameAllAddresses(t *testing.T) {
	for addr := MinAddress; addr <= MaxAddress; addr++ {
		mp := newMockPort()
		c := NewChannel(mp, testConfig())

		mp.readCh <- []byte("OK\r")

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := c.Select(ctx, addr); err != nil {
			t.Fatalf("Select(%d) error: %v", addr, err)
		}
		cancel()

		want := fmt.Sprintf("ADR %d\r", addr.Int())
		if got := mp.written(); len(got) != 1 || got[0] != want {
			t.Fatalf("Select(%d) wrote %q, want %q", addr, got, want)
		}

		if err := c.Close(); err != nil {
			t.Fatalf("Close error: %v", err)
		}
	}
}

func TestSelectOutOfRangeDoesNotTransmit(t *testing.T) {
	mp := newMockPort()
	c := NewChannel(mp, testConfig())
	defer c.Close()

	ctx := context.Background()
	for _, addr := range []Address{-1, 31, 99} {
		err := c.Select(ctx, addr)
		var aerr *AddressError
		if !errors.As(err, &aerr) {
			t.Fatalf("Select(%d) error = %v, want *AddressError", addr, err)
		}
		if aerr.Address != addr.Int() {
			t.Fatalf("AddressError.Address = %d, want %d", aerr.Address, addr)
		}
	}

	if got := mp.written(); len(got) != 0 {
		t.Fatalf("expected no writes, got %q", got)
	}
}

func TestSelectSkipsReaddressing(t *testing.T) {
	mp := newMockPort()
	c := NewChannel(mp, testConfig())
	defer c.Close()

	ctx := context.Background()

	mp.readCh <- []byte("OK\r")
	if err := c.Select(ctx, 4); err != nil {
		t.Fatalf("first Select error: %v", err)
	}

	// Same address again: the unit already listens, nothing may hit the wire.
	if err := c.Select(ctx, 4); err != nil {
		t.Fatalf("second Select error: %v", err)
	}
	if got := mp.written(); len(got) != 1 {
		t.Fatalf("expected 1 write after re-select, got %q", got)
	}

	if listening, known := c.Listening(); !known || listening != 4 {
		t.Fatalf("Listening() = %v, %v; want 4, true", listening, known)
	}
}

func TestExecCommandAndReply(t *testing.T) {
	mp := newMockPort()
	c := NewChannel(mp, testConfig())
	defer c.Close()

	mp.readCh <- []byte("OK\r")     // ADR 2
	mp.readCh <- []byte("12.500\r") // PV?

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	resp, err := c.Exec(ctx, 2, "PV?", "")
	if err != nil {
		t.Fatalf("Exec error: %v", err)
	}
	if resp.Kind != KindData || resp.Payload != "12.500" {
		t.Fatalf("unexpected response %+v", resp)
	}

	want := []string{"ADR 2\r", "PV?\r"}
	got := mp.written()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("wrote %q, want %q", got, want)
	}
}

func TestExecDeviceError(t *testing.T) {
	mp := newMockPort()
	c := NewChannel(mp, testConfig())
	defer c.Close()

	mp.readCh <- []byte("OK\r")
	mp.readCh <- []byte("E04\r")

	ctx := context.Background()
	_, err := c.Exec(ctx, 0, "PV", "999.000")

	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("error = %v, want *ProtocolError", err)
	}
	if perr.Code != 4 {
		t.Fatalf("ProtocolError.Code = %d, want 4", perr.Code)
	}
	if c.Metrics().ProtocolErrors.Load() != 1 {
		t.Fatalf("ProtocolErrors counter = %d, want 1", c.Metrics().ProtocolErrors.Load())
	}
}

func TestTimeoutLeavesChannelIdle(t *testing.T) {
	mp := newMockPort()
	c := NewChannel(mp, testConfig())
	defer c.Close()

	ctx := context.Background()

	// No reply at all: the ADR handshake must time out.
	start := time.Now()
	err := c.Select(ctx, 7)
	if err == nil {
		t.Fatal("expected timeout error, got nil")
	}
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("error = %v, want ErrTimeout in chain", err)
	}
	var aerr *AddressError
	if !errors.As(err, &aerr) {
		t.Fatalf("error = %v, want *AddressError wrapper", err)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Fatalf("Select returned after %v, before the reply window elapsed", elapsed)
	}

	if st := c.State(); st != StateIdle {
		t.Fatalf("State() = %v after timeout, want idle", st)
	}
	if _, known := c.Listening(); known {
		t.Fatal("listener cache still set after timeout")
	}

	// The channel must remain usable for the next exchange.
	mp.readCh <- []byte("OK\r")
	if err := c.Select(ctx, 7); err != nil {
		t.Fatalf("Select after timeout error: %v", err)
	}
}

func TestRecoveryAfterSilentBus(t *testing.T) {
	mp := newMockPort()
	c := NewChannel(mp, testConfig())
	defer c.Close()

	ctx := context.Background()

	if err := c.Select(ctx, 1); err == nil {
		t.Fatal("expected timeout on silent bus")
	}

	// Listener cache was invalidated by the failure, so the next exchange
	// starts with a fresh ADR handshake.
	mp.readCh <- []byte("OK\r")
	if err := c.Select(ctx, 1); err != nil {
		t.Fatalf("Select after late reply error: %v", err)
	}
}

func TestBroadcastProducesNoReadAndInvalidatesListener(t *testing.T) {
	mp := newMockPort()
	c := NewChannel(mp, testConfig())
	defer c.Close()

	ctx := context.Background()

	mp.readCh <- []byte("OK\r")
	if err := c.Select(ctx, 3); err != nil {
		t.Fatalf("Select error: %v", err)
	}

	if err := c.Broadcast(ctx, CmdGroupReset, ""); err != nil {
		t.Fatalf("Broadcast error: %v", err)
	}

	got := mp.written()
	if got[len(got)-1] != "GRST\r" {
		t.Fatalf("last write %q, want GRST frame", got[len(got)-1])
	}
	if _, known := c.Listening(); known {
		t.Fatal("listener cache still set after broadcast")
	}
	if c.Metrics().Broadcasts.Load() != 1 {
		t.Fatalf("Broadcasts counter = %d, want 1", c.Metrics().Broadcasts.Load())
	}
}

func TestConcurrentExchangesSerialize(t *testing.T) {
	mp := newMockPort()
	c := NewChannel(mp, testConfig())
	defer c.Close()

	// One OK for the single ADR plus one per query.
	const n = 10
	mp.readCh <- []byte("OK\r")
	for i := 0; i < n; i++ {
		mp.readCh <- []byte("1.000\r")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Query(ctx, 5, "MV?"); err != nil {
				t.Errorf("Query error: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := mp.written(); len(got) != n+1 {
		t.Fatalf("expected %d writes, got %d: %q", n+1, len(got), got)
	}
}

func TestCloseUnblocksPendingExchange(t *testing.T) {
	mp := newMockPort()
	c := NewChannel(mp, testConfig())

	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := c.Exec(ctx, 8, "MV?", "")
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)

	if err := c.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	select {
	case <-done:
		// surfaced either ErrClosed or the reply timeout; both acceptable
	case <-time.After(500 * time.Millisecond):
		t.Fatal("exchange did not unblock after Close")
	}

	if err := c.Close(); err != nil {
		t.Fatalf("second Close error: %v", err)
	}
}

func TestReaderReassemblesSplitFrames(t *testing.T) {
	mp := newMockPort()
	c := NewChannel(mp, testConfig())
	defer c.Close()

	mp.readCh <- []byte("OK\r12.")
	mp.readCh <- []byte("500\r")

	ctx := context.Background()
	payload, err := c.Query(ctx, 9, "PV?")
	if err != nil {
		t.Fatalf("Query error: %v", err)
	}
	if payload != "12.500" {
		t.Fatalf("payload = %q, want 12.500", payload)
	}
}

func TestWriteAfterCloseFails(t *testing.T) {
	mp := newMockPort()
	c := NewChannel(mp, testConfig())

	if err := c.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	err := c.Select(context.Background(), 0)
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("error = %v, want ErrClosed in chain", err)
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateIdle:          "idle",
		StateAddressing:    "addressing",
		StateAwaitingReply: "awaiting-reply",
		StateError:         "error",
		State(42):          "unknown",
	}
	for st, want := range cases {
		if got := st.String(); got != want {
			t.Fatalf("State(%d).String() = %q, want %q", st, got, want)
		}
	}
}

func TestReaderDropsOversizedGarbage(t *testing.T) {
	mp := newMockPort()
	c := NewChannel(mp, testConfig())
	defer c.Close()

	// Unterminated noise past maxLineSize must be discarded, then a real
	// frame must still get through.
	noise := strings.Repeat("x", maxLineSize+10)
	for i := 0; i < len(noise); i += 128 {
		end := i + 128
		if end > len(noise) {
			end = len(noise)
		}
		mp.readCh <- []byte(noise[i:end])
	}
	mp.readCh <- []byte("OK\r")

	ctx := context.Background()
	if err := c.Select(ctx, 2); err != nil {
		t.Fatalf("Select error after noise: %v", err)
	}
	if c.Metrics().DroppedLines.Load() == 0 {
		t.Fatal("expected DroppedLines counter to advance")
	}
}
