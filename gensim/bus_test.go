package gensim

import (
	"io"
	"strings"
	"testing"
	"time"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	b := NewBus()
	if _, err := b.AddModel(6, "GEN40-38"); err != nil {
		t.Fatalf("AddModel: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

// send writes CR-terminated frames and collects every reply the bus
// produces for them.
func send(t *testing.T, b *Bus, frames ...string) []string {
	t.Helper()
	for _, f := range frames {
		if _, err := b.Write([]byte(f + "\r")); err != nil {
			t.Fatalf("Write(%q): %v", f, err)
		}
	}

	var replies []string
	buf := make([]byte, 64)
	for {
		done := make(chan struct{})
		var n int
		var err error
		go func() {
			n, err = b.Read(buf)
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(50 * time.Millisecond):
			return replies
		}
		if err != nil {
			return replies
		}
		replies = append(replies, strings.TrimSuffix(string(buf[:n]), "\r"))
	}
}

func TestAddressedExchange(t *testing.T) {
	b := newTestBus(t)

	got := send(t, b, "ADR 6", "PV 12.500", "PV?")
	want := []string{"OK", "OK", "12.500"}
	if len(got) != len(want) {
		t.Fatalf("replies = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("reply %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestAbsentUnitStaysSilent(t *testing.T) {
	b := newTestBus(t)

	if got := send(t, b, "ADR 12"); len(got) != 0 {
		t.Fatalf("absent unit replied %q", got)
	}

	// the failed select deselected everyone, follow-up frames die too
	if got := send(t, b, "PV?"); len(got) != 0 {
		t.Fatalf("unaddressed query replied %q", got)
	}
}

func TestUnknownCommandError(t *testing.T) {
	b := newTestBus(t)

	got := send(t, b, "ADR 6", "BOGUS")
	if len(got) != 2 || got[1] != "E01" {
		t.Fatalf("replies = %q, want [OK E01]", got)
	}
}

func TestProtectionConflict(t *testing.T) {
	b := newTestBus(t)

	// OVP 10 then PV 20: above OVP/1.05, the supply refuses with E07
	got := send(t, b, "ADR 6", "OVP 10", "PV 20")
	if len(got) != 3 || got[2] != "E07" {
		t.Fatalf("replies = %q, want E07 last", got)
	}
}

func TestGroupBroadcast(t *testing.T) {
	b := newTestBus(t)
	if _, err := b.AddModel(7, "GEN60-25"); err != nil {
		t.Fatalf("AddModel: %v", err)
	}

	if got := send(t, b, "GPV 05.000"); len(got) != 0 {
		t.Fatalf("broadcast replied %q", got)
	}

	for _, addr := range []int{6, 7} {
		u, found := b.Unit(addr)
		if !found {
			t.Fatalf("unit %d missing", addr)
		}
		if u.Voltage() != 5 {
			t.Errorf("unit %d voltage = %v, want 5", addr, u.Voltage())
		}
	}

	// broadcast deselects: PV? without re-addressing dies
	if got := send(t, b, "PV?"); len(got) != 0 {
		t.Fatalf("query after broadcast replied %q", got)
	}
}

func TestRepeatLast(t *testing.T) {
	b := newTestBus(t)

	got := send(t, b, "ADR 6", "PV 07.000", `\`)
	want := []string{"OK", "OK", "OK"}
	if len(got) != 3 {
		t.Fatalf("replies = %q, want %q", got, want)
	}
	u, _ := b.Unit(6)
	if u.Voltage() != 7 {
		t.Errorf("voltage = %v, want 7", u.Voltage())
	}
}

func TestFastPing(t *testing.T) {
	b := newTestBus(t)

	if _, err := b.Write([]byte{0xAA, 6}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	buf := make([]byte, 16)
	n, err := b.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got := string(buf[:n]); got != "1$31\r" {
		t.Fatalf("ping reply = %q, want %q", got, "1$31\r")
	}

	// absent address: no reply at all
	if _, err := b.Write([]byte{0xAA, 9}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := send(t, b); len(got) != 0 {
		t.Fatalf("absent ping replied %q", got)
	}
}

func TestFastRegisters(t *testing.T) {
	b := newTestBus(t)
	u, _ := b.Unit(6)
	u.SetFault(0xA5)

	op := byte(0x80 | 6)
	if _, err := b.Write([]byte{op, op}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	buf := make([]byte, 32)
	n, err := b.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	got := string(buf[:n])
	if !strings.HasPrefix(got, "000000A50000$") {
		t.Fatalf("register reply = %q", got)
	}
}

func TestReadAfterClose(t *testing.T) {
	b := newTestBus(t)
	_ = b.Close()

	if _, err := b.Read(make([]byte, 8)); err != io.EOF {
		t.Fatalf("Read after close = %v, want io.EOF", err)
	}
	if _, err := b.Write([]byte("ADR 6\r")); err == nil {
		t.Fatal("Write after close succeeded")
	}
}
