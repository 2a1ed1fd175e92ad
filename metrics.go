package genesys

import "go.uber.org/atomic"

// Metrics tracks channel health counters. All fields are safe to read
// concurrently; Snapshot gives a consistent-enough copy for reporting.
type Metrics struct {
	Exchanges      atomic.Int64 // completed command/response exchanges
	Broadcasts     atomic.Int64 // group commands transmitted
	AddressSelects atomic.Int64 // ADR handshakes that actually hit the wire
	Timeouts       atomic.Int64 // replies that never arrived
	ProtocolErrors atomic.Int64 // E0x replies from the device
	ChecksumErrors atomic.Int64 // fast-query frames with a bad checksum

	BytesRead     atomic.Int64
	BytesWritten  atomic.Int64
	LinesReceived atomic.Int64
	DroppedLines  atomic.Int64 // over-long unterminated garbage
}

// MetricsSnapshot is a plain-value copy of the counters.
type MetricsSnapshot struct {
	Exchanges      int64
	Broadcasts     int64
	AddressSelects int64
	Timeouts       int64
	ProtocolErrors int64
	ChecksumErrors int64
	BytesRead      int64
	BytesWritten   int64
	LinesReceived  int64
	DroppedLines   int64
}

// Snapshot copies the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Exchanges:      m.Exchanges.Load(),
		Broadcasts:     m.Broadcasts.Load(),
		AddressSelects: m.AddressSelects.Load(),
		Timeouts:       m.Timeouts.Load(),
		ProtocolErrors: m.ProtocolErrors.Load(),
		ChecksumErrors: m.ChecksumErrors.Load(),
		BytesRead:      m.BytesRead.Load(),
		BytesWritten:   m.BytesWritten.Load(),
		LinesReceived:  m.LinesReceived.Load(),
		DroppedLines:   m.DroppedLines.Load(),
	}
}
