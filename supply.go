package genesys

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// RemoteMode is the supply's front-panel/remote arbitration state.
type RemoteMode string

const (
	// RemoteLocal returns control to the front panel.
	RemoteLocal RemoteMode = "LOC"
	// RemoteRemote enables remote control, front panel still usable.
	RemoteRemote RemoteMode = "REM"
	// RemoteLockout enables remote control and locks the front panel out.
	RemoteLockout RemoteMode = "LLO"
)

// OperationMode is the regulation state reported by MODE?.
type OperationMode string

const (
	ModeConstantVoltage OperationMode = "CV"
	ModeConstantCurrent OperationMode = "CC"
	ModeOff             OperationMode = "OFF"
)

// Readings is the DVC? display snapshot: all six programmed and measured
// values in one exchange.
type Readings struct {
	MeasuredVoltage   float64
	ProgrammedVoltage float64
	MeasuredCurrent   float64
	ProgrammedCurrent float64
	OverVoltage       float64
	UnderVoltage      float64
}

// Status is the STT? reply: live readings plus the condition registers.
type Status struct {
	MeasuredVoltage   float64
	ProgrammedVoltage float64
	MeasuredCurrent   float64
	ProgrammedCurrent float64
	StatusRegister    uint8
	FaultRegister     uint8
}

// Supply is the high-level API for one power supply on a channel.
// Construction locks the front panel out (RMT LLO) and reads the identity
// to derive the model's programming limits; no other state is touched, so
// whatever the supply was doing before keeps happening until told
// otherwise.
type Supply struct {
	ch      *Channel
	addr    Address
	id      Identity
	ratings Ratings
}

// NewSupply connects to the supply at addr over ch.
func NewSupply(ctx context.Context, ch *Channel, addr Address) (*Supply, error) {
	if err := validateAddress(addr); err != nil {
		return nil, err
	}

	s := &Supply{ch: ch, addr: addr}

	if err := s.SetRemoteMode(ctx, RemoteLockout); err != nil {
		return nil, fmt.Errorf("locking out front panel: %w", err)
	}

	raw, err := ch.Query(ctx, addr, CmdIdentity)
	if err != nil {
		return nil, fmt.Errorf("reading identity: %w", err)
	}
	id, err := ParseIdentity(raw)
	if err != nil {
		return nil, err
	}
	ratings, err := RatingsFor(id)
	if err != nil {
		return nil, err
	}

	s.id = id
	s.ratings = ratings
	return s, nil
}

// Address returns the supply's bus address.
func (s *Supply) Address() Address { return s.addr }

// Channel returns the command channel the supply talks over.
func (s *Supply) Channel() *Channel { return s.ch }

// Identity returns the identity read at construction time.
func (s *Supply) Identity() Identity { return s.id }

// Ratings returns the model's programming limits.
func (s *Supply) Ratings() Ratings { return s.ratings }

// Revision reads the firmware revision (REV?).
func (s *Supply) Revision(ctx context.Context) (string, error) {
	return s.ch.Query(ctx, s.addr, CmdRevision)
}

// SerialNumber reads the unit serial number (SN?).
func (s *Supply) SerialNumber(ctx context.Context) (string, error) {
	return s.ch.Query(ctx, s.addr, CmdSerialNumber)
}

// TestDate reads the date of last factory test (DATE?).
func (s *Supply) TestDate(ctx context.Context) (string, error) {
	return s.ch.Query(ctx, s.addr, CmdTestDate)
}

// ClearStatus zeroes the FEVE and SEVE event registers (CLS).
func (s *Supply) ClearStatus(ctx context.Context) error {
	return s.ch.Command(ctx, s.addr, CmdClearStatus, "")
}

// Reset brings the supply to a safe, known state (RST): output off,
// voltage and current zero, OVP maximum, UVL zero, foldback off.
func (s *Supply) Reset(ctx context.Context) error {
	return s.ch.Command(ctx, s.addr, CmdReset, "")
}

// SetRemoteMode programs the remote arbitration state (RMT).
func (s *Supply) SetRemoteMode(ctx context.Context, mode RemoteMode) error {
	switch mode {
	case RemoteLocal, RemoteRemote, RemoteLockout:
	default:
		return fmt.Errorf("genesys: invalid remote mode %q", mode)
	}
	return s.ch.Command(ctx, s.addr, CmdRemoteMode, string(mode))
}

// GetRemoteMode reads the latched remote mode (RMT?).
func (s *Supply) GetRemoteMode(ctx context.Context) (RemoteMode, error) {
	raw, err := s.ch.Query(ctx, s.addr, "RMT?")
	if err != nil {
		return "", err
	}
	return RemoteMode(raw), nil
}

// MultidropInstalled reports whether the multi-drop option is fitted (MDAV?).
func (s *Supply) MultidropInstalled(ctx context.Context) (bool, error) {
	n, err := s.queryInt(ctx, CmdMultidrop)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ParallelOperation reads the master/slave setting, 0-4 (MS?).
func (s *Supply) ParallelOperation(ctx context.Context) (int, error) {
	return s.queryInt(ctx, CmdParallel)
}

// RepeatLastCommand re-issues the supply's remembered last command (\).
// The reply is whatever that command produces: OK for imperatives, a
// payload for queries.
func (s *Supply) RepeatLastCommand(ctx context.Context) (Response, error) {
	return s.ch.Exec(ctx, s.addr, CmdRepeatLast, "")
}

// SetVoltage programs the output voltage (PV). The value must lie inside
// the model rating and, as the firmware enforces, between the present
// UVL/0.95 and OVP/1.05 so the protection limits are not violated.
func (s *Supply) SetVoltage(ctx context.Context, volts float64) error {
	if !s.ratings.Voltage.Contains(volts) {
		return fmt.Errorf("genesys: voltage %.3f outside model range %v", volts, s.ratings.Voltage)
	}

	uvl, err := s.UnderVoltage(ctx)
	if err != nil {
		return err
	}
	ovp, err := s.OverVoltage(ctx)
	if err != nil {
		return err
	}
	if volts < uvl/0.95 || volts > ovp/1.05 {
		return fmt.Errorf("genesys: voltage %.3f conflicts with present limits %v",
			volts, Range{uvl / 0.95, ovp / 1.05})
	}

	return s.ch.Command(ctx, s.addr, CmdVoltage, formatValue(volts))
}

// Voltage reads the programmed voltage (PV?).
func (s *Supply) Voltage(ctx context.Context) (float64, error) {
	return s.queryFloat(ctx, "PV?")
}

// MeasuredVoltage reads the actual output voltage (MV?).
func (s *Supply) MeasuredVoltage(ctx context.Context) (float64, error) {
	return s.queryFloat(ctx, CmdMeasVoltage)
}

// SetCurrent programs the output current limit (PC).
func (s *Supply) SetCurrent(ctx context.Context, amps float64) error {
	if !s.ratings.Current.Contains(amps) {
		return fmt.Errorf("genesys: current %.3f outside model range %v", amps, s.ratings.Current)
	}
	return s.ch.Command(ctx, s.addr, CmdCurrent, formatValue(amps))
}

// Current reads the programmed current (PC?).
func (s *Supply) Current(ctx context.Context) (float64, error) {
	return s.queryFloat(ctx, "PC?")
}

// MeasuredCurrent reads the actual output current (MC?).
func (s *Supply) MeasuredCurrent(ctx context.Context) (float64, error) {
	return s.queryFloat(ctx, CmdMeasCurrent)
}

// GetOperationMode reads the regulation state (MODE?).
func (s *Supply) GetOperationMode(ctx context.Context) (OperationMode, error) {
	raw, err := s.ch.Query(ctx, s.addr, CmdOperationMode)
	if err != nil {
		return "", err
	}
	return OperationMode(raw), nil
}

// GetReadings reads all programmed and measured values in one exchange (DVC?).
func (s *Supply) GetReadings(ctx context.Context) (Readings, error) {
	raw, err := s.ch.Query(ctx, s.addr, CmdReadings)
	if err != nil {
		return Readings{}, err
	}
	vals, err := splitFloats(raw, 6)
	if err != nil {
		return Readings{}, fmt.Errorf("genesys: DVC? reply %q: %w", raw, err)
	}
	return Readings{
		MeasuredVoltage:   vals[0],
		ProgrammedVoltage: vals[1],
		MeasuredCurrent:   vals[2],
		ProgrammedCurrent: vals[3],
		OverVoltage:       vals[4],
		UnderVoltage:      vals[5],
	}, nil
}

// GetStatus reads the full status reply (STT?), e.g.
// "MV(40.000),PV(40.000),MC(1.000),PC(1.000),SR(04),FR(00)".
func (s *Supply) GetStatus(ctx context.Context) (Status, error) {
	raw, err := s.ch.Query(ctx, s.addr, CmdFullStatus)
	if err != nil {
		return Status{}, err
	}

	fields := strings.Split(raw, ",")
	if len(fields) != 6 {
		return Status{}, fmt.Errorf("genesys: STT? reply %q: expected 6 fields", raw)
	}
	for i, f := range fields {
		fields[i] = stripAnnotation(f)
	}

	var st Status
	ptrs := []*float64{&st.MeasuredVoltage, &st.ProgrammedVoltage, &st.MeasuredCurrent, &st.ProgrammedCurrent}
	for i, p := range ptrs {
		v, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return Status{}, fmt.Errorf("genesys: STT? field %d %q: %w", i, fields[i], err)
		}
		*p = v
	}

	sr, err := strconv.ParseUint(fields[4], 16, 8)
	if err != nil {
		return Status{}, fmt.Errorf("genesys: STT? status register %q: %w", fields[4], err)
	}
	fr, err := strconv.ParseUint(fields[5], 16, 8)
	if err != nil {
		return Status{}, fmt.Errorf("genesys: STT? fault register %q: %w", fields[5], err)
	}
	st.StatusRegister = uint8(sr)
	st.FaultRegister = uint8(fr)

	return st, nil
}

// SetFilter programs the measurement A/D low-pass filter (FILTER).
func (s *Supply) SetFilter(ctx context.Context, hertz int) error {
	switch hertz {
	case 18, 23, 46:
	default:
		return fmt.Errorf("genesys: invalid filter frequency %d, must be 18, 23 or 46", hertz)
	}
	return s.ch.Command(ctx, s.addr, CmdFilter, strconv.Itoa(hertz))
}

// GetFilter reads the measurement filter frequency (FILTER?).
func (s *Supply) GetFilter(ctx context.Context) (int, error) {
	return s.queryInt(ctx, "FILTER?")
}

// SetOutput switches the output on or off (OUT).
func (s *Supply) SetOutput(ctx context.Context, on bool) error {
	return s.ch.Command(ctx, s.addr, CmdOutput, onOff(on))
}

// Output reads the output state (OUT?).
func (s *Supply) Output(ctx context.Context) (bool, error) {
	return s.queryOnOff(ctx, "OUT?")
}

// SetFoldback arms or disarms foldback protection (FLD).
func (s *Supply) SetFoldback(ctx context.Context, on bool) error {
	return s.ch.Command(ctx, s.addr, CmdFoldback, onOff(on))
}

// Foldback reads the foldback arm state (FLD?).
func (s *Supply) Foldback(ctx context.Context) (bool, error) {
	return s.queryOnOff(ctx, "FLD?")
}

// SetFoldbackDelay programs extra foldback delay in milliseconds, 0-255,
// on top of the fixed 250ms (FDB).
func (s *Supply) SetFoldbackDelay(ctx context.Context, ms int) error {
	if ms < 0 || ms > 255 {
		return fmt.Errorf("genesys: foldback delay %d outside [0,255]", ms)
	}
	return s.ch.Command(ctx, s.addr, CmdFoldbackDelay, strconv.Itoa(ms))
}

// FoldbackDelay reads the total foldback delay in milliseconds, fixed part
// included (FBD?).
func (s *Supply) FoldbackDelay(ctx context.Context) (int, error) {
	return s.queryInt(ctx, CmdFoldbackRead)
}

// ResetFoldbackDelay clears the programmed extra delay (FBDRST).
func (s *Supply) ResetFoldbackDelay(ctx context.Context) error {
	return s.ch.Command(ctx, s.addr, CmdFoldbackReset, "")
}

// SetOverVoltage programs the OVP level (OVP). The level must sit at least
// 5% above the presently programmed voltage.
func (s *Supply) SetOverVoltage(ctx context.Context, volts float64) error {
	if !s.ratings.OverVoltage.Contains(volts) {
		return fmt.Errorf("genesys: OVP %.3f outside model range %v", volts, s.ratings.OverVoltage)
	}

	pv, err := s.Voltage(ctx)
	if err != nil {
		return err
	}
	if volts < pv*1.05 {
		return fmt.Errorf("genesys: OVP %.3f conflicts with present limits %v",
			volts, Range{pv * 1.05, s.ratings.OverVoltage.Max})
	}

	return s.ch.Command(ctx, s.addr, CmdOverVoltage, formatValue(volts))
}

// OverVoltage reads the programmed OVP level (OVP?).
func (s *Supply) OverVoltage(ctx context.Context) (float64, error) {
	return s.queryFloat(ctx, "OVP?")
}

// SetOverVoltageMax programs the OVP level to the model maximum (OVM).
func (s *Supply) SetOverVoltageMax(ctx context.Context) error {
	return s.ch.Command(ctx, s.addr, CmdOverVoltMax, "")
}

// SetUnderVoltage programs the UVL level (UVL). The level must sit at
// least 5% below the presently programmed voltage.
func (s *Supply) SetUnderVoltage(ctx context.Context, volts float64) error {
	if !s.ratings.UnderVoltage.Contains(volts) {
		return fmt.Errorf("genesys: UVL %.3f outside model range %v", volts, s.ratings.UnderVoltage)
	}

	pv, err := s.Voltage(ctx)
	if err != nil {
		return err
	}
	if volts > pv*0.95 {
		return fmt.Errorf("genesys: UVL %.3f conflicts with present limits %v",
			volts, Range{s.ratings.UnderVoltage.Min, pv * 0.95})
	}

	return s.ch.Command(ctx, s.addr, CmdUnderVoltage, formatValue(volts))
}

// UnderVoltage reads the programmed UVL level (UVL?).
func (s *Supply) UnderVoltage(ctx context.Context) (float64, error) {
	return s.queryFloat(ctx, "UVL?")
}

// SetAutoRestart selects auto-restart (ON) or safe-start (OFF) mode (AST).
func (s *Supply) SetAutoRestart(ctx context.Context, on bool) error {
	return s.ch.Command(ctx, s.addr, CmdAutoRestart, onOff(on))
}

// AutoRestart reads the start mode (AST?).
func (s *Supply) AutoRestart(ctx context.Context) (bool, error) {
	return s.queryOnOff(ctx, "AST?")
}

// Save stores the present settings as the supply's last-settings memory (SAV).
func (s *Supply) Save(ctx context.Context) error {
	return s.ch.Command(ctx, s.addr, CmdSave, "")
}

// Recall restores the last-settings memory (RCL).
func (s *Supply) Recall(ctx context.Context) error {
	return s.ch.Command(ctx, s.addr, CmdRecall, "")
}

// SetStatusEnable programs the status enable register (SENA).
func (s *Supply) SetStatusEnable(ctx context.Context, mask uint8) error {
	return s.ch.Command(ctx, s.addr, CmdStatusEnable, formatRegister(mask))
}

// StatusEnable reads the status enable register (SENA?).
func (s *Supply) StatusEnable(ctx context.Context) (uint8, error) {
	return s.queryRegister(ctx, "SENA?")
}

// StatusEvents reads the status event register (SEVE?).
func (s *Supply) StatusEvents(ctx context.Context) (uint8, error) {
	return s.queryRegister(ctx, CmdStatusEvent)
}

// SetFaultEnable programs the fault enable register (FENA). Fault events
// enabled here can raise service requests; handling those asynchronous
// messages is up to the caller.
func (s *Supply) SetFaultEnable(ctx context.Context, mask uint8) error {
	return s.ch.Command(ctx, s.addr, CmdFaultEnable, formatRegister(mask))
}

// FaultEnable reads the fault enable register (FENA?).
func (s *Supply) FaultEnable(ctx context.Context) (uint8, error) {
	return s.queryRegister(ctx, "FENA?")
}

// FaultEvents reads the fault event register (FEVE?).
func (s *Supply) FaultEvents(ctx context.Context) (uint8, error) {
	return s.queryRegister(ctx, CmdFaultEvent)
}

// StatusCondition reads the live status condition register (STAT?).
func (s *Supply) StatusCondition(ctx context.Context) (uint8, error) {
	return s.queryRegister(ctx, CmdStatusCond)
}

// FaultCondition reads the live fault condition register (FLT?).
func (s *Supply) FaultCondition(ctx context.Context) (uint8, error) {
	return s.queryRegister(ctx, CmdFaultCond)
}

func (s *Supply) queryFloat(ctx context.Context, mnemonic string) (float64, error) {
	raw, err := s.ch.Query(ctx, s.addr, mnemonic)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("genesys: %s reply %q: %w", mnemonic, raw, err)
	}
	return v, nil
}

func (s *Supply) queryInt(ctx context.Context, mnemonic string) (int, error) {
	raw, err := s.ch.Query(ctx, s.addr, mnemonic)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("genesys: %s reply %q: %w", mnemonic, raw, err)
	}
	return n, nil
}

func (s *Supply) queryOnOff(ctx context.Context, mnemonic string) (bool, error) {
	raw, err := s.ch.Query(ctx, s.addr, mnemonic)
	if err != nil {
		return false, err
	}
	switch raw {
	case "ON":
		return true, nil
	case "OFF":
		return false, nil
	default:
		return false, fmt.Errorf("genesys: %s reply %q: expected ON or OFF", mnemonic, raw)
	}
}

// queryRegister parses a two-digit hex register reply.
func (s *Supply) queryRegister(ctx context.Context, mnemonic string) (uint8, error) {
	raw, err := s.ch.Query(ctx, s.addr, mnemonic)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(raw, 16, 8)
	if err != nil {
		return 0, fmt.Errorf("genesys: %s reply %q: %w", mnemonic, raw, err)
	}
	return uint8(v), nil
}

// formatRegister renders a register mask the way the supply expects it:
// uppercase hex without leading zeros.
func formatRegister(mask uint8) string {
	return strings.ToUpper(strconv.FormatUint(uint64(mask), 16))
}

// splitFloats parses a comma-separated list of exactly n floats.
func splitFloats(raw string, n int) ([]float64, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != n {
		return nil, fmt.Errorf("expected %d fields, got %d", n, len(parts))
	}
	out := make([]float64, n)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("field %d %q: %w", i, p, err)
		}
		out[i] = v
	}
	return out, nil
}

// stripAnnotation extracts the value from an annotated STT? field like
// "MV(40.000)". Fields without parentheses pass through trimmed.
func stripAnnotation(field string) string {
	field = strings.TrimSpace(field)
	open := strings.Index(field, "(")
	end := strings.LastIndex(field, ")")
	if open >= 0 && end > open {
		return field[open+1 : end]
	}
	return field
}
