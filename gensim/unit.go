// Package gensim simulates TDK-Lambda Genesys supplies behind the
// genesys.SerialPort interface: an in-memory multi-drop bus for tests,
// examples and the genctl demo mode. The simulation covers the ASCII
// command set, addressing, group broadcasts and the binary fast queries,
// including the supplies' E0x error behavior.
package gensim

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/powerbench/genesys"
)

// Unit is one simulated supply. All state access is serialized by the
// owning Bus.
type Unit struct {
	addr      int
	model     string
	ratings   genesys.Ratings
	multidrop bool

	revision string
	serial   string
	testDate string

	pv, pc   float64
	ovp, uvl float64
	out      bool
	foldback bool
	foldMS   int
	auto     bool
	filter   int
	remote   string

	sena, seve uint8
	fena, feve uint8
	stat, flt  uint8

	powerOnMinutes uint32
	lastFrame      string
}

// NewUnit creates a simulated supply of the given model, e.g. "GEN40-38",
// in its power-on state: output off, OVP at maximum, UVL zero.
func NewUnit(addr int, model string) (*Unit, error) {
	id, err := genesys.ParseIdentity(model)
	if err != nil {
		return nil, err
	}
	ratings, err := genesys.RatingsFor(id)
	if err != nil {
		return nil, err
	}

	return &Unit{
		addr:      addr,
		model:     id.Model,
		ratings:   ratings,
		multidrop: true,
		revision:  "REV:1.3",
		serial:    fmt.Sprintf("SIM%06d", addr+1),
		testDate:  "2022-01-15",
		ovp:       ratings.OverVoltage.Max,
		filter:    18,
		remote:    "REM",
	}, nil
}

// SetMultidrop controls the fast-ping multi-drop reply byte.
func (u *Unit) SetMultidrop(enabled bool) { u.multidrop = enabled }

// SetPowerOnMinutes seeds the lifetime operational counter.
func (u *Unit) SetPowerOnMinutes(min uint32) { u.powerOnMinutes = min }

// SetFault forces the fault condition register, for protection tests.
func (u *Unit) SetFault(reg uint8) { u.flt = reg }

// Voltage returns the presently programmed voltage.
func (u *Unit) Voltage() float64 { return u.pv }

// Output returns the output switch state.
func (u *Unit) Output() bool { return u.out }

// handle executes one addressed ASCII frame and returns the reply, or
// ("", false) for commands that produce none.
func (u *Unit) handle(frame string) (string, bool) {
	if frame != `\` {
		u.lastFrame = frame
	}

	mnemonic, arg := splitFrame(frame)

	switch mnemonic {
	case `\`:
		if u.lastFrame == "" {
			return reply(genesys.CodeIllegalCommand), true
		}
		return u.handle(u.lastFrame)

	case "CLS":
		u.seve, u.feve = 0, 0
		return ok, true

	case "RST":
		u.reset()
		return ok, true

	case "RMT":
		switch arg {
		case "LOC", "REM", "LLO":
			u.remote = arg
			return ok, true
		case "":
			return reply(genesys.CodeMissingParameter), true
		default:
			return reply(genesys.CodeIllegalParameter), true
		}
	case "RMT?":
		return u.remote, true

	case "MDAV?":
		if u.multidrop {
			return "1", true
		}
		return "0", true
	case "MS?":
		return "0", true

	case "IDN?":
		return "LAMBDA," + u.model, true
	case "REV?":
		return u.revision, true
	case "SN?":
		return u.serial, true
	case "DATE?":
		return u.testDate, true

	case "PV":
		return u.program(arg, &u.pv, u.ratings.Voltage, u.voltageWindow()), true
	case "PV?":
		return volts(u.pv), true
	case "MV?":
		return volts(u.measuredVoltage()), true

	case "PC":
		return u.program(arg, &u.pc, u.ratings.Current, u.ratings.Current), true
	case "PC?":
		return volts(u.pc), true
	case "MC?":
		return volts(u.measuredCurrent()), true

	case "MODE?":
		if !u.out {
			return "OFF", true
		}
		return "CV", true

	case "DVC?":
		return fmt.Sprintf("%s,%s,%s,%s,%s,%s",
			volts(u.measuredVoltage()), volts(u.pv),
			volts(u.measuredCurrent()), volts(u.pc),
			volts(u.ovp), volts(u.uvl)), true

	case "STT?":
		return fmt.Sprintf("MV(%s),PV(%s),MC(%s),PC(%s),SR(%02X),FR(%02X)",
			volts(u.measuredVoltage()), volts(u.pv),
			volts(u.measuredCurrent()), volts(u.pc),
			u.stat, u.flt), true

	case "FILTER":
		switch arg {
		case "18", "23", "46":
			u.filter, _ = strconv.Atoi(arg)
			return ok, true
		case "":
			return reply(genesys.CodeMissingParameter), true
		default:
			return reply(genesys.CodeIllegalParameter), true
		}
	case "FILTER?":
		return strconv.Itoa(u.filter), true

	case "OUT":
		return u.setSwitch(arg, &u.out), true
	case "OUT?":
		return onOff(u.out), true

	case "FLD":
		return u.setSwitch(arg, &u.foldback), true
	case "FLD?":
		return onOff(u.foldback), true

	case "FDB":
		ms, err := strconv.Atoi(arg)
		if arg == "" {
			return reply(genesys.CodeMissingParameter), true
		}
		if err != nil || ms < 0 || ms > 255 {
			return reply(genesys.CodeIllegalParameter), true
		}
		u.foldMS = ms
		return ok, true
	case "FBD?":
		return strconv.Itoa(250 + u.foldMS), true
	case "FBDRST":
		u.foldMS = 0
		return ok, true

	case "OVP":
		return u.programOVP(arg), true
	case "OVP?":
		return volts(u.ovp), true
	case "OVM":
		u.ovp = u.ratings.OverVoltage.Max
		return ok, true

	case "UVL":
		return u.programUVL(arg), true
	case "UVL?":
		return volts(u.uvl), true

	case "AST":
		return u.setSwitch(arg, &u.auto), true
	case "AST?":
		return onOff(u.auto), true

	case "SAV", "RCL":
		// last-settings memory is not modeled; acknowledge and move on
		return ok, true

	case "SENA":
		return u.setRegister(arg, &u.sena), true
	case "SENA?":
		return register(u.sena), true
	case "SEVE?":
		return register(u.seve), true
	case "FENA":
		return u.setRegister(arg, &u.fena), true
	case "FENA?":
		return register(u.fena), true
	case "FEVE?":
		return register(u.feve), true
	case "STAT?":
		return register(u.stat), true
	case "FLT?":
		return register(u.flt), true

	default:
		return reply(genesys.CodeIllegalCommand), true
	}
}

// broadcast applies a group command. Broadcasts never reply.
func (u *Unit) broadcast(frame string) {
	mnemonic, arg := splitFrame(frame)
	switch mnemonic {
	case "GRST":
		u.reset()
	case "GPV":
		if v, err := strconv.ParseFloat(arg, 64); err == nil && u.ratings.Voltage.Contains(v) {
			u.pv = v
		}
	case "GPC":
		if v, err := strconv.ParseFloat(arg, 64); err == nil && u.ratings.Current.Contains(v) {
			u.pc = v
		}
	case "GOUT":
		switch arg {
		case "ON":
			u.out = true
		case "OFF":
			u.out = false
		}
	case "GSAV", "GRCL":
	}
}

func (u *Unit) reset() {
	u.pv, u.pc = 0, 0
	u.out = false
	u.auto = false
	u.remote = "REM"
	u.ovp = u.ratings.OverVoltage.Max
	u.uvl = 0
	u.foldback = false
}

// voltageWindow is the presently legal PV range given UVL and OVP.
func (u *Unit) voltageWindow() genesys.Range {
	return genesys.Range{Min: u.uvl / 0.95, Max: u.ovp / 1.05}
}

func (u *Unit) measuredVoltage() float64 {
	if !u.out {
		return 0
	}
	return u.pv
}

func (u *Unit) measuredCurrent() float64 {
	if !u.out {
		return 0
	}
	return u.pc
}

// program parses and stores a value, enforcing the model range (E04) and
// the present protection window (E07).
func (u *Unit) program(arg string, dst *float64, model, window genesys.Range) string {
	if arg == "" {
		return reply(genesys.CodeMissingParameter)
	}
	v, err := strconv.ParseFloat(arg, 64)
	if err != nil {
		return reply(genesys.CodeIllegalParameter)
	}
	if !model.Contains(v) {
		return reply(genesys.CodeIllegalParameter)
	}
	if !window.Contains(v) {
		return reply(genesys.CodeSettingOutOfRange)
	}
	*dst = v
	return ok
}

func (u *Unit) programOVP(arg string) string {
	window := genesys.Range{Min: u.pv * 1.05, Max: u.ratings.OverVoltage.Max}
	return u.program(arg, &u.ovp, u.ratings.OverVoltage, window)
}

func (u *Unit) programUVL(arg string) string {
	window := genesys.Range{Min: u.ratings.UnderVoltage.Min, Max: u.pv * 0.95}
	return u.program(arg, &u.uvl, u.ratings.UnderVoltage, window)
}

func (u *Unit) setSwitch(arg string, dst *bool) string {
	switch arg {
	case "ON":
		*dst = true
		return ok
	case "OFF":
		*dst = false
		return ok
	case "":
		return reply(genesys.CodeMissingParameter)
	default:
		return reply(genesys.CodeIllegalParameter)
	}
}

func (u *Unit) setRegister(arg string, dst *uint8) string {
	if arg == "" {
		return reply(genesys.CodeMissingParameter)
	}
	v, err := strconv.ParseUint(arg, 16, 8)
	if err != nil {
		return reply(genesys.CodeIllegalParameter)
	}
	*dst = uint8(v)
	return ok
}

const ok = "OK"

func reply(code int) string {
	return fmt.Sprintf("E%02d", code)
}

func splitFrame(frame string) (string, string) {
	mnemonic, arg, found := strings.Cut(frame, " ")
	if !found {
		return frame, ""
	}
	return mnemonic, strings.TrimSpace(arg)
}

func volts(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func onOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}

func register(v uint8) string {
	return fmt.Sprintf("%02X", v)
}
