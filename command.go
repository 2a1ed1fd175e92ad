package genesys

import (
	"strconv"
	"strings"
)

// Terminator delimits every command and response frame (manual 7.5.3).
const Terminator = '\r'

// Grammar describes the reply a mnemonic produces.
type Grammar int

const (
	// Imperative commands do something and acknowledge with OK.
	Imperative Grammar = iota
	// Interrogative commands end in '?' and reply with a data payload.
	Interrogative
	// Broadcast commands address every unit on the bus and produce no
	// reply at all.
	Broadcast
)

// The documented command vocabulary, manual tables 7.2 through 7.5.
// Interrogative forms carry their trailing '?'.
const (
	CmdAddress       = "ADR"
	CmdClearStatus   = "CLS"
	CmdReset         = "RST"
	CmdRemoteMode    = "RMT"
	CmdMultidrop     = "MDAV?"
	CmdParallel      = "MS?"
	CmdRepeatLast    = `\`
	CmdIdentity      = "IDN?"
	CmdRevision      = "REV?"
	CmdSerialNumber  = "SN?"
	CmdTestDate      = "DATE?"
	CmdVoltage       = "PV"
	CmdMeasVoltage   = "MV?"
	CmdCurrent       = "PC"
	CmdMeasCurrent   = "MC?"
	CmdOperationMode = "MODE?"
	CmdReadings      = "DVC?"
	CmdFullStatus    = "STT?"
	CmdFilter        = "FILTER"
	CmdOutput        = "OUT"
	CmdFoldback      = "FLD"
	CmdFoldbackDelay = "FDB"
	CmdFoldbackRead  = "FBD?"
	CmdFoldbackReset = "FBDRST"
	CmdOverVoltage   = "OVP"
	CmdOverVoltMax   = "OVM"
	CmdUnderVoltage  = "UVL"
	CmdAutoRestart   = "AST"
	CmdSave          = "SAV"
	CmdRecall        = "RCL"
	CmdStatusEnable  = "SENA"
	CmdStatusEvent   = "SEVE?"
	CmdFaultEnable   = "FENA"
	CmdFaultEvent    = "FEVE?"
	CmdStatusCond    = "STAT?"
	CmdFaultCond     = "FLT?"

	CmdGroupReset   = "GRST"
	CmdGroupVoltage = "GPV"
	CmdGroupCurrent = "GPC"
	CmdGroupOutput  = "GOUT"
	CmdGroupSave    = "GSAV"
	CmdGroupRecall  = "GRCL"
)

// vocabulary maps every settable mnemonic (without '?') and every query
// form (with '?') to its reply grammar.
var vocabulary = map[string]Grammar{
	CmdAddress:       Imperative,
	CmdClearStatus:   Imperative,
	CmdReset:         Imperative,
	CmdRemoteMode:    Imperative,
	"RMT?":           Interrogative,
	CmdMultidrop:     Interrogative,
	CmdParallel:      Interrogative,
	CmdIdentity:      Interrogative,
	CmdRevision:      Interrogative,
	CmdSerialNumber:  Interrogative,
	CmdTestDate:      Interrogative,
	CmdVoltage:       Imperative,
	"PV?":            Interrogative,
	CmdMeasVoltage:   Interrogative,
	CmdCurrent:       Imperative,
	"PC?":            Interrogative,
	CmdMeasCurrent:   Interrogative,
	CmdOperationMode: Interrogative,
	CmdReadings:      Interrogative,
	CmdFullStatus:    Interrogative,
	CmdFilter:        Imperative,
	"FILTER?":        Interrogative,
	CmdOutput:        Imperative,
	"OUT?":           Interrogative,
	CmdFoldback:      Imperative,
	"FLD?":           Interrogative,
	CmdFoldbackDelay: Imperative,
	CmdFoldbackRead:  Interrogative,
	CmdFoldbackReset: Imperative,
	CmdOverVoltage:   Imperative,
	"OVP?":           Interrogative,
	CmdOverVoltMax:   Imperative,
	CmdUnderVoltage:  Imperative,
	"UVL?":           Interrogative,
	CmdAutoRestart:   Imperative,
	"AST?":           Interrogative,
	CmdSave:          Imperative,
	CmdRecall:        Imperative,
	CmdStatusEnable:  Imperative,
	"SENA?":          Interrogative,
	CmdStatusEvent:   Interrogative,
	CmdFaultEnable:   Imperative,
	"FENA?":          Interrogative,
	CmdFaultEvent:    Interrogative,
	CmdStatusCond:    Interrogative,
	CmdFaultCond:     Interrogative,

	CmdGroupReset:   Broadcast,
	CmdGroupVoltage: Broadcast,
	CmdGroupCurrent: Broadcast,
	CmdGroupOutput:  Broadcast,
	CmdGroupSave:    Broadcast,
	CmdGroupRecall:  Broadcast,
}

// GrammarOf returns the reply grammar for a mnemonic. Unknown mnemonics
// default to Interrogative when they end in '?', Imperative otherwise, so
// raw passthrough of undocumented commands still behaves sensibly.
func GrammarOf(mnemonic string) Grammar {
	if g, ok := vocabulary[mnemonic]; ok {
		return g
	}
	if strings.HasSuffix(mnemonic, "?") {
		return Interrogative
	}
	return Imperative
}

// buildFrame joins a mnemonic and optional argument. The terminator is
// appended by the channel's write path.
func buildFrame(mnemonic, arg string) string {
	if arg == "" {
		return mnemonic
	}
	return mnemonic + " " + arg
}

// formatValue renders voltages and currents in the 3-decimal form every
// Genesys model accepts for PV, PC, OVP and UVL.
func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

// formatGroupValue renders broadcast values zero-padded to width six,
// e.g. 5 -> "05.000", matching the manual's G-command examples.
func formatGroupValue(v float64) string {
	s := formatValue(v)
	for len(s) < 6 {
		s = "0" + s
	}
	return s
}

// onOff maps a bool to the wire form of binary states.
func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}
