// Package genesys implements serial remote control of TDK-Lambda Genesys
// programmable power supplies (RS-232 and RS-485), following chapter 7 of
// the Genesys user manual.
//
// The package is built around two layers:
//
//   - Channel: the wire layer. It owns one serial port, frames ASCII
//     commands and carriage-return delimited responses, selects the
//     addressed unit on a multi-drop bus and classifies device replies.
//   - Supply: the device layer. One Supply per (channel, address) exposes
//     the documented command set as typed operations with the manual's
//     range checks applied before anything is transmitted.
//
// The bus is half duplex: exactly one exchange may be in flight at a time.
// Channel serializes concurrent callers internally, so a single Channel may
// be shared by Supplies at different addresses.
package genesys
