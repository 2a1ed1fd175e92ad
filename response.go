package genesys

import "strconv"

// ResponseKind classifies a device reply.
type ResponseKind int

const (
	// KindOK is the acknowledgement to an imperative command.
	KindOK ResponseKind = iota
	// KindData is a payload reply to an interrogative command.
	KindData
	// KindError is a device-reported E0x error.
	KindError
)

// Response is one classified reply frame, terminator stripped.
type Response struct {
	Kind    ResponseKind
	Payload string
	Code    int // device error code when Kind == KindError
}

// ParseResponse classifies a raw reply line (without the carriage return).
// E0x replies are returned as a *ProtocolError alongside the classified
// response.
func ParseResponse(raw string) (Response, error) {
	if raw == "OK" {
		return Response{Kind: KindOK}, nil
	}
	if code, ok := errorCode(raw); ok {
		return Response{Kind: KindError, Code: code}, &ProtocolError{Code: code}
	}
	return Response{Kind: KindData, Payload: raw}, nil
}

// errorCode matches the manual's E01..E08 reply format: 'E' followed by
// exactly two digits.
func errorCode(raw string) (int, bool) {
	if len(raw) != 3 || raw[0] != 'E' {
		return 0, false
	}
	code, err := strconv.Atoi(raw[1:])
	if err != nil {
		return 0, false
	}
	return code, true
}
