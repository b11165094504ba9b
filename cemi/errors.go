package cemi

import "errors"

// Domain errors for the cEMI/EMI and RF frame codecs (§7).
var (
	// ErrFormat is returned by a decoder when the input bytes are
	// structurally invalid: too short, an unknown message code, an
	// impossible length field, or an invalid control byte.
	ErrFormat = errors.New("cemi: invalid frame format")

	// ErrIllegalArgument is returned by frame constructors when a caller
	// supplies an out-of-range value.
	ErrIllegalArgument = errors.New("cemi: illegal argument")
)
