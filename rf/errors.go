// Package rf implements the KNX RF medium frame: a multi-block layout
// protected by a per-block CRC-16-DNP checksum, with LTE-HEE addressing
// extensions (§4.C).
package rf

import "errors"

// Domain errors for the RF frame codec (§7).
var (
	// ErrFormat is returned on a structurally invalid frame: too short, a
	// reserved length value, or a CRC mismatch on any block.
	ErrFormat = errors.New("rf: invalid frame format")

	// ErrIllegalArgument is returned by constructors when a caller supplies
	// an out-of-range value.
	ErrIllegalArgument = errors.New("rf: illegal argument")
)
