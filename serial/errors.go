// Package serial implements the FT1.2 primary-station link: a half-duplex,
// HDLC-like protocol (IEC 60870-5-1) that carries cEMI/EMI frames between
// the host and a BCU2 device over a byte-oriented serial port (§4.D).
package serial

import "errors"

// Domain errors for the FT1.2 link (§7).
var (
	// ErrFormat is returned when an inbound frame fails structural
	// validation: bad length echo, bad checksum, bad control bits, or a
	// stray terminator.
	ErrFormat = errors.New("serial: invalid frame format")

	// ErrIllegalArgument is returned by constructors when a caller supplies
	// an out-of-range value.
	ErrIllegalArgument = errors.New("serial: illegal argument")

	// ErrAckTimeout is returned when no ACK byte arrives within budget,
	// either during the reset handshake or during send, after exhausting
	// all retries.
	ErrAckTimeout = errors.New("serial: ACK timeout")

	// ErrTimeout is returned when a sent L_Data.req receives no matching
	// L_Data.con within its wait budget.
	ErrTimeout = errors.New("serial: confirmation timeout")

	// ErrPortClosed is returned by any operation attempted on, or that
	// causes, a closed port.
	ErrPortClosed = errors.New("serial: port closed")
)
