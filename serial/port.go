package serial

import "io"

// DefaultBaudRate is the baud rate used when Config.BaudRate is zero (§4.D).
const DefaultBaudRate = 19200

// Port is the byte-oriented transport the link reads from and writes to. It
// is satisfied by any serial port implementation opened at 8 data bits, even
// parity, 1 stop bit, no flow control, at the configured baud rate — the
// link itself is transport-agnostic and never touches port settings
// directly.
type Port interface {
	io.Reader
	io.Writer
	io.Closer
}

// Config holds the link's open-time parameters.
type Config struct {
	// BaudRate is the serial port speed. Zero selects DefaultBaudRate.
	BaudRate int

	// Logger receives diagnostic messages. Nil disables logging.
	Logger Logger
}

func (c Config) baudRate() int {
	if c.BaudRate <= 0 {
		return DefaultBaudRate
	}
	return c.BaudRate
}

// Logger is the minimal structured-logging contract the link depends on.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}
