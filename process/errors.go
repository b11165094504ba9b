package process

import "errors"

var (
	ErrFormat          = errors.New("process: invalid APDU format")
	ErrIllegalArgument  = errors.New("process: illegal argument")
	ErrTimeout         = errors.New("process: response timeout")
	ErrInvalidResponse = errors.New("process: response length outside requested window")
	ErrLinkClosed      = errors.New("process: network link closed")
	ErrDetached        = errors.New("process: communicator already detached")
)
