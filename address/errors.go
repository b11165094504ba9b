package address

import "errors"

// ErrInvalidAddress is returned when an address value or string falls
// outside its valid range.
var ErrInvalidAddress = errors.New("address: invalid address")
