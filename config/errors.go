package config

import "errors"

// ErrInvalidConfig is returned by Validate for any out-of-range or
// unrecognized configuration value.
var ErrInvalidConfig = errors.New("config: invalid configuration")
