package config

import "errors"

// ErrInvalidConfig is wrapped by every Validate failure.
// ErrLoadConfig is wrapped when a source cannot be read or decoded.
var (
	ErrInvalidConfig = errors.New("invalid config")
	ErrLoadConfig    = errors.New("load config failed")
)
