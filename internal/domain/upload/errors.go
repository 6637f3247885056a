package upload

import "errors"

// Sentinel errors for upload capabilities.
var (
	ErrInvalidCapability = errors.New("invalid upload capability")
	ErrCapabilityExpired = errors.New("upload capability expired")
	ErrKeyMismatch       = errors.New("upload capability does not cover this key")
	ErrShortSecret       = errors.New("upload secret too short")
)
