package model

import (
	"errors"
	"strings"
)

// Error taxonomy shared by every layer.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("submission not found")
	ErrUpstream          = errors.New("upstream failure")
	ErrInternal          = errors.New("internal error")
	ErrAlreadyClaimed    = errors.New("submission already claimed")
	ErrTerminal          = errors.New("submission already failed")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrConflict          = errors.New("submission already exists")
)

// ValidationError carries one message per violated rule.
type ValidationError struct {
	Details []string
}

func (e *ValidationError) Error() string {
	return ErrValidation.Error() + ": " + strings.Join(e.Details, "; ")
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// UpstreamError reports an exhausted external dependency.
type UpstreamError struct {
	Stage string
	Err   error
}

func (e *UpstreamError) Error() string {
	return e.Stage + ": " + e.Err.Error()
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Is matches ErrUpstream.
func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstream
}
