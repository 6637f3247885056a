package repository

import (
	"errors"

	"github.com/okian/roastboard/internal/domain/model"
)

// Sentinel kinds for store errors. Lifecycle errors are the domain's own.
var (
	ErrNotFound          = model.ErrNotFound
	ErrConflict          = model.ErrConflict
	ErrAlreadyClaimed    = model.ErrAlreadyClaimed
	ErrInvalidTransition = model.ErrInvalidTransition
	ErrClosed            = errors.New("store closed")
)
