package objectstore

import "errors"

var (
	ErrObjectNotFound = errors.New("object not found")
	ErrInvalidKey     = errors.New("invalid object key")
	ErrTooLarge       = errors.New("object exceeds size limit")
	ErrEmptyObject    = errors.New("object is empty")
)
