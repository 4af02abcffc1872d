package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrMalformedArchive = errors.New("malformed zip archive")
	ErrNoImages         = errors.New("no images match the selection")
	ErrInvalidInput     = errors.New("invalid input")
)
