package membership

import "errors"

var (
	ErrNotFound      = errors.New("membership: not found")
	ErrAlreadyExists = errors.New("membership: already exists")
	ErrInvalidInput  = errors.New("membership: invalid input")
)
