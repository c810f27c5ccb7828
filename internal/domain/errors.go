package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrInvalidRequest  = errors.New("invalid request")
	ErrBackendFailure  = errors.New("backend failure")
	ErrNoJobAvailable  = errors.New("no job available")
	ErrAlreadyTerminal = errors.New("job already terminal")
)
