package repository

import "errors"

// Sentinel kinds for repository errors.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrLogClosed     = errors.New("audit log closed")
	ErrUnattributed  = errors.New("no matching content instance")
)
