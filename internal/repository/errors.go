package repository

import "errors"

var (
	// ErrNotFound indicates an entity was not located.
	ErrNotFound = errors.New("repository: not found")
	// ErrInvalidArgument indicates the datastore rejected a value.
	ErrInvalidArgument = errors.New("repository: invalid argument")
	// ErrConflict indicates a uniqueness or state precondition failed.
	ErrConflict = errors.New("repository: conflict")
)
