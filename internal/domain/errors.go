package domain

import "errors"

var (
	// ErrNotFound is returned by stores when the requested item does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a conditional write lost to an existing item.
	ErrConflict = errors.New("conflict")
)
