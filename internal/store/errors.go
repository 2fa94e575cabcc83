package store

import "errors"

var (
	// ErrNotFound is returned when a mapped object or queue item load
	// misses.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateLink is returned when a save would violate the
	// (mapping, remote identity) or (mapping, local entity) uniqueness.
	ErrDuplicateLink = errors.New("duplicate mapped object link")
)
