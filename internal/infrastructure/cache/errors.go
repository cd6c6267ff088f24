package cache

import "errors"

var (
	// ErrUnavailable wraps any failure talking to the store.
	ErrUnavailable = errors.New("cache: unavailable")

	// ErrMiss is returned when a key does not exist.
	ErrMiss = errors.New("cache: key not found")
)
