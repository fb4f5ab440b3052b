package store

import "errors"

var (
	// ErrFailedToParseConnString indicates a malformed redis connection URL.
	ErrFailedToParseConnString = errors.New("failed to parse redis connection string")

	// ErrNotReady indicates the store did not become reachable within the
	// configured connect attempts.
	ErrNotReady = errors.New("store did not become ready within the given time period")

	// ErrEmpty indicates a pop against an empty list. It is the idle case
	// for dequeuing workers, not a failure.
	ErrEmpty = errors.New("list is empty")
)
