package database

import "errors"

// Failure taxonomy for pool initialization and use. All are recoverable
// except ErrQueryFailed, which is surfaced to the caller without retry.
var (
	// ErrConnectionSetupFailed indicates the pool could not be built:
	// malformed connection configuration or an unreachable database.
	// Nothing is cached; the next request retries initialization.
	ErrConnectionSetupFailed = errors.New("connection setup failed")

	// ErrPoolExhausted indicates no connection became available within
	// the configured acquire timeout.
	ErrPoolExhausted = errors.New("connection pool exhausted")

	// ErrQueryFailed indicates a storage-side error while executing a
	// query on an already-established connection.
	ErrQueryFailed = errors.New("query failed")
)
