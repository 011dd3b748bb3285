package core

import (
	"errors"
)

var (
	// ErrExternal reports a failure returned by the graphics driver.
	ErrExternal        = errors.New("external driver call failed")
	ErrOutOfMemory     = errors.New("out of memory")
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotReady is returned for query results that are not available yet.
	ErrNotReady = errors.New("not ready")
	// ErrAlreadyPresent is returned when a frame is already tracked by an
	// execution context. Callers treat it as success.
	ErrAlreadyPresent = errors.New("already present")
	ErrNoWorkers      = errors.New("no workers available")
	ErrShutdown       = errors.New("system is shutting down")
)
