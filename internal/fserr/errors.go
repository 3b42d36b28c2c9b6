// Package fserr defines the two error tiers of the virtual filesystem.
//
// Recoverable errors are returned to the caller. Fatal errors indicate an
// integration bug or an attack on the runtime's own assets; they are raised
// with Fatal, which panics with a *FatalError so the filesystem never keeps
// running in a possibly-corrupted state.
package fserr

import (
	"errors"
	"fmt"
)

// Recoverable errors.
var (
	ErrNotFound        = errors.New("file not found")
	ErrInvalidHandle   = errors.New("invalid file handle")
	ErrNotWritable     = errors.New("handle is not writable")
	ErrMissingContent  = errors.New("cannot satisfy required content")
	ErrUnsupported     = errors.New("operation not supported on this platform")
	ErrInvalidChecksum = errors.New("invalid checksum list")
)

// Fatal errors.
var (
	ErrNotInitialized   = errors.New("filesystem call made without initialization")
	ErrHandlesExhausted = errors.New("no free file handles")
	ErrImmutable        = errors.New("not allowed to manipulate protected file")
	ErrBadOrigin        = errors.New("bad seek origin")
	ErrBadMode          = errors.New("bad open mode")
)

// FatalError is the panic value raised by Fatal.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Fatal halts the current call chain with a *FatalError.
func Fatal(op string, err error) {
	panic(&FatalError{Op: op, Err: err})
}

// Fatalf is Fatal with a formatted detail wrapped around err.
func Fatalf(op string, err error, format string, args ...any) {
	panic(&FatalError{Op: op, Err: fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)})
}

// AsFatal reports whether a recovered panic value is a *FatalError.
func AsFatal(recovered any) (*FatalError, bool) {
	fe, ok := recovered.(*FatalError)
	return fe, ok
}
