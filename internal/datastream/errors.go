package datastream

import (
	"errors"
	"fmt"
)

// Error taxonomy of the datastream engine. Every failure surfaced to a caller
// wraps one of these sentinels, so callers branch with errors.Is.
var (
	// ErrInvalidArgument marks caller misuse: nil handles, bad whence, a
	// stream of the wrong type. The stream is unchanged, except that Release
	// and Close always consume it.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrBusy marks a reference-path collision during create: another stream
	// holds the FTAG-derived path. The stream is unchanged.
	ErrBusy = errors.New("reference path busy")

	// ErrPermission marks an operation illegal for the current FTAG state.
	ErrPermission = errors.New("operation not permitted by file state")

	// ErrNotReadable marks a read of a file that has not reached the
	// READABLE state.
	ErrNotReadable = errors.New("file not readable")

	// ErrNameTooLong marks a recovery path too large for the repo's object
	// size, or, on an edit stream, for the file's existing trailer reservation.
	ErrNameTooLong = errors.New("recovery info too large for object size")

	// ErrStale marks an object emit/close or FTAG write failure that leaves
	// invariants uncertain. The stream is terminal; callers must drop it.
	ErrStale = errors.New("stream invariants uncertain")
)

// scrub strips a spurious ErrStale match from a backend error, so the
// reserved sentinel only ever originates here.
func scrub(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStale) {
		return fmt.Errorf("backend error: %s", err.Error())
	}
	return err
}
