package txnmap

// errors.go defines the sentinel error kinds from the error-handling
// design: InvalidState, InvalidArgument, KeyNotFound, and PrepareFailure.
// Callers detect a kind with errors.Is; context is attached with
// fmt.Errorf("%w: ...", ...).

import "errors"

var (
	// ErrInvalidState is returned when a shadow is constructed with no
	// ambient transaction.
	ErrInvalidState = errors.New("txnmap: no ambient transaction")

	// ErrInvalidArgument is returned when a shadow is constructed over a
	// read-only BackingStore.
	ErrInvalidArgument = errors.New("txnmap: backing store is read-only")

	// ErrKeyNotFound is returned by the lookup-or-fail operation when the
	// key is absent from the effective (overlay-folded) view.
	ErrKeyNotFound = errors.New("txnmap: key not found")

	// ErrPrepareFailed is returned (wrapped with the underlying cause) when
	// applying the overlay to the BackingStore during Prepare fails. The
	// shadow replies ForceRollback with this error; the undo log recorded
	// up to the failure point reverses whatever was already applied.
	ErrPrepareFailed = errors.New("txnmap: prepare failed")
)
