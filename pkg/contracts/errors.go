package contracts

import "errors"

var (
	// ErrInvalidTarget is returned for a self-addressed proposal or a mint
	// whose two parties are not distinct.
	ErrInvalidTarget = errors.New("invalid target")
	// ErrNotFound is returned for ids outside the allocated range.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized is returned when the caller is not the required party.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidState is returned when a proposal is not in the required status,
	// or a one-time wiring call is repeated.
	ErrInvalidState = errors.New("invalid state")
	// ErrNonTransferable is returned for every custody reassignment attempt.
	ErrNonTransferable = errors.New("non-transferable")
	// ErrUnwired is returned when acceptance runs before the registries are linked.
	ErrUnwired = errors.New("connection registry not wired")
)

// Error codes exposed on the wire.
const (
	CodeInvalidTarget   = "invalid_target"
	CodeNotFound        = "not_found"
	CodeUnauthorized    = "unauthorized"
	CodeInvalidState    = "invalid_state"
	CodeNonTransferable = "non_transferable"
	CodeUnwired         = "unwired"
	CodeInternal        = "internal"
)

var kinds = []struct {
	err  error
	code string
}{
	{ErrInvalidTarget, CodeInvalidTarget},
	{ErrNotFound, CodeNotFound},
	{ErrUnauthorized, CodeUnauthorized},
	{ErrInvalidState, CodeInvalidState},
	{ErrNonTransferable, CodeNonTransferable},
	{ErrUnwired, CodeUnwired},
}

// Kind returns the wire code of a registry error, or CodeInternal for
// anything that is not a typed rejection.
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.code
		}
	}
	return CodeInternal
}

// IsRejection reports whether err is a typed registry rejection rather than
// an infrastructure failure.
func IsRejection(err error) bool {
	return err != nil && Kind(err) != CodeInternal
}
