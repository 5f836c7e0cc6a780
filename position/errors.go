package position

import "errors"

// Error taxonomy shared by the risk, ledger and portfolio packages. Returned
// errors wrap one of these so callers can branch with errors.Is.
var (
	// ErrInvalidInput rejects a request before any state changes.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotAllowed is a policy rejection: pyramiding/hedging disabled or a
	// session limit exceeded.
	ErrNotAllowed = errors.New("not allowed")

	// ErrNotFound means no live position (or session) matches the request.
	ErrNotFound = errors.New("not found")

	// ErrPersistence means the store rejected a transition; in-memory state
	// was left as it was before the call.
	ErrPersistence = errors.New("persistence failure")
)
