package api

import "errors"

var (
	// ErrConversationNotFound is returned when a conversation record does
	// not exist in the store.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrConcurrencyConflict is returned by a versioned write whose
	// expected version no longer matches the stored record. Callers must
	// re-read and reapply their mutation; the conflict is never surfaced
	// to the external caller.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrConversationClosed is returned when attempting to mutate a record
	// whose stage has reached CLOSURE. Closed conversations are read-only;
	// a reset creates a fresh record instead.
	ErrConversationClosed = errors.New("conversation closed")

	// ErrValidation indicates malformed input or parameters. It is raised
	// before any state mutation and surfaced to the caller.
	ErrValidation = errors.New("invalid input")

	// ErrExternalTimeout indicates that an external collaborator call
	// exceeded its deadline. It is retried per the configured policy and,
	// after exhaustion, downgraded to a non-fatal fallback response.
	ErrExternalTimeout = errors.New("external call timed out")

	// ErrFatalState indicates that a stored record is unreadable or
	// corrupt. The conversation is unrecoverable and the caller must start
	// a new one via reset.
	ErrFatalState = errors.New("conversation state unrecoverable")
)
