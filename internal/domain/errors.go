package domain

import (
	"errors"
	"fmt"
)

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure — no infrastructure dependency.

var (
	// ErrAlreadyApplied marks the idempotent no-op outcome: the event's latch
	// was already true. Not a failure.
	ErrAlreadyApplied = errors.New("reward event already applied")

	// ErrValidation wraps a missing/malformed payload field. Terminal: the
	// event stays unapplied and the ledger schedules no retry.
	ErrValidation = errors.New("invalid reward event")

	// ErrUnknownKind means the event kind is not in the reward table.
	ErrUnknownKind = errors.New("unknown event kind")

	// ErrSelfReward marks an actor trying to earn from their own content.
	// Rejected silently: the underlying action succeeds, the reward does not.
	ErrSelfReward = errors.New("self-reward rejected")

	// ErrQuotaExceeded is the rate limiter's rejection. Must block the
	// underlying action and be shown to the user.
	ErrQuotaExceeded = errors.New("action quota exceeded")

	// ErrGrantOutOfRange means an admin grant amount fell outside the
	// configured per-call bounds.
	ErrGrantOutOfRange = errors.New("grant amount out of range")

	// ErrAccountNotFound means the subject user has no account row.
	ErrAccountNotFound = errors.New("account not found")
)

// fieldError wraps ErrValidation with the offending field name.
func fieldError(field string) error {
	return fmt.Errorf("%w: missing or malformed %s", ErrValidation, field)
}
