package types

import "errors"

// Domain errors shared by the session manager, the draw engine and the API.
// All of them are recoverable: the operation is refused and state is unchanged.
var (
	ErrInvalidSessionConfig = errors.New("invalid session configuration")
	ErrInvalidClaimant      = errors.New("claimant name must be 1-100 characters without control characters")
	ErrAlreadyDrawn         = errors.New("claimant has already drawn a slot")
	ErrNoSlotsAvailable     = errors.New("no slots available")
	ErrNoActiveSession      = errors.New("no active session")
	ErrNotDrawn             = errors.New("claimant has not drawn a slot")
	ErrDrawConflict         = errors.New("roster changed concurrently, please draw again")
	ErrSlotAlreadyBound     = errors.New("slot is already bound")
	ErrSlotNotFound         = errors.New("slot not found")
	ErrCorruptSnapshot      = errors.New("stored snapshot is corrupt")
)
