package models

import "errors"

// Error taxonomy shared by every service. All of these are terminal for
// the caller: a lost claim race means "re-query open requests", the rest
// are client-side logic errors. Nothing here is retried internally.
var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyClaimed    = errors.New("request already claimed")
	ErrInvalidState      = errors.New("operation not legal from current state")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrForbidden         = errors.New("caller is not the authorized actor")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidAmount     = errors.New("invalid donation amount")
	ErrInvalidRating     = errors.New("rating must be between 1 and 5")
	ErrAlreadyReviewed   = errors.New("ride already reviewed")
)
