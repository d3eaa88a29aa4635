// Package matcherrors holds sentinel errors shared by the matchmaking, match,
// and ws packages. Kept separate to avoid an import cycle between them.
package matcherrors

import "errors"

var (
	ErrUnauthenticated       = errors.New("authentication required")
	ErrNotAParticipant       = errors.New("not a participant in this match")
	ErrAlreadyQueued         = errors.New("already in matchmaking queue")
	ErrAlreadyInGame         = errors.New("already in a match")
	ErrSuperseded            = errors.New("superseded by a newer connection")
	ErrInsufficientQuestions = errors.New("insufficient questions for category")
	ErrTransientPersistence  = errors.New("transient persistence failure")
	ErrMatchNotFound         = errors.New("match not found")
)
