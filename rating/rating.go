// Package rating implements the fixed-delta rating and level policy applied
// when a match finalises. Unlike the teacher's Elo-based computeEloUpdates,
// this policy is a flat win/loss/draw delta, per the original scoring rules.
package rating

// Outcome is a player's result in a finished match.
type Outcome int

const (
	Loss Outcome = iota
	Draw
	Win
)

// Policy carries the tunable deltas and thresholds; callers pass the values
// from config.Config so tests can exercise non-default policies without a
// dependency on the config package.
type Policy struct {
	WinDelta     int
	LossDelta    int
	DrawDelta    int
	RatingFloor  int
	LevelDivisor int
}

// Result is the outcome of applying a Policy to a player's prior rating.
type Result struct {
	NewRating int
	Delta     int
	Level     int
}

// Apply computes a player's new rating and level after a match. LossDelta is
// expected to be zero or negative; the result is floored at RatingFloor.
func (p Policy) Apply(outcome Outcome, priorRating int) Result {
	var delta int
	switch outcome {
	case Win:
		delta = p.WinDelta
	case Loss:
		delta = p.LossDelta
	default:
		delta = p.DrawDelta
	}

	newRating := priorRating + delta
	if newRating < p.RatingFloor {
		newRating = p.RatingFloor
	}
	// delta reported to the caller reflects what was actually applied once
	// the floor clamps it, not the nominal policy delta.
	appliedDelta := newRating - priorRating

	divisor := p.LevelDivisor
	if divisor <= 0 {
		divisor = 1
	}
	level := newRating/divisor + 1

	return Result{NewRating: newRating, Delta: appliedDelta, Level: level}
}

// OutcomeFor returns the Outcome for a player given both players' final
// scores, from that player's point of view.
func OutcomeFor(mine, theirs int) Outcome {
	switch {
	case mine > theirs:
		return Win
	case mine < theirs:
		return Loss
	default:
		return Draw
	}
}
