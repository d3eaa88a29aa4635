package storage

import "context"

// Gateway is the single entry point for mutations to Match/Round/User state,
// and the non-transactional read snapshots the core needs. It exists as an
// interface so matchmaking/match tests can substitute a fake (the teacher's
// HistoryStore pattern).
type Gateway interface {
	CreateMatchWithRounds(ctx context.Context, player1ID, player2ID string, qs []PreparedQuestion, totalRounds int) (string, error)
	RecordRoundResult(ctx context.Context, matchID string, result RoundResult) error
	FinaliseMatch(ctx context.Context, matchID, player1ID, player2ID string, score1, score2 int) (FinaliseResult, error)
	SetOnline(ctx context.Context, userID string, online bool) error
	SetInGame(ctx context.Context, userID string, inGame bool) error
	GetRound(ctx context.Context, matchID string, roundNumber int) (Round, error)
	GetMatchScores(ctx context.Context, matchID string) (score1, score2 int, err error)
	VerifyPlayerInMatch(ctx context.Context, matchID, userID string) (bool, error)
}
