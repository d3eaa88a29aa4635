// Package storage is the Persistence Gateway: the sole component that
// mutates Match, Round, User, and MatchHistory rows. Every write here is
// atomic; FinaliseMatch in particular commits rating updates, the inGame
// clear, and both MatchHistory rows in a single transaction, the same shape
// as the teacher's UpdateRatingsAfterGame.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"quizduel-server/rating"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS users (
	id           TEXT PRIMARY KEY,
	display_name TEXT NOT NULL DEFAULT '',
	rating       INT  NOT NULL DEFAULT 1000,
	level        INT  NOT NULL DEFAULT 6,
	wins         INT  NOT NULL DEFAULT 0,
	losses       INT  NOT NULL DEFAULT 0,
	is_online    BOOLEAN NOT NULL DEFAULT false,
	in_game      BOOLEAN NOT NULL DEFAULT false,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_users_rating ON users(rating DESC);

CREATE TABLE IF NOT EXISTS categories (
	id   TEXT PRIMARY KEY,
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS questions (
	id             TEXT PRIMARY KEY,
	text           TEXT NOT NULL,
	option_a       TEXT NOT NULL,
	option_b       TEXT NOT NULL,
	option_c       TEXT NOT NULL,
	option_d       TEXT NOT NULL,
	correct_option TEXT NOT NULL,
	explanation    TEXT NOT NULL DEFAULT '',
	category       TEXT NOT NULL DEFAULT '',
	difficulty     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_questions_category ON questions(category);

CREATE TABLE IF NOT EXISTS matches (
	id            UUID PRIMARY KEY,
	player1_id    TEXT NOT NULL REFERENCES users(id),
	player2_id    TEXT NOT NULL REFERENCES users(id),
	score1        INT NOT NULL DEFAULT 0,
	score2        INT NOT NULL DEFAULT 0,
	winner_id     TEXT,
	status        TEXT NOT NULL DEFAULT 'waiting',
	current_round INT NOT NULL DEFAULT 0,
	total_rounds  INT NOT NULL DEFAULT 5,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at    TIMESTAMPTZ,
	ended_at      TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS rounds (
	match_id        UUID NOT NULL REFERENCES matches(id),
	round_number    INT NOT NULL,
	question_id     TEXT NOT NULL REFERENCES questions(id),
	player1_answer  TEXT,
	player2_answer  TEXT,
	player1_time    DOUBLE PRECISION,
	player2_time    DOUBLE PRECISION,
	player1_score   INT NOT NULL DEFAULT 0,
	player2_score   INT NOT NULL DEFAULT 0,
	PRIMARY KEY (match_id, round_number)
);

CREATE TABLE IF NOT EXISTS match_history (
	id             UUID PRIMARY KEY,
	user_id        TEXT NOT NULL REFERENCES users(id),
	match_id       UUID NOT NULL REFERENCES matches(id),
	opponent_id    TEXT NOT NULL REFERENCES users(id),
	user_score     INT NOT NULL,
	opponent_score INT NOT NULL,
	is_winner      BOOLEAN NOT NULL,
	rating_change  INT NOT NULL,
	played_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_match_history_user ON match_history(user_id);
`

// PreparedQuestion is the subset of a drawn question the gateway needs to
// create a Round row; the match/matchmaking packages translate from
// questions.Question so storage does not depend on the questions package.
type PreparedQuestion struct {
	ID            string
	CorrectOption string
}

// RoundResult is what the Match Engine records after a round ends.
type RoundResult struct {
	RoundNumber   int
	Player1Answer *string
	Player2Answer *string
	Player1Time   *float64
	Player2Time   *float64
	Player1Score  int
	Player2Score  int
}

// Round is a persisted round row, joined with its question for the review
// list the engine needs when broadcasting round_end / match_end.
type Round struct {
	RoundNumber   int
	QuestionID    string
	CorrectOption string
	Explanation   string
	Player1Answer *string
	Player2Answer *string
	Player1Score  int
	Player2Score  int
}

// PlayerFinal is one player's outcome at match finalisation.
type PlayerFinal struct {
	UserID    string
	Score     int
	NewRating int
	RatingDelta int
	Level     int
}

// FinaliseResult is the outcome of FinaliseMatch.
type FinaliseResult struct {
	WinnerID *string // nil for a draw
	Player1  PlayerFinal
	Player2  PlayerFinal
}

// Policy carries the rating/level tunables; set once at startup from config.
var Policy = rating.Policy{WinDelta: 20, LossDelta: -15, DrawDelta: 0, RatingFloor: 0, LevelDivisor: 200}

// Store is the pgx-backed Gateway implementation.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to Postgres and bootstraps the schema. If databaseURL is
// empty, NewStore returns (nil, nil); every Store method accepts a nil
// receiver and then writes nothing.
func NewStore(ctx context.Context, databaseURL string) (*Store, error) {
	if databaseURL == "" {
		return nil, nil
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, err
	}
	slog.Info("connected to Postgres", "tag", "storage")
	return &Store{pool: pool}, nil
}

// Pool exposes the underlying pool for components that need their own
// queries against the same connection (the questions Repository).
func (s *Store) Pool() *pgxpool.Pool {
	if s == nil {
		return nil
	}
	return s.pool
}

// Close closes the connection pool.
func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

// CreateMatchWithRounds creates a Match row (status=in_progress) and one
// Round row per question, then marks both users in_game. One transaction.
func (s *Store) CreateMatchWithRounds(ctx context.Context, player1ID, player2ID string, qs []PreparedQuestion, totalRounds int) (string, error) {
	if s == nil || s.pool == nil {
		return uuid.New().String(), nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx)

	for _, uid := range []string{player1ID, player2ID} {
		if _, err := tx.Exec(ctx, `INSERT INTO users (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, uid); err != nil {
			return "", err
		}
	}

	matchID := uuid.New()
	_, err = tx.Exec(ctx, `
		INSERT INTO matches (id, player1_id, player2_id, status, total_rounds, started_at)
		VALUES ($1, $2, $3, 'in_progress', $4, now())`,
		matchID, player1ID, player2ID, totalRounds)
	if err != nil {
		return "", err
	}

	for i, q := range qs {
		_, err = tx.Exec(ctx, `
			INSERT INTO rounds (match_id, round_number, question_id)
			VALUES ($1, $2, $3)`,
			matchID, i+1, q.ID)
		if err != nil {
			return "", err
		}
	}

	for _, uid := range []string{player1ID, player2ID} {
		if _, err := tx.Exec(ctx, `UPDATE users SET in_game = true WHERE id = $1`, uid); err != nil {
			return "", err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return matchID.String(), nil
}

// RecordRoundResult persists a completed round and bumps the match's running
// totals. Not transactional with the round insert that created the row
// because the row already exists; it is an UPDATE plus a running-total UPDATE
// in one transaction so score1/score2 never observe a partial round.
func (s *Store) RecordRoundResult(ctx context.Context, matchID string, result RoundResult) error {
	if s == nil || s.pool == nil {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE rounds SET player1_answer = $1, player2_answer = $2, player1_time = $3, player2_time = $4,
			player1_score = $5, player2_score = $6
		WHERE match_id = $7 AND round_number = $8`,
		result.Player1Answer, result.Player2Answer, result.Player1Time, result.Player2Time,
		result.Player1Score, result.Player2Score, matchID, result.RoundNumber)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		UPDATE matches SET score1 = score1 + $1, score2 = score2 + $2, current_round = $3
		WHERE id = $4`,
		result.Player1Score, result.Player2Score, result.RoundNumber, matchID)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// FinaliseMatch determines the winner, applies the rating policy to both
// players, clears in_game, marks the match completed, and inserts both
// MatchHistory rows — all in one transaction, mirroring the teacher's
// UpdateRatingsAfterGame.
func (s *Store) FinaliseMatch(ctx context.Context, matchID, player1ID, player2ID string, score1, score2 int) (FinaliseResult, error) {
	outcome1 := rating.OutcomeFor(score1, score2)
	outcome2 := rating.OutcomeFor(score2, score1)

	if s == nil || s.pool == nil {
		r1 := Policy.Apply(outcome1, 1000)
		r2 := Policy.Apply(outcome2, 1000)
		return finaliseResultFrom(player1ID, player2ID, score1, score2, outcome1, r1, r2), nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return FinaliseResult{}, err
	}
	defer tx.Rollback(ctx)

	for _, uid := range []string{player1ID, player2ID} {
		if _, err := tx.Exec(ctx, `INSERT INTO users (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, uid); err != nil {
			return FinaliseResult{}, err
		}
	}

	var rating1, rating2 int
	if err := tx.QueryRow(ctx, `SELECT rating FROM users WHERE id = $1`, player1ID).Scan(&rating1); err != nil {
		return FinaliseResult{}, err
	}
	if err := tx.QueryRow(ctx, `SELECT rating FROM users WHERE id = $1`, player2ID).Scan(&rating2); err != nil {
		return FinaliseResult{}, err
	}

	r1 := Policy.Apply(outcome1, rating1)
	r2 := Policy.Apply(outcome2, rating2)

	winDelta := map[rating.Outcome]int{rating.Win: 1}
	lossDelta := map[rating.Outcome]int{rating.Loss: 1}

	if _, err := tx.Exec(ctx, `
		UPDATE users SET rating = $1, level = $2, wins = wins + $3, losses = losses + $4, in_game = false, updated_at = now()
		WHERE id = $5`,
		r1.NewRating, r1.Level, winDelta[outcome1], lossDelta[outcome1], player1ID); err != nil {
		return FinaliseResult{}, err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE users SET rating = $1, level = $2, wins = wins + $3, losses = losses + $4, in_game = false, updated_at = now()
		WHERE id = $5`,
		r2.NewRating, r2.Level, winDelta[outcome2], lossDelta[outcome2], player2ID); err != nil {
		return FinaliseResult{}, err
	}

	var winnerID *string
	if outcome1 == rating.Win {
		id := player1ID
		winnerID = &id
	} else if outcome2 == rating.Win {
		id := player2ID
		winnerID = &id
	}
	if _, err := tx.Exec(ctx, `
		UPDATE matches SET status = 'completed', score1 = $1, score2 = $2, winner_id = $3, ended_at = now()
		WHERE id = $4`,
		score1, score2, winnerID, matchID); err != nil {
		return FinaliseResult{}, err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO match_history (id, user_id, match_id, opponent_id, user_score, opponent_score, is_winner, rating_change)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		uuid.New(), player1ID, matchID, player2ID, score1, score2, outcome1 == rating.Win, r1.Delta); err != nil {
		return FinaliseResult{}, err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO match_history (id, user_id, match_id, opponent_id, user_score, opponent_score, is_winner, rating_change)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		uuid.New(), player2ID, matchID, player1ID, score2, score1, outcome2 == rating.Win, r2.Delta); err != nil {
		return FinaliseResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return FinaliseResult{}, err
	}
	return finaliseResultFrom(player1ID, player2ID, score1, score2, outcome1, r1, r2), nil
}

func finaliseResultFrom(player1ID, player2ID string, score1, score2 int, outcome1 rating.Outcome, r1, r2 rating.Result) FinaliseResult {
	var winnerID *string
	switch outcome1 {
	case rating.Win:
		id := player1ID
		winnerID = &id
	case rating.Loss:
		id := player2ID
		winnerID = &id
	}
	return FinaliseResult{
		WinnerID: winnerID,
		Player1:  PlayerFinal{UserID: player1ID, Score: score1, NewRating: r1.NewRating, RatingDelta: r1.Delta, Level: r1.Level},
		Player2:  PlayerFinal{UserID: player2ID, Score: score2, NewRating: r2.NewRating, RatingDelta: r2.Delta, Level: r2.Level},
	}
}

// SetOnline marks a user online/offline.
func (s *Store) SetOnline(ctx context.Context, userID string, online bool) error {
	if s == nil || s.pool == nil {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, is_online) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET is_online = $2, updated_at = now()`, userID, online)
	return err
}

// SetInGame marks a user as currently in a match (or not).
func (s *Store) SetInGame(ctx context.Context, userID string, inGame bool) error {
	if s == nil || s.pool == nil {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, in_game) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET in_game = $2, updated_at = now()`, userID, inGame)
	return err
}

// GetRound returns a persisted round joined with its question's answer key.
func (s *Store) GetRound(ctx context.Context, matchID string, roundNumber int) (Round, error) {
	if s == nil || s.pool == nil {
		return Round{}, fmt.Errorf("storage: no pool configured")
	}
	var r Round
	r.RoundNumber = roundNumber
	err := s.pool.QueryRow(ctx, `
		SELECT r.question_id, q.correct_option, q.explanation, r.player1_answer, r.player2_answer, r.player1_score, r.player2_score
		FROM rounds r JOIN questions q ON q.id = r.question_id
		WHERE r.match_id = $1 AND r.round_number = $2`,
		matchID, roundNumber).Scan(&r.QuestionID, &r.CorrectOption, &r.Explanation, &r.Player1Answer, &r.Player2Answer, &r.Player1Score, &r.Player2Score)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Round{}, fmt.Errorf("round %d of match %s: %w", roundNumber, matchID, err)
		}
		return Round{}, err
	}
	return r, nil
}

// GetMatchScores returns the running totals for a match.
func (s *Store) GetMatchScores(ctx context.Context, matchID string) (int, int, error) {
	if s == nil || s.pool == nil {
		return 0, 0, nil
	}
	var score1, score2 int
	err := s.pool.QueryRow(ctx, `SELECT score1, score2 FROM matches WHERE id = $1`, matchID).Scan(&score1, &score2)
	return score1, score2, err
}

// VerifyPlayerInMatch reports whether userID is player1 or player2 of matchID.
func (s *Store) VerifyPlayerInMatch(ctx context.Context, matchID, userID string) (bool, error) {
	if s == nil || s.pool == nil {
		return true, nil
	}
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM matches WHERE id = $1 AND (player1_id = $2 OR player2_id = $2)`,
		matchID, userID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
