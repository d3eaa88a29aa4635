// Package questions is the read-only view over seeded quiz questions. It
// never writes; question authoring and category management are external
// collaborators (see spec §1).
package questions

import (
	"context"
	"math/rand"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"quizduel-server/matcherrors"
)

// Question is one multiple-choice item.
type Question struct {
	ID            string
	Text          string
	OptionA       string
	OptionB       string
	OptionC       string
	OptionD       string
	CorrectOption string // "A", "B", "C", or "D"
	Explanation   string
	Category      string
}

// Options returns the four choices keyed by letter, the shape the outbound
// question_start frame sends to clients.
func (q Question) Options() map[string]string {
	return map[string]string{
		"A": q.OptionA,
		"B": q.OptionB,
		"C": q.OptionC,
		"D": q.OptionD,
	}
}

// Repository selects random questions for a match.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wraps an existing pool; it does not own the pool's lifecycle.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Random returns n questions drawn uniformly without replacement from the
// given category (or any category, if categoryID is empty). Returns
// matcherrors.ErrInsufficientQuestions if fewer than n are available. With no
// pool configured, categoryID is ignored and the questions come from the
// built-in placeholder set.
func (r *Repository) Random(ctx context.Context, n int, categoryID string) ([]Question, error) {
	if r.pool == nil {
		return placeholderQuestions(n)
	}

	const selectCols = `id, text, option_a, option_b, option_c, option_d, correct_option, explanation, category`

	var (
		rows pgx.Rows
		err  error
	)
	if categoryID == "" {
		rows, err = r.pool.Query(ctx, `SELECT `+selectCols+` FROM questions ORDER BY random() LIMIT $1`, n)
	} else {
		rows, err = r.pool.Query(ctx, `SELECT `+selectCols+` FROM questions WHERE category = $1 ORDER BY random() LIMIT $2`, categoryID, n)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Question
	for rows.Next() {
		var q Question
		if err := rows.Scan(&q.ID, &q.Text, &q.OptionA, &q.OptionB, &q.OptionC, &q.OptionD, &q.CorrectOption, &q.Explanation, &q.Category); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) < n {
		return nil, matcherrors.ErrInsufficientQuestions
	}
	return out, nil
}

// placeholderSet is a small fixed pool used when no database is configured,
// so a match can still be played end to end in local dev and tests.
var placeholderSet = []Question{
	{ID: "p1", Text: "What is the capital of France?", OptionA: "Berlin", OptionB: "Madrid", OptionC: "Paris", OptionD: "Rome", CorrectOption: "C", Explanation: "Paris has been the capital of France since the 10th century.", Category: "geography"},
	{ID: "p2", Text: "What is 7 × 8?", OptionA: "54", OptionB: "56", OptionC: "58", OptionD: "64", CorrectOption: "B", Explanation: "7 × 8 = 56.", Category: "math"},
	{ID: "p3", Text: "Who wrote Romeo and Juliet?", OptionA: "Dickens", OptionB: "Shakespeare", OptionC: "Austen", OptionD: "Tolstoy", CorrectOption: "B", Explanation: "Shakespeare wrote the play around 1595.", Category: "literature"},
	{ID: "p4", Text: "What planet is known as the Red Planet?", OptionA: "Venus", OptionB: "Jupiter", OptionC: "Mars", OptionD: "Saturn", CorrectOption: "C", Explanation: "Mars appears red due to iron oxide on its surface.", Category: "science"},
	{ID: "p5", Text: "What is the chemical symbol for gold?", OptionA: "Ag", OptionB: "Au", OptionC: "Gd", OptionD: "Go", CorrectOption: "B", Explanation: "Au comes from the Latin aurum.", Category: "science"},
	{ID: "p6", Text: "In which year did World War II end?", OptionA: "1943", OptionB: "1944", OptionC: "1945", OptionD: "1946", CorrectOption: "C", Explanation: "World War II ended in 1945.", Category: "history"},
}

func placeholderQuestions(n int) ([]Question, error) {
	if n > len(placeholderSet) {
		return nil, matcherrors.ErrInsufficientQuestions
	}
	shuffled := append([]Question(nil), placeholderSet...)
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	return shuffled[:n], nil
}
