package match

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"quizduel-server/config"
	"quizduel-server/questions"
	"quizduel-server/storage"
)

// fakeGateway is a hand-built storage.Gateway for tests that never touch a
// real pool, in the teacher's test-double style.
type fakeGateway struct {
	rounds    []storage.RoundResult
	finalised bool
	score1    int
	score2    int
}

func (f *fakeGateway) CreateMatchWithRounds(ctx context.Context, p1, p2 string, qs []storage.PreparedQuestion, total int) (string, error) {
	return "match-1", nil
}

func (f *fakeGateway) RecordRoundResult(ctx context.Context, matchID string, result storage.RoundResult) error {
	f.rounds = append(f.rounds, result)
	return nil
}

func (f *fakeGateway) FinaliseMatch(ctx context.Context, matchID, p1, p2 string, score1, score2 int) (storage.FinaliseResult, error) {
	f.finalised = true
	f.score1, f.score2 = score1, score2
	winner := &p1
	if score2 > score1 {
		winner = &p2
	} else if score2 == score1 {
		winner = nil
	}
	return storage.FinaliseResult{
		WinnerID: winner,
		Player1:  storage.PlayerFinal{UserID: p1, Score: score1, NewRating: 1020, RatingDelta: 20, Level: 6},
		Player2:  storage.PlayerFinal{UserID: p2, Score: score2, NewRating: 985, RatingDelta: -15, Level: 5},
	}, nil
}

func (f *fakeGateway) SetOnline(ctx context.Context, userID string, online bool) error { return nil }
func (f *fakeGateway) SetInGame(ctx context.Context, userID string, inGame bool) error  { return nil }

func (f *fakeGateway) GetRound(ctx context.Context, matchID string, roundNumber int) (storage.Round, error) {
	return storage.Round{}, nil
}

func (f *fakeGateway) GetMatchScores(ctx context.Context, matchID string) (int, int, error) {
	return f.score1, f.score2, nil
}

func (f *fakeGateway) VerifyPlayerInMatch(ctx context.Context, matchID, userID string) (bool, error) {
	return true, nil
}

func testConfig() *config.Config {
	return &config.Config{
		TotalRounds:            2,
		RoundTimeoutSeconds:    1,
		VSBannerSeconds:        0,
		InterRoundSeconds:      0,
		PreFinaliseSeconds:     0,
		DisconnectGraceSeconds: 1,
		EmojiLimitPerMatch:     2,
	}
}

func testQuestions(n int) []questions.Question {
	qs := make([]questions.Question, n)
	for i := range qs {
		qs[i] = questions.Question{
			ID:            "q",
			Text:          "2+2?",
			OptionA:       "3",
			OptionB:       "4",
			OptionC:       "5",
			OptionD:       "6",
			CorrectOption: "B",
			Explanation:   "basic arithmetic",
			Category:      "math",
		}
	}
	return qs
}

func drainChannel(ch chan []byte) [][]byte {
	var msgs [][]byte
	for {
		select {
		case msg := <-ch:
			msgs = append(msgs, msg)
		default:
			return msgs
		}
	}
}

func waitForType(t *testing.T, ch chan []byte, want string, timeout time.Duration) map[string]any {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case msg := <-ch:
			var envelope map[string]any
			if err := json.Unmarshal(msg, &envelope); err != nil {
				continue
			}
			if envelope["type"] == want {
				return envelope
			}
		case <-deadline:
			t.Fatalf("timed out waiting for message type %q", want)
			return nil
		}
	}
}

func newTestEngine(cfg *config.Config, gw storage.Gateway, qs []questions.Question) (*Engine, chan []byte, chan []byte) {
	send1 := make(chan []byte, 64)
	send2 := make(chan []byte, 64)
	e := NewEngine("match-1", cfg, gw, "alice", "Alice", "bob", "Bob", qs)
	go e.Run()
	return e, send1, send2
}

func TestLobbyWaitsForBothJoins(t *testing.T) {
	cfg := testConfig()
	gw := &fakeGateway{}
	e, send1, send2 := newTestEngine(cfg, gw, testQuestions(cfg.TotalRounds))

	e.Join(0, send1)
	msgs := drainChannel(send2)
	if len(msgs) != 0 {
		t.Fatalf("second player should see nothing before joining, got %d messages", len(msgs))
	}

	e.Join(1, send2)
	waitForType(t, send1, "game_start", time.Second)
	waitForType(t, send2, "game_start", time.Second)
	waitForType(t, send1, "question_start", time.Second)
	waitForType(t, send2, "question_start", time.Second)
}

func TestAnswerEndsRoundEarly(t *testing.T) {
	cfg := testConfig()
	cfg.TotalRounds = 1
	gw := &fakeGateway{}
	e, send1, send2 := newTestEngine(cfg, gw, testQuestions(cfg.TotalRounds))

	e.Join(0, send1)
	e.Join(1, send2)
	waitForType(t, send1, "question_start", time.Second)
	waitForType(t, send2, "question_start", time.Second)

	e.Answer(0, 1, "B", 1.0)
	e.Answer(1, 1, "C", 2.0)

	end := waitForType(t, send1, "round_end", time.Second)
	result := end["result"].(map[string]any)
	if result["correct_answer"] != "B" {
		t.Fatalf("expected correct answer B, got %v", result["correct_answer"])
	}

	waitForType(t, send1, "match_end", 2*time.Second)
	if !gw.finalised {
		t.Fatal("expected match to be finalised")
	}
}

func TestDuplicateAnswerIgnored(t *testing.T) {
	cfg := testConfig()
	cfg.TotalRounds = 1
	gw := &fakeGateway{}
	e, send1, send2 := newTestEngine(cfg, gw, testQuestions(cfg.TotalRounds))

	e.Join(0, send1)
	e.Join(1, send2)
	waitForType(t, send1, "question_start", time.Second)
	waitForType(t, send2, "question_start", time.Second)

	e.Answer(0, 1, "B", 1.0)
	e.Answer(0, 1, "A", 1.0) // duplicate from the same player, must be dropped

	e.Answer(1, 1, "B", 1.0)
	end := waitForType(t, send1, "round_end", time.Second)
	result := end["result"].(map[string]any)
	players := result["players"].(map[string]any)
	p1 := players["alice"].(map[string]any)
	if p1["answer"] != "B" {
		t.Fatalf("duplicate answer should not overwrite the first, got %v", p1["answer"])
	}
}

func TestEmojiCapAndEcho(t *testing.T) {
	cfg := testConfig()
	gw := &fakeGateway{}
	e, send1, send2 := newTestEngine(cfg, gw, testQuestions(cfg.TotalRounds))

	e.Join(0, send1)
	e.Join(1, send2)
	waitForType(t, send1, "game_start", time.Second)
	waitForType(t, send2, "game_start", time.Second)
	drainChannel(send1)
	drainChannel(send2)

	e.Emoji(0, "🔥")
	waitForType(t, send2, "emoji_received", time.Second)
	msgs := drainChannel(send1)
	for _, m := range msgs {
		var envelope map[string]any
		json.Unmarshal(m, &envelope)
		if envelope["type"] == "emoji_received" {
			t.Fatal("sender must not receive its own emoji")
		}
	}

	for i := 0; i < cfg.EmojiLimitPerMatch+3; i++ {
		e.Emoji(0, "🔥")
	}
	time.Sleep(50 * time.Millisecond)
	received := 0
	for _, m := range drainChannel(send2) {
		var envelope map[string]any
		json.Unmarshal(m, &envelope)
		if envelope["type"] == "emoji_received" {
			received++
		}
	}
	if received > cfg.EmojiLimitPerMatch-1 {
		t.Fatalf("expected emoji sends capped at %d, opponent received %d more after the cap", cfg.EmojiLimitPerMatch, received)
	}
}

func TestRoundTimeoutScoresZeroForSilentPlayer(t *testing.T) {
	cfg := testConfig()
	cfg.TotalRounds = 1
	cfg.RoundTimeoutSeconds = 1
	gw := &fakeGateway{}
	e, send1, send2 := newTestEngine(cfg, gw, testQuestions(cfg.TotalRounds))

	e.Join(0, send1)
	e.Join(1, send2)
	waitForType(t, send1, "question_start", time.Second)

	e.Answer(0, 1, "B", 0.5)
	end := waitForType(t, send1, "round_end", 3*time.Second)
	result := end["result"].(map[string]any)
	players := result["players"].(map[string]any)
	p2 := players["bob"].(map[string]any)
	if p2["score"].(float64) != 0 {
		t.Fatalf("silent player should score 0, got %v", p2["score"])
	}
}

func TestBothDisconnectForcesFinalise(t *testing.T) {
	cfg := testConfig()
	cfg.DisconnectGraceSeconds = 1
	gw := &fakeGateway{}
	e, send1, send2 := newTestEngine(cfg, gw, testQuestions(cfg.TotalRounds))

	e.Join(0, send1)
	e.Join(1, send2)
	waitForType(t, send1, "question_start", time.Second)

	e.Disconnect(0)
	e.Disconnect(1)

	deadline := time.After(3 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("expected match to be force-finalised after both disconnects")
		default:
		}
		if gw.finalised {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
}
