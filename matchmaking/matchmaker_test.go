package matchmaking

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"quizduel-server/config"
	"quizduel-server/questions"
	"quizduel-server/storage"
	"quizduel-server/ws"
)

type fakeGateway struct{}

func (f *fakeGateway) CreateMatchWithRounds(ctx context.Context, p1, p2 string, qs []storage.PreparedQuestion, total int) (string, error) {
	return "match-test", nil
}
func (f *fakeGateway) RecordRoundResult(ctx context.Context, matchID string, result storage.RoundResult) error {
	return nil
}
func (f *fakeGateway) FinaliseMatch(ctx context.Context, matchID, p1, p2 string, s1, s2 int) (storage.FinaliseResult, error) {
	return storage.FinaliseResult{Player1: storage.PlayerFinal{UserID: p1}, Player2: storage.PlayerFinal{UserID: p2}}, nil
}
func (f *fakeGateway) SetOnline(ctx context.Context, userID string, online bool) error { return nil }
func (f *fakeGateway) SetInGame(ctx context.Context, userID string, inGame bool) error  { return nil }
func (f *fakeGateway) GetRound(ctx context.Context, matchID string, roundNumber int) (storage.Round, error) {
	return storage.Round{}, nil
}
func (f *fakeGateway) GetMatchScores(ctx context.Context, matchID string) (int, int, error) {
	return 0, 0, nil
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
		EmojiLimitPerMatch:     5,
	}
}

// newTestMatchmaker wires a Matchmaker against a fake gateway; its question
// repository is nil-pooled, so Random draws from the built-in placeholder
// question set and a pairing can complete without a database.
func newTestMatchmaker(cfg *config.Config) *Matchmaker {
	return NewMatchmaker(cfg, &fakeGateway{}, questions.NewRepository(nil))
}

func TestEnqueueWaitingThenCancel(t *testing.T) {
	cfg := testConfig()
	mm := newTestMatchmaker(cfg)

	send1 := make(chan []byte, 8)
	c1 := &ws.Client{Send: send1, Name: "Alice", UserID: "alice"}

	mm.Enqueue(c1)

	select {
	case msg := <-send1:
		var env map[string]any
		json.Unmarshal(msg, &env)
		if env["type"] != "matchmaking_start" {
			t.Fatalf("expected matchmaking_start, got %v", env["type"])
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for matchmaking_start")
	}

	mm.Cancel(c1)

	select {
	case msg := <-send1:
		var env map[string]any
		json.Unmarshal(msg, &env)
		if env["type"] != "matchmaking_cancelled" {
			t.Fatalf("expected matchmaking_cancelled, got %v", env["type"])
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for matchmaking_cancelled")
	}

	mm.mu.Lock()
	_, stillQueued := mm.byUser["alice"]
	mm.mu.Unlock()
	if stillQueued {
		t.Fatal("client should be removed from the queue after cancel")
	}
}

func TestEnqueueTwiceIsRejected(t *testing.T) {
	cfg := testConfig()
	mm := newTestMatchmaker(cfg)

	send1 := make(chan []byte, 8)
	c1 := &ws.Client{Send: send1, Name: "Alice", UserID: "alice"}

	mm.Enqueue(c1)
	<-send1 // matchmaking_start

	mm.Enqueue(c1)
	select {
	case msg := <-send1:
		var env map[string]any
		json.Unmarshal(msg, &env)
		if env["type"] != "error" {
			t.Fatalf("expected an error frame for a duplicate enqueue, got %v", env["type"])
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for duplicate-enqueue error")
	}
}

func TestStaleSelfEntryIsReplacedNotWedged(t *testing.T) {
	cfg := testConfig()
	mm := newTestMatchmaker(cfg)

	oldSend := make(chan []byte, 8)
	oldClient := &ws.Client{Send: oldSend, Name: "Alice-old", UserID: "alice"}
	mm.Enqueue(oldClient)
	<-oldSend // matchmaking_start

	newSend := make(chan []byte, 8)
	newClient := &ws.Client{Send: newSend, Name: "Alice-new", UserID: "alice"}

	done := make(chan struct{})
	go func() {
		mm.Enqueue(newClient)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Enqueue from the replacing connection must not block forever")
	}

	select {
	case msg := <-oldSend:
		var env map[string]any
		json.Unmarshal(msg, &env)
		if env["type"] != "error" {
			t.Fatalf("expected the stale entry to receive an error frame, got %v", env["type"])
		}
	case <-time.After(time.Second):
		t.Fatal("stale entry should have been notified it was superseded")
	}

	mm.mu.Lock()
	entry := mm.byUser["alice"]
	mm.mu.Unlock()
	if entry != newClient {
		t.Fatal("the new connection should now own the queue slot for this user")
	}
}

func TestJoinRejectsNonParticipant(t *testing.T) {
	cfg := testConfig()
	mm := newTestMatchmaker(cfg)

	_, _, err := mm.Join("nonexistent-match", "alice")
	if err == nil {
		t.Fatal("expected an error for a match the caller does not belong to")
	}
}

// TestJoinRejectsReplayOfAnAlreadySeatedPlayer covers the no-reconnection
// rule: once a seat has joined, a second Join for that seat (a disconnected
// player opening a fresh connection, say) must be rejected rather than
// spliced into the live match.
func TestJoinRejectsReplayOfAnAlreadySeatedPlayer(t *testing.T) {
	cfg := testConfig()
	mm := newTestMatchmaker(cfg)

	send1 := make(chan []byte, 8)
	c1 := &ws.Client{Send: send1, Name: "Alice", UserID: "alice"}
	send2 := make(chan []byte, 8)
	c2 := &ws.Client{Send: send2, Name: "Bob", UserID: "bob"}

	mm.Enqueue(c1)
	<-send1 // matchmaking_start
	mm.Enqueue(c2)

	var found map[string]any
	select {
	case msg := <-send1:
		json.Unmarshal(msg, &found)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for match_found")
	}
	matchInfo := found["match"].(map[string]any)
	matchID := matchInfo["id"].(string)

	engine, idx, err := mm.Join(matchID, "alice")
	if err != nil {
		t.Fatalf("first join should succeed: %v", err)
	}
	engine.Join(idx, make(chan []byte, 8))

	// handleJoin runs asynchronously on the engine's own goroutine; give it
	// a moment to mark the seat taken before probing it.
	deadline := time.Now().Add(time.Second)
	for {
		if _, _, err := mm.Join(matchID, "alice"); err != nil {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("expected a second join for the same seat to eventually be rejected")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
