package storage

import (
	"context"
	"testing"
)

// A Store with a nil pool exercises the finalisation math without a
// database; every write short-circuits to a no-op.
func noDBStore() *Store { return &Store{} }

func TestFinaliseMatchWinner(t *testing.T) {
	s := noDBStore()
	res, err := s.FinaliseMatch(context.Background(), "m1", "p1", "p2", 300, 210)
	if err != nil {
		t.Fatalf("FinaliseMatch: %v", err)
	}
	if res.WinnerID == nil || *res.WinnerID != "p1" {
		t.Errorf("WinnerID = %v, want p1", res.WinnerID)
	}
	if res.Player1.RatingDelta != 20 {
		t.Errorf("Player1.RatingDelta = %d, want 20", res.Player1.RatingDelta)
	}
	if res.Player2.RatingDelta != -15 {
		t.Errorf("Player2.RatingDelta = %d, want -15", res.Player2.RatingDelta)
	}
}

func TestFinaliseMatchDraw(t *testing.T) {
	s := noDBStore()
	res, err := s.FinaliseMatch(context.Background(), "m1", "p1", "p2", 250, 250)
	if err != nil {
		t.Fatalf("FinaliseMatch: %v", err)
	}
	if res.WinnerID != nil {
		t.Errorf("WinnerID = %v, want nil for draw", *res.WinnerID)
	}
	if res.Player1.RatingDelta != 0 || res.Player2.RatingDelta != 0 {
		t.Errorf("draw deltas = %d/%d, want 0/0", res.Player1.RatingDelta, res.Player2.RatingDelta)
	}
}

func TestCreateMatchWithRoundsNoDB(t *testing.T) {
	s := noDBStore()
	id, err := s.CreateMatchWithRounds(context.Background(), "p1", "p2", []PreparedQuestion{{ID: "q1", CorrectOption: "A"}}, 1)
	if err != nil {
		t.Fatalf("CreateMatchWithRounds: %v", err)
	}
	if id == "" {
		t.Error("expected a non-empty match id even without a DB")
	}
}
