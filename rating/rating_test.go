package rating

import "testing"

func defaultPolicy() Policy {
	return Policy{WinDelta: 20, LossDelta: -15, DrawDelta: 0, RatingFloor: 0, LevelDivisor: 200}
}

func TestApplyWin(t *testing.T) {
	r := defaultPolicy().Apply(Win, 1000)
	if r.NewRating != 1020 || r.Delta != 20 {
		t.Errorf("got %+v, want rating 1020 delta 20", r)
	}
	if r.Level != 6 {
		t.Errorf("Level = %d, want 6", r.Level)
	}
}

func TestApplyLoss(t *testing.T) {
	r := defaultPolicy().Apply(Loss, 1000)
	if r.NewRating != 985 || r.Delta != -15 {
		t.Errorf("got %+v, want rating 985 delta -15", r)
	}
}

func TestApplyLossFlooredAtZero(t *testing.T) {
	r := defaultPolicy().Apply(Loss, 10)
	if r.NewRating != 0 {
		t.Errorf("NewRating = %d, want 0", r.NewRating)
	}
	if r.Delta != -10 {
		t.Errorf("Delta = %d, want -10 (actual applied delta after floor)", r.Delta)
	}
}

func TestApplyDraw(t *testing.T) {
	r := defaultPolicy().Apply(Draw, 1000)
	if r.NewRating != 1000 || r.Delta != 0 {
		t.Errorf("got %+v, want no change", r)
	}
}

func TestOutcomeFor(t *testing.T) {
	if OutcomeFor(3, 2) != Win {
		t.Error("expected Win")
	}
	if OutcomeFor(2, 3) != Loss {
		t.Error("expected Loss")
	}
	if OutcomeFor(2, 2) != Draw {
		t.Error("expected Draw")
	}
}

func TestLevelDerivation(t *testing.T) {
	cases := []struct {
		rating int
		want   int
	}{
		{0, 1},
		{199, 1},
		{200, 2},
		{999, 5},
		{1000, 6},
	}
	p := defaultPolicy()
	for _, c := range cases {
		r := p.Apply(Draw, c.rating)
		if r.Level != c.want {
			t.Errorf("level for rating %d = %d, want %d", c.rating, r.Level, c.want)
		}
	}
}
