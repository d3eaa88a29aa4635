package config

import (
	"os"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.TotalRounds != 5 {
		t.Errorf("TotalRounds = %d, want 5", cfg.TotalRounds)
	}
	if cfg.RoundTimeoutSeconds != 15 {
		t.Errorf("RoundTimeoutSeconds = %d, want 15", cfg.RoundTimeoutSeconds)
	}
	if cfg.WinDelta != 20 || cfg.LossDelta != -15 || cfg.DrawDelta != 0 {
		t.Errorf("rating deltas = %d/%d/%d, want 20/-15/0", cfg.WinDelta, cfg.LossDelta, cfg.DrawDelta)
	}
	if cfg.LevelDivisor != 200 {
		t.Errorf("LevelDivisor = %d, want 200", cfg.LevelDivisor)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	os.Setenv("TOTAL_ROUNDS", "7")
	os.Setenv("ROUND_TIMEOUT_SECONDS", "20")
	defer os.Unsetenv("TOTAL_ROUNDS")
	defer os.Unsetenv("ROUND_TIMEOUT_SECONDS")

	cfg := Load()
	if cfg.TotalRounds != 7 {
		t.Errorf("TotalRounds = %d, want 7", cfg.TotalRounds)
	}
	if cfg.RoundTimeoutSeconds != 20 {
		t.Errorf("RoundTimeoutSeconds = %d, want 20", cfg.RoundTimeoutSeconds)
	}
}

func TestLoadInvalidEnvIgnored(t *testing.T) {
	os.Setenv("TOTAL_ROUNDS", "not-a-number")
	defer os.Unsetenv("TOTAL_ROUNDS")

	cfg := Load()
	if cfg.TotalRounds != 5 {
		t.Errorf("TotalRounds = %d, want default 5 on invalid override", cfg.TotalRounds)
	}
}
