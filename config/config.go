package config

import (
	"encoding/json"
	"log"
	"os"
	"strconv"
)

// Config holds all configurable match parameters.
type Config struct {
	TotalRounds            int `json:"total_rounds"`
	RoundTimeoutSeconds    int `json:"round_timeout_seconds"`
	VSBannerSeconds        int `json:"vs_banner_seconds"`
	InterRoundSeconds      int `json:"inter_round_seconds"`
	PreFinaliseSeconds     int `json:"pre_finalise_seconds"`
	DisconnectGraceSeconds int `json:"disconnect_grace_seconds"`
	EmojiLimitPerMatch     int `json:"emoji_limit_per_match"`
	MaxNameLength          int `json:"max_name_length"`
	WSPort                 int `json:"ws_port"`

	WinDelta     int `json:"win_delta"`
	LossDelta    int `json:"loss_delta"`
	DrawDelta    int `json:"draw_delta"`
	RatingFloor  int `json:"rating_floor"`
	LevelDivisor int `json:"level_divisor"`

	// AuthJWKSBaseURL is the base URL of the identity provider; the JWKS document is
	// fetched from <AuthJWKSBaseURL>/.well-known/jwks.json. Empty disables auth (tests,
	// local dev without an identity provider configured).
	AuthJWKSBaseURL string `json:"auth_jwks_base_url"`

	// DatabaseURL is the Postgres connection string. Empty disables persistence.
	DatabaseURL string `json:"-"`
}

// Defaults returns a Config with all default values from the spec.
func Defaults() *Config {
	return &Config{
		TotalRounds:            5,
		RoundTimeoutSeconds:    15,
		VSBannerSeconds:        3,
		InterRoundSeconds:      3,
		PreFinaliseSeconds:     2,
		DisconnectGraceSeconds: 30,
		EmojiLimitPerMatch:     5,
		MaxNameLength:          24,
		WSPort:                 8080,
		WinDelta:               20,
		LossDelta:              -15,
		DrawDelta:              0,
		RatingFloor:            0,
		LevelDivisor:           200,
	}
}

// Load reads configuration from an optional config.json file, then applies
// environment variable overrides. Fields not set in either source retain
// their default values.
func Load() *Config {
	cfg := Defaults()

	if f, err := os.Open("config.json"); err == nil {
		defer f.Close()
		if err := json.NewDecoder(f).Decode(cfg); err != nil {
			log.Printf("Warning: failed to parse config.json: %v", err)
		}
	}

	overrideInt(&cfg.TotalRounds, "TOTAL_ROUNDS")
	overrideInt(&cfg.RoundTimeoutSeconds, "ROUND_TIMEOUT_SECONDS")
	overrideInt(&cfg.VSBannerSeconds, "VS_BANNER_SECONDS")
	overrideInt(&cfg.InterRoundSeconds, "INTER_ROUND_SECONDS")
	overrideInt(&cfg.PreFinaliseSeconds, "PRE_FINALISE_SECONDS")
	overrideInt(&cfg.DisconnectGraceSeconds, "DISCONNECT_GRACE_SECONDS")
	overrideInt(&cfg.EmojiLimitPerMatch, "EMOJI_LIMIT_PER_MATCH")
	overrideInt(&cfg.MaxNameLength, "MAX_NAME_LENGTH")
	overrideInt(&cfg.WSPort, "WS_PORT")
	overrideInt(&cfg.WinDelta, "WIN_DELTA")
	overrideInt(&cfg.LossDelta, "LOSS_DELTA")
	overrideInt(&cfg.DrawDelta, "DRAW_DELTA")
	overrideInt(&cfg.RatingFloor, "RATING_FLOOR")
	overrideInt(&cfg.LevelDivisor, "LEVEL_DIVISOR")
	overrideString(&cfg.AuthJWKSBaseURL, "AUTH_JWKS_BASE_URL")
	overrideString(&cfg.DatabaseURL, "DATABASE_URL")

	return cfg
}

func overrideInt(field *int, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			*field = n
		} else {
			log.Printf("Warning: invalid value for %s: %q", envKey, val)
		}
	}
}

func overrideString(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}
