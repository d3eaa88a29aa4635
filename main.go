package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"quizduel-server/config"
	"quizduel-server/loghandler"
	"quizduel-server/matchmaking"
	"quizduel-server/questions"
	"quizduel-server/rating"
	"quizduel-server/storage"
	"quizduel-server/ws"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Print("No .env file found; using environment variables.")
	}

	slog.SetDefault(slog.New(loghandler.NewCompactHandler(os.Stdout, slog.LevelInfo)))

	cfg := config.Load()

	storage.Policy = rating.Policy{
		WinDelta:     cfg.WinDelta,
		LossDelta:    cfg.LossDelta,
		DrawDelta:    cfg.DrawDelta,
		RatingFloor:  cfg.RatingFloor,
		LevelDivisor: cfg.LevelDivisor,
	}

	if cfg.AuthJWKSBaseURL == "" {
		slog.Warn("auth disabled: AUTH_JWKS_BASE_URL is not set; connections authenticate via query params instead of a JWT", "tag", "main")
	} else {
		slog.Info("auth configured", "tag", "main", "jwks_base_url", cfg.AuthJWKSBaseURL)
	}

	slog.Info("configuration loaded", "tag", "main",
		"total_rounds", cfg.TotalRounds,
		"round_timeout_seconds", cfg.RoundTimeoutSeconds,
		"disconnect_grace_seconds", cfg.DisconnectGraceSeconds,
		"ws_port", cfg.WSPort,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	if store != nil {
		defer store.Close()
	}

	questionRepo := questions.NewRepository(store.Pool())

	mm := matchmaking.NewMatchmaker(cfg, store, questionRepo)

	hub := ws.NewHub(cfg, mm)
	go hub.Run(ctx)

	http.HandleFunc("/ws/matchmaking", hub.ServeMatchmaking)
	http.HandleFunc("/ws/game/", func(w http.ResponseWriter, r *http.Request) {
		matchID := ws.MatchIDFromPath(r.URL.Path)
		if matchID == "" {
			http.NotFound(w, r)
			return
		}
		hub.ServeGame(w, r, matchID)
	})

	addr := fmt.Sprintf(":%d", cfg.WSPort)
	slog.Info("quiz duel server listening", "tag", "main", "addr", addr)
	log.Fatal(http.ListenAndServe(addr, nil))
}
