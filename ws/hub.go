package ws

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"quizduel-server/config"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// MatchEngine is the subset of a Match Engine a game session dispatches
// inbound frames to. Defined here rather than imported from the match
// package so ws never depends on match's concrete Engine type.
type MatchEngine interface {
	// Join attaches a game session's sink for playerIdx and triggers the
	// engine's connected/game_start broadcast once both players have joined.
	Join(playerIdx int, sink chan []byte)
	Ready(playerIdx int)
	Answer(playerIdx, round int, choice string, latencySeconds float64)
	Emoji(playerIdx int, emoji string)
	Disconnect(playerIdx int)
}

// MatchmakerInterface is what the Hub needs from the Matchmaker.
type MatchmakerInterface interface {
	Enqueue(c *Client)
	Cancel(c *Client)
	OnDisconnect(c *Client)
	Join(matchID, userID string) (engine MatchEngine, playerIdx int, err error)
}

// Hub maintains the set of active clients and routes connection lifecycle
// events to the Matchmaker and to joined Match Engines.
type Hub struct {
	Clients    map[*Client]bool
	Register   chan *Client
	Unregister chan *Client
	Matchmaker MatchmakerInterface
	Config     *config.Config
}

// NewHub creates a new Hub.
func NewHub(cfg *config.Config, mm MatchmakerInterface) *Hub {
	return &Hub{
		Clients:    make(map[*Client]bool),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Matchmaker: mm,
		Config:     cfg,
	}
}

// Run starts the hub's main loop. Should be run as a goroutine.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			slog.Info("hub shutdown signal received", "tag", "ws")
			return

		case client := <-h.Register:
			h.Clients[client] = true

		case client := <-h.Unregister:
			if _, ok := h.Clients[client]; ok {
				delete(h.Clients, client)
				close(client.Send)
				switch client.Role {
				case RoleMatchmaking:
					h.Matchmaker.OnDisconnect(client)
				case RoleGame:
					if client.Engine != nil {
						client.Engine.Disconnect(client.PlayerIdx)
					}
				}
			}
		}
	}
}

// ServeMatchmaking handles the matchmaking session upgrade: GET /ws/matchmaking?token=...
func (h *Hub) ServeMatchmaking(w http.ResponseWriter, r *http.Request) {
	userID, name, err := authenticate(h.Config.AuthJWKSBaseURL, r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	if h.Config.AuthJWKSBaseURL == "" {
		userID = r.URL.Query().Get("user_id")
		name = trimmedOrAnonymous(r.URL.Query().Get("name"))
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "tag", "ws", "err", err)
		return
	}

	client := &Client{
		Hub:           h,
		Conn:          conn,
		Send:          make(chan []byte, 256),
		UserID:        userID,
		Name:          name,
		Authenticated: true,
		Role:          RoleMatchmaking,
	}

	h.Register <- client
	go client.WritePump()
	go client.ReadPump()

	h.Matchmaker.Enqueue(client)
}

// ServeGame handles the game session upgrade: GET /ws/game/{matchID}?token=...
func (h *Hub) ServeGame(w http.ResponseWriter, r *http.Request, matchID string) {
	userID, name, err := authenticate(h.Config.AuthJWKSBaseURL, r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	if h.Config.AuthJWKSBaseURL == "" {
		userID = r.URL.Query().Get("user_id")
		name = trimmedOrAnonymous(r.URL.Query().Get("name"))
	}

	engine, playerIdx, err := h.Matchmaker.Join(matchID, userID)
	if err != nil {
		http.Error(w, "not a participant", http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "tag", "ws", "err", err)
		return
	}

	client := &Client{
		Hub:           h,
		Conn:          conn,
		Send:          make(chan []byte, 256),
		UserID:        userID,
		Name:          name,
		Authenticated: true,
		Role:          RoleGame,
		MatchID:       matchID,
		PlayerIdx:     playerIdx,
		Engine:        engine,
	}

	h.Register <- client
	go client.WritePump()
	go client.ReadPump()

	engine.Join(playerIdx, client.Send)
}

// MatchIDFromPath extracts the match id from a "/ws/game/<id>" request path.
func MatchIDFromPath(path string) string {
	const prefix = "/ws/game/"
	if !strings.HasPrefix(path, prefix) {
		return ""
	}
	return strings.TrimPrefix(path, prefix)
}
