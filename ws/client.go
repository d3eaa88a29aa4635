package ws

import (
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"quizduel-server/auth"
	"quizduel-server/matcherrors"
	"quizduel-server/wsutil"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// SessionRole distinguishes the two session kinds a Client can be.
type SessionRole int

const (
	RoleMatchmaking SessionRole = iota
	RoleGame
)

// Client is a middleman between one websocket connection and the rest of the
// core. It is non-owning: the Matchmaker owns the pairing queue, the Match
// Engine owns match state; Client only holds enough to route inbound frames
// and a Send channel the owner can broadcast through.
type Client struct {
	Hub           *Hub
	Conn          *websocket.Conn
	Send          chan []byte
	UserID        string
	Name          string
	Authenticated bool

	Role SessionRole

	// MatchID and PlayerIdx are set once a game session joins its Match Engine.
	MatchID   string
	PlayerIdx int
	Engine    MatchEngine
}

// ReadPump pumps messages from the websocket connection to the hub.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("websocket read error", "tag", "ws", "err", err)
			}
			break
		}
		c.handleMessage(message)
	}
}

// WritePump pumps messages from the send channel to the websocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(data []byte) {
	var envelope InboundEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return // malformed frame: dropped silently, no close
	}

	if c.Role == RoleMatchmaking {
		switch envelope.Action {
		case "cancel":
			c.Hub.Matchmaker.Cancel(c)
		}
		return
	}

	switch envelope.Action {
	case "ready":
		if c.Engine != nil {
			c.Engine.Ready(c.PlayerIdx)
		}
	case "answer":
		c.handleAnswer(envelope.Raw)
	case "emoji":
		c.handleEmoji(envelope.Raw)
	}
}

func (c *Client) handleAnswer(raw json.RawMessage) {
	var msg AnswerMsg
	if err := json.Unmarshal(raw, &msg); err != nil || c.Engine == nil {
		return
	}
	c.Engine.Answer(c.PlayerIdx, msg.Round, msg.Answer, msg.Time)
}

func (c *Client) handleEmoji(raw json.RawMessage) {
	var msg EmojiMsg
	if err := json.Unmarshal(raw, &msg); err != nil || c.Engine == nil {
		return
	}
	c.Engine.Emoji(c.PlayerIdx, msg.Emoji)
}

func (c *Client) sendError(message string) {
	msg := ErrorMsg{Type: "error", Message: message}
	data, _ := json.Marshal(msg)
	wsutil.SafeSend(c.Send, data)
}

// authenticate validates a bearer token extracted from the connect request
// (query parameter, since a browser WebSocket client cannot set a header).
// An empty jwksBaseURL disables auth, for tests and local dev.
func authenticate(jwksBaseURL, token string) (userID, name string, err error) {
	if jwksBaseURL == "" {
		return "", "", nil
	}
	if token == "" {
		return "", "", matcherrors.ErrUnauthenticated
	}
	claims, err := auth.ValidateToken(jwksBaseURL, token)
	if err != nil {
		return "", "", errors.Join(matcherrors.ErrUnauthenticated, err)
	}
	return auth.UserIDFromClaims(claims), auth.DisplayNameFromClaims(claims), nil
}

func trimmedOrAnonymous(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "Player"
	}
	return name
}
