// Package matchmaking runs the single process-wide pairing queue: players
// waiting for an opponent, and the live matches that have been handed off to
// the match package. Grounded on the teacher's Matchmaker (waiting map +
// waitMu + notify-channel pattern), re-keyed from memory-game pairs to quiz
// matches and generalized to a strict FIFO queue per spec.
package matchmaking

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"quizduel-server/config"
	"quizduel-server/matcherrors"
	"quizduel-server/match"
	"quizduel-server/questions"
	"quizduel-server/storage"
	"quizduel-server/ws"
	"quizduel-server/wsutil"
)

// liveMatch is what the Matchmaker remembers about a match it handed off to
// a Match Engine, just enough to validate a game session's Join.
type liveMatch struct {
	engine  *match.Engine
	player1 string
	player2 string
}

// Matchmaker is the FIFO pairing queue plus the registry of live matches.
// All queue mutation serializes on mu, the teacher's waitMu pattern
// generalized to also guard the live-match registry (since both need to be
// consistent from a third connection's point of view: the Non-goals §1
// "at most one live match per player" invariant spans both).
type Matchmaker struct {
	mu       sync.Mutex
	queue    []*ws.Client
	byUser   map[string]*ws.Client // userID -> the client's current queue entry
	inGame   map[string]bool
	matches  map[string]*liveMatch

	cfg       *config.Config
	gateway   storage.Gateway
	questions *questions.Repository
}

// NewMatchmaker creates a Matchmaker. gateway and questionRepo must be non-nil;
// a Store with a nil pool and a Repository with a nil pool both degrade
// gracefully (see storage.Store, questions.Repository).
func NewMatchmaker(cfg *config.Config, gateway storage.Gateway, questionRepo *questions.Repository) *Matchmaker {
	return &Matchmaker{
		queue:     make([]*ws.Client, 0),
		byUser:    make(map[string]*ws.Client),
		inGame:    make(map[string]bool),
		matches:   make(map[string]*liveMatch),
		cfg:       cfg,
		gateway:   gateway,
		questions: questionRepo,
	}
}

// Enqueue adds c to the pairing queue, or immediately pairs it with the
// head waiter if one exists. Implements ws.MatchmakerInterface.
func (m *Matchmaker) Enqueue(c *ws.Client) {
	m.mu.Lock()

	if m.inGame[c.UserID] {
		m.mu.Unlock()
		m.sendError(c, matcherrors.ErrAlreadyInGame)
		return
	}

	if existing, ok := m.byUser[c.UserID]; ok {
		if existing == c {
			m.mu.Unlock()
			m.sendError(c, matcherrors.ErrAlreadyQueued)
			return
		}
		// A stale connection for the same user is sitting in the queue
		// (e.g. a duplicate tab). Replace it: the new entry takes its
		// place so the caller is never left wedged behind itself.
		m.removeFromQueueLocked(existing)
		m.sendError(existing, matcherrors.ErrSuperseded)
	}

	m.byUser[c.UserID] = c

	var opponent *ws.Client
	for len(m.queue) > 0 {
		head := m.queue[0]
		m.queue = m.queue[1:]
		if head.UserID == c.UserID {
			continue // defensive; the replace above should already prevent this
		}
		opponent = head
		break
	}

	if opponent == nil {
		m.queue = append(m.queue, c)
		m.mu.Unlock()
		m.sendMatchmakingStart(c)
		return
	}

	delete(m.byUser, opponent.UserID)
	delete(m.byUser, c.UserID)
	m.mu.Unlock()

	m.pair(opponent, c)
}

// Cancel removes c from the queue if present. Idempotent.
func (m *Matchmaker) Cancel(c *ws.Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.byUser[c.UserID] != c {
		return
	}
	m.removeFromQueueLocked(c)
	m.sendCancelled(c)
}

// OnDisconnect removes c from the queue if present; same as Cancel.
func (m *Matchmaker) OnDisconnect(c *ws.Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.byUser[c.UserID] != c {
		return
	}
	m.removeFromQueueLocked(c)
}

// removeFromQueueLocked deletes c from the queue slice and the byUser index.
// Caller must hold mu.
func (m *Matchmaker) removeFromQueueLocked(c *ws.Client) {
	delete(m.byUser, c.UserID)
	for i, q := range m.queue {
		if q == c {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return
		}
	}
}

// Join validates that userID is a participant of matchID and returns its
// Match Engine and seat index. Implements ws.MatchmakerInterface. There is no
// rejoin path: once a seat has joined once, a second join attempt for that
// seat (e.g. a disconnected player opening a fresh connection) is rejected
// rather than spliced into the live match.
func (m *Matchmaker) Join(matchID, userID string) (ws.MatchEngine, int, error) {
	m.mu.Lock()
	lm, ok := m.matches[matchID]
	m.mu.Unlock()
	if !ok {
		return nil, -1, matcherrors.ErrNotAParticipant
	}
	var idx int
	switch userID {
	case lm.player1:
		idx = 0
	case lm.player2:
		idx = 1
	default:
		return nil, -1, matcherrors.ErrNotAParticipant
	}
	if lm.engine.SeatTaken(idx) {
		return nil, -1, matcherrors.ErrNotAParticipant
	}
	return lm.engine, idx, nil
}

// pair creates the Match row, its rounds, and a running Match Engine for
// two opposing clients, and notifies both. Failure leaves both clients free
// to requeue (spec §7: pairing_failed on ErrInsufficientQuestions or a
// persistence error at creation time).
func (m *Matchmaker) pair(c1, c2 *ws.Client) {
	ctx := context.Background()

	qs, err := m.questions.Random(ctx, m.cfg.TotalRounds, "")
	if err != nil {
		slog.Warn("pairing failed: question draw", "tag", "matchmaker", "err", err)
		m.sendPairingFailed(c1, "could not prepare questions")
		m.sendPairingFailed(c2, "could not prepare questions")
		return
	}

	prepared := make([]storage.PreparedQuestion, len(qs))
	for i, q := range qs {
		prepared[i] = storage.PreparedQuestion{ID: q.ID, CorrectOption: q.CorrectOption}
	}

	matchID, err := m.gateway.CreateMatchWithRounds(ctx, c1.UserID, c2.UserID, prepared, m.cfg.TotalRounds)
	if err != nil {
		slog.Warn("pairing failed: match creation", "tag", "matchmaker", "err", err)
		m.sendPairingFailed(c1, "could not create match")
		m.sendPairingFailed(c2, "could not create match")
		return
	}
	if matchID == "" {
		matchID = uuid.New().String()
	}

	_ = m.gateway.SetInGame(ctx, c1.UserID, true)
	_ = m.gateway.SetInGame(ctx, c2.UserID, true)

	engine := match.NewEngine(matchID, m.cfg, m.gateway, c1.UserID, c1.Name, c2.UserID, c2.Name, qs)
	engine.OnFinished = func() { m.removeMatch(matchID) }

	m.mu.Lock()
	m.matches[matchID] = &liveMatch{engine: engine, player1: c1.UserID, player2: c2.UserID}
	m.inGame[c1.UserID] = true
	m.inGame[c2.UserID] = true
	m.mu.Unlock()

	slog.Info("match created", "tag", "matchmaker", "match_id", matchID, "player1", c1.Name, "player2", c2.Name)

	m.sendMatchFound(c1, matchID, c1.Name, c2.Name)
	m.sendMatchFound(c2, matchID, c1.Name, c2.Name)

	go engine.Run()
}

func (m *Matchmaker) removeMatch(matchID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lm, ok := m.matches[matchID]
	if !ok {
		return
	}
	delete(m.matches, matchID)
	delete(m.inGame, lm.player1)
	delete(m.inGame, lm.player2)

	ctx := context.Background()
	_ = m.gateway.SetInGame(ctx, lm.player1, false)
	_ = m.gateway.SetInGame(ctx, lm.player2, false)
}

func (m *Matchmaker) sendMatchmakingStart(c *ws.Client) {
	m.sendJSON(c, ws.MatchmakingStartMsg{Type: "matchmaking_start", Message: "Waiting for an opponent"})
}

func (m *Matchmaker) sendCancelled(c *ws.Client) {
	m.sendJSON(c, ws.MatchmakingCancelledMsg{Type: "matchmaking_cancelled"})
}

func (m *Matchmaker) sendMatchFound(c *ws.Client, matchID, player1, player2 string) {
	m.sendJSON(c, ws.MatchFoundMsg{
		Type: "match_found",
		Match: ws.MatchInfo{
			ID:          matchID,
			Player1:     player1,
			Player2:     player2,
			TotalRounds: m.cfg.TotalRounds,
		},
	})
}

func (m *Matchmaker) sendPairingFailed(c *ws.Client, reason string) {
	m.sendJSON(c, ws.PairingFailedMsg{Type: "pairing_failed", Reason: reason})
}

func (m *Matchmaker) sendError(c *ws.Client, err error) {
	m.sendJSON(c, ws.ErrorMsg{Type: "error", Message: err.Error()})
}

func (m *Matchmaker) sendJSON(c *ws.Client, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("marshal outbound frame failed", "tag", "matchmaker", "err", err)
		return
	}
	wsutil.SafeSend(c.Send, data)
}
