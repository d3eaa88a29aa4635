// Package match implements the Match Engine: one goroutine per live match
// that owns the round state machine, arbitrates answers, runs the round and
// inter-phase timers, and commits the final result. Grounded on the
// teacher's game.Game — the single-goroutine, serialized-Actions-channel
// design is kept; the card-flipping turn logic is replaced with the
// round/question state machine this domain needs.
package match

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"quizduel-server/config"
	"quizduel-server/questions"
	"quizduel-server/scoring"
	"quizduel-server/storage"
	"quizduel-server/ws"
	"quizduel-server/wsutil"
)

// State is a Match Engine's position in the round state machine.
type State int

const (
	Lobby State = iota
	RoundActive
	RoundReveal
	Finalising
	Completed
	AbortedByDisconnect
)

type actionKind int

const (
	actJoin actionKind = iota
	actReady
	actAnswer
	actEmoji
	actDisconnect
	actRoundTimeout
	actBeginMatch
	actStartNextRound
	actFinalize
	actDisconnectGraceExpired
)

type action struct {
	kind       actionKind
	playerIdx  int
	sink       chan []byte
	round      int // for answer/timeout: the round this action applies to
	choice     string
	latencySec float64
	emoji      string
}

// player is one seat's identity and outbound sink.
type player struct {
	userID     string
	name       string
	sink       chan []byte
	emojiSent  int
	disconnect time.Time // zero = connected
}

// roundAnswer is one player's submission for the round currently active.
type roundAnswer struct {
	submitted bool
	choice    string
	latency   time.Duration
}

// roundReview is one finished round's record, kept for the match_end summary.
type roundReview struct {
	round         int
	questionID    string
	correctAnswer string
	explanation   string
	player1Answer string
	player2Answer string
	player1Score  int
	player2Score  int
}

// Engine owns one match's state exclusively; all mutation happens on the
// goroutine running Run, reached only through the Actions channel.
type Engine struct {
	MatchID   string
	cfg       *config.Config
	gateway   storage.Gateway
	questions []questions.Question

	players [2]player
	seated  [2]atomic.Bool // set once a seat's session has joined; reconnection is not implemented

	state        State
	playersJoined int
	currentRound int // 1-based index into questions; 0 before first round
	roundStarted time.Time
	answers      [2]roundAnswer
	scores       [2]int
	reviews      []roundReview

	roundTimerCancel    chan struct{}
	disconnectTimerCancel chan struct{}

	actions chan action
	done    chan struct{}

	// OnFinished is called exactly once when the engine stops, so the
	// Matchmaker can remove it from its registry.
	OnFinished func()
}

// NewEngine constructs a Match Engine for a freshly created match. qs must
// have exactly cfg.TotalRounds entries, in round-draw order.
func NewEngine(matchID string, cfg *config.Config, gw storage.Gateway, player1ID, player1Name, player2ID, player2Name string, qs []questions.Question) *Engine {
	return &Engine{
		MatchID:   matchID,
		cfg:       cfg,
		gateway:   gw,
		questions: qs,
		players: [2]player{
			{userID: player1ID, name: player1Name},
			{userID: player2ID, name: player2Name},
		},
		state:   Lobby,
		actions: make(chan action, 32),
		done:    make(chan struct{}),
	}
}

// Join attaches a game session's sink for playerIdx. Implements ws.MatchEngine.
func (e *Engine) Join(playerIdx int, sink chan []byte) {
	e.post(action{kind: actJoin, playerIdx: playerIdx, sink: sink})
}

// Ready implements ws.MatchEngine. No explicit readiness handshake gates the
// state machine (both sessions joining is the readiness signal), so this is
// accepted and otherwise ignored.
func (e *Engine) Ready(playerIdx int) {
	e.post(action{kind: actReady, playerIdx: playerIdx})
}

// Answer implements ws.MatchEngine.
func (e *Engine) Answer(playerIdx, round int, choice string, latencySeconds float64) {
	e.post(action{kind: actAnswer, playerIdx: playerIdx, round: round, choice: choice, latencySec: latencySeconds})
}

// Emoji implements ws.MatchEngine.
func (e *Engine) Emoji(playerIdx int, emoji string) {
	e.post(action{kind: actEmoji, playerIdx: playerIdx, emoji: emoji})
}

// Disconnect implements ws.MatchEngine.
func (e *Engine) Disconnect(playerIdx int) {
	e.post(action{kind: actDisconnect, playerIdx: playerIdx})
}

// SeatTaken reports whether playerIdx's seat has already been joined once.
// Safe to call from any goroutine. Reconnection is not implemented: once a
// seat is taken, a later join attempt for the same seat must be rejected
// rather than spliced into the live match, so the Matchmaker checks this
// before handing out a fresh session for matchID.
func (e *Engine) SeatTaken(playerIdx int) bool {
	if playerIdx < 0 || playerIdx > 1 {
		return true
	}
	return e.seated[playerIdx].Load()
}

func (e *Engine) post(a action) {
	select {
	case e.actions <- a:
	case <-e.done:
	}
}

// Run is the engine's main loop; it must run as a goroutine. It processes
// one action at a time, the same single-writer design as the teacher's
// Game.Run.
func (e *Engine) Run() {
	defer close(e.done)
	defer func() {
		if e.OnFinished != nil {
			e.OnFinished()
		}
	}()

	for a := range e.actions {
		switch a.kind {
		case actJoin:
			e.handleJoin(a.playerIdx, a.sink)
		case actReady:
			// no state transition; both-sessions-joined already drives start
		case actAnswer:
			e.handleAnswer(a.playerIdx, a.round, a.choice, a.latencySec)
		case actEmoji:
			e.handleEmoji(a.playerIdx, a.emoji)
		case actDisconnect:
			e.handleDisconnect(a.playerIdx)
		case actRoundTimeout:
			e.handleRoundTimeout(a.round)
		case actBeginMatch:
			e.handleBeginMatch()
		case actStartNextRound:
			e.handleStartNextRound()
		case actFinalize:
			e.handlePreFinalise()
		case actDisconnectGraceExpired:
			e.handleDisconnectGraceExpired()
		}
		if e.state == Completed {
			return
		}
	}
}

func (e *Engine) handleJoin(playerIdx int, sink chan []byte) {
	if playerIdx < 0 || playerIdx > 1 {
		return
	}
	e.seated[playerIdx].Store(true)
	e.players[playerIdx].sink = sink
	e.players[playerIdx].disconnect = time.Time{}
	e.send(playerIdx, ws.ConnectedMsg{Type: "connected", MatchID: e.MatchID, PlayersReady: e.playersJoined + 1})

	if e.playersJoined == 0 {
		e.playersJoined = 1
		return
	}
	e.playersJoined = 2
	e.broadcast(ws.GameStartMsg{Type: "game_start", Message: "Match starting"})
	e.scheduleAfter(time.Duration(e.cfg.VSBannerSeconds)*time.Second, actBeginMatch)
}

func (e *Engine) handleBeginMatch() {
	if e.state != Lobby {
		return
	}
	e.state = RoundActive
	e.startRound()
}

func (e *Engine) startRound() {
	e.currentRound++
	e.answers = [2]roundAnswer{}
	e.roundStarted = time.Now()

	q := e.questions[e.currentRound-1]
	e.broadcast(ws.QuestionStartMsg{
		Type:  "question_start",
		Round: e.currentRound,
		Question: ws.QuestionView{
			ID:       q.ID,
			Text:     q.Text,
			Options:  q.Options(),
			Category: q.Category,
		},
	})

	capturedRound := e.currentRound
	e.roundTimerCancel = make(chan struct{})
	cancel := e.roundTimerCancel
	deadline := time.Duration(e.cfg.RoundTimeoutSeconds) * time.Second
	go func(round int) {
		select {
		case <-time.After(deadline):
			e.post(action{kind: actRoundTimeout, round: round})
		case <-cancel:
		case <-e.done:
		}
	}(capturedRound)
}

func (e *Engine) cancelRoundTimer() {
	if e.roundTimerCancel != nil {
		close(e.roundTimerCancel)
		e.roundTimerCancel = nil
	}
}

func (e *Engine) handleAnswer(playerIdx, round int, choice string, latencySeconds float64) {
	if e.state != RoundActive || round != e.currentRound {
		return
	}
	if playerIdx < 0 || playerIdx > 1 || e.answers[playerIdx].submitted {
		return
	}
	elapsed := time.Since(e.roundStarted)
	latency := time.Duration(latencySeconds * float64(time.Second))
	if latency < elapsed {
		latency = elapsed // clamp: a client can only understate its own latency
	}
	e.answers[playerIdx] = roundAnswer{submitted: true, choice: choice, latency: latency}
	e.broadcast(ws.AnswerSubmittedMsg{Type: "answer_submitted", UserID: e.players[playerIdx].userID})

	if e.answers[0].submitted && e.answers[1].submitted {
		e.cancelRoundTimer()
		e.endRound()
	}
}

func (e *Engine) handleRoundTimeout(round int) {
	if e.state != RoundActive || round != e.currentRound {
		return
	}
	e.roundTimerCancel = nil
	e.endRound()
}

// endRound scores the round, persists it, and broadcasts round_end.
func (e *Engine) endRound() {
	q := e.questions[e.currentRound-1]
	timeout := time.Duration(e.cfg.RoundTimeoutSeconds) * time.Second

	result := storage.RoundResult{RoundNumber: e.currentRound}
	players := make(map[string]ws.PlayerRoundResult, 2)
	totals := make(map[string]int, 2)

	for i := 0; i < 2; i++ {
		ans := e.answers[i]
		latency := timeout
		correct := false
		choice := ""
		if ans.submitted {
			latency = ans.latency
			choice = ans.choice
			correct = ans.choice == q.CorrectOption
		}
		points := scoring.Points(correct, latency)
		e.scores[i] += points

		secs := latency.Seconds()
		if i == 0 {
			result.Player1Score = points
			result.Player1Time = &secs
			if ans.submitted {
				result.Player1Answer = &choice
			}
		} else {
			result.Player2Score = points
			result.Player2Time = &secs
			if ans.submitted {
				result.Player2Answer = &choice
			}
		}

		players[e.players[i].userID] = ws.PlayerRoundResult{Answer: choice, Time: latency.Seconds(), Score: points, Correct: correct}
		totals[e.players[i].userID] = e.scores[i]
	}

	e.withRetry("record round result", func(ctx context.Context) error {
		return e.gateway.RecordRoundResult(ctx, e.MatchID, result)
	})

	p1Answer, p2Answer := "", ""
	if result.Player1Answer != nil {
		p1Answer = *result.Player1Answer
	}
	if result.Player2Answer != nil {
		p2Answer = *result.Player2Answer
	}
	e.reviews = append(e.reviews, roundReview{
		round:         e.currentRound,
		questionID:    q.ID,
		correctAnswer: q.CorrectOption,
		explanation:   q.Explanation,
		player1Answer: p1Answer,
		player2Answer: p2Answer,
		player1Score:  result.Player1Score,
		player2Score:  result.Player2Score,
	})

	e.broadcast(ws.RoundEndMsg{
		Type:  "round_end",
		Round: e.currentRound,
		Result: ws.RoundResultView{
			CorrectAnswer: q.CorrectOption,
			Explanation:   q.Explanation,
			Players:       players,
			TotalScores:   totals,
		},
	})

	e.state = RoundReveal
	if e.currentRound >= len(e.questions) {
		e.scheduleAfter(time.Duration(e.cfg.PreFinaliseSeconds)*time.Second, actFinalize)
	} else {
		e.scheduleAfter(time.Duration(e.cfg.InterRoundSeconds)*time.Second, actStartNextRound)
	}
}

func (e *Engine) handlePreFinalise() {
	if e.state != RoundReveal {
		return
	}
	e.state = Finalising
	e.handleFinalize(false)
}

func (e *Engine) handleStartNextRound() {
	if e.state != RoundReveal {
		return
	}
	e.state = RoundActive
	e.startRound()
}

func (e *Engine) handleEmoji(playerIdx int, emoji string) {
	if playerIdx < 0 || playerIdx > 1 || emoji == "" {
		return
	}
	if e.players[playerIdx].emojiSent >= e.cfg.EmojiLimitPerMatch {
		return
	}
	e.players[playerIdx].emojiSent++
	other := 1 - playerIdx
	e.send(other, ws.EmojiReceivedMsg{Type: "emoji_received", Emoji: emoji})
}

// handleDisconnect records a session going away. The match continues with
// the remaining player; only once BOTH are absent does the grace timer
// start, forcing finalisation if neither returns in time. Reconnection is
// not implemented, so there is nothing to do beyond that when one side
// comes back: it cannot, short of a fresh match.
func (e *Engine) handleDisconnect(playerIdx int) {
	if playerIdx < 0 || playerIdx > 1 {
		return
	}
	e.players[playerIdx].disconnect = time.Now()
	e.players[playerIdx].sink = nil

	if e.players[0].disconnect.IsZero() || e.players[1].disconnect.IsZero() {
		return // only one side is gone; the match proceeds
	}
	if e.disconnectTimerCancel != nil {
		return // grace timer already running
	}

	grace := time.Duration(e.cfg.DisconnectGraceSeconds) * time.Second
	e.disconnectTimerCancel = make(chan struct{})
	cancel := e.disconnectTimerCancel
	go func() {
		select {
		case <-time.After(grace):
			e.post(action{kind: actDisconnectGraceExpired})
		case <-cancel:
		case <-e.done:
		}
	}()
}

func (e *Engine) handleDisconnectGraceExpired() {
	if e.state == Completed {
		return
	}
	e.disconnectTimerCancel = nil
	if e.players[0].disconnect.IsZero() || e.players[1].disconnect.IsZero() {
		return // one of them reconnected in practice (no-op; reconnection is a non-goal but guard anyway)
	}
	e.cancelRoundTimer()
	e.state = AbortedByDisconnect
	e.handleFinalize(true)
}

// handleFinalize determines the winner, applies ratings, persists, and
// broadcasts match_end. aborted marks a forced finalisation due to
// disconnect rather than a natural completion of every round (affects only
// internal bookkeeping; the broadcast shape is identical).
func (e *Engine) handleFinalize(aborted bool) {
	if e.state == Completed {
		return
	}
	e.cancelRoundTimer()
	if aborted {
		slog.Info("match finalised after disconnect grace expired", "tag", "match", "match_id", e.MatchID)
	}

	var result storage.FinaliseResult
	var finaliseErr error
	e.withRetry("finalise match", func(ctx context.Context) error {
		var err error
		result, err = e.gateway.FinaliseMatch(ctx, e.MatchID, e.players[0].userID, e.players[1].userID, e.scores[0], e.scores[1])
		finaliseErr = err
		return err
	})
	if finaliseErr != nil {
		// persistence failed: report the in-memory totals; new ratings are unknown
		result = storage.FinaliseResult{
			Player1: storage.PlayerFinal{UserID: e.players[0].userID, Score: e.scores[0]},
			Player2: storage.PlayerFinal{UserID: e.players[1].userID, Score: e.scores[1]},
		}
		if e.scores[0] > e.scores[1] {
			result.WinnerID = &e.players[0].userID
		} else if e.scores[1] > e.scores[0] {
			result.WinnerID = &e.players[1].userID
		}
	}

	reviews := make([]ws.RoundReviewView, len(e.reviews))
	for i, r := range e.reviews {
		reviews[i] = ws.RoundReviewView{
			Round:         r.round,
			QuestionID:    r.questionID,
			CorrectAnswer: r.correctAnswer,
			Player1Answer: r.player1Answer,
			Player2Answer: r.player2Answer,
			Player1Score:  r.player1Score,
			Player2Score:  r.player2Score,
		}
	}

	winnerID := ""
	if result.WinnerID != nil {
		winnerID = *result.WinnerID
	}
	msg := ws.MatchEndMsg{
		Type: "match_end",
		Result: ws.MatchEndResult{
			WinnerID: winnerID,
			Player1:  ws.PlayerFinalView{ID: e.players[0].userID, Username: e.players[0].name, Score: result.Player1.Score, NewRating: result.Player1.NewRating},
			Player2:  ws.PlayerFinalView{ID: e.players[1].userID, Username: e.players[1].name, Score: result.Player2.Score, NewRating: result.Player2.NewRating},
			Rounds:   reviews,
		},
	}
	e.broadcast(msg)
	e.state = Completed
}

func (e *Engine) scheduleAfter(d time.Duration, kind actionKind) {
	go func() {
		select {
		case <-time.After(d):
			e.post(action{kind: kind})
		case <-e.done:
		}
	}()
}

func (e *Engine) send(playerIdx int, v any) {
	sink := e.players[playerIdx].sink
	if sink == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("marshal outbound frame failed", "tag", "match", "err", err)
		return
	}
	wsutil.SafeSend(sink, data)
}

func (e *Engine) broadcast(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("marshal outbound frame failed", "tag", "match", "err", err)
		return
	}
	for i := 0; i < 2; i++ {
		if e.players[i].sink != nil {
			wsutil.SafeSend(e.players[i].sink, data)
		}
	}
}

// withRetry retries a persistence operation up to 3 times with the
// 50/200/500ms backoff schedule from the error-handling design; transient
// failures never block the engine goroutine for more than that window.
func (e *Engine) withRetry(label string, op func(ctx context.Context) error) {
	backoffs := []time.Duration{50 * time.Millisecond, 200 * time.Millisecond, 500 * time.Millisecond}
	var err error
	for attempt := 0; attempt <= len(backoffs); attempt++ {
		err = op(context.Background())
		if err == nil {
			return
		}
		if attempt < len(backoffs) {
			time.Sleep(backoffs[attempt])
		}
	}
	slog.Warn("persistence failed after retries", "tag", "match", "op", label, "match_id", e.MatchID, "err", err)
}
