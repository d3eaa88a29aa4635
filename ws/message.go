package ws

import "encoding/json"

// InboundEnvelope is the generic envelope for all client-to-server messages.
// Action is used for routing; Raw holds the full JSON payload. Inbound frames
// use "action" rather than "type" (outbound frames use "type") so a client
// can tell which direction a frame travels from its discriminator key alone.
type InboundEnvelope struct {
	Action string          `json:"action"`
	Raw    json.RawMessage `json:"-"`
}

// UnmarshalJSON implements custom unmarshaling to capture the raw payload.
func (e *InboundEnvelope) UnmarshalJSON(data []byte) error {
	type actionOnly struct {
		Action string `json:"action"`
	}
	var a actionOnly
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	e.Action = a.Action
	e.Raw = json.RawMessage(data)
	return nil
}

// --- Client-to-Server message payloads ---

// AuthMsg is an inbound frame carrying a bearer JWT. No session handler reads
// it: the token is taken from the connect request's query string instead.
type AuthMsg struct {
	Action string `json:"action"`
	Token  string `json:"token"`
}

// CancelMsg cancels matchmaking while waiting for a pair.
type CancelMsg struct {
	Action string `json:"action"`
}

// ReadyMsg is sent once a game session is open; no explicit readiness
// handshake is required to start a match (both sessions connecting is the
// signal), but the action is still accepted so clients can confirm their UI
// is ready without affecting the state machine.
type ReadyMsg struct {
	Action string `json:"action"`
}

// AnswerMsg is sent by a player to answer the current round.
type AnswerMsg struct {
	Action string  `json:"action"`
	Round  int     `json:"round"`
	Answer string  `json:"answer"` // "A", "B", "C", or "D"
	Time   float64 `json:"time"`   // client-reported latency in seconds
}

// EmojiMsg sends a reaction to the opponent.
type EmojiMsg struct {
	Action string `json:"action"`
	Emoji  string `json:"emoji"`
}

// --- Server-to-Client messages ---

// ErrorMsg is sent when a client action is invalid or rejected.
type ErrorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// MatchmakingStartMsg confirms the player has been parked in the queue.
type MatchmakingStartMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// MatchmakingCancelledMsg confirms a cancel was processed.
type MatchmakingCancelledMsg struct {
	Type string `json:"type"`
}

// MatchInfo describes a paired match for the match_found frame.
type MatchInfo struct {
	ID          string `json:"id"`
	Player1     string `json:"player1"`
	Player2     string `json:"player2"`
	TotalRounds int    `json:"total_rounds"`
}

// MatchFoundMsg is sent to both players once matchmaking pairs them.
type MatchFoundMsg struct {
	Type  string    `json:"type"`
	Match MatchInfo `json:"match"`
}

// PairingFailedMsg is sent to both players if match creation fails.
type PairingFailedMsg struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// ConnectedMsg confirms a game session has joined its match.
type ConnectedMsg struct {
	Type         string `json:"type"`
	MatchID      string `json:"match_id"`
	PlayersReady int    `json:"players_ready"`
}

// GameStartMsg announces the match is starting.
type GameStartMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// QuestionView is the question payload sent at round start; the correct
// option is withheld until round_end.
type QuestionView struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Options  map[string]string `json:"options"`
	Category string            `json:"category"`
}

// QuestionStartMsg announces a new round.
type QuestionStartMsg struct {
	Type     string       `json:"type"`
	Round    int          `json:"round"`
	Question QuestionView `json:"question"`
}

// AnswerSubmittedMsg tells both players that one of them has answered,
// without revealing the choice.
type AnswerSubmittedMsg struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

// PlayerRoundResult is one player's outcome within a round_end frame.
type PlayerRoundResult struct {
	Answer  string `json:"answer"`
	Time    float64 `json:"time"`
	Score   int    `json:"score"`
	Correct bool   `json:"correct"`
}

// RoundResultView carries the revealed answer and both players' outcomes.
type RoundResultView struct {
	CorrectAnswer string                       `json:"correct_answer"`
	Explanation   string                       `json:"explanation"`
	Players       map[string]PlayerRoundResult `json:"players"`
	TotalScores   map[string]int               `json:"total_scores"`
}

// RoundEndMsg is broadcast once a round is scored.
type RoundEndMsg struct {
	Type   string          `json:"type"`
	Round  int             `json:"round"`
	Result RoundResultView `json:"result"`
}

// PlayerFinalView is one player's outcome in the match_end frame.
type PlayerFinalView struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Score     int    `json:"score"`
	NewRating int    `json:"new_rating"`
}

// RoundReviewView is one round's full record in the match_end review list.
type RoundReviewView struct {
	Round         int    `json:"round"`
	QuestionID    string `json:"question_id"`
	CorrectAnswer string `json:"correct_answer"`
	Player1Answer string `json:"player1_answer"`
	Player2Answer string `json:"player2_answer"`
	Player1Score  int    `json:"player1_score"`
	Player2Score  int    `json:"player2_score"`
}

// MatchEndResult is the body of the match_end frame.
type MatchEndResult struct {
	WinnerID string            `json:"winner_id,omitempty"`
	Player1  PlayerFinalView   `json:"player1"`
	Player2  PlayerFinalView   `json:"player2"`
	Rounds   []RoundReviewView `json:"rounds"`
}

// MatchEndMsg is sent once to each player when the match finishes.
type MatchEndMsg struct {
	Type   string         `json:"type"`
	Result MatchEndResult `json:"result"`
}

// EmojiReceivedMsg delivers an opponent's reaction.
type EmojiReceivedMsg struct {
	Type  string `json:"type"`
	Emoji string `json:"emoji"`
}
