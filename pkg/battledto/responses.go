package battledto

import "time"

// Error codes carried next to user-facing messages.
const (
	CodeInvalidArgs     = "invalid_args"
	CodeInvalidChoice   = "invalid_choice"
	CodeNotFound        = "battle_not_found"
	CodeNotParticipant  = "not_participant"
	CodeVotingNotActive = "voting_not_active"
	CodeDeadlinePassed  = "deadline_passed"
	CodeSelfMatch       = "self_match"
	CodeBattleCompleted = "battle_completed"
	CodeInternal        = "internal"
)

type InitVotingResponse struct {
	Success            bool   `json:"success"`
	AlreadyInitialized bool   `json:"already_initialized"`
	Error              string `json:"error,omitempty"`
	Code               string `json:"code,omitempty"`
}

type VoteResponse struct {
	Success          bool           `json:"success"`
	EventID          string         `json:"event_id,omitempty"`
	AlreadyProcessed bool           `json:"already_processed,omitempty"`
	BattleComplete   bool           `json:"battle_complete"`
	WinnerID         string         `json:"winner_id,omitempty"`
	FinalScore       map[string]int `json:"final_score,omitempty"`
	Error            string         `json:"error,omitempty"`
	Code             string         `json:"code,omitempty"`
}

type VoteEntry struct {
	ParticipantID string    `json:"participant_id"`
	Choice        string    `json:"choice"`
	VotedAt       time.Time `json:"voted_at"`
}

// VoteState is the public view of a battle's voting row. Processed event IDs stay internal.
type VoteState struct {
	BattleID        string      `json:"battle_id"`
	CreatorID       string      `json:"creator_id"`
	OpponentID      string      `json:"opponent_id"`
	Status          string      `json:"status"`
	Votes           []VoteEntry `json:"votes"`
	VotingStartedAt time.Time   `json:"voting_started_at"`
	VoteDeadlineAt  time.Time   `json:"vote_deadline_at"`
	WinnerID        string      `json:"winner_id,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
