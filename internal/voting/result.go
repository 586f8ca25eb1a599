package voting

import (
	"errors"

	"github.com/park285/trick-battle/internal/domain"
)

// User-facing messages for infrastructure failures. Internal detail never leaks into results.
const (
	msgCastFailed = "Failed to cast vote"
	msgInitFailed = "Failed to initialize voting"
)

// VoteResult is the outcome of CastVote. Exactly one of these shapes is produced:
// failure (Success=false, Error set), already processed, pending, or completed.
type VoteResult struct {
	Success          bool           `json:"success"`
	Error            string         `json:"error,omitempty"`
	AlreadyProcessed bool           `json:"already_processed,omitempty"`
	BattleComplete   bool           `json:"battle_complete"`
	WinnerID         string         `json:"winner_id,omitempty"`
	FinalScore       map[string]int `json:"final_score,omitempty"`

	// Err carries the sentinel behind a failure for errors.Is checks.
	Err error `json:"-"`
}

// InitResult is the outcome of Initialize.
type InitResult struct {
	Success            bool   `json:"success"`
	Error              string `json:"error,omitempty"`
	AlreadyInitialized bool   `json:"already_initialized"`

	Err error `json:"-"`
}

func voteFailure(err error) VoteResult {
	return VoteResult{Error: capitalize(err.Error()), Err: err}
}

func internalVoteFailure(err error) VoteResult {
	return VoteResult{Error: msgCastFailed, Err: err}
}

func initFailure(err error) InitResult {
	return InitResult{Error: capitalize(err.Error()), Err: err}
}

// IsValidation reports whether err is an expected, client-driven rejection.
func IsValidation(err error) bool {
	for _, target := range []error{
		domain.ErrInvalidArgs, domain.ErrInvalidChoice, domain.ErrBattleNotFound,
		domain.ErrVotingNotActive, domain.ErrDeadlinePassed, domain.ErrNotParticipant, domain.ErrSelfMatch,
		domain.ErrBattleCompleted,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func capitalize(s string) string {
	if s == "" || s[0] < 'a' || s[0] > 'z' {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
