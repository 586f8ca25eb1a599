package domain

import (
	"strings"
	"time"
)

// ContestStatus is the lifecycle of a trick battle as owned by the wider application.
type ContestStatus string

const (
	ContestWaiting   ContestStatus = "waiting"
	ContestActive    ContestStatus = "active"
	ContestVoting    ContestStatus = "voting"
	ContestCompleted ContestStatus = "completed"
)

// Valid reports whether s is one of the known contest statuses.
func (s ContestStatus) Valid() bool {
	switch s {
	case ContestWaiting, ContestActive, ContestVoting, ContestCompleted:
		return true
	default:
		return false
	}
}

// VoteStatus is the narrower status tracked on a VoteState row.
type VoteStatus string

const (
	VoteStatusVoting    VoteStatus = "voting"
	VoteStatusCompleted VoteStatus = "completed"
)

func (s VoteStatus) Valid() bool {
	switch s {
	case VoteStatusVoting, VoteStatusCompleted:
		return true
	default:
		return false
	}
}

// Choice is a participant's verdict on the opponent's trick.
type Choice string

const (
	ChoiceClean  Choice = "clean"
	ChoiceSketch Choice = "sketch"
	ChoiceRedo   Choice = "redo"
)

// ParseChoice normalizes user input. Unknown values return ok=false.
func ParseChoice(s string) (Choice, bool) {
	c := Choice(strings.ToLower(strings.TrimSpace(s)))
	return c, c.Valid()
}

func (c Choice) Valid() bool {
	switch c {
	case ChoiceClean, ChoiceSketch, ChoiceRedo:
		return true
	default:
		return false
	}
}

// AwardsOpponent reports whether the vote gives a point to the voter's opponent.
// Voters never score for themselves.
func (c Choice) AwardsOpponent() bool {
	switch c {
	case ChoiceClean:
		return true
	case ChoiceSketch, ChoiceRedo:
		return false
	default:
		return false
	}
}

// Contest is the long-lived battle record. The engine only flips its status.
type Contest struct {
	ID          string
	CreatorID   string
	OpponentID  string
	Status      ContestStatus
	WinnerID    string
	CompletedAt *time.Time
	CreatedAt   time.Time
}

// IsParticipant reports whether userID is the creator or the matched opponent.
func (c *Contest) IsParticipant(userID string) bool {
	if c == nil || strings.TrimSpace(userID) == "" {
		return false
	}
	return userID == c.CreatorID || (c.OpponentID != "" && userID == c.OpponentID)
}

// Vote is the durable per-participant record, upserted by (BattleID, ParticipantID).
type Vote struct {
	BattleID      string
	ParticipantID string
	Choice        Choice
	VotedAt       time.Time
}

// VoteEntry is one participant's vote inside a VoteState.
type VoteEntry struct {
	ParticipantID string    `json:"participant_id"`
	Choice        Choice    `json:"choice"`
	VotedAt       time.Time `json:"voted_at"`
}

// VoteState is the per-battle row owned by the voting engine.
type VoteState struct {
	BattleID          string      `json:"battle_id"`
	CreatorID         string      `json:"creator_id"`
	OpponentID        string      `json:"opponent_id"`
	Status            VoteStatus  `json:"status"`
	Votes             []VoteEntry `json:"votes"`
	VotingStartedAt   time.Time   `json:"voting_started_at"`
	VoteDeadlineAt    time.Time   `json:"vote_deadline_at"`
	WinnerID          string      `json:"winner_id,omitempty"`
	ProcessedEventIDs []string    `json:"processed_event_ids"`
}

// NewVoteState returns a fresh row in voting status with the given window.
func NewVoteState(battleID, creatorID, opponentID, eventID string, now time.Time, window time.Duration) *VoteState {
	return &VoteState{
		BattleID:          battleID,
		CreatorID:         creatorID,
		OpponentID:        opponentID,
		Status:            VoteStatusVoting,
		Votes:             []VoteEntry{},
		VotingStartedAt:   now,
		VoteDeadlineAt:    now.Add(window),
		ProcessedEventIDs: []string{eventID},
	}
}

func (s *VoteState) IsParticipant(userID string) bool {
	return userID != "" && (userID == s.CreatorID || userID == s.OpponentID)
}

// HasProcessed reports whether eventID is inside the dedup window.
func (s *VoteState) HasProcessed(eventID string) bool {
	for _, id := range s.ProcessedEventIDs {
		if id == eventID {
			return true
		}
	}
	return false
}

// RecordEvent appends eventID and drops the oldest entries beyond limit.
func (s *VoteState) RecordEvent(eventID string, limit int) {
	s.ProcessedEventIDs = append(s.ProcessedEventIDs, eventID)
	if limit > 0 && len(s.ProcessedEventIDs) > limit {
		trimmed := make([]string, limit)
		copy(trimmed, s.ProcessedEventIDs[len(s.ProcessedEventIDs)-limit:])
		s.ProcessedEventIDs = trimmed
	}
}

// PutVote replaces the participant's existing entry in place, or appends a new one.
// It returns true when an earlier vote was replaced.
func (s *VoteState) PutVote(entry VoteEntry) bool {
	for i := range s.Votes {
		if s.Votes[i].ParticipantID == entry.ParticipantID {
			s.Votes[i] = entry
			return true
		}
	}
	s.Votes = append(s.Votes, entry)
	return false
}

func (s *VoteState) HasVoted(userID string) bool {
	for _, v := range s.Votes {
		if v.ParticipantID == userID {
			return true
		}
	}
	return false
}

// BothVoted reports whether creator and opponent each have an entry.
func (s *VoteState) BothVoted() bool {
	return s.HasVoted(s.CreatorID) && s.HasVoted(s.OpponentID)
}

// Clone returns a deep copy so stores never share slices with callers.
func (s *VoteState) Clone() *VoteState {
	if s == nil {
		return nil
	}
	c := *s
	c.Votes = append([]VoteEntry(nil), s.Votes...)
	c.ProcessedEventIDs = append([]string(nil), s.ProcessedEventIDs...)
	if c.Votes == nil {
		c.Votes = []VoteEntry{}
	}
	return &c
}
