package voting

import "github.com/park285/trick-battle/internal/domain"

// Outcome is the result of scoring a completed vote set.
type Outcome struct {
	WinnerID string
	Scores   map[string]int
	// Tie is set when scores were equal and the creator won on challenger advantage.
	Tie bool
}

// CalculateWinner scores votes for a two-party battle. A clean vote awards a point to the
// voter's opponent; other choices award nothing. Equal scores go to the creator.
func CalculateWinner(votes []domain.VoteEntry, creatorID, opponentID string) Outcome {
	scores := map[string]int{creatorID: 0, opponentID: 0}
	for _, v := range votes {
		if !v.Choice.AwardsOpponent() {
			continue
		}
		switch v.ParticipantID {
		case creatorID:
			scores[opponentID]++
		case opponentID:
			scores[creatorID]++
		}
	}

	switch {
	case scores[opponentID] > scores[creatorID]:
		return Outcome{WinnerID: opponentID, Scores: scores}
	case scores[creatorID] > scores[opponentID]:
		return Outcome{WinnerID: creatorID, Scores: scores}
	default:
		return Outcome{WinnerID: creatorID, Scores: scores, Tie: true}
	}
}

// TimeoutReason explains a sweeper resolution, named after the side that failed to vote.
type TimeoutReason string

const (
	ReasonVotes           TimeoutReason = "votes"
	ReasonOpponentTimeout TimeoutReason = "opponent_timeout"
	ReasonCreatorTimeout  TimeoutReason = "creator_timeout"
	ReasonBothTimeout     TimeoutReason = "both_timeout"
)

// DecideTimeout applies the default policy for a battle whose deadline passed. A lone voter
// wins; with no votes the creator wins. If both somehow voted the normal scoring applies.
func DecideTimeout(st *domain.VoteState) (string, TimeoutReason, Outcome) {
	creatorVoted := st.HasVoted(st.CreatorID)
	opponentVoted := st.HasVoted(st.OpponentID)

	switch {
	case creatorVoted && opponentVoted:
		out := CalculateWinner(st.Votes, st.CreatorID, st.OpponentID)
		return out.WinnerID, ReasonVotes, out
	case creatorVoted:
		return st.CreatorID, ReasonOpponentTimeout, Outcome{}
	case opponentVoted:
		return st.OpponentID, ReasonCreatorTimeout, Outcome{}
	default:
		return st.CreatorID, ReasonBothTimeout, Outcome{}
	}
}
