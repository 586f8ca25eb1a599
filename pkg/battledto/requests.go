package battledto

// InitVotingRequest starts the voting window for a matched battle.
type InitVotingRequest struct {
	EventID    string `json:"event_id"`
	CreatorID  string `json:"creator_id"`
	OpponentID string `json:"opponent_id"`
}

// CastVoteRequest records one participant's verdict. EventID must be reused across
// retries of the same action; the server generates one when it is empty.
type CastVoteRequest struct {
	EventID       string `json:"event_id,omitempty"`
	ParticipantID string `json:"participant_id"`
	Choice        string `json:"choice"`
}
