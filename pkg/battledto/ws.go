package battledto

// Frame types on the /ws connection.
const (
	FrameInit   = "init"
	FrameVote   = "vote"
	FrameState  = "state"
	FrameResult = "result"
	FrameError  = "error"
)

// ClientFrame is one request sent over the websocket. Fields not used by Type are ignored.
type ClientFrame struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	BattleID  string `json:"battle_id"`

	EventID       string `json:"event_id,omitempty"`
	CreatorID     string `json:"creator_id,omitempty"`
	OpponentID    string `json:"opponent_id,omitempty"`
	ParticipantID string `json:"participant_id,omitempty"`
	Choice        string `json:"choice,omitempty"`
}

// ServerFrame answers exactly one ClientFrame.
type ServerFrame struct {
	Type      string              `json:"type"`
	RequestID string              `json:"request_id,omitempty"`
	BattleID  string              `json:"battle_id,omitempty"`
	Init      *InitVotingResponse `json:"init,omitempty"`
	Vote      *VoteResponse       `json:"vote,omitempty"`
	State     *VoteState          `json:"state,omitempty"`
	Error     *ErrorResponse      `json:"error,omitempty"`
}
