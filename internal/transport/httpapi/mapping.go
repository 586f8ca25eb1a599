package httpapi

import (
	"errors"
	"net/http"

	"github.com/park285/trick-battle/internal/domain"
	"github.com/park285/trick-battle/internal/voting"
	"github.com/park285/trick-battle/pkg/battledto"
)

type errMapping struct {
	err    error
	status int
	code   string
}

var errMappings = []errMapping{
	{domain.ErrInvalidArgs, http.StatusBadRequest, battledto.CodeInvalidArgs},
	{domain.ErrInvalidChoice, http.StatusBadRequest, battledto.CodeInvalidChoice},
	{domain.ErrSelfMatch, http.StatusBadRequest, battledto.CodeSelfMatch},
	{domain.ErrNotParticipant, http.StatusForbidden, battledto.CodeNotParticipant},
	{domain.ErrBattleNotFound, http.StatusNotFound, battledto.CodeNotFound},
	{domain.ErrVotingNotActive, http.StatusConflict, battledto.CodeVotingNotActive},
	{domain.ErrDeadlinePassed, http.StatusConflict, battledto.CodeDeadlinePassed},
	{domain.ErrBattleCompleted, http.StatusConflict, battledto.CodeBattleCompleted},
}

func statusFor(success bool, err error) int {
	if success {
		return http.StatusOK
	}
	for _, m := range errMappings {
		if errors.Is(err, m.err) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}

func codeFor(success bool, err error) string {
	if success {
		return ""
	}
	for _, m := range errMappings {
		if errors.Is(err, m.err) {
			return m.code
		}
	}
	return battledto.CodeInternal
}

func toInitResponse(res voting.InitResult) battledto.InitVotingResponse {
	return battledto.InitVotingResponse{
		Success:            res.Success,
		AlreadyInitialized: res.AlreadyInitialized,
		Error:              res.Error,
		Code:               codeFor(res.Success, res.Err),
	}
}

func toVoteResponse(res voting.VoteResult) battledto.VoteResponse {
	return battledto.VoteResponse{
		Success:          res.Success,
		AlreadyProcessed: res.AlreadyProcessed,
		BattleComplete:   res.BattleComplete,
		WinnerID:         res.WinnerID,
		FinalScore:       res.FinalScore,
		Error:            res.Error,
		Code:             codeFor(res.Success, res.Err),
	}
}

func toStateDTO(st *domain.VoteState) *battledto.VoteState {
	votes := make([]battledto.VoteEntry, 0, len(st.Votes))
	for _, v := range st.Votes {
		votes = append(votes, battledto.VoteEntry{ParticipantID: v.ParticipantID, Choice: string(v.Choice), VotedAt: v.VotedAt})
	}
	return &battledto.VoteState{
		BattleID:        st.BattleID,
		CreatorID:       st.CreatorID,
		OpponentID:      st.OpponentID,
		Status:          string(st.Status),
		Votes:           votes,
		VotingStartedAt: st.VotingStartedAt,
		VoteDeadlineAt:  st.VoteDeadlineAt,
		WinnerID:        st.WinnerID,
	}
}
