package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/park285/trick-battle/internal/domain"
	"github.com/park285/trick-battle/internal/voting"
	"github.com/park285/trick-battle/pkg/battledto"
)

const maxBodyBytes = 1 << 16

func (h *Handler) InitVoting(w http.ResponseWriter, r *http.Request) {
	var req battledto.InitVotingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res := h.engine.Initialize(r.Context(), req.EventID, chi.URLParam(r, "battleID"), req.CreatorID, req.OpponentID)
	resp := toInitResponse(res)
	writeJSON(w, statusFor(res.Success, res.Err), resp)
}

func (h *Handler) CastVote(w http.ResponseWriter, r *http.Request) {
	var req battledto.CastVoteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	battleID := chi.URLParam(r, "battleID")
	resp, status := h.castVote(r, battleID, req)
	writeJSON(w, status, resp)
}

func (h *Handler) castVote(r *http.Request, battleID string, req battledto.CastVoteRequest) (battledto.VoteResponse, int) {
	eventID := strings.TrimSpace(req.EventID)
	if eventID == "" {
		eventID = voting.GenerateEventID(voting.EventKindVote, strings.TrimSpace(req.ParticipantID), strings.TrimSpace(battleID), "")
	}
	choice, _ := domain.ParseChoice(req.Choice)
	res := h.engine.CastVote(r.Context(), eventID, battleID, req.ParticipantID, choice)
	resp := toVoteResponse(res)
	resp.EventID = eventID
	return resp, statusFor(res.Success, res.Err)
}

func (h *Handler) VoteState(w http.ResponseWriter, r *http.Request) {
	st, status, errResp := h.loadState(r, chi.URLParam(r, "battleID"))
	if errResp != nil {
		writeJSON(w, status, errResp)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) loadState(r *http.Request, battleID string) (*battledto.VoteState, int, *battledto.ErrorResponse) {
	st, err := h.engine.State(r.Context(), battleID)
	switch {
	case errors.Is(err, domain.ErrInvalidArgs):
		return nil, http.StatusBadRequest, &battledto.ErrorResponse{Error: "Invalid arguments", Code: battledto.CodeInvalidArgs}
	case err != nil:
		h.logger.Error("vote_state_read_failed", zap.String("battle_id", battleID), zap.Error(err))
		return nil, http.StatusInternalServerError, &battledto.ErrorResponse{Error: "Failed to load vote state", Code: battledto.CodeInternal}
	case st == nil:
		return nil, http.StatusNotFound, &battledto.ErrorResponse{Error: "Battle not found", Code: battledto.CodeNotFound}
	}
	return toStateDTO(st), http.StatusOK, nil
}

func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	if h.sweeper == nil {
		writeJSON(w, http.StatusNotFound, battledto.ErrorResponse{Error: "Sweeper disabled"})
		return
	}
	report := h.sweeper.ProcessExpired(r.Context())
	status := http.StatusOK
	if report.Error != "" {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, report)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, battledto.ErrorResponse{Error: "Invalid request body", Code: battledto.CodeInvalidArgs})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
