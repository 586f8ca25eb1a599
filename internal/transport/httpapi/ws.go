package httpapi

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/trick-battle/pkg/battledto"
)

// ServeWS upgrades the connection and answers each client frame with one server frame.
// Frames are handled in order; the connection closes on the first read error.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  h.originPatterns,
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		h.logger.Debug("ws_accept_failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxBodyBytes)

	ctx := r.Context()
	for {
		var frame battledto.ClientFrame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && !errors.Is(err, context.Canceled) {
				h.logger.Debug("ws_read_failed", zap.Error(err))
			}
			return
		}
		reply := h.dispatchFrame(r, frame)
		if err := wsjson.Write(ctx, conn, reply); err != nil {
			h.logger.Debug("ws_write_failed", zap.Error(err))
			return
		}
	}
}

func (h *Handler) dispatchFrame(r *http.Request, f battledto.ClientFrame) battledto.ServerFrame {
	out := battledto.ServerFrame{RequestID: f.RequestID, BattleID: f.BattleID}
	switch f.Type {
	case battledto.FrameInit:
		res := h.engine.Initialize(r.Context(), f.EventID, f.BattleID, f.CreatorID, f.OpponentID)
		resp := toInitResponse(res)
		out.Type = battledto.FrameResult
		out.Init = &resp
	case battledto.FrameVote:
		resp, _ := h.castVote(r, f.BattleID, battledto.CastVoteRequest{
			EventID:       f.EventID,
			ParticipantID: f.ParticipantID,
			Choice:        f.Choice,
		})
		out.Type = battledto.FrameResult
		out.Vote = &resp
	case battledto.FrameState:
		st, _, errResp := h.loadState(r, f.BattleID)
		if errResp != nil {
			out.Type = battledto.FrameError
			out.Error = errResp
			break
		}
		out.Type = battledto.FrameState
		out.State = st
	default:
		out.Type = battledto.FrameError
		out.Error = &battledto.ErrorResponse{Error: "Unknown frame type", Code: battledto.CodeInvalidArgs}
	}
	return out
}
