package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/trick-battle/internal/store/memstore"
	"github.com/park285/trick-battle/internal/transport/httpapi"
	"github.com/park285/trick-battle/internal/voting"
	"github.com/park285/trick-battle/pkg/battledto"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testServer struct {
	*httptest.Server
	clock *clock
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	clk := &clock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	engine := voting.NewEngine(memstore.NewStateStore(), memstore.NewContestRepository(), memstore.NewVoteRepository(), nil,
		voting.WithClock(clk.Now), voting.WithLogger(zap.NewNop()))
	h := httpapi.NewHandler(engine, voting.NewSweeper(engine, 10), httpapi.WithLogger(zap.NewNop()))
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, clock: clk}
}

func (s *testServer) post(t *testing.T, path string, body any, out any) int {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := s.Client().Post(s.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (s *testServer) get(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := s.Client().Get(s.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestVotingFlowOverHTTP(t *testing.T) {
	s := newTestServer(t)

	var initRes battledto.InitVotingResponse
	status := s.post(t, "/api/battles/B1/voting", battledto.InitVotingRequest{EventID: "e0", CreatorID: "C", OpponentID: "O"}, &initRes)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, initRes.Success)
	assert.False(t, initRes.AlreadyInitialized)

	var vote battledto.VoteResponse
	status = s.post(t, "/api/battles/B1/votes", battledto.CastVoteRequest{EventID: "e1", ParticipantID: "C", Choice: "clean"}, &vote)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, vote.Success)
	assert.False(t, vote.BattleComplete)
	assert.Equal(t, "e1", vote.EventID)

	vote = battledto.VoteResponse{}
	status = s.post(t, "/api/battles/B1/votes", battledto.CastVoteRequest{EventID: "e1", ParticipantID: "C", Choice: "clean"}, &vote)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, vote.AlreadyProcessed)

	vote = battledto.VoteResponse{}
	status = s.post(t, "/api/battles/B1/votes", battledto.CastVoteRequest{EventID: "e2", ParticipantID: "O", Choice: "SKETCH"}, &vote)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, vote.BattleComplete)
	assert.Equal(t, "O", vote.WinnerID)
	assert.Equal(t, map[string]int{"C": 0, "O": 1}, vote.FinalScore)

	var st battledto.VoteState
	status = s.get(t, "/api/battles/B1/vote-state", &st)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "completed", st.Status)
	assert.Equal(t, "O", st.WinnerID)
	assert.Len(t, st.Votes, 2)
}

func TestStatusMapping(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.post(t, "/api/battles/B1/voting",
		battledto.InitVotingRequest{EventID: "e0", CreatorID: "C", OpponentID: "O"}, nil))

	tests := []struct {
		name   string
		path   string
		body   battledto.CastVoteRequest
		status int
		code   string
	}{
		{"outsider", "/api/battles/B1/votes", battledto.CastVoteRequest{EventID: "x1", ParticipantID: "X", Choice: "clean"}, http.StatusForbidden, battledto.CodeNotParticipant},
		{"bad choice", "/api/battles/B1/votes", battledto.CastVoteRequest{EventID: "x2", ParticipantID: "C", Choice: "perfect"}, http.StatusBadRequest, battledto.CodeInvalidChoice},
		{"unknown battle", "/api/battles/nope/votes", battledto.CastVoteRequest{EventID: "x3", ParticipantID: "C", Choice: "clean"}, http.StatusNotFound, battledto.CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp battledto.VoteResponse
			assert.Equal(t, tt.status, s.post(t, tt.path, tt.body, &resp))
			assert.False(t, resp.Success)
			assert.Equal(t, tt.code, resp.Code)
			assert.NotEmpty(t, resp.Error)
		})
	}

	var self battledto.InitVotingResponse
	assert.Equal(t, http.StatusBadRequest, s.post(t, "/api/battles/B2/voting",
		battledto.InitVotingRequest{EventID: "e0", CreatorID: "C", OpponentID: "C"}, &self))
	assert.Equal(t, battledto.CodeSelfMatch, self.Code)

	s.clock.Advance(2 * time.Minute)
	var late battledto.VoteResponse
	assert.Equal(t, http.StatusConflict, s.post(t, "/api/battles/B1/votes",
		battledto.CastVoteRequest{EventID: "x4", ParticipantID: "C", Choice: "clean"}, &late))
	assert.Equal(t, battledto.CodeDeadlinePassed, late.Code)
}

func TestMalformedBody(t *testing.T) {
	s := newTestServer(t)
	resp, err := s.Client().Post(s.URL+"/api/battles/B1/votes", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMissingEventIDIsGenerated(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.post(t, "/api/battles/B1/voting",
		battledto.InitVotingRequest{EventID: "e0", CreatorID: "C", OpponentID: "O"}, nil))

	var vote battledto.VoteResponse
	assert.Equal(t, http.StatusOK, s.post(t, "/api/battles/B1/votes",
		battledto.CastVoteRequest{ParticipantID: "C", Choice: "redo"}, &vote))
	assert.True(t, strings.HasPrefix(vote.EventID, "vote:B1:C:"), vote.EventID)
}

func TestVoteStateNotFound(t *testing.T) {
	s := newTestServer(t)
	var e battledto.ErrorResponse
	assert.Equal(t, http.StatusNotFound, s.get(t, "/api/battles/missing/vote-state", &e))
	assert.Equal(t, battledto.CodeNotFound, e.Code)
}

func TestAdminSweep(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.post(t, "/api/battles/B1/voting",
		battledto.InitVotingRequest{EventID: "e0", CreatorID: "C", OpponentID: "O"}, nil))
	require.Equal(t, http.StatusOK, s.post(t, "/api/battles/B1/votes",
		battledto.CastVoteRequest{EventID: "e1", ParticipantID: "O", Choice: "clean"}, nil))
	s.clock.Advance(time.Minute + time.Second)

	var report voting.SweepReport
	assert.Equal(t, http.StatusOK, s.post(t, "/api/admin/sweep", struct{}{}, &report))
	assert.Equal(t, 1, report.Resolved)
	require.Len(t, report.Items, 1)
	assert.Equal(t, "O", report.Items[0].WinnerID)
	assert.Equal(t, voting.ReasonCreatorTimeout, report.Items[0].Reason)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	var body map[string]string
	assert.Equal(t, http.StatusOK, s.get(t, "/healthz", &body))
	assert.Equal(t, "ok", body["status"])
}

func TestWebSocketFrames(t *testing.T) {
	s := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	roundTrip := func(f battledto.ClientFrame) battledto.ServerFrame {
		require.NoError(t, wsjson.Write(ctx, conn, f))
		var out battledto.ServerFrame
		require.NoError(t, wsjson.Read(ctx, conn, &out))
		assert.Equal(t, f.RequestID, out.RequestID)
		return out
	}

	out := roundTrip(battledto.ClientFrame{Type: battledto.FrameInit, RequestID: "r1", BattleID: "B1", EventID: "e0", CreatorID: "C", OpponentID: "O"})
	require.NotNil(t, out.Init)
	assert.True(t, out.Init.Success)

	out = roundTrip(battledto.ClientFrame{Type: battledto.FrameVote, RequestID: "r2", BattleID: "B1", EventID: "e1", ParticipantID: "C", Choice: "sketch"})
	require.NotNil(t, out.Vote)
	assert.True(t, out.Vote.Success)
	assert.False(t, out.Vote.BattleComplete)

	out = roundTrip(battledto.ClientFrame{Type: battledto.FrameVote, RequestID: "r3", BattleID: "B1", EventID: "e2", ParticipantID: "O", Choice: "sketch"})
	require.NotNil(t, out.Vote)
	assert.True(t, out.Vote.BattleComplete)
	assert.Equal(t, "C", out.Vote.WinnerID)

	out = roundTrip(battledto.ClientFrame{Type: battledto.FrameState, RequestID: "r4", BattleID: "B1"})
	require.NotNil(t, out.State)
	assert.Equal(t, "completed", out.State.Status)

	out = roundTrip(battledto.ClientFrame{Type: "dance", RequestID: "r5"})
	assert.Equal(t, battledto.FrameError, out.Type)
	require.NotNil(t, out.Error)
}
