// Package httpapi exposes the voting engine over HTTP and a websocket.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/park285/trick-battle/internal/obslog"
	"github.com/park285/trick-battle/internal/voting"
)

type Handler struct {
	engine         *voting.Engine
	sweeper        *voting.Sweeper
	logger         *zap.Logger
	originPatterns []string
}

type Option func(*Handler)

func WithLogger(l *zap.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithOriginPatterns allows cross-origin websocket handshakes from matching hosts.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Handler) { h.originPatterns = append(h.originPatterns, patterns...) }
}

func NewHandler(engine *voting.Engine, sweeper *voting.Sweeper, opts ...Option) *Handler {
	h := &Handler{engine: engine, sweeper: sweeper, logger: obslog.L()}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Routes builds the chi router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/ws", h.ServeWS)

	r.Route("/api", func(r chi.Router) {
		r.Route("/battles/{battleID}", func(r chi.Router) {
			r.Post("/voting", h.InitVoting)
			r.Post("/votes", h.CastVote)
			r.Get("/vote-state", h.VoteState)
		})
		r.Post("/admin/sweep", h.Sweep)
	})
	return r
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Debug("http_request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
