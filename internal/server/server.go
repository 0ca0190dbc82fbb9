package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"nuclight.org/opinions/internal/poll"
)

// WebhookPath is where Telegram posts updates in webhook mode.
const WebhookPath = "/telegram/webhook"

type PollReader interface {
	GetPoll(ctx context.Context, id string) (*poll.Poll, error)
}

type Server struct {
	polls   PollReader
	webhook http.Handler
	logger  *slog.Logger
}

// New builds the HTTP surface. webhook may be nil when the bot long-polls.
func New(polls PollReader, webhook http.Handler, logger *slog.Logger) *Server {
	return &Server{polls: polls, webhook: webhook, logger: logger}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/polls/{id}", s.handleGetPoll)
	if s.webhook != nil {
		r.Method(http.MethodPost, WebhookPath, s.webhook)
	}

	return r
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Debug("request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type pollStatus struct {
	ID              string         `json:"id"`
	Question        string         `json:"question"`
	Version         int64          `json:"version"`
	RenderedVersion int64          `json:"rendered_version"`
	RenderedAt      *time.Time     `json:"rendered_at,omitempty"`
	State           poll.SyncState `json:"state"`
	Options         []optionStatus `json:"options"`
	Voters          int            `json:"voters"`
}

type optionStatus struct {
	Text  string `json:"text"`
	Votes int    `json:"votes"`
}

func (s *Server) handleGetPoll(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	p, err := s.polls.GetPoll(r.Context(), id)
	if errors.Is(err, poll.ErrNotFound) {
		writeError(w, http.StatusNotFound, "poll not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to get poll", "poll_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get poll")
		return
	}

	writeJSON(w, http.StatusOK, statusOf(p))
}

func statusOf(p *poll.Poll) pollStatus {
	counts := make([]int, len(p.Options))
	for _, index := range p.Votes {
		if index >= 0 && index < len(counts) {
			counts[index]++
		}
	}
	options := make([]optionStatus, len(p.Options))
	for i, text := range p.Options {
		options[i] = optionStatus{Text: text, Votes: counts[i]}
	}

	status := pollStatus{
		ID:              p.ID,
		Question:        p.Question,
		Version:         p.Version,
		RenderedVersion: p.RenderedVersion,
		State:           p.SyncState(),
		Options:         options,
		Voters:          len(p.Votes),
	}
	if !p.RenderedAt.IsZero() {
		at := p.RenderedAt.UTC()
		status.RenderedAt = &at
	}
	return status
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
