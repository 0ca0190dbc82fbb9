package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nuclight.org/opinions/internal/poll"
)

type fakePolls map[string]*poll.Poll

func (f fakePolls) GetPoll(_ context.Context, id string) (*poll.Poll, error) {
	if id == "500:500" {
		return nil, errors.New("database is locked")
	}
	p, ok := f[id]
	if !ok {
		return nil, poll.ErrNotFound
	}
	return p, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPolls() fakePolls {
	created := time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)
	p := poll.NewPoll(-100500, 42, "Lunch?", poll.User{ID: 1}, created)
	p.Options = []string{"Pizza", "Sushi"}
	p.Votes = map[int64]int{1: 0, 2: 0, 3: 1}
	p.Version = 7
	p.RenderedVersion = 5
	return fakePolls{p.ID: p}
}

func serve(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	w := serve(t, New(fakePolls{}, nil, discardLogger()), http.MethodGet, "/healthz")

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestGetPoll(t *testing.T) {
	w := serve(t, New(testPolls(), nil, discardLogger()), http.MethodGet, "/polls/42:-100500")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var got map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "42:-100500", got["id"])
	assert.EqualValues(t, 7, got["version"])
	assert.EqualValues(t, 5, got["rendered_version"])
	assert.Equal(t, "stale", got["state"])
	assert.EqualValues(t, 3, got["voters"])
	assert.Equal(t, "2025-02-01T12:00:00Z", got["rendered_at"])
	assert.Equal(t, []any{
		map[string]any{"text": "Pizza", "votes": float64(2)},
		map[string]any{"text": "Sushi", "votes": float64(1)},
	}, got["options"])
}

func TestGetPoll_NotFound(t *testing.T) {
	w := serve(t, New(testPolls(), nil, discardLogger()), http.MethodGet, "/polls/1:1")

	require.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"poll not found"}`, w.Body.String())
}

func TestGetPoll_StoreError(t *testing.T) {
	w := serve(t, New(testPolls(), nil, discardLogger()), http.MethodGet, "/polls/500:500")

	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "locked")
}

func TestWebhookRoute(t *testing.T) {
	var hits int
	webhook := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	})

	with := New(fakePolls{}, webhook, discardLogger())
	req := httptest.NewRequest(http.MethodPost, WebhookPath, strings.NewReader(`{"update_id":1}`))
	w := httptest.NewRecorder()
	with.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 1, hits)

	without := serve(t, New(fakePolls{}, nil, discardLogger()), http.MethodPost, WebhookPath)
	require.Equal(t, http.StatusNotFound, without.Code)
}

func TestListenAndServe_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- New(fakePolls{}, nil, discardLogger()).ListenAndServe(ctx, "127.0.0.1:0")
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
