package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ZKAttest-Chain/internal/session"
	"ZKAttest-Chain/internal/workflow"
)

func newTestServer(t *testing.T) (*Server, *session.MemoryStore) {
	t.Helper()
	store := session.NewMemoryStore(0)
	queue := session.NewMemoryQueue(16)
	broker := session.NewBroker(16)
	service := workflow.NewService(store, queue, broker)
	t.Cleanup(func() { _ = service.Close() })
	return NewServer(":0", service), store
}

func TestHandleSessionDetailSuccess(t *testing.T) {
	server, store := newTestServer(t)

	sample := &session.Session{
		ID:              "s-success",
		Kind:            "filesystem",
		Phase:           session.PhaseComplete,
		ProgressPercent: 100,
		Summary:         session.Summary{Candidates: 2, Verified: 2, Attested: 2},
		CreatedAt:       1700000000,
		UpdatedAt:       1700000001,
	}
	if err := store.Create(context.Background(), sample); err != nil {
		t.Fatalf("create sample session: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/s-success", nil)
	rec := httptest.NewRecorder()

	server.handleSessionSubpath(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusOK)
	}

	var got session.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ID != sample.ID {
		t.Fatalf("unexpected session id: got %q want %q", got.ID, sample.ID)
	}
	if got.Summary.Attested != 2 {
		t.Fatalf("unexpected summary: %+v", got.Summary)
	}
}

func TestHandleSessionDetailErrors(t *testing.T) {
	server, _ := newTestServer(t)

	t.Run("invalid method", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/s-1", nil)
		rec := httptest.NewRecorder()

		server.handleSessionSubpath(rec, req)

		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
		}
	})

	t.Run("missing id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/", nil)
		rec := httptest.NewRecorder()

		server.handleSessionSubpath(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})

	t.Run("not found", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/missing", nil)
		rec := httptest.NewRecorder()

		server.handleSessionSubpath(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected status %d, got %d", http.StatusNotFound, rec.Code)
		}
	})
}

func TestHandleCreateSession(t *testing.T) {
	server, store := newTestServer(t)

	body := strings.NewReader(`{"kind":"filesystem"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", body)
	rec := httptest.NewRecorder()

	server.handleSessions(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusAccepted)
	}

	var got session.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ID == "" || got.Phase != session.PhaseCollecting {
		t.Fatalf("unexpected session: %+v", got)
	}
	if _, err := store.Get(context.Background(), got.ID); err != nil {
		t.Fatalf("session not persisted: %v", err)
	}
}

func TestHandleSessionEventsTerminalSession(t *testing.T) {
	server, store := newTestServer(t)

	done := &session.Session{
		ID:              "s-done",
		Kind:            "filesystem",
		Phase:           session.PhaseErrored,
		ProgressPercent: 66,
		Error:           "见证阶段超时",
	}
	if err := store.Create(context.Background(), done); err != nil {
		t.Fatalf("create sample session: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/s-done/events", nil)
	rec := httptest.NewRecorder()

	server.handleSessionSubpath(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/x-ndjson" {
		t.Fatalf("unexpected content type: %q", got)
	}

	scanner := bufio.NewScanner(rec.Body)
	if !scanner.Scan() {
		t.Fatal("expected one event line")
	}
	var event session.Event
	if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if event.Type != session.EventError || event.Error == "" {
		t.Fatalf("unexpected event: %+v", event)
	}
}
