package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/norma-app/norma/internal/gemini"
	"github.com/norma-app/norma/internal/journal"
	"github.com/norma-app/norma/internal/storage"
)

const testToken = "test-token-12345"

// --- mocks ---

type mockLogger struct {
	event *storage.Event
	err   error
	calls int
}

func (m *mockLogger) LogEvent(_ context.Context, userInput string) (*storage.Event, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if strings.TrimSpace(userInput) == "" {
		return nil, nil
	}
	return m.event, nil
}

func (m *mockLogger) LogBatch(ctx context.Context, inputs []string) ([]*storage.Event, error) {
	results := make([]*storage.Event, len(inputs))
	for i, input := range inputs {
		event, err := m.LogEvent(ctx, input)
		if err != nil {
			return nil, err
		}
		results[i] = event
	}
	return results, nil
}

type mockSearcher struct {
	results []storage.Event
	err     error
}

func (m *mockSearcher) Search(_ context.Context, _ string) ([]storage.Event, error) {
	return m.results, m.err
}

// --- helpers ---

func setupHandler(t *testing.T, logger EventLogger, searcher EventSearcher) (http.Handler, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	handler := NewHandler(Deps{
		Store:    store,
		Logger:   logger,
		Searcher: searcher,
		Token:    testToken,
	})
	return handler, store
}

func authReq(method, url, body, token string) *http.Request {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, url, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, url, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

// --- tests ---

func TestHealthNoAuth(t *testing.T) {
	h, _ := setupHandler(t, &mockLogger{}, &mockSearcher{})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"ok"`) {
		t.Errorf("body = %s", rr.Body.String())
	}
}

func TestAuthRequired(t *testing.T) {
	h, _ := setupHandler(t, &mockLogger{}, &mockSearcher{})

	for _, token := range []string{"", "wrong-token"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, authReq(http.MethodGet, "/events", "", token))
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("token %q: status = %d, want 401", token, rr.Code)
		}
	}
}

func TestLog(t *testing.T) {
	logged := &storage.Event{ID: 1, EventText: "drank coffee", Timestamp: "2023-10-27T10:00:00.000Z"}
	h, _ := setupHandler(t, &mockLogger{event: logged}, &mockSearcher{})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/log", `{"text":"I drank coffee"}`, testToken))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %s", rr.Code, rr.Body.String())
	}

	var got storage.Event
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if got != *logged {
		t.Errorf("response = %+v, want %+v", got, *logged)
	}
}

func TestLogBlankInputIsNoContent(t *testing.T) {
	logger := &mockLogger{}
	h, _ := setupHandler(t, logger, &mockSearcher{})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/log", `{"text":"   "}`, testToken))

	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204; body = %s", rr.Code, rr.Body.String())
	}
	if logger.calls != 1 {
		t.Errorf("logger called %d times, want 1", logger.calls)
	}
}

func TestLogInvalidBody(t *testing.T) {
	h, _ := setupHandler(t, &mockLogger{}, &mockSearcher{})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/log", `not json`, testToken))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestLogErrorMapping(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		wantCode int
		wantType string
	}{
		{"malformed output", fmt.Errorf("wrap: %w", journal.ErrMalformedEvent), http.StatusUnprocessableEntity, "model_output_error"},
		{"gateway status", fmt.Errorf("event extraction: %w", &gemini.StatusError{Code: 403, Body: "nope"}), http.StatusBadGateway, "gateway_error"},
		{"empty envelope", fmt.Errorf("event extraction: %w", gemini.ErrNoContent), http.StatusBadGateway, "gateway_error"},
		{"storage failure", fmt.Errorf("storing event: disk full"), http.StatusInternalServerError, "api_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, _ := setupHandler(t, &mockLogger{err: tc.err}, &mockSearcher{})

			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, authReq(http.MethodPost, "/log", `{"text":"x"}`, testToken))

			if rr.Code != tc.wantCode {
				t.Errorf("status = %d, want %d", rr.Code, tc.wantCode)
			}
			var resp struct {
				Error struct {
					Type string `json:"type"`
				} `json:"error"`
			}
			if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
				t.Fatalf("decoding error body: %v", err)
			}
			if resp.Error.Type != tc.wantType {
				t.Errorf("error type = %q, want %q", resp.Error.Type, tc.wantType)
			}
		})
	}
}

func TestLogBatch(t *testing.T) {
	logged := &storage.Event{ID: 4, EventText: "drank coffee", Timestamp: "2023-10-27T10:00:00.000Z"}
	logger := &mockLogger{event: logged}
	h, _ := setupHandler(t, logger, &mockSearcher{})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/log/batch",
		`{"texts":["I drank coffee","   ","I drank more coffee"]}`, testToken))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %s", rr.Code, rr.Body.String())
	}
	if logger.calls != 3 {
		t.Errorf("logger called %d times, want 3", logger.calls)
	}

	var got []*storage.Event
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d entries, want 3", len(got))
	}
	if got[1] != nil {
		t.Errorf("blank input entry = %+v, want null", got[1])
	}
	for _, i := range []int{0, 2} {
		if got[i] == nil || *got[i] != *logged {
			t.Errorf("entry %d = %+v, want %+v", i, got[i], logged)
		}
	}
}

func TestLogBatchEmpty(t *testing.T) {
	h, _ := setupHandler(t, &mockLogger{}, &mockSearcher{})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/log/batch", `{"texts":[]}`, testToken))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestLogBatchGatewayFailure(t *testing.T) {
	err := fmt.Errorf("event extraction: %w", gemini.ErrNoContent)
	h, _ := setupHandler(t, &mockLogger{err: err}, &mockSearcher{})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/log/batch", `{"texts":["x"]}`, testToken))

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502; body = %s", rr.Code, rr.Body.String())
	}
}

func TestSearch(t *testing.T) {
	results := []storage.Event{
		{ID: 2, EventText: "drank coffee", Timestamp: "2023-10-27T10:00:00.000Z"},
	}
	h, _ := setupHandler(t, &mockLogger{}, &mockSearcher{results: results})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/search?q=when+did+I+drink+coffee", "", testToken))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %s", rr.Code, rr.Body.String())
	}

	var got []storage.Event
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(got) != 1 || got[0] != results[0] {
		t.Errorf("response = %+v, want %+v", got, results)
	}
}

func TestSearchEmptyResultIsArray(t *testing.T) {
	h, _ := setupHandler(t, &mockLogger{}, &mockSearcher{results: nil})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/search?q=anything", "", testToken))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Errorf("body = %q, want JSON empty array", rr.Body.String())
	}
}

func TestSearchMissingQuery(t *testing.T) {
	h, _ := setupHandler(t, &mockLogger{}, &mockSearcher{})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/search", "", testToken))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestSearchMalformedQueryOutput(t *testing.T) {
	h, _ := setupHandler(t, &mockLogger{}, &mockSearcher{err: fmt.Errorf("wrap: %w", journal.ErrMalformedQuery)})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/search?q=when", "", testToken))

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rr.Code)
	}
}

func TestListEvents(t *testing.T) {
	h, store := setupHandler(t, &mockLogger{}, &mockSearcher{})

	for i := range 3 {
		if _, err := store.AddEvent(fmt.Sprintf("event %d", i+1), fmt.Sprintf("2024-01-0%dT08:00:00Z", i+1)); err != nil {
			t.Fatalf("AddEvent: %v", err)
		}
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/events?limit=2", "", testToken))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	var got []storage.Event
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if got[0].Timestamp != "2024-01-03T08:00:00Z" {
		t.Errorf("first event = %+v, want the newest", got[0])
	}
}

func TestGetEvent(t *testing.T) {
	h, store := setupHandler(t, &mockLogger{}, &mockSearcher{})

	created, err := store.AddEvent("drank coffee", "2024-01-01T08:00:00Z")
	if err != nil {
		t.Fatalf("AddEvent: %v", err)
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, fmt.Sprintf("/events/%d", created.ID), "", testToken))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	var got storage.Event
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if got != created {
		t.Errorf("response = %+v, want %+v", got, created)
	}
}

func TestGetEventNotFound(t *testing.T) {
	h, _ := setupHandler(t, &mockLogger{}, &mockSearcher{})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/events/9999", "", testToken))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}
