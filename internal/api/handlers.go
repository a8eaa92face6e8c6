package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/norma-app/norma/internal/gemini"
	"github.com/norma-app/norma/internal/journal"
	"github.com/norma-app/norma/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// EventLogger abstracts the extraction service for the API layer.
type EventLogger interface {
	LogEvent(ctx context.Context, userInput string) (*storage.Event, error)
	LogBatch(ctx context.Context, inputs []string) ([]*storage.Event, error)
}

// EventSearcher abstracts the retrieval service for the API layer.
type EventSearcher interface {
	Search(ctx context.Context, question string) ([]storage.Event, error)
}

// Deps holds the dependencies for the HTTP handler.
type Deps struct {
	Store    *storage.Store
	Logger   EventLogger
	Searcher EventSearcher
	Token    string
}

// NewHandler returns the daemon's HTTP handler. All routes except /health
// require the local bearer token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Post("/log", handleLog(deps))
		r.Post("/log/batch", handleLogBatch(deps))
		r.Get("/search", handleSearch(deps))
		r.Get("/events", handleListEvents(deps))
		r.Get("/events/{id}", handleGetEvent(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type logRequest struct {
	Text string `json:"text"`
}

func handleLog(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req logRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		event, err := deps.Logger.LogEvent(r.Context(), req.Text)
		if err != nil {
			code, errType := classifyError(err)
			httpError(w, code, errType, "failed to log event: %v", err)
			return
		}

		// Blank input is a designed no-op, not an error.
		if event == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(event)
	}
}

type logBatchRequest struct {
	Texts []string `json:"texts"`
}

// handleLogBatch logs multiple statements in one request. Entries come back
// in input order; blank inputs yield null entries. The batch is
// all-or-nothing at the request level: one extraction failure fails the
// whole call, though statements already stored stay stored.
func handleLogBatch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req logBatchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(req.Texts) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "texts is required")
			return
		}

		events, err := deps.Logger.LogBatch(r.Context(), req.Texts)
		if err != nil {
			code, errType := classifyError(err)
			httpError(w, code, errType, "failed to log batch: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(events)
	}
}

func handleSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		question := r.URL.Query().Get("q")
		if question == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "q is required")
			return
		}

		results, err := deps.Searcher.Search(r.Context(), question)
		if err != nil {
			code, errType := classifyError(err)
			httpError(w, code, errType, "search failed: %v", err)
			return
		}

		if results == nil {
			results = []storage.Event{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(results)
	}
}

func handleListEvents(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		events, err := deps.Store.ListEvents(limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list events: %v", err)
			return
		}

		if events == nil {
			events = []storage.Event{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(events)
	}
}

func handleGetEvent(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid event id")
			return
		}

		event, err := deps.Store.GetEvent(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "event not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get event: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(event)
	}
}

// classifyError maps core failures to HTTP status codes: malformed model
// output is 422, gateway trouble is 502, anything else is 500.
func classifyError(err error) (int, string) {
	var statusErr *gemini.StatusError
	var urlErr *url.Error
	switch {
	case errors.Is(err, journal.ErrMalformedEvent), errors.Is(err, journal.ErrMalformedQuery):
		return http.StatusUnprocessableEntity, "model_output_error"
	case errors.As(err, &statusErr), errors.Is(err, gemini.ErrNoContent), errors.As(err, &urlErr):
		return http.StatusBadGateway, "gateway_error"
	default:
		return http.StatusInternalServerError, "api_error"
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
