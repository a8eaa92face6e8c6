// Package journal turns free-text statements into stored event records and
// free-text questions into sets of matching records, using a language model
// for both extraction tasks.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/norma-app/norma/internal/storage"
)

// ErrMalformedEvent is returned when the model's extraction output failed to
// parse as the required {event, timestamp} JSON object.
var ErrMalformedEvent = errors.New("model returned malformed event JSON")

// ErrMalformedQuery is returned when the model's retrieval output failed to
// parse as the required JSON shape.
var ErrMalformedQuery = errors.New("model returned malformed query JSON")

// Completer is the language model gateway: one prompt in, raw completion out.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// EventStore is the slice of the record store the journal depends on.
type EventStore interface {
	AddEvent(eventText, timestamp string) (storage.Event, error)
	SearchEvents(keywords, startDate, endDate string) ([]storage.Event, error)
	GetAllEvents() ([]storage.Event, error)
	CountEvents() (int, error)
}

// stripFences removes markdown code fence markers the model sometimes wraps
// around its JSON output despite instructions.
func stripFences(s string) string {
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

// decodeStrict parses s as exactly one JSON value into v, rejecting unknown
// fields and trailing content. Malformed model output must be rejected, never
// best-effort parsed.
func decodeStrict(s string, v any) error {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("trailing data after JSON value")
	}
	return nil
}
