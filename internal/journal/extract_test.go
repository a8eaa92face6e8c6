package journal

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/norma-app/norma/internal/storage"
)

// fakeCompleter is a canned language model gateway recording every prompt.
type fakeCompleter struct {
	resp    string
	err     error
	prompts []string
}

func (f *fakeCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	return f.resp, nil
}

func openJournalStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLogEvent(t *testing.T) {
	store := openJournalStore(t)
	gw := &fakeCompleter{resp: `{"event":"drank coffee","timestamp":"2023-10-27T10:00:00.000Z"}`}

	x := NewExtractor(gw, store)
	x.now = func() time.Time { return testNow }

	event, err := x.LogEvent(context.Background(), "I drank coffee")
	if err != nil {
		t.Fatalf("LogEvent: %v", err)
	}
	if event == nil {
		t.Fatal("LogEvent returned nil event")
	}
	if event.EventText != "drank coffee" {
		t.Errorf("EventText = %q, want %q", event.EventText, "drank coffee")
	}
	if event.Timestamp != "2023-10-27T10:00:00.000Z" {
		t.Errorf("Timestamp = %q, want the parsed model output unchanged", event.Timestamp)
	}

	// Exactly one row, equal to the returned record.
	all, err := store.GetAllEvents()
	if err != nil {
		t.Fatalf("GetAllEvents: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("store has %d rows, want 1", len(all))
	}
	if all[0] != *event {
		t.Errorf("stored row %+v differs from returned record %+v", all[0], *event)
	}

	if len(gw.prompts) != 1 {
		t.Fatalf("gateway called %d times, want 1", len(gw.prompts))
	}
	if !strings.Contains(gw.prompts[0], "I drank coffee") {
		t.Error("prompt missing the user input")
	}
	if !strings.Contains(gw.prompts[0], "2023-10-27T12:00:00Z") {
		t.Error("prompt missing the injected current time")
	}
}

func TestLogEventStripsFences(t *testing.T) {
	store := openJournalStore(t)
	gw := &fakeCompleter{resp: "```json\n{\"event\":\"ran 5k\",\"timestamp\":\"2023-10-27T07:00:00Z\"}\n```"}

	x := NewExtractor(gw, store)
	event, err := x.LogEvent(context.Background(), "went running")
	if err != nil {
		t.Fatalf("LogEvent: %v", err)
	}
	if event.EventText != "ran 5k" {
		t.Errorf("EventText = %q, want %q", event.EventText, "ran 5k")
	}
}

func TestLogEventBlankInput(t *testing.T) {
	store := openJournalStore(t)
	gw := &fakeCompleter{resp: `unused`}
	x := NewExtractor(gw, store)

	for _, input := range []string{"", "   ", "\n\t "} {
		event, err := x.LogEvent(context.Background(), input)
		if err != nil {
			t.Errorf("LogEvent(%q) error = %v, want nil", input, err)
		}
		if event != nil {
			t.Errorf("LogEvent(%q) = %+v, want nil", input, event)
		}
	}

	if len(gw.prompts) != 0 {
		t.Errorf("gateway called %d times for blank input, want 0", len(gw.prompts))
	}
	if n, _ := store.CountEvents(); n != 0 {
		t.Errorf("store has %d rows after blank inputs, want 0", n)
	}
}

func TestLogEventGatewayFailure(t *testing.T) {
	store := openJournalStore(t)
	gwErr := errors.New("connection refused")
	gw := &fakeCompleter{err: gwErr}

	x := NewExtractor(gw, store)
	_, err := x.LogEvent(context.Background(), "I drank coffee")
	if !errors.Is(err, gwErr) {
		t.Errorf("error = %v, want the gateway failure wrapped", err)
	}

	if n, _ := store.CountEvents(); n != 0 {
		t.Errorf("store has %d rows after gateway failure, want 0 (no partial record)", n)
	}
}

func TestLogEventMalformedOutput(t *testing.T) {
	cases := []struct {
		name string
		resp string
	}{
		{"not json", "sorry, I cannot do that"},
		{"missing event", `{"timestamp":"2023-10-27T10:00:00Z"}`},
		{"missing timestamp", `{"event":"drank coffee"}`},
		{"bad timestamp", `{"event":"drank coffee","timestamp":"yesterday"}`},
		{"unknown field", `{"event":"x","timestamp":"2023-10-27T10:00:00Z","mood":"great"}`},
		{"trailing data", `{"event":"x","timestamp":"2023-10-27T10:00:00Z"} extra`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := openJournalStore(t)
			x := NewExtractor(&fakeCompleter{resp: tc.resp}, store)

			_, err := x.LogEvent(context.Background(), "I drank coffee")
			if !errors.Is(err, ErrMalformedEvent) {
				t.Errorf("error = %v, want ErrMalformedEvent", err)
			}
			if n, _ := store.CountEvents(); n != 0 {
				t.Errorf("store has %d rows after parse failure, want 0", n)
			}
		})
	}
}

func TestLogBatch(t *testing.T) {
	store := openJournalStore(t)
	gw := &fakeCompleter{resp: `{"event":"did a thing","timestamp":"2023-10-27T10:00:00Z"}`}

	x := NewExtractor(gw, store)
	results, err := x.LogBatch(context.Background(), []string{"thing one", "  ", "thing two"})
	if err != nil {
		t.Fatalf("LogBatch: %v", err)
	}

	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if results[0] == nil || results[2] == nil {
		t.Error("non-blank inputs produced nil results")
	}
	if results[1] != nil {
		t.Error("blank input produced a record")
	}
	if n, _ := store.CountEvents(); n != 2 {
		t.Errorf("store has %d rows, want 2", n)
	}
}

func TestLogBatchPropagatesFailure(t *testing.T) {
	store := openJournalStore(t)
	gwErr := errors.New("boom")
	x := NewExtractor(&fakeCompleter{err: gwErr}, store)

	if _, err := x.LogBatch(context.Background(), []string{"a", "b"}); !errors.Is(err, gwErr) {
		t.Errorf("error = %v, want the gateway failure wrapped", err)
	}
}
