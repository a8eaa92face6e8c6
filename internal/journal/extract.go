package journal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/norma-app/norma/internal/storage"
)

// Extractor converts free-text statements into durable event records.
type Extractor struct {
	gw    Completer
	store EventStore
	now   func() time.Time
}

// NewExtractor creates an Extractor over the given gateway and store.
func NewExtractor(gw Completer, store EventStore) *Extractor {
	return &Extractor{gw: gw, store: store, now: time.Now}
}

// eventPayload is the JSON shape the extraction prompt demands.
type eventPayload struct {
	Event     string `json:"event"`
	Timestamp string `json:"timestamp"`
}

// LogEvent turns one free-text statement into a stored event record.
//
// Blank input is a designed no-op, not an error: it returns (nil, nil)
// without calling the gateway or the store. Gateway failures and malformed
// model output propagate to the caller; neither writes to the store.
func (x *Extractor) LogEvent(ctx context.Context, userInput string) (*storage.Event, error) {
	if strings.TrimSpace(userInput) == "" {
		return nil, nil
	}

	prompt := BuildEventPrompt(userInput, x.now().UTC())
	raw, err := x.gw.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("event extraction: %w", err)
	}

	var parsed eventPayload
	if err := decodeStrict(stripFences(raw), &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if strings.TrimSpace(parsed.Event) == "" {
		return nil, fmt.Errorf("%w: empty event description", ErrMalformedEvent)
	}
	if _, err := time.Parse(time.RFC3339, parsed.Timestamp); err != nil {
		return nil, fmt.Errorf("%w: bad timestamp %q", ErrMalformedEvent, parsed.Timestamp)
	}

	event, err := x.store.AddEvent(parsed.Event, parsed.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("storing event: %w", err)
	}
	return &event, nil
}

// batchConcurrency bounds in-flight gateway calls during bulk imports.
const batchConcurrency = 4

// LogBatch logs multiple statements concurrently. Results keep input order;
// blank inputs yield nil entries, matching LogEvent. The first failure
// cancels the remaining gateway calls. The store serializes its own writes,
// so each successful extraction lands as one atomic row.
func (x *Extractor) LogBatch(ctx context.Context, inputs []string) ([]*storage.Event, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	results := make([]*storage.Event, len(inputs))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)

	for i, input := range inputs {
		g.Go(func() error {
			event, err := x.LogEvent(gCtx, input)
			if err != nil {
				return fmt.Errorf("logging input %d: %w", i, err)
			}
			results[i] = event
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
