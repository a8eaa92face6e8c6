package journal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/norma-app/norma/internal/storage"
)

// Strategy selects how questions are answered. It is a fixed system policy
// chosen at construction, not a per-call option.
type Strategy string

const (
	// StrategyFilter extracts structured search parameters from the question
	// and runs them against the store. Deterministic at the store layer and
	// independent of log size.
	StrategyFilter Strategy = "filter"

	// StrategySemantic sends the entire record set to the model alongside the
	// question and takes the returned subset. Stronger matching (synonymy,
	// tense-invariance) at the cost of re-sending the history per query.
	StrategySemantic Strategy = "semantic"
)

// ParseStrategy validates a strategy name from configuration.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyFilter, StrategySemantic:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown search strategy %q (valid: filter, semantic)", s)
}

// Searcher converts free-text questions into sets of matching event records.
type Searcher struct {
	gw                Completer
	store             EventStore
	strategy          Strategy
	semanticMaxEvents int
	now               func() time.Time
}

// NewSearcher creates a Searcher with the given fixed strategy.
// semanticMaxEvents caps StrategySemantic: above it, queries fall back to
// StrategyFilter instead of silently truncating the model's context.
func NewSearcher(gw Completer, store EventStore, strategy Strategy, semanticMaxEvents int) *Searcher {
	return &Searcher{
		gw:                gw,
		store:             store,
		strategy:          strategy,
		semanticMaxEvents: semanticMaxEvents,
		now:               time.Now,
	}
}

// Search answers one free-text question with the matching records, newest
// first for the filter strategy, model order for the semantic strategy.
// An empty result is a valid answer; malformed model output is an error.
func (s *Searcher) Search(ctx context.Context, question string) ([]storage.Event, error) {
	if s.strategy == StrategySemantic {
		count, err := s.store.CountEvents()
		if err != nil {
			return nil, fmt.Errorf("counting events: %w", err)
		}
		if count <= s.semanticMaxEvents {
			return s.searchSemantic(ctx, question)
		}
		slog.Warn("event log exceeds semantic search cap, falling back to filtered search",
			"count", count, "cap", s.semanticMaxEvents)
	}
	return s.searchFiltered(ctx, question)
}

// filterPayload is the JSON shape the filter prompt demands.
type filterPayload struct {
	Keywords  string `json:"keywords"`
	DateRange *struct {
		Start string `json:"start"`
		End   string `json:"end"`
	} `json:"dateRange"`
}

func (s *Searcher) searchFiltered(ctx context.Context, question string) ([]storage.Event, error) {
	prompt := BuildFilterPrompt(question, s.now().UTC())
	raw, err := s.gw.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("query extraction: %w", err)
	}

	var parsed filterPayload
	if err := decodeStrict(stripFences(raw), &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedQuery, err)
	}

	var start, end string
	if parsed.DateRange != nil {
		start, end = parsed.DateRange.Start, parsed.DateRange.End
	}

	results, err := s.store.SearchEvents(parsed.Keywords, start, end)
	if err != nil {
		return nil, fmt.Errorf("searching events: %w", err)
	}
	return results, nil
}

func (s *Searcher) searchSemantic(ctx context.Context, question string) ([]storage.Event, error) {
	events, err := s.store.GetAllEvents()
	if err != nil {
		return nil, fmt.Errorf("loading events: %w", err)
	}
	// Nothing stored means nothing can match; skip the round trip.
	if len(events) == 0 {
		return []storage.Event{}, nil
	}

	prompt, err := BuildSemanticPrompt(question, events)
	if err != nil {
		return nil, err
	}
	raw, err := s.gw.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("semantic match: %w", err)
	}

	var matched []storage.Event
	if err := decodeStrict(stripFences(raw), &matched); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedQuery, err)
	}

	// The model may only select from the supplied set. Resolve each returned
	// id against the stored records so invented or altered entries are
	// rejected rather than passed through.
	byID := make(map[int64]storage.Event, len(events))
	for _, e := range events {
		byID[e.ID] = e
	}

	results := make([]storage.Event, 0, len(matched))
	for _, m := range matched {
		stored, ok := byID[m.ID]
		if !ok {
			return nil, fmt.Errorf("%w: event id %d is not in the log", ErrMalformedQuery, m.ID)
		}
		results = append(results, stored)
	}
	return results, nil
}
