package journal

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/norma-app/norma/internal/storage"
)

// Prompt builders are plain string functions so prompt changes stay
// reviewable and testable independent of the parsing logic. Each prompt that
// has to resolve relative temporal language ("this morning", "yesterday")
// embeds the current wall-clock time as an explicit anchor.

// BuildEventPrompt builds the extraction prompt for one user statement.
// The model must answer with a bare JSON object {event, timestamp}.
func BuildEventPrompt(userInput string, now time.Time) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "User Input: %q\n", userInput)
	fmt.Fprintf(&sb, "Current Time: %s\n\n", now.Format(time.RFC3339))
	sb.WriteString(`Extract the event description and the implied timestamp.
Resolve relative time expressions ("this morning", "just now", "yesterday evening") against the Current Time.
Return ONLY a JSON object with keys: "event" (string), "timestamp" (ISO 8601 UTC string).
Do not include markdown code blocks in the response.`)
	return sb.String()
}

// BuildFilterPrompt builds the filter-strategy prompt: extract search
// parameters from a free-text question. The worked examples are part of the
// prompt contract; they stabilize the output format.
func BuildFilterPrompt(question string, now time.Time) string {
	var sb strings.Builder
	sb.WriteString(`You are a helpful assistant for a personal logging app.
The user will ask a question to search their logs.
Your task is to extract search parameters: "keywords" (for text search) and "dateRange" (start and end timestamps).

`)
	fmt.Fprintf(&sb, "Current Time: %s\n\n", now.Format(time.RFC3339))
	sb.WriteString(`Rules:
1. "keywords": Extract the main topic or action to search for. If the user asks "what did I do...", keywords might be empty or generic.
2. "dateRange": Calculate start and end timestamps in ISO 8601 format (UTC) if the user specifies a time range (e.g., "yesterday", "last week"). If no time is specified, return null for dateRange.
3. Return ONLY a valid JSON object. Do not include markdown formatting.

Example Input: "When did I run?"
Example Output: { "keywords": "run", "dateRange": null }

Example Input: "What did I eat yesterday?" (Assuming Current Time is 2023-10-27T12:00:00Z)
Example Output: { "keywords": "eat", "dateRange": { "start": "2023-10-26T00:00:00.000Z", "end": "2023-10-26T23:59:59.999Z" } }

`)
	fmt.Fprintf(&sb, "User Input: %q", question)
	return sb.String()
}

// BuildSemanticPrompt builds the semantic-strategy prompt: the full record set plus
// the question, asking the model to return the matching subset directly.
func BuildSemanticPrompt(question string, events []storage.Event) (string, error) {
	eventsJSON, err := json.Marshal(events)
	if err != nil {
		return "", fmt.Errorf("marshaling events: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(`You are a helpful assistant for a personal logging app.
Below is the user's complete event log as a JSON array, followed by a question about it.

Event Log:
`)
	sb.Write(eventsJSON)
	sb.WriteString("\n\nQuestion: ")
	sb.WriteString(question)
	sb.WriteString(`

Rules:
1. Return the events from the supplied log that are relevant to the question.
2. Match regardless of verb tense or paraphrase ("run" matches "went for a jog").
3. Only return events that appear in the supplied log, with their "id", "event_text" and "timestamp" unchanged.
4. Return ONLY a valid JSON array of event objects. Return [] if nothing matches.
5. Do not include markdown formatting.`)
	return sb.String(), nil
}
