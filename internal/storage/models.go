package storage

import "errors"

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrEmptyEvent is returned when a write would store blank event text.
var ErrEmptyEvent = errors.New("event text is empty")

// ErrBadTimestamp is returned when a write carries a timestamp that is not
// valid RFC 3339.
var ErrBadTimestamp = errors.New("timestamp is not valid RFC 3339")

// Event is one timestamped journal record. Timestamp is kept as the exact
// RFC 3339 string the extraction produced so reads return it byte-for-byte;
// it is validated parseable before any write.
type Event struct {
	ID        int64  `json:"id"`
	EventText string `json:"event_text"`
	Timestamp string `json:"timestamp"`
}
