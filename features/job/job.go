package job

import (
	"encoding/json"
	"errors"
	"time"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether a status allows no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Stored error messages are capped so a single failure cannot bloat the row.
const MaxErrorMessageLen = 500

type Job struct {
	ID           int64           `json:"id"`
	NaturalKey   string          `json:"naturalKey"`
	Kind         string          `json:"kind"`
	Payload      json.RawMessage `json:"payload"`
	Status       Status          `json:"status"`
	CreatedAt    time.Time       `json:"createdAt"`
	StartedAt    *time.Time      `json:"startedAt,omitempty"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	RetryCount   int             `json:"retryCount"`
}

var (
	ErrNotFound         = errors.New("job not found")
	ErrNotRetryable     = errors.New("job is not in a retryable state")
	ErrStoreUnavailable = errors.New("job store unavailable")
)

// Event is an inbound chat-platform event reduced to what the queue needs.
// Payload carries the raw envelope and is never interpreted here.
type Event struct {
	Channel   string
	Timestamp string
	Kind      string
	Payload   json.RawMessage
}

// NaturalKey derives the dedup key from the event's stable fields. Content
// never participates since identical text can legitimately repeat.
func (e Event) NaturalKey() string {
	return e.Channel + ":" + e.Timestamp
}
