package audit

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry is one line of the append-only event trail. Which fields are set
// depends on the event kind.
type Entry struct {
	Timestamp     time.Time `json:"timestamp"`
	Event         string    `json:"event"`
	Channel       string    `json:"channel,omitempty"`
	User          string    `json:"user,omitempty"`
	NaturalKey    string    `json:"natural_key,omitempty"`
	JobID         int64     `json:"job_id,omitempty"`
	Outcome       string    `json:"outcome,omitempty"`
	Detail        string    `json:"detail,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

type Logger struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewLogger(w io.Writer) *Logger {
	return &Logger{writer: w}
}

func NewFileLogger(path string) (*Logger, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}

	cleanPath := filepath.Clean(path)
	f, err := os.OpenFile(cleanPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600) // #nosec G304 -- path is from application config, not user input
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, f)
	return NewLogger(mw), nil
}

func (l *Logger) Log(entry Entry) {
	entry.Timestamp = time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := json.NewEncoder(l.writer).Encode(entry); err != nil {
		slog.Error("failed to write audit entry", "error", err)
	}
}
