package logger

import (
	"encoding/json"
	"strings"
	"sync"
)

const defaultRecorderLimit = 500

// Entry is a decoded log line kept by a Recorder.
type Entry struct {
	Time      string `json:"time"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Component string `json:"component,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Recorder keeps the most recent log lines in memory so operators can inspect them.
type Recorder struct {
	mu      sync.Mutex
	limit   int
	entries []Entry
}

// NewRecorder creates a recorder with the provided capacity (defaults to 500).
func NewRecorder(limit int) *Recorder {
	if limit <= 0 {
		limit = defaultRecorderLimit
	}
	return &Recorder{
		limit:   limit,
		entries: make([]Entry, 0, limit),
	}
}

// Write implements io.Writer. zerolog hands over exactly one JSON document per call.
func (r *Recorder) Write(p []byte) (int, error) {
	var entry Entry
	if err := json.Unmarshal(p, &entry); err != nil {
		entry = Entry{Level: "unknown", Message: strings.TrimSpace(string(p))}
	}
	r.add(entry)
	return len(p), nil
}

func (r *Recorder) add(entry Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.entries) == r.limit {
		copy(r.entries, r.entries[1:])
		r.entries[len(r.entries)-1] = entry
		return
	}
	r.entries = append(r.entries, entry)
}

// Recent returns up to n of the newest entries, oldest first. n <= 0 returns everything held.
func (r *Recorder) Recent(n int) []Entry {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	start := 0
	if n > 0 && n < len(r.entries) {
		start = len(r.entries) - n
	}
	out := make([]Entry, len(r.entries)-start)
	copy(out, r.entries[start:])
	return out
}
