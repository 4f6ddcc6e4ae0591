package logger

import (
	"sync"
	"time"
)

// RingEntry is one remembered error message.
type RingEntry struct {
	TS      time.Time `json:"ts"`
	Source  string    `json:"source"`
	Message string    `json:"message"`
}

// ErrorRing keeps the most recent N error messages, oldest first.
type ErrorRing struct {
	mu      sync.Mutex
	size    int
	entries []RingEntry
}

func NewErrorRing(size int) *ErrorRing {
	if size <= 0 {
		size = 10
	}
	return &ErrorRing{size: size, entries: make([]RingEntry, 0, size)}
}

func (r *ErrorRing) Add(source, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.entries) == r.size {
		copy(r.entries, r.entries[1:])
		r.entries = r.entries[:r.size-1]
	}
	r.entries = append(r.entries, RingEntry{TS: time.Now().UTC(), Source: source, Message: message})
}

// Snapshot returns a copy that is safe to hand to readers.
func (r *ErrorRing) Snapshot() []RingEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]RingEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

func (r *ErrorRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
