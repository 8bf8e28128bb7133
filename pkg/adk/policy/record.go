package policy

import (
	"sync"
	"time"

	"github.com/kagent-dev/supportagent/pkg/adk/knowledge"
)

// QueryEntry is one issued policy query and what it retrieved.
type QueryEntry struct {
	Seq      int                 `json:"seq"`
	Text     string              `json:"text"`
	Topic    string              `json:"topic,omitempty"`
	Snippets []knowledge.Snippet `json:"snippets"`
	IssuedAt time.Time           `json:"issued_at"`
}

// Record is the session's append-only log of policy queries. Entries are
// never modified or removed.
type Record struct {
	mu      sync.RWMutex
	entries []QueryEntry
}

// NewRecord returns an empty record.
func NewRecord() *Record {
	return &Record{}
}

// Append adds a query and returns the stored entry with its sequence number.
func (r *Record) Append(text, topic string, snippets []knowledge.Snippet, at time.Time) QueryEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := QueryEntry{
		Seq:      len(r.entries) + 1,
		Text:     text,
		Topic:    topic,
		Snippets: append([]knowledge.Snippet(nil), snippets...),
		IssuedAt: at,
	}
	r.entries = append(r.entries, e)
	return e
}

// Entries returns a copy of every entry in issue order.
func (r *Record) Entries() []QueryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]QueryEntry(nil), r.entries...)
}

// After returns the entries with a sequence number greater than seq.
func (r *Record) After(seq int) []QueryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if seq >= len(r.entries) {
		return nil
	}
	if seq < 0 {
		seq = 0
	}
	return append([]QueryEntry(nil), r.entries[seq:]...)
}

// LastSeq returns the sequence number of the newest entry, 0 when empty.
func (r *Record) LastSeq() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
