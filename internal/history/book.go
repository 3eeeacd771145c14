package history

import (
	"sync"
	"time"
)

// SummaryTarget is the repository target of the summary log.
const SummaryTarget = "summary"

// Change reports which logs a Book.Record call extended.
type Change struct {
	Summary  bool
	Instance bool
}

// Any reports whether any log changed.
func (c Change) Any() bool {
	return c.Summary || c.Instance
}

// Book holds the summary log and the per-instance logs.
// All methods are thread-safe.
type Book struct {
	mu          sync.Mutex
	maxSummary  int
	maxInstance int
	summary     []Entry
	instances   map[string][]Entry
}

// NewBook creates a book with independent limits for the summary and
// per-instance logs. A limit of 0 disables that log.
func NewBook(maxSummary, maxInstance int) *Book {
	return &Book{
		maxSummary:  maxSummary,
		maxInstance: maxInstance,
		instances:   make(map[string][]Entry),
	}
}

// Record logs status for id in both logs.
func (b *Book) Record(id string, status Status, at time.Time) Change {
	entry := NewEntry(id, status, at)

	b.mu.Lock()
	defer b.mu.Unlock()

	var c Change
	b.summary, c.Summary = Record(b.summary, entry, b.maxSummary)
	b.instances[id], c.Instance = Record(b.instances[id], entry, b.maxInstance)
	return c
}

// Summary returns a copy of the summary log.
func (b *Book) Summary() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return clone(b.summary)
}

// Instance returns a copy of the log of id.
func (b *Book) Instance(id string) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return clone(b.instances[id])
}

// Restore replaces the log of target (SummaryTarget or an instance id),
// trimmed to the current limit.
func (b *Book) Restore(target string, entries []Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if target == SummaryTarget {
		b.summary = trim(entries, b.maxSummary)
		return
	}
	b.instances[target] = trim(entries, b.maxInstance)
}

func trim(entries []Entry, limit int) []Entry {
	if limit <= 0 {
		return nil
	}
	return clone(entries[:min(len(entries), limit)])
}

func clone(entries []Entry) []Entry {
	if entries == nil {
		return []Entry{}
	}
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}
