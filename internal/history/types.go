package history

import "time"

// Status is the logged status of an instance.
type Status string

// Logged statuses.
const (
	StatusOperating    Status = "operating"
	StatusNotOperating Status = "not operating"
	StatusDisabled     Status = "disabled"
)

// DateLayout is the human-readable date format of entries.
const DateLayout = "2006-01-02 15:04:05"

// Entry is a single transition.
type Entry struct {
	// Date is the local time of the transition, formatted with DateLayout.
	Date   string `json:"date"`
	ID     string `json:"id"`
	Status Status `json:"status"`

	// Timestamp is milliseconds since the Unix epoch.
	Timestamp int64 `json:"timestamp"`
}

// NewEntry creates an entry for id at time at.
func NewEntry(id string, status Status, at time.Time) Entry {
	return Entry{
		Date:      at.Local().Format(DateLayout),
		ID:        id,
		Status:    status,
		Timestamp: at.UnixMilli(),
	}
}

// Record adds entry to log if it is a transition.
//
// The most recent entry for entry.ID is found by scanning from the newest.
// Without one, only a "not operating" entry is recorded; with one, the entry
// is recorded only if the status differs. Before prepending, the log is
// trimmed to limit-1 entries. limit <= 0 disables the log.
//
// Returns:
//   - []Entry: The new log; log itself is never modified
//   - bool: Whether an entry was added
func Record(log []Entry, entry Entry, limit int) ([]Entry, bool) {
	if limit <= 0 {
		return log, false
	}

	prev, found := latest(log, entry.ID)
	switch {
	case !found && entry.Status != StatusNotOperating:
		return log, false
	case found && prev.Status == entry.Status:
		return log, false
	}

	keep := min(len(log), limit-1)
	out := make([]Entry, 0, keep+1)
	out = append(out, entry)
	out = append(out, log[:keep]...)
	return out, true
}

func latest(log []Entry, id string) (Entry, bool) {
	for _, e := range log {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}
