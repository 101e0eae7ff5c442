package dispatch

import (
	"sync"
	"time"

	"github.com/simrigs/rig-commander/pkg/model"
)

// LogEntry records one dispatch for the observability side channel. The log
// is read-only for consumers and never consulted for dedupe or any other
// correctness decision.
type LogEntry struct {
	Timestamp time.Time    `json:"timestamp"`
	Action    model.Action `json:"action"`
	Combo     string       `json:"combo,omitempty"`
	Source    string       `json:"source,omitempty"`
	Success   bool         `json:"success"`
	Message   string       `json:"message"`
}

const defaultRingCapacity = 100

// ringLog keeps the most recent dispatch entries, oldest dropped first.
type ringLog struct {
	mu      sync.Mutex
	cap     int
	entries []LogEntry
}

func newRingLog(capacity int) *ringLog {
	if capacity <= 0 {
		capacity = defaultRingCapacity
	}
	return &ringLog{cap: capacity}
}

func (r *ringLog) Append(e LogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	if len(r.entries) > r.cap {
		r.entries = r.entries[len(r.entries)-r.cap:]
	}
}

// Entries returns a copy, oldest first.
func (r *ringLog) Entries() []LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	ret := make([]LogEntry, len(r.entries))
	copy(ret, r.entries)
	return ret
}
