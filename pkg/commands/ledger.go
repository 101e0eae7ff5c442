package commands

import (
	"sync"

	"github.com/samber/lo"
)

// Ledger is the process-local set of command ids already accepted for
// execution, the sole idempotency mechanism. Grows with command volume over
// a single run and is cleared only by a restart; the backend decides whether
// a command needs re-delivery after a crash.
type Ledger struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func NewLedger() *Ledger {
	return &Ledger{ids: make(map[string]struct{})}
}

// MarkIfNew inserts the id and reports whether it was absent before. The
// insert happens before dispatch, so a second near-simultaneous delivery of
// the same id sees it and backs off.
func (l *Ledger) MarkIfNew(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.ids[id]; ok {
		return false
	}
	l.ids[id] = struct{}{}
	return true
}

func (l *Ledger) Contains(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.ids[id]
	return ok
}

func (l *Ledger) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ids)
}

func (l *Ledger) IDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return lo.Keys(l.ids)
}
