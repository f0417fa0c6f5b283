package breakpoint

import (
	"sync"

	"github.com/GoCodeAlone/dataflow/tuple"
)

// FaultKey identifies one aggregator entry: a worker plus the identity
// of the faulted tuple it reported.
type FaultKey struct {
	Worker WorkerID `json:"worker"`
	Tuple  string   `json:"tuple"`
}

// FaultEntry is one reported fault with every reason that has been
// merged into it since the last drain.
type FaultEntry struct {
	Worker  WorkerID           `json:"worker"`
	Tuple   tuple.FaultedTuple `json:"tuple"`
	Reasons []string           `json:"reasons"`
}

// Aggregator collects per-worker trigger reports into a deduplicated
// fault report keyed by (worker, faulted tuple). Merging into an
// existing key appends the reason; nothing is ever overwritten, so two
// breakpoints faulting on the same tuple accumulate both reasons.
type Aggregator struct {
	mu      sync.Mutex
	entries map[FaultKey]*FaultEntry
	order   []FaultKey
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{entries: make(map[FaultKey]*FaultEntry)}
}

// Merge records a reason for the (worker, faulted tuple) key, creating
// the entry on first sight and appending afterwards.
func (a *Aggregator) Merge(worker WorkerID, ft tuple.FaultedTuple, reason string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := FaultKey{Worker: worker, Tuple: ft.Key()}
	entry, ok := a.entries[key]
	if !ok {
		entry = &FaultEntry{Worker: worker, Tuple: ft}
		a.entries[key] = entry
		a.order = append(a.order, key)
	}
	entry.Reasons = append(entry.Reasons, reason)
}

// Len returns the number of distinct fault entries.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

// Drain returns all entries in first-insertion order and clears the
// aggregator for the next reporting cycle.
func (a *Aggregator) Drain() []FaultEntry {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]FaultEntry, 0, len(a.order))
	for _, key := range a.order {
		out = append(out, *a.entries[key])
	}
	a.entries = make(map[FaultKey]*FaultEntry)
	a.order = nil
	return out
}
