package breakpoint

import (
	"context"
	"log/slog"

	"github.com/GoCodeAlone/dataflow/transport"
)

// ReasonCountReached is the reason text merged into the fault report
// for count breakpoint triggers.
const ReasonCountReached = "count threshold reached"

var _ GlobalBreakpoint = (*CountGlobal)(nil)

// CountGlobal coordinates a tuple-budget breakpoint across a layer. The
// total budget is split into per-worker shares at partition time; a
// worker triggers when its share is spent, and the breakpoint completes
// permanently once every share is spent. Reset re-arms trigger state
// but never restores budget.
type CountGlobal struct {
	globalBase
	total  int64
	shares map[WorkerID]int64
	spent  map[WorkerID]struct{}
}

// NewCountGlobal creates a count breakpoint with the given total tuple
// budget across the whole layer.
func NewCountGlobal(id string, total int64, requester transport.Requester, retry transport.RetryPolicy, logger *slog.Logger) *CountGlobal {
	return &CountGlobal{
		globalBase: newGlobalBase(id, KindCount, requester, retry, logger),
		total:      total,
		shares:     make(map[WorkerID]int64),
		spent:      make(map[WorkerID]struct{}),
	}
}

// Partition splits the budget evenly across the layer, remainder to the
// lowest-indexed workers, and assigns each worker its share. Workers
// whose share works out to zero are not assigned at all.
func (c *CountGlobal) Partition(ctx context.Context, layer []WorkerID) ([]WorkerID, error) {
	if len(layer) == 0 {
		return nil, nil
	}

	base := c.total / int64(len(layer))
	remainder := c.total % int64(len(layer))

	c.mu.Lock()
	version := c.version
	for i, w := range layer {
		share := base
		if int64(i) < remainder {
			share++
		}
		c.shares[w] = share
	}
	shares := make(map[WorkerID]int64, len(c.shares))
	for w, s := range c.shares {
		shares[w] = s
	}
	c.mu.Unlock()

	return c.partitionAssign(ctx, layer, func(w WorkerID) *AssignRequest {
		if shares[w] == 0 {
			return nil
		}
		return &AssignRequest{
			ID:         c.id,
			Version:    version,
			Kind:       KindCount,
			CountShare: shares[w],
		}
	})
}

// Accept records a triggered worker and marks its share permanently
// spent. Stale-version notices are dropped before budget accounting.
func (c *CountGlobal) Accept(n TriggerNotice) {
	if !c.accept(n) {
		return
	}
	c.mu.Lock()
	c.spent[n.Worker] = struct{}{}
	c.mu.Unlock()
}

// Report drains triggers into the aggregator. Count breakpoints report
// input-side faults by convention.
func (c *CountGlobal) Report(agg *Aggregator) {
	c.reportWith(agg, ReasonCountReached, true)
}

// Reset re-arms trigger state under a new version. Spent shares stay
// spent: budget exhaustion is permanent for this generation.
func (c *CountGlobal) Reset() {
	c.reset()
}

// IsCompleted reports whether the whole budget has been spent: every
// worker holding a nonzero share has triggered.
func (c *CountGlobal) IsCompleted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	holders := 0
	for w, share := range c.shares {
		if share == 0 {
			continue
		}
		holders++
		if _, ok := c.spent[w]; !ok {
			return false
		}
	}
	return holders > 0
}

// Remaining returns the unspent part of the total budget, based on the
// shares of workers that have not yet triggered.
func (c *CountGlobal) Remaining() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	remaining := int64(0)
	for w, share := range c.shares {
		if _, ok := c.spent[w]; !ok {
			remaining += share
		}
	}
	return remaining
}
