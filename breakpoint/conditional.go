package breakpoint

import (
	"context"
	"log/slog"

	"github.com/GoCodeAlone/dataflow/predicate"
	"github.com/GoCodeAlone/dataflow/transport"
)

// ReasonConditionUnsatisfied is the reason text merged into the fault
// report for conditional breakpoint triggers.
const ReasonConditionUnsatisfied = "condition unsatisfied"

var _ GlobalBreakpoint = (*ConditionalGlobal)(nil)

// ConditionalGlobal coordinates a predicate breakpoint across a layer.
// Every worker receives the same predicate; the breakpoint can
// retrigger indefinitely across reset cycles, so it never completes.
type ConditionalGlobal struct {
	globalBase
	pred *predicate.Predicate
}

// NewConditionalGlobal creates a conditional breakpoint. The predicate
// has already been compiled by the coordinator, so its source is known
// to be installable on workers.
func NewConditionalGlobal(id string, pred *predicate.Predicate, requester transport.Requester, retry transport.RetryPolicy, logger *slog.Logger) *ConditionalGlobal {
	return &ConditionalGlobal{
		globalBase: newGlobalBase(id, KindConditional, requester, retry, logger),
		pred:       pred,
	}
}

// Partition installs the predicate on every worker in the layer.
func (c *ConditionalGlobal) Partition(ctx context.Context, layer []WorkerID) ([]WorkerID, error) {
	version := c.Version()
	return c.partitionAssign(ctx, layer, func(WorkerID) *AssignRequest {
		return &AssignRequest{
			ID:         c.id,
			Version:    version,
			Kind:       KindConditional,
			Expression: c.pred.Source(),
		}
	})
}

// Accept records a triggered worker for the current cycle.
func (c *ConditionalGlobal) Accept(n TriggerNotice) {
	c.accept(n)
}

// Report drains triggers into the aggregator. Conditional breakpoints
// report output-side faults by convention.
func (c *ConditionalGlobal) Report(agg *Aggregator) {
	c.reportWith(agg, ReasonConditionUnsatisfied, false)
}

// Reset re-arms the breakpoint under a new version.
func (c *ConditionalGlobal) Reset() {
	c.reset()
}

// IsCompleted always returns false: a conditional breakpoint can
// retrigger for as long as it is installed.
func (c *ConditionalGlobal) IsCompleted() bool {
	return false
}
