package breakpoint

import (
	"github.com/GoCodeAlone/dataflow/predicate"
	"github.com/GoCodeAlone/dataflow/tuple"
)

// DiagnosticFunc receives predicate evaluation failures from a local
// breakpoint. The failing tuple is treated as non-triggering; the
// diagnostic travels upward on a separate path from fault reports.
type DiagnosticFunc func(tupleID int64, err error)

// LocalBreakpoint is a worker-resident evaluator, invoked once per
// tuple in arrival order by the worker that owns it. It is never shared
// across workers; all cross-worker coordination goes through the
// controller.
type LocalBreakpoint interface {
	// Evaluate observes one tuple. Once the breakpoint has latched,
	// further calls are no-ops until Reset.
	Evaluate(t tuple.Tuple, tupleID int64, isInput bool)

	// IsTriggered reports whether the latch is set.
	IsTriggered() bool

	// Triggered returns the recorded faulted tuple if latched.
	Triggered() (tuple.FaultedTuple, bool)

	// Reset clears the latch and recorded tuple, re-arming the
	// evaluator. Kind-specific spent budget is not restored.
	Reset()
}

var (
	_ LocalBreakpoint = (*ConditionalLocal)(nil)
	_ LocalBreakpoint = (*CountLocal)(nil)
)

// ConditionalLocal latches on the first tuple satisfying its predicate.
// The predicate is evaluated at most once per tuple and not at all
// after latching, so a matching stream does not re-trigger until reset.
type ConditionalLocal struct {
	pred      *predicate.Predicate
	triggered bool
	fault     tuple.FaultedTuple
	onError   DiagnosticFunc
}

// NewConditionalLocal builds a conditional evaluator around a compiled
// predicate. onError may be nil.
func NewConditionalLocal(pred *predicate.Predicate, onError DiagnosticFunc) *ConditionalLocal {
	return &ConditionalLocal{pred: pred, onError: onError}
}

// Evaluate applies the predicate. Evaluation failures never escape the
// tuple-processing path: the tuple counts as non-matching and the
// failure is handed to the diagnostic callback.
func (c *ConditionalLocal) Evaluate(t tuple.Tuple, tupleID int64, isInput bool) {
	if c.triggered {
		return
	}
	matched, err := c.pred.Eval(t)
	if err != nil {
		if c.onError != nil {
			c.onError(tupleID, err)
		}
		return
	}
	if matched {
		c.triggered = true
		c.fault = tuple.FaultedTuple{Tuple: t, TupleID: tupleID, IsInput: isInput}
	}
}

func (c *ConditionalLocal) IsTriggered() bool {
	return c.triggered
}

func (c *ConditionalLocal) Triggered() (tuple.FaultedTuple, bool) {
	if !c.triggered {
		return tuple.FaultedTuple{}, false
	}
	return c.fault, true
}

func (c *ConditionalLocal) Reset() {
	c.triggered = false
	c.fault = tuple.FaultedTuple{}
}

// CountLocal triggers once its share of the distributed tuple budget is
// consumed. A spent share stays spent across resets; only the latch and
// the recorded tuple are cleared.
type CountLocal struct {
	remaining int64
	triggered bool
	fault     tuple.FaultedTuple
}

// NewCountLocal builds a count evaluator with the given share of the
// total budget.
func NewCountLocal(share int64) *CountLocal {
	return &CountLocal{remaining: share}
}

// Evaluate counts the tuple against the share and latches when the
// share reaches zero, recording the tuple that spent it.
func (c *CountLocal) Evaluate(t tuple.Tuple, tupleID int64, isInput bool) {
	if c.triggered || c.remaining <= 0 {
		return
	}
	c.remaining--
	if c.remaining == 0 {
		c.triggered = true
		c.fault = tuple.FaultedTuple{Tuple: t, TupleID: tupleID, IsInput: isInput}
	}
}

func (c *CountLocal) IsTriggered() bool {
	return c.triggered
}

func (c *CountLocal) Triggered() (tuple.FaultedTuple, bool) {
	if !c.triggered {
		return tuple.FaultedTuple{}, false
	}
	return c.fault, true
}

// Reset clears the latch but never the spent budget: exhaustion is
// permanent for this generation.
func (c *CountLocal) Reset() {
	c.triggered = false
	c.fault = tuple.FaultedTuple{}
}

// Remaining returns the unspent share.
func (c *CountLocal) Remaining() int64 {
	return c.remaining
}
