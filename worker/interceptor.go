package worker

import "github.com/GoCodeAlone/dataflow/tuple"

// TupleInterceptor is the hook the operator execution engine calls once
// per tuple on a worker's processing path, in arrival order. If nil, no
// breakpoint checking occurs and processing proceeds normally.
//
// Evaluate never blocks: it is a synchronous in-memory check whose cost
// is bounded by the installed predicates, so it cannot become the
// pipeline's bottleneck.
type TupleInterceptor interface {
	Evaluate(t tuple.Tuple, tupleID int64, isInput bool)
}
