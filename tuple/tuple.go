// Package tuple defines the record types flowing through the dataflow
// pipeline as seen by the breakpoint subsystem: the opaque tuple payload
// and the FaultedTuple identity used to key fault reports.
package tuple

import (
	"encoding/json"
	"fmt"
)

// Tuple is an opaque record payload. The breakpoint subsystem never
// interprets field values beyond predicate evaluation.
type Tuple map[string]any

// Key returns a canonical string form of the tuple, stable across
// identical payloads. encoding/json sorts map keys, so two equal
// tuples always produce the same key.
func (t Tuple) Key() string {
	data, err := json.Marshal(t)
	if err != nil {
		// Marshal only fails on unsupported value types; fall back to
		// the fmt rendering rather than losing the entry.
		return fmt.Sprintf("%v", map[string]any(t))
	}
	return string(data)
}

// FaultedTuple identifies one tuple instance that triggered (or is a
// candidate for) a breakpoint. It is immutable once built.
type FaultedTuple struct {
	Tuple   Tuple `json:"tuple"`
	TupleID int64 `json:"tuple_id"`
	IsInput bool  `json:"is_input"`
}

// Key returns a comparable identity for the faulted tuple. Two
// FaultedTuple values are equal iff payload, tuple id and side match.
func (f FaultedTuple) Key() string {
	return fmt.Sprintf("%s|%d|%t", f.Tuple.Key(), f.TupleID, f.IsInput)
}

// Equal reports whether two faulted tuples have the same identity.
func (f FaultedTuple) Equal(other FaultedTuple) bool {
	return f.Key() == other.Key()
}
