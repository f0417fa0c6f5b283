// Package breakpoint implements the distributed breakpoint protocol:
// coordinator-side global breakpoints that span a layer of workers,
// worker-side local evaluators, and the fault aggregation that turns
// trigger notices into a controller-facing report.
package breakpoint

import (
	"encoding/json"
	"fmt"

	"github.com/GoCodeAlone/dataflow/transport"
	"github.com/GoCodeAlone/dataflow/tuple"
)

// WorkerID is an opaque, comparable worker handle. Its value doubles as
// the worker's control endpoint name.
type WorkerID string

// Endpoint returns the transport endpoint serving this worker's control
// requests.
func (w WorkerID) Endpoint() transport.Endpoint {
	return transport.Endpoint("dataflow.worker." + string(w) + ".control")
}

// Kind identifies a breakpoint variant.
type Kind string

const (
	// KindConditional breaks on the first tuple satisfying a predicate.
	KindConditional Kind = "conditional"
	// KindCount breaks once a tuple budget has been consumed.
	KindCount Kind = "count"
)

// Valid reports whether the kind is one the protocol understands.
func (k Kind) Valid() bool {
	return k == KindConditional || k == KindCount
}

// AssignRequest installs (or re-installs) a local breakpoint on a
// worker. Re-delivery of an identical assignment is a no-op on the
// worker, which is what makes the retrying delivery safe.
type AssignRequest struct {
	ID         string `json:"id"`
	Version    int    `json:"version"`
	Kind       Kind   `json:"kind"`
	Expression string `json:"expression,omitempty"`
	CountShare int64  `json:"count_share,omitempty"`
}

// RemoveRequest uninstalls a local breakpoint.
type RemoveRequest struct {
	ID string `json:"id"`
}

// ResetRequest re-arms a local breakpoint under a new version.
type ResetRequest struct {
	ID      string `json:"id"`
	Version int    `json:"version"`
}

// ControlRequest is the envelope carried on a worker's control
// endpoint. Exactly one field is set.
type ControlRequest struct {
	Assign *AssignRequest `json:"assign,omitempty"`
	Remove *RemoveRequest `json:"remove,omitempty"`
	Reset  *ResetRequest  `json:"reset,omitempty"`
}

// ControlReply acknowledges a control request. OK=false with Err set
// signals a logic error (bad expression, unknown id) that must not be
// retried.
type ControlReply struct {
	OK      bool   `json:"ok"`
	Removed bool   `json:"removed,omitempty"`
	Err     string `json:"err,omitempty"`
}

// TriggerNotice is pushed by a worker whose local breakpoint latched.
type TriggerNotice struct {
	ID        string      `json:"id"`
	Version   int         `json:"version"`
	Worker    WorkerID    `json:"worker"`
	Tuple     tuple.Tuple `json:"tuple"`
	TupleID   int64       `json:"tuple_id"`
	IsInput   bool        `json:"is_input"`
	Remaining int64       `json:"remaining,omitempty"`
}

// DiagnosticNotice reports a predicate evaluation failure inside a
// worker. Diagnostics are kept apart from fault reports.
type DiagnosticNotice struct {
	ID      string   `json:"id"`
	Version int      `json:"version"`
	Worker  WorkerID `json:"worker"`
	TupleID int64    `json:"tuple_id"`
	Err     string   `json:"err"`
}

// Notice is the envelope carried on the coordinator's notice endpoint.
type Notice struct {
	Trigger    *TriggerNotice    `json:"trigger,omitempty"`
	Diagnostic *DiagnosticNotice `json:"diagnostic,omitempty"`
}

// NoticeReply acknowledges a notice.
type NoticeReply struct {
	OK  bool   `json:"ok"`
	Err string `json:"err,omitempty"`
}

func encode(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// All wire types marshal cleanly; a failure here is a
		// programming error in this package.
		panic(fmt.Sprintf("encode %T: %v", v, err))
	}
	return data
}

func decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return nil
}
