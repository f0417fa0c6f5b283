package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/GoCodeAlone/dataflow/breakpoint"
	"github.com/GoCodeAlone/dataflow/mock"
	"github.com/GoCodeAlone/dataflow/transport"
	"github.com/GoCodeAlone/dataflow/tuple"
)

const coordEndpoint = transport.Endpoint("test.coordinator.notice")

func newTestWorker(t *testing.T) (*Worker, *mock.RecordingRequester) {
	t.Helper()

	ack, err := json.Marshal(breakpoint.NoticeReply{OK: true})
	if err != nil {
		t.Fatalf("marshal ack: %v", err)
	}
	req := &mock.RecordingRequester{Reply: ack}
	w := New("worker-1", req, coordEndpoint, nil)
	w.SetRetryPolicy(transport.RetryPolicy{MaxAttempts: 2, AttemptTimeout: time.Second})
	return w, req
}

func control(t *testing.T, w *Worker, req breakpoint.ControlRequest) breakpoint.ControlReply {
	t.Helper()

	payload, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal control request: %v", err)
	}
	replyData, err := w.handleControl(context.Background(), payload)
	if err != nil {
		t.Fatalf("control handler failed: %v", err)
	}
	var reply breakpoint.ControlReply
	if err := json.Unmarshal(replyData, &reply); err != nil {
		t.Fatalf("decode control reply: %v", err)
	}
	return reply
}

func assignConditional(t *testing.T, w *Worker, id string, version int, expression string) {
	t.Helper()
	reply := control(t, w, breakpoint.ControlRequest{Assign: &breakpoint.AssignRequest{
		ID: id, Version: version, Kind: breakpoint.KindConditional, Expression: expression,
	}})
	if !reply.OK {
		t.Fatalf("assignment rejected: %s", reply.Err)
	}
}

func notices(t *testing.T, req *mock.RecordingRequester) []breakpoint.Notice {
	t.Helper()

	var out []breakpoint.Notice
	for _, r := range req.Requests() {
		if r.To != coordEndpoint {
			t.Fatalf("notice sent to unexpected endpoint %q", r.To)
		}
		var n breakpoint.Notice
		if err := json.Unmarshal(r.Payload, &n); err != nil {
			t.Fatalf("decode notice: %v", err)
		}
		out = append(out, n)
	}
	return out
}

func TestWorkerEvaluateTriggersNotice(t *testing.T) {
	w, req := newTestWorker(t)
	assignConditional(t, w, "bp-1", 1, "value > 100")

	w.Evaluate(tuple.Tuple{"value": 50}, 1, false)
	w.Evaluate(tuple.Tuple{"value": 150}, 7, false)
	w.Flush()

	ns := notices(t, req)
	if len(ns) != 1 {
		t.Fatalf("expected one notice, got %d", len(ns))
	}
	n := ns[0].Trigger
	if n == nil {
		t.Fatal("expected a trigger notice")
	}
	if n.ID != "bp-1" || n.Version != 1 || n.Worker != "worker-1" {
		t.Errorf("unexpected notice header %+v", n)
	}
	if n.TupleID != 7 || n.IsInput {
		t.Errorf("unexpected faulted tuple fields %+v", n)
	}
}

func TestWorkerNotifiesOncePerCycle(t *testing.T) {
	w, req := newTestWorker(t)
	assignConditional(t, w, "bp-1", 1, "value > 100")

	w.Evaluate(tuple.Tuple{"value": 150}, 1, false)
	w.Evaluate(tuple.Tuple{"value": 200}, 2, false)
	w.Evaluate(tuple.Tuple{"value": 300}, 3, false)
	w.Flush()

	if ns := notices(t, req); len(ns) != 1 {
		t.Errorf("expected a single notice for the latched trigger, got %d", len(ns))
	}
}

func TestWorkerAssignIdempotent(t *testing.T) {
	w, req := newTestWorker(t)
	assignConditional(t, w, "bp-1", 1, "value > 100")

	// Trigger, then redeliver the identical assignment.
	w.Evaluate(tuple.Tuple{"value": 150}, 1, false)
	w.Flush()
	assignConditional(t, w, "bp-1", 1, "value > 100")

	// The evaluator was not replaced: the latch still holds.
	w.Evaluate(tuple.Tuple{"value": 200}, 2, false)
	w.Flush()
	if ns := notices(t, req); len(ns) != 1 {
		t.Errorf("redelivered assignment must not re-arm, got %d notices", len(ns))
	}
}

func TestWorkerAssignStaleVersionAcked(t *testing.T) {
	w, _ := newTestWorker(t)
	assignConditional(t, w, "bp-1", 3, "value > 100")

	reply := control(t, w, breakpoint.ControlRequest{Assign: &breakpoint.AssignRequest{
		ID: "bp-1", Version: 1, Kind: breakpoint.KindConditional, Expression: "value > 5",
	}})
	if !reply.OK {
		t.Fatalf("stale assignment must be acked, got %s", reply.Err)
	}

	// The current evaluator still uses the newer predicate.
	w.Evaluate(tuple.Tuple{"value": 50}, 1, false)
	w.Flush()
	w.mu.Lock()
	triggered := w.installed["bp-1"].local.IsTriggered()
	w.mu.Unlock()
	if triggered {
		t.Error("stale assignment must not replace the evaluator")
	}
}

func TestWorkerAssignRejectsBadConfig(t *testing.T) {
	w, _ := newTestWorker(t)

	reply := control(t, w, breakpoint.ControlRequest{Assign: &breakpoint.AssignRequest{
		ID: "bp-1", Version: 1, Kind: breakpoint.KindConditional, Expression: "value >",
	}})
	if reply.OK {
		t.Error("unparsable predicate must be rejected")
	}

	reply = control(t, w, breakpoint.ControlRequest{Assign: &breakpoint.AssignRequest{
		ID: "bp-2", Version: 1, Kind: breakpoint.KindCount, CountShare: 0,
	}})
	if reply.OK {
		t.Error("zero count share must be rejected")
	}

	reply = control(t, w, breakpoint.ControlRequest{Assign: &breakpoint.AssignRequest{
		ID: "bp-3", Version: 1, Kind: breakpoint.Kind("tracepoint"),
	}})
	if reply.OK {
		t.Error("unknown kind must be rejected")
	}
}

func TestWorkerRemove(t *testing.T) {
	w, req := newTestWorker(t)
	assignConditional(t, w, "bp-1", 1, "value > 100")

	reply := control(t, w, breakpoint.ControlRequest{Remove: &breakpoint.RemoveRequest{ID: "bp-1"}})
	if !reply.OK || !reply.Removed {
		t.Fatalf("expected confirmed removal, got %+v", reply)
	}

	// Removing again confirms without claiming anything was dropped.
	reply = control(t, w, breakpoint.ControlRequest{Remove: &breakpoint.RemoveRequest{ID: "bp-1"}})
	if !reply.OK || reply.Removed {
		t.Errorf("expected idempotent removal ack, got %+v", reply)
	}

	w.Evaluate(tuple.Tuple{"value": 999}, 1, false)
	w.Flush()
	if ns := notices(t, req); len(ns) != 0 {
		t.Errorf("removed breakpoint must not fire, got %d notices", len(ns))
	}
}

func TestWorkerResetReArms(t *testing.T) {
	w, req := newTestWorker(t)
	assignConditional(t, w, "bp-1", 1, "value > 100")

	w.Evaluate(tuple.Tuple{"value": 150}, 1, false)
	w.Flush()

	reply := control(t, w, breakpoint.ControlRequest{Reset: &breakpoint.ResetRequest{ID: "bp-1", Version: 2}})
	if !reply.OK {
		t.Fatalf("reset rejected: %s", reply.Err)
	}

	w.Evaluate(tuple.Tuple{"value": 200}, 9, false)
	w.Flush()

	ns := notices(t, req)
	if len(ns) != 2 {
		t.Fatalf("expected a notice per generation, got %d", len(ns))
	}
	second := ns[1].Trigger
	if second == nil || second.Version != 2 || second.TupleID != 9 {
		t.Errorf("unexpected post-reset notice %+v", ns[1])
	}
}

func TestWorkerResetUnknownRejected(t *testing.T) {
	w, _ := newTestWorker(t)

	reply := control(t, w, breakpoint.ControlRequest{Reset: &breakpoint.ResetRequest{ID: "nope", Version: 2}})
	if reply.OK {
		t.Error("resetting an unknown breakpoint must fail")
	}
}

func TestWorkerCountShareNotice(t *testing.T) {
	w, req := newTestWorker(t)

	reply := control(t, w, breakpoint.ControlRequest{Assign: &breakpoint.AssignRequest{
		ID: "cnt-1", Version: 1, Kind: breakpoint.KindCount, CountShare: 2,
	}})
	if !reply.OK {
		t.Fatalf("assignment rejected: %s", reply.Err)
	}

	w.Evaluate(tuple.Tuple{"seq": 1}, 1, true)
	w.Flush()
	if ns := notices(t, req); len(ns) != 0 {
		t.Fatalf("share not yet spent, got %d notices", len(ns))
	}

	w.Evaluate(tuple.Tuple{"seq": 2}, 2, true)
	w.Flush()

	ns := notices(t, req)
	if len(ns) != 1 {
		t.Fatalf("expected one notice at exhaustion, got %d", len(ns))
	}
	n := ns[0].Trigger
	if n == nil || n.TupleID != 2 || !n.IsInput {
		t.Fatalf("unexpected notice %+v", ns[0])
	}
	if n.Remaining != 0 {
		t.Errorf("expected no share remaining, got %d", n.Remaining)
	}
}

func TestWorkerPushesDiagnostics(t *testing.T) {
	w, req := newTestWorker(t)
	assignConditional(t, w, "bp-1", 1, `value["x"] > 10`)

	w.Evaluate(tuple.Tuple{"value": 5}, 42, false)
	w.Flush()

	ns := notices(t, req)
	if len(ns) != 1 {
		t.Fatalf("expected one diagnostic notice, got %d", len(ns))
	}
	d := ns[0].Diagnostic
	if d == nil {
		t.Fatal("expected a diagnostic notice")
	}
	if d.ID != "bp-1" || d.Worker != "worker-1" || d.TupleID != 42 || d.Err == "" {
		t.Errorf("unexpected diagnostic %+v", d)
	}
}

func TestWorkerEmptyControlRequestRejected(t *testing.T) {
	w, _ := newTestWorker(t)

	reply := control(t, w, breakpoint.ControlRequest{})
	if reply.OK {
		t.Error("empty control envelope must be rejected")
	}
}
