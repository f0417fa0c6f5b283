// Package worker hosts the worker-side breakpoint runtime: it installs
// local evaluators from coordinator control requests, exposes the
// per-tuple evaluation hook to the execution engine, and pushes trigger
// and diagnostic notices back to the coordinator.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/GoCodeAlone/dataflow/breakpoint"
	"github.com/GoCodeAlone/dataflow/predicate"
	"github.com/GoCodeAlone/dataflow/transport"
	"github.com/GoCodeAlone/dataflow/tuple"
)

// Worker owns the local breakpoints for one pipeline worker. Local
// breakpoints are never shared across workers; all coordination runs
// through the coordinator's endpoints.
type Worker struct {
	id          breakpoint.WorkerID
	requester   transport.Requester
	retry       transport.RetryPolicy
	coordinator transport.Endpoint
	logger      *slog.Logger

	mu        sync.Mutex
	installed map[string]*installedBreakpoint

	notices sync.WaitGroup
}

// installedBreakpoint tracks one evaluator plus the assignment it came
// from, so redelivered identical assignments can be recognized.
type installedBreakpoint struct {
	version    int
	kind       breakpoint.Kind
	expression string
	share      int64
	local      breakpoint.LocalBreakpoint
	notified   bool
}

// Compile-time check that Worker can serve as the engine's hook.
var _ TupleInterceptor = (*Worker)(nil)

// New creates a worker runtime pushing notices to the given coordinator
// endpoint.
func New(id breakpoint.WorkerID, requester transport.Requester, coordinator transport.Endpoint, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		id:          id,
		requester:   requester,
		retry:       transport.DefaultRetryPolicy(),
		coordinator: coordinator,
		logger:      logger,
		installed:   make(map[string]*installedBreakpoint),
	}
}

// ID returns the worker's handle.
func (w *Worker) ID() breakpoint.WorkerID {
	return w.id
}

// SetRetryPolicy overrides the default notice delivery retry policy.
func (w *Worker) SetRetryPolicy(p transport.RetryPolicy) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.retry = p
}

// Register serves the worker's control endpoint on the listener.
func (w *Worker) Register(l transport.Listener) error {
	return l.Serve(w.id.Endpoint(), w.handleControl)
}

// Evaluate is the per-tuple hook. It consults every installed local
// breakpoint in place and, on a fresh trigger, dispatches the notice to
// the coordinator without blocking the tuple-processing path.
func (w *Worker) Evaluate(t tuple.Tuple, tupleID int64, isInput bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for id, inst := range w.installed {
		inst.local.Evaluate(t, tupleID, isInput)
		if !inst.notified && inst.local.IsTriggered() {
			inst.notified = true
			fault, _ := inst.local.Triggered()

			notice := breakpoint.TriggerNotice{
				ID:      id,
				Version: inst.version,
				Worker:  w.id,
				Tuple:   fault.Tuple,
				TupleID: fault.TupleID,
				IsInput: fault.IsInput,
			}
			if cl, ok := inst.local.(*breakpoint.CountLocal); ok {
				notice.Remaining = cl.Remaining()
			}
			w.pushNotice(breakpoint.Notice{Trigger: &notice})
		}
	}
}

// Flush waits for in-flight notice deliveries. Called by the engine on
// drain and by tests that need delivery to have settled.
func (w *Worker) Flush() {
	w.notices.Wait()
}

// pushNotice delivers a notice to the coordinator on a separate
// goroutine so tuple evaluation never waits on the network.
func (w *Worker) pushNotice(n breakpoint.Notice) {
	payload, err := json.Marshal(n)
	if err != nil {
		w.logger.Error("Failed to encode notice", "worker", w.id, "error", err)
		return
	}
	retry := w.retry

	w.notices.Add(1)
	go func() {
		defer w.notices.Done()

		replyData, err := transport.AskWithRetry(context.Background(), w.requester, w.coordinator, payload, retry)
		if err != nil {
			w.logger.Error("Failed to deliver notice", "worker", w.id, "error", err)
			return
		}
		var reply breakpoint.NoticeReply
		if err := json.Unmarshal(replyData, &reply); err != nil {
			w.logger.Error("Bad notice acknowledgement", "worker", w.id, "error", err)
			return
		}
		if !reply.OK {
			w.logger.Warn("Notice rejected by coordinator", "worker", w.id, "reason", reply.Err)
		}
	}()
}

// handleControl serves assignment, removal and reset requests on the
// worker's control endpoint. Applying any of them twice is safe, which
// is what the at-least-once substrate requires.
func (w *Worker) handleControl(_ context.Context, payload []byte) ([]byte, error) {
	var req breakpoint.ControlRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return w.reply(breakpoint.ControlReply{OK: false, Err: fmt.Sprintf("decode control request: %v", err)})
	}

	switch {
	case req.Assign != nil:
		return w.reply(w.applyAssign(req.Assign))
	case req.Remove != nil:
		return w.reply(w.applyRemove(req.Remove))
	case req.Reset != nil:
		return w.reply(w.applyReset(req.Reset))
	default:
		return w.reply(breakpoint.ControlReply{OK: false, Err: "empty control request"})
	}
}

func (w *Worker) reply(r breakpoint.ControlReply) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode control reply: %w", err)
	}
	return data, nil
}

// applyAssign installs a local breakpoint. Redelivery of the identical
// assignment is a no-op; a newer version replaces the evaluator.
func (w *Worker) applyAssign(req *breakpoint.AssignRequest) breakpoint.ControlReply {
	w.mu.Lock()
	defer w.mu.Unlock()

	if existing, ok := w.installed[req.ID]; ok {
		if existing.version == req.Version &&
			existing.kind == req.Kind &&
			existing.expression == req.Expression &&
			existing.share == req.CountShare {
			return breakpoint.ControlReply{OK: true}
		}
		if req.Version < existing.version {
			// A late duplicate from a superseded generation;
			// acknowledging it changes nothing.
			return breakpoint.ControlReply{OK: true}
		}
	}

	var local breakpoint.LocalBreakpoint
	switch req.Kind {
	case breakpoint.KindConditional:
		pred, err := predicate.Compile(req.Expression)
		if err != nil {
			return breakpoint.ControlReply{OK: false, Err: err.Error()}
		}
		id := req.ID
		inst := &installedBreakpoint{}
		local = breakpoint.NewConditionalLocal(pred, func(tupleID int64, evalErr error) {
			w.pushDiagnostic(id, inst.version, tupleID, evalErr)
		})
		inst.version = req.Version
		inst.kind = req.Kind
		inst.expression = req.Expression
		inst.local = local
		w.installed[req.ID] = inst
		w.logger.Info("Breakpoint installed", "worker", w.id, "breakpoint", req.ID, "kind", req.Kind)
		return breakpoint.ControlReply{OK: true}
	case breakpoint.KindCount:
		if req.CountShare < 1 {
			return breakpoint.ControlReply{OK: false, Err: fmt.Sprintf("count share must be >= 1, got %d", req.CountShare)}
		}
		local = breakpoint.NewCountLocal(req.CountShare)
	default:
		return breakpoint.ControlReply{OK: false, Err: fmt.Sprintf("unknown breakpoint kind %q", req.Kind)}
	}

	w.installed[req.ID] = &installedBreakpoint{
		version: req.Version,
		kind:    req.Kind,
		share:   req.CountShare,
		local:   local,
	}
	w.logger.Info("Breakpoint installed", "worker", w.id, "breakpoint", req.ID, "kind", req.Kind)
	return breakpoint.ControlReply{OK: true}
}

// applyRemove uninstalls a local breakpoint. Removing an unknown id is
// confirmed as already removed.
func (w *Worker) applyRemove(req *breakpoint.RemoveRequest) breakpoint.ControlReply {
	w.mu.Lock()
	defer w.mu.Unlock()

	_, existed := w.installed[req.ID]
	delete(w.installed, req.ID)
	if existed {
		w.logger.Info("Breakpoint uninstalled", "worker", w.id, "breakpoint", req.ID)
	}
	return breakpoint.ControlReply{OK: true, Removed: existed}
}

// applyReset re-arms a local breakpoint under the new version.
func (w *Worker) applyReset(req *breakpoint.ResetRequest) breakpoint.ControlReply {
	w.mu.Lock()
	defer w.mu.Unlock()

	inst, ok := w.installed[req.ID]
	if !ok {
		return breakpoint.ControlReply{OK: false, Err: fmt.Sprintf("unknown breakpoint id %q", req.ID)}
	}
	inst.local.Reset()
	inst.version = req.Version
	inst.notified = false

	w.logger.Info("Breakpoint re-armed", "worker", w.id, "breakpoint", req.ID, "version", req.Version)
	return breakpoint.ControlReply{OK: true}
}

// pushDiagnostic reports a predicate evaluation failure upward, apart
// from the fault path.
func (w *Worker) pushDiagnostic(id string, version int, tupleID int64, err error) {
	w.logger.Warn("Predicate evaluation failed",
		"worker", w.id, "breakpoint", id, "tuple_id", tupleID, "error", err)

	w.pushNotice(breakpoint.Notice{Diagnostic: &breakpoint.DiagnosticNotice{
		ID:      id,
		Version: version,
		Worker:  w.id,
		TupleID: tupleID,
		Err:     err.Error(),
	}})
}
