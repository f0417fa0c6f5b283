package breakpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/GoCodeAlone/dataflow/transport"
	"github.com/GoCodeAlone/dataflow/tuple"
)

// GlobalBreakpoint is the coordinator-side object for one breakpoint
// request outstanding across a layer of workers. Implementations are
// kind-specific; all calls on one instance are serialized by the
// coordinator's control path.
type GlobalBreakpoint interface {
	ID() string
	Version() int
	Kind() Kind

	// Partition distributes a kind-specific local breakpoint to every
	// worker in the layer via the retrying request substrate, and
	// returns the workers the breakpoint now covers. Re-partitioning
	// with identical config is idempotent.
	Partition(ctx context.Context, layer []WorkerID) ([]WorkerID, error)

	// Accept records a worker's trigger notice. Notices from a stale
	// version, duplicate notices within a cycle, and notices that do
	// not represent a trigger are ignored.
	Accept(n TriggerNotice)

	// IsTriggered reports whether any worker has triggered since the
	// last reset or report.
	IsTriggered() bool

	// Report drains accumulated triggers into the aggregator with the
	// kind's reason text, clearing the transient collection.
	Report(agg *Aggregator)

	// Reset re-arms the breakpoint, clearing transient trigger state
	// and bumping the version. Kind-specific spent budget survives.
	Reset()

	// IsCompleted is a per-kind extension point: conditional
	// breakpoints never complete; count breakpoints complete
	// permanently once their total budget is spent.
	IsCompleted() bool

	// Covered returns the workers the breakpoint has been assigned to.
	Covered() []WorkerID
}

// globalBase carries the state machine shared by every kind: identity,
// version, coverage, and the transient per-cycle trigger collection.
type globalBase struct {
	id   string
	kind Kind

	mu         sync.Mutex
	version    int
	covered    []WorkerID
	coveredSet map[WorkerID]struct{}
	pending    []TriggerNotice
	pendingSet map[WorkerID]struct{}

	requester transport.Requester
	retry     transport.RetryPolicy
	logger    *slog.Logger
}

func newGlobalBase(id string, kind Kind, requester transport.Requester, retry transport.RetryPolicy, logger *slog.Logger) globalBase {
	if logger == nil {
		logger = slog.Default()
	}
	if retry.MaxAttempts < 1 {
		retry = transport.DefaultRetryPolicy()
	}
	return globalBase{
		id:         id,
		kind:       kind,
		version:    1,
		coveredSet: make(map[WorkerID]struct{}),
		pendingSet: make(map[WorkerID]struct{}),
		requester:  requester,
		retry:      retry,
		logger:     logger,
	}
}

func (g *globalBase) ID() string {
	return g.id
}

func (g *globalBase) Kind() Kind {
	return g.kind
}

func (g *globalBase) Version() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.version
}

func (g *globalBase) IsTriggered() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending) > 0
}

func (g *globalBase) Covered() []WorkerID {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]WorkerID, len(g.covered))
	copy(out, g.covered)
	return out
}

// accept appends a trigger notice to the transient collection in
// arrival order, keeping at most one entry per worker per cycle.
// Returns whether the notice was recorded.
func (g *globalBase) accept(n TriggerNotice) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if n.Version != g.version {
		g.logger.Debug("Stale trigger notice dropped",
			"breakpoint", g.id, "worker", n.Worker,
			"notice_version", n.Version, "version", g.version)
		return false
	}
	if _, dup := g.pendingSet[n.Worker]; dup {
		return false
	}
	g.pendingSet[n.Worker] = struct{}{}
	g.pending = append(g.pending, n)

	g.logger.Info("Breakpoint triggered",
		"breakpoint", g.id, "kind", g.kind,
		"worker", n.Worker, "tuple_id", n.TupleID)
	return true
}

// drain empties the transient collection, returning it.
func (g *globalBase) drain() []TriggerNotice {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := g.pending
	g.pending = nil
	g.pendingSet = make(map[WorkerID]struct{})
	return out
}

// reportWith merges every pending trigger into the aggregator, fixing
// the tuple side per the kind's convention, then clears the collection.
func (g *globalBase) reportWith(agg *Aggregator, reason string, isInput bool) {
	for _, n := range g.drain() {
		ft := tuple.FaultedTuple{Tuple: n.Tuple, TupleID: n.TupleID, IsInput: isInput}
		agg.Merge(n.Worker, ft, reason)
	}
}

// reset clears the transient collection and bumps the version so that
// notices from the previous generation are recognizably stale.
func (g *globalBase) reset() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.pending = nil
	g.pendingSet = make(map[WorkerID]struct{})
	g.version++

	g.logger.Info("Breakpoint reset", "breakpoint", g.id, "version", g.version)
}

// markCovered records a successfully assigned worker, deduplicating
// repeat partitions.
func (g *globalBase) markCovered(w WorkerID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.coveredSet[w]; ok {
		return
	}
	g.coveredSet[w] = struct{}{}
	g.covered = append(g.covered, w)
}

// partitionAssign fans an assignment out to the layer, one logically
// concurrent retrying request per worker. buildReq may return nil to
// skip a worker (zero count share). A worker whose retry budget runs
// out fails the whole partition with an *AssignmentError naming it.
func (g *globalBase) partitionAssign(ctx context.Context, layer []WorkerID, buildReq func(WorkerID) *AssignRequest) ([]WorkerID, error) {
	eg, ctx := errgroup.WithContext(ctx)
	for _, w := range layer {
		req := buildReq(w)
		if req == nil {
			continue
		}
		eg.Go(func() error {
			if err := g.assignOne(ctx, w, req); err != nil {
				return err
			}
			g.markCovered(w)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return g.Covered(), err
	}

	covered := g.Covered()
	g.logger.Info("Breakpoint partitioned",
		"breakpoint", g.id, "kind", g.kind, "workers", len(covered))
	return covered, nil
}

func (g *globalBase) assignOne(ctx context.Context, w WorkerID, req *AssignRequest) error {
	payload := encode(ControlRequest{Assign: req})
	replyData, err := transport.AskWithRetry(ctx, g.requester, w.Endpoint(), payload, g.retry)
	if err != nil {
		return &AssignmentError{Worker: w, BreakpointID: g.id, Err: err}
	}

	var reply ControlReply
	if err := decode(replyData, &reply); err != nil {
		return &AssignmentError{Worker: w, BreakpointID: g.id, Err: err}
	}
	if !reply.OK {
		return &AssignmentError{Worker: w, BreakpointID: g.id, Err: errors.New(reply.Err)}
	}
	return nil
}

// askControl sends one retrying control request to a worker and returns
// the decoded reply. Used by the coordinator for reset/remove fan-out.
func (g *globalBase) askControl(ctx context.Context, w WorkerID, req ControlRequest) (ControlReply, error) {
	replyData, err := transport.AskWithRetry(ctx, g.requester, w.Endpoint(), encode(req), g.retry)
	if err != nil {
		return ControlReply{}, fmt.Errorf("control request to worker %q: %w", w, err)
	}
	var reply ControlReply
	if err := decode(replyData, &reply); err != nil {
		return ControlReply{}, err
	}
	return reply, nil
}
