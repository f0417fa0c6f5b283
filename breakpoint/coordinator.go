package breakpoint

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/GoCodeAlone/dataflow/predicate"
	"github.com/GoCodeAlone/dataflow/transport"
)

// Config is the kind-specific configuration for a breakpoint request.
type Config struct {
	// Expression is the predicate source for conditional breakpoints.
	Expression string `json:"expression,omitempty"`
	// Count is the total tuple budget for count breakpoints.
	Count int64 `json:"count,omitempty"`
}

// Status is a controller-facing snapshot of one breakpoint.
type Status struct {
	ID        string     `json:"id"`
	Kind      Kind       `json:"kind"`
	Version   int        `json:"version"`
	Triggered bool       `json:"triggered"`
	Completed bool       `json:"completed"`
	Covered   []WorkerID `json:"covered"`
}

// Coordinator is the controller-resident registry of global
// breakpoints. It owns the fault aggregator and the diagnostics list,
// serves the notice endpoint workers push to, and serializes all
// breakpoint state mutation on its own control path.
type Coordinator struct {
	mu          sync.Mutex
	breakpoints map[string]GlobalBreakpoint
	agg         *Aggregator
	diags       []DiagnosticNotice

	requester transport.Requester
	retry     transport.RetryPolicy
	endpoint  transport.Endpoint
	logger    *slog.Logger
	metrics   *Metrics
}

// NewCoordinator creates a coordinator using the given request
// substrate. Its notice endpoint name is unique per job execution so
// that notices from a previous run cannot be misrouted into this one.
func NewCoordinator(requester transport.Requester, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		breakpoints: make(map[string]GlobalBreakpoint),
		agg:         NewAggregator(),
		requester:   requester,
		retry:       transport.DefaultRetryPolicy(),
		endpoint:    transport.Endpoint("dataflow.coordinator." + uuid.NewString() + ".notice"),
		logger:      logger,
	}
}

// SetRetryPolicy overrides the default assignment retry policy.
func (c *Coordinator) SetRetryPolicy(p transport.RetryPolicy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retry = p
}

// SetMetrics attaches Prometheus collectors. Optional.
func (c *Coordinator) SetMetrics(m *Metrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = m
}

// Endpoint returns the notice endpoint workers push triggers to.
func (c *Coordinator) Endpoint() transport.Endpoint {
	return c.endpoint
}

// RegisterNoticeEndpoint serves the coordinator's notice endpoint on
// the listener.
func (c *Coordinator) RegisterNoticeEndpoint(l transport.Listener) error {
	return l.Serve(c.endpoint, c.handleNotice)
}

// CreateBreakpoint registers a new global breakpoint. Invalid kind or
// config fails immediately; nothing is retried for logic errors.
func (c *Coordinator) CreateBreakpoint(id string, kind Kind, cfg Config) (GlobalBreakpoint, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty breakpoint id", ErrInvalidConfig)
	}

	c.mu.Lock()
	requester, retry := c.requester, c.retry
	c.mu.Unlock()

	var bp GlobalBreakpoint
	switch kind {
	case KindConditional:
		pred, err := predicate.Compile(cfg.Expression)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		bp = NewConditionalGlobal(id, pred, requester, retry, c.logger)
	case KindCount:
		if cfg.Count < 1 {
			return nil, fmt.Errorf("%w: count must be >= 1, got %d", ErrInvalidConfig, cfg.Count)
		}
		bp = NewCountGlobal(id, cfg.Count, requester, retry, c.logger)
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidConfig, kind)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.breakpoints[id]; exists {
		return nil, fmt.Errorf("create breakpoint %q: %w", id, ErrDuplicateBreakpoint)
	}
	c.breakpoints[id] = bp
	c.metrics.setActive(len(c.breakpoints))

	c.logger.Info("Breakpoint created", "breakpoint", id, "kind", kind)
	return bp, nil
}

// Assign partitions the breakpoint across the worker layer. Exhausting
// the retry budget for any worker surfaces as an *AssignmentError; the
// job is never left with silently partial coverage.
func (c *Coordinator) Assign(ctx context.Context, id string, layer []WorkerID) ([]WorkerID, error) {
	bp, err := c.lookup(id)
	if err != nil {
		return nil, err
	}

	covered, err := bp.Partition(ctx, layer)
	if err != nil {
		c.metrics.incAssignment(bp.Kind(), "error")
		return covered, err
	}
	c.metrics.incAssignment(bp.Kind(), "ok")
	return covered, nil
}

// Accept routes a trigger notice to its breakpoint. An unknown id is a
// coordination bug, signaled distinctly from transport failures.
func (c *Coordinator) Accept(n TriggerNotice) error {
	bp, err := c.lookup(n.ID)
	if err != nil {
		return err
	}
	bp.Accept(n)
	c.metrics.incTrigger(bp.Kind())
	return nil
}

// QueryAndClear reports the breakpoint's accumulated triggers into the
// aggregator, then drains the aggregator for the controller. After the
// call the transient trigger state is empty.
func (c *Coordinator) QueryAndClear(id string) ([]FaultEntry, error) {
	bp, err := c.lookup(id)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	bp.Report(c.agg)
	entries := c.agg.Drain()
	c.metrics.addFaults(len(entries))
	return entries, nil
}

// ResetBreakpoint re-arms the breakpoint and fans the reset out to
// every covered worker. A completed breakpoint cannot be re-armed
// under its current id.
func (c *Coordinator) ResetBreakpoint(ctx context.Context, id string) error {
	bp, err := c.lookup(id)
	if err != nil {
		return err
	}
	if bp.IsCompleted() {
		return fmt.Errorf("reset breakpoint %q: %w", id, ErrCompleted)
	}

	bp.Reset()
	version := bp.Version()
	req := ControlRequest{Reset: &ResetRequest{ID: id, Version: version}}

	return c.controlFanout(ctx, bp.Covered(), req, func(w WorkerID, reply ControlReply) error {
		if !reply.OK {
			return fmt.Errorf("reset breakpoint %q on worker %q: %s", id, w, reply.Err)
		}
		return nil
	})
}

// RemoveBreakpoint deactivates the breakpoint on every covered worker.
// The breakpoint is forgotten, and reported removed, only once every
// worker has confirmed.
func (c *Coordinator) RemoveBreakpoint(ctx context.Context, id string) error {
	bp, err := c.lookup(id)
	if err != nil {
		return err
	}

	req := ControlRequest{Remove: &RemoveRequest{ID: id}}
	err = c.controlFanout(ctx, bp.Covered(), req, func(WorkerID, ControlReply) error {
		// Any decoded reply is a confirmation; Removed=false just
		// means the worker had already dropped the evaluator.
		return nil
	})
	if err != nil {
		return fmt.Errorf("remove breakpoint %q: %w", id, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.breakpoints, id)
	c.metrics.setActive(len(c.breakpoints))

	c.logger.Info("Breakpoint removed", "breakpoint", id)
	return nil
}

// Diagnostics drains the accumulated predicate-failure diagnostics.
func (c *Coordinator) Diagnostics() []DiagnosticNotice {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := c.diags
	c.diags = nil
	return out
}

// Status returns a snapshot of one breakpoint.
func (c *Coordinator) Status(id string) (Status, error) {
	bp, err := c.lookup(id)
	if err != nil {
		return Status{}, err
	}
	return statusOf(bp), nil
}

// List returns snapshots of all breakpoints, ordered by id.
func (c *Coordinator) List() []Status {
	c.mu.Lock()
	bps := make([]GlobalBreakpoint, 0, len(c.breakpoints))
	for _, bp := range c.breakpoints {
		bps = append(bps, bp)
	}
	c.mu.Unlock()

	out := make([]Status, 0, len(bps))
	for _, bp := range bps {
		out = append(out, statusOf(bp))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func statusOf(bp GlobalBreakpoint) Status {
	return Status{
		ID:        bp.ID(),
		Kind:      bp.Kind(),
		Version:   bp.Version(),
		Triggered: bp.IsTriggered(),
		Completed: bp.IsCompleted(),
		Covered:   bp.Covered(),
	}
}

func (c *Coordinator) lookup(id string) (GlobalBreakpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bp, ok := c.breakpoints[id]
	if !ok {
		return nil, fmt.Errorf("breakpoint %q: %w", id, ErrUnknownBreakpoint)
	}
	return bp, nil
}

// controlFanout sends one retrying control request to each worker and
// applies check to every confirmed reply.
func (c *Coordinator) controlFanout(ctx context.Context, workers []WorkerID, req ControlRequest, check func(WorkerID, ControlReply) error) error {
	c.mu.Lock()
	requester, retry := c.requester, c.retry
	c.mu.Unlock()

	payload := encode(req)
	eg, ctx := errgroup.WithContext(ctx)
	for _, w := range workers {
		eg.Go(func() error {
			replyData, err := transport.AskWithRetry(ctx, requester, w.Endpoint(), payload, retry)
			if err != nil {
				return fmt.Errorf("control request to worker %q: %w", w, err)
			}
			var reply ControlReply
			if err := decode(replyData, &reply); err != nil {
				return fmt.Errorf("control reply from worker %q: %w", w, err)
			}
			return check(w, reply)
		})
	}
	return eg.Wait()
}

// handleNotice serves the coordinator's notice endpoint. Logic errors
// (unknown breakpoint) are reported in the reply body rather than
// suppressing the reply, so workers do not retry them.
func (c *Coordinator) handleNotice(_ context.Context, payload []byte) ([]byte, error) {
	var n Notice
	if err := decode(payload, &n); err != nil {
		return encode(NoticeReply{OK: false, Err: err.Error()}), nil
	}

	switch {
	case n.Trigger != nil:
		if err := c.Accept(*n.Trigger); err != nil {
			c.logger.Warn("Trigger notice rejected",
				"breakpoint", n.Trigger.ID, "worker", n.Trigger.Worker, "error", err)
			return encode(NoticeReply{OK: false, Err: err.Error()}), nil
		}
	case n.Diagnostic != nil:
		c.mu.Lock()
		c.diags = append(c.diags, *n.Diagnostic)
		c.mu.Unlock()
		c.metrics.incDiagnostic()
		c.logger.Warn("Predicate diagnostic received",
			"breakpoint", n.Diagnostic.ID, "worker", n.Diagnostic.Worker,
			"tuple_id", n.Diagnostic.TupleID, "error", n.Diagnostic.Err)
	default:
		return encode(NoticeReply{OK: false, Err: "empty notice"}), nil
	}

	return encode(NoticeReply{OK: true}), nil
}
