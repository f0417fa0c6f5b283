package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// InprocTransport is an in-memory Transport for single-process engines
// and tests. Handler invocations are serialized per endpoint, matching
// the one-mailbox-at-a-time discipline workers and the coordinator
// assume.
type InprocTransport struct {
	mu        sync.RWMutex
	endpoints map[Endpoint]*inprocEndpoint
	logger    *slog.Logger
}

type inprocEndpoint struct {
	mu      sync.Mutex
	handler Handler
}

// NewInprocTransport creates an empty in-process transport.
func NewInprocTransport(logger *slog.Logger) *InprocTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &InprocTransport{
		endpoints: make(map[Endpoint]*inprocEndpoint),
		logger:    logger,
	}
}

// Serve registers a handler for an endpoint. Re-registering replaces
// the previous handler.
func (t *InprocTransport) Serve(at Endpoint, h Handler) error {
	if h == nil {
		return fmt.Errorf("nil handler for endpoint %q", at)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.endpoints[at] = &inprocEndpoint{handler: h}
	t.logger.Debug("Endpoint registered", "endpoint", at)
	return nil
}

// Shutdown removes an endpoint. Requests to it fail afterwards.
func (t *InprocTransport) Shutdown(at Endpoint) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.endpoints[at]; !ok {
		return fmt.Errorf("endpoint %q not registered", at)
	}
	delete(t.endpoints, at)
	t.logger.Debug("Endpoint removed", "endpoint", at)
	return nil
}

// Request delivers the payload to the endpoint's handler and returns
// its reply. The timeout bounds the whole handler invocation.
func (t *InprocTransport) Request(ctx context.Context, to Endpoint, payload []byte, timeout time.Duration) ([]byte, error) {
	t.mu.RLock()
	ep, ok := t.endpoints[to]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("endpoint %q unreachable", to)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		reply []byte
		err   error
	}
	done := make(chan result, 1)
	go func() {
		ep.mu.Lock()
		defer ep.mu.Unlock()
		reply, err := ep.handler(ctx, payload)
		done <- result{reply, err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("request to %q: %w", to, ctx.Err())
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("request to %q: %w", to, res.err)
		}
		return res.reply, nil
	}
}

// Start is a no-op; the in-process transport is always ready.
func (t *InprocTransport) Start(_ context.Context) error { return nil }

// Stop removes all endpoints.
func (t *InprocTransport) Stop(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.endpoints = make(map[Endpoint]*inprocEndpoint)
	return nil
}
