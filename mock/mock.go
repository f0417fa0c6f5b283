// Package mock provides common test doubles for the breakpoint
// subsystem's transport layer.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/GoCodeAlone/dataflow/transport"
)

// ScriptedRequester fails a fixed number of leading attempts per
// endpoint, then delegates to Next (or returns Reply). It records every
// attempt, which is what retry-bound tests assert on.
type ScriptedRequester struct {
	// FailFirst is the number of leading attempts to fail per endpoint.
	FailFirst int
	// Reply is returned once attempts start succeeding, when Next is nil.
	Reply []byte
	// Next, when set, handles successful attempts.
	Next transport.Requester

	mu       sync.Mutex
	attempts map[transport.Endpoint]int
}

// Request implements transport.Requester.
func (s *ScriptedRequester) Request(ctx context.Context, to transport.Endpoint, payload []byte, timeout time.Duration) ([]byte, error) {
	s.mu.Lock()
	if s.attempts == nil {
		s.attempts = make(map[transport.Endpoint]int)
	}
	s.attempts[to]++
	n := s.attempts[to]
	s.mu.Unlock()

	if n <= s.FailFirst {
		return nil, fmt.Errorf("scripted failure %d for %q", n, to)
	}
	if s.Next != nil {
		return s.Next.Request(ctx, to, payload, timeout)
	}
	return s.Reply, nil
}

// Attempts returns the number of sends recorded for an endpoint.
func (s *ScriptedRequester) Attempts(to transport.Endpoint) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[to]
}

// RecordedRequest is one request observed by a RecordingRequester.
type RecordedRequest struct {
	To      transport.Endpoint
	Payload []byte
}

// RecordingRequester captures every request and delegates to Next (or
// replies with Reply).
type RecordingRequester struct {
	Reply []byte
	Next  transport.Requester

	mu       sync.Mutex
	requests []RecordedRequest
}

// Request implements transport.Requester.
func (r *RecordingRequester) Request(ctx context.Context, to transport.Endpoint, payload []byte, timeout time.Duration) ([]byte, error) {
	r.mu.Lock()
	r.requests = append(r.requests, RecordedRequest{To: to, Payload: append([]byte(nil), payload...)})
	r.mu.Unlock()

	if r.Next != nil {
		return r.Next.Request(ctx, to, payload, timeout)
	}
	return r.Reply, nil
}

// Requests returns a copy of everything recorded so far.
func (r *RecordingRequester) Requests() []RecordedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RecordedRequest, len(r.requests))
	copy(out, r.requests)
	return out
}

// FailingRequester always fails with Err.
type FailingRequester struct {
	Err error
}

// Request implements transport.Requester.
func (f *FailingRequester) Request(_ context.Context, to transport.Endpoint, _ []byte, _ time.Duration) ([]byte, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return nil, fmt.Errorf("request to %q refused", to)
}
