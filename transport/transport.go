// Package transport provides the point-to-point request/reply substrate
// the breakpoint protocol runs on: named endpoints, per-message
// timeouts, and a bounded-retry ask primitive. Delivery is
// at-least-once; callers design their requests to be safe to apply more
// than once.
package transport

import (
	"context"
	"time"
)

// Endpoint is the name of a reachable remote endpoint.
type Endpoint string

// Handler processes one request payload and returns the reply payload.
// Returning an error suppresses the reply; the requester will time out
// and retry, which is how transient handler failures surface.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// Requester sends a request to an endpoint and awaits a single reply
// within the given timeout.
type Requester interface {
	Request(ctx context.Context, to Endpoint, payload []byte, timeout time.Duration) ([]byte, error)
}

// Listener registers handlers for named endpoints.
type Listener interface {
	Serve(at Endpoint, h Handler) error
	Shutdown(at Endpoint) error
}

// Transport is the combined requester/listener surface with lifecycle.
type Transport interface {
	Requester
	Listener
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
