package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSTransport implements Transport over NATS request/reply. Each
// Endpoint maps to a NATS subject; replies ride the per-request inbox.
type NATSTransport struct {
	url           string
	conn          *nats.Conn
	subscriptions map[Endpoint]*nats.Subscription
	handlers      map[Endpoint]Handler
	mu            sync.RWMutex
	logger        *slog.Logger
}

// NewNATSTransport creates a NATS transport for the given server URL.
// An empty URL falls back to the NATS default.
func NewNATSTransport(url string, logger *slog.Logger) *NATSTransport {
	if url == "" {
		url = nats.DefaultURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSTransport{
		url:           url,
		subscriptions: make(map[Endpoint]*nats.Subscription),
		handlers:      make(map[Endpoint]Handler),
		logger:        logger,
	}
}

// Start connects to NATS and activates any pending endpoint handlers.
func (t *NATSTransport) Start(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	conn, err := nats.Connect(t.url)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", t.url, err)
	}
	t.conn = conn

	for at, handler := range t.handlers {
		sub, subErr := t.subscribe(at, handler)
		if subErr != nil {
			return subErr
		}
		t.subscriptions[at] = sub
	}

	t.logger.Info("NATS transport started", "url", t.url)
	return nil
}

// Stop unsubscribes all endpoints and closes the connection.
func (t *NATSTransport) Stop(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for at, sub := range t.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			t.logger.Error("Failed to unsubscribe", "endpoint", at, "error", err)
		}
		delete(t.subscriptions, at)
	}

	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}

	t.logger.Info("NATS transport stopped")
	return nil
}

// Serve registers a handler for an endpoint. If the transport is
// already connected, the subscription is activated immediately.
func (t *NATSTransport) Serve(at Endpoint, h Handler) error {
	if h == nil {
		return fmt.Errorf("nil handler for endpoint %q", at)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.handlers[at] = h

	if t.conn != nil {
		sub, err := t.subscribe(at, h)
		if err != nil {
			return err
		}
		t.subscriptions[at] = sub
	}

	t.logger.Info("Handler registered for endpoint", "endpoint", at)
	return nil
}

// subscribe wires a handler to a subject. A handler error suppresses
// the reply so the requester times out and retries.
func (t *NATSTransport) subscribe(at Endpoint, h Handler) (*nats.Subscription, error) {
	sub, err := t.conn.Subscribe(string(at), func(msg *nats.Msg) {
		reply, handleErr := h(context.Background(), msg.Data)
		if handleErr != nil {
			t.logger.Error("Error handling request", "endpoint", at, "error", handleErr)
			return
		}
		if respondErr := msg.Respond(reply); respondErr != nil {
			t.logger.Error("Failed to send reply", "endpoint", at, "error", respondErr)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to endpoint %q: %w", at, err)
	}
	return sub, nil
}

// Shutdown removes the handler for an endpoint.
func (t *NATSTransport) Shutdown(at Endpoint) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if sub, ok := t.subscriptions[at]; ok {
		if err := sub.Unsubscribe(); err != nil {
			return fmt.Errorf("failed to unsubscribe from endpoint %q: %w", at, err)
		}
		delete(t.subscriptions, at)
	}
	delete(t.handlers, at)
	return nil
}

// Request sends a request to the endpoint's subject and awaits the
// reply within the timeout.
func (t *NATSTransport) Request(ctx context.Context, to Endpoint, payload []byte, timeout time.Duration) ([]byte, error) {
	t.mu.RLock()
	conn := t.conn
	t.mu.RUnlock()

	if conn == nil {
		return nil, fmt.Errorf("NATS connection not established; call Start first")
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	msg, err := conn.RequestWithContext(ctx, string(to), payload)
	if err != nil {
		return nil, fmt.Errorf("request to %q: %w", to, err)
	}
	return msg.Data, nil
}
