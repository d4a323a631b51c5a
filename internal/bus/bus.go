// Package bus wraps the NATS connection the worker uses to receive
// assignments and publish results, heartbeats, and dead-letters.
package bus

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// Conn is a thin wrapper over *nats.Conn that adds the capped exponential
// backoff connect sequence the supervisor needs at startup.
type Conn struct {
	nc *nats.Conn
}

const (
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 30 * time.Second
)

// Connect dials url, retrying indefinitely with capped exponential backoff
// (500ms doubling, capped at 30s) until ctx is cancelled. onAttempt is
// called before each attempt.
func Connect(ctx context.Context, url string, onAttempt func()) (*Conn, error) {
	backoff := initialBackoff
	for {
		if onAttempt != nil {
			onAttempt()
		}
		nc, err := nats.Connect(url, nats.MaxReconnects(-1), nats.ReconnectWait(2*time.Second))
		if err == nil {
			return &Conn{nc: nc}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("bus: connect cancelled: %w", ctx.Err())
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// Publish sends data on subject.
func (c *Conn) Publish(subject string, data []byte) error {
	return c.nc.Publish(subject, data)
}

// Subscribe registers a handler for subject, returning the resulting
// subscription so the caller can unsubscribe on drain.
func (c *Conn) Subscribe(subject string, handler nats.MsgHandler) (*nats.Subscription, error) {
	return c.nc.Subscribe(subject, handler)
}

// SubscribeSync opens a pull-style subscription, letting the pipeline
// drive its own receive loop and detect a dead subscription explicitly.
func (c *Conn) SubscribeSync(subject string) (*nats.Subscription, error) {
	return c.nc.SubscribeSync(subject)
}

// Close closes the underlying connection without draining it first.
func (c *Conn) Close() {
	if c.nc != nil {
		c.nc.Close()
	}
}

// IsTransient reports whether err's message matches the transient-failure
// heuristic: mentions of "connection", "timeout", or "broken pipe" are
// retry-eligible; everything else is permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "broken pipe")
}
