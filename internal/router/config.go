package router

import (
	"time"

	"github.com/lumencanvas/clasp/pkg/security"
)

// SlowConsumerPolicy decides what happens when a session's outbound queue
// is saturated and a broadcast cannot be delivered to it.
type SlowConsumerPolicy uint8

const (
	// SlowConsumerDrop logs a warning and drops the message for that
	// session only; global routing is never held up by one slow reader.
	SlowConsumerDrop SlowConsumerPolicy = iota
	// SlowConsumerDisconnect closes the offending session outright.
	SlowConsumerDisconnect
)

// Config tunes the router's resource and concurrency model (§5).
type Config struct {
	SecurityMode       security.Mode
	MaxMessageSize      int
	OutboundQueueSize   int
	GestureFlushInterval time.Duration
	HandshakeTimeout    time.Duration
	GetTimeout          time.Duration
	SlowConsumerPolicy  SlowConsumerPolicy
	// ControlRateLimit caps incoming control messages per session, in
	// messages/second (0 disables limiting). Exceeding it drops the
	// message rather than disconnecting the session.
	ControlRateLimit float64
}

// DefaultConfig returns the spec's default tuning: Open mode, 64 KiB max
// message size, a 1000-message outbound queue, 16ms gesture flush, a 5s
// handshake timeout, a 5s client-side Get timeout, and a 50 msg/s
// per-session control rate limit.
func DefaultConfig() Config {
	return Config{
		SecurityMode:         security.ModeOpen,
		MaxMessageSize:       64 * 1024,
		OutboundQueueSize:    1000,
		GestureFlushInterval: 16 * time.Millisecond,
		HandshakeTimeout:     5 * time.Second,
		GetTimeout:           5 * time.Second,
		SlowConsumerPolicy:   SlowConsumerDrop,
		ControlRateLimit:     50,
	}
}
