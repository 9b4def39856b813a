// Package gesture coalesces high-rate Gesture Move phases into a single
// pending update per gesture, forwarded on End/Cancel or on a periodic
// flush tick, cutting the fan-out bandwidth a drag/slide/touch stream would
// otherwise demand.
package gesture

import (
	"sync"
	"time"

	"github.com/lumencanvas/clasp/pkg/wire"
)

// Key identifies one in-flight gesture: an address plus a gesture id (for
// multi-touch, several gestures can be active on the same address at once).
type Key struct {
	Address string
	ID      uint32
}

type bufferedGesture struct {
	pendingMove *wire.PublishMessage
	startedAt   time.Time
	lastMoveAt  time.Time
	hasPending  bool
}

// ResultKind tags what Process did with an incoming message.
type ResultKind uint8

const (
	// PassThrough: not a gesture message (or no phase); caller should
	// forward msg unchanged.
	PassThrough ResultKind = iota
	// Buffered: a Move was absorbed into the pending buffer; nothing to
	// forward right now.
	Buffered
	// Forward: the caller should forward every message in Result.Messages,
	// in order.
	Forward
)

// Result is the outcome of Process.
type Result struct {
	Kind     ResultKind
	Messages []wire.PublishMessage
}

// Coalescer buffers Move phases per Key and exposes the flush/cleanup hooks
// a router should drive from a ticker goroutine.
type Coalescer struct {
	mu             sync.Mutex
	gestures       map[Key]*bufferedGesture
	flushInterval  time.Duration
	staleThreshold time.Duration
}

// DefaultFlushInterval matches 60fps, the coalescer's original tuning.
const DefaultFlushInterval = 16 * time.Millisecond

// DefaultStaleCeiling is the maximum time an abandoned gesture buffer (no
// End/Cancel ever arrived) is kept before being garbage-collected.
const DefaultStaleCeiling = 5 * time.Minute

// New creates a Coalescer with the given flush interval. Pass 0 to use
// DefaultFlushInterval.
func New(flushInterval time.Duration) *Coalescer {
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}
	return &Coalescer{
		gestures:       make(map[Key]*bufferedGesture),
		flushInterval:  flushInterval,
		staleThreshold: DefaultStaleCeiling,
	}
}

// Process handles one incoming Publish. msg.Signal must already be known to
// be SignalGesture by the caller for this to do anything useful; messages
// of any other signal, or gesture messages with an empty Phase, pass through
// unchanged.
func (c *Coalescer) Process(msg wire.PublishMessage) Result {
	if msg.Signal != wire.SignalGesture || msg.Phase == "" {
		return Result{Kind: PassThrough}
	}

	key := Key{Address: msg.Address, ID: msg.ID}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Phase {
	case wire.PhaseStart:
		c.gestures[key] = &bufferedGesture{startedAt: time.Now()}
		return Result{Kind: Forward, Messages: []wire.PublishMessage{msg}}

	case wire.PhaseMove:
		entry, ok := c.gestures[key]
		if !ok {
			// No active gesture for this key: forward anyway (late join).
			return Result{Kind: Forward, Messages: []wire.PublishMessage{msg}}
		}
		m := msg
		entry.pendingMove = &m
		entry.hasPending = true
		entry.lastMoveAt = time.Now()
		return Result{Kind: Buffered}

	case wire.PhaseEnd, wire.PhaseCancel:
		var out []wire.PublishMessage
		if entry, ok := c.gestures[key]; ok {
			if entry.hasPending && entry.pendingMove != nil {
				out = append(out, *entry.pendingMove)
			}
			delete(c.gestures, key)
		}
		out = append(out, msg)
		return Result{Kind: Forward, Messages: out}

	default:
		return Result{Kind: PassThrough}
	}
}

// FlushStale emits any pending move older than the configured flush
// interval, clearing it from the buffer (the gesture itself stays active —
// only the pending move is drained).
func (c *Coalescer) FlushStale() []wire.PublishMessage {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []wire.PublishMessage
	for _, entry := range c.gestures {
		if entry.hasPending && now.Sub(entry.lastMoveAt) >= c.flushInterval {
			out = append(out, *entry.pendingMove)
			entry.pendingMove = nil
			entry.hasPending = false
		}
	}
	return out
}

// CleanupStale removes gesture buffers that have received no End/Cancel for
// longer than maxAge, preventing memory growth from abandoned gestures
// (e.g. a client that disconnects mid-drag).
func (c *Coalescer) CleanupStale(maxAge time.Duration) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, entry := range c.gestures {
		if now.Sub(entry.startedAt) >= maxAge {
			delete(c.gestures, k)
		}
	}
}

// ActiveCount returns the number of gestures currently tracked.
func (c *Coalescer) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.gestures)
}

// Run drives periodic FlushStale/CleanupStale on a ticker until ctx-like
// stop channel closes. The router wires this into its own lifecycle; flush
// results are pushed onto forward.
func (c *Coalescer) Run(stop <-chan struct{}, forward func([]wire.PublishMessage)) {
	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if msgs := c.FlushStale(); len(msgs) > 0 {
				forward(msgs)
			}
			c.CleanupStale(c.staleThreshold)
		}
	}
}
