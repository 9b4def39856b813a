// Package router orchestrates the session, subscription, state and gesture
// subsystems (C9) on decoded wire messages: handshake, dispatch,
// authorization, and fan-out. It does not use pkg/timeline: no timeline
// playback is driven by the router.
package router

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lumencanvas/clasp/pkg/address"
	"github.com/lumencanvas/clasp/pkg/gesture"
	"github.com/lumencanvas/clasp/pkg/security"
	"github.com/lumencanvas/clasp/pkg/session"
	"github.com/lumencanvas/clasp/pkg/state"
	"github.com/lumencanvas/clasp/pkg/subscription"
	"github.com/lumencanvas/clasp/pkg/wire"
)

// Router holds every live session and the core state subsystems, and turns
// decoded messages into state mutations plus a fan-out set of encoded
// frames handed to each target session's outbound sender.
type Router struct {
	cfg Config

	mu       sync.RWMutex
	sessions map[string]*session.Session

	subs      *subscription.Table
	store     *state.Store
	gestures  *gesture.Coalescer
	validators *security.ValidatorChain

	stopGesture chan struct{}

	messagesRouted atomic.Uint64
	errorsEmitted  atomic.Uint64
}

// New constructs a Router with the given configuration and validator chain.
// validators may be nil in Open mode.
func New(cfg Config, validators *security.ValidatorChain) *Router {
	r := &Router{
		cfg:         cfg,
		sessions:    make(map[string]*session.Session),
		subs:        subscription.New(),
		store:       state.New(nil),
		gestures:    gesture.New(cfg.GestureFlushInterval),
		validators:  validators,
		stopGesture: make(chan struct{}),
	}
	go r.gestures.Run(r.stopGesture, r.forwardGestureMessages)
	return r
}

// Store exposes the underlying state store, e.g. so cmd/clasp-router can
// register conflict-resolution rules for specific address subtrees at
// startup.
func (r *Router) Store() *state.Store { return r.store }

// Close stops the router's background gesture flush loop.
func (r *Router) Close() {
	close(r.stopGesture)
}

// NewSession registers a freshly accepted connection in AwaitingHello state
// and returns it; the caller is responsible for reading frames from it and
// calling HandleHello/Dispatch.
func (r *Router) NewSession(sender Sender) *session.Session {
	sess := session.New(senderAdapter{sender})
	sess.SetRateLimit(r.cfg.ControlRateLimit)
	r.mu.Lock()
	r.sessions[sess.ID] = sess
	r.mu.Unlock()
	return sess
}

// RemoveSession tears down every trace of a disconnected session: its
// subscriptions, any locks it held, and its entry in the session table.
func (r *Router) RemoveSession(sessionID string) {
	r.subs.RemoveSession(sessionID)
	r.store.ReleaseSessionLocks(sessionID)
	r.mu.Lock()
	delete(r.sessions, sessionID)
	r.mu.Unlock()
}

func (r *Router) sessionByID(id string) *session.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// SessionCount returns the number of currently tracked sessions.
func (r *Router) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sessions returns a snapshot of every tracked session, for the HTTP admin
// surface's /v1/sessions endpoint.
func (r *Router) Sessions() []*session.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// senderAdapter adapts a router.Sender (TrySend/Send/Close) down to
// session.Sender (TrySend/Close) — the session package only ever needs the
// non-blocking path.
type senderAdapter struct{ Sender }

func nowMicros() int64 { return time.Now().UnixMicro() }

// sendTo encodes msg and enqueues it on sess's outbound sender, applying
// the configured slow-consumer policy on back-pressure.
func (r *Router) sendTo(sess *session.Session, msg wire.Message) {
	data, err := wire.Encode(msg, nil)
	if err != nil {
		log.Printf("[router] encode failed for session %s: %v", sess.ID, err)
		return
	}
	if sess.Send(data) {
		return
	}
	switch r.cfg.SlowConsumerPolicy {
	case SlowConsumerDisconnect:
		log.Printf("[router] session %s outbound queue full, disconnecting", sess.ID)
		sess.Close()
		r.RemoveSession(sess.ID)
	default:
		log.Printf("[router] session %s outbound queue full, dropping message", sess.ID)
	}
}

// fanOut delivers msg to every entry in entries whose Types accept signal
// (empty Types means "all"), optionally excluding one session id.
func (r *Router) fanOut(entries []*subscription.Entry, signal wire.SignalType, msg wire.Message, excludeSessionID string) {
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.SessionID == excludeSessionID {
			continue
		}
		if seen[e.SessionID] {
			continue
		}
		if !e.Accepts(signal) {
			continue
		}
		sess := r.sessionByID(e.SessionID)
		if sess == nil {
			continue
		}
		seen[e.SessionID] = true
		r.sendTo(sess, msg)
		r.messagesRouted.Add(1)
	}
}

func (r *Router) forwardGestureMessages(msgs []wire.PublishMessage) {
	for _, m := range msgs {
		r.dispatchPublish(nil, m)
	}
}

// Stats is a point-in-time snapshot for the HTTP admin surface.
type Stats struct {
	Sessions         int
	AddressesTracked int
	SubscriptionsTotal int
	GesturesActive   int
	MessagesRouted   uint64
	ErrorsEmitted    uint64
}

func (r *Router) StatsSnapshot() Stats {
	return Stats{
		Sessions:           r.SessionCount(),
		AddressesTracked:   r.store.Count(),
		SubscriptionsTotal: r.subs.Count(),
		GesturesActive:     r.gestures.ActiveCount(),
		MessagesRouted:     r.messagesRouted.Load(),
		ErrorsEmitted:      r.errorsEmitted.Load(),
	}
}

// compilePatternOrError is a small helper used by Subscribe handling.
func compilePatternOrError(pattern string) (*address.Pattern, error) {
	return address.Compile(pattern)
}
