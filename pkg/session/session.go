// Package session holds per-connection CLASP identity: id, authentication
// state, granted scopes, and the outbound sender handle used for fan-out.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/lumencanvas/clasp/pkg/security"
)

// Sender abstracts enqueueing a pre-encoded outbound frame to one session.
// Concrete transports implement this; the router never touches bytes on the
// wire directly (see §9 "callback-based subscriptions" re-architecture
// note — delivery is always enqueue(session.Outbound, bytes)).
type Sender interface {
	// TrySend enqueues data without blocking. Returns false if the
	// session's outbound queue is full (BufferFull).
	TrySend(data []byte) bool
	// Close terminates the underlying connection.
	Close() error
}

// State is the session's handshake lifecycle: AwaitingHello -> Live -> Closed.
type State uint8

const (
	StateAwaitingHello State = iota
	StateLive
	StateClosed
)

// Session represents one connected client.
type Session struct {
	ID       string
	mu       sync.RWMutex
	name     string
	state    State
	authed   bool
	subject  string
	scopes   []security.Scope
	subs     map[uint32]struct{}
	outbound Sender
	features []string
	created  time.Time
	limiter  *rate.Limiter
}

// New creates a fresh session in AwaitingHello state with a random ID.
func New(outbound Sender) *Session {
	return &Session{
		ID:       uuid.NewString(),
		state:    StateAwaitingHello,
		subs:     make(map[uint32]struct{}),
		outbound: outbound,
		created:  time.Now(),
	}
}

func (s *Session) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Activate transitions AwaitingHello -> Live, recording identity and auth
// outcome. Returns false if the session was not in AwaitingHello (duplicate
// Hello after Live must be rejected without a second Welcome).
func (s *Session) Activate(name string, features []string, authed bool, subject string, scopes []security.Scope) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAwaitingHello {
		return false
	}
	s.name = name
	s.features = features
	s.authed = authed
	s.subject = subject
	s.scopes = scopes
	s.state = StateLive
	return true
}

func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authed
}

func (s *Session) Subject() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subject
}

func (s *Session) Scopes() []security.Scope {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]security.Scope, len(s.scopes))
	copy(out, s.scopes)
	return out
}

// Permits reports whether this session's granted scopes allow requested on addr.
// In Open mode the router should skip this check entirely (no scopes are
// ever granted in Open mode, so Permits would always be false).
func (s *Session) Permits(requested security.Action, addr string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return security.Permits(s.scopes, requested, addr)
}

// Close marks the session Closed and closes its outbound sender.
func (s *Session) Close() error {
	s.mu.Lock()
	s.state = StateClosed
	out := s.outbound
	s.mu.Unlock()
	if out != nil {
		return out.Close()
	}
	return nil
}

// Send enqueues a pre-encoded frame for delivery; returns false on BufferFull.
func (s *Session) Send(data []byte) bool {
	s.mu.RLock()
	out := s.outbound
	state := s.state
	s.mu.RUnlock()
	if out == nil || state == StateClosed {
		return false
	}
	return out.TrySend(data)
}

// AddSub records a subscription id owned by this session.
func (s *Session) AddSub(id uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[id] = struct{}{}
}

// RemoveSub forgets a subscription id.
func (s *Session) RemoveSub(id uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
}

// SubIDs returns a snapshot of subscription ids owned by this session.
func (s *Session) SubIDs() []uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]uint32, 0, len(s.subs))
	for id := range s.subs {
		out = append(out, id)
	}
	return out
}

// CreatedAt returns when this session was constructed.
func (s *Session) CreatedAt() time.Time { return s.created }

// SetRateLimit bounds this session's incoming control messages to rps per
// second, with a one-second burst allowance. A non-positive rps leaves the
// session unlimited. The router applies Config.ControlRateLimit to every
// session it creates; DefaultConfig sets it to 50.
func (s *Session) SetRateLimit(rps float64) {
	if rps <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limiter = rate.NewLimiter(rate.Limit(rps), int(rps))
}

// Allow reports whether the next incoming control message is within this
// session's rate limit, consuming one token if so. Always true when no
// limit is configured.
func (s *Session) Allow() bool {
	s.mu.RLock()
	l := s.limiter
	s.mu.RUnlock()
	if l == nil {
		return true
	}
	return l.Allow()
}
