// Package state implements the authoritative parameter store (C6): per
// address value/revision/writer/timestamp bookkeeping, lock arbitration,
// pluggable conflict resolution strategies, and pattern snapshots.
package state

import (
	"sort"
	"sync"

	"github.com/lumencanvas/clasp/pkg/address"
	"github.com/lumencanvas/clasp/pkg/wire"
)

// ParamState is the authoritative record for one address.
type ParamState struct {
	Value      wire.Value
	Revision   uint64
	Writer     string
	Timestamp  int64 // server time, microseconds
	LockHolder string
	Locked     bool
}

// SetRequest carries the fields of a Set message relevant to apply_set.
// A Set always carries a value on the wire (wire.SetMessage.Value is not
// optional); lock/unlock-only semantics are expressed by Lock/Unlock on a
// Set that also happens to replay the param's current value, not by a
// valueless request.
type SetRequest struct {
	Address  string
	Value    wire.Value
	Revision *uint64 // optimistic-concurrency check, currently advisory
	Lock     bool
	Unlock   bool
}

// NewSetRequest builds a SetRequest carrying a value.
func NewSetRequest(addr string, value wire.Value, lock, unlock bool) SetRequest {
	return SetRequest{Address: addr, Value: value, Lock: lock, Unlock: unlock}
}

type strategyRule struct {
	pattern  *address.Pattern
	strategy Strategy
	merge    MergeFunc
}

// Store holds every ParamState, keyed by address, plus the configured
// conflict-resolution rules consulted by ApplySet.
type Store struct {
	mu     sync.RWMutex
	params map[string]*ParamState
	rules  []strategyRule
	nowFn  func() int64
}

// New creates an empty store. nowFn supplies the server clock in
// microseconds; pass nil to use the wall clock via clockNowMicros.
func New(nowFn func() int64) *Store {
	if nowFn == nil {
		nowFn = clockNowMicros
	}
	return &Store{params: make(map[string]*ParamState), nowFn: nowFn}
}

// RegisterStrategy binds strategy (and, for Merge, a merge function) to
// every address matching pattern. Rules are consulted most-recently-added
// first, so a later, more specific registration overrides an earlier,
// broader one (e.g. a catch-all "/**" LWW default registered first, then
// "/lights/**" Lock registered after).
func (s *Store) RegisterStrategy(pattern string, strategy Strategy, merge MergeFunc) error {
	p, err := address.Compile(pattern)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, strategyRule{pattern: p, strategy: strategy, merge: merge})
	return nil
}

func (s *Store) strategyForLocked(addr string) (Strategy, MergeFunc) {
	for i := len(s.rules) - 1; i >= 0; i-- {
		if s.rules[i].pattern.Matches(addr) {
			return s.rules[i].strategy, s.rules[i].merge
		}
	}
	return StrategyLWW, nil
}

// ApplySet runs apply_set per §4.5 and returns the resulting revision, or
// ErrLocked if the address is held by another session.
func (s *Store) ApplySet(req SetRequest, writer string) (uint64, error) {
	return s.ApplySetAt(req, writer, s.nowFn())
}

// PeekLock reports whether addr is currently locked by a session other than
// writer, without mutating anything. Used by the router's Bundle handler to
// pre-validate every contained write before committing any of them.
func (s *Store) PeekLock(addr, writer string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.params[addr]
	if !ok {
		return false
	}
	return p.Locked && p.LockHolder != writer
}

// ApplySetAt is ApplySet with an explicit server timestamp, letting a
// caller (e.g. a Bundle commit) apply several writes under one shared
// timestamp rather than one per call.
func (s *Store) ApplySetAt(req SetRequest, writer string, now int64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, exists := s.params[req.Address]
	if !exists {
		cur = &ParamState{}
		s.params[req.Address] = cur
	}

	if cur.Locked && cur.LockHolder != writer {
		return 0, ErrLocked
	}

	unlocking := req.Unlock && cur.Locked && cur.LockHolder == writer
	if unlocking {
		cur.Locked = false
		cur.LockHolder = ""
	}

	strategy, merge := s.strategyForLocked(req.Address)

	candidate := resolve(strategy, merge, *cur, req.Value, writer, now)

	if !exists || !candidate.Value.Equal(cur.Value) {
		cur.Value = candidate.Value
		cur.Writer = candidate.Writer
		cur.Timestamp = candidate.Timestamp
		cur.Revision++
	}
	// Decision: a same-value Set with unlock:true that produces a
	// byte-identical candidate does not bump the revision; only the lock
	// state changes.

	if req.Lock {
		cur.Locked = true
		cur.LockHolder = writer
	}

	return cur.Revision, nil
}

// Get returns a copy of the current ParamState for addr, and whether it exists.
func (s *Store) Get(addr string) (ParamState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.params[addr]
	if !ok {
		return ParamState{}, false
	}
	return *p, true
}

// Snapshot returns every parameter whose address matches pattern, per §4.5.2.
func (s *Store) Snapshot(pattern *address.Pattern) []wire.ParamValue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []wire.ParamValue
	for addr, p := range s.params {
		if pattern.Matches(addr) {
			out = append(out, wire.ParamValue{
				Address:  addr,
				Value:    p.Value,
				Revision: p.Revision,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// FullSnapshot returns every parameter in the store, used on Welcome.
func (s *Store) FullSnapshot() []wire.ParamValue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]wire.ParamValue, 0, len(s.params))
	for addr, p := range s.params {
		out = append(out, wire.ParamValue{Address: addr, Value: p.Value, Revision: p.Revision})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// ReleaseSessionLocks clears every lock held by sessionID, e.g. on disconnect.
func (s *Store) ReleaseSessionLocks(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.params {
		if p.Locked && p.LockHolder == sessionID {
			p.Locked = false
			p.LockHolder = ""
		}
	}
}

// Count returns the number of addresses currently tracked.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.params)
}
