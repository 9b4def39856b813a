// Package subscription maintains the (session,id)->pattern index and the
// reverse address->subscribers lookup used by the router's broadcast path.
package subscription

import (
	"sync"

	"github.com/lumencanvas/clasp/pkg/address"
	"github.com/lumencanvas/clasp/pkg/wire"
)

// Entry is one active subscription.
type Entry struct {
	SessionID string
	SubID     uint32
	Pattern   *address.Pattern
	Raw       string
	Types     []wire.SignalType // empty means "all signal types"
	MinQoS    wire.QoS
	Fields    []string // optional field projection, empty means full payload
}

// Accepts reports whether this subscription's type filter admits signal.
// An empty Types set means "all".
func (e *Entry) Accepts(signal wire.SignalType) bool {
	if len(e.Types) == 0 {
		return true
	}
	for _, t := range e.Types {
		if t == signal {
			return true
		}
	}
	return false
}

// Table indexes subscriptions both by owner and, redundantly, in a flat
// slice for matching. Matching a published address against every live
// pattern is O(subscriptions); this mirrors the reference registry's
// linear-scan-per-publish design, which spec.md accepts as the baseline
// (an address trie is a documented future optimization, not required here).
type Table struct {
	mu      sync.RWMutex
	entries map[string]map[uint32]*Entry // sessionID -> subID -> entry
	all     []*Entry
}

func New() *Table {
	return &Table{entries: make(map[string]map[uint32]*Entry)}
}

// Add registers a new subscription, compiling pattern. Returns an error if
// the pattern is invalid.
func (t *Table) Add(sessionID string, subID uint32, pattern string, types []wire.SignalType, minQoS wire.QoS, fields []string) (*Entry, error) {
	p, err := address.Compile(pattern)
	if err != nil {
		return nil, err
	}
	e := &Entry{SessionID: sessionID, SubID: subID, Pattern: p, Raw: pattern, Types: types, MinQoS: minQoS, Fields: fields}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.entries[sessionID] == nil {
		t.entries[sessionID] = make(map[uint32]*Entry)
	}
	t.entries[sessionID][subID] = e
	t.all = append(t.all, e)
	return e, nil
}

// Remove deletes one subscription by (session,id). Returns false if not found.
func (t *Table) Remove(sessionID string, subID uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	subs, ok := t.entries[sessionID]
	if !ok {
		return false
	}
	e, ok := subs[subID]
	if !ok {
		return false
	}
	delete(subs, subID)
	if len(subs) == 0 {
		delete(t.entries, sessionID)
	}
	t.removeFromAllLocked(e)
	return true
}

// RemoveSession deletes every subscription owned by sessionID, e.g. on disconnect.
func (t *Table) RemoveSession(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	subs, ok := t.entries[sessionID]
	if !ok {
		return
	}
	for _, e := range subs {
		t.removeFromAllLocked(e)
	}
	delete(t.entries, sessionID)
}

func (t *Table) removeFromAllLocked(target *Entry) {
	for i, e := range t.all {
		if e == target {
			t.all = append(t.all[:i], t.all[i+1:]...)
			return
		}
	}
}

// FindSubscribers returns every entry whose pattern matches addr.
func (t *Table) FindSubscribers(addr string) []*Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*Entry
	for _, e := range t.all {
		if e.Pattern.Matches(addr) {
			out = append(out, e)
		}
	}
	return out
}

// Count returns the total number of active subscriptions.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.all)
}

// SessionSubs returns a snapshot of entries owned by sessionID.
func (t *Table) SessionSubs(sessionID string) []*Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	subs, ok := t.entries[sessionID]
	if !ok {
		return nil
	}
	out := make([]*Entry, 0, len(subs))
	for _, e := range subs {
		out = append(out, e)
	}
	return out
}
