package router

import (
	"log"

	"github.com/lumencanvas/clasp/pkg/gesture"
	"github.com/lumencanvas/clasp/pkg/security"
	"github.com/lumencanvas/clasp/pkg/session"
	"github.com/lumencanvas/clasp/pkg/state"
	"github.com/lumencanvas/clasp/pkg/wire"
)

// Dispatch handles one decoded message from a Live session, applying
// authorization (in Authenticated mode), mutating state, and fanning out
// or replying as per §4.6's table. sess must already be Live; callers
// route Hello through HandleHello instead.
func (r *Router) Dispatch(sess *session.Session, msg wire.Message) {
	switch msg.Type {
	case wire.TypeSubscribe:
		r.handleSubscribe(sess, msg)
	case wire.TypeUnsubscribe:
		r.handleUnsubscribe(sess, msg)
	case wire.TypeSet:
		r.handleSet(sess, msg)
	case wire.TypeGet:
		r.handleGet(sess, msg)
	case wire.TypePublish:
		r.dispatchPublish(sess, *msg.Publish)
	case wire.TypeBundle:
		r.handleBundle(sess, msg)
	case wire.TypeSync:
		r.handleSync(sess, msg)
	case wire.TypePing:
		r.sendTo(sess, wire.Message{Type: wire.TypePong})
	case wire.TypeQuery:
		r.sendTo(sess, wire.Message{Type: wire.TypeResult, Result: &wire.ResultMessage{}})
	case wire.TypeAnnounce:
		// Clients may declare their own signal catalog; the router has
		// nothing to register it against today, so this is a no-op.
	default:
		log.Printf("[router] session %s sent unexpected message type %s on a live connection", sess.ID, msg.Type)
	}
}

// requireScope checks requested against sess's granted scopes, skipping the
// check entirely in Open mode (where no scopes are ever granted). On
// failure it sends Error{301} and returns false.
func (r *Router) requireScope(sess *session.Session, requested security.Action, addr string) bool {
	if r.cfg.SecurityMode == security.ModeOpen {
		return true
	}
	if sess.Permits(requested, addr) {
		return true
	}
	r.sendTo(sess, errForbidden(addr))
	r.errorsEmitted.Add(1)
	return false
}

func (r *Router) handleSubscribe(sess *session.Session, msg wire.Message) {
	sub := msg.Subscribe
	pattern, err := compilePatternOrError(sub.Pattern)
	if err != nil {
		r.sendTo(sess, errInvalidPattern(sub.Pattern))
		r.errorsEmitted.Add(1)
		return
	}
	if !r.requireScope(sess, security.ActionRead, sub.Pattern) {
		return
	}

	var minQoS wire.QoS
	entry, err := r.subs.Add(sess.ID, sub.ID, sub.Pattern, sub.Types, minQoS, nil)
	if err != nil {
		r.sendTo(sess, errInvalidPattern(sub.Pattern))
		r.errorsEmitted.Add(1)
		return
	}
	sess.AddSub(entry.SubID)

	r.sendTo(sess, wire.Message{
		Type:     wire.TypeSnapshot,
		Snapshot: &wire.SnapshotMessage{Params: r.store.Snapshot(pattern)},
	})
}

func (r *Router) handleUnsubscribe(sess *session.Session, msg wire.Message) {
	r.subs.Remove(sess.ID, msg.Unsubscribe.ID)
	sess.RemoveSub(msg.Unsubscribe.ID)
}

func (r *Router) handleSet(sess *session.Session, msg wire.Message) {
	set := msg.Set
	if !r.requireScope(sess, security.ActionWrite, set.Address) {
		return
	}

	req := state.NewSetRequest(set.Address, set.Value, set.Lock, set.Unlock)
	req.Revision = set.Revision
	rev, err := r.store.ApplySet(req, sess.ID)
	if err != nil {
		r.sendTo(sess, errLocked(set.Address))
		r.errorsEmitted.Add(1)
		return
	}

	out := wire.Message{Type: wire.TypeSet, Set: &wire.SetMessage{
		Address:  set.Address,
		Value:    set.Value,
		Revision: &rev,
		Lock:     set.Lock,
		Unlock:   set.Unlock,
	}}
	subs := r.subs.FindSubscribers(set.Address)
	// Set broadcasts include the sender, so its own ack ordering is preserved.
	r.fanOut(subs, wire.SignalParam, out, "")

	r.sendTo(sess, wire.Message{Type: wire.TypeAck, Ack: &wire.AckMessage{
		Address:  set.Address,
		Revision: &rev,
	}})
}

func (r *Router) handleGet(sess *session.Session, msg wire.Message) {
	get := msg.Get
	if !r.requireScope(sess, security.ActionRead, get.Address) {
		return
	}
	p, ok := r.store.Get(get.Address)
	if !ok {
		return
	}
	r.sendTo(sess, wire.Message{Type: wire.TypeSnapshot, Snapshot: &wire.SnapshotMessage{
		Params: []wire.ParamValue{{
			Address:   get.Address,
			Value:     p.Value,
			Revision:  p.Revision,
			Writer:    p.Writer,
			Timestamp: uint64(p.Timestamp),
		}},
	}})
}

// dispatchPublish handles one Publish payload: gesture messages run through
// the coalescer first, everything else fans out directly. sess is nil when
// called from the gesture coalescer's own flush loop, in which case the
// message has no originating session to exclude from fan-out.
func (r *Router) dispatchPublish(sess *session.Session, msg wire.PublishMessage) {
	signal := msg.Signal
	if signal == "" {
		signal = wire.SignalEvent
	}
	msg.Signal = signal

	if sess != nil && !r.requireScope(sess, security.ActionWrite, msg.Address) {
		return
	}

	exclude := ""
	if sess != nil {
		exclude = sess.ID
	}

	if signal == wire.SignalGesture {
		res := r.gestures.Process(msg)
		switch res.Kind {
		case gesture.Buffered:
			return
		case gesture.Forward:
			for _, m := range res.Messages {
				r.fanOut(r.subs.FindSubscribers(m.Address), signal, wire.Message{Type: wire.TypePublish, Publish: &m}, exclude)
			}
			return
		default: // PassThrough
		}
	}

	r.fanOut(r.subs.FindSubscribers(msg.Address), signal, wire.Message{Type: wire.TypePublish, Publish: &msg}, exclude)
}

// handleBundle applies every contained message atomically: it first
// validates scopes and peeks locks for every Set it contains, and only if
// all pass does it commit each write under one shared timestamp, with
// fan-out happening after the whole commit succeeds.
func (r *Router) handleBundle(sess *session.Session, msg wire.Message) {
	bundle := msg.Bundle

	for _, inner := range bundle.Messages {
		if inner.Type != wire.TypeSet {
			continue
		}
		set := inner.Set
		if r.cfg.SecurityMode != security.ModeOpen && !sess.Permits(security.ActionWrite, set.Address) {
			r.sendTo(sess, errForbidden(set.Address))
			r.errorsEmitted.Add(1)
			return
		}
		if r.store.PeekLock(set.Address, sess.ID) {
			r.sendTo(sess, errLocked(set.Address))
			r.errorsEmitted.Add(1)
			return
		}
	}

	now := nowMicros()
	var fanOuts []func()
	for _, inner := range bundle.Messages {
		switch inner.Type {
		case wire.TypeSet:
			set := inner.Set
			req := state.NewSetRequest(set.Address, set.Value, set.Lock, set.Unlock)
			req.Revision = set.Revision
			rev, err := r.store.ApplySetAt(req, sess.ID, now)
			if err != nil {
				// Lost a race with a concurrent writer between the peek
				// pass and the commit pass; surface and move on rather
				// than abandon the remaining bundle contents.
				r.sendTo(sess, errLocked(set.Address))
				r.errorsEmitted.Add(1)
				continue
			}
			out := wire.Message{Type: wire.TypeSet, Set: &wire.SetMessage{
				Address: set.Address, Value: set.Value, Revision: &rev, Lock: set.Lock, Unlock: set.Unlock,
			}}
			addr := set.Address
			fanOuts = append(fanOuts, func() {
				r.fanOut(r.subs.FindSubscribers(addr), wire.SignalParam, out, "")
			})
		case wire.TypePublish:
			pub := *inner.Publish
			fanOuts = append(fanOuts, func() { r.dispatchPublish(sess, pub) })
		}
	}
	for _, f := range fanOuts {
		f()
	}
}

func (r *Router) handleSync(sess *session.Session, msg wire.Message) {
	t2 := uint64(nowMicros())
	r.sendTo(sess, wire.Message{Type: wire.TypeSync, Sync: &wire.SyncMessage{
		T1: msg.Sync.T1,
		T2: &t2,
	}})
}
