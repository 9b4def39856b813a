package router

import (
	"github.com/lumencanvas/clasp/pkg/security"
	"github.com/lumencanvas/clasp/pkg/session"
	"github.com/lumencanvas/clasp/pkg/wire"
)

// HandleHello runs the AwaitingHello->Live transition per §4.3. It returns
// false when the session should be dropped by the caller (failed auth, or
// a duplicate Hello arriving after the session is already Live).
func (r *Router) HandleHello(sess *session.Session, msg wire.Message) bool {
	if msg.Type != wire.TypeHello || msg.Hello == nil {
		// The first message on a connection must be Hello; anything else
		// is ignored per spec (the caller may choose to disconnect).
		return false
	}
	hello := msg.Hello

	var authed bool
	var subject string
	var scopes []security.Scope

	switch r.cfg.SecurityMode {
	case security.ModeOpen:
		// Token, if present, is ignored; the session is never marked
		// authenticated in Open mode.
	case security.ModeAuthenticated:
		if hello.Token == "" {
			r.sendTo(sess, errUnauthorized())
			r.errorsEmitted.Add(1)
			return false
		}
		if r.validators == nil {
			r.sendTo(sess, errUnauthorized())
			r.errorsEmitted.Add(1)
			return false
		}
		result := r.validators.Validate(hello.Token)
		switch result.Outcome {
		case security.ValidationValid:
			authed = true
			subject = result.Info.Subject
			scopes = result.Info.Scopes
		case security.ValidationExpired:
			r.sendTo(sess, errTokenExpired())
			r.errorsEmitted.Add(1)
			return false
		default:
			r.sendTo(sess, errUnauthorized())
			r.errorsEmitted.Add(1)
			return false
		}
	}

	if !sess.Activate(hello.Name, hello.Features, authed, subject, scopes) {
		// Duplicate Hello after Live: no second Welcome is ever emitted.
		return false
	}

	r.sendTo(sess, wire.Message{
		Type: wire.TypeWelcome,
		Welcome: &wire.WelcomeMessage{
			Version:    wire.ProtocolVersion,
			Session:    sess.ID,
			Name:       hello.Name,
			Features:   hello.Features,
			ServerTime: uint64(nowMicros()),
		},
	})
	r.sendTo(sess, wire.Message{
		Type:     wire.TypeSnapshot,
		Snapshot: &wire.SnapshotMessage{Params: r.store.FullSnapshot()},
	})
	return true
}
