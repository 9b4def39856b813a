package router

import (
	"testing"

	"github.com/lumencanvas/clasp/pkg/security"
	"github.com/lumencanvas/clasp/pkg/wire"
)

// fakeSender records every frame handed to it for assertions, and never
// reports back-pressure.
type fakeSender struct {
	sent   [][]byte
	closed bool
}

func (f *fakeSender) TrySend(data []byte) bool {
	f.sent = append(f.sent, data)
	return true
}
func (f *fakeSender) Send(data []byte) error { f.sent = append(f.sent, data); return nil }
func (f *fakeSender) Close() error           { f.closed = true; return nil }

func (f *fakeSender) decoded(t *testing.T) []wire.Message {
	t.Helper()
	out := make([]wire.Message, 0, len(f.sent))
	for _, b := range f.sent {
		msg, _, err := wire.Decode(b, 1<<20)
		if err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		out = append(out, msg)
	}
	return out
}

func helloMsg(name string, token string) wire.Message {
	return wire.Message{Type: wire.TypeHello, Hello: &wire.HelloMessage{
		Version: wire.ProtocolVersion, Name: name, Token: token,
	}}
}

func TestHandshakeOpenMode(t *testing.T) {
	r := New(DefaultConfig(), nil)
	defer r.Close()

	fs := &fakeSender{}
	sess := r.NewSession(fs)
	if !r.HandleHello(sess, helloMsg("alice", "")) {
		t.Fatalf("expected handshake to succeed in open mode")
	}
	msgs := fs.decoded(t)
	if len(msgs) != 2 || msgs[0].Type != wire.TypeWelcome || msgs[1].Type != wire.TypeSnapshot {
		t.Fatalf("expected Welcome then Snapshot, got %+v", msgs)
	}
	if sess.Authenticated() {
		t.Fatalf("open mode must never authenticate a session")
	}
}

func TestHandshakeDuplicateHelloRejected(t *testing.T) {
	r := New(DefaultConfig(), nil)
	defer r.Close()

	fs := &fakeSender{}
	sess := r.NewSession(fs)
	if !r.HandleHello(sess, helloMsg("alice", "")) {
		t.Fatalf("first handshake should succeed")
	}
	if r.HandleHello(sess, helloMsg("alice-again", "")) {
		t.Fatalf("duplicate hello after Live must be rejected")
	}
}

func TestHandshakeAuthenticatedModeRequiresToken(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SecurityMode = security.ModeAuthenticated
	validators := security.NewValidatorChain(security.NewCpskValidator())
	r := New(cfg, validators)
	defer r.Close()

	fs := &fakeSender{}
	sess := r.NewSession(fs)
	if r.HandleHello(sess, helloMsg("alice", "")) {
		t.Fatalf("expected missing token to fail handshake")
	}
	msgs := fs.decoded(t)
	if len(msgs) != 1 || msgs[0].Type != wire.TypeError || msgs[0].Error.Code != CodeUnauthorized {
		t.Fatalf("expected Error{300}, got %+v", msgs)
	}
}

func TestHandshakeAuthenticatedModeValidToken(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SecurityMode = security.ModeAuthenticated
	cpsk := security.NewCpskValidator()
	scope, err := security.NewScope(security.ActionWrite, "/lights/**")
	if err != nil {
		t.Fatalf("new scope: %v", err)
	}
	cpsk.Register("cpsk_test", security.TokenInfo{Subject: "alice", Scopes: []security.Scope{scope}})
	validators := security.NewValidatorChain(cpsk)
	r := New(cfg, validators)
	defer r.Close()

	fs := &fakeSender{}
	sess := r.NewSession(fs)
	if !r.HandleHello(sess, helloMsg("alice", "cpsk_test")) {
		t.Fatalf("expected handshake to succeed with a valid token")
	}
	if !sess.Authenticated() || sess.Subject() != "alice" {
		t.Fatalf("expected session to be authenticated as alice")
	}
}

func TestDispatchSetBroadcastsIncludingSender(t *testing.T) {
	r := New(DefaultConfig(), nil)
	defer r.Close()

	writer := &fakeSender{}
	writerSess := r.NewSession(writer)
	r.HandleHello(writerSess, helloMsg("writer", ""))
	r.Dispatch(writerSess, wire.Message{Type: wire.TypeSubscribe, Subscribe: &wire.SubscribeMessage{ID: 1, Pattern: "/lights/**"}})
	writer.sent = nil

	subscriber := &fakeSender{}
	subSess := r.NewSession(subscriber)
	r.HandleHello(subSess, helloMsg("subscriber", ""))
	subscriber.sent = nil

	r.Dispatch(subSess, wire.Message{Type: wire.TypeSubscribe, Subscribe: &wire.SubscribeMessage{ID: 1, Pattern: "/lights/**"}})
	subscriber.sent = nil

	r.Dispatch(writerSess, wire.Message{Type: wire.TypeSet, Set: &wire.SetMessage{
		Address: "/lights/1", Value: wire.Float(0.5),
	}})

	writerMsgs := writer.decoded(t)
	foundAck := false
	foundSet := false
	for _, m := range writerMsgs {
		if m.Type == wire.TypeAck {
			foundAck = true
		}
		if m.Type == wire.TypeSet {
			foundSet = true
		}
	}
	if !foundAck || !foundSet {
		t.Fatalf("expected writer to receive both its own Set broadcast and an Ack, got %+v", writerMsgs)
	}

	subMsgs := subscriber.decoded(t)
	if len(subMsgs) != 1 || subMsgs[0].Type != wire.TypeSet {
		t.Fatalf("expected subscriber to receive the Set broadcast, got %+v", subMsgs)
	}
}

func TestDispatchPublishExcludesSender(t *testing.T) {
	r := New(DefaultConfig(), nil)
	defer r.Close()

	a := &fakeSender{}
	sessA := r.NewSession(a)
	r.HandleHello(sessA, helloMsg("a", ""))
	a.sent = nil

	b := &fakeSender{}
	sessB := r.NewSession(b)
	r.HandleHello(sessB, helloMsg("b", ""))
	b.sent = nil

	r.Dispatch(sessA, wire.Message{Type: wire.TypeSubscribe, Subscribe: &wire.SubscribeMessage{ID: 1, Pattern: "/chat/**"}})
	r.Dispatch(sessB, wire.Message{Type: wire.TypeSubscribe, Subscribe: &wire.SubscribeMessage{ID: 2, Pattern: "/chat/**"}})
	a.sent = nil
	b.sent = nil

	r.Dispatch(sessA, wire.Message{Type: wire.TypePublish, Publish: &wire.PublishMessage{
		Address: "/chat/room1", Signal: wire.SignalEvent, Payload: ptrValue(wire.String("hi")),
	}})

	if len(a.sent) != 0 {
		t.Fatalf("expected sender to be excluded from its own Publish fan-out, got %d messages", len(a.sent))
	}
	bMsgs := b.decoded(t)
	if len(bMsgs) != 1 || bMsgs[0].Type != wire.TypePublish {
		t.Fatalf("expected other subscriber to receive the Publish, got %+v", bMsgs)
	}
}

func TestDispatchGetUnknownAddressIsSilent(t *testing.T) {
	r := New(DefaultConfig(), nil)
	defer r.Close()

	fs := &fakeSender{}
	sess := r.NewSession(fs)
	r.HandleHello(sess, helloMsg("a", ""))
	fs.sent = nil

	r.Dispatch(sess, wire.Message{Type: wire.TypeGet, Get: &wire.GetMessage{Address: "/nowhere"}})
	if len(fs.sent) != 0 {
		t.Fatalf("expected no reply for an unknown Get address, got %d messages", len(fs.sent))
	}
}

func TestDispatchPingPong(t *testing.T) {
	r := New(DefaultConfig(), nil)
	defer r.Close()

	fs := &fakeSender{}
	sess := r.NewSession(fs)
	r.HandleHello(sess, helloMsg("a", ""))
	fs.sent = nil

	r.Dispatch(sess, wire.Message{Type: wire.TypePing})
	msgs := fs.decoded(t)
	if len(msgs) != 1 || msgs[0].Type != wire.TypePong {
		t.Fatalf("expected Pong, got %+v", msgs)
	}
}

func TestDispatchSetLockedRejectsOtherWriter(t *testing.T) {
	r := New(DefaultConfig(), nil)
	defer r.Close()

	owner := &fakeSender{}
	ownerSess := r.NewSession(owner)
	r.HandleHello(ownerSess, helloMsg("owner", ""))
	owner.sent = nil

	other := &fakeSender{}
	otherSess := r.NewSession(other)
	r.HandleHello(otherSess, helloMsg("other", ""))
	other.sent = nil

	r.Dispatch(ownerSess, wire.Message{Type: wire.TypeSet, Set: &wire.SetMessage{
		Address: "/door", Value: wire.Bool(true), Lock: true,
	}})
	owner.sent = nil

	r.Dispatch(otherSess, wire.Message{Type: wire.TypeSet, Set: &wire.SetMessage{
		Address: "/door", Value: wire.Bool(false),
	}})
	msgs := other.decoded(t)
	if len(msgs) != 1 || msgs[0].Type != wire.TypeError || msgs[0].Error.Code != CodeWriteRejected {
		t.Fatalf("expected Error{400,Locked}, got %+v", msgs)
	}
}

func TestDispatchScopeDeniedInAuthenticatedMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SecurityMode = security.ModeAuthenticated
	cpsk := security.NewCpskValidator()
	scope, _ := security.NewScope(security.ActionRead, "/lights/**")
	cpsk.Register("cpsk_readonly", security.TokenInfo{Subject: "viewer", Scopes: []security.Scope{scope}})
	r := New(cfg, security.NewValidatorChain(cpsk))
	defer r.Close()

	fs := &fakeSender{}
	sess := r.NewSession(fs)
	r.HandleHello(sess, helloMsg("viewer", "cpsk_readonly"))
	fs.sent = nil

	r.Dispatch(sess, wire.Message{Type: wire.TypeSet, Set: &wire.SetMessage{Address: "/lights/1", Value: wire.Float(1)}})
	msgs := fs.decoded(t)
	if len(msgs) != 1 || msgs[0].Type != wire.TypeError || msgs[0].Error.Code != CodeForbidden {
		t.Fatalf("expected Error{301}, got %+v", msgs)
	}
}

func TestDispatchBundleAtomicCommit(t *testing.T) {
	r := New(DefaultConfig(), nil)
	defer r.Close()

	fs := &fakeSender{}
	sess := r.NewSession(fs)
	r.HandleHello(sess, helloMsg("a", ""))
	fs.sent = nil

	r.Dispatch(sess, wire.Message{Type: wire.TypeBundle, Bundle: &wire.BundleMessage{
		Messages: []wire.Message{
			{Type: wire.TypeSet, Set: &wire.SetMessage{Address: "/x", Value: wire.Int(1)}},
			{Type: wire.TypeSet, Set: &wire.SetMessage{Address: "/y", Value: wire.Int(2)}},
		},
	}})

	px, ok := r.Store().Get("/x")
	if !ok || px.Revision != 1 {
		t.Fatalf("expected /x committed at revision 1, got %+v ok=%v", px, ok)
	}
	py, ok := r.Store().Get("/y")
	if !ok || py.Revision != 1 {
		t.Fatalf("expected /y committed at revision 1, got %+v ok=%v", py, ok)
	}
}

func ptrValue(v wire.Value) *wire.Value { return &v }
