package router

import (
	"errors"
	"log"
	"time"

	"github.com/lumencanvas/clasp/pkg/wire"
)

// Serve runs tr's accept loop until it returns an error (e.g. the listener
// was closed), spawning one goroutine per accepted connection via
// ServeConn. It never returns until the transport itself gives up.
func (r *Router) Serve(tr Transport) error {
	for {
		sender, receiver, remote, err := tr.Accept()
		if err != nil {
			return err
		}
		go r.ServeConn(sender, receiver, remote)
	}
}

// ServeConn drives one connection end to end: construct a session, require
// Hello within the configured handshake timeout, then dispatch every
// subsequent frame until the receiver reports disconnection.
func (r *Router) ServeConn(sender Sender, receiver Receiver, remote string) {
	sess := r.NewSession(sender)
	defer func() {
		sess.Close()
		r.RemoveSession(sess.ID)
	}()

	helloMsg, err := r.readHello(receiver, remote)
	if err != nil {
		return
	}
	if !r.HandleHello(sess, helloMsg) {
		return
	}

	for {
		msg, err := r.readOne(receiver)
		if err != nil {
			// A frame that fails to decode is dropped on its own; only a
			// receive failure or disconnection ends the connection.
			if errors.Is(err, wire.ErrBadMagic) || errors.Is(err, wire.ErrTruncated) ||
				errors.Is(err, wire.ErrTooLarge) || errors.Is(err, wire.ErrMalformedPayload) ||
				errors.Is(err, wire.ErrUnknownMessage) {
				continue
			}
			return
		}
		if !sess.Allow() {
			r.errorsEmitted.Add(1)
			continue
		}
		r.Dispatch(sess, msg)
	}
}

// readHello reads the Hello frame that must open every connection (§5),
// enforcing r.cfg.HandshakeTimeout: a connection that never sends one is
// torn down rather than pinning a goroutine and session forever. readOne's
// blocking Recv call has no deadline of its own, so the read runs in a
// goroutine and races against a timer.
func (r *Router) readHello(receiver Receiver, remote string) (wire.Message, error) {
	type result struct {
		msg wire.Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		msg, err := r.readOne(receiver)
		done <- result{msg: msg, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			log.Printf("[router] %s: handshake read failed: %v", remote, res.err)
		}
		return res.msg, res.err
	case <-time.After(r.cfg.HandshakeTimeout):
		log.Printf("[router] %s: handshake timed out after %s", remote, r.cfg.HandshakeTimeout)
		return wire.Message{}, errHandshakeTimeout
	}
}

// readOne blocks until the next data frame arrives on receiver (skipping
// any Connected events a transport may surface first) and decodes it into
// a Message, enforcing the router's configured max message size.
func (r *Router) readOne(receiver Receiver) (wire.Message, error) {
	for {
		ev, err := receiver.Recv()
		if err != nil {
			return wire.Message{}, err
		}
		switch ev.Kind {
		case EventData:
			msg, _, err := wire.Decode(ev.Data, r.cfg.MaxMessageSize)
			return msg, err
		case EventDisconnected, EventError:
			return wire.Message{}, errConnClosed
		}
	}
}
