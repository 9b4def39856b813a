// Package wstransport implements router.Transport over gorilla/websocket
// binary frames, negotiating the "clasp" subprotocol per §6.2. It is
// deliberately thin: accept/connect plus byte-level send/receive, no
// protocol knowledge of CLASP frames or messages.
package wstransport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lumencanvas/clasp/internal/router"
)

// Subprotocol is the WebSocket subprotocol string CLASP negotiates.
const Subprotocol = "clasp"

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(_ *http.Request) bool { return true },
	Subprotocols:    []string{Subprotocol},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Transport serves router.Transport over an HTTP listener's WebSocket
// upgrade path. Accept is driven by the HTTP handler registered via
// Handler; Connect dials out to a peer for the P2P/relay client path.
type Transport struct {
	accepted chan acceptedConn
}

type acceptedConn struct {
	sender   *Sender
	receiver *Receiver
	remote   string
}

// New creates a Transport. Wire Handler into an http.ServeMux at the
// desired path (e.g. "/clasp") before calling Accept.
func New() *Transport {
	return &Transport{accepted: make(chan acceptedConn, 64)}
}

// Handler upgrades incoming HTTP requests to WebSocket connections and
// hands them to whichever goroutine is blocked in Accept.
func (t *Transport) Handler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s := newSender(conn)
	go s.writeLoop()
	recv := &Receiver{conn: conn}
	t.accepted <- acceptedConn{sender: s, receiver: recv, remote: r.RemoteAddr}
}

// Accept blocks until a connection arrives via Handler.
func (t *Transport) Accept() (router.Sender, router.Receiver, string, error) {
	c, ok := <-t.accepted
	if !ok {
		return nil, nil, "", fmt.Errorf("clasp: wstransport closed")
	}
	return c.sender, c.receiver, c.remote, nil
}

// Connect dials a CLASP WebSocket endpoint as a client.
func (t *Transport) Connect(url string) (router.Sender, router.Receiver, error) {
	dialer := websocket.Dialer{
		Subprotocols:     []string{Subprotocol},
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(context.Background(), url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("clasp: dial %s: %w", url, err)
	}
	s := newSender(conn)
	go s.writeLoop()
	return s, &Receiver{conn: conn}, nil
}

// Sender enqueues outbound frames on a buffered channel drained by a single
// writer goroutine, since gorilla/websocket forbids concurrent writers.
//
// Close never closes the outbound channel itself: TrySend/Send can run
// concurrently with Close (e.g. a fan-out goroutine writing to a session
// that is disconnecting on its own ServeConn goroutine), and closing a
// channel while another goroutine may still be sending on it panics. Close
// instead closes done, which both Send and writeLoop select on; outbound is
// left for the garbage collector once nothing references it.
type Sender struct {
	conn      *websocket.Conn
	outbound  chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newSender(conn *websocket.Conn) *Sender {
	return &Sender{conn: conn, outbound: make(chan []byte, 1000), done: make(chan struct{})}
}

// TrySend enqueues data without blocking. Returns false (BufferFull) if the
// outbound channel is saturated, or if the connection is already closed.
func (s *Sender) TrySend(data []byte) bool {
	select {
	case s.outbound <- data:
		return true
	case <-s.done:
		return false
	default:
		return false
	}
}

// Send enqueues data, blocking until the writer goroutine can accept it or
// the connection closes.
func (s *Sender) Send(data []byte) error {
	select {
	case s.outbound <- data:
		return nil
	case <-s.done:
		return fmt.Errorf("clasp: send on closed connection")
	}
}

func (s *Sender) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

func (s *Sender) writeLoop() {
	for {
		select {
		case data := <-s.outbound:
			if err := s.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

// Receiver reads whole binary frames from the underlying connection.
type Receiver struct {
	conn *websocket.Conn
}

func (r *Receiver) Recv() (router.Event, error) {
	kind, data, err := r.conn.ReadMessage()
	if err != nil {
		return router.Event{Kind: router.EventDisconnected, Reason: err.Error()}, err
	}
	if kind != websocket.BinaryMessage {
		return router.Event{Kind: router.EventData, Data: data}, nil
	}
	return router.Event{Kind: router.EventData, Data: data}, nil
}
