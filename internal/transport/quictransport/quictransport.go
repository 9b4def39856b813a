// Package quictransport implements router.Transport over a single
// bidirectional WebTransport stream per session, carrying length-prefixed
// CLASP frames (the frame's own varint length prefix, per §6.1, is reused
// directly — no extra framing is added on top).
package quictransport

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"github.com/quic-go/webtransport-go"

	"github.com/lumencanvas/clasp/internal/router"
	"github.com/lumencanvas/clasp/pkg/wire"
)

// DialTimeout bounds the WebTransport handshake plus initial stream open.
const DialTimeout = 10 * time.Second

// Transport serves router.Transport over WebTransport sessions, one
// bidirectional stream per session carrying the full CLASP frame sequence.
type Transport struct {
	wt       webtransport.Server
	accepted chan acceptedConn
}

type acceptedConn struct {
	sender   *Sender
	receiver *Receiver
	remote   string
}

// New constructs a Transport bound to addr with the given TLS config
// (see GenerateTLSConfig). New registers the WebTransport upgrade handler
// at "/clasp" on the transport's own HTTP mux; call Serve to start
// accepting QUIC connections.
func New(addr string, tlsConfig *tls.Config) *Transport {
	t := &Transport{accepted: make(chan acceptedConn, 64)}
	mux := http.NewServeMux()
	t.wt = webtransport.Server{
		H3: http3.Server{
			Addr:      addr,
			TLSConfig: tlsConfig,
			Handler:   mux,
		},
		CheckOrigin: func(_ *http.Request) bool { return true },
	}
	mux.HandleFunc("/clasp", t.handleUpgrade)
	return t
}

func (t *Transport) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	sess, err := t.wt.Upgrade(w, r)
	if err != nil {
		return
	}
	stream, err := sess.AcceptStream(r.Context())
	if err != nil {
		sess.CloseWithError(0, "failed to accept control stream")
		return
	}
	s := newSender(stream)
	go s.writeLoop()
	t.accepted <- acceptedConn{
		sender:   s,
		receiver: &Receiver{r: bufio.NewReader(stream)},
		remote:   r.RemoteAddr,
	}
}

// Serve starts the underlying QUIC/HTTP3 listener and blocks until it
// stops or ctx is cancelled.
func (t *Transport) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- t.wt.H3.ListenAndServe() }()
	select {
	case <-ctx.Done():
		_ = t.wt.Close()
		return nil
	case err := <-errCh:
		return err
	}
}

// Accept blocks until a WebTransport session's control stream is ready.
func (t *Transport) Accept() (router.Sender, router.Receiver, string, error) {
	c, ok := <-t.accepted
	if !ok {
		return nil, nil, "", fmt.Errorf("clasp: quictransport closed")
	}
	return c.sender, c.receiver, c.remote, nil
}

// Connect dials a CLASP WebTransport endpoint as a client, opening the one
// bidirectional stream the session uses for its whole lifetime.
func (t *Transport) Connect(url string) (router.Sender, router.Receiver, error) {
	dialer := webtransport.Dialer{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec — self-signed router cert
		QUICConfig:      &quic.Config{EnableDatagrams: false},
	}
	dialCtx, cancel := context.WithTimeout(context.Background(), DialTimeout)
	defer cancel()
	_, sess, err := dialer.Dial(dialCtx, url, http.Header{})
	if err != nil {
		return nil, nil, fmt.Errorf("clasp: webtransport dial %s: %w", url, err)
	}
	stream, err := sess.OpenStream()
	if err != nil {
		sess.CloseWithError(0, "failed to open control stream")
		return nil, nil, fmt.Errorf("clasp: open stream: %w", err)
	}
	s := newSender(stream)
	go s.writeLoop()
	return s, &Receiver{r: bufio.NewReader(stream)}, nil
}

// Sender enqueues outbound frames on a buffered channel drained by a
// single writer goroutine; Stream.Write has no concurrent-writer
// restriction but serializing keeps frame boundaries intact under
// back-pressure the same way wstransport does.
//
// Close never closes the outbound channel itself: TrySend/Send can run
// concurrently with Close (e.g. a fan-out goroutine writing to a session
// that is disconnecting on its own ServeConn goroutine), and closing a
// channel while another goroutine may still be sending on it panics. Close
// instead closes done, which both Send and writeLoop select on; outbound is
// left for the garbage collector once nothing references it.
type Sender struct {
	stream    *webtransport.Stream
	outbound  chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newSender(stream *webtransport.Stream) *Sender {
	return &Sender{stream: stream, outbound: make(chan []byte, 1000), done: make(chan struct{})}
}

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
		err = s.stream.Close()
	})
	return err
}

func (s *Sender) writeLoop() {
	for {
		select {
		case data := <-s.outbound:
			if _, err := s.stream.Write(data); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

// Receiver reassembles exactly one complete CLASP frame per Recv call from
// the underlying byte stream, unlike wstransport where gorilla/websocket
// already delivers whole messages: a QUIC stream is a raw byte pipe, so the
// frame's own magic/flags/varint-length header (§6.1) is what tells us
// where one frame ends and the next begins.
type Receiver struct {
	r *bufio.Reader
}

func (r *Receiver) Recv() (router.Event, error) {
	frame, err := readFrame(r.r)
	if err != nil {
		return router.Event{Kind: router.EventDisconnected, Reason: err.Error()}, err
	}
	return router.Event{Kind: router.EventData, Data: frame}, nil
}

// readFrame reads exactly one magic|flags|[timestamp]|varint-len|payload
// frame off r, returning the raw bytes unmodified so the caller can hand
// them straight to wire.Decode.
func readFrame(r *bufio.Reader) ([]byte, error) {
	header := make([]byte, 0, 16)

	magic, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	header = append(header, magic)
	if magic != wire.Magic {
		return nil, wire.ErrBadMagic
	}

	flags, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	header = append(header, flags)

	const flagHasTimestamp = 0b0000_0100
	if flags&flagHasTimestamp != 0 {
		ts := make([]byte, 8)
		if _, err := io.ReadFull(r, ts); err != nil {
			return nil, err
		}
		header = append(header, ts...)
	}

	payloadLen, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	lenBuf := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(lenBuf, payloadLen)
	header = append(header, lenBuf[:n]...)

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}

	return append(header, payload...), nil
}
