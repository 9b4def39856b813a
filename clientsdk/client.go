// Package clientsdk is a minimal Go client for CLASP: connect over either
// transport, send Hello, subscribe to address patterns, publish signals,
// and read Get replies with a timeout — the programmatic counterpart to
// speaking the wire protocol by hand.
package clientsdk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lumencanvas/clasp/internal/router"
	"github.com/lumencanvas/clasp/internal/transport/quictransport"
	"github.com/lumencanvas/clasp/internal/transport/wstransport"
	"github.com/lumencanvas/clasp/pkg/wire"
)

// ErrGetTimeout is returned by Get when no Snapshot reply arrives in time.
var ErrGetTimeout = errors.New("clasp: get timed out")

// DefaultGetTimeout bounds how long Get waits for a Snapshot reply before
// giving up, mirroring the router's own GetTimeout default (§5).
const DefaultGetTimeout = 5 * time.Second

// Dialer opens a transport connection given a URL; wstransport.Transport
// and quictransport.Transport both satisfy this via their Connect method.
type Dialer func(url string) (router.Sender, router.Receiver, error)

// DialWebSocket connects to a CLASP router's WebSocket endpoint.
func DialWebSocket(url string) (router.Sender, router.Receiver, error) {
	return wstransport.New().Connect(url)
}

// DialQUIC connects to a CLASP router's WebTransport endpoint.
func DialQUIC(url string) (router.Sender, router.Receiver, error) {
	return (&quictransport.Transport{}).Connect(url)
}

// Client is a connected CLASP session: one read loop demultiplexes incoming
// frames to whichever goroutine is waiting (a pending Get, or the
// subscriber of an address pattern).
type Client struct {
	sender   router.Sender
	receiver router.Receiver

	mu       sync.Mutex
	handlers []SignalHandler
	pending  map[string]chan wire.Message // keyed by the Get's address

	closed chan struct{}
}

// SignalHandler receives every Publish/Set fan-out the session is
// subscribed to.
type SignalHandler func(addr string, value wire.Value, signal wire.SignalType)

// Connect opens a session with dial, starts the read loop and sends Hello.
// It returns as soon as Hello is sent: it does not wait for Welcome, and
// ctx is not consulted.
func Connect(ctx context.Context, dial Dialer, url, name, token string) (*Client, error) {
	sender, receiver, err := dial(url)
	if err != nil {
		return nil, fmt.Errorf("clasp: connect %s: %w", url, err)
	}
	c := &Client{
		sender:   sender,
		receiver: receiver,
		pending:  make(map[string]chan wire.Message),
		closed:   make(chan struct{}),
	}
	go c.readLoop()

	hello, err := wire.Encode(wire.Message{Type: wire.TypeHello, Hello: &wire.HelloMessage{
		Version: wire.ProtocolVersion, Name: name, Token: token,
	}}, nil)
	if err != nil {
		return nil, err
	}
	if err := c.sender.Send(hello); err != nil {
		return nil, fmt.Errorf("clasp: send hello: %w", err)
	}
	return c, nil
}

// OnSignal registers a callback invoked for every Publish/Set delivery.
// Handlers run on the client's single read-loop goroutine; they must not
// block.
func (c *Client) OnSignal(h SignalHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, h)
}

// Subscribe requests delivery of everything matching pattern.
func (c *Client) Subscribe(subID uint32, pattern string, types []wire.SignalType) error {
	data, err := wire.Encode(wire.Message{Type: wire.TypeSubscribe, Subscribe: &wire.SubscribeMessage{
		ID: subID, Pattern: pattern, Types: types,
	}}, nil)
	if err != nil {
		return err
	}
	return c.sender.Send(data)
}

// Publish sends a signal; signal defaults to Event on the router side if
// left zero-value, which in turn determines the message's default QoS
// (see wire.Message.DefaultQoS).
func (c *Client) Publish(addr string, value wire.Value, signal wire.SignalType) error {
	v := value
	data, err := wire.Encode(wire.Message{Type: wire.TypePublish, Publish: &wire.PublishMessage{
		Address: addr, Value: &v, Signal: signal,
	}}, nil)
	if err != nil {
		return err
	}
	return c.sender.Send(data)
}

// Set writes a persistent state value at addr.
func (c *Client) Set(addr string, value wire.Value) error {
	data, err := wire.Encode(wire.Message{Type: wire.TypeSet, Set: &wire.SetMessage{
		Address: addr, Value: value,
	}}, nil)
	if err != nil {
		return err
	}
	return c.sender.Send(data)
}

// Get requests the current value at addr and blocks for up to timeout (or
// DefaultGetTimeout if zero) for the router's Snapshot reply. Returns
// ErrGetTimeout if no reply with the same address shows up in time — the
// router replies silently when the address is unknown, so a timeout is the
// expected outcome for a never-set address.
func (c *Client) Get(ctx context.Context, addr string, timeout time.Duration) (wire.Value, error) {
	if timeout <= 0 {
		timeout = DefaultGetTimeout
	}
	ch := make(chan wire.Message, 1)
	c.mu.Lock()
	c.pending[addr] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, addr)
		c.mu.Unlock()
	}()

	data, err := wire.Encode(wire.Message{Type: wire.TypeGet, Get: &wire.GetMessage{Address: addr}}, nil)
	if err != nil {
		return wire.Value{}, err
	}
	if err := c.sender.Send(data); err != nil {
		return wire.Value{}, err
	}

	select {
	case msg := <-ch:
		if msg.Snapshot == nil || len(msg.Snapshot.Params) == 0 {
			return wire.Value{}, fmt.Errorf("clasp: empty snapshot reply for %s", addr)
		}
		return msg.Snapshot.Params[0].Value, nil
	case <-ctx.Done():
		return wire.Value{}, ctx.Err()
	case <-time.After(timeout):
		return wire.Value{}, ErrGetTimeout
	}
}

// Close tears down the underlying connection.
func (c *Client) Close() error {
	select {
	case <-c.closed:
		return nil
	default:
		close(c.closed)
	}
	return c.sender.Close()
}

func (c *Client) readLoop() {
	for {
		ev, err := c.receiver.Recv()
		if err != nil {
			return
		}
		if ev.Kind != router.EventData {
			continue
		}
		msg, _, err := wire.Decode(ev.Data, 0)
		if err != nil {
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg wire.Message) {
	switch msg.Type {
	case wire.TypeSnapshot:
		if msg.Snapshot != nil && len(msg.Snapshot.Params) > 0 {
			addr := msg.Snapshot.Params[0].Address
			c.mu.Lock()
			ch, ok := c.pending[addr]
			c.mu.Unlock()
			if ok {
				select {
				case ch <- msg:
				default:
				}
			}
		}
	case wire.TypePublish:
		if msg.Publish != nil && msg.Publish.Value != nil {
			c.notify(msg.Publish.Address, *msg.Publish.Value, msg.Publish.Signal)
		}
	case wire.TypeSet:
		if msg.Set != nil {
			c.notify(msg.Set.Address, msg.Set.Value, wire.SignalParam)
		}
	}
}

func (c *Client) notify(addr string, value wire.Value, signal wire.SignalType) {
	c.mu.Lock()
	handlers := append([]SignalHandler(nil), c.handlers...)
	c.mu.Unlock()
	for _, h := range handlers {
		h(addr, value, signal)
	}
}
