package router

// Sender is the outbound half of a transport connection (§6.2). TrySend
// never blocks; Send may suspend the calling goroutine until the transport
// accepts the frame or the connection dies.
type Sender interface {
	// TrySend enqueues data without blocking, returning false (BufferFull)
	// if the transport's outbound queue is saturated.
	TrySend(data []byte) bool
	// Send enqueues data, blocking if necessary.
	Send(data []byte) error
	Close() error
}

// EventKind tags what happened on a Receiver.
type EventKind uint8

const (
	EventConnected EventKind = iota
	EventData
	EventDisconnected
	EventError
)

// Event is one occurrence surfaced by a Receiver.
type Event struct {
	Kind   EventKind
	Data   []byte
	Reason string
}

// Receiver is the inbound half of a transport connection. Recv blocks until
// the next event; transports must deliver frames whole (no partial message
// boundaries surfaced to the router).
type Receiver interface {
	Recv() (Event, error)
}

// Transport accepts or dials connections, handing back a Sender/Receiver
// pair per connection. Concrete implementations (wstransport, quictransport)
// live outside this package; the router is transport-agnostic.
type Transport interface {
	Accept() (Sender, Receiver, string, error)
	Connect(url string) (Sender, Receiver, error)
}
