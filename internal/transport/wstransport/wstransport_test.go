package wstransport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestAcceptConnectRoundTrip(t *testing.T) {
	tr := New()
	srv := httptest.NewServer(tr)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"

	type result struct {
		err error
	}
	connectDone := make(chan result, 1)

	go func() {
		clientSender, clientReceiver, err := tr.Connect(url)
		if err != nil {
			connectDone <- result{err: err}
			return
		}
		defer clientSender.Close()
		clientSender.TrySend([]byte("hello"))
		ev, err := clientReceiver.Recv()
		if err != nil {
			connectDone <- result{err: err}
			return
		}
		if string(ev.Data) != "echo:hello" {
			connectDone <- result{err: errString("unexpected echo payload: " + string(ev.Data))}
			return
		}
		connectDone <- result{}
	}()

	sender, receiver, _, err := tr.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	ev, err := receiver.Recv()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	sender.TrySend([]byte("echo:" + string(ev.Data)))

	select {
	case res := <-connectDone:
		if res.err != nil {
			t.Fatalf("client side: %v", res.err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for round trip")
	}
}

type errString string

func (e errString) Error() string { return string(e) }

func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	t.Handler(w, r)
}
