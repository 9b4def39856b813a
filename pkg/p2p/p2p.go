// Package p2p defines the reserved address conventions for the peer
// rendezvous signaling mux (C10). The router treats every address here as
// an ordinary Publish subject to the usual scope checks; negotiation state
// (queuing ICE candidates until a remote description is set, tracking
// offer/answer correlation) is a client concern, not the router's.
package p2p

import "fmt"

// AnnounceAddress is where peers publish their presence and capabilities.
const AnnounceAddress = "/$p2p/announce"

// SignalAddressPrefix precedes a target session id to form a per-peer
// signaling channel.
const SignalAddressPrefix = "/$p2p/signal/"

// SignalAddress returns the reserved per-peer signaling address for
// targetSessionID. A sender addresses the target's own well-known
// signaling address; the router fans it out exactly like a normal
// publish, which reaches the target via its subscription to that address.
func SignalAddress(targetSessionID string) string {
	return fmt.Sprintf("%s%s", SignalAddressPrefix, targetSessionID)
}

// KindTag is the application-level discriminator carried inside a signaling
// Publish's payload map (under the "kind" key); the router never inspects
// it, but client SDKs agree on these names for interoperability.
type KindTag string

const (
	KindOffer        KindTag = "offer"
	KindAnswer       KindTag = "answer"
	KindIceCandidate KindTag = "ice_candidate"
	KindConnected    KindTag = "connected"
	KindDisconnected KindTag = "disconnected"
)

// IsReserved reports whether addr falls under the P2P signaling namespace.
func IsReserved(addr string) bool {
	if addr == AnnounceAddress {
		return true
	}
	return len(addr) > len(SignalAddressPrefix) && addr[:len(SignalAddressPrefix)] == SignalAddressPrefix
}
