// Package bridge adapts application code to the domain.Bridge callbacks.
package bridge

import (
	"sync"

	"peerlink/internal/domain"
)

// Funcs implements domain.Bridge with optional function fields. Nil fields
// are skipped.
type Funcs struct {
	PeerDiscovered     func(id domain.PeerIdentity, address string)
	SessionEstablished func(id domain.PeerIdentity)
	Message            func(id domain.PeerIdentity, plaintext []byte)
	SessionClosed      func(id domain.PeerIdentity, reason domain.CloseReason)
}

func (f Funcs) OnPeerDiscovered(id domain.PeerIdentity, address string) {
	if f.PeerDiscovered != nil {
		f.PeerDiscovered(id, address)
	}
}

func (f Funcs) OnSessionEstablished(id domain.PeerIdentity) {
	if f.SessionEstablished != nil {
		f.SessionEstablished(id)
	}
}

func (f Funcs) OnMessage(id domain.PeerIdentity, plaintext []byte) {
	if f.Message != nil {
		f.Message(id, plaintext)
	}
}

func (f Funcs) OnSessionClosed(id domain.PeerIdentity, reason domain.CloseReason) {
	if f.SessionClosed != nil {
		f.SessionClosed(id, reason)
	}
}

// Nop ignores every event.
var Nop domain.Bridge = Funcs{}

// Multi fans every event out to each bridge in order.
type Multi []domain.Bridge

func (m Multi) OnPeerDiscovered(id domain.PeerIdentity, address string) {
	for _, b := range m {
		b.OnPeerDiscovered(id, address)
	}
}

func (m Multi) OnSessionEstablished(id domain.PeerIdentity) {
	for _, b := range m {
		b.OnSessionEstablished(id)
	}
}

func (m Multi) OnMessage(id domain.PeerIdentity, plaintext []byte) {
	for _, b := range m {
		b.OnMessage(id, plaintext)
	}
}

func (m Multi) OnSessionClosed(id domain.PeerIdentity, reason domain.CloseReason) {
	for _, b := range m {
		b.OnSessionClosed(id, reason)
	}
}

// Event is one callback recorded by a Recorder.
type Event struct {
	Kind    string
	Peer    domain.PeerIdentity
	Address string
	Payload []byte
	Reason  domain.CloseReason
}

// Recorder keeps every event it receives, for inspection.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) add(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *Recorder) OnPeerDiscovered(id domain.PeerIdentity, address string) {
	r.add(Event{Kind: "discovered", Peer: id, Address: address})
}

func (r *Recorder) OnSessionEstablished(id domain.PeerIdentity) {
	r.add(Event{Kind: "established", Peer: id})
}

func (r *Recorder) OnMessage(id domain.PeerIdentity, plaintext []byte) {
	r.add(Event{Kind: "message", Peer: id, Payload: append([]byte(nil), plaintext...)})
}

func (r *Recorder) OnSessionClosed(id domain.PeerIdentity, reason domain.CloseReason) {
	r.add(Event{Kind: "closed", Peer: id, Reason: reason})
}

// Events returns a copy of the recorded events, optionally only those of kind.
func (r *Recorder) Events(kind string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, 0, len(r.events))
	for _, e := range r.events {
		if kind == "" || e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

var (
	_ domain.Bridge = Funcs{}
	_ domain.Bridge = Multi(nil)
	_ domain.Bridge = (*Recorder)(nil)
)
