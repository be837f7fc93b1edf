// Package signaling implements the websocket-based adapter for the
// signaling plane: Offer/Answer/Candidate exchange, Ack, Bye, Ping/Pong
// keep-alive, peer directory, and the authentication handshake. The
// signaling server itself — and ICE/DTLS/SDP negotiation — remain
// external collaborators; this package only speaks their wire
// protocol on behalf of the Engine.
package signaling

import "encoding/json"

// Type names the kinds of signaling message this package exchanges.
type Type string

const (
	TypeOffer       Type = "offer"
	TypeAnswer      Type = "answer"
	TypeCandidate   Type = "candidate"
	TypeAck         Type = "ack"
	TypeBye         Type = "bye"
	TypePing        Type = "ping"
	TypePong        Type = "pong"
	TypeListPeers   Type = "list-peers"
	TypePeersOnline Type = "peers-online"
	TypeRegister    Type = "register"
	TypeLogin       Type = "login"
)

// Envelope is the wire shape every signaling message round-trips
// through: a type tag plus a raw payload, generalized from a room
// broadcast envelope into a typed peer-to-peer one.
type Envelope struct {
	Type Type            `json:"type"`
	From string          `json:"from,omitempty"`
	To   string          `json:"to,omitempty"`
	Body json.RawMessage `json:"body,omitempty"`
}

// Offer and Answer carry a session descriptor exchanged verbatim; the
// descriptor's own structure belongs to the external SDP/negotiation
// subsystem, so it is opaque bytes here.
type Offer struct {
	From string `json:"from"`
	To   string `json:"to"`
	SDP  string `json:"sdp"`
}

type Answer struct {
	From string `json:"from"`
	To   string `json:"to"`
	SDP  string `json:"sdp"`
}

type Candidate struct {
	From string `json:"from"`
	To   string `json:"to"`
	Cand string `json:"cand"`
}

type Ack struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type Bye struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
}

type ListPeers struct{}

type PeersOnline struct {
	Peers []string `json:"peers"`
}

type Register struct {
	PeerID   string `json:"peer_id"`
	Password string `json:"password,omitempty"`
}

type Login struct {
	PeerID   string `json:"peer_id"`
	Password string `json:"password,omitempty"`
}
