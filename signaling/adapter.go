package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/n0remac/rtcore/internal/chanutil"
)

// NewPeerID mints an identifier for Register/Login, in the familiar
// "prefix + uuid" style for room and player IDs.
func NewPeerID() string { return "peer-" + uuid.NewString() }

// PingInterval and PongTimeout implement the signaling keep-alive: a
// ping is sent every PingInterval, and the connection is dropped if no
// pong (or any other traffic) arrives within PongTimeout.
const (
	PingInterval = 5 * time.Second
	PongTimeout  = 15 * time.Second
)

// ErrKeepAliveTimeout is delivered on Events, then the adapter closes,
// when no traffic is seen from the peer within PongTimeout.
var ErrKeepAliveTimeout = errors.New("signaling: keep-alive timeout")

// Adapter is the thin client-side signaling transport: it dials a
// signaling server over a websocket and translates its JSON envelopes
// to and from the typed messages in messages.go. The read/write pump
// split mirrors a server-side hub client, adapted to an outbound
// dialer instead.
type Adapter struct {
	log    *log.Logger
	conn   *websocket.Conn
	PeerID string

	// writeMu serializes every write to conn: gorilla/websocket
	// forbids concurrent writers, and writeLoop and keepAliveLoop both
	// write (data frames and pings respectively).
	writeMu sync.Mutex

	send chan Envelope
	// Events delivers decoded payloads (Offer, Answer, Candidate, Ack,
	// Bye, PeersOnline, Login, or error) to the Engine.
	Events chan any

	closeOnce sync.Once
	closeCh   chan struct{}
	wg        sync.WaitGroup
}

// Dial connects to a signaling server at url and starts the adapter's
// read/write/keep-alive workers.
func Dial(url string, logger *log.Logger) (*Adapter, error) {
	if logger == nil {
		logger = log.Default()
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("signaling: dial %s: %w", url, err)
	}
	a := &Adapter{
		log:     logger,
		conn:    conn,
		PeerID:  NewPeerID(),
		send:    make(chan Envelope, 32),
		Events:  make(chan any, 32),
		closeCh: make(chan struct{}),
	}
	a.wg.Add(3)
	go a.readLoop()
	go a.writeLoop()
	go a.keepAliveLoop()
	return a, nil
}

func (a *Adapter) Close() error {
	a.closeOnce.Do(func() { close(a.closeCh) })
	err := a.conn.Close()
	a.wg.Wait()
	return err
}

// Send enqueues one outbound envelope; it does not block the caller
// indefinitely — a full send queue indicates a wedged connection, which
// the keep-alive timeout will eventually notice and close.
func (a *Adapter) Send(env Envelope) error {
	select {
	case a.send <- env:
		return nil
	case <-a.closeCh:
		return errors.New("signaling: adapter closed")
	case <-time.After(time.Second):
		return errors.New("signaling: send queue full")
	}
}

func (a *Adapter) SendOffer(o Offer) error     { return a.sendTyped(TypeOffer, o.From, o.To, o) }
func (a *Adapter) SendAnswer(o Answer) error   { return a.sendTyped(TypeAnswer, o.From, o.To, o) }
func (a *Adapter) SendCandidate(c Candidate) error {
	return a.sendTyped(TypeCandidate, c.From, c.To, c)
}
func (a *Adapter) SendAck(ack Ack) error { return a.sendTyped(TypeAck, ack.From, ack.To, ack) }
func (a *Adapter) SendBye(b Bye) error   { return a.sendTyped(TypeBye, b.From, b.To, b) }

// SendRegister announces this adapter's PeerID to the signaling
// server so other peers can address it.
func (a *Adapter) SendRegister() error {
	return a.sendTyped(TypeRegister, a.PeerID, "", Register{PeerID: a.PeerID})
}

// SendLogin is the other half of the Register/Login handshake: a
// returning peer re-announcing a PeerID it already holds, optionally
// with a credential.
func (a *Adapter) SendLogin(l Login) error {
	if l.PeerID == "" {
		l.PeerID = a.PeerID
	}
	return a.sendTyped(TypeLogin, l.PeerID, "", l)
}

// SendListPeers requests the current peer directory; the reply arrives
// on Events as a PeersOnline value.
func (a *Adapter) SendListPeers() error {
	return a.sendTyped(TypeListPeers, a.PeerID, "", ListPeers{})
}

func (a *Adapter) sendTyped(t Type, from, to string, body any) error {
	if from == "" {
		from = a.PeerID
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("signaling: marshal %s: %w", t, err)
	}
	return a.Send(Envelope{Type: t, From: from, To: to, Body: raw})
}

func (a *Adapter) readLoop() {
	defer a.wg.Done()
	for {
		_, raw, err := a.conn.ReadMessage()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				// No traffic at all (data or pong) within PongTimeout:
				// the read deadline has elapsed, so drop the connection.
				a.emit(fmt.Errorf("%w: %v", ErrKeepAliveTimeout, err))
				a.closeOnce.Do(func() { close(a.closeCh) })
				a.conn.Close()
			} else {
				a.emit(fmt.Errorf("signaling: read: %w", err))
			}
			return
		}
		a.conn.SetReadDeadline(time.Now().Add(PongTimeout))
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			a.log.Printf("[signaling] malformed envelope: %v", err)
			continue
		}
		a.dispatch(env)
	}
}

func (a *Adapter) dispatch(env Envelope) {
	switch env.Type {
	case TypeOffer:
		var v Offer
		if json.Unmarshal(env.Body, &v) == nil {
			a.emit(v)
		}
	case TypeAnswer:
		var v Answer
		if json.Unmarshal(env.Body, &v) == nil {
			a.emit(v)
		}
	case TypeCandidate:
		var v Candidate
		if json.Unmarshal(env.Body, &v) == nil {
			a.emit(v)
		}
	case TypeAck:
		var v Ack
		if json.Unmarshal(env.Body, &v) == nil {
			a.emit(v)
		}
	case TypeBye:
		var v Bye
		if json.Unmarshal(env.Body, &v) == nil {
			a.emit(v)
		}
	case TypePeersOnline:
		var v PeersOnline
		if json.Unmarshal(env.Body, &v) == nil {
			a.emit(v)
		}
	case TypeLogin:
		var v Login
		if json.Unmarshal(env.Body, &v) == nil {
			a.emit(v)
		}
	case TypePong:
		// keep-alive traffic only; keepAliveLoop's idle check on the
		// read side already covers this via the connection's activity.
	default:
		a.log.Printf("[signaling] unhandled envelope type %q", env.Type)
	}
}

func (a *Adapter) emit(v any) {
	chanutil.SendDropOldest(a.Events, v, nil)
}

func (a *Adapter) writeLoop() {
	defer a.wg.Done()
	for {
		select {
		case <-a.closeCh:
			return
		case env := <-a.send:
			raw, err := json.Marshal(env)
			if err != nil {
				a.log.Printf("[signaling] marshal envelope: %v", err)
				continue
			}
			a.writeMu.Lock()
			err = a.conn.WriteMessage(websocket.TextMessage, raw)
			a.writeMu.Unlock()
			if err != nil {
				a.emit(fmt.Errorf("signaling: write: %w", err))
				return
			}
		}
	}
}

// keepAliveLoop sends a Ping on PingInterval and arms the PongTimeout
// read deadline (the pong handler installed here resets it on each
// pong frame; readLoop resets it on every ordinary message, and closes
// the adapter when it elapses with no inbound traffic at all).
func (a *Adapter) keepAliveLoop() {
	defer a.wg.Done()
	a.conn.SetReadDeadline(time.Now().Add(PongTimeout))
	a.conn.SetPongHandler(func(string) error {
		a.conn.SetReadDeadline(time.Now().Add(PongTimeout))
		return nil
	})

	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.closeCh:
			return
		case <-ticker.C:
			a.writeMu.Lock()
			err := a.conn.WriteMessage(websocket.PingMessage, nil)
			a.writeMu.Unlock()
			if err != nil {
				a.emit(fmt.Errorf("%w: %v", ErrKeepAliveTimeout, err))
				return
			}
		}
	}
}
