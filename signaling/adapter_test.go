package signaling

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// echoServer relays every envelope it receives straight back to the
// adapter under test, so round-trip decoding can be exercised without
// a real signaling peer.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, raw); err != nil {
				return
			}
		}
	}))
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestAdapterRoundTripsOffer(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	a, err := Dial(wsURL(srv), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer a.Close()

	if err := a.SendOffer(Offer{From: "alice", To: "bob", SDP: "v=0..."}); err != nil {
		t.Fatalf("send offer: %v", err)
	}

	select {
	case ev := <-a.Events:
		offer, ok := ev.(Offer)
		if !ok {
			t.Fatalf("expected Offer, got %T", ev)
		}
		if offer.From != "alice" || offer.To != "bob" || offer.SDP != "v=0..." {
			t.Fatalf("unexpected offer: %+v", offer)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for echoed offer")
	}
}

func TestAdapterPeerIDAssignedAndUsedAsDefaultFrom(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	a, err := Dial(wsURL(srv), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer a.Close()

	if a.PeerID == "" {
		t.Fatal("expected a non-empty PeerID after Dial")
	}

	if err := a.SendListPeers(); err != nil {
		t.Fatalf("send list-peers: %v", err)
	}

	// The echo server returns the raw envelope, not the typed
	// ListPeers payload (which has no fields), so read it back off the
	// wire directly rather than through dispatch.
	_, raw, err := a.conn.ReadMessage()
	if err != nil {
		t.Fatalf("read echoed envelope: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Type != TypeListPeers {
		t.Fatalf("expected list-peers envelope, got %s", env.Type)
	}
	if env.From != a.PeerID {
		t.Fatalf("expected From to default to PeerID %q, got %q", a.PeerID, env.From)
	}
}

func TestAdapterDecodesMultipleEnvelopeTypes(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	a, err := Dial(wsURL(srv), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer a.Close()

	if err := a.SendAck(Ack{From: "alice", To: "bob"}); err != nil {
		t.Fatalf("send ack: %v", err)
	}
	if err := a.SendBye(Bye{From: "alice", To: "bob", Reason: "done"}); err != nil {
		t.Fatalf("send bye: %v", err)
	}

	var gotAck, gotBye bool
	deadline := time.After(time.Second)
	for !gotAck || !gotBye {
		select {
		case ev := <-a.Events:
			switch v := ev.(type) {
			case Ack:
				gotAck = true
			case Bye:
				if v.Reason != "done" {
					t.Fatalf("unexpected bye reason: %q", v.Reason)
				}
				gotBye = true
			}
		case <-deadline:
			t.Fatalf("timed out: gotAck=%v gotBye=%v", gotAck, gotBye)
		}
	}
}

func TestAdapterRoundTripsLogin(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	a, err := Dial(wsURL(srv), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer a.Close()

	if err := a.SendLogin(Login{Password: "hunter2"}); err != nil {
		t.Fatalf("send login: %v", err)
	}

	select {
	case ev := <-a.Events:
		login, ok := ev.(Login)
		if !ok {
			t.Fatalf("expected Login, got %T", ev)
		}
		if login.PeerID != a.PeerID {
			t.Fatalf("expected PeerID to default to %q, got %q", a.PeerID, login.PeerID)
		}
		if login.Password != "hunter2" {
			t.Fatalf("unexpected password: %q", login.Password)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for echoed login")
	}
}

func TestDialFailsAgainstNonWebsocketServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if _, err := Dial(wsURL(srv), nil); err == nil {
		t.Fatal("expected dial against a non-websocket endpoint to fail")
	}
}
