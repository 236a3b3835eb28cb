package ws

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"

	"github.com/gridlands/auction/internal/domain"
)

var testSecret = []byte("ws-test-secret")

func mintToken(t *testing.T, address string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": address,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := tok.SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestParseJWT(t *testing.T) {
	h := NewHub(testSecret, nil)

	if got := h.parseJWT(mintToken(t, "0xalice")); got != "0xalice" {
		t.Errorf("parseJWT = %q, want 0xalice", got)
	}
	if got := h.parseJWT("not-a-token"); got != "" {
		t.Errorf("garbage token = %q, want empty (anonymous)", got)
	}

	other := NewHub([]byte("different-secret"), nil)
	if got := other.parseJWT(mintToken(t, "0xalice")); got != "" {
		t.Errorf("wrong-secret token = %q, want empty", got)
	}
}

// registerClient pushes a bare client through the hub loop. No conn: these
// tests only exercise routing, not the pumps.
func registerClient(h *Hub, address string) *Client {
	c := &Client{hub: h, send: make(chan []byte, 8), address: address}
	h.register <- c
	return c
}

func receive(t *testing.T, c *Client) map[string]interface{} {
	t.Helper()
	select {
	case data := <-c.send:
		var m map[string]interface{}
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("bad message payload: %v", err)
		}
		return m
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
		return nil
	}
}

func assertSilent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.send:
		t.Errorf("unexpected message: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_BroadcastReachesEveryone(t *testing.T) {
	h := NewHub(testSecret, nil)
	go h.Run()

	alice := registerClient(h, "0xalice")
	anon := registerClient(h, "")

	h.BroadcastBidAccepted(&domain.Bid{
		X: 1, Y: 2, Address: "0xalice", Amount: decimal.NewFromInt(1000),
	}, time.Now().Add(time.Hour))

	for _, c := range []*Client{alice, anon} {
		msg := receive(t, c)
		if msg["type"] != string(MsgTypeBidAccepted) {
			t.Errorf("type = %v, want %s", msg["type"], MsgTypeBidAccepted)
		}
	}
}

func TestHub_OutbidIsTargeted(t *testing.T) {
	h := NewHub(testSecret, nil)
	go h.Run()

	alice := registerClient(h, "0xalice")
	aliceSecond := registerClient(h, "0xalice") // two tabs open
	bob := registerClient(h, "0xbob")
	anon := registerClient(h, "")

	h.BroadcastOutbid(&domain.OutbidNotification{
		Address: "0xalice", X: 1, Y: 2, NewAmount: decimal.NewFromInt(1250),
	})

	for _, c := range []*Client{alice, aliceSecond} {
		msg := receive(t, c)
		if msg["type"] != string(MsgTypeOutbid) || msg["address"] != "0xalice" {
			t.Errorf("outbid message = %v", msg)
		}
	}
	assertSilent(t, bob)
	assertSilent(t, anon)
}

func TestHub_UnregisterStopsDelivery(t *testing.T) {
	h := NewHub(testSecret, nil)
	go h.Run()

	alice := registerClient(h, "0xalice")
	h.unregister <- alice

	// Wait for the loop to process the unregister (send gets closed).
	select {
	case _, ok := <-alice.send:
		if ok {
			t.Fatal("expected closed send channel")
		}
	case <-time.After(time.Second):
		t.Fatal("unregister not processed")
	}

	if n := h.ConnectedCount(); n != 0 {
		t.Errorf("connected = %d, want 0", n)
	}

	// A direct message to the departed address is dropped, not delivered.
	h.BroadcastOutbid(&domain.OutbidNotification{
		Address: "0xalice", NewAmount: decimal.NewFromInt(1250),
	})
}
