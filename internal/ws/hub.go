package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/gridlands/auction/internal/domain"
	"github.com/gridlands/auction/internal/metrics"
)

// ──────────────────────────────────────────────────────────────────────────────
// Tunables
// ──────────────────────────────────────────────────────────────────────────────

const (
	writeDeadline  = 10 * time.Second
	pingInterval   = 30 * time.Second
	pongWait       = 35 * time.Second // must be > pingInterval
	maxMessageSize = 512              // bytes; clients only send pongs
	sendBufferSize = 256              // messages in each client send channel
)

// ──────────────────────────────────────────────────────────────────────────────
// Client
// ──────────────────────────────────────────────────────────────────────────────

// Client represents one connected WebSocket endpoint.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte // buffered outbound message queue
	address string      // empty = anonymous
}

// ──────────────────────────────────────────────────────────────────────────────
// Hub
// ──────────────────────────────────────────────────────────────────────────────

// directMessage targets every connection authenticated as one address.
type directMessage struct {
	address string
	payload []byte
}

// Hub maintains the set of active clients and routes two kinds of traffic:
// broadcasts (bid accepted, parcel won) go to everyone watching the map,
// direct messages (you were outbid) go only to the named address's
// connections. Run() must be called in a dedicated goroutine before ServeWs
// is used.
type Hub struct {
	mu        sync.RWMutex
	clients   map[*Client]bool
	byAddress map[string]map[*Client]bool // authenticated connections only

	// channels consumed by Run()
	broadcast  chan []byte
	direct     chan directMessage
	register   chan *Client
	unregister chan *Client

	// JWT signing key (optional – if empty, all connections are anonymous)
	jwtSecret []byte

	// upgrader is safe for concurrent use after construction.
	upgrader websocket.Upgrader
}

// NewHub creates a Hub ready to be started with Run().
// jwtSecret may be nil; WS connections will then be treated as anonymous.
func NewHub(jwtSecret []byte, allowedOrigins []string) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		byAddress:  make(map[string]map[*Client]bool),
		broadcast:  make(chan []byte, 512),
		direct:     make(chan directMessage, 512),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		jwtSecret:  jwtSecret,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowedOrigins) == 0 {
					return true // dev mode: allow all
				}
				origin := r.Header.Get("Origin")
				for _, o := range allowedOrigins {
					if o == "*" || o == origin {
						return true
					}
				}
				return false
			},
		},
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Run — hub event loop
// ──────────────────────────────────────────────────────────────────────────────

// Run processes registration, unregistration, broadcast, and direct events
// sequentially.  Call it once as a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			if client.address != "" {
				conns, ok := h.byAddress[client.address]
				if !ok {
					conns = make(map[*Client]bool)
					h.byAddress[client.address] = conns
				}
				conns[client] = true
			}
			metrics.WebSocketClients.Set(float64(len(h.clients)))
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				if client.address != "" {
					delete(h.byAddress[client.address], client)
					if len(h.byAddress[client.address]) == 0 {
						delete(h.byAddress, client.address)
					}
				}
				close(client.send)
			}
			metrics.WebSocketClients.Set(float64(len(h.clients)))
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				client.trySend(message)
			}
			h.mu.RUnlock()

		case msg := <-h.direct:
			h.mu.RLock()
			for client := range h.byAddress[msg.address] {
				client.trySend(msg.payload)
			}
			h.mu.RUnlock()
		}
	}
}

// trySend enqueues without blocking. A client whose buffer is full loses the
// message; the writePump detects a stalled connection separately.
func (c *Client) trySend(message []byte) {
	select {
	case c.send <- message:
	default:
	}
}

// ConnectedCount returns the current number of connected clients.
func (h *Hub) ConnectedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ──────────────────────────────────────────────────────────────────────────────
// ServeWs — HTTP → WebSocket upgrade
// ──────────────────────────────────────────────────────────────────────────────

// ServeWs upgrades an HTTP request to a WebSocket connection, optionally
// authenticates the caller via a JWT in the ?token= query parameter, and
// starts the read/write pumps. Authenticated connections additionally receive
// direct messages for their address.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws.ServeWs: upgrade failed: %v", err)
		return
	}

	var address string // empty = anonymous
	if token := r.URL.Query().Get("token"); token != "" && len(h.jwtSecret) > 0 {
		address = h.parseJWT(token)
	}

	client := &Client{
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		address: address,
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

// parseJWT extracts the bidder address from a signed token's subject claim.
// Returns "" on any failure (treated as anonymous).
func (h *Hub) parseJWT(tokenString string) string {
	tok, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return h.jwtSecret, nil
	})
	if err != nil || !tok.Valid {
		return ""
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return ""
	}
	sub, _ := claims.GetSubject()
	return sub
}

// ──────────────────────────────────────────────────────────────────────────────
// Client pumps
// ──────────────────────────────────────────────────────────────────────────────

// writePump drains the client's send channel and writes messages to the
// WebSocket connection.  It also sends ping frames every pingInterval.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				// Hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads frames from the WebSocket connection.  Only pong messages
// are handled (they reset the read deadline).  All other inbound messages are
// discarded — this is a server-push-only protocol.  When the connection drops
// the client is unregistered.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("ws.readPump: unexpected close for %q: %v", c.address, err)
			}
			return
		}
		// All inbound messages are silently dropped; server is push-only.
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Push helpers — implement service.Broadcaster
// ──────────────────────────────────────────────────────────────────────────────

// BroadcastBidAccepted announces a committed bid and the parcel's close time
// to every connected map view.
func (h *Hub) BroadcastBidAccepted(bid *domain.Bid, endsAt time.Time) {
	h.broadcastJSON(BidAcceptedMessage{
		Type:      MsgTypeBidAccepted,
		BidID:     bid.ID,
		X:         bid.X,
		Y:         bid.Y,
		Address:   bid.Address,
		Amount:    bid.Amount,
		NextMin:   bid.MinRaise(),
		EndsAt:    endsAt,
		Timestamp: time.Now().UTC(),
	})
}

// BroadcastOutbid alerts the displaced bidder's own connections. The map-wide
// picture is already covered by the accepted-bid broadcast.
func (h *Hub) BroadcastOutbid(n *domain.OutbidNotification) {
	data, err := json.Marshal(OutbidMessage{
		Type:      MsgTypeOutbid,
		Address:   n.Address,
		X:         n.X,
		Y:         n.Y,
		NewAmount: n.NewAmount,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		log.Printf("ws.Hub: marshal error: %v", err)
		return
	}
	select {
	case h.direct <- directMessage{address: n.Address, payload: data}:
	default:
		log.Printf("ws.Hub: direct channel full, outbid alert dropped")
	}
}

// BroadcastParcelWon announces a settled parcel to every connected map view.
func (h *Hub) BroadcastParcelWon(bid *domain.Bid) {
	h.broadcastJSON(ParcelWonMessage{
		Type:      MsgTypeParcelWon,
		X:         bid.X,
		Y:         bid.Y,
		Address:   bid.Address,
		Amount:    bid.Amount,
		Timestamp: time.Now().UTC(),
	})
}

// broadcastJSON is the common marshalling path for map-wide events.
func (h *Hub) broadcastJSON(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("ws.Hub: marshal error: %v", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		log.Printf("ws.Hub: broadcast channel full, message dropped")
	}
}
