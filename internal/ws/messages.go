// Package ws holds WebSocket message types and the Hub implementation.
// messages.go defines all message structs broadcast to connected clients.
package ws

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MsgType identifies the kind of WS message so clients can switch on it.
type MsgType string

const (
	MsgTypeBidAccepted MsgType = "bid_accepted"
	MsgTypeOutbid      MsgType = "outbid"
	MsgTypeParcelWon   MsgType = "parcel_won"
)

// ──────────────────────────────────────────────────────────────────────────────
// BidAcceptedMessage — broadcast after a bid commits so map views refresh.
// ──────────────────────────────────────────────────────────────────────────────

// BidAcceptedMessage carries the new leading bid and the parcel's close time,
// which may have moved if the bid landed inside the extension window.
type BidAcceptedMessage struct {
	Type      MsgType         `json:"type"`
	BidID     uuid.UUID       `json:"bid_id"`
	X         int             `json:"x"`
	Y         int             `json:"y"`
	Address   string          `json:"address"`
	Amount    decimal.Decimal `json:"amount"`
	NextMin   decimal.Decimal `json:"next_min"` // minimum qualifying raise
	EndsAt    time.Time       `json:"ends_at"`
	Timestamp time.Time       `json:"timestamp"`
}

// ──────────────────────────────────────────────────────────────────────────────
// OutbidMessage — sent directly to the displaced bidder's connections.
// ──────────────────────────────────────────────────────────────────────────────

// OutbidMessage tells the displaced bidder which parcel was taken and at what
// amount.
type OutbidMessage struct {
	Type      MsgType         `json:"type"`
	Address   string          `json:"address"` // the displaced bidder
	X         int             `json:"x"`
	Y         int             `json:"y"`
	NewAmount decimal.Decimal `json:"new_amount"`
	Timestamp time.Time       `json:"timestamp"`
}

// ──────────────────────────────────────────────────────────────────────────────
// ParcelWonMessage — broadcast when a parcel's close passes and it settles.
// ──────────────────────────────────────────────────────────────────────────────

// ParcelWonMessage announces the final owner of a settled parcel.
type ParcelWonMessage struct {
	Type      MsgType         `json:"type"`
	X         int             `json:"x"`
	Y         int             `json:"y"`
	Address   string          `json:"address"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp time.Time       `json:"timestamp"`
}
