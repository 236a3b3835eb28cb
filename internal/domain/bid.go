package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Types & constants
// ──────────────────────────────────────────────────────────────────────────────

// BidStatus represents the current state of a bid on a parcel.
type BidStatus string

const (
	BidStatusActive BidStatus = "active" // current leader on its parcel
	BidStatusOutbid BidStatus = "outbid" // superseded by a higher bid; terminal
	BidStatusWon    BidStatus = "won"    // parcel closed while leading
	BidStatusLost   BidStatus = "lost"   // parcel closed while not leading
)

// MinRaiseFactor is the minimum multiplier over the current leading bid a new
// bid on the same parcel must reach: required = ceil(prev × 1.25).
var MinRaiseFactor = decimal.NewFromFloat(1.25)

// ──────────────────────────────────────────────────────────────────────────────
// Bid
// ──────────────────────────────────────────────────────────────────────────────

// Bid represents a single monetary offer by one address for one parcel.
// Amounts are whole MANA (integer semantics on decimal.Decimal); an accepted
// bid's amount never changes, only its status transitions.
type Bid struct {
	ID           uuid.UUID       `json:"id"            db:"id"`
	GroupID      uuid.UUID       `json:"group_id"      db:"group_id"`
	X            int             `json:"x"             db:"x"`
	Y            int             `json:"y"             db:"y"`
	Address      string          `json:"address"       db:"address"`
	Amount       decimal.Decimal `json:"amount"        db:"amount"`
	SignatureRef string          `json:"signature_ref" db:"signature_ref"`
	Status       BidStatus       `json:"status"        db:"status"`
	SubmittedAt  time.Time       `json:"submitted_at"  db:"submitted_at"`
	UpdatedAt    time.Time       `json:"updated_at"    db:"updated_at"`
}

// Coord returns the parcel coordinate this bid targets.
func (b *Bid) Coord() Coord {
	return Coord{X: b.X, Y: b.Y}
}

// IsActive returns true while the bid is the current leader on its parcel.
func (b *Bid) IsActive() bool {
	return b.Status == BidStatusActive
}

// MinRaise returns the smallest amount that outbids this bid:
// ceil(Amount × MinRaiseFactor).
func (b *Bid) MinRaise() decimal.Decimal {
	return b.Amount.Mul(MinRaiseFactor).Ceil()
}

// Matches reports whether a submission is a byte-for-byte replay of this bid.
// Used for idempotent resubmission: a client retry of an already-accepted bid
// must not lock funds or extend the clock again.
func (b *Bid) Matches(coord Coord, address string, amount decimal.Decimal, signatureRef string) bool {
	return b.Coord() == coord &&
		b.Address == address &&
		b.Amount.Equal(amount) &&
		b.SignatureRef == signatureRef
}

// ──────────────────────────────────────────────────────────────────────────────
// BidGroup
// ──────────────────────────────────────────────────────────────────────────────

// BidGroup is a batch of bids submitted together by one address in one client
// action. AddressState references the most recent group for UI convenience;
// the group itself carries no invariants.
type BidGroup struct {
	ID        uuid.UUID   `json:"id"         db:"id"`
	Address   string      `json:"address"    db:"address"`
	BidIDs    []uuid.UUID `json:"bid_ids"    db:"-"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
}

// ──────────────────────────────────────────────────────────────────────────────
// SubmitBidRequest — value object used by LedgerService
// ──────────────────────────────────────────────────────────────────────────────

// SubmitBidRequest carries the validated inputs for a single bid submission.
// Address is assumed to be already authenticated by the external wallet
// signature verifier; SignatureRef is its opaque reference.
type SubmitBidRequest struct {
	Coord        Coord
	Address      string
	Amount       decimal.Decimal
	SignatureRef string
}

// SubmitBidGroupRequest carries a batch of bids submitted in one client action.
type SubmitBidGroupRequest struct {
	Address      string
	SignatureRef string
	Bids         []BidEntry
}

// BidEntry is one (parcel, amount) pair inside a group submission.
type BidEntry struct {
	Coord  Coord
	Amount decimal.Decimal
}
