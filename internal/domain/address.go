package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// AddressState
// ──────────────────────────────────────────────────────────────────────────────

// AddressState is the per-address balance ledger: total MANA balance, the
// portion locked toward open bids and district commitments, and a pointer to
// the latest BidGroup. Created lazily on first interaction.
type AddressState struct {
	Address          string          `json:"address"             db:"address"`
	Balance          decimal.Decimal `json:"balance"             db:"balance"`
	Locked           decimal.Decimal `json:"locked"              db:"locked"`
	Email            string          `json:"email,omitempty"     db:"email"`
	LatestBidGroupID *uuid.UUID      `json:"latest_bid_group_id" db:"latest_bid_group_id"`
	CreatedAt        time.Time       `json:"created_at"          db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"          db:"updated_at"`
}

// Available returns the balance still free for new bids: Balance − Locked.
func (a *AddressState) Available() decimal.Decimal {
	return a.Balance.Sub(a.Locked)
}

// HasEmail reports whether the address registered a contact channel for
// outbid notifications.
func (a *AddressState) HasEmail() bool {
	return a.Email != ""
}

// ──────────────────────────────────────────────────────────────────────────────
// Monthly ledger rows
// ──────────────────────────────────────────────────────────────────────────────

// LockedBalanceEvent is the monthly record of funds locked toward auction
// bids for one address: one row per (address, month). Amounts only grow
// within a month's accounting window; shrinking requires an explicit unlock.
type LockedBalanceEvent struct {
	Address   string          `json:"address"    db:"address"`
	Month     int             `json:"month"      db:"month"` // 1–12
	Amount    decimal.Decimal `json:"amount"     db:"amount"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// DistrictEntry is the analogous monthly record for funds committed to
// fixed-price district purchases. Tracked apart from auction locks because
// district commitments are exempt from the bid-discount formula.
type DistrictEntry struct {
	Address    string          `json:"address"     db:"address"`
	DistrictID uuid.UUID       `json:"district_id" db:"district_id"`
	Month      int             `json:"month"       db:"month"`
	Amount     decimal.Decimal `json:"amount"      db:"amount"`
	CreatedAt  time.Time       `json:"created_at"  db:"created_at"`
}

// ──────────────────────────────────────────────────────────────────────────────
// AddressView — per-address API projection
// ──────────────────────────────────────────────────────────────────────────────

// AddressView is the read-only per-address projection served outward: current
// balances, the latest bid group, and full bid history.
type AddressView struct {
	Address     string          `json:"address"`
	Balance     decimal.Decimal `json:"balance"`
	Locked      decimal.Decimal `json:"locked"`
	Available   decimal.Decimal `json:"available"`
	LatestGroup *BidGroup       `json:"latest_bid_group,omitempty"`
	Bids        []*Bid          `json:"bids"`
}

// ──────────────────────────────────────────────────────────────────────────────
// OutbidNotification
// ──────────────────────────────────────────────────────────────────────────────

// OutbidNotification is queued when an address loses the lead on a parcel.
// Delivery itself is an external collaborator; the engine only records and
// hands these off.
type OutbidNotification struct {
	ID        uuid.UUID       `json:"id"         db:"id"`
	Address   string          `json:"address"    db:"address"`
	X         int             `json:"x"          db:"x"`
	Y         int             `json:"y"          db:"y"`
	NewAmount decimal.Decimal `json:"new_amount" db:"new_amount"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	SentAt    *time.Time      `json:"sent_at"    db:"sent_at"`
}
