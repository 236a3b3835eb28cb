// Package store defines the persistence collaborator for the auction engine.
// Implementations include PostgreSQL (source of truth) and in-memory (for
// testing and development). The engine treats this purely as a key/aggregate
// lookup interface; nothing SQL-specific leaks above it.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gridlands/auction/internal/domain"
)

// Store is the persistence interface. Mutating calls are expected to be
// invoked under the engine's per-parcel / per-address critical sections; the
// store itself only guarantees the atomicity of each individual call.
type Store interface {
	// --- Address states ---

	// GetAddressState returns the ledger row for an address.
	// Returns domain.ErrAddressNotFound when the address has never interacted.
	GetAddressState(ctx context.Context, address string) (*domain.AddressState, error)

	// UpsertAddressState creates or fully replaces an address's ledger row.
	UpsertAddressState(ctx context.Context, state *domain.AddressState) error

	// --- Bids & bid groups ---

	// CreateBidGroup persists a batch submission record.
	CreateBidGroup(ctx context.Context, group *domain.BidGroup) error

	// GetBidGroup returns one group with its bid ids.
	GetBidGroup(ctx context.Context, id uuid.UUID) (*domain.BidGroup, error)

	// CreateBid appends a new bid (status active on acceptance).
	CreateBid(ctx context.Context, bid *domain.Bid) error

	// UpdateBidStatus transitions a bid's status.
	UpdateBidStatus(ctx context.Context, id uuid.UUID, status domain.BidStatus, at time.Time) error

	// ActiveBidByParcel returns the single active bid on a parcel.
	// Returns domain.ErrBidNotFound when the parcel has no bids.
	ActiveBidByParcel(ctx context.Context, coord domain.Coord) (*domain.Bid, error)

	// BidsByAddress returns an address's full bid history, newest first.
	BidsByAddress(ctx context.Context, address string) ([]*domain.Bid, error)

	// ActiveBidsInRange returns the active bids inside a rectangular
	// coordinate window (inclusive bounds).
	ActiveBidsInRange(ctx context.Context, min, max domain.Coord) ([]*domain.Bid, error)

	// ActiveBids returns every active bid across all parcels. Used by the
	// finalizer at the global auction close.
	ActiveBids(ctx context.Context) ([]*domain.Bid, error)

	// --- Monthly ledger rows ---

	// MergeLockedBalanceEvent adds delta to the (address, month) locked-balance
	// row, creating it at delta when absent. Accepted locks only grow the row;
	// unlocks never rewrite past months. A negative delta occurs only when a
	// failed commit reverts its own merge.
	MergeLockedBalanceEvent(ctx context.Context, address string, month int, delta decimal.Decimal, at time.Time) error

	// MonthlyLockedBalance returns the per-month locked totals for an address.
	// Missing months are simply absent; callers zero-fill.
	MonthlyLockedBalance(ctx context.Context, address string) (map[int]decimal.Decimal, error)

	// AddDistrictEntry records a fixed-price district commitment.
	AddDistrictEntry(ctx context.Context, entry *domain.DistrictEntry) error

	// MonthlyDistrictBalance returns the per-month district commitment totals.
	MonthlyDistrictBalance(ctx context.Context, address string) (map[int]decimal.Decimal, error)

	// --- Aggregates (reporting) ---

	// CountAddressesWithBalance counts addresses holding a positive balance.
	CountAddressesWithBalance(ctx context.Context) (int64, error)

	// MaxBalance returns the largest single address balance.
	MaxBalance(ctx context.Context) (decimal.Decimal, error)

	// TotalLocked sums locked amounts across all addresses.
	TotalLocked(ctx context.Context) (decimal.Decimal, error)

	// CountAddressesWithEmail counts addresses with a registered contact
	// channel (the external contact-registration collaborator's view).
	CountAddressesWithEmail(ctx context.Context) (int64, error)

	// --- Outbid notifications ---

	// EnqueueOutbidNotification records that an address lost the lead.
	EnqueueOutbidNotification(ctx context.Context, n *domain.OutbidNotification) error

	// PendingOutbidNotifications returns unsent notifications, oldest first.
	PendingOutbidNotifications(ctx context.Context, limit int) ([]*domain.OutbidNotification, error)

	// MarkNotificationSent stamps a notification as delivered.
	MarkNotificationSent(ctx context.Context, id uuid.UUID, at time.Time) error
}
