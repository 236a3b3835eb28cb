package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/gridlands/auction/internal/domain"
)

// PostgresStore implements Store on PostgreSQL via sqlx. All row shaping stays
// in this file; services above only see domain types and sentinel errors.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// wrapErr tags driver failures as transient so the retry layer picks them up.
func wrapErr(op string, err error) error {
	return fmt.Errorf("postgres.%s: %w: %v", op, domain.ErrPersistence, err)
}

// --- Address states ---

func (s *PostgresStore) GetAddressState(ctx context.Context, address string) (*domain.AddressState, error) {
	var st domain.AddressState
	err := s.db.GetContext(ctx, &st, `SELECT * FROM address_states WHERE address = $1`, address)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrAddressNotFound
		}
		return nil, wrapErr("GetAddressState", err)
	}
	return &st, nil
}

func (s *PostgresStore) UpsertAddressState(ctx context.Context, state *domain.AddressState) error {
	query := `
		INSERT INTO address_states
			(address, balance, locked, email, latest_bid_group_id, created_at, updated_at)
		VALUES
			(:address, :balance, :locked, :email, :latest_bid_group_id, :created_at, :updated_at)
		ON CONFLICT (address) DO UPDATE SET
			balance             = EXCLUDED.balance,
			locked              = EXCLUDED.locked,
			email               = EXCLUDED.email,
			latest_bid_group_id = EXCLUDED.latest_bid_group_id,
			updated_at          = EXCLUDED.updated_at`
	if _, err := s.db.NamedExecContext(ctx, query, state); err != nil {
		return wrapErr("UpsertAddressState", err)
	}
	return nil
}

// --- Bids & bid groups ---

func (s *PostgresStore) CreateBidGroup(ctx context.Context, group *domain.BidGroup) error {
	query := `
		INSERT INTO bid_groups (id, address, created_at)
		VALUES (:id, :address, :created_at)`
	if _, err := s.db.NamedExecContext(ctx, query, group); err != nil {
		return wrapErr("CreateBidGroup", err)
	}
	return nil
}

func (s *PostgresStore) GetBidGroup(ctx context.Context, id uuid.UUID) (*domain.BidGroup, error) {
	var g domain.BidGroup
	err := s.db.GetContext(ctx, &g, `SELECT * FROM bid_groups WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrBidGroupNotFound
		}
		return nil, wrapErr("GetBidGroup", err)
	}
	err = s.db.SelectContext(ctx, &g.BidIDs,
		`SELECT id FROM bids WHERE group_id = $1 ORDER BY submitted_at ASC`, id)
	if err != nil {
		return nil, wrapErr("GetBidGroup bids", err)
	}
	return &g, nil
}

func (s *PostgresStore) CreateBid(ctx context.Context, bid *domain.Bid) error {
	query := `
		INSERT INTO bids
			(id, group_id, x, y, address, amount, signature_ref, status, submitted_at, updated_at)
		VALUES
			(:id, :group_id, :x, :y, :address, :amount, :signature_ref, :status, :submitted_at, :updated_at)`
	if _, err := s.db.NamedExecContext(ctx, query, bid); err != nil {
		return wrapErr("CreateBid", err)
	}
	return nil
}

func (s *PostgresStore) UpdateBidStatus(ctx context.Context, id uuid.UUID, status domain.BidStatus, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE bids SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), at, id)
	if err != nil {
		return wrapErr("UpdateBidStatus", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrBidNotFound
	}
	return nil
}

func (s *PostgresStore) ActiveBidByParcel(ctx context.Context, coord domain.Coord) (*domain.Bid, error) {
	var b domain.Bid
	err := s.db.GetContext(ctx, &b,
		`SELECT * FROM bids WHERE x = $1 AND y = $2 AND status = 'active' LIMIT 1`,
		coord.X, coord.Y)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrBidNotFound
		}
		return nil, wrapErr("ActiveBidByParcel", err)
	}
	return &b, nil
}

func (s *PostgresStore) BidsByAddress(ctx context.Context, address string) ([]*domain.Bid, error) {
	var bids []*domain.Bid
	err := s.db.SelectContext(ctx, &bids,
		`SELECT * FROM bids WHERE address = $1 ORDER BY submitted_at DESC`, address)
	if err != nil {
		return nil, wrapErr("BidsByAddress", err)
	}
	return bids, nil
}

func (s *PostgresStore) ActiveBidsInRange(ctx context.Context, min, max domain.Coord) ([]*domain.Bid, error) {
	var bids []*domain.Bid
	err := s.db.SelectContext(ctx, &bids, `
		SELECT * FROM bids
		WHERE status = 'active'
		  AND x BETWEEN $1 AND $2
		  AND y BETWEEN $3 AND $4
		ORDER BY x ASC, y ASC`,
		min.X, max.X, min.Y, max.Y)
	if err != nil {
		return nil, wrapErr("ActiveBidsInRange", err)
	}
	return bids, nil
}

func (s *PostgresStore) ActiveBids(ctx context.Context) ([]*domain.Bid, error) {
	var bids []*domain.Bid
	err := s.db.SelectContext(ctx, &bids,
		`SELECT * FROM bids WHERE status = 'active' ORDER BY x ASC, y ASC`)
	if err != nil {
		return nil, wrapErr("ActiveBids", err)
	}
	return bids, nil
}

// --- Monthly ledger rows ---

func (s *PostgresStore) MergeLockedBalanceEvent(ctx context.Context, address string, month int, delta decimal.Decimal, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO locked_balance_events (address, month, amount, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (address, month) DO UPDATE SET
			amount     = locked_balance_events.amount + EXCLUDED.amount,
			updated_at = EXCLUDED.updated_at`,
		address, month, delta, at)
	if err != nil {
		return wrapErr("MergeLockedBalanceEvent", err)
	}
	return nil
}

func (s *PostgresStore) MonthlyLockedBalance(ctx context.Context, address string) (map[int]decimal.Decimal, error) {
	var rows []domain.LockedBalanceEvent
	err := s.db.SelectContext(ctx, &rows,
		`SELECT address, month, amount, updated_at
		FROM locked_balance_events WHERE address = $1`, address)
	if err != nil {
		return nil, wrapErr("MonthlyLockedBalance", err)
	}
	out := make(map[int]decimal.Decimal, len(rows))
	for _, r := range rows {
		out[r.Month] = r.Amount
	}
	return out, nil
}

func (s *PostgresStore) AddDistrictEntry(ctx context.Context, entry *domain.DistrictEntry) error {
	query := `
		INSERT INTO district_entries (address, district_id, month, amount, created_at)
		VALUES (:address, :district_id, :month, :amount, :created_at)`
	if _, err := s.db.NamedExecContext(ctx, query, entry); err != nil {
		return wrapErr("AddDistrictEntry", err)
	}
	return nil
}

func (s *PostgresStore) MonthlyDistrictBalance(ctx context.Context, address string) (map[int]decimal.Decimal, error) {
	rows := []struct {
		Month  int             `db:"month"`
		Amount decimal.Decimal `db:"amount"`
	}{}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT month, COALESCE(SUM(amount), 0) AS amount
		FROM district_entries
		WHERE address = $1
		GROUP BY month`, address)
	if err != nil {
		return nil, wrapErr("MonthlyDistrictBalance", err)
	}
	out := make(map[int]decimal.Decimal, len(rows))
	for _, r := range rows {
		out[r.Month] = r.Amount
	}
	return out, nil
}

// --- Aggregates ---

func (s *PostgresStore) CountAddressesWithBalance(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM address_states WHERE balance > 0`)
	if err != nil {
		return 0, wrapErr("CountAddressesWithBalance", err)
	}
	return n, nil
}

func (s *PostgresStore) MaxBalance(ctx context.Context) (decimal.Decimal, error) {
	var max decimal.Decimal
	err := s.db.GetContext(ctx, &max,
		`SELECT COALESCE(MAX(balance), 0) FROM address_states`)
	if err != nil {
		return decimal.Zero, wrapErr("MaxBalance", err)
	}
	return max, nil
}

func (s *PostgresStore) TotalLocked(ctx context.Context) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := s.db.GetContext(ctx, &total,
		`SELECT COALESCE(SUM(locked), 0) FROM address_states`)
	if err != nil {
		return decimal.Zero, wrapErr("TotalLocked", err)
	}
	return total, nil
}

func (s *PostgresStore) CountAddressesWithEmail(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM address_states WHERE email IS NOT NULL AND email <> ''`)
	if err != nil {
		return 0, wrapErr("CountAddressesWithEmail", err)
	}
	return n, nil
}

// --- Outbid notifications ---

func (s *PostgresStore) EnqueueOutbidNotification(ctx context.Context, n *domain.OutbidNotification) error {
	query := `
		INSERT INTO outbid_notifications (id, address, x, y, new_amount, created_at, sent_at)
		VALUES (:id, :address, :x, :y, :new_amount, :created_at, :sent_at)`
	if _, err := s.db.NamedExecContext(ctx, query, n); err != nil {
		return wrapErr("EnqueueOutbidNotification", err)
	}
	return nil
}

func (s *PostgresStore) PendingOutbidNotifications(ctx context.Context, limit int) ([]*domain.OutbidNotification, error) {
	var out []*domain.OutbidNotification
	err := s.db.SelectContext(ctx, &out, `
		SELECT * FROM outbid_notifications
		WHERE sent_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, wrapErr("PendingOutbidNotifications", err)
	}
	return out, nil
}

func (s *PostgresStore) MarkNotificationSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE outbid_notifications SET sent_at = $1 WHERE id = $2 AND sent_at IS NULL`,
		at, id)
	if err != nil {
		return wrapErr("MarkNotificationSent", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrBidNotFound
	}
	return nil
}
