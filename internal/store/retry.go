package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gridlands/auction/internal/domain"
)

// RetryPolicy bounds how transient persistence failures are retried before
// being surfaced to the caller.
type RetryPolicy struct {
	MaxAttempts int           // total attempts, including the first
	Backoff     time.Duration // base delay, doubled per attempt
}

// DefaultRetryPolicy matches the engine's service-unavailable contract:
// three attempts with a short doubling backoff.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, Backoff: 200 * time.Millisecond}

// RetryingStore decorates a Store and retries calls that fail with
// domain.ErrPersistence. Rule failures and invariant violations pass through
// untouched: retrying those only repeats them. Bid dedup in the ledger makes
// client-side replays of the same submission safe after the final failure.
type RetryingStore struct {
	inner  Store
	policy RetryPolicy
}

// NewRetryingStore wraps inner with the given policy.
func NewRetryingStore(inner Store, policy RetryPolicy) *RetryingStore {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &RetryingStore{inner: inner, policy: policy}
}

// retry runs fn up to MaxAttempts times, sleeping Backoff×2^n between
// transient failures. Respects context cancellation between attempts.
func retry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	var err error
	delay := policy.Backoff
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil || !domain.IsTransient(err) || attempt >= policy.MaxAttempts {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}

// retryVal is the value-returning variant of retry.
func retryVal[T any](ctx context.Context, policy RetryPolicy, fn func() (T, error)) (T, error) {
	var out T
	err := retry(ctx, policy, func() error {
		var innerErr error
		out, innerErr = fn()
		return innerErr
	})
	return out, err
}

func (s *RetryingStore) GetAddressState(ctx context.Context, address string) (*domain.AddressState, error) {
	return retryVal(ctx, s.policy, func() (*domain.AddressState, error) {
		return s.inner.GetAddressState(ctx, address)
	})
}

func (s *RetryingStore) UpsertAddressState(ctx context.Context, state *domain.AddressState) error {
	return retry(ctx, s.policy, func() error { return s.inner.UpsertAddressState(ctx, state) })
}

func (s *RetryingStore) CreateBidGroup(ctx context.Context, group *domain.BidGroup) error {
	return retry(ctx, s.policy, func() error { return s.inner.CreateBidGroup(ctx, group) })
}

func (s *RetryingStore) GetBidGroup(ctx context.Context, id uuid.UUID) (*domain.BidGroup, error) {
	return retryVal(ctx, s.policy, func() (*domain.BidGroup, error) { return s.inner.GetBidGroup(ctx, id) })
}

func (s *RetryingStore) CreateBid(ctx context.Context, bid *domain.Bid) error {
	return retry(ctx, s.policy, func() error { return s.inner.CreateBid(ctx, bid) })
}

func (s *RetryingStore) UpdateBidStatus(ctx context.Context, id uuid.UUID, status domain.BidStatus, at time.Time) error {
	return retry(ctx, s.policy, func() error { return s.inner.UpdateBidStatus(ctx, id, status, at) })
}

func (s *RetryingStore) ActiveBidByParcel(ctx context.Context, coord domain.Coord) (*domain.Bid, error) {
	return retryVal(ctx, s.policy, func() (*domain.Bid, error) { return s.inner.ActiveBidByParcel(ctx, coord) })
}

func (s *RetryingStore) BidsByAddress(ctx context.Context, address string) ([]*domain.Bid, error) {
	return retryVal(ctx, s.policy, func() ([]*domain.Bid, error) { return s.inner.BidsByAddress(ctx, address) })
}

func (s *RetryingStore) ActiveBidsInRange(ctx context.Context, min, max domain.Coord) ([]*domain.Bid, error) {
	return retryVal(ctx, s.policy, func() ([]*domain.Bid, error) { return s.inner.ActiveBidsInRange(ctx, min, max) })
}

func (s *RetryingStore) ActiveBids(ctx context.Context) ([]*domain.Bid, error) {
	return retryVal(ctx, s.policy, func() ([]*domain.Bid, error) { return s.inner.ActiveBids(ctx) })
}

func (s *RetryingStore) MergeLockedBalanceEvent(ctx context.Context, address string, month int, delta decimal.Decimal, at time.Time) error {
	return retry(ctx, s.policy, func() error {
		return s.inner.MergeLockedBalanceEvent(ctx, address, month, delta, at)
	})
}

func (s *RetryingStore) MonthlyLockedBalance(ctx context.Context, address string) (map[int]decimal.Decimal, error) {
	return retryVal(ctx, s.policy, func() (map[int]decimal.Decimal, error) {
		return s.inner.MonthlyLockedBalance(ctx, address)
	})
}

func (s *RetryingStore) AddDistrictEntry(ctx context.Context, entry *domain.DistrictEntry) error {
	return retry(ctx, s.policy, func() error { return s.inner.AddDistrictEntry(ctx, entry) })
}

func (s *RetryingStore) MonthlyDistrictBalance(ctx context.Context, address string) (map[int]decimal.Decimal, error) {
	return retryVal(ctx, s.policy, func() (map[int]decimal.Decimal, error) {
		return s.inner.MonthlyDistrictBalance(ctx, address)
	})
}

func (s *RetryingStore) CountAddressesWithBalance(ctx context.Context) (int64, error) {
	return retryVal(ctx, s.policy, func() (int64, error) { return s.inner.CountAddressesWithBalance(ctx) })
}

func (s *RetryingStore) MaxBalance(ctx context.Context) (decimal.Decimal, error) {
	return retryVal(ctx, s.policy, func() (decimal.Decimal, error) { return s.inner.MaxBalance(ctx) })
}

func (s *RetryingStore) TotalLocked(ctx context.Context) (decimal.Decimal, error) {
	return retryVal(ctx, s.policy, func() (decimal.Decimal, error) { return s.inner.TotalLocked(ctx) })
}

func (s *RetryingStore) CountAddressesWithEmail(ctx context.Context) (int64, error) {
	return retryVal(ctx, s.policy, func() (int64, error) { return s.inner.CountAddressesWithEmail(ctx) })
}

func (s *RetryingStore) EnqueueOutbidNotification(ctx context.Context, n *domain.OutbidNotification) error {
	return retry(ctx, s.policy, func() error { return s.inner.EnqueueOutbidNotification(ctx, n) })
}

func (s *RetryingStore) PendingOutbidNotifications(ctx context.Context, limit int) ([]*domain.OutbidNotification, error) {
	return retryVal(ctx, s.policy, func() ([]*domain.OutbidNotification, error) {
		return s.inner.PendingOutbidNotifications(ctx, limit)
	})
}

func (s *RetryingStore) MarkNotificationSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	return retry(ctx, s.policy, func() error { return s.inner.MarkNotificationSent(ctx, id, at) })
}
