package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gridlands/auction/internal/domain"
	"github.com/gridlands/auction/internal/metrics"
	"github.com/gridlands/auction/internal/store"
)

// ──────────────────────────────────────────────────────────────────────────────
// Discount constants (aggregate locked MANA formula)
// ──────────────────────────────────────────────────────────────────────────────

var (
	// BeforeNovemberDiscount applies to September/October auction locks.
	BeforeNovemberDiscount = decimal.NewFromFloat(1.15)

	// AfterNovemberDiscount applies to November–January auction locks.
	AfterNovemberDiscount = decimal.NewFromFloat(1.10)
)

// Discount windows, as months of the year. District commitments are
// subtracted out of each window and added back undiscounted.
var (
	beforeNovemberMonths = []int{9, 10}
	afterNovemberMonths  = []int{11, 12, 1}
)

// ──────────────────────────────────────────────────────────────────────────────
// BalanceService
// ──────────────────────────────────────────────────────────────────────────────

// BalanceService owns the per-address money ledger: total vs. locked balance,
// the monthly locked-balance rows, and district commitments.
//
// Lock and Unlock assume the caller already holds the address critical
// section (see WithAddressLocks); they enforce the ledger invariants and
// treat any violation as a fatal bug, not a user error.
type BalanceService struct {
	store     store.Store
	logger    *slog.Logger
	addrLocks *keyLocks
}

// NewBalanceService creates a BalanceService.
func NewBalanceService(st store.Store, logger *slog.Logger) *BalanceService {
	return &BalanceService{
		store:     st,
		logger:    logger,
		addrLocks: newKeyLocks(),
	}
}

// WithAddressLocks runs fn while holding the critical sections of every given
// address, acquired in ascending order. LedgerService calls this inside its
// parcel critical section so the global lock order is always parcel key, then
// address keys ascending.
func (s *BalanceService) WithAddressLocks(addresses []string, fn func() error) error {
	unlock := s.addrLocks.lockAll(addresses...)
	defer unlock()
	return fn()
}

// GetOrCreateState returns the ledger row for an address, creating an empty
// one on first interaction. Callers mutating the result must hold the
// address critical section.
func (s *BalanceService) GetOrCreateState(ctx context.Context, address string) (*domain.AddressState, error) {
	state, err := s.store.GetAddressState(ctx, address)
	if err == nil {
		return state, nil
	}
	if !domain.IsNotFound(err) {
		return nil, fmt.Errorf("balance_service.GetOrCreateState: %w", err)
	}

	now := time.Now().UTC()
	state = &domain.AddressState{
		Address:   address,
		Balance:   decimal.Zero,
		Locked:    decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.UpsertAddressState(ctx, state); err != nil {
		return nil, fmt.Errorf("balance_service.GetOrCreateState: upsert: %w", err)
	}
	return state, nil
}

// Available returns Balance − Locked for an address; zero for addresses that
// never interacted.
func (s *BalanceService) Available(ctx context.Context, address string) (decimal.Decimal, error) {
	state, err := s.store.GetAddressState(ctx, address)
	if err != nil {
		if domain.IsNotFound(err) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("balance_service.Available: %w", err)
	}
	return state.Available(), nil
}

// Lock reserves amount against an address. Fails with ErrInvariantViolation
// when the reservation would exceed the total balance: the availability check
// in LedgerService must have passed first, so tripping here means the locking
// discipline was violated.
func (s *BalanceService) Lock(ctx context.Context, address string, amount decimal.Decimal) error {
	state, err := s.GetOrCreateState(ctx, address)
	if err != nil {
		return err
	}

	newLocked := state.Locked.Add(amount)
	if newLocked.GreaterThan(state.Balance) {
		metrics.InvariantViolations.Inc()
		s.logger.Error("balance lock would exceed total balance",
			"address", address, "balance", state.Balance, "locked", state.Locked, "amount", amount)
		return fmt.Errorf("balance_service.Lock %s: locked %s would exceed balance %s: %w",
			address, newLocked, state.Balance, domain.ErrInvariantViolation)
	}

	state.Locked = newLocked
	state.UpdatedAt = time.Now().UTC()
	if err := s.store.UpsertAddressState(ctx, state); err != nil {
		return fmt.Errorf("balance_service.Lock: upsert: %w", err)
	}
	return nil
}

// Unlock releases amount previously locked. Fails with ErrInvariantViolation
// when the release would drive the locked total negative (a lost-lock bug).
func (s *BalanceService) Unlock(ctx context.Context, address string, amount decimal.Decimal) error {
	state, err := s.store.GetAddressState(ctx, address)
	if err != nil {
		if domain.IsNotFound(err) {
			metrics.InvariantViolations.Inc()
			return fmt.Errorf("balance_service.Unlock %s: no ledger state: %w",
				address, domain.ErrInvariantViolation)
		}
		return fmt.Errorf("balance_service.Unlock: %w", err)
	}

	newLocked := state.Locked.Sub(amount)
	if newLocked.IsNegative() {
		metrics.InvariantViolations.Inc()
		s.logger.Error("balance unlock would drive locked negative",
			"address", address, "locked", state.Locked, "amount", amount)
		return fmt.Errorf("balance_service.Unlock %s: locked %s minus %s is negative: %w",
			address, state.Locked, amount, domain.ErrInvariantViolation)
	}

	state.Locked = newLocked
	state.UpdatedAt = time.Now().UTC()
	if err := s.store.UpsertAddressState(ctx, state); err != nil {
		return fmt.Errorf("balance_service.Unlock: upsert: %w", err)
	}
	return nil
}

// Credit adds amount to an address's total balance (deposit confirmed by the
// external chain watcher). Takes the address critical section itself.
func (s *BalanceService) Credit(ctx context.Context, address string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: credit amount must be positive", domain.ErrValidation)
	}
	return s.WithAddressLocks([]string{address}, func() error {
		state, err := s.GetOrCreateState(ctx, address)
		if err != nil {
			return err
		}
		state.Balance = state.Balance.Add(amount)
		state.UpdatedAt = time.Now().UTC()
		if err := s.store.UpsertAddressState(ctx, state); err != nil {
			return fmt.Errorf("balance_service.Credit: upsert: %w", err)
		}
		return nil
	})
}

// RegisterEmail records the contact channel used for outbid notifications.
func (s *BalanceService) RegisterEmail(ctx context.Context, address, email string) error {
	if email == "" {
		return fmt.Errorf("%w: email must not be empty", domain.ErrValidation)
	}
	return s.WithAddressLocks([]string{address}, func() error {
		state, err := s.GetOrCreateState(ctx, address)
		if err != nil {
			return err
		}
		state.Email = email
		state.UpdatedAt = time.Now().UTC()
		if err := s.store.UpsertAddressState(ctx, state); err != nil {
			return fmt.Errorf("balance_service.RegisterEmail: upsert: %w", err)
		}
		return nil
	})
}

// CommitDistrict locks amount toward a fixed-price district purchase and
// records the monthly DistrictEntry row. District commitments count against
// available balance but stay outside the bid-discount formula.
func (s *BalanceService) CommitDistrict(ctx context.Context, address string, districtID uuid.UUID, month int, amount decimal.Decimal) error {
	if month < 1 || month > 12 {
		return fmt.Errorf("%w: month %d out of range", domain.ErrValidation, month)
	}
	if !amount.IsPositive() || !amount.IsInteger() {
		return fmt.Errorf("%w: amount must be a positive whole number", domain.ErrValidation)
	}

	return s.WithAddressLocks([]string{address}, func() error {
		state, err := s.GetOrCreateState(ctx, address)
		if err != nil {
			return err
		}
		if state.Available().LessThan(amount) {
			return domain.ErrInsufficientBalance
		}
		if err := s.Lock(ctx, address, amount); err != nil {
			return err
		}
		entry := &domain.DistrictEntry{
			Address:    address,
			DistrictID: districtID,
			Month:      month,
			Amount:     amount,
			CreatedAt:  time.Now().UTC(),
		}
		if err := s.store.AddDistrictEntry(ctx, entry); err != nil {
			return fmt.Errorf("balance_service.CommitDistrict: %w", err)
		}
		return nil
	})
}

// ──────────────────────────────────────────────────────────────────────────────
// Monthly reporting
// ──────────────────────────────────────────────────────────────────────────────

// MonthlyLockedBalance returns the month → locked amount mapping for an
// address, every month 1–12 present and missing ones zero-filled.
func (s *BalanceService) MonthlyLockedBalance(ctx context.Context, address string) (map[int]decimal.Decimal, error) {
	rows, err := s.store.MonthlyLockedBalance(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("balance_service.MonthlyLockedBalance: %w", err)
	}
	return fillByMonth(rows), nil
}

// AggregateLockedMANA combines the monthly district commitments D[m] and the
// monthly locked totals T[m] into the discounted aggregate:
//
//	beforeDiscount = Σ_{m ∈ Sep,Oct}   (T[m] − D[m])
//	afterDiscount  = Σ_{m ∈ Nov,Dec,Jan} (T[m] − D[m])
//	result = floor(before × 1.15) + floor(after × 1.10) + Σ_m D[m]
//
// Floor is applied once per window after summing, not per month.
func (s *BalanceService) AggregateLockedMANA(ctx context.Context, address string) (decimal.Decimal, error) {
	totals, err := s.store.MonthlyLockedBalance(ctx, address)
	if err != nil {
		return decimal.Zero, fmt.Errorf("balance_service.AggregateLockedMANA: totals: %w", err)
	}
	districts, err := s.store.MonthlyDistrictBalance(ctx, address)
	if err != nil {
		return decimal.Zero, fmt.Errorf("balance_service.AggregateLockedMANA: districts: %w", err)
	}

	t := fillByMonth(totals)
	d := fillByMonth(districts)

	before := sumForMonths(t, d, beforeNovemberMonths)
	after := sumForMonths(t, d, afterNovemberMonths)

	totalDistricts := decimal.Zero
	for m := 1; m <= 12; m++ {
		totalDistricts = totalDistricts.Add(d[m])
	}

	return before.Mul(BeforeNovemberDiscount).Floor().
		Add(after.Mul(AfterNovemberDiscount).Floor()).
		Add(totalDistricts), nil
}

// fillByMonth copies the sparse month map into a dense 1–12 map with zeros
// for absent months.
func fillByMonth(rows map[int]decimal.Decimal) map[int]decimal.Decimal {
	out := make(map[int]decimal.Decimal, 12)
	for m := 1; m <= 12; m++ {
		out[m] = decimal.Zero
	}
	for m, v := range rows {
		if m >= 1 && m <= 12 {
			out[m] = v
		}
	}
	return out
}

// sumForMonths returns Σ (totals[m] − districts[m]) over the given months.
func sumForMonths(totals, districts map[int]decimal.Decimal, months []int) decimal.Decimal {
	sum := decimal.Zero
	for _, m := range months {
		sum = sum.Add(totals[m].Sub(districts[m]))
	}
	return sum
}
