package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gridlands/auction/internal/clock"
	"github.com/gridlands/auction/internal/config"
	"github.com/gridlands/auction/internal/domain"
	"github.com/gridlands/auction/internal/metrics"
	"github.com/gridlands/auction/internal/store"
)

// ──────────────────────────────────────────────────────────────────────────────
// Interfaces injected into LedgerService to avoid import cycles
// ──────────────────────────────────────────────────────────────────────────────

// Broadcaster is the minimal interface LedgerService needs from the WS hub.
// Implemented by ws.Hub.
type Broadcaster interface {
	BroadcastBidAccepted(bid *domain.Bid, endsAt time.Time)
	BroadcastOutbid(n *domain.OutbidNotification)
	BroadcastParcelWon(bid *domain.Bid)
}

// ──────────────────────────────────────────────────────────────────────────────
// LedgerService
// ──────────────────────────────────────────────────────────────────────────────

// LedgerService is the bid state machine: it validates submissions against
// the auction clock, the minimum-raise rule, and the balance ledger, and
// commits accepted bids atomically with the balance and deadline effects.
//
// Every submission for one parcel runs under that parcel's exclusive critical
// section; inside it, address balances are touched only under the address
// critical sections, acquired in ascending order (see BalanceService).
type LedgerService struct {
	store       store.Store
	clock       *clock.AuctionClock
	balances    *BalanceService
	cfg         *config.Config
	logger      *slog.Logger
	broadcaster Broadcaster // injected after the WS hub is built

	grid        domain.Grid
	basePrice   decimal.Decimal
	parcelLocks *keyLocks
}

// NewLedgerService creates a LedgerService.
func NewLedgerService(
	st store.Store,
	ac *clock.AuctionClock,
	balances *BalanceService,
	cfg *config.Config,
	logger *slog.Logger,
) *LedgerService {
	return &LedgerService{
		store:    st,
		clock:    ac,
		balances: balances,
		cfg:      cfg,
		logger:   logger,
		grid: domain.Grid{
			MinX: cfg.Auction.GridMinX, MinY: cfg.Auction.GridMinY,
			MaxX: cfg.Auction.GridMaxX, MaxY: cfg.Auction.GridMaxY,
		},
		basePrice:   decimal.NewFromInt(cfg.Auction.BasePrice),
		parcelLocks: newKeyLocks(),
	}
}

// SetBroadcaster injects the WS hub dependency post-construction.
func (s *LedgerService) SetBroadcaster(b Broadcaster) { s.broadcaster = b }

// ──────────────────────────────────────────────────────────────────────────────
// SubmitBid
// ──────────────────────────────────────────────────────────────────────────────

// SubmitBid validates and commits a single bid. On acceptance the new bid is
// active, the amount is locked, the superseded bid (if any) is demoted and
// unlocked, and the parcel deadline is extended when the bid lands inside the
// anti-snipe window. All of this happens inside the parcel's critical
// section, so a submission either fully commits or fails before any state
// mutation.
//
// Resubmitting an already-accepted bid (same address, parcel, amount, and
// signature reference) returns the existing bid without re-locking or
// re-extending, which makes client-side retries safe. This holds whether the
// bid still leads or has since been outbid.
func (s *LedgerService) SubmitBid(ctx context.Context, req domain.SubmitBidRequest) (*domain.Bid, error) {
	start := time.Now()
	bid, err := s.submitOne(ctx, req, nil)
	metrics.BidLatency.Observe(time.Since(start).Seconds())
	return bid, err
}

// submitOne runs the full submission flow for one bid. When groupID is nil a
// fresh single-bid group is created; group submissions pass their shared id.
func (s *LedgerService) submitOne(ctx context.Context, req domain.SubmitBidRequest, groupID *uuid.UUID) (*domain.Bid, error) {
	if err := s.validate(req); err != nil {
		metrics.BidsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	unlock := s.parcelLocks.lock(req.Coord.String())
	defer unlock()

	bid, err := s.submitLocked(ctx, req, groupID)
	if err != nil {
		metrics.BidsTotal.WithLabelValues("rejected").Inc()
		s.countRejection(err)
		return nil, err
	}
	return bid, nil
}

// validate enforces the stateless preconditions: grid bounds, positive whole
// amount, and a signature reference from the external verifier.
func (s *LedgerService) validate(req domain.SubmitBidRequest) error {
	if req.Address == "" {
		return fmt.Errorf("%w: address must not be empty", domain.ErrValidation)
	}
	if req.SignatureRef == "" {
		return fmt.Errorf("%w: signature reference must not be empty", domain.ErrValidation)
	}
	if !req.Amount.IsPositive() || !req.Amount.IsInteger() {
		return fmt.Errorf("%w: amount must be a positive whole number of MANA", domain.ErrValidation)
	}
	if !s.grid.Contains(req.Coord) {
		return fmt.Errorf("%w: parcel %s", domain.ErrParcelOutOfBounds, req.Coord)
	}
	return nil
}

// submitLocked is the body of the per-parcel critical section. Caller holds
// the parcel lock.
func (s *LedgerService) submitLocked(ctx context.Context, req domain.SubmitBidRequest, groupID *uuid.UUID) (*domain.Bid, error) {
	now := s.clock.Now()

	// Current leader, if any.
	prev, err := s.store.ActiveBidByParcel(ctx, req.Coord)
	if err != nil && !domain.IsNotFound(err) {
		return nil, fmt.Errorf("ledger_service.SubmitBid: read active bid: %w", err)
	}

	// Idempotent replay: an exact duplicate of the accepted leader returns it
	// untouched, even when the parcel has closed since.
	if prev != nil && prev.Matches(req.Coord, req.Address, req.Amount, req.SignatureRef) {
		metrics.BidsTotal.WithLabelValues("replayed").Inc()
		return prev, nil
	}

	// 1. Parcel still open?
	if !s.clock.IsOpen(req.Coord, now) {
		if replay := s.replayedBid(ctx, req); replay != nil {
			return replay, nil
		}
		return nil, fmt.Errorf("parcel %s: %w", req.Coord, domain.ErrAuctionClosed)
	}

	// 2–3. Minimum-bid rule. A duplicate of a bid that lost the lead since
	// cannot clear the raise rule (every later leader raised past it), so
	// the history lookup only has to run where the rule already failed.
	required := s.requiredAmount(prev, req.Address)
	if req.Amount.LessThan(required) {
		if replay := s.replayedBid(ctx, req); replay != nil {
			return replay, nil
		}
		return nil, fmt.Errorf("parcel %s: need at least %s, got %s: %w",
			req.Coord, required, req.Amount, domain.ErrBidTooLow)
	}

	// 4–5. Balance check and atomic commit, under the address critical
	// sections (bidder plus previous bidder), acquired in ascending order.
	addresses := []string{req.Address}
	if prev != nil && prev.Address != req.Address {
		addresses = append(addresses, prev.Address)
	}

	var accepted *domain.Bid
	err = s.balances.WithAddressLocks(addresses, func() error {
		available, err := s.balances.Available(ctx, req.Address)
		if err != nil {
			return fmt.Errorf("ledger_service.SubmitBid: available: %w", err)
		}
		// A self-raise releases the previous lock in the same commit, so only
		// the difference needs to be free.
		if prev != nil && prev.Address == req.Address {
			available = available.Add(prev.Amount)
		}
		if available.LessThan(req.Amount) {
			return fmt.Errorf("address %s: available %s, need %s: %w",
				req.Address, available, req.Amount, domain.ErrInsufficientBalance)
		}

		return s.commit(ctx, req, prev, groupID, now, &accepted)
	})
	if err != nil {
		return nil, err
	}

	metrics.BidsTotal.WithLabelValues("accepted").Inc()
	if s.broadcaster != nil {
		s.broadcaster.BroadcastBidAccepted(accepted, s.clock.EffectiveClose(req.Coord))
	}
	return accepted, nil
}

// replayedBid scans the caller's bid history on the parcel for an exact
// duplicate of a bid that was accepted earlier and has since been outbid.
// Such a resubmission is a retry, not a new bid: it returns the recorded bid
// (status intact) with no balance or deadline effects. Lookup failures fall
// through to the rule error, which is still correct guidance for the caller.
func (s *LedgerService) replayedBid(ctx context.Context, req domain.SubmitBidRequest) *domain.Bid {
	history, err := s.store.BidsByAddress(ctx, req.Address)
	if err != nil {
		s.logger.Warn("could not check bid history for replay",
			"address", req.Address, "err", err)
		return nil
	}
	for _, b := range history {
		if b.Matches(req.Coord, req.Address, req.Amount, req.SignatureRef) {
			metrics.BidsTotal.WithLabelValues("replayed").Inc()
			return b
		}
	}
	return nil
}

// requiredAmount returns the minimum qualifying amount given the current
// leader: base price on a fresh parcel, ceil(prev × 1.25) otherwise. When
// the leader raises against itself and SelfRaiseFullIncrement is off, any
// strict increase qualifies.
func (s *LedgerService) requiredAmount(prev *domain.Bid, address string) decimal.Decimal {
	if prev == nil {
		return s.basePrice
	}
	if prev.Address == address && !s.cfg.Auction.SelfRaiseFullIncrement {
		return prev.Amount.Add(decimal.NewFromInt(1))
	}
	return prev.MinRaise()
}

// commit applies the accepted bid's state mutations. The store takes each
// write independently, so commit keeps an undo stack and unwinds every applied
// write when a later one fails: a half-applied commit would leave a lock with
// no bid behind it, and the client's retry would then lock the amount a second
// time. The bid row is written last; once it exists the commit is complete and
// only the in-memory deadline extension and the notification remain.
func (s *LedgerService) commit(
	ctx context.Context,
	req domain.SubmitBidRequest,
	prev *domain.Bid,
	groupID *uuid.UUID,
	now time.Time,
	accepted **domain.Bid,
) error {
	var undo []func(context.Context) error
	rollback := func(cause error) error {
		// The submission context may already be cancelled or expired; the
		// unwind must still run. Both lock sections are still held here, so
		// nothing interleaves with the restore.
		rctx := context.WithoutCancel(ctx)
		for i := len(undo) - 1; i >= 0; i-- {
			if err := undo[i](rctx); err != nil {
				s.logger.Error("bid commit rollback step failed, ledger needs repair",
					"parcel", req.Coord, "address", req.Address, "err", err)
			}
		}
		return cause
	}

	// A self-raise must release the previous lock first or the new lock could
	// overrun the total balance it is about to free.
	if prev != nil && prev.Address == req.Address {
		if err := s.balances.Unlock(ctx, prev.Address, prev.Amount); err != nil {
			return err
		}
		undo = append(undo, func(c context.Context) error {
			return s.balances.Lock(c, prev.Address, prev.Amount)
		})
	}
	if err := s.balances.Lock(ctx, req.Address, req.Amount); err != nil {
		return rollback(err)
	}
	undo = append(undo, func(c context.Context) error {
		return s.balances.Unlock(c, req.Address, req.Amount)
	})

	if prev != nil {
		if prev.Address != req.Address {
			if err := s.balances.Unlock(ctx, prev.Address, prev.Amount); err != nil {
				return rollback(err)
			}
			undo = append(undo, func(c context.Context) error {
				return s.balances.Lock(c, prev.Address, prev.Amount)
			})
		}
		if err := s.store.UpdateBidStatus(ctx, prev.ID, domain.BidStatusOutbid, now); err != nil {
			return rollback(fmt.Errorf("ledger_service: demote bid %s: %w", prev.ID, err))
		}
		undo = append(undo, func(c context.Context) error {
			return s.store.UpdateBidStatus(c, prev.ID, domain.BidStatusActive, prev.UpdatedAt)
		})
	}

	gid := uuid.New()
	if groupID != nil {
		gid = *groupID
	} else {
		// An orphaned group row carries no state of its own (membership is
		// derived from the bids), so group creation needs no undo.
		group := &domain.BidGroup{ID: gid, Address: req.Address, CreatedAt: now}
		if err := s.store.CreateBidGroup(ctx, group); err != nil {
			return rollback(fmt.Errorf("ledger_service: create group: %w", err))
		}
	}

	// Monthly locked-balance row for the bidder's current month.
	if err := s.store.MergeLockedBalanceEvent(ctx, req.Address, int(now.Month()), req.Amount, now); err != nil {
		return rollback(fmt.Errorf("ledger_service: merge locked event: %w", err))
	}
	undo = append(undo, func(c context.Context) error {
		return s.store.MergeLockedBalanceEvent(c, req.Address, int(now.Month()), req.Amount.Neg(), now)
	})

	// Point the address at its latest submission. The snapshot taken here
	// already carries the new lock, so restoring it and then unwinding the
	// balance steps lands back on the pre-commit ledger row.
	state, err := s.balances.GetOrCreateState(ctx, req.Address)
	if err != nil {
		return rollback(err)
	}
	snapshot := *state
	state.LatestBidGroupID = &gid
	state.UpdatedAt = now
	if err := s.store.UpsertAddressState(ctx, state); err != nil {
		return rollback(fmt.Errorf("ledger_service: update latest group: %w", err))
	}
	undo = append(undo, func(c context.Context) error {
		return s.store.UpsertAddressState(c, &snapshot)
	})

	bid := &domain.Bid{
		ID:           uuid.New(),
		GroupID:      gid,
		X:            req.Coord.X,
		Y:            req.Coord.Y,
		Address:      req.Address,
		Amount:       req.Amount,
		SignatureRef: req.SignatureRef,
		Status:       domain.BidStatusActive,
		SubmittedAt:  now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateBid(ctx, bid); err != nil {
		return rollback(fmt.Errorf("ledger_service: create bid: %w", err))
	}

	// Anti-snipe: a qualifying bid inside the threshold window pushes the
	// parcel's close out.
	before := s.clock.EffectiveClose(req.Coord)
	after := s.clock.RecordQualifyingBid(req.Coord, now)
	if after.After(before) {
		metrics.DeadlineExtensions.Inc()
	}

	// The displaced bidder is notified only once the commit can no longer
	// unwind.
	if prev != nil && prev.Address != req.Address {
		s.queueOutbidNotification(ctx, prev, req.Amount, now)
	}

	*accepted = bid
	return nil
}

// queueOutbidNotification records the outbid event for the notification
// dispatcher. Failures here never fail the bid: delivery is best-effort.
func (s *LedgerService) queueOutbidNotification(ctx context.Context, prev *domain.Bid, newAmount decimal.Decimal, now time.Time) {
	n := &domain.OutbidNotification{
		ID:        uuid.New(),
		Address:   prev.Address,
		X:         prev.X,
		Y:         prev.Y,
		NewAmount: newAmount,
		CreatedAt: now,
	}
	if err := s.store.EnqueueOutbidNotification(ctx, n); err != nil {
		s.logger.Warn("could not queue outbid notification",
			"address", prev.Address, "parcel", prev.Coord(), "err", err)
		return
	}
	if s.broadcaster != nil {
		s.broadcaster.BroadcastOutbid(n)
	}
}

// countRejection attributes a failed submission to its rule for metrics.
func (s *LedgerService) countRejection(err error) {
	switch {
	case domain.IsFatal(err):
		// already counted by BalanceService
	case domain.IsTransient(err):
		metrics.BidRejections.WithLabelValues("persistence").Inc()
	default:
		reason := "validation"
		switch {
		case errors.Is(err, domain.ErrBidTooLow):
			reason = "too_low"
		case errors.Is(err, domain.ErrAuctionClosed):
			reason = "closed"
		case errors.Is(err, domain.ErrInsufficientBalance):
			reason = "insufficient_balance"
		case errors.Is(err, domain.ErrParcelOutOfBounds):
			reason = "out_of_bounds"
		}
		metrics.BidRejections.WithLabelValues(reason).Inc()
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// SubmitBidGroup
// ──────────────────────────────────────────────────────────────────────────────

// BidFailure reports why one entry of a group submission was rejected.
type BidFailure struct {
	Coord domain.Coord `json:"coord"`
	Err   error        `json:"-"`
}

// GroupResult is the per-entry outcome of a batch submission.
type GroupResult struct {
	Group    *domain.BidGroup
	Accepted []*domain.Bid
	Rejected []BidFailure
}

// SubmitBidGroup processes a batch of bids submitted in one client action.
// Each entry keeps its own per-parcel atomicity; a rejected entry does not
// void the group's other bids. The shared BidGroup becomes the address's
// latest submission once any entry is accepted.
func (s *LedgerService) SubmitBidGroup(ctx context.Context, req domain.SubmitBidGroupRequest) (*GroupResult, error) {
	if len(req.Bids) == 0 {
		return nil, fmt.Errorf("%w: bid group must contain at least one bid", domain.ErrValidation)
	}
	seen := make(map[string]bool, len(req.Bids))
	for _, entry := range req.Bids {
		key := entry.Coord.String()
		if seen[key] {
			return nil, fmt.Errorf("%w: duplicate parcel %s in group", domain.ErrValidation, entry.Coord)
		}
		seen[key] = true
	}

	now := s.clock.Now()
	group := &domain.BidGroup{ID: uuid.New(), Address: req.Address, CreatedAt: now}
	if err := s.store.CreateBidGroup(ctx, group); err != nil {
		return nil, fmt.Errorf("ledger_service.SubmitBidGroup: create group: %w", err)
	}

	result := &GroupResult{Group: group}
	for _, entry := range req.Bids {
		bid, err := s.submitOne(ctx, domain.SubmitBidRequest{
			Coord:        entry.Coord,
			Address:      req.Address,
			Amount:       entry.Amount,
			SignatureRef: req.SignatureRef,
		}, &group.ID)
		if err != nil {
			if domain.IsFatal(err) || domain.IsTransient(err) {
				return nil, err
			}
			result.Rejected = append(result.Rejected, BidFailure{Coord: entry.Coord, Err: err})
			continue
		}
		group.BidIDs = append(group.BidIDs, bid.ID)
		result.Accepted = append(result.Accepted, bid)
	}
	return result, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Finalization
// ──────────────────────────────────────────────────────────────────────────────

// FinalizeExpired transitions the active bid of every parcel whose effective
// close has passed to won. The winner's locked amount stays locked: it is
// spent, never released. Parcels with no bids simply close with no winner.
// A single failing parcel does not abort the others.
func (s *LedgerService) FinalizeExpired(ctx context.Context) (int, error) {
	now := s.clock.Now()

	active, err := s.store.ActiveBids(ctx)
	if err != nil {
		return 0, fmt.Errorf("ledger_service.FinalizeExpired: list active: %w", err)
	}

	finalized := 0
	for _, candidate := range active {
		coord := candidate.Coord()
		if s.clock.IsOpen(coord, now) {
			continue
		}
		if err := s.finalizeParcel(ctx, coord, now); err != nil {
			s.logger.Error("could not finalize parcel", "parcel", coord, "err", err)
			continue
		}
		finalized++
	}
	return finalized, nil
}

// finalizeParcel settles one closed parcel under its critical section.
func (s *LedgerService) finalizeParcel(ctx context.Context, coord domain.Coord, now time.Time) error {
	unlock := s.parcelLocks.lock(coord.String())
	defer unlock()

	// Re-read under the lock: a last-instant bid may have extended the close.
	if s.clock.IsOpen(coord, now) {
		return nil
	}
	bid, err := s.store.ActiveBidByParcel(ctx, coord)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil // already settled, or never had bids
		}
		return fmt.Errorf("read active bid: %w", err)
	}

	if err := s.store.UpdateBidStatus(ctx, bid.ID, domain.BidStatusWon, now); err != nil {
		return fmt.Errorf("mark won: %w", err)
	}

	metrics.ParcelsWon.Inc()
	s.logger.Info("parcel won", "parcel", coord, "address", bid.Address, "amount", bid.Amount)
	if s.broadcaster != nil {
		s.broadcaster.BroadcastParcelWon(bid)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Query surface
// ──────────────────────────────────────────────────────────────────────────────

// ParcelStateRange returns the outward parcel projection for a rectangular
// coordinate window: active bids plus effective close times. Parcels with no
// bids are omitted; the client renders those at base price.
func (s *LedgerService) ParcelStateRange(ctx context.Context, min, max domain.Coord) ([]*domain.ParcelState, error) {
	if min.X > max.X || min.Y > max.Y {
		return nil, fmt.Errorf("%w: inverted range %s..%s", domain.ErrValidation, min, max)
	}
	bids, err := s.store.ActiveBidsInRange(ctx, min, max)
	if err != nil {
		return nil, fmt.Errorf("ledger_service.ParcelStateRange: %w", err)
	}

	now := s.clock.Now()
	out := make([]*domain.ParcelState, 0, len(bids))
	for _, b := range bids {
		out = append(out, s.parcelState(b, now))
	}
	return out, nil
}

// ParcelState returns the projection of one parcel, with or without bids.
func (s *LedgerService) ParcelState(ctx context.Context, coord domain.Coord) (*domain.ParcelState, error) {
	if !s.grid.Contains(coord) {
		return nil, fmt.Errorf("%w: parcel %s", domain.ErrParcelOutOfBounds, coord)
	}
	now := s.clock.Now()

	bid, err := s.store.ActiveBidByParcel(ctx, coord)
	if err != nil {
		if domain.IsNotFound(err) {
			return &domain.ParcelState{
				Coord:          coord,
				EndsAt:         s.clock.EffectiveClose(coord),
				Ended:          !s.clock.IsOpen(coord, now),
				RequiredAmount: s.basePrice,
			}, nil
		}
		return nil, fmt.Errorf("ledger_service.ParcelState: %w", err)
	}
	return s.parcelState(bid, now), nil
}

func (s *LedgerService) parcelState(b *domain.Bid, now time.Time) *domain.ParcelState {
	coord := b.Coord()
	amount := b.Amount
	updated := b.SubmittedAt
	return &domain.ParcelState{
		Coord:          coord,
		Amount:         &amount,
		Address:        b.Address,
		BidID:          &b.ID,
		EndsAt:         s.clock.EffectiveClose(coord),
		Ended:          !s.clock.IsOpen(coord, now),
		UpdatedAt:      &updated,
		RequiredAmount: b.MinRaise(),
	}
}

// AddressView composes the per-address projection: balances, the latest bid
// group, and full bid history.
func (s *LedgerService) AddressView(ctx context.Context, address string) (*domain.AddressView, error) {
	state, err := s.store.GetAddressState(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("ledger_service.AddressView: %w", err)
	}

	bids, err := s.store.BidsByAddress(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("ledger_service.AddressView: bids: %w", err)
	}

	view := &domain.AddressView{
		Address:   state.Address,
		Balance:   state.Balance,
		Locked:    state.Locked,
		Available: state.Available(),
		Bids:      bids,
	}
	if state.LatestBidGroupID != nil {
		group, err := s.store.GetBidGroup(ctx, *state.LatestBidGroupID)
		if err != nil && !domain.IsNotFound(err) {
			return nil, fmt.Errorf("ledger_service.AddressView: group: %w", err)
		}
		view.LatestGroup = group
	}
	return view, nil
}
