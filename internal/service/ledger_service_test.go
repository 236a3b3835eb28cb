package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gridlands/auction/internal/clock"
	"github.com/gridlands/auction/internal/config"
	"github.com/gridlands/auction/internal/domain"
	"github.com/gridlands/auction/internal/store"
)

var (
	auctionOpens  = time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	auctionCloses = time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC)
)

type ledgerFixture struct {
	ledger   *LedgerService
	balances *BalanceService
	store    *store.MemoryStore
	clock    *clock.AuctionClock
	now      *time.Time
}

func newLedgerFixture(t *testing.T, mutate func(*config.Config)) *ledgerFixture {
	t.Helper()
	return newLedgerFixtureOn(t, nil, mutate)
}

// newLedgerFixtureOn lets a test interpose a faulty store between the
// services and the backing MemoryStore. wrap may be nil.
func newLedgerFixtureOn(t *testing.T, wrap func(*store.MemoryStore) store.Store, mutate func(*config.Config)) *ledgerFixture {
	t.Helper()

	cfg := &config.Config{
		Auction: config.AuctionConfig{
			OpensAt:                auctionOpens,
			ClosesAt:               auctionCloses,
			BasePrice:              1000,
			GridMinX:               -150,
			GridMinY:               -150,
			GridMaxX:               150,
			GridMaxY:               150,
			SelfRaiseFullIncrement: true,
		},
	}
	if mutate != nil {
		mutate(cfg)
	}

	mem := store.NewMemoryStore()
	var st store.Store = mem
	if wrap != nil {
		st = wrap(mem)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	balances := NewBalanceService(st, logger)

	ac := clock.New(cfg.Auction.OpensAt, cfg.Auction.ClosesAt)
	now := auctionOpens.Add(24 * time.Hour)
	ac.SetNowFunc(func() time.Time { return now })

	return &ledgerFixture{
		ledger:   NewLedgerService(st, ac, balances, cfg, logger),
		balances: balances,
		store:    mem,
		clock:    ac,
		now:      &now,
	}
}

func (f *ledgerFixture) credit(t *testing.T, address string, amount int64) {
	t.Helper()
	if err := f.balances.Credit(context.Background(), address, dec(amount)); err != nil {
		t.Fatalf("credit %s: %v", address, err)
	}
}

func (f *ledgerFixture) submit(t *testing.T, address string, x, y int, amount int64, sig string) (*domain.Bid, error) {
	t.Helper()
	return f.ledger.SubmitBid(context.Background(), domain.SubmitBidRequest{
		Coord:        domain.Coord{X: x, Y: y},
		Address:      address,
		Amount:       dec(amount),
		SignatureRef: sig,
	})
}

func (f *ledgerFixture) mustSubmit(t *testing.T, address string, x, y int, amount int64, sig string) *domain.Bid {
	t.Helper()
	bid, err := f.submit(t, address, x, y, amount, sig)
	if err != nil {
		t.Fatalf("SubmitBid(%s, %d,%d, %d): %v", address, x, y, amount, err)
	}
	return bid
}

func (f *ledgerFixture) locked(t *testing.T, address string) decimal.Decimal {
	t.Helper()
	state, err := f.store.GetAddressState(context.Background(), address)
	if err != nil {
		if domain.IsNotFound(err) {
			return decimal.Zero
		}
		t.Fatalf("GetAddressState(%s): %v", address, err)
	}
	return state.Locked
}

// ──────────────────────────────────────────────────────────────────────────────
// First bid / minimum raise
// ──────────────────────────────────────────────────────────────────────────────

func TestSubmitBid_FirstBidBelowBasePrice(t *testing.T) {
	f := newLedgerFixture(t, nil)
	f.credit(t, "0xalice", 5000)

	_, err := f.submit(t, "0xalice", 1, 1, 999, "sig1")
	if !errors.Is(err, domain.ErrBidTooLow) {
		t.Errorf("bid 999 on fresh parcel = %v, want ErrBidTooLow", err)
	}
	if !f.locked(t, "0xalice").IsZero() {
		t.Error("rejected bid must not lock funds")
	}
}

func TestSubmitBid_FirstBidAtBasePrice(t *testing.T) {
	f := newLedgerFixture(t, nil)
	f.credit(t, "0xalice", 5000)

	bid := f.mustSubmit(t, "0xalice", 1, 1, 1000, "sig1")
	if bid.Status != domain.BidStatusActive {
		t.Errorf("bid status = %s, want active", bid.Status)
	}
	if !f.locked(t, "0xalice").Equal(dec(1000)) {
		t.Errorf("locked = %s, want 1000", f.locked(t, "0xalice"))
	}
}

func TestSubmitBid_MinRaiseBoundary(t *testing.T) {
	f := newLedgerFixture(t, nil)
	f.credit(t, "0xalice", 5000)
	f.credit(t, "0xbob", 5000)
	f.mustSubmit(t, "0xalice", 1, 1, 1000, "sig1")

	// ceil(1000 × 1.25) = 1250: 1249 fails, 1250 passes.
	_, err := f.submit(t, "0xbob", 1, 1, 1249, "sig2")
	if !errors.Is(err, domain.ErrBidTooLow) {
		t.Errorf("bid 1249 over leader 1000 = %v, want ErrBidTooLow", err)
	}
	f.mustSubmit(t, "0xbob", 1, 1, 1250, "sig3")
}

func TestSubmitBid_MinRaiseRoundsUp(t *testing.T) {
	f := newLedgerFixture(t, nil)
	f.credit(t, "0xalice", 5000)
	f.credit(t, "0xbob", 5000)
	f.mustSubmit(t, "0xalice", 1, 1, 1001, "sig1")

	// 1001 × 1.25 = 1251.25 → ceil → 1252.
	_, err := f.submit(t, "0xbob", 1, 1, 1251, "sig2")
	if !errors.Is(err, domain.ErrBidTooLow) {
		t.Errorf("bid 1251 over leader 1001 = %v, want ErrBidTooLow", err)
	}
	f.mustSubmit(t, "0xbob", 1, 1, 1252, "sig3")
}

// ──────────────────────────────────────────────────────────────────────────────
// Outbid flow
// ──────────────────────────────────────────────────────────────────────────────

func TestSubmitBid_OutbidReleasesPreviousLock(t *testing.T) {
	f := newLedgerFixture(t, nil)
	ctx := context.Background()
	f.credit(t, "0xalice", 5000)
	f.credit(t, "0xbob", 5000)

	aliceBid := f.mustSubmit(t, "0xalice", 2, 3, 1000, "sig1")
	bobBid := f.mustSubmit(t, "0xbob", 2, 3, 1300, "sig2")

	if !f.locked(t, "0xalice").IsZero() {
		t.Errorf("alice locked = %s, want 0 after being outbid", f.locked(t, "0xalice"))
	}
	if !f.locked(t, "0xbob").Equal(dec(1300)) {
		t.Errorf("bob locked = %s, want 1300", f.locked(t, "0xbob"))
	}

	// The superseded bid is demoted, the new one leads.
	old, err := f.store.PendingOutbidNotifications(ctx, 10)
	if err != nil {
		t.Fatalf("pending notifications: %v", err)
	}
	if len(old) != 1 || old[0].Address != "0xalice" {
		t.Errorf("outbid notification = %+v, want one for 0xalice", old)
	}

	active, err := f.store.ActiveBidByParcel(ctx, domain.Coord{X: 2, Y: 3})
	if err != nil {
		t.Fatalf("active bid: %v", err)
	}
	if active.ID != bobBid.ID {
		t.Errorf("active bid = %s, want bob's %s", active.ID, bobBid.ID)
	}

	stored, err := f.store.GetBidGroup(ctx, aliceBid.GroupID)
	if err != nil {
		t.Fatalf("alice group: %v", err)
	}
	if len(stored.BidIDs) != 1 || stored.BidIDs[0] != aliceBid.ID {
		t.Errorf("alice group bids = %v, want [%s]", stored.BidIDs, aliceBid.ID)
	}
}

func TestSubmitBid_OneActiveBidPerParcel(t *testing.T) {
	f := newLedgerFixture(t, nil)
	ctx := context.Background()
	f.credit(t, "0xalice", 10000)
	f.credit(t, "0xbob", 10000)

	f.mustSubmit(t, "0xalice", 4, 4, 1000, "sig1")
	f.mustSubmit(t, "0xbob", 4, 4, 1250, "sig2")
	f.mustSubmit(t, "0xalice", 4, 4, 1563, "sig3")

	bids, err := f.store.ActiveBids(ctx)
	if err != nil {
		t.Fatalf("active bids: %v", err)
	}
	if len(bids) != 1 {
		t.Fatalf("active bids on parcel = %d, want exactly 1", len(bids))
	}
	if bids[0].Address != "0xalice" || !bids[0].Amount.Equal(dec(1563)) {
		t.Errorf("leader = %s %s, want 0xalice 1563", bids[0].Address, bids[0].Amount)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Idempotent resubmission
// ──────────────────────────────────────────────────────────────────────────────

func TestSubmitBid_IdempotentReplay(t *testing.T) {
	f := newLedgerFixture(t, nil)
	f.credit(t, "0xalice", 5000)

	first := f.mustSubmit(t, "0xalice", 5, 5, 1000, "sig1")
	replay := f.mustSubmit(t, "0xalice", 5, 5, 1000, "sig1")

	if replay.ID != first.ID {
		t.Errorf("replay returned a new bid %s, want original %s", replay.ID, first.ID)
	}
	if !f.locked(t, "0xalice").Equal(dec(1000)) {
		t.Errorf("locked = %s, want 1000 (no double lock)", f.locked(t, "0xalice"))
	}
}

func TestSubmitBid_ReplayAfterCloseStillReturnsBid(t *testing.T) {
	f := newLedgerFixture(t, nil)
	f.credit(t, "0xalice", 5000)
	first := f.mustSubmit(t, "0xalice", 5, 5, 1000, "sig1")

	*f.now = auctionCloses.Add(time.Hour)
	replay, err := f.submit(t, "0xalice", 5, 5, 1000, "sig1")
	if err != nil {
		t.Fatalf("replay after close: %v", err)
	}
	if replay.ID != first.ID {
		t.Errorf("replay returned %s, want %s", replay.ID, first.ID)
	}
}

// Same coordinates but a different signature reference is a real new bid and
// must clear the raise rule, not the replay path.
func TestSubmitBid_SameAmountNewSignatureIsNotReplay(t *testing.T) {
	f := newLedgerFixture(t, nil)
	f.credit(t, "0xalice", 5000)
	f.mustSubmit(t, "0xalice", 5, 5, 1000, "sig1")

	_, err := f.submit(t, "0xalice", 5, 5, 1000, "sig2")
	if !errors.Is(err, domain.ErrBidTooLow) {
		t.Errorf("same amount with new signature = %v, want ErrBidTooLow", err)
	}
}

// A retry that arrives after the bid was displaced still returns the recorded
// bid, with the lead and all balances untouched.
func TestSubmitBid_ReplayAfterOutbid(t *testing.T) {
	f := newLedgerFixture(t, nil)
	f.credit(t, "0xalice", 5000)
	f.credit(t, "0xbob", 5000)

	first := f.mustSubmit(t, "0xalice", 5, 5, 1000, "sig-a")
	leader := f.mustSubmit(t, "0xbob", 5, 5, 1250, "sig-b")

	replay, err := f.submit(t, "0xalice", 5, 5, 1000, "sig-a")
	if err != nil {
		t.Fatalf("replay after outbid: %v", err)
	}
	if replay.ID != first.ID {
		t.Errorf("replay returned %s, want original %s", replay.ID, first.ID)
	}
	if replay.Status != domain.BidStatusOutbid {
		t.Errorf("replayed bid status = %s, want outbid", replay.Status)
	}

	active, err := f.store.ActiveBidByParcel(context.Background(), domain.Coord{X: 5, Y: 5})
	if err != nil {
		t.Fatalf("ActiveBidByParcel: %v", err)
	}
	if active.ID != leader.ID {
		t.Errorf("active bid = %s, want %s (replay must not disturb the lead)", active.ID, leader.ID)
	}
	if !f.locked(t, "0xalice").IsZero() {
		t.Errorf("alice locked = %s, want 0", f.locked(t, "0xalice"))
	}
	if !f.locked(t, "0xbob").Equal(dec(1250)) {
		t.Errorf("bob locked = %s, want 1250", f.locked(t, "0xbob"))
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Commit atomicity under store faults
// ──────────────────────────────────────────────────────────────────────────────

// faultStore wraps MemoryStore and fails chosen mutations a set number of
// times, standing in for a database that drops out mid-commit.
type faultStore struct {
	*store.MemoryStore
	failCreateBid  int
	failMergeEvent int
}

func (s *faultStore) CreateBid(ctx context.Context, bid *domain.Bid) error {
	if s.failCreateBid > 0 {
		s.failCreateBid--
		return domain.ErrPersistence
	}
	return s.MemoryStore.CreateBid(ctx, bid)
}

func (s *faultStore) MergeLockedBalanceEvent(ctx context.Context, address string, month int, delta decimal.Decimal, at time.Time) error {
	if s.failMergeEvent > 0 {
		s.failMergeEvent--
		return domain.ErrPersistence
	}
	return s.MemoryStore.MergeLockedBalanceEvent(ctx, address, month, delta, at)
}

// A store fault mid-commit must put back every applied write: a lock left
// behind with no bid would make the safe client retry count it twice.
func TestSubmitBid_TransientFaultRollsBackLock(t *testing.T) {
	f := newLedgerFixtureOn(t, func(mem *store.MemoryStore) store.Store {
		return &faultStore{MemoryStore: mem, failCreateBid: 1}
	}, nil)
	f.credit(t, "0xalice", 1000)

	_, err := f.submit(t, "0xalice", 1, 1, 1000, "sig1")
	if !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("submission during store outage = %v, want ErrPersistence", err)
	}
	if !f.locked(t, "0xalice").IsZero() {
		t.Fatalf("locked after failed commit = %s, want 0", f.locked(t, "0xalice"))
	}

	// With exactly 1000 MANA credited, the retry only fits if the failed
	// attempt left nothing locked.
	bid := f.mustSubmit(t, "0xalice", 1, 1, 1000, "sig1")
	if bid.Status != domain.BidStatusActive {
		t.Errorf("retried bid status = %s, want active", bid.Status)
	}
	if !f.locked(t, "0xalice").Equal(dec(1000)) {
		t.Errorf("locked after retry = %s, want 1000, not double-counted", f.locked(t, "0xalice"))
	}

	monthly, err := f.store.MonthlyLockedBalance(context.Background(), "0xalice")
	if err != nil {
		t.Fatalf("MonthlyLockedBalance: %v", err)
	}
	if got := monthly[int(f.now.Month())]; !got.Equal(dec(1000)) {
		t.Errorf("monthly locked row = %s, want 1000 (failed attempt reverted)", got)
	}
}

// A fault while outbidding must restore the displaced leader: lead, lock, and
// monthly rows all land back where they were.
func TestSubmitBid_FaultRestoresOutbidLeader(t *testing.T) {
	var faults *faultStore
	f := newLedgerFixtureOn(t, func(mem *store.MemoryStore) store.Store {
		faults = &faultStore{MemoryStore: mem}
		return faults
	}, nil)
	f.credit(t, "0xalice", 2000)
	f.credit(t, "0xbob", 2000)
	first := f.mustSubmit(t, "0xalice", 1, 1, 1000, "sig-a")

	faults.failMergeEvent = 1
	_, err := f.submit(t, "0xbob", 1, 1, 1250, "sig-b")
	if !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("outbid during store outage = %v, want ErrPersistence", err)
	}

	active, err := f.store.ActiveBidByParcel(context.Background(), domain.Coord{X: 1, Y: 1})
	if err != nil {
		t.Fatalf("ActiveBidByParcel: %v", err)
	}
	if active.ID != first.ID {
		t.Errorf("active bid = %s, want %s (displaced leader restored)", active.ID, first.ID)
	}
	if active.Status != domain.BidStatusActive {
		t.Errorf("restored leader status = %s, want active", active.Status)
	}
	if !f.locked(t, "0xalice").Equal(dec(1000)) {
		t.Errorf("alice locked = %s, want 1000", f.locked(t, "0xalice"))
	}
	if !f.locked(t, "0xbob").IsZero() {
		t.Errorf("bob locked = %s, want 0", f.locked(t, "0xbob"))
	}

	// The store recovers and the same outbid goes through cleanly.
	bid := f.mustSubmit(t, "0xbob", 1, 1, 1250, "sig-b")
	if bid.Status != domain.BidStatusActive {
		t.Errorf("retried outbid status = %s, want active", bid.Status)
	}
	if !f.locked(t, "0xalice").IsZero() {
		t.Errorf("alice locked after retry = %s, want 0", f.locked(t, "0xalice"))
	}
	if !f.locked(t, "0xbob").Equal(dec(1250)) {
		t.Errorf("bob locked after retry = %s, want 1250", f.locked(t, "0xbob"))
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Balance and validation rules
// ──────────────────────────────────────────────────────────────────────────────

func TestSubmitBid_InsufficientBalance(t *testing.T) {
	f := newLedgerFixture(t, nil)
	f.credit(t, "0xalice", 999)

	_, err := f.submit(t, "0xalice", 1, 1, 1000, "sig1")
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Errorf("bid over balance = %v, want ErrInsufficientBalance", err)
	}
}

func TestSubmitBid_LockedFundsReduceAvailable(t *testing.T) {
	f := newLedgerFixture(t, nil)
	f.credit(t, "0xalice", 1500)
	f.mustSubmit(t, "0xalice", 1, 1, 1000, "sig1")

	// 500 available is not enough for a second parcel.
	_, err := f.submit(t, "0xalice", 2, 2, 1000, "sig2")
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Errorf("second bid with locked funds = %v, want ErrInsufficientBalance", err)
	}
}

func TestSubmitBid_Validation(t *testing.T) {
	f := newLedgerFixture(t, nil)
	f.credit(t, "0xalice", 5000)

	tests := []struct {
		name string
		req  domain.SubmitBidRequest
		want error
	}{
		{
			name: "out of bounds",
			req: domain.SubmitBidRequest{
				Coord: domain.Coord{X: 151, Y: 0}, Address: "0xalice",
				Amount: dec(1000), SignatureRef: "sig",
			},
			want: domain.ErrParcelOutOfBounds,
		},
		{
			name: "zero amount",
			req: domain.SubmitBidRequest{
				Coord: domain.Coord{X: 1, Y: 1}, Address: "0xalice",
				Amount: dec(0), SignatureRef: "sig",
			},
			want: domain.ErrValidation,
		},
		{
			name: "fractional amount",
			req: domain.SubmitBidRequest{
				Coord: domain.Coord{X: 1, Y: 1}, Address: "0xalice",
				Amount: decimal.NewFromFloat(1000.5), SignatureRef: "sig",
			},
			want: domain.ErrValidation,
		},
		{
			name: "missing signature",
			req: domain.SubmitBidRequest{
				Coord: domain.Coord{X: 1, Y: 1}, Address: "0xalice",
				Amount: dec(1000),
			},
			want: domain.ErrValidation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ledger.SubmitBid(context.Background(), tt.req)
			if !errors.Is(err, tt.want) {
				t.Errorf("SubmitBid = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSubmitBid_ClosedParcel(t *testing.T) {
	f := newLedgerFixture(t, nil)
	f.credit(t, "0xalice", 5000)

	*f.now = auctionCloses.Add(time.Minute)
	_, err := f.submit(t, "0xalice", 1, 1, 1000, "sig1")
	if !errors.Is(err, domain.ErrAuctionClosed) {
		t.Errorf("bid after close = %v, want ErrAuctionClosed", err)
	}

	*f.now = auctionOpens.Add(-time.Minute)
	_, err = f.submit(t, "0xalice", 1, 1, 1000, "sig1")
	if !errors.Is(err, domain.ErrAuctionClosed) {
		t.Errorf("bid before open = %v, want ErrAuctionClosed", err)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Self-raise policy
// ──────────────────────────────────────────────────────────────────────────────

func TestSubmitBid_SelfRaiseFullIncrement(t *testing.T) {
	f := newLedgerFixture(t, nil) // SelfRaiseFullIncrement: true
	f.credit(t, "0xalice", 5000)
	f.mustSubmit(t, "0xalice", 1, 1, 1000, "sig1")

	_, err := f.submit(t, "0xalice", 1, 1, 1100, "sig2")
	if !errors.Is(err, domain.ErrBidTooLow) {
		t.Errorf("self-raise 1100 under full increment = %v, want ErrBidTooLow", err)
	}

	f.mustSubmit(t, "0xalice", 1, 1, 1250, "sig3")
	if !f.locked(t, "0xalice").Equal(dec(1250)) {
		t.Errorf("locked after self-raise = %s, want 1250 (old lock released)", f.locked(t, "0xalice"))
	}
}

func TestSubmitBid_SelfRaiseAnyIncrease(t *testing.T) {
	f := newLedgerFixture(t, func(cfg *config.Config) {
		cfg.Auction.SelfRaiseFullIncrement = false
	})
	f.credit(t, "0xalice", 5000)
	f.mustSubmit(t, "0xalice", 1, 1, 1000, "sig1")

	_, err := f.submit(t, "0xalice", 1, 1, 1000, "sig2")
	if !errors.Is(err, domain.ErrBidTooLow) {
		t.Errorf("equal self-raise = %v, want ErrBidTooLow", err)
	}

	f.mustSubmit(t, "0xalice", 1, 1, 1001, "sig3")
	if !f.locked(t, "0xalice").Equal(dec(1001)) {
		t.Errorf("locked = %s, want 1001", f.locked(t, "0xalice"))
	}
}

/// A self-raise only needs the difference to be free: 1000 locked of 1200
// total still allows raising to 1150.
func TestSubmitBid_SelfRaiseNeedsOnlyDifference(t *testing.T) {
	f := newLedgerFixture(t, func(cfg *config.Config) {
		cfg.Auction.SelfRaiseFullIncrement = false
	})
	f.credit(t, "0xalice", 1200)
	f.mustSubmit(t, "0xalice", 1, 1, 1000, "sig1")

	f.mustSubmit(t, "0xalice", 1, 1, 1150, "sig2")
	if !f.locked(t, "0xalice").Equal(dec(1150)) {
		t.Errorf("locked = %s, want 1150", f.locked(t, "0xalice"))
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Anti-snipe extension
// ──────────────────────────────────────────────────────────────────────────────

func TestSubmitBid_LateBidExtendsClose(t *testing.T) {
	f := newLedgerFixture(t, nil)
	f.credit(t, "0xalice", 5000)
	coord := domain.Coord{X: 7, Y: 7}

	*f.now = auctionCloses.Add(-10 * time.Hour)
	f.mustSubmit(t, "0xalice", 7, 7, 1000, "sig1")

	want := f.now.Add(clock.ExtensionThreshold)
	if got := f.clock.EffectiveClose(coord); !got.Equal(want) {
		t.Errorf("effective close = %s, want %s", got, want)
	}

	// The parcel accepts bids past the original global close.
	*f.now = auctionCloses.Add(time.Hour)
	f.credit(t, "0xbob", 5000)
	f.mustSubmit(t, "0xbob", 7, 7, 1250, "sig2")
}

// ──────────────────────────────────────────────────────────────────────────────
// Bid groups
// ──────────────────────────────────────────────────────────────────────────────

func TestSubmitBidGroup(t *testing.T) {
	f := newLedgerFixture(t, nil)
	f.credit(t, "0xalice", 2500)

	result, err := f.ledger.SubmitBidGroup(context.Background(), domain.SubmitBidGroupRequest{
		Address:      "0xalice",
		SignatureRef: "sig1",
		Bids: []domain.BidEntry{
			{Coord: domain.Coord{X: 1, Y: 1}, Amount: dec(1000)},
			{Coord: domain.Coord{X: 2, Y: 2}, Amount: dec(1000)},
			{Coord: domain.Coord{X: 3, Y: 3}, Amount: dec(1000)}, // only 500 left
		},
	})
	if err != nil {
		t.Fatalf("SubmitBidGroup: %v", err)
	}

	if len(result.Accepted) != 2 {
		t.Fatalf("accepted = %d, want 2", len(result.Accepted))
	}
	if len(result.Rejected) != 1 {
		t.Fatalf("rejected = %d, want 1", len(result.Rejected))
	}
	if !errors.Is(result.Rejected[0].Err, domain.ErrInsufficientBalance) {
		t.Errorf("rejection reason = %v, want ErrInsufficientBalance", result.Rejected[0].Err)
	}
	for _, bid := range result.Accepted {
		if bid.GroupID != result.Group.ID {
			t.Errorf("bid %s group = %s, want %s", bid.ID, bid.GroupID, result.Group.ID)
		}
	}
	if !f.locked(t, "0xalice").Equal(dec(2000)) {
		t.Errorf("locked = %s, want 2000", f.locked(t, "0xalice"))
	}
}

func TestSubmitBidGroup_DuplicateParcel(t *testing.T) {
	f := newLedgerFixture(t, nil)
	_, err := f.ledger.SubmitBidGroup(context.Background(), domain.SubmitBidGroupRequest{
		Address:      "0xalice",
		SignatureRef: "sig1",
		Bids: []domain.BidEntry{
			{Coord: domain.Coord{X: 1, Y: 1}, Amount: dec(1000)},
			{Coord: domain.Coord{X: 1, Y: 1}, Amount: dec(1250)},
		},
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("duplicate parcel in group = %v, want ErrValidation", err)
	}
}

func TestSubmitBidGroup_Empty(t *testing.T) {
	f := newLedgerFixture(t, nil)
	_, err := f.ledger.SubmitBidGroup(context.Background(), domain.SubmitBidGroupRequest{
		Address: "0xalice", SignatureRef: "sig1",
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("empty group = %v, want ErrValidation", err)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Finalization
// ──────────────────────────────────────────────────────────────────────────────

func TestFinalizeExpired(t *testing.T) {
	f := newLedgerFixture(t, nil)
	ctx := context.Background()
	f.credit(t, "0xalice", 5000)
	f.mustSubmit(t, "0xalice", 1, 1, 1000, "sig1")

	// Still open: nothing settles.
	n, err := f.ledger.FinalizeExpired(ctx)
	if err != nil {
		t.Fatalf("FinalizeExpired: %v", err)
	}
	if n != 0 {
		t.Errorf("finalized = %d while open, want 0", n)
	}

	*f.now = auctionCloses.Add(time.Minute)
	n, err = f.ledger.FinalizeExpired(ctx)
	if err != nil {
		t.Fatalf("FinalizeExpired: %v", err)
	}
	if n != 1 {
		t.Fatalf("finalized = %d, want 1", n)
	}

	view, err := f.ledger.AddressView(ctx, "0xalice")
	if err != nil {
		t.Fatalf("AddressView: %v", err)
	}
	if len(view.Bids) != 1 || view.Bids[0].Status != domain.BidStatusWon {
		t.Errorf("bid status = %v, want won", view.Bids)
	}

	// The winner's lock stays spent.
	if !f.locked(t, "0xalice").Equal(dec(1000)) {
		t.Errorf("winner locked = %s, want 1000", f.locked(t, "0xalice"))
	}

	// Idempotent: a second pass settles nothing.
	n, _ = f.ledger.FinalizeExpired(ctx)
	if n != 0 {
		t.Errorf("second finalize = %d, want 0", n)
	}
}

func TestFinalizeExpired_HonorsExtension(t *testing.T) {
	f := newLedgerFixture(t, nil)
	ctx := context.Background()
	f.credit(t, "0xalice", 5000)

	*f.now = auctionCloses.Add(-time.Hour)
	f.mustSubmit(t, "0xalice", 1, 1, 1000, "sig1")

	// Past the global close but inside the extension: still open.
	*f.now = auctionCloses.Add(time.Hour)
	n, err := f.ledger.FinalizeExpired(ctx)
	if err != nil {
		t.Fatalf("FinalizeExpired: %v", err)
	}
	if n != 0 {
		t.Errorf("finalized = %d inside extension, want 0", n)
	}

	*f.now = f.clock.EffectiveClose(domain.Coord{X: 1, Y: 1}).Add(time.Second)
	n, _ = f.ledger.FinalizeExpired(ctx)
	if n != 1 {
		t.Errorf("finalized = %d after extension lapsed, want 1", n)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────────────────────────────────

func TestParcelState(t *testing.T) {
	f := newLedgerFixture(t, nil)
	ctx := context.Background()

	// Fresh parcel: base price, no bid.
	state, err := f.ledger.ParcelState(ctx, domain.Coord{X: 9, Y: 9})
	if err != nil {
		t.Fatalf("ParcelState: %v", err)
	}
	if state.Amount != nil {
		t.Errorf("fresh parcel amount = %v, want nil", state.Amount)
	}
	if !state.RequiredAmount.Equal(dec(1000)) {
		t.Errorf("fresh parcel required = %s, want 1000", state.RequiredAmount)
	}

	f.credit(t, "0xalice", 5000)
	f.mustSubmit(t, "0xalice", 9, 9, 2000, "sig1")

	state, err = f.ledger.ParcelState(ctx, domain.Coord{X: 9, Y: 9})
	if err != nil {
		t.Fatalf("ParcelState: %v", err)
	}
	if state.Amount == nil || !state.Amount.Equal(dec(2000)) {
		t.Errorf("amount = %v, want 2000", state.Amount)
	}
	if !state.RequiredAmount.Equal(dec(2500)) {
		t.Errorf("required = %s, want 2500", state.RequiredAmount)
	}

	_, err = f.ledger.ParcelState(ctx, domain.Coord{X: 9999, Y: 0})
	if !errors.Is(err, domain.ErrParcelOutOfBounds) {
		t.Errorf("out of grid = %v, want ErrParcelOutOfBounds", err)
	}
}

func TestParcelStateRange(t *testing.T) {
	f := newLedgerFixture(t, nil)
	ctx := context.Background()
	f.credit(t, "0xalice", 10000)
	f.mustSubmit(t, "0xalice", 0, 0, 1000, "sig1")
	f.mustSubmit(t, "0xalice", 5, 5, 1000, "sig2")
	f.mustSubmit(t, "0xalice", 50, 50, 1000, "sig3")

	states, err := f.ledger.ParcelStateRange(ctx, domain.Coord{X: -10, Y: -10}, domain.Coord{X: 10, Y: 10})
	if err != nil {
		t.Fatalf("ParcelStateRange: %v", err)
	}
	if len(states) != 2 {
		t.Errorf("parcels in range = %d, want 2", len(states))
	}

	_, err = f.ledger.ParcelStateRange(ctx, domain.Coord{X: 10, Y: 0}, domain.Coord{X: 0, Y: 10})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("inverted range = %v, want ErrValidation", err)
	}
}

func TestAddressView(t *testing.T) {
	f := newLedgerFixture(t, nil)
	ctx := context.Background()
	f.credit(t, "0xalice", 5000)
	bid := f.mustSubmit(t, "0xalice", 1, 1, 1000, "sig1")

	view, err := f.ledger.AddressView(ctx, "0xalice")
	if err != nil {
		t.Fatalf("AddressView: %v", err)
	}
	if !view.Balance.Equal(dec(5000)) || !view.Locked.Equal(dec(1000)) || !view.Available.Equal(dec(4000)) {
		t.Errorf("balances = %s/%s/%s, want 5000/1000/4000", view.Balance, view.Locked, view.Available)
	}
	if view.LatestGroup == nil || view.LatestGroup.ID != bid.GroupID {
		t.Errorf("latest group = %v, want %s", view.LatestGroup, bid.GroupID)
	}

	_, err = f.ledger.AddressView(ctx, "0xghost")
	if !domain.IsNotFound(err) {
		t.Errorf("unknown address = %v, want not-found", err)
	}
}
