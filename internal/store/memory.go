package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gridlands/auction/internal/domain"
)

// MemoryStore implements Store with mutex-guarded maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu            sync.RWMutex
	addresses     map[string]*domain.AddressState
	groups        map[uuid.UUID]*domain.BidGroup
	bids          map[uuid.UUID]*domain.Bid
	activeBids    map[string]uuid.UUID // parcel key → active bid id
	locked        map[string]map[int]decimal.Decimal
	districts     map[string]map[int]decimal.Decimal
	notifications []*domain.OutbidNotification
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		addresses:  make(map[string]*domain.AddressState),
		groups:     make(map[uuid.UUID]*domain.BidGroup),
		bids:       make(map[uuid.UUID]*domain.Bid),
		activeBids: make(map[string]uuid.UUID),
		locked:     make(map[string]map[int]decimal.Decimal),
		districts:  make(map[string]map[int]decimal.Decimal),
	}
}

// --- Address states ---

func (s *MemoryStore) GetAddressState(_ context.Context, address string) (*domain.AddressState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.addresses[address]
	if !ok {
		return nil, domain.ErrAddressNotFound
	}
	// Copy out to avoid external mutation.
	copy := *st
	return &copy, nil
}

func (s *MemoryStore) UpsertAddressState(_ context.Context, state *domain.AddressState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *state
	s.addresses[state.Address] = &copy
	return nil
}

// --- Bids & bid groups ---

func (s *MemoryStore) CreateBidGroup(_ context.Context, group *domain.BidGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *group
	copy.BidIDs = append([]uuid.UUID(nil), group.BidIDs...)
	s.groups[group.ID] = &copy
	return nil
}

func (s *MemoryStore) GetBidGroup(_ context.Context, id uuid.UUID) (*domain.BidGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.groups[id]
	if !ok {
		return nil, domain.ErrBidGroupNotFound
	}
	copy := *g

	// Membership is derived from the bids, matching the SQL store.
	var members []*domain.Bid
	for _, b := range s.bids {
		if b.GroupID == id {
			members = append(members, b)
		}
	}
	sort.Slice(members, func(i, j int) bool {
		return members[i].SubmittedAt.Before(members[j].SubmittedAt)
	})
	copy.BidIDs = make([]uuid.UUID, 0, len(members))
	for _, b := range members {
		copy.BidIDs = append(copy.BidIDs, b.ID)
	}
	return &copy, nil
}

func (s *MemoryStore) CreateBid(_ context.Context, bid *domain.Bid) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *bid
	s.bids[bid.ID] = &copy
	if bid.Status == domain.BidStatusActive {
		s.activeBids[bid.Coord().String()] = bid.ID
	}
	return nil
}

func (s *MemoryStore) UpdateBidStatus(_ context.Context, id uuid.UUID, status domain.BidStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bids[id]
	if !ok {
		return domain.ErrBidNotFound
	}
	key := b.Coord().String()
	if b.Status == domain.BidStatusActive && status != domain.BidStatusActive {
		if s.activeBids[key] == id {
			delete(s.activeBids, key)
		}
	}
	// Promotion restores parcel leadership, mirroring the SQL store where
	// leadership is just the status predicate.
	if status == domain.BidStatusActive {
		s.activeBids[key] = id
	}
	b.Status = status
	b.UpdatedAt = at
	return nil
}

func (s *MemoryStore) ActiveBidByParcel(_ context.Context, coord domain.Coord) (*domain.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.activeBids[coord.String()]
	if !ok {
		return nil, domain.ErrBidNotFound
	}
	copy := *s.bids[id]
	return &copy, nil
}

func (s *MemoryStore) BidsByAddress(_ context.Context, address string) ([]*domain.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Bid
	for _, b := range s.bids {
		if b.Address == address {
			copy := *b
			out = append(out, &copy)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.After(out[j].SubmittedAt) })
	return out, nil
}

func (s *MemoryStore) ActiveBidsInRange(_ context.Context, min, max domain.Coord) ([]*domain.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Bid
	for _, id := range s.activeBids {
		b := s.bids[id]
		if b.X >= min.X && b.X <= max.X && b.Y >= min.Y && b.Y <= max.Y {
			copy := *b
			out = append(out, &copy)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Coord().Less(out[j].Coord()) })
	return out, nil
}

func (s *MemoryStore) ActiveBids(_ context.Context) ([]*domain.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Bid, 0, len(s.activeBids))
	for _, id := range s.activeBids {
		copy := *s.bids[id]
		out = append(out, &copy)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Coord().Less(out[j].Coord()) })
	return out, nil
}

// --- Monthly ledger rows ---

func (s *MemoryStore) MergeLockedBalanceEvent(_ context.Context, address string, month int, delta decimal.Decimal, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	months, ok := s.locked[address]
	if !ok {
		months = make(map[int]decimal.Decimal)
		s.locked[address] = months
	}
	months[month] = months[month].Add(delta)
	return nil
}

func (s *MemoryStore) MonthlyLockedBalance(_ context.Context, address string) (map[int]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[int]decimal.Decimal, len(s.locked[address]))
	for m, v := range s.locked[address] {
		out[m] = v
	}
	return out, nil
}

func (s *MemoryStore) AddDistrictEntry(_ context.Context, entry *domain.DistrictEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	months, ok := s.districts[entry.Address]
	if !ok {
		months = make(map[int]decimal.Decimal)
		s.districts[entry.Address] = months
	}
	months[entry.Month] = months[entry.Month].Add(entry.Amount)
	return nil
}

func (s *MemoryStore) MonthlyDistrictBalance(_ context.Context, address string) (map[int]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[int]decimal.Decimal, len(s.districts[address]))
	for m, v := range s.districts[address] {
		out[m] = v
	}
	return out, nil
}

// --- Aggregates ---

func (s *MemoryStore) CountAddressesWithBalance(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, st := range s.addresses {
		if st.Balance.IsPositive() {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) MaxBalance(_ context.Context) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	max := decimal.Zero
	for _, st := range s.addresses {
		if st.Balance.GreaterThan(max) {
			max = st.Balance
		}
	}
	return max, nil
}

func (s *MemoryStore) TotalLocked(_ context.Context) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for _, st := range s.addresses {
		total = total.Add(st.Locked)
	}
	return total, nil
}

func (s *MemoryStore) CountAddressesWithEmail(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, st := range s.addresses {
		if st.HasEmail() {
			n++
		}
	}
	return n, nil
}

// --- Outbid notifications ---

func (s *MemoryStore) EnqueueOutbidNotification(_ context.Context, n *domain.OutbidNotification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *n
	s.notifications = append(s.notifications, &copy)
	return nil
}

func (s *MemoryStore) PendingOutbidNotifications(_ context.Context, limit int) ([]*domain.OutbidNotification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.OutbidNotification
	for _, n := range s.notifications {
		if n.SentAt == nil {
			copy := *n
			out = append(out, &copy)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) MarkNotificationSent(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, n := range s.notifications {
		if n.ID == id {
			sent := at
			n.SentAt = &sent
			return nil
		}
	}
	return domain.ErrBidNotFound
}
