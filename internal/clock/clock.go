// Package clock implements the auction timing rules: the global auction
// window and the per-parcel anti-snipe extension of the effective close time.
package clock

import (
	"sync"
	"time"

	"github.com/gridlands/auction/internal/domain"
)

// ExtensionThreshold is the trailing window before a parcel's effective close
// inside which a qualifying bid pushes the close back out to exactly this
// distance from the bid time.
const ExtensionThreshold = 30 * time.Hour

// AuctionClock tracks each parcel's effective close time. A parcel starts at
// the global auction end and only moves later, one extension per qualifying
// bid. Cumulative extension is uncapped: repeated late bids keep pushing the
// close as long as they qualify.
type AuctionClock struct {
	mu        sync.RWMutex
	opensAt   time.Time
	closesAt  time.Time // global end; per-parcel default
	effective map[string]time.Time

	// now is injectable so tests can drive simulated time.
	now func() time.Time
}

// New creates an AuctionClock for the given global window.
func New(opensAt, closesAt time.Time) *AuctionClock {
	return &AuctionClock{
		opensAt:   opensAt,
		closesAt:  closesAt,
		effective: make(map[string]time.Time),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetNowFunc replaces the time source. Test hook; call before use.
func (c *AuctionClock) SetNowFunc(now func() time.Time) {
	c.now = now
}

// Now returns the clock's current time.
func (c *AuctionClock) Now() time.Time {
	return c.now()
}

// OpensAt returns the global auction start.
func (c *AuctionClock) OpensAt() time.Time { return c.opensAt }

// GlobalClose returns the global auction end (the default effective close).
func (c *AuctionClock) GlobalClose() time.Time { return c.closesAt }

// EffectiveClose returns the parcel's current close time: the global end until
// a qualifying bid inside the threshold window extends it.
func (c *AuctionClock) EffectiveClose(coord domain.Coord) time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if t, ok := c.effective[coord.String()]; ok {
		return t
	}
	return c.closesAt
}

// IsOpen reports whether a bid arriving at the given time would still be
// accepted on the parcel: before the global start or at/past the effective
// close means closed.
func (c *AuctionClock) IsOpen(coord domain.Coord, at time.Time) bool {
	if at.Before(c.opensAt) {
		return false
	}
	return at.Before(c.EffectiveClose(coord))
}

// RecordQualifyingBid applies the anti-snipe rule for a bid accepted at
// bidTime. With remaining = effectiveClose − bidTime, when remaining is under
// the threshold the close moves out by (threshold − remaining), leaving the
// new close exactly one threshold after the bid. Reapplied on every
// qualifying bid, so repeated late bids keep extending.
func (c *AuctionClock) RecordQualifyingBid(coord domain.Coord, bidTime time.Time) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := coord.String()
	close, ok := c.effective[key]
	if !ok {
		close = c.closesAt
	}

	remaining := close.Sub(bidTime)
	if remaining < ExtensionThreshold {
		close = close.Add(ExtensionThreshold - remaining) // = bidTime + threshold
		c.effective[key] = close
	}
	return close
}

// ExpiredParcels returns every parcel whose effective close has been extended
// at least once and has now passed. Parcels that never saw a late bid close at
// the global end; the finalizer handles those via the global close directly.
func (c *AuctionClock) ExpiredParcels(at time.Time) []domain.Coord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []domain.Coord
	for key, close := range c.effective {
		if !at.Before(close) {
			coord, err := domain.ParseCoord(key)
			if err != nil {
				continue // unreachable: keys are produced by Coord.String
			}
			out = append(out, coord)
		}
	}
	return out
}

// GlobalClosed reports whether the global auction end has passed.
func (c *AuctionClock) GlobalClosed(at time.Time) bool {
	return !at.Before(c.closesAt)
}
