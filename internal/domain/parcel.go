// Package domain defines the core business entities and types for the
// parcel land-auction system.
package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Coord
// ──────────────────────────────────────────────────────────────────────────────

// Coord identifies a single auctionable parcel on the integer grid.
type Coord struct {
	X int `json:"x" db:"x"`
	Y int `json:"y" db:"y"`
}

// String renders the coordinate in the canonical "x,y" form used as a map and
// lock key throughout the engine.
func (c Coord) String() string {
	return fmt.Sprintf("%d,%d", c.X, c.Y)
}

// ParseCoord parses the canonical "x,y" form back into a Coord.
func ParseCoord(s string) (Coord, error) {
	parts := strings.SplitN(s, ",", 2)
	if len(parts) != 2 {
		return Coord{}, fmt.Errorf("%w: coordinate %q must be \"x,y\"", ErrValidation, s)
	}
	x, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return Coord{}, fmt.Errorf("%w: invalid x in %q", ErrValidation, s)
	}
	y, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return Coord{}, fmt.Errorf("%w: invalid y in %q", ErrValidation, s)
	}
	return Coord{X: x, Y: y}, nil
}

// Less orders coordinates row-major. Used to acquire parcel locks in a fixed
// global order when a bid group touches several parcels.
func (c Coord) Less(other Coord) bool {
	if c.X != other.X {
		return c.X < other.X
	}
	return c.Y < other.Y
}

// ──────────────────────────────────────────────────────────────────────────────
// Grid
// ──────────────────────────────────────────────────────────────────────────────

// Grid is the rectangular bound of auctionable parcels.
type Grid struct {
	MinX, MinY int
	MaxX, MaxY int
}

// Contains reports whether the coordinate lies inside the auction grid.
func (g Grid) Contains(c Coord) bool {
	return c.X >= g.MinX && c.X <= g.MaxX && c.Y >= g.MinY && c.Y <= g.MaxY
}

// ──────────────────────────────────────────────────────────────────────────────
// ParcelState — read-only projection consumed by the rendering client
// ──────────────────────────────────────────────────────────────────────────────

// ParcelState is the outward view of one parcel: its current leading bid (if
// any) and the effective close time after anti-snipe extensions.
type ParcelState struct {
	Coord          Coord            `json:"coord"`
	Amount         *decimal.Decimal `json:"amount,omitempty"`  // leading bid amount
	Address        string           `json:"address,omitempty"` // leading bidder
	BidID          *uuid.UUID       `json:"bid_id,omitempty"`
	EndsAt         time.Time        `json:"ends_at"`
	Ended          bool             `json:"ended"`
	UpdatedAt      *time.Time       `json:"updated_at,omitempty"`
	RequiredAmount decimal.Decimal  `json:"required_amount"` // minimum next qualifying bid
}
