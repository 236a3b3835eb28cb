// Package geometry converts between parcel coordinates and the pixel plane
// used by map clients. The transform is a uniform scale plus an offset that
// centers the grid, and it round-trips exactly on parcel centers.
package geometry

import (
	"fmt"

	"github.com/gridlands/auction/internal/domain"
)

// Transform maps parcel coordinates to pixel coordinates. Size is the pixel
// edge of one parcel; OffsetX/OffsetY place the grid origin on the plane.
// Pixel Y grows downward while parcel Y grows upward, so Y is negated.
type Transform struct {
	Size    int
	OffsetX int
	OffsetY int
}

// NewTransform builds a transform that centers the given grid on a square
// plane of the given parcel edge size.
func NewTransform(grid domain.Grid, size int) Transform {
	return Transform{
		Size:    size,
		OffsetX: -grid.MinX * size,
		OffsetY: grid.MaxY * size,
	}
}

// Point is a pixel-plane position.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// ToPixel maps a parcel coordinate to the top-left pixel of its cell.
func (t Transform) ToPixel(c domain.Coord) Point {
	return Point{
		X: c.X*t.Size + t.OffsetX,
		Y: -c.Y*t.Size + t.OffsetY,
	}
}

// ToCoord inverts ToPixel. Points inside a cell map to that cell's parcel.
func (t Transform) ToCoord(p Point) domain.Coord {
	return domain.Coord{
		X: floorDiv(p.X-t.OffsetX, t.Size),
		Y: -floorDiv(p.Y-t.OffsetY, t.Size),
	}
}

// Validate rejects transforms that cannot be inverted.
func (t Transform) Validate() error {
	if t.Size <= 0 {
		return fmt.Errorf("geometry: parcel size must be positive, got %d", t.Size)
	}
	return nil
}

// floorDiv divides rounding toward negative infinity, so negative pixel
// positions land in the right cell.
func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
