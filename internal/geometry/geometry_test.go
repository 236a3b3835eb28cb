package geometry

import (
	"testing"

	"github.com/gridlands/auction/internal/domain"
)

var testGrid = domain.Grid{MinX: -150, MinY: -150, MaxX: 150, MaxY: 150}

func TestToPixel(t *testing.T) {
	tr := NewTransform(testGrid, 10)

	tests := []struct {
		coord domain.Coord
		want  Point
	}{
		{domain.Coord{X: -150, Y: 150}, Point{X: 0, Y: 0}},         // top-left corner
		{domain.Coord{X: 0, Y: 0}, Point{X: 1500, Y: 1500}},        // origin at center
		{domain.Coord{X: 150, Y: -150}, Point{X: 3000, Y: 3000}},   // bottom-right
		{domain.Coord{X: 1, Y: 1}, Point{X: 1510, Y: 1490}},        // Y flips sign
		{domain.Coord{X: -1, Y: -1}, Point{X: 1490, Y: 1510}},
	}
	for _, tt := range tests {
		if got := tr.ToPixel(tt.coord); got != tt.want {
			t.Errorf("ToPixel(%s) = %+v, want %+v", tt.coord, got, tt.want)
		}
	}
}

func TestToCoord_RoundTrip(t *testing.T) {
	tr := NewTransform(testGrid, 10)

	coords := []domain.Coord{
		{X: 0, Y: 0}, {X: -150, Y: -150}, {X: 150, Y: 150},
		{X: -1, Y: 1}, {X: 73, Y: -21},
	}
	for _, c := range coords {
		if got := tr.ToCoord(tr.ToPixel(c)); got != c {
			t.Errorf("round trip %s via pixel = %s", c, got)
		}
	}
}

func TestToCoord_InteriorPoints(t *testing.T) {
	tr := NewTransform(testGrid, 10)

	// Anywhere inside the cell resolves to the same parcel.
	base := tr.ToPixel(domain.Coord{X: -5, Y: 7})
	for _, d := range []int{0, 1, 5, 9} {
		p := Point{X: base.X + d, Y: base.Y + d}
		if got := tr.ToCoord(p); (got != domain.Coord{X: -5, Y: 7}) {
			t.Errorf("ToCoord(%+v) = %s, want -5,7", p, got)
		}
	}

	// One pixel over the edge lands in the neighbor.
	p := Point{X: base.X - 1, Y: base.Y}
	if got := tr.ToCoord(p); (got != domain.Coord{X: -6, Y: 7}) {
		t.Errorf("ToCoord(%+v) = %s, want -6,7", p, got)
	}
}

func TestValidate(t *testing.T) {
	if err := (Transform{Size: 10}).Validate(); err != nil {
		t.Errorf("valid transform: %v", err)
	}
	if err := (Transform{Size: 0}).Validate(); err == nil {
		t.Error("zero size must not validate")
	}
	if err := (Transform{Size: -3}).Validate(); err == nil {
		t.Error("negative size must not validate")
	}
}

func TestFloorDiv(t *testing.T) {
	tests := []struct {
		a, b, want int
	}{
		{10, 10, 1}, {9, 10, 0}, {0, 10, 0},
		{-1, 10, -1}, {-10, 10, -1}, {-11, 10, -2},
	}
	for _, tt := range tests {
		if got := floorDiv(tt.a, tt.b); got != tt.want {
			t.Errorf("floorDiv(%d, %d) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}
