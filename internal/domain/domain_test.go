package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseCoord(t *testing.T) {
	tests := []struct {
		in      string
		want    Coord
		wantErr bool
	}{
		{"10,-23", Coord{X: 10, Y: -23}, false},
		{"0,0", Coord{}, false},
		{" 5 , 7 ", Coord{X: 5, Y: 7}, false},
		{"10", Coord{}, true},
		{"a,b", Coord{}, true},
		{"1,2,3", Coord{}, true}, // trailing junk in y
		{"", Coord{}, true},
	}
	for _, tt := range tests {
		got, err := ParseCoord(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrValidation) {
				t.Errorf("ParseCoord(%q) err = %v, want ErrValidation", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseCoord(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseCoord(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestCoord_StringRoundTrip(t *testing.T) {
	for _, c := range []Coord{{X: 0, Y: 0}, {X: -150, Y: 150}, {X: 42, Y: -7}} {
		got, err := ParseCoord(c.String())
		if err != nil || got != c {
			t.Errorf("ParseCoord(%q) = %v, %v", c.String(), got, err)
		}
	}
}

func TestGrid_Contains(t *testing.T) {
	g := Grid{MinX: -150, MinY: -150, MaxX: 150, MaxY: 150}

	for _, c := range []Coord{{X: 0, Y: 0}, {X: -150, Y: -150}, {X: 150, Y: 150}} {
		if !g.Contains(c) {
			t.Errorf("Contains(%s) = false, want true", c)
		}
	}
	for _, c := range []Coord{{X: -151, Y: 0}, {X: 0, Y: 151}, {X: 151, Y: 151}} {
		if g.Contains(c) {
			t.Errorf("Contains(%s) = true, want false", c)
		}
	}
}

func TestBid_MinRaise(t *testing.T) {
	tests := []struct {
		amount int64
		want   int64
	}{
		{1000, 1250},
		{100, 125},
		{1001, 1252}, // 1251.25 rounds up
		{1, 2},       // 1.25 rounds up
	}
	for _, tt := range tests {
		b := Bid{Amount: decimal.NewFromInt(tt.amount)}
		if got := b.MinRaise(); !got.Equal(decimal.NewFromInt(tt.want)) {
			t.Errorf("MinRaise(%d) = %s, want %d", tt.amount, got, tt.want)
		}
	}
}

func TestBid_Matches(t *testing.T) {
	b := Bid{
		X: 3, Y: -4,
		Address:      "0xAlice",
		Amount:       decimal.NewFromInt(1000),
		SignatureRef: "sig1",
	}

	if !b.Matches(Coord{X: 3, Y: -4}, "0xAlice", decimal.NewFromInt(1000), "sig1") {
		t.Error("exact duplicate must match")
	}
	if b.Matches(Coord{X: 3, Y: -4}, "0xAlice", decimal.NewFromInt(1001), "sig1") {
		t.Error("different amount must not match")
	}
	if b.Matches(Coord{X: 3, Y: -4}, "0xAlice", decimal.NewFromInt(1000), "sig2") {
		t.Error("different signature must not match")
	}
	if b.Matches(Coord{X: 3, Y: 4}, "0xAlice", decimal.NewFromInt(1000), "sig1") {
		t.Error("different parcel must not match")
	}
}
