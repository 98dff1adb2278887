// Package market
package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultDepth is the number of levels kept per side.
const DefaultDepth = 15

// Level represents resting liquidity at one price.
// A zero Size inside a delta update marks the price for deletion.
type Level struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// NewLevel builds a level from already parsed values.
func NewLevel(price, size decimal.Decimal) Level {
	return Level{Price: price, Size: size}
}

// IsDelete reports whether the level is a delete marker.
func (l Level) IsDelete() bool {
	return l.Size.IsZero()
}

// Direction is the sort order of a book side.
type Direction int

const (
	// Descending is used for bids (best = highest price).
	Descending Direction = iota
	// Ascending is used for asks (best = lowest price).
	Ascending
)

func (d Direction) String() string {
	if d == Ascending {
		return "asc"
	}
	return "desc"
}

// Before reports whether price a sorts before price b in this direction.
func (d Direction) Before(a, b decimal.Decimal) bool {
	if d == Ascending {
		return a.LessThan(b)
	}
	return a.GreaterThan(b)
}

// Side is an ordered list of levels: bids descending, asks ascending, unique prices.
type Side []Level

// Clone returns a copy that shares no backing array with s.
func (s Side) Clone() Side {
	if s == nil {
		return nil
	}
	out := make(Side, len(s))
	copy(out, s)
	return out
}

// Best returns the first level of the side.
func (s Side) Best() (Level, bool) {
	if len(s) == 0 {
		return Level{}, false
	}
	return s[0], true
}

// Sorted reports whether the side is strictly ordered in direction d,
// which also rules out duplicate prices.
func (s Side) Sorted(d Direction) bool {
	for i := 1; i < len(s); i++ {
		if !d.Before(s[i-1].Price, s[i].Price) {
			return false
		}
	}
	return true
}

// Book is the normalized view of one venue.
type Book struct {
	Venue     Venue     `json:"venue"`
	Bids      Side      `json:"bids"`
	Asks      Side      `json:"asks"`
	UpdatedAt time.Time `json:"updatedAt"`
	Version   uint64    `json:"version"`
}

// Clone returns a deep copy of the book.
func (b Book) Clone() Book {
	b.Bids = b.Bids.Clone()
	b.Asks = b.Asks.Clone()
	return b
}

// IsEmpty reports whether both sides are empty.
func (b Book) IsEmpty() bool {
	return len(b.Bids) == 0 && len(b.Asks) == 0
}

// Update is the canonical form of one decoded order-book frame.
type Update struct {
	Venue    Venue
	Bids     []Level
	Asks     []Level
	Snapshot bool
}

// IsEmpty reports whether the update carries no levels at all.
func (u Update) IsEmpty() bool {
	return len(u.Bids) == 0 && len(u.Asks) == 0
}

// Kind returns "snapshot" or "delta".
func (u Update) Kind() string {
	if u.Snapshot {
		return "snapshot"
	}
	return "delta"
}
