// Package book keeps the normalized per-venue order books.
//
// Merge applies one decoded update to one side. Store owns every book and
// serializes writes per venue; readers always get a copy.
package book

import (
	"github.com/google/btree"

	"github.com/amirphl/bookstream/internal/market"
)

const btreeDegree = 8

// Merge applies levels to current and returns the new side, ordered by dir and
// holding at most depth levels.
//
// A snapshot replaces the side entirely and ignores current. A delta overwrites
// sizes by price and removes prices whose size is zero. Prices compare
// numerically, so "100.0" and "100" address the same level; within one call the
// last level for a price wins.
func Merge(current market.Side, levels []market.Level, snapshot bool, dir market.Direction, depth int) market.Side {
	if depth <= 0 {
		depth = market.DefaultDepth
	}

	tree := btree.NewG(btreeDegree, func(a, b market.Level) bool {
		return dir.Before(a.Price, b.Price)
	})

	if !snapshot {
		for _, l := range current {
			tree.ReplaceOrInsert(l)
		}
	}

	for _, l := range levels {
		if l.Size.IsNegative() {
			continue
		}
		if l.IsDelete() {
			// snapshots never carry deletions; a zero level there is just dropped
			if !snapshot {
				tree.Delete(l)
			}
			continue
		}
		tree.ReplaceOrInsert(l)
	}

	out := make(market.Side, 0, min(tree.Len(), depth))
	tree.Ascend(func(l market.Level) bool {
		out = append(out, l)
		return len(out) < depth
	})
	return out
}
