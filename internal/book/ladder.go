package book

import (
	"github.com/tidwall/btree"

	"tradecore/internal/common"
)

// Ladder is one side of a book: an ordered sequence of price Levels.
// Prices sort descending when reverse is true (bids), ascending
// otherwise (asks) — per spec.md §3. Backed by a tidwall/btree.BTreeG
// so price lookup and Top are both O(log L), generalized from the
// teacher's engine.PriceLevels.
type Ladder struct {
	reverse bool
	tree    *btree.BTreeG[*Level]
	byID    map[string]*Level
}

// NewLadder constructs an empty ladder. reverse=true sorts descending
// (bids); reverse=false sorts ascending (asks).
func NewLadder(reverse bool) *Ladder {
	var less func(a, b *Level) bool
	if reverse {
		less = func(a, b *Level) bool { return a.Price.GreaterThan(b.Price) }
	} else {
		less = func(a, b *Level) bool { return a.Price.LessThan(b.Price) }
	}
	return &Ladder{
		reverse: reverse,
		tree:    btree.NewBTreeG(less),
		byID:    make(map[string]*Level),
	}
}

// Add inserts a new order, creating its price level if necessary.
func (l *Ladder) Add(o *Order) error {
	if o == nil {
		return common.ErrNilOrder
	}
	lvl, ok := l.tree.Get(&Level{Price: o.Price})
	if !ok {
		lvl = &Level{Price: o.Price}
		l.tree.Set(lvl)
	}
	lvl.Orders = append(lvl.Orders, o)
	l.byID[o.ID] = lvl
	return nil
}

// Update locates the order by id and replaces it in place. If the
// price changed, the order loses time priority and moves to the back
// of the new level's queue (a genuine repricing is a new order).
func (l *Ladder) Update(o *Order) error {
	if o == nil {
		return common.ErrNilOrder
	}
	lvl, ok := l.byID[o.ID]
	if !ok {
		return ErrOrderNotFound
	}
	if lvl.Price.Equal(o.Price) {
		idx := lvl.indexOf(o.ID)
		if idx < 0 {
			return ErrOrderNotFound
		}
		lvl.Orders[idx] = o
		return nil
	}
	if err := l.Delete(&Order{ID: o.ID, Side: o.Side, Price: lvl.Price}); err != nil {
		return err
	}
	return l.Add(o)
}

// Delete removes the order from whichever level currently holds it.
func (l *Ladder) Delete(o *Order) error {
	if o == nil {
		return common.ErrNilOrder
	}
	lvl, ok := l.byID[o.ID]
	if !ok {
		return ErrOrderNotFound
	}
	idx := lvl.indexOf(o.ID)
	if idx < 0 {
		return ErrOrderNotFound
	}
	lvl.Orders = append(lvl.Orders[:idx], lvl.Orders[idx+1:]...)
	delete(l.byID, o.ID)
	if len(lvl.Orders) == 0 {
		l.tree.Delete(lvl)
	}
	return nil
}

// Top returns the best level on this side, if any.
func (l *Ladder) Top() (*Level, bool) {
	return l.tree.Min()
}

// Depth returns up to the best n levels, best first.
func (l *Ladder) Depth(n int) []*Level {
	if n <= 0 {
		return nil
	}
	out := make([]*Level, 0, n)
	l.tree.Scan(func(lvl *Level) bool {
		out = append(out, lvl)
		return len(out) < n
	})
	return out
}

// Levels returns every level, best first.
func (l *Ladder) Levels() []*Level {
	return l.Depth(l.tree.Len())
}

// Prices returns every price currently resting on this side, best first.
func (l *Ladder) Prices() []string {
	levels := l.Levels()
	out := make([]string, len(levels))
	for i, lvl := range levels {
		out[i] = lvl.Price.String()
	}
	return out
}

// Len is the number of distinct price levels.
func (l *Ladder) Len() int {
	return l.tree.Len()
}

// Clear empties the ladder. Idempotent: calling it twice leaves the
// ladder empty both times.
func (l *Ladder) Clear() {
	l.tree = btree.NewBTreeG(l.lessFunc())
	l.byID = make(map[string]*Level)
}

func (l *Ladder) lessFunc() func(a, b *Level) bool {
	if l.reverse {
		return func(a, b *Level) bool { return a.Price.GreaterThan(b.Price) }
	}
	return func(a, b *Level) bool { return a.Price.LessThan(b.Price) }
}
