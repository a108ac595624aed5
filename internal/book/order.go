package book

import (
	"github.com/shopspring/decimal"

	"tradecore/internal/common"
)

// Order is a resting book entry: {id, side, price, volume} per
// spec.md §3. It is intentionally smaller than matching.WorkingOrder — the
// book only needs enough to maintain price-time priority and depth;
// the matching engine owns the richer order record and projects it
// down to one of these whenever it rests on a book.
type Order struct {
	ID    string
	Side  common.Side
	Price decimal.Decimal
	Size  decimal.Decimal
}

// Level holds every resting Order at one price on one side. Orders are
// kept in insertion order, which is price-time priority within a level.
type Level struct {
	Price  decimal.Decimal
	Orders []*Order
}

// Volume is the sum of every order's remaining size at this level.
func (l *Level) Volume() decimal.Decimal {
	total := decimal.Zero
	for _, o := range l.Orders {
		total = total.Add(o.Size)
	}
	return total
}

func (l *Level) indexOf(id string) int {
	for i, o := range l.Orders {
		if o.ID == id {
			return i
		}
	}
	return -1
}
