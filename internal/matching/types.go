// Package matching implements the simulated exchange: a per-instrument
// matching engine driven by inbound order-book data and order commands,
// generalized from the teacher's single-asset float64 engine to a
// multi-instrument, decimal, event-channel design (spec.md §4.3).
package matching

import (
	"github.com/shopspring/decimal"

	"tradecore/internal/common"
)

// BracketRole tags a working order's role within a bracket group.
type BracketRole int

const (
	// NoBracket marks an order that is not part of a bracket.
	NoBracket BracketRole = iota
	BracketEntry
	BracketStopLoss
	BracketTakeProfit
)

// WorkingOrder is the matching engine's view of a live order: the
// resting book entry's {id, side, price, volume} plus the state
// machine, linkage and timing the book layer doesn't need (spec.md §3
// "Working order").
type WorkingOrder struct {
	ClientOrderID string
	VenueOrderID  string
	InstrumentID  string

	Side         common.Side
	Type         common.OrderType
	TimeInForce  common.TimeInForce
	LimitPrice   decimal.Decimal
	StopPrice    decimal.Decimal
	Size         decimal.Decimal
	FilledSize   decimal.Decimal
	Status       common.OrderStatus
	PostOnly     bool
	ReduceOnly   bool
	ExpireTimeNs int64

	LinkID          string // not populated; OCO links live in SimulatedExchange.ocoLink/ocoMembers
	BracketParentID string // bracket parent's ClientOrderID; empty if not a bracket child
	BracketRole     BracketRole

	SubmittedTs int64
}

// Remaining is the size still open to match.
func (w *WorkingOrder) Remaining() decimal.Decimal {
	return w.Size.Sub(w.FilledSize)
}

// IsWorking reports whether the order can still participate in matching.
func (w *WorkingOrder) IsWorking() bool {
	return !w.Status.IsTerminal()
}

// Account tracks one currency's balances and cumulative commission for
// the session (spec.md §3: "Accounts live for the session").
type Account struct {
	Currency             string
	Total                decimal.Decimal
	Free                 decimal.Decimal
	Locked               decimal.Decimal
	CumulativeCommission decimal.Decimal
}

// Position is an event-sourced aggregate: Size is signed (positive for
// long, negative for short); it is retained after going flat for audit
// (spec.md §3).
type Position struct {
	InstrumentID string
	Size         decimal.Decimal
	AvgPrice     decimal.Decimal
	RealizedPnL  decimal.Decimal
}

// IsFlat reports whether the position currently carries no exposure.
func (p *Position) IsFlat() bool {
	return p.Size.IsZero()
}
