package cache

import (
	"fmt"

	"github.com/shopspring/decimal"

	"tradecore/internal/common"
)

// Account is the durable, event-sourced mirror of a matching.Account:
// reconstructed by seeding from the first AccountStateEvent and
// folding every later one (spec.md §4.6).
type Account struct {
	Currency string
	Total    decimal.Decimal
	Free     decimal.Decimal
	Locked   decimal.Decimal
}

func newAccount(seed AccountStateEvent) *Account {
	return &Account{Currency: seed.Currency, Total: seed.Total, Free: seed.Free, Locked: seed.Locked}
}

// Apply folds one event into the account. AccountStateEvent is the
// only kind on this stream, and it replaces balances wholesale rather
// than deltas — each append already carries the post-mutation totals.
func (a *Account) Apply(e Event) error {
	s, ok := e.(*AccountStateEvent)
	if !ok {
		return fmt.Errorf("cache: account stream cannot apply %s", e.Kind())
	}
	a.Total, a.Free, a.Locked = s.Total, s.Free, s.Locked
	return nil
}

// Order is the durable, event-sourced mirror of a matching.WorkingOrder.
type Order struct {
	ClientOrderID string
	InstrumentID  string
	Side          common.Side
	Type          common.OrderType
	TimeInForce   common.TimeInForce
	LimitPrice    decimal.Decimal
	StopPrice     decimal.Decimal
	Size          decimal.Decimal
	FilledSize    decimal.Decimal
	Status        common.OrderStatus
}

func newOrder(seed OrderInitializedEvent) *Order {
	return &Order{
		ClientOrderID: seed.ClientOrderID,
		InstrumentID:  seed.InstrumentID,
		Side:          seed.Side,
		Type:          seed.Type,
		TimeInForce:   seed.TimeInForce,
		LimitPrice:    seed.LimitPrice,
		StopPrice:     seed.StopPrice,
		Size:          seed.Size,
		Status:        common.Accepted,
	}
}

// Apply folds one later event into the order's state machine.
func (o *Order) Apply(e Event) error {
	switch ev := e.(type) {
	case *OrderFilledEvent:
		o.FilledSize = o.FilledSize.Add(ev.Quantity)
		if o.FilledSize.GreaterThanOrEqual(o.Size) {
			o.Status = common.Filled
		} else {
			o.Status = common.PartiallyFilled
		}
	case *OrderCanceledEvent:
		o.Status = common.Canceled
	case *OrderUpdatedEvent:
		if ev.NewLimitPrice != nil {
			o.LimitPrice = *ev.NewLimitPrice
		}
		if ev.NewSize != nil {
			o.Size = *ev.NewSize
		}
	case *OrderExpiredEvent:
		o.Status = common.Expired
	default:
		return fmt.Errorf("cache: order stream cannot apply %s", e.Kind())
	}
	return nil
}

// Position is the durable, event-sourced mirror of a matching.Position,
// seeded by the first PositionFillEvent on its stream and folded by
// every later one (spec.md §4.6).
type Position struct {
	InstrumentID string
	Size         decimal.Decimal
	AvgPrice     decimal.Decimal
	RealizedPnL  decimal.Decimal
}

func newPosition(instrumentID string, seed PositionFillEvent) *Position {
	signed := seed.Quantity
	if seed.Side == common.Sell {
		signed = signed.Neg()
	}
	return &Position{InstrumentID: instrumentID, Size: signed, AvgPrice: seed.Price}
}

// Apply folds one later fill into the position using the same
// open/add/close-and-flip logic as matching.SimulatedExchange's live
// position tracking, since both must agree on realized P&L.
func (p *Position) Apply(e Event) error {
	fill, ok := e.(*PositionFillEvent)
	if !ok {
		return fmt.Errorf("cache: position stream cannot apply %s", e.Kind())
	}
	signed := fill.Quantity
	if fill.Side == common.Sell {
		signed = signed.Neg()
	}
	sameSign := func(a, b decimal.Decimal) bool {
		return (a.IsPositive() && b.IsPositive()) || (a.IsNegative() && b.IsNegative())
	}
	switch {
	case p.Size.IsZero():
		p.Size = signed
		p.AvgPrice = fill.Price
	case sameSign(p.Size, signed):
		newSize := p.Size.Add(signed)
		totalCost := p.AvgPrice.Mul(p.Size.Abs()).Add(fill.Price.Mul(signed.Abs()))
		p.AvgPrice = totalCost.Div(newSize.Abs())
		p.Size = newSize
	default:
		closingQty := decimal.Min(p.Size.Abs(), signed.Abs())
		pnlPerUnit := fill.Price.Sub(p.AvgPrice)
		if p.Size.IsNegative() {
			pnlPerUnit = p.AvgPrice.Sub(fill.Price)
		}
		p.RealizedPnL = p.RealizedPnL.Add(pnlPerUnit.Mul(closingQty))
		p.Size = p.Size.Add(signed)
		if p.Size.IsZero() {
			p.AvgPrice = decimal.Zero
		} else if sameSign(p.Size, signed) {
			p.AvgPrice = fill.Price
		}
	}
	return nil
}
