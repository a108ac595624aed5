package book

import (
	"fmt"

	"github.com/shopspring/decimal"

	"tradecore/internal/common"
)

// BookLevel is the granularity an OrderBook maintains: L1 (top of
// book only, one level per side), L2 (one order per price level) or
// L3 (full order-by-order depth).
type BookLevel int

const (
	L1 BookLevel = iota
	L2
	L3
)

func (l BookLevel) String() string {
	switch l {
	case L1:
		return "L1"
	case L2:
		return "L2"
	case L3:
		return "L3"
	default:
		return "UNKNOWN"
	}
}

// OrderBook holds both ladders for one instrument and the precision
// every inbound price/size is quantized to. Add/Update/Delete dispatch
// on order.Side; the three book-level variants are realized by small
// per-level hooks rather than subclassing, per spec.md §9.
type OrderBook struct {
	InstrumentID          string
	Level                 BookLevel
	PricePrecision        int32
	SizePrecision         int32
	Bids                  *Ladder
	Asks                  *Ladder
	LastUpdateTimestampNs int64
}

// NewOrderBook constructs an empty book. Negative precisions are
// rejected at construction (spec.md §4.1).
func NewOrderBook(instrumentID string, level BookLevel, pricePrecision, sizePrecision int32) (*OrderBook, error) {
	if err := common.ValidatePrecision(pricePrecision, sizePrecision); err != nil {
		return nil, err
	}
	return &OrderBook{
		InstrumentID:   instrumentID,
		Level:          level,
		PricePrecision: pricePrecision,
		SizePrecision:  sizePrecision,
		Bids:           NewLadder(true),
		Asks:           NewLadder(false),
	}, nil
}

func (b *OrderBook) ladderFor(side common.Side) *Ladder {
	if side == common.Buy {
		return b.Bids
	}
	return b.Asks
}

func (b *OrderBook) quantize(o *Order) *Order {
	cp := *o
	cp.Price = common.QuantizePrice(o.Price, b.PricePrecision)
	cp.Size = common.QuantizeSize(o.Size, b.SizePrecision)
	return &cp
}

func priceKey(p decimal.Decimal) string {
	return p.String()
}

// Add inserts a new order into the appropriate ladder. Unsupported on
// an L1 book (spec.md §4.2: "add is unsupported" — use Update instead).
func (b *OrderBook) Add(o *Order) error {
	if o == nil {
		return common.ErrNilOrder
	}
	if b.Level == L1 {
		return fmt.Errorf("%w: L1 book does not support Add, use Update", common.ErrUnsupportedOnBook)
	}
	o = b.quantize(o)
	if b.Level == L2 {
		return b.l2Upsert(o)
	}
	return b.ladderFor(o.Side).Add(o)
}

// Update locates the order by id and replaces it in place (L3), or
// performs the book-level-specific single-entry replacement (L1/L2).
func (b *OrderBook) Update(o *Order) error {
	if o == nil {
		return common.ErrNilOrder
	}
	o = b.quantize(o)
	switch b.Level {
	case L1:
		return b.l1Update(o)
	case L2:
		return b.l2Upsert(o)
	default:
		return b.ladderFor(o.Side).Update(o)
	}
}

// Delete removes an order. On L1 books deletion only happens through
// Update/UpdateTop/Clear — there is no standalone per-order delete
// because each side holds at most one synthetic order.
func (b *OrderBook) Delete(o *Order) error {
	if o == nil {
		return common.ErrNilOrder
	}
	if b.Level == L1 {
		return fmt.Errorf("%w: L1 book does not support Delete, use Update/Clear", common.ErrUnsupportedOnBook)
	}
	return b.ladderFor(o.Side).Delete(o)
}

// l2Upsert is the canonical L2 encoding (spec.md §9): the order's id
// is replaced by a formatted price string so "the" order resting at a
// price is id-stable, and any existing order at that price is removed
// before reinsertion (whole-level replacement).
func (b *OrderBook) l2Upsert(o *Order) error {
	cp := *o
	cp.ID = priceKey(cp.Price)
	ladder := b.ladderFor(cp.Side)
	if err := ladder.Delete(&Order{ID: cp.ID}); err != nil && err != ErrOrderNotFound {
		return err
	}
	return ladder.Add(&cp)
}

// l1Update replaces the single synthetic order on one side. If the new
// value would cross the opposite side's top, the update is absorbed:
// the receiving side is cleared instead of resting a crossed price
// (spec.md §8 scenario 3 — "asks cleared (crossed feed absorbed)").
func (b *OrderBook) l1Update(o *Order) error {
	o = b.quantize(o)
	if o.Side == common.Buy {
		if top, ok := b.Asks.Top(); ok && o.Price.GreaterThanOrEqual(top.Price) {
			b.Bids.Clear()
			return nil
		}
	} else {
		if top, ok := b.Bids.Top(); ok && o.Price.LessThanOrEqual(top.Price) {
			b.Asks.Clear()
			return nil
		}
	}
	return b.l1Set(o)
}

// l1Set unconditionally replaces the single synthetic order resting on
// o.Side, with no crossed-feed check. Used directly by trade-tick
// handling, where a print at or through the opposite top is a normal
// execution, not a stale quote to absorb.
func (b *OrderBook) l1Set(o *Order) error {
	cp := *b.quantize(o)
	cp.ID = cp.Side.String()
	ladder := b.ladderFor(cp.Side)
	if err := ladder.Delete(&Order{ID: cp.ID}); err != nil && err != ErrOrderNotFound {
		return err
	}
	return ladder.Add(&cp)
}

// UpdateTop is the L1-only entry point for quote and trade ticks.
func (b *OrderBook) UpdateTop(tick any) error {
	if b.Level != L1 {
		return fmt.Errorf("%w: UpdateTop is only valid on an L1 book", common.ErrUnsupportedOnBook)
	}
	switch t := tick.(type) {
	case QuoteTick:
		if err := b.l1Update(&Order{Side: common.Buy, Price: t.BidPrice, Size: t.BidSize}); err != nil {
			return err
		}
		if err := b.l1Update(&Order{Side: common.Sell, Price: t.AskPrice, Size: t.AskSize}); err != nil {
			return err
		}
		b.LastUpdateTimestampNs = t.Ts
		return nil
	case TradeTick:
		return b.l1UpdateTradeTick(t)
	default:
		return fmt.Errorf("%w: tick must be a QuoteTick or TradeTick", common.ErrInvalidEnum)
	}
}

// l1UpdateTradeTick updates the aggressor side at the trade price and,
// per the REDESIGN FLAG in spec.md §9, *assigns* (snaps) the opposite
// side to the aggressor price when it would otherwise cross — the
// original source compared rather than assigned; assignment is the
// documented-authoritative behavior here.
func (b *OrderBook) l1UpdateTradeTick(t TradeTick) error {
	side := t.Side
	if !t.HasSide {
		classified, err := b.TradeSide(t)
		if err != nil {
			return err
		}
		side = classified
	}

	if err := b.l1Set(&Order{Side: side, Price: t.Price, Size: t.Size}); err != nil {
		return err
	}

	opposite := side.Opposite()
	oppLadder := b.ladderFor(opposite)
	if top, ok := oppLadder.Top(); ok {
		crosses := (side == common.Buy && top.Price.LessThanOrEqual(t.Price)) ||
			(side == common.Sell && top.Price.GreaterThanOrEqual(t.Price))
		if crosses {
			snapped := *top.Orders[0]
			snapped.Price = t.Price
			if err := b.l1Set(&snapped); err != nil {
				return err
			}
		}
	}

	b.LastUpdateTimestampNs = t.Ts
	return nil
}

// ApplyDelta applies one inbound delta, advancing the book's
// timestamp. Requires d.Level == b.Level (spec.md §4.2: an explicit
// equality check in every branch, not a constructor-style call).
func (b *OrderBook) ApplyDelta(d Delta) error {
	if d.Level != b.Level {
		return common.ErrLevelMismatch
	}
	var err error
	switch d.Type {
	case Add:
		err = b.Add(&d.Order)
	case Update:
		err = b.Update(&d.Order)
	case Delete:
		err = b.Delete(&d.Order)
	default:
		err = common.ErrInvalidEnum
	}
	if err != nil {
		return err
	}
	b.LastUpdateTimestampNs = d.Ts
	return nil
}

// ApplyDeltas applies a batch atomically: each delta in order,
// advancing the timestamp after each one, and finally stamps the book
// with the batch's own Ts (spec.md §4.2).
func (b *OrderBook) ApplyDeltas(ds Deltas) error {
	if ds.Level != b.Level {
		return common.ErrLevelMismatch
	}
	for _, d := range ds.List {
		d.Level = ds.Level
		if err := b.ApplyDelta(d); err != nil {
			return err
		}
	}
	b.LastUpdateTimestampNs = ds.Ts
	return nil
}

// ApplySnapshot clears the book then Updates each (price, volume) pair
// on both sides — using Update (not Add) keeps the call uniform across
// every book-level variant (spec.md §4.2).
func (b *OrderBook) ApplySnapshot(s Snapshot) error {
	if s.Level != b.Level {
		return common.ErrLevelMismatch
	}
	b.Clear()
	for _, pv := range s.Bids {
		if err := b.Update(&Order{Side: common.Buy, Price: pv.Price, Size: pv.Volume}); err != nil {
			return err
		}
	}
	for _, pv := range s.Asks {
		if err := b.Update(&Order{Side: common.Sell, Price: pv.Price, Size: pv.Volume}); err != nil {
			return err
		}
	}
	b.LastUpdateTimestampNs = s.Ts
	return nil
}

// Clear empties both ladders. Idempotent per spec.md §8.
func (b *OrderBook) Clear() {
	b.Bids.Clear()
	b.Asks.Clear()
}

// BestBidPrice returns the best bid price, if the bid side is non-empty.
func (b *OrderBook) BestBidPrice() (decimal.Decimal, bool) {
	if top, ok := b.Bids.Top(); ok {
		return top.Price, true
	}
	return decimal.Zero, false
}

// BestAskPrice returns the best ask price, if the ask side is non-empty.
func (b *OrderBook) BestAskPrice() (decimal.Decimal, bool) {
	if top, ok := b.Asks.Top(); ok {
		return top.Price, true
	}
	return decimal.Zero, false
}

// BestBidQty returns the volume resting at the best bid.
func (b *OrderBook) BestBidQty() (decimal.Decimal, bool) {
	if top, ok := b.Bids.Top(); ok {
		return top.Volume(), true
	}
	return decimal.Zero, false
}

// BestAskQty returns the volume resting at the best ask.
func (b *OrderBook) BestAskQty() (decimal.Decimal, bool) {
	if top, ok := b.Asks.Top(); ok {
		return top.Volume(), true
	}
	return decimal.Zero, false
}

// Spread is best ask minus best bid, if both sides are non-empty.
func (b *OrderBook) Spread() (decimal.Decimal, bool) {
	bid, ok := b.BestBidPrice()
	if !ok {
		return decimal.Zero, false
	}
	ask, ok := b.BestAskPrice()
	if !ok {
		return decimal.Zero, false
	}
	return ask.Sub(bid), true
}

// Midpoint is the average of best bid and best ask, if both sides are
// non-empty.
func (b *OrderBook) Midpoint() (decimal.Decimal, bool) {
	bid, ok := b.BestBidPrice()
	if !ok {
		return decimal.Zero, false
	}
	ask, ok := b.BestAskPrice()
	if !ok {
		return decimal.Zero, false
	}
	return bid.Add(ask).Div(decimal.NewFromInt(2)), true
}

// TradeSide classifies a trade's aggressor side against the last known
// tops: a trade at or below the best bid was seller-initiated: it hit
// the bid, so the aggressor was a SELL; a trade at or above the best
// ask was buyer-initiated (BUY).
func (b *OrderBook) TradeSide(trade TradeTick) (common.Side, error) {
	bid, bidOK := b.BestBidPrice()
	ask, askOK := b.BestAskPrice()
	switch {
	case askOK && trade.Price.GreaterThanOrEqual(ask):
		return common.Buy, nil
	case bidOK && trade.Price.LessThanOrEqual(bid):
		return common.Sell, nil
	default:
		return common.Buy, fmt.Errorf("%w: trade price does not classify against known tops", common.ErrInvalidEnum)
	}
}

// CheckIntegrity asserts I1–I3. A non-nil error is a bug signal, not a
// runtime condition (spec.md §7 tier 3) — callers that must fail a
// simulation step hard should escalate it themselves.
func (b *OrderBook) CheckIntegrity() error {
	bid, bidOK := b.BestBidPrice()
	ask, askOK := b.BestAskPrice()
	if bidOK && askOK && !bid.LessThan(ask) {
		return &IntegrityError{Reason: fmt.Sprintf("crossed book: best_bid %s >= best_ask %s", bid, ask)}
	}

	switch b.Level {
	case L1:
		if b.Bids.Len() > 1 || b.Asks.Len() > 1 {
			return &IntegrityError{Reason: "L1 book holds more than one level on a side"}
		}
	case L2:
		for _, lvl := range append(b.Bids.Levels(), b.Asks.Levels()...) {
			if len(lvl.Orders) != 1 {
				return &IntegrityError{Reason: fmt.Sprintf("L2 level at %s holds %d orders, want 1", lvl.Price, len(lvl.Orders))}
			}
		}
	}
	return nil
}

// Snapshot captures the book's current state for the round-trip law
// in spec.md §8: ApplySnapshot(Snapshot()) reproduces the same book.
func (b *OrderBook) Snapshot() Snapshot {
	bids := b.Bids.Levels()
	asks := b.Asks.Levels()
	s := Snapshot{
		Bids:  make([]PriceVolume, len(bids)),
		Asks:  make([]PriceVolume, len(asks)),
		Level: b.Level,
		Ts:    b.LastUpdateTimestampNs,
	}
	for i, lvl := range bids {
		s.Bids[i] = PriceVolume{Price: lvl.Price, Volume: lvl.Volume()}
	}
	for i, lvl := range asks {
		s.Asks[i] = PriceVolume{Price: lvl.Price, Volume: lvl.Volume()}
	}
	return s
}
