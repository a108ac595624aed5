package matching

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/book"
	"tradecore/internal/common"
	"tradecore/internal/fillmodel"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func drainEvents(x *SimulatedExchange) []Event {
	var out []Event
	for {
		select {
		case e := <-x.Events():
			out = append(out, e)
		default:
			return out
		}
	}
}

func fillsOf(events []Event) []FillEvent {
	var out []FillEvent
	for _, e := range events {
		if f, ok := e.(FillEvent); ok {
			out = append(out, f)
		}
	}
	return out
}

func newExchange(t *testing.T, level book.BookLevel) *SimulatedExchange {
	t.Helper()
	fm, err := fillmodel.New(fillmodel.Config{ProbFillAtLimit: 1, ProbSlippage: 0, RandomSeed: 1})
	require.NoError(t, err)
	x, err := New(Config{
		Instruments: []InstrumentConfig{{
			InstrumentID:   "BTC-USD",
			Level:          level,
			PricePrecision: 2,
			SizePrecision:  0,
			TickSize:       dec("0.01"),
			Currency:       "USD",
		}},
		FillModel:      fm,
		CommissionRate: decimal.Zero,
	})
	require.NoError(t, err)
	return x
}

func TestAggressiveMarketSweep(t *testing.T) {
	x := newExchange(t, book.L3)
	x.AdjustAccount("USD", dec("100000"))
	drainEvents(x)

	require.NoError(t, x.ProcessOrderBook("BTC-USD", OrderBookData{Delta: &book.Delta{
		Type: book.Add, Order: book.Order{ID: "a1", Side: common.Sell, Price: dec("100"), Size: dec("2")}, Level: book.L3, Ts: 1,
	}}))
	require.NoError(t, x.ProcessOrderBook("BTC-USD", OrderBookData{Delta: &book.Delta{
		Type: book.Add, Order: book.Order{ID: "a2", Side: common.Sell, Price: dec("101"), Size: dec("3")}, Level: book.L3, Ts: 2,
	}}))
	drainEvents(x)

	ack := x.SubmitOrder(SubmitOrderRequest{
		ClientOrderID: "c1", InstrumentID: "BTC-USD", Side: common.Buy,
		Type: common.MarketOrder, Size: dec("4"),
	})
	require.True(t, ack.Accepted)

	fills := fillsOf(drainEvents(x))
	require.Len(t, fills, 2)
	assert.True(t, fills[0].Price.Equal(dec("100")))
	assert.True(t, fills[0].Quantity.Equal(dec("2")))
	assert.True(t, fills[1].Price.Equal(dec("101")))
	assert.True(t, fills[1].Quantity.Equal(dec("2")))

	askQty, ok := x.books["BTC-USD"].BestAskQty()
	require.True(t, ok)
	assert.True(t, askQty.Equal(dec("1")))
	askPrice, _ := x.books["BTC-USD"].BestAskPrice()
	assert.True(t, askPrice.Equal(dec("101")))
}

func TestAggressiveMarketSweep_AppliesSlippage(t *testing.T) {
	fm, err := fillmodel.New(fillmodel.Config{ProbFillAtLimit: 1, ProbSlippage: 1, RandomSeed: 1})
	require.NoError(t, err)
	x, err := New(Config{
		Instruments: []InstrumentConfig{{
			InstrumentID:   "BTC-USD",
			Level:          book.L3,
			PricePrecision: 2,
			SizePrecision:  0,
			TickSize:       dec("0.01"),
			Currency:       "USD",
		}},
		FillModel:      fm,
		CommissionRate: decimal.Zero,
	})
	require.NoError(t, err)
	x.AdjustAccount("USD", dec("100000"))
	drainEvents(x)

	require.NoError(t, x.ProcessOrderBook("BTC-USD", OrderBookData{Delta: &book.Delta{
		Type: book.Add, Order: book.Order{ID: "a1", Side: common.Sell, Price: dec("100"), Size: dec("2")}, Level: book.L3, Ts: 1,
	}}))
	drainEvents(x)

	ack := x.SubmitOrder(SubmitOrderRequest{
		ClientOrderID: "c1", InstrumentID: "BTC-USD", Side: common.Buy,
		Type: common.MarketOrder, Size: dec("1"),
	})
	require.True(t, ack.Accepted)

	fills := fillsOf(drainEvents(x))
	require.Len(t, fills, 1)
	// With ProbSlippage 1, a BUY always slips one tick worse (pays more)
	// than the level it traded against.
	assert.True(t, fills[0].Price.Equal(dec("100.01")), "got %s", fills[0].Price)
}

func TestOCOPair_TradeThroughCancelsSibling(t *testing.T) {
	x := newExchange(t, book.L1)

	sellLeg := SubmitOrderRequest{
		ClientOrderID: "sell-95", InstrumentID: "BTC-USD", Side: common.Sell,
		Type: common.LimitOrder, LimitPrice: dec("95"), Size: dec("1"),
	}
	buyStop := SubmitOrderRequest{
		ClientOrderID: "buy-stop-105", InstrumentID: "BTC-USD", Side: common.Buy,
		Type: common.StopMarketOrder, StopPrice: dec("105"), Size: dec("1"),
	}
	ackA, ackB := x.SubmitOCOOrder(SubmitOCOOrderRequest{A: sellLeg, B: buyStop})
	require.True(t, ackA.Accepted)
	require.True(t, ackB.Accepted)
	drainEvents(x)

	require.NoError(t, x.ProcessTick("BTC-USD", book.TradeTick{Price: dec("95"), Size: dec("1"), Side: common.Sell, HasSide: true, Ts: 1}))

	sellOrder := x.working["BTC-USD"]["sell-95"]
	buyOrder := x.working["BTC-USD"]["buy-stop-105"]
	assert.Equal(t, common.Filled, sellOrder.Status)
	assert.Equal(t, common.Canceled, buyOrder.Status)
}

func TestBracketLifecycle(t *testing.T) {
	x := newExchange(t, book.L3)
	x.AdjustAccount("USD", dec("100000"))
	drainEvents(x)

	require.NoError(t, x.ProcessOrderBook("BTC-USD", OrderBookData{Delta: &book.Delta{
		Type: book.Add, Order: book.Order{ID: "ask1", Side: common.Sell, Price: dec("100"), Size: dec("1")}, Level: book.L3, Ts: 1,
	}}))
	drainEvents(x)

	ack := x.SubmitBracketOrder(SubmitBracketOrderRequest{
		Entry: SubmitOrderRequest{
			ClientOrderID: "entry", InstrumentID: "BTC-USD", Side: common.Buy,
			Type: common.LimitOrder, LimitPrice: dec("100"), Size: dec("1"),
		},
		StopLoss: SubmitOrderRequest{
			ClientOrderID: "sl", InstrumentID: "BTC-USD", Side: common.Sell,
			StopPrice: dec("95"), Size: dec("1"),
		},
		TakeProfit: SubmitOrderRequest{
			ClientOrderID: "tp", InstrumentID: "BTC-USD", Side: common.Sell,
			LimitPrice: dec("110"), Size: dec("1"),
		},
	})
	require.True(t, ack.Accepted)
	drainEvents(x)

	entry := x.working["BTC-USD"]["entry"]
	sl := x.working["BTC-USD"]["sl"]
	tp := x.working["BTC-USD"]["tp"]
	require.Equal(t, common.Filled, entry.Status)
	require.Equal(t, common.Accepted, sl.Status)
	require.Equal(t, common.Accepted, tp.Status)

	require.NoError(t, x.ProcessOrderBook("BTC-USD", OrderBookData{Delta: &book.Delta{
		Type: book.Add, Order: book.Order{ID: "bid1", Side: common.Buy, Price: dec("110"), Size: dec("1")}, Level: book.L3, Ts: 2,
	}}))
	drainEvents(x)

	assert.Equal(t, common.Filled, tp.Status)
	assert.Equal(t, common.Canceled, sl.Status)

	pos := x.positions["BTC-USD"]
	require.NotNil(t, pos)
	assert.True(t, pos.Size.IsZero())
	assert.True(t, pos.RealizedPnL.Equal(dec("10")))
}

// TestBracketLifecycle_TakeProfitAlreadyCrossesAtSubmission guards
// against a take-profit child sweeping before its entry has ever
// filled: the TP sits at a price that already crosses the book, and a
// resting bid is present to sweep against, the moment the bracket is
// submitted — before activateBracketChildrenIfEntry has promoted it
// out of common.Submitted.
func TestBracketLifecycle_TakeProfitAlreadyCrossesAtSubmission(t *testing.T) {
	x := newExchange(t, book.L3)
	x.AdjustAccount("USD", dec("100000"))
	drainEvents(x)

	require.NoError(t, x.ProcessOrderBook("BTC-USD", OrderBookData{Delta: &book.Delta{
		Type: book.Add, Order: book.Order{ID: "ask1", Side: common.Sell, Price: dec("200"), Size: dec("1")}, Level: book.L3, Ts: 1,
	}}))
	drainEvents(x)
	require.NoError(t, x.ProcessOrderBook("BTC-USD", OrderBookData{Delta: &book.Delta{
		Type: book.Add, Order: book.Order{ID: "bid1", Side: common.Buy, Price: dec("110"), Size: dec("1")}, Level: book.L3, Ts: 2,
	}}))
	drainEvents(x)

	// Entry won't fill immediately (its limit is far below the ask), but
	// the take-profit leg (SELL @ 110) already crosses the resting bid
	// at 110 the instant it would become live.
	ack := x.SubmitBracketOrder(SubmitBracketOrderRequest{
		Entry: SubmitOrderRequest{
			ClientOrderID: "entry2", InstrumentID: "BTC-USD", Side: common.Buy,
			Type: common.LimitOrder, LimitPrice: dec("90"), Size: dec("1"),
		},
		StopLoss: SubmitOrderRequest{
			ClientOrderID: "sl2", InstrumentID: "BTC-USD", Side: common.Sell,
			StopPrice: dec("80"), Size: dec("1"),
		},
		TakeProfit: SubmitOrderRequest{
			ClientOrderID: "tp2", InstrumentID: "BTC-USD", Side: common.Sell,
			LimitPrice: dec("110"), Size: dec("1"),
		},
	})
	require.True(t, ack.Accepted)
	events := drainEvents(x)

	entry := x.working["BTC-USD"]["entry2"]
	tp := x.working["BTC-USD"]["tp2"]
	sl := x.working["BTC-USD"]["sl2"]
	require.Equal(t, common.Accepted, entry.Status)
	require.Equal(t, common.Submitted, tp.Status)
	require.Equal(t, common.Submitted, sl.Status)

	// No fill should have touched the still-pending TP, and the bid at
	// 110 must still be resting untouched.
	assert.Empty(t, fillsOf(events))
	bid, ok := x.books["BTC-USD"].BestBidPrice()
	require.True(t, ok)
	assert.True(t, bid.Equal(dec("110")))
}

func TestIDGenerator_MonotonicPerInstrumentAndResettable(t *testing.T) {
	g := NewIDGenerator()
	first := g.NextVenueOrderID("BTC-USD")
	second := g.NextVenueOrderID("BTC-USD")
	assert.NotEqual(t, first, second)

	otherInstrument := g.NextVenueOrderID("ETH-USD")
	assert.NotEqual(t, first, otherInstrument)

	g.Reset()
	afterReset := g.NextVenueOrderID("BTC-USD")
	assert.Equal(t, first, afterReset)
}

func TestSubmitOrder_RejectsInsufficientBalance(t *testing.T) {
	x := newExchange(t, book.L3)
	require.NoError(t, x.ProcessOrderBook("BTC-USD", OrderBookData{Delta: &book.Delta{
		Type: book.Add, Order: book.Order{ID: "ask1", Side: common.Sell, Price: dec("100"), Size: dec("10")}, Level: book.L3, Ts: 1,
	}}))
	drainEvents(x)

	ack := x.SubmitOrder(SubmitOrderRequest{
		ClientOrderID: "c1", InstrumentID: "BTC-USD", Side: common.Buy,
		Type: common.MarketOrder, Size: dec("1"),
	})
	assert.False(t, ack.Accepted)
	assert.Equal(t, common.ErrInsufficientBalance.Error(), ack.Reason)
}
