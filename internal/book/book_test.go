package book

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/common"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestEmptyBook_TopsAreNone(t *testing.T) {
	b, err := NewOrderBook("BTC-USD", L2, 2, 6)
	require.NoError(t, err)

	_, ok := b.BestBidPrice()
	assert.False(t, ok)
	_, ok = b.Spread()
	assert.False(t, ok)
}

func TestL2_UpdateIsReplace(t *testing.T) {
	b, err := NewOrderBook("BTC-USD", L2, 2, 6)
	require.NoError(t, err)

	require.NoError(t, b.Add(&Order{Side: common.Buy, Price: dec("100.00"), Size: dec("5")}))
	require.NoError(t, b.Update(&Order{Side: common.Buy, Price: dec("100.00"), Size: dec("7")}))

	assert.Equal(t, 1, b.Bids.Len())
	qty, ok := b.BestBidQty()
	require.True(t, ok)
	assert.True(t, dec("7").Equal(qty))
}

func TestL1_CrossedFeedAbsorption(t *testing.T) {
	b, err := NewOrderBook("BTC-USD", L1, 2, 6)
	require.NoError(t, err)

	require.NoError(t, b.Update(&Order{Side: common.Buy, Price: dec("101"), Size: dec("1")}))
	require.NoError(t, b.Update(&Order{Side: common.Sell, Price: dec("100"), Size: dec("1")}))

	assert.Equal(t, 0, b.Asks.Len(), "crossing ask update should clear the ask side, not rest at a crossed price")

	require.NoError(t, b.Update(&Order{Side: common.Sell, Price: dec("103"), Size: dec("2")}))
	ask, ok := b.BestAskPrice()
	require.True(t, ok)
	assert.True(t, dec("103").Equal(ask))
}

func TestL1_AddAndDeleteUnsupported(t *testing.T) {
	b, err := NewOrderBook("BTC-USD", L1, 2, 6)
	require.NoError(t, err)

	err = b.Add(&Order{Side: common.Buy, Price: dec("100"), Size: dec("1")})
	assert.ErrorIs(t, err, common.ErrUnsupportedOnBook)

	err = b.Delete(&Order{Side: common.Buy, Price: dec("100"), Size: dec("1")})
	assert.ErrorIs(t, err, common.ErrUnsupportedOnBook)
}

func TestL1_TradeTick_SnapsOppositeSide(t *testing.T) {
	b, err := NewOrderBook("BTC-USD", L1, 2, 6)
	require.NoError(t, err)

	require.NoError(t, b.Update(&Order{Side: common.Buy, Price: dec("100"), Size: dec("1")}))
	require.NoError(t, b.Update(&Order{Side: common.Sell, Price: dec("101"), Size: dec("1")}))

	err = b.UpdateTop(TradeTick{Price: dec("102"), Size: dec("1"), Side: common.Buy, HasSide: true})
	require.NoError(t, err)

	ask, ok := b.BestAskPrice()
	require.True(t, ok)
	assert.True(t, dec("102").Equal(ask), "opposite (ask) side should snap to the aggressor price, not merely compare against it")
}

func TestAggressiveMarketSweep_RestingAskRemainder(t *testing.T) {
	b, err := NewOrderBook("BTC-USD", L3, 2, 6)
	require.NoError(t, err)

	require.NoError(t, b.Add(&Order{ID: "a1", Side: common.Sell, Price: dec("100"), Size: dec("2")}))
	require.NoError(t, b.Add(&Order{ID: "a2", Side: common.Sell, Price: dec("101"), Size: dec("3")}))

	require.NoError(t, b.Delete(&Order{ID: "a1", Side: common.Sell}))
	require.NoError(t, b.Delete(&Order{ID: "a2", Side: common.Sell}))
	require.NoError(t, b.Add(&Order{ID: "a2", Side: common.Sell, Price: dec("101"), Size: dec("1")}))

	qty, ok := b.BestAskQty()
	require.True(t, ok)
	assert.True(t, dec("1").Equal(qty))

	top, ok := b.Asks.Top()
	require.True(t, ok)
	assert.True(t, dec("101").Equal(top.Price))
}

func TestSnapshotRoundTrip_L2(t *testing.T) {
	b, err := NewOrderBook("BTC-USD", L2, 2, 6)
	require.NoError(t, err)

	require.NoError(t, b.Add(&Order{Side: common.Buy, Price: dec("100"), Size: dec("5")}))
	require.NoError(t, b.Add(&Order{Side: common.Buy, Price: dec("99"), Size: dec("3")}))
	require.NoError(t, b.Add(&Order{Side: common.Sell, Price: dec("101"), Size: dec("4")}))

	snap := b.Snapshot()

	fresh, err := NewOrderBook("BTC-USD", L2, 2, 6)
	require.NoError(t, err)
	require.NoError(t, fresh.ApplySnapshot(snap))

	assert.Equal(t, snap, fresh.Snapshot())
}

func TestIdempotentClear(t *testing.T) {
	b, err := NewOrderBook("BTC-USD", L3, 2, 6)
	require.NoError(t, err)
	require.NoError(t, b.Add(&Order{ID: "o1", Side: common.Buy, Price: dec("100"), Size: dec("1")}))

	b.Clear()
	b.Clear()

	assert.Equal(t, 0, b.Bids.Len())
	assert.Equal(t, 0, b.Asks.Len())
}

func TestApplyDelta_LevelMismatchRejected(t *testing.T) {
	b, err := NewOrderBook("BTC-USD", L2, 2, 6)
	require.NoError(t, err)

	err = b.ApplyDelta(Delta{Type: Add, Order: Order{Side: common.Buy, Price: dec("100"), Size: dec("1")}, Level: L3})
	assert.ErrorIs(t, err, common.ErrLevelMismatch)
}

func TestApplyDeltas_ComposesSequentially(t *testing.T) {
	b, err := NewOrderBook("BTC-USD", L2, 2, 6)
	require.NoError(t, err)

	ds := Deltas{
		Level: L2,
		List: []Delta{
			{Type: Add, Order: Order{Side: common.Buy, Price: dec("100"), Size: dec("5")}},
			{Type: Update, Order: Order{Side: common.Buy, Price: dec("100"), Size: dec("7")}},
			{Type: Add, Order: Order{Side: common.Sell, Price: dec("102"), Size: dec("2")}},
		},
		Ts: 42,
	}
	require.NoError(t, b.ApplyDeltas(ds))

	qty, ok := b.BestBidQty()
	require.True(t, ok)
	assert.True(t, dec("7").Equal(qty))
	assert.EqualValues(t, 42, b.LastUpdateTimestampNs)
}

func TestCheckIntegrity_CrossedBookDetected(t *testing.T) {
	b, err := NewOrderBook("BTC-USD", L3, 2, 6)
	require.NoError(t, err)
	require.NoError(t, b.Add(&Order{ID: "bid", Side: common.Buy, Price: dec("101"), Size: dec("1")}))
	require.NoError(t, b.Add(&Order{ID: "ask", Side: common.Sell, Price: dec("100"), Size: dec("1")}))

	var integrityErr *IntegrityError
	assert.ErrorAs(t, b.CheckIntegrity(), &integrityErr)
}

func TestCheckIntegrity_L2RejectsMultiOrderLevel(t *testing.T) {
	b, err := NewOrderBook("BTC-USD", L2, 2, 6)
	require.NoError(t, err)
	require.NoError(t, b.Add(&Order{Side: common.Buy, Price: dec("100"), Size: dec("1")}))
	// Force a second order onto the same level directly on the ladder,
	// bypassing the upsert path, to simulate a corrupted state.
	require.NoError(t, b.Bids.Add(&Order{ID: "extra", Side: common.Buy, Price: dec("100"), Size: dec("1")}))

	var integrityErr *IntegrityError
	assert.ErrorAs(t, b.CheckIntegrity(), &integrityErr)
}

func TestTradeSide_Classification(t *testing.T) {
	b, err := NewOrderBook("BTC-USD", L3, 2, 6)
	require.NoError(t, err)
	require.NoError(t, b.Add(&Order{ID: "bid", Side: common.Buy, Price: dec("100"), Size: dec("1")}))
	require.NoError(t, b.Add(&Order{ID: "ask", Side: common.Sell, Price: dec("101"), Size: dec("1")}))

	side, err := b.TradeSide(TradeTick{Price: dec("101")})
	require.NoError(t, err)
	assert.Equal(t, common.Buy, side)

	side, err = b.TradeSide(TradeTick{Price: dec("100")})
	require.NoError(t, err)
	assert.Equal(t, common.Sell, side)
}

func TestLadder_PricesStrictlyOrdered(t *testing.T) {
	bids := NewLadder(true)
	require.NoError(t, bids.Add(&Order{ID: "1", Price: dec("100")}))
	require.NoError(t, bids.Add(&Order{ID: "2", Price: dec("102")}))
	require.NoError(t, bids.Add(&Order{ID: "3", Price: dec("101")}))

	prices := bids.Prices()
	require.Len(t, prices, 3)
	assert.Equal(t, []string{"102", "101", "100"}, prices)
}
