package fillmodel

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/common"
)

func TestNew_RejectsOutOfRangeProbabilities(t *testing.T) {
	_, err := New(Config{ProbFillAtLimit: 1.5, ProbSlippage: 0.1, RandomSeed: 1})
	assert.ErrorIs(t, err, ErrInvalidProbability)

	_, err = New(Config{ProbFillAtLimit: 0.1, ProbSlippage: -0.1, RandomSeed: 1})
	assert.ErrorIs(t, err, ErrInvalidProbability)
}

func TestIsLimitFilled_NeverFillsWhenTradeDoesNotReach(t *testing.T) {
	m, err := New(Config{ProbFillAtLimit: 1, ProbSlippage: 0, RandomSeed: 7})
	require.NoError(t, err)

	// A BUY limit resting at 100 is only reached once the market trades
	// down to (or through) 100; a print above that hasn't gotten there.
	order := RestingOrder{Side: common.Buy, Price: decimal.NewFromInt(100)}
	top := MarketTop{TradePrice: decimal.NewFromInt(101)}

	assert.False(t, m.IsLimitFilled(order, top))
}

func TestIsLimitFilled_AlwaysFillsAtProbabilityOne(t *testing.T) {
	m, err := New(Config{ProbFillAtLimit: 1, ProbSlippage: 0, RandomSeed: 7})
	require.NoError(t, err)

	order := RestingOrder{Side: common.Buy, Price: decimal.NewFromInt(100)}
	top := MarketTop{TradePrice: decimal.NewFromInt(100)}

	for i := 0; i < 20; i++ {
		assert.True(t, m.IsLimitFilled(order, top))
	}
}

func TestSlip_DeterministicGivenSameSeedAndCallSequence(t *testing.T) {
	cfg := Config{ProbFillAtLimit: 0.5, ProbSlippage: 0.5, RandomSeed: 42}
	m1, err := New(cfg)
	require.NoError(t, err)
	m2, err := New(cfg)
	require.NoError(t, err)

	order := RestingOrder{Side: common.Buy, Price: decimal.NewFromInt(100)}
	top := MarketTop{TradePrice: decimal.NewFromInt(100), TickSize: decimal.NewFromFloat(0.01)}

	for i := 0; i < 50; i++ {
		assert.True(t, m1.Slip(order, top).Equal(m2.Slip(order, top)))
		assert.True(t, m1.IsLimitFilled(order, top) == m2.IsLimitFilled(order, top))
	}
}

func TestSlip_DirectionIsAdverseToSide(t *testing.T) {
	m, err := New(Config{ProbFillAtLimit: 0, ProbSlippage: 1, RandomSeed: 3})
	require.NoError(t, err)

	top := MarketTop{TradePrice: decimal.NewFromInt(100), TickSize: decimal.NewFromFloat(0.01)}

	buySlip := m.Slip(RestingOrder{Side: common.Buy, Price: decimal.NewFromInt(100)}, top)
	assert.True(t, buySlip.Equal(decimal.NewFromFloat(0.01)))

	sellSlip := m.Slip(RestingOrder{Side: common.Sell, Price: decimal.NewFromInt(100)}, top)
	assert.True(t, sellSlip.Equal(decimal.NewFromFloat(-0.01)))
}
