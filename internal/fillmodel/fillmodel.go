// Package fillmodel decides, probabilistically but reproducibly,
// whether a resting limit order gets filled when the top trades at its
// price and how much an aggressive order slips. It is deliberately a
// leaf package: it knows nothing about book.OrderBook or
// matching.WorkingOrder so
// that internal/matching can depend on it without a cycle.
package fillmodel

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/shopspring/decimal"

	"tradecore/internal/common"
)

// ErrInvalidProbability is returned by New when a configured
// probability falls outside [0, 1].
var ErrInvalidProbability = errors.New("probability must be within [0, 1]")

// Config is the model's configuration, enumerated fully in spec.md
// §4.4: the probability a resting limit order at the top gets filled
// when the top trades at its price, the probability an aggressive
// order slips by one tick, and the seed for reproducibility.
type Config struct {
	ProbFillAtLimit float64
	ProbSlippage    float64
	RandomSeed      int64
}

func (c Config) validate() error {
	if c.ProbFillAtLimit < 0 || c.ProbFillAtLimit > 1 {
		return fmt.Errorf("%w: prob_fill_at_limit=%v", ErrInvalidProbability, c.ProbFillAtLimit)
	}
	if c.ProbSlippage < 0 || c.ProbSlippage > 1 {
		return fmt.Errorf("%w: prob_slippage=%v", ErrInvalidProbability, c.ProbSlippage)
	}
	return nil
}

// RestingOrder is the minimal shape IsLimitFilled/Slip need from a
// resting or incoming order: which side it's on and the price it
// cares about.
type RestingOrder struct {
	Side  common.Side
	Price decimal.Decimal
}

// MarketTop is the minimal shape of current market state the model
// consults: the price the top just traded at, and the instrument's
// tick size (the unit a slip moves by).
type MarketTop struct {
	TradePrice decimal.Decimal
	TickSize   decimal.Decimal
}

// Model wraps a seeded math/rand.Rand. Two models built from the same
// Config and driven with the same call sequence produce the same
// outputs — the determinism law spec.md §4.4 requires for reproducible
// backtests.
type Model struct {
	cfg Config
	rng *rand.Rand
}

// New validates cfg and constructs a Model seeded from cfg.RandomSeed.
func New(cfg Config) (*Model, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Model{cfg: cfg, rng: rand.New(rand.NewSource(cfg.RandomSeed))}, nil
}

// IsLimitFilled decides whether a resting limit order at order.Price
// gets filled, given the top just traded at top.TradePrice. A BUY
// limit is reached once the market trades at or below its price
// (symmetric for SELL, at or above); queue position at a shared price
// level is not modeled explicitly, so a reached trade fills with
// probability cfg.ProbFillAtLimit and an unreached one never fills.
func (m *Model) IsLimitFilled(order RestingOrder, top MarketTop) bool {
	var reached bool
	if order.Side == common.Buy {
		reached = top.TradePrice.LessThanOrEqual(order.Price)
	} else {
		reached = top.TradePrice.GreaterThanOrEqual(order.Price)
	}
	if !reached {
		return false
	}
	return m.rng.Float64() < m.cfg.ProbFillAtLimit
}

// Slip returns the adverse price adjustment applied to an aggressive
// order's fill: zero with probability (1 - cfg.ProbSlippage), else one
// tick against the order's side (BUY pays more, SELL receives less).
func (m *Model) Slip(order RestingOrder, top MarketTop) decimal.Decimal {
	if m.rng.Float64() >= m.cfg.ProbSlippage {
		return decimal.Zero
	}
	if order.Side == common.Buy {
		return top.TickSize
	}
	return top.TickSize.Neg()
}
