// Package common holds the value types shared across the book, matching,
// messaging and cache packages: sides, order kinds, lifecycle states and
// the fixed-point price/quantity helpers.
package common

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Side is which way an order or trade faces.
type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "BUY"
	}
	return "SELL"
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType enumerates the order kinds the matching engine understands.
type OrderType int

const (
	MarketOrder OrderType = iota
	LimitOrder
	StopMarketOrder
	StopLimitOrder
)

func (t OrderType) String() string {
	switch t {
	case MarketOrder:
		return "MARKET"
	case LimitOrder:
		return "LIMIT"
	case StopMarketOrder:
		return "STOP_MARKET"
	case StopLimitOrder:
		return "STOP_LIMIT"
	default:
		return "UNKNOWN"
	}
}

// TimeInForce controls how long a resting order remains workable.
type TimeInForce int

const (
	GTC TimeInForce = iota // Good-till-cancel
	GTD                    // Good-till-date: ExpireTime must be set
	IOC                    // Immediate-or-cancel
	FOK                    // Fill-or-kill
)

func (tif TimeInForce) String() string {
	switch tif {
	case GTC:
		return "GTC"
	case GTD:
		return "GTD"
	case IOC:
		return "IOC"
	case FOK:
		return "FOK"
	default:
		return "UNKNOWN"
	}
}

// OrderStatus is the working order's position in the state machine
// described in spec.md §4.3.
type OrderStatus int

const (
	Submitted OrderStatus = iota
	Accepted
	Triggered
	PartiallyFilled
	Filled
	Canceled
	Rejected
	Expired
)

func (s OrderStatus) String() string {
	switch s {
	case Submitted:
		return "SUBMITTED"
	case Accepted:
		return "ACCEPTED"
	case Triggered:
		return "TRIGGERED"
	case PartiallyFilled:
		return "PARTIALLY_FILLED"
	case Filled:
		return "FILLED"
	case Canceled:
		return "CANCELED"
	case Rejected:
		return "REJECTED"
	case Expired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether the status admits no further transitions.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case Filled, Canceled, Rejected, Expired:
		return true
	default:
		return false
	}
}

// QuantizePrice rounds d to precision decimal places. Used wherever an
// inbound price must honor the owning instrument's price precision (I2).
func QuantizePrice(d decimal.Decimal, precision int32) decimal.Decimal {
	return d.Round(precision)
}

// QuantizeSize rounds d to precision decimal places (I2, size side).
func QuantizeSize(d decimal.Decimal, precision int32) decimal.Decimal {
	return d.Round(precision)
}

// ValidatePrecision rejects negative precisions at construction time,
// per spec.md §4.1.
func ValidatePrecision(pricePrecision, sizePrecision int32) error {
	if pricePrecision < 0 {
		return fmt.Errorf("%w: price precision %d", ErrInvalidPrecision, pricePrecision)
	}
	if sizePrecision < 0 {
		return fmt.Errorf("%w: size precision %d", ErrInvalidPrecision, sizePrecision)
	}
	return nil
}
