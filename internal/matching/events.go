package matching

import "github.com/shopspring/decimal"

// Event is anything the exchange produces: each inbound command returns
// exactly one ack synchronously to its caller, and zero or more further
// events go onto the event channel as the matching cycle progresses
// (spec.md §4.3).
type Event interface {
	isEvent()
}

// AckEvent is the synchronous reply to a command: accepted or
// rejected, never both.
type AckEvent struct {
	ClientOrderID string
	VenueOrderID  string
	Accepted      bool
	Reason        string
}

func (AckEvent) isEvent() {}

// FillEvent reports one execution slice against a working order.
type FillEvent struct {
	ClientOrderID string
	VenueOrderID  string
	ExecutionID   string
	InstrumentID  string
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	Commission    decimal.Decimal
	CommissionCcy string
	IsMaker       bool
}

func (FillEvent) isEvent() {}

// OrderStatusEvent reports a state-machine transition that is not a
// fill: accepted, triggered, canceled, rejected, expired, or a reject
// of an update/cancel command naming the response and reason.
type OrderStatusEvent struct {
	ClientOrderID string
	VenueOrderID  string
	Status        string
	Reason        string
}

func (OrderStatusEvent) isEvent() {}

// PositionEvent reports a position's state after a fill touched it.
type PositionEvent struct {
	InstrumentID string
	Size         decimal.Decimal
	AvgPrice     decimal.Decimal
	RealizedPnL  decimal.Decimal
}

func (PositionEvent) isEvent() {}

// AccountStateEvent carries total/free/locked per currency, emitted
// after any balance-changing fill or explicit AdjustAccount — even in
// frozen-account mode, where mutations are suppressed but the derived
// event is still emitted for observability (spec.md §4.3).
type AccountStateEvent struct {
	Currency string
	Total    decimal.Decimal
	Free     decimal.Decimal
	Locked   decimal.Decimal
}

func (AccountStateEvent) isEvent() {}
