package matching

import (
	"fmt"

	"github.com/shopspring/decimal"

	"tradecore/internal/book"
	"tradecore/internal/common"
)

// SubmitOrderRequest is the inbound shape of SubmitOrder. Only the
// fields relevant to Type are consulted: LimitPrice for LIMIT/STOP_LIMIT,
// StopPrice for STOP_MARKET/STOP_LIMIT.
type SubmitOrderRequest struct {
	ClientOrderID string
	InstrumentID  string
	Side          common.Side
	Type          common.OrderType
	TimeInForce   common.TimeInForce
	LimitPrice    decimal.Decimal
	StopPrice     decimal.Decimal
	Size          decimal.Decimal
	PostOnly      bool
	ReduceOnly    bool
	ExpireTimeNs  int64
}

// SubmitBracketOrderRequest groups an entry order with its stop-loss
// and take-profit siblings, activated together per spec.md §4.3.
type SubmitBracketOrderRequest struct {
	Entry      SubmitOrderRequest
	StopLoss   SubmitOrderRequest
	TakeProfit SubmitOrderRequest
}

// UpdateOrderRequest carries the fields to replace on an existing
// working order; nil fields are left unchanged.
type UpdateOrderRequest struct {
	ClientOrderID string
	NewLimitPrice *decimal.Decimal
	NewSize       *decimal.Decimal
}

// CancelOrderRequest names the order to cancel.
type CancelOrderRequest struct {
	ClientOrderID string
}

func reject(clientOrderID string, reason error) AckEvent {
	return AckEvent{ClientOrderID: clientOrderID, Accepted: false, Reason: reason.Error()}
}

func accept(clientOrderID, venueOrderID string) AckEvent {
	return AckEvent{ClientOrderID: clientOrderID, VenueOrderID: venueOrderID, Accepted: true}
}

// validateNew checks the rejection conditions spec.md §4.3 names for a
// new order: instrument known, quantization honored, post-only/reduce-
// only consistency, and a sufficient free balance for a BUY's notional.
func (x *SimulatedExchange) validateNew(req SubmitOrderRequest) error {
	ic, ok := x.instruments[req.InstrumentID]
	if !ok {
		return fmt.Errorf("unknown instrument %s", req.InstrumentID)
	}
	if req.Size.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("size must be positive")
	}
	quantSize := common.QuantizeSize(req.Size, ic.SizePrecision)
	if !quantSize.Equal(req.Size) {
		return fmt.Errorf("size %s not quantized to %d decimals", req.Size, ic.SizePrecision)
	}
	if req.Type == common.LimitOrder || req.Type == common.StopLimitOrder {
		quantPrice := common.QuantizePrice(req.LimitPrice, ic.PricePrecision)
		if !quantPrice.Equal(req.LimitPrice) {
			return fmt.Errorf("price %s not quantized to %d decimals", req.LimitPrice, ic.PricePrecision)
		}
	}

	if req.PostOnly && req.Type == common.LimitOrder {
		if crosses(req.Side, req.LimitPrice, x.books[req.InstrumentID]) {
			return common.ErrPostOnlyWouldMatch
		}
	}

	if req.ReduceOnly {
		pos := x.positions[req.InstrumentID]
		if pos == nil || pos.IsFlat() {
			return common.ErrReduceOnlyWouldOpen
		}
		opening := (pos.Size.IsPositive() && req.Side == common.Buy) || (pos.Size.IsNegative() && req.Side == common.Sell)
		if opening {
			return common.ErrReduceOnlyWouldOpen
		}
	}

	notional := req.Size.Mul(referencePrice(req, x.books[req.InstrumentID]))
	if req.Side == common.Buy {
		acct := x.accountFor(ic.Currency)
		if acct.Free.LessThan(notional) {
			return common.ErrInsufficientBalance
		}
	}
	return nil
}

// crosses reports whether a limit at price would be marketable
// immediately against the current book.
func crosses(side common.Side, price decimal.Decimal, b *book.OrderBook) bool {
	if side == common.Buy {
		ask, ok := b.BestAskPrice()
		return ok && price.GreaterThanOrEqual(ask)
	}
	bid, ok := b.BestBidPrice()
	return ok && price.LessThanOrEqual(bid)
}

// referencePrice picks the price used to estimate notional for balance
// checks: the order's own limit price if it has one, else the book's
// current best price on the side it would take liquidity from.
func referencePrice(req SubmitOrderRequest, b *book.OrderBook) decimal.Decimal {
	if req.Type == common.LimitOrder || req.Type == common.StopLimitOrder {
		return req.LimitPrice
	}
	if b == nil {
		return decimal.Zero
	}
	if req.Side == common.Buy {
		if p, ok := b.BestAskPrice(); ok {
			return p
		}
	} else {
		if p, ok := b.BestBidPrice(); ok {
			return p
		}
	}
	return decimal.Zero
}

// SubmitOrder validates and, if accepted, registers a new working
// order, immediately attempting a match in the same cycle.
func (x *SimulatedExchange) SubmitOrder(req SubmitOrderRequest) AckEvent {
	if err := x.validateNew(req); err != nil {
		return reject(req.ClientOrderID, err)
	}

	venueID := x.ids.NextVenueOrderID(req.InstrumentID)
	w := &WorkingOrder{
		ClientOrderID: req.ClientOrderID,
		VenueOrderID:  venueID,
		InstrumentID:  req.InstrumentID,
		Side:          req.Side,
		Type:          req.Type,
		TimeInForce:   req.TimeInForce,
		LimitPrice:    req.LimitPrice,
		StopPrice:     req.StopPrice,
		Size:          req.Size,
		Status:        common.Accepted,
		PostOnly:      req.PostOnly,
		ReduceOnly:    req.ReduceOnly,
		ExpireTimeNs:  req.ExpireTimeNs,
		SubmittedTs:   x.lastTs,
	}
	x.working[req.InstrumentID][req.ClientOrderID] = w
	x.iterateMatching(req.InstrumentID)
	return accept(req.ClientOrderID, venueID)
}

// SubmitBracketOrder submits the entry order; the stop-loss and
// take-profit siblings are registered as pending (not yet working)
// until the entry fills, per spec.md §4.3.
func (x *SimulatedExchange) SubmitBracketOrder(req SubmitBracketOrderRequest) AckEvent {
	ack := x.SubmitOrder(req.Entry)
	if !ack.Accepted {
		return ack
	}
	entry := x.working[req.Entry.InstrumentID][req.Entry.ClientOrderID]
	entry.BracketRole = BracketEntry

	sl := req.StopLoss
	sl.Type = common.StopMarketOrder
	tp := req.TakeProfit
	tp.Type = common.LimitOrder

	x.bracketChild[entry.ClientOrderID] = []string{sl.ClientOrderID, tp.ClientOrderID}
	x.bracketParent[sl.ClientOrderID] = entry.ClientOrderID
	x.bracketParent[tp.ClientOrderID] = entry.ClientOrderID

	// Siblings are recorded as pending working orders in REJECTED-like
	// limbo (status Submitted, not yet registered on the book) until
	// activateBracketChildrenIfEntry promotes them on entry fill.
	x.working[req.Entry.InstrumentID][sl.ClientOrderID] = &WorkingOrder{
		ClientOrderID: sl.ClientOrderID, InstrumentID: sl.InstrumentID, Side: sl.Side,
		Type: sl.Type, TimeInForce: sl.TimeInForce, StopPrice: sl.StopPrice, Size: sl.Size,
		Status: common.Submitted, BracketParentID: entry.ClientOrderID, BracketRole: BracketStopLoss,
	}
	x.working[req.Entry.InstrumentID][tp.ClientOrderID] = &WorkingOrder{
		ClientOrderID: tp.ClientOrderID, InstrumentID: tp.InstrumentID, Side: tp.Side,
		Type: tp.Type, TimeInForce: tp.TimeInForce, LimitPrice: tp.LimitPrice, Size: tp.Size,
		Status: common.Submitted, BracketParentID: entry.ClientOrderID, BracketRole: BracketTakeProfit,
	}

	// The stop-loss and take-profit also cancel one another on fill,
	// same as an OCO pair.
	linkID := entry.ClientOrderID + "-bracket-exit"
	x.ocoLink[sl.ClientOrderID] = linkID
	x.ocoLink[tp.ClientOrderID] = linkID
	x.ocoMembers[linkID] = []string{sl.ClientOrderID, tp.ClientOrderID}

	// An entry that already filled during SubmitOrder's matching pass did
	// so before its children existed; promote them now.
	if entry.Status == common.Filled {
		x.activateBracketChildrenIfEntry(entry)
	}

	return ack
}

// SubmitOCOOrderRequest pairs two independently-submitted orders so
// that a fill on either cancels the other (spec.md §8 scenario 5).
type SubmitOCOOrderRequest struct {
	A SubmitOrderRequest
	B SubmitOrderRequest
}

// SubmitOCOOrder submits both legs and links them by a shared OCO id.
// Each leg gets its own ack; a leg rejected at submission is simply not
// linked (there is nothing live to cancel it).
func (x *SimulatedExchange) SubmitOCOOrder(req SubmitOCOOrderRequest) (AckEvent, AckEvent) {
	ackA := x.SubmitOrder(req.A)
	ackB := x.SubmitOrder(req.B)
	if ackA.Accepted && ackB.Accepted {
		linkID := req.A.ClientOrderID + "-oco-" + req.B.ClientOrderID
		x.ocoLink[req.A.ClientOrderID] = linkID
		x.ocoLink[req.B.ClientOrderID] = linkID
		x.ocoMembers[linkID] = []string{req.A.ClientOrderID, req.B.ClientOrderID}
	}
	return ackA, ackB
}

// UpdateOrder replaces price and/or size on a still-working order.
// Unknown client_order_id is a non-fatal rejection (spec.md §4.3).
func (x *SimulatedExchange) UpdateOrder(req UpdateOrderRequest) OrderStatusEvent {
	for _, orders := range x.working {
		w, ok := orders[req.ClientOrderID]
		if !ok || !w.IsWorking() {
			continue
		}
		if req.NewLimitPrice != nil {
			w.LimitPrice = *req.NewLimitPrice
		}
		if req.NewSize != nil {
			w.Size = *req.NewSize
		}
		x.iterateMatching(w.InstrumentID)
		return OrderStatusEvent{ClientOrderID: req.ClientOrderID, VenueOrderID: w.VenueOrderID, Status: "updated"}
	}
	return OrderStatusEvent{ClientOrderID: req.ClientOrderID, Status: "reject_update", Reason: common.ErrUnknownOrder.Error()}
}

// CancelOrder cancels a working order. OCO siblings are left untouched
// (only a fill cancels them); canceling a bracket entry also cancels
// its pending stop-loss and take-profit children.
func (x *SimulatedExchange) CancelOrder(req CancelOrderRequest) OrderStatusEvent {
	for _, orders := range x.working {
		w, ok := orders[req.ClientOrderID]
		if !ok || !w.IsWorking() {
			continue
		}
		w.Status = common.Canceled
		x.cancelBracketChildrenIfParent(w.ClientOrderID)
		return OrderStatusEvent{ClientOrderID: req.ClientOrderID, VenueOrderID: w.VenueOrderID, Status: "canceled"}
	}
	return OrderStatusEvent{ClientOrderID: req.ClientOrderID, Status: "reject_cancel", Reason: common.ErrUnknownOrder.Error()}
}

func (x *SimulatedExchange) cancelBracketChildrenIfParent(parentID string) {
	children, ok := x.bracketChild[parentID]
	if !ok {
		return
	}
	for _, childID := range children {
		for _, orders := range x.working {
			if w, ok := orders[childID]; ok && w.IsWorking() {
				w.Status = common.Canceled
			}
		}
	}
}
