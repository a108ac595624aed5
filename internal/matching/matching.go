package matching

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"tradecore/internal/book"
	"tradecore/internal/common"
	"tradecore/internal/fillmodel"
)

// OrderBookData is the tagged union of inbound market-data shapes
// ProcessOrderBook accepts: exactly one of Snapshot/Deltas/Delta is set
// (spec.md §3 "OrderBookData").
type OrderBookData struct {
	Snapshot *book.Snapshot
	Deltas   *book.Deltas
	Delta    *book.Delta
}

// ProcessOrderBook ingests market-data for instrumentID, advances the
// timestamp, runs simulation modules, and iterates the matching engine
// (spec.md §4.3 steps 1-3).
func (x *SimulatedExchange) ProcessOrderBook(instrumentID string, data OrderBookData) (err error) {
	b, ok := x.books[instrumentID]
	if !ok {
		return fmt.Errorf("unknown instrument %s", instrumentID)
	}
	defer x.recoverIntegrityViolation(instrumentID, &err)

	var ts int64
	switch {
	case data.Snapshot != nil:
		err = b.ApplySnapshot(*data.Snapshot)
		ts = data.Snapshot.Ts
	case data.Deltas != nil:
		err = b.ApplyDeltas(*data.Deltas)
		ts = data.Deltas.Ts
	case data.Delta != nil:
		err = b.ApplyDelta(*data.Delta)
		ts = data.Delta.Ts
	default:
		return fmt.Errorf("order book data for %s carries no payload", instrumentID)
	}
	if err != nil {
		return err
	}

	x.lastTs = ts
	x.runModules(instrumentID)
	x.iterateMatching(instrumentID)
	x.checkIntegrityOrPanic(instrumentID)
	return nil
}

// checkIntegrityOrPanic escalates a structural invariant violation
// (I1-I3) into a panic, recovered only at this package's outermost
// boundary (ProcessOrderBook/ProcessTick) so a corrupted book on one
// instrument does not take down the whole process (spec.md §7 tier 3).
func (x *SimulatedExchange) checkIntegrityOrPanic(instrumentID string) {
	if err := x.books[instrumentID].CheckIntegrity(); err != nil {
		panic(err)
	}
}

func (x *SimulatedExchange) recoverIntegrityViolation(instrumentID string, err *error) {
	if r := recover(); r != nil {
		integrityErr, ok := r.(*book.IntegrityError)
		if !ok {
			panic(r)
		}
		log.Error().Str("instrument", instrumentID).Err(integrityErr).Msg("book integrity violation, instrument halted")
		*err = integrityErr
	}
}

// ProcessTick ingests a single trade print: on an L1 book it also
// folds into the top via UpdateTop, then runs passive-fill checks
// against every resting limit before iterating the matching engine.
func (x *SimulatedExchange) ProcessTick(instrumentID string, trade book.TradeTick) (err error) {
	b, ok := x.books[instrumentID]
	if !ok {
		return fmt.Errorf("unknown instrument %s", instrumentID)
	}
	defer x.recoverIntegrityViolation(instrumentID, &err)

	if b.Level == book.L1 {
		if err := b.UpdateTop(trade); err != nil {
			return err
		}
	}

	x.lastTs = trade.Ts
	x.runModules(instrumentID)
	x.handlePassiveFills(instrumentID, trade)
	x.iterateMatching(instrumentID)
	x.checkIntegrityOrPanic(instrumentID)
	return nil
}

func (x *SimulatedExchange) runModules(instrumentID string) {
	for _, m := range x.modules {
		for _, e := range m.Run(x, instrumentID, x.lastTs) {
			x.emit(e)
		}
	}
}

// handlePassiveFills applies the fill model to every resting limit
// order (or triggered stop-limit) the trade print reached but that
// isn't already marketable — marketable orders are swept in
// iterateMatching instead (spec.md §4.3 step 3, "Limit matched").
func (x *SimulatedExchange) handlePassiveFills(instrumentID string, trade book.TradeTick) {
	ic := x.instruments[instrumentID]
	b := x.books[instrumentID]
	for _, w := range x.working[instrumentID] {
		if !w.IsWorking() {
			continue
		}
		if w.Type != common.LimitOrder && !(w.Type == common.StopLimitOrder && (w.Status == common.Triggered || w.Status == common.PartiallyFilled)) {
			continue
		}
		if w.Type == common.LimitOrder && w.Status == common.Submitted {
			continue
		}
		if crosses(w.Side, w.LimitPrice, b) {
			continue
		}
		if x.fillModel == nil {
			continue
		}
		resting := fillmodel.RestingOrder{Side: w.Side, Price: w.LimitPrice}
		top := fillmodel.MarketTop{TradePrice: trade.Price, TickSize: ic.TickSize}
		if x.fillModel.IsLimitFilled(resting, top) {
			x.applyFill(w, w.LimitPrice, w.Remaining(), true)
		}
	}
}

// iterateMatching runs one pass of the matching cycle for an
// instrument: classify every working order (marketable, triggered, or
// resting) and sweep what can trade now, then run the expiration pass
// (spec.md §4.3 steps 3 and 6).
func (x *SimulatedExchange) iterateMatching(instrumentID string) {
	b := x.books[instrumentID]
	orders := make([]*WorkingOrder, 0, len(x.working[instrumentID]))
	for _, w := range x.working[instrumentID] {
		orders = append(orders, w)
	}

	for _, w := range orders {
		if !w.IsWorking() {
			continue
		}
		switch w.Type {
		case common.MarketOrder:
			if w.Status != common.Submitted {
				x.matchAggressive(w)
			}
		case common.LimitOrder:
			if w.Status != common.Submitted && crosses(w.Side, w.LimitPrice, b) {
				x.matchAggressive(w)
			}
		case common.StopMarketOrder:
			if w.Status == common.Accepted && x.stopTriggered(w, b) {
				w.Status = common.Triggered
				x.emit(OrderStatusEvent{ClientOrderID: w.ClientOrderID, VenueOrderID: w.VenueOrderID, Status: "triggered"})
			}
			if w.Status == common.Triggered || w.Status == common.PartiallyFilled {
				x.matchAggressive(w)
			}
		case common.StopLimitOrder:
			if w.Status == common.Accepted && x.stopTriggered(w, b) {
				w.Status = common.Triggered
				x.emit(OrderStatusEvent{ClientOrderID: w.ClientOrderID, VenueOrderID: w.VenueOrderID, Status: "triggered"})
			}
			if (w.Status == common.Triggered || w.Status == common.PartiallyFilled) && crosses(w.Side, w.LimitPrice, b) {
				x.matchAggressive(w)
			}
		}
	}

	x.runExpirationPass(instrumentID)
}

func (x *SimulatedExchange) stopTriggered(w *WorkingOrder, b *book.OrderBook) bool {
	if w.Side == common.Buy {
		ask, ok := b.BestAskPrice()
		return ok && ask.GreaterThanOrEqual(w.StopPrice)
	}
	bid, ok := b.BestBidPrice()
	return ok && bid.LessThanOrEqual(w.StopPrice)
}

// matchAggressive sweeps the opposite ladder top-down, consuming
// resting depth until w is filled or the book is exhausted (spec.md
// §4.3 step 4), grounded on the teacher's handleMarket sweep loop.
func (x *SimulatedExchange) matchAggressive(w *WorkingOrder) {
	b := x.books[w.InstrumentID]
	ic := x.instruments[w.InstrumentID]
	ladder := b.Asks
	if w.Side == common.Sell {
		ladder = b.Bids
	}

	for w.IsWorking() && w.Remaining().IsPositive() {
		top, ok := ladder.Top()
		if !ok || len(top.Orders) == 0 {
			break
		}
		resting := top.Orders[0]
		fillQty := decimal.Min(w.Remaining(), resting.Size)
		levelPrice := top.Price
		fillPrice := levelPrice
		if x.fillModel != nil {
			slip := x.fillModel.Slip(
				fillmodel.RestingOrder{Side: w.Side, Price: levelPrice},
				fillmodel.MarketTop{TradePrice: levelPrice, TickSize: ic.TickSize},
			)
			fillPrice = fillPrice.Add(slip)
		}

		x.applyFill(w, fillPrice, fillQty, false)

		remaining := resting.Size.Sub(fillQty)
		if remaining.IsZero() {
			_ = ladder.Delete(&book.Order{ID: resting.ID})
		} else {
			_ = ladder.Update(&book.Order{ID: resting.ID, Price: levelPrice, Size: remaining})
		}
	}
}

func (x *SimulatedExchange) runExpirationPass(instrumentID string) {
	for _, w := range x.working[instrumentID] {
		if !w.IsWorking() {
			continue
		}
		if w.TimeInForce == common.GTD && w.ExpireTimeNs > 0 && x.lastTs >= w.ExpireTimeNs {
			w.Status = common.Expired
			x.emit(OrderStatusEvent{ClientOrderID: w.ClientOrderID, VenueOrderID: w.VenueOrderID, Status: "expired"})
		}
	}
}

// applyFill records one execution slice: emits the fill, updates the
// position and account, and — on terminal fill — cancels OCO siblings
// and activates bracket children (spec.md §4.3 step 5).
func (x *SimulatedExchange) applyFill(w *WorkingOrder, price, qty decimal.Decimal, isMaker bool) {
	w.FilledSize = w.FilledSize.Add(qty)
	ic := x.instruments[w.InstrumentID]
	commission := price.Mul(qty).Mul(x.commissionRate)
	execID := x.ids.NextExecutionID(w.InstrumentID)

	x.emit(FillEvent{
		ClientOrderID: w.ClientOrderID,
		VenueOrderID:  w.VenueOrderID,
		ExecutionID:   execID,
		InstrumentID:  w.InstrumentID,
		Price:         price,
		Quantity:      qty,
		Commission:    commission,
		CommissionCcy: ic.Currency,
		IsMaker:       isMaker,
	})

	signedQty := qty
	if w.Side == common.Sell {
		signedQty = qty.Neg()
	}
	x.applyPositionFill(w.InstrumentID, signedQty, price)

	notional := price.Mul(qty)
	delta := notional.Neg().Sub(commission)
	if w.Side == common.Sell {
		delta = notional.Sub(commission)
	}
	x.AdjustAccount(ic.Currency, delta)
	if !x.frozen {
		acct := x.accountFor(ic.Currency)
		acct.CumulativeCommission = acct.CumulativeCommission.Add(commission)
	}

	if w.Remaining().IsZero() {
		w.Status = common.Filled
		x.cancelOCOSiblings(w.ClientOrderID)
		x.activateBracketChildrenIfEntry(w)
	} else {
		w.Status = common.PartiallyFilled
	}
}

func sameSign(a, b decimal.Decimal) bool {
	return (a.IsPositive() && b.IsPositive()) || (a.IsNegative() && b.IsNegative())
}

// applyPositionFill folds one signed fill into the instrument's
// position: growing it, or closing/flipping it and realizing P&L on
// the portion that closed.
func (x *SimulatedExchange) applyPositionFill(instrumentID string, signedQty, price decimal.Decimal) {
	pos := x.positionFor(instrumentID)
	switch {
	case pos.Size.IsZero():
		pos.Size = signedQty
		pos.AvgPrice = price
	case sameSign(pos.Size, signedQty):
		newSize := pos.Size.Add(signedQty)
		totalCost := pos.AvgPrice.Mul(pos.Size.Abs()).Add(price.Mul(signedQty.Abs()))
		pos.AvgPrice = totalCost.Div(newSize.Abs())
		pos.Size = newSize
	default:
		closingQty := decimal.Min(pos.Size.Abs(), signedQty.Abs())
		pnlPerUnit := price.Sub(pos.AvgPrice)
		if pos.Size.IsNegative() {
			pnlPerUnit = pos.AvgPrice.Sub(price)
		}
		pos.RealizedPnL = pos.RealizedPnL.Add(pnlPerUnit.Mul(closingQty))
		pos.Size = pos.Size.Add(signedQty)
		switch {
		case pos.Size.IsZero():
			pos.AvgPrice = decimal.Zero
		case sameSign(pos.Size, signedQty):
			// Flipped through flat: the excess beyond the close opens a
			// fresh position at the fill price.
			pos.AvgPrice = price
		}
	}
	x.emit(PositionEvent{InstrumentID: instrumentID, Size: pos.Size, AvgPrice: pos.AvgPrice, RealizedPnL: pos.RealizedPnL})
}

func (x *SimulatedExchange) cancelOCOSiblings(filledID string) {
	linkID, ok := x.ocoLink[filledID]
	if !ok {
		return
	}
	for _, siblingID := range x.ocoMembers[linkID] {
		if siblingID == filledID {
			continue
		}
		for _, orders := range x.working {
			if w, ok := orders[siblingID]; ok && w.IsWorking() {
				w.Status = common.Canceled
				x.emit(OrderStatusEvent{ClientOrderID: w.ClientOrderID, VenueOrderID: w.VenueOrderID, Status: "canceled", Reason: "oco sibling filled"})
			}
		}
	}
}

func (x *SimulatedExchange) activateBracketChildrenIfEntry(w *WorkingOrder) {
	if w.BracketRole != BracketEntry {
		return
	}
	children, ok := x.bracketChild[w.ClientOrderID]
	if !ok {
		return
	}
	for _, childID := range children {
		for _, orders := range x.working {
			if child, ok := orders[childID]; ok && child.Status == common.Submitted {
				child.VenueOrderID = x.ids.NextVenueOrderID(child.InstrumentID)
				child.Status = common.Accepted
				child.SubmittedTs = x.lastTs
				x.emit(OrderStatusEvent{ClientOrderID: child.ClientOrderID, VenueOrderID: child.VenueOrderID, Status: "accepted", Reason: "bracket entry filled"})
			}
		}
	}
}
