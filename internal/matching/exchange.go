package matching

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"tradecore/internal/book"
	"tradecore/internal/common"
	"tradecore/internal/fillmodel"
)

// InstrumentConfig is the static per-instrument setup the exchange
// needs to run a book and validate orders against it.
type InstrumentConfig struct {
	InstrumentID   string
	Level          book.BookLevel
	PricePrecision int32
	SizePrecision  int32
	TickSize       decimal.Decimal
	Currency       string // quote currency balances are debited/credited in
}

// ExchangeRateCalculator converts a notional from one currency to
// another. Supplemented per spec.md §4.3 ("an exchange-rate
// calculator"), which names the component without detailing it.
type ExchangeRateCalculator interface {
	Rate(from, to string) (decimal.Decimal, error)
}

// FixedRateCalculator is the simplest ExchangeRateCalculator: a static
// lookup table, adequate for a single-currency or pre-agreed-rate
// simulation.
type FixedRateCalculator struct {
	Rates map[string]decimal.Decimal // "FROM/TO" -> rate
}

func (f FixedRateCalculator) Rate(from, to string) (decimal.Decimal, error) {
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	if r, ok := f.Rates[from+"/"+to]; ok {
		return r, nil
	}
	return decimal.Zero, fmt.Errorf("no exchange rate configured for %s/%s", from, to)
}

// SimulationModule runs once per matching cycle after market data is
// ingested and before matching, and may adjust accounts or inject
// events (spec.md §4.3 step 2).
type SimulationModule interface {
	Run(x *SimulatedExchange, instrumentID string, ts int64) []Event
}

// SimulatedExchange is the matching engine: per-instrument books,
// working orders, OCO/bracket linkage, accounts and positions, grounded
// on the teacher's engine.Engine/OrderBook pairing but generalized from
// a single asset/float64 book to many decimal-precision instruments
// behind one event channel.
type SimulatedExchange struct {
	instruments map[string]InstrumentConfig
	books       map[string]*book.OrderBook
	working     map[string]map[string]*WorkingOrder // instrumentID -> clientOrderID -> order

	ocoLink        map[string]string   // clientOrderID -> link id
	ocoMembers     map[string][]string // link id -> clientOrderIDs
	bracketParent  map[string]string   // child clientOrderID -> parent clientOrderID
	bracketChild   map[string][]string // parent clientOrderID -> child clientOrderIDs

	positions map[string]*Position // instrumentID -> position
	accounts  map[string]*Account  // currency -> account

	fillModel      *fillmodel.Model
	rates          ExchangeRateCalculator
	modules        []SimulationModule
	ids            *IDGenerator
	commissionRate decimal.Decimal

	lastTs int64
	frozen bool

	events chan Event
}

// Config bundles the exchange's construction-time dependencies.
type Config struct {
	Instruments    []InstrumentConfig
	FillModel      *fillmodel.Model
	Rates          ExchangeRateCalculator
	Modules        []SimulationModule
	CommissionRate decimal.Decimal
	EventQueueSize int
}

// New constructs a SimulatedExchange with one OrderBook per configured
// instrument.
func New(cfg Config) (*SimulatedExchange, error) {
	x := &SimulatedExchange{
		instruments:    make(map[string]InstrumentConfig),
		books:          make(map[string]*book.OrderBook),
		working:        make(map[string]map[string]*WorkingOrder),
		ocoLink:        make(map[string]string),
		ocoMembers:     make(map[string][]string),
		bracketParent:  make(map[string]string),
		bracketChild:   make(map[string][]string),
		positions:      make(map[string]*Position),
		accounts:       make(map[string]*Account),
		fillModel:      cfg.FillModel,
		rates:          cfg.Rates,
		modules:        cfg.Modules,
		ids:            NewIDGenerator(),
		commissionRate: cfg.CommissionRate,
		events:         make(chan Event, eventQueueSizeOrDefault(cfg.EventQueueSize)),
	}
	for _, ic := range cfg.Instruments {
		b, err := book.NewOrderBook(ic.InstrumentID, ic.Level, ic.PricePrecision, ic.SizePrecision)
		if err != nil {
			return nil, fmt.Errorf("instrument %s: %w", ic.InstrumentID, err)
		}
		x.instruments[ic.InstrumentID] = ic
		x.books[ic.InstrumentID] = b
		x.working[ic.InstrumentID] = make(map[string]*WorkingOrder)
	}
	return x, nil
}

func eventQueueSizeOrDefault(n int) int {
	if n <= 0 {
		return 10000
	}
	return n
}

// Events returns the channel the owning engine drains for everything
// beyond the synchronous command ack.
func (x *SimulatedExchange) Events() <-chan Event {
	return x.events
}

func (x *SimulatedExchange) emit(e Event) {
	x.events <- e
}

// Reset clears all working orders, positions, accounts and id
// counters, and empties every book. The only legal way to reuse
// identifiers (spec.md §4.3).
func (x *SimulatedExchange) Reset() {
	for instrumentID, b := range x.books {
		b.Clear()
		x.working[instrumentID] = make(map[string]*WorkingOrder)
	}
	x.ocoLink = make(map[string]string)
	x.ocoMembers = make(map[string][]string)
	x.bracketParent = make(map[string]string)
	x.bracketChild = make(map[string][]string)
	x.positions = make(map[string]*Position)
	x.accounts = make(map[string]*Account)
	x.ids.Reset()
	x.lastTs = 0
}

// AdjustAccount applies a free-balance delta to currency's account,
// emitting the resulting AccountStateEvent. In frozen-account mode the
// mutation is suppressed but the (unchanged) state is still emitted
// for observability (spec.md §4.3).
func (x *SimulatedExchange) AdjustAccount(currency string, freeDelta decimal.Decimal) {
	acct := x.accountFor(currency)
	if !x.frozen {
		acct.Free = acct.Free.Add(freeDelta)
		acct.Total = acct.Free.Add(acct.Locked)
	}
	x.emit(AccountStateEvent{Currency: acct.Currency, Total: acct.Total, Free: acct.Free, Locked: acct.Locked})
}

// SetFrozen toggles frozen-account mode.
func (x *SimulatedExchange) SetFrozen(frozen bool) {
	x.frozen = frozen
}

func (x *SimulatedExchange) accountFor(currency string) *Account {
	acct, ok := x.accounts[currency]
	if !ok {
		acct = &Account{Currency: currency}
		x.accounts[currency] = acct
	}
	return acct
}

func (x *SimulatedExchange) positionFor(instrumentID string) *Position {
	pos, ok := x.positions[instrumentID]
	if !ok {
		pos = &Position{InstrumentID: instrumentID}
		x.positions[instrumentID] = pos
	}
	return pos
}

// WorkingOrderSide looks up the side of a still-tracked order, for
// callers downstream of the event channel (e.g. the cache layer) that
// need to re-sign a fill's quantity but only receive the event itself.
func (x *SimulatedExchange) WorkingOrderSide(instrumentID, clientOrderID string) (common.Side, bool) {
	orders, ok := x.working[instrumentID]
	if !ok {
		return 0, false
	}
	w, ok := orders[clientOrderID]
	if !ok {
		return 0, false
	}
	return w.Side, true
}

// LogBook renders a plain-text depth snapshot of one instrument, or of
// every instrument if instrumentID is empty — the successor to the
// teacher's debug-only LogBook() command, now addressed per-instrument
// since this exchange runs many books at once.
func (x *SimulatedExchange) LogBook(instrumentID string) (string, error) {
	ids := []string{instrumentID}
	if instrumentID == "" {
		ids = ids[:0]
		for id := range x.books {
			ids = append(ids, id)
		}
	}
	var out strings.Builder
	for _, id := range ids {
		b, ok := x.books[id]
		if !ok {
			return "", fmt.Errorf("unknown instrument %s", id)
		}
		snap := b.Snapshot()
		fmt.Fprintf(&out, "=== %s ===\n", id)
		fmt.Fprintf(&out, "bids:\n")
		for _, pv := range snap.Bids {
			fmt.Fprintf(&out, "  %s @ %s\n", pv.Volume, pv.Price)
		}
		fmt.Fprintf(&out, "asks:\n")
		for _, pv := range snap.Asks {
			fmt.Fprintf(&out, "  %s @ %s\n", pv.Volume, pv.Price)
		}
	}
	return out.String(), nil
}
