package book

import (
	"github.com/shopspring/decimal"

	"tradecore/internal/common"
)

// DeltaType enumerates the three shapes an inbound book delta can take.
type DeltaType int

const (
	Add DeltaType = iota
	Update
	Delete
)

func (t DeltaType) String() string {
	switch t {
	case Add:
		return "ADD"
	case Update:
		return "UPDATE"
	case Delete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// Delta is a single inbound book mutation, carrying the book level it
// was produced against (spec.md §3: "every inbound data item carries
// its book level").
type Delta struct {
	Type  DeltaType
	Order Order
	Level BookLevel
	Ts    int64
}

// Deltas is a batch of Delta applied atomically in order.
type Deltas struct {
	List  []Delta
	Level BookLevel
	Ts    int64
}

// PriceVolume is one (price, volume) pair of an inbound snapshot side.
type PriceVolume struct {
	Price  decimal.Decimal
	Volume decimal.Decimal
}

// Snapshot is a full point-in-time replacement of both sides.
type Snapshot struct {
	Bids  []PriceVolume
	Asks  []PriceVolume
	Level BookLevel
	Ts    int64
}

// QuoteTick is a top-of-book quote update used by L1 books.
type QuoteTick struct {
	BidPrice decimal.Decimal
	AskPrice decimal.Decimal
	BidSize  decimal.Decimal
	AskSize  decimal.Decimal
	Ts       int64
}

// TradeTick reports a single executed trade on the venue, used to
// classify aggressor side and to nudge an L1 book per spec.md §4.2.
// Side is the aggressor side when the feed supplies it; callers that
// don't know it leave HasSide false and rely on TradeSide to classify.
type TradeTick struct {
	Price   decimal.Decimal
	Size    decimal.Decimal
	Side    common.Side
	HasSide bool
	Ts      int64
}
