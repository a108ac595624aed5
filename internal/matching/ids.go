package matching

import "strconv"

// IDGenerator hands out monotonic per-instrument identifiers for venue
// orders, positions and executions. Counters only go back to zero via
// Reset — spec.md §4.3 forbids ID reuse across anything short of a
// full exchange reset.
type IDGenerator struct {
	venueOrderSeq map[string]uint64
	positionSeq   map[string]uint64
	executionSeq  map[string]uint64
}

// NewIDGenerator constructs an empty generator.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{
		venueOrderSeq: make(map[string]uint64),
		positionSeq:   make(map[string]uint64),
		executionSeq:  make(map[string]uint64),
	}
}

func next(seqs map[string]uint64, instrumentID, prefix string) string {
	seqs[instrumentID]++
	return prefix + "-" + instrumentID + "-" + strconv.FormatUint(seqs[instrumentID], 10)
}

// NextVenueOrderID returns the next venue order id for instrumentID.
func (g *IDGenerator) NextVenueOrderID(instrumentID string) string {
	return next(g.venueOrderSeq, instrumentID, "VO")
}

// NextPositionID returns the next position id for instrumentID.
func (g *IDGenerator) NextPositionID(instrumentID string) string {
	return next(g.positionSeq, instrumentID, "POS")
}

// NextExecutionID returns the next execution id for instrumentID.
func (g *IDGenerator) NextExecutionID(instrumentID string) string {
	return next(g.executionSeq, instrumentID, "EXEC")
}

// Reset clears every counter back to zero.
func (g *IDGenerator) Reset() {
	g.venueOrderSeq = make(map[string]uint64)
	g.positionSeq = make(map[string]uint64)
	g.executionSeq = make(map[string]uint64)
}
