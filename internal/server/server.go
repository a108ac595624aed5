// Package server orchestrates one trader's session: a matching.SimulatedExchange,
// its cache-backed durable mirror, and the two cooperative messaging
// engines (risk, execution) spec.md §5 names, wired together behind
// the net.Engine surface a TCP connection drives.
package server

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"tradecore/internal/cache"
	"tradecore/internal/matching"
	"tradecore/internal/messaging"
)

const (
	riskQueueSize      = 256
	executionQueueSize = 4096
	reportsQueueSize   = 4096
)

// Command is one unit of risk-engine work: a closure over a single
// exchange call plus whatever reply channel its caller is blocked on.
// Routing every command through one queue serializes access to the
// exchange without requiring every command kind to share one struct
// shape (spec.md §5's "risk engine" concern).
type Command func()

// Session owns one trader's exchange instance end to end: command
// intake, durable persistence of every emitted event, and the
// outbound report stream net.Server drains to the client socket.
type Session struct {
	TraderID string

	exchange *matching.SimulatedExchange
	cache    *cache.Cache

	risk      *messaging.Engine[Command]
	execution *messaging.Engine[matching.Event]
	reports   chan matching.Event

	mu              sync.Mutex
	seededOrders    map[string]bool
	seededPositions map[string]bool
	seededAccounts  map[string]bool
}

// NewSession constructs a session around an already-configured
// exchange, ready for Start.
func NewSession(traderID string, exchange *matching.SimulatedExchange, c *cache.Cache) *Session {
	s := &Session{
		TraderID:        traderID,
		exchange:        exchange,
		cache:           c,
		reports:         make(chan matching.Event, reportsQueueSize),
		seededOrders:    make(map[string]bool),
		seededPositions: make(map[string]bool),
		seededAccounts:  make(map[string]bool),
	}
	s.risk = messaging.New[Command]("risk-"+traderID, riskQueueSize, func(cmd Command) error {
		cmd()
		return nil
	})
	s.execution = messaging.New[matching.Event]("execution-"+traderID, executionQueueSize, s.persist)
	return s
}

// Start brings up both messaging engines and the event-forwarding
// goroutine that fans exchange.Events() out to persistence and to the
// wire-report stream.
func (s *Session) Start() {
	s.risk.Start()
	s.execution.Start()
	go s.forwardEvents()
}

// Stop drains both engines and closes the report stream.
func (s *Session) Stop() {
	s.risk.Stop()
	s.execution.Stop()
	close(s.reports)
}

// Reports is the stream net.Server ranges over to write reports back
// to this trader's connection.
func (s *Session) Reports() <-chan matching.Event {
	return s.reports
}

func (s *Session) forwardEvents() {
	for e := range s.exchange.Events() {
		s.execution.Execute(e)
		s.reports <- e
	}
}

// run routes one exchange call through the risk engine and blocks for
// its result, preserving the command/ack synchronicity spec.md §4.3
// requires while still serializing every call through one queue.
func run[R any](s *Session, call func() R) R {
	done := make(chan R, 1)
	s.risk.Execute(func() {
		done <- call()
	})
	return <-done
}

func (s *Session) SubmitOrder(req matching.SubmitOrderRequest) matching.AckEvent {
	ack := run(s, func() matching.AckEvent { return s.exchange.SubmitOrder(req) })
	if ack.Accepted {
		s.seedOrder(req)
	}
	return ack
}

func (s *Session) SubmitBracketOrder(req matching.SubmitBracketOrderRequest) matching.AckEvent {
	ack := run(s, func() matching.AckEvent { return s.exchange.SubmitBracketOrder(req) })
	if ack.Accepted {
		s.seedOrder(req.Entry)
		s.seedOrder(req.StopLoss)
		s.seedOrder(req.TakeProfit)
	}
	return ack
}

func (s *Session) SubmitOCOOrder(req matching.SubmitOCOOrderRequest) (matching.AckEvent, matching.AckEvent) {
	type pair struct{ a, b matching.AckEvent }
	p := run(s, func() pair {
		a, b := s.exchange.SubmitOCOOrder(req)
		return pair{a, b}
	})
	if p.a.Accepted {
		s.seedOrder(req.A)
	}
	if p.b.Accepted {
		s.seedOrder(req.B)
	}
	return p.a, p.b
}

func (s *Session) UpdateOrder(req matching.UpdateOrderRequest) matching.OrderStatusEvent {
	return run(s, func() matching.OrderStatusEvent { return s.exchange.UpdateOrder(req) })
}

func (s *Session) CancelOrder(req matching.CancelOrderRequest) matching.OrderStatusEvent {
	return run(s, func() matching.OrderStatusEvent { return s.exchange.CancelOrder(req) })
}

func (s *Session) LogBook(instrumentID string) (string, error) {
	return run(s, func() stringOrErr {
		text, err := s.exchange.LogBook(instrumentID)
		return stringOrErr{text, err}
	}).unwrap()
}

type stringOrErr struct {
	s   string
	err error
}

func (v stringOrErr) unwrap() (string, error) { return v.s, v.err }

func (s *Session) seedOrder(req matching.SubmitOrderRequest) {
	ctx := context.Background()
	if err := s.cache.AddOrderEvent(ctx, s.TraderID, cache.OrderInitializedEvent{
		ClientOrderID: req.ClientOrderID,
		InstrumentID:  req.InstrumentID,
		Side:          req.Side,
		Type:          req.Type,
		TimeInForce:   req.TimeInForce,
		LimitPrice:    req.LimitPrice,
		StopPrice:     req.StopPrice,
		Size:          req.Size,
	}); err != nil {
		log.Error().Err(err).Str("clientOrderID", req.ClientOrderID).Msg("session: failed to seed order cache stream")
		return
	}
	s.mu.Lock()
	s.seededOrders[req.ClientOrderID] = true
	s.mu.Unlock()
}

// persist is the execution engine's dispatch: every event the exchange
// emits gets folded into the trader's durable cache streams.
func (s *Session) persist(e matching.Event) error {
	ctx := context.Background()
	switch ev := e.(type) {
	case matching.FillEvent:
		side, _ := s.exchange.WorkingOrderSide(ev.InstrumentID, ev.ClientOrderID)
		if err := s.cache.UpdateOrderEvent(ctx, s.TraderID, ev.ClientOrderID, &cache.OrderFilledEvent{
			ExecutionID: ev.ExecutionID, Price: ev.Price, Quantity: ev.Quantity,
		}); err != nil {
			return err
		}
		return s.togglePosition(ctx, ev.InstrumentID, cache.PositionFillEvent{Side: side, Price: ev.Price, Quantity: ev.Quantity})
	case matching.OrderStatusEvent:
		return s.persistOrderStatus(ctx, ev)
	case matching.AccountStateEvent:
		return s.toggleAccount(ctx, ev)
	case matching.PositionEvent:
		// PositionEvent carries the post-fill aggregate, already folded
		// into the cache by the FillEvent branch above; nothing further
		// to persist.
		return nil
	default:
		log.Warn().Str("kind", "unknown").Msg("session: dropping event of unrecognized kind")
		return nil
	}
}

func (s *Session) persistOrderStatus(ctx context.Context, ev matching.OrderStatusEvent) error {
	switch ev.Status {
	case "canceled":
		return s.cache.UpdateOrderEvent(ctx, s.TraderID, ev.ClientOrderID, &cache.OrderCanceledEvent{Reason: ev.Reason})
	case "expired":
		return s.cache.UpdateOrderEvent(ctx, s.TraderID, ev.ClientOrderID, &cache.OrderExpiredEvent{})
	default:
		// "triggered", "accepted", "updated" and the reject_* replies are
		// status-machine transitions with nothing new to fold into the
		// cache's Order view beyond what the seed/fill events already carry.
		return nil
	}
}

func (s *Session) togglePosition(ctx context.Context, instrumentID string, e cache.PositionFillEvent) error {
	s.mu.Lock()
	seeded := s.seededPositions[instrumentID]
	s.seededPositions[instrumentID] = true
	s.mu.Unlock()
	if seeded {
		return s.cache.UpdatePositionEvent(ctx, s.TraderID, instrumentID, e)
	}
	return s.cache.AddPositionEvent(ctx, s.TraderID, instrumentID, e)
}

func (s *Session) toggleAccount(ctx context.Context, ev matching.AccountStateEvent) error {
	e := cache.AccountStateEvent{Currency: ev.Currency, Total: ev.Total, Free: ev.Free, Locked: ev.Locked}
	s.mu.Lock()
	seeded := s.seededAccounts[ev.Currency]
	s.seededAccounts[ev.Currency] = true
	s.mu.Unlock()
	if seeded {
		return s.cache.UpdateAccountEvent(ctx, s.TraderID, ev.Currency, e)
	}
	return s.cache.AddAccountEvent(ctx, s.TraderID, ev.Currency, e)
}
