package cache

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"tradecore/internal/common"
)

// Event is one fact appended to an entity's stream. Kind tags the
// concrete type so a Codec can deserialize without reflection and so
// Apply can dispatch (spec.md §4.6: "dispatched on order_type to the
// correct concrete variant" generalizes here to "dispatched on Kind").
type Event interface {
	Kind() string
}

// Codec is the pluggable serializer spec.md §6 names at the interface
// to the persistence store: serialize(event) -> bytes, deserialize(bytes)
// -> event.
type Codec interface {
	Serialize(e Event) ([]byte, error)
	Deserialize(data []byte) (Event, error)
}

// envelope carries an event's Kind alongside its JSON payload so
// JSONCodec can deserialize into the right concrete type.
type envelope struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// JSONCodec is the default Codec: encoding/json plus a kind-tagged
// envelope. No teacher precedent wires a binary event codec for
// anything outside the wire protocol, and spec.md only requires the
// codec be pluggable, not any particular format.
type JSONCodec struct{}

func (JSONCodec) Serialize(e Event) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("cache: marshal %s event: %w", e.Kind(), err)
	}
	return json.Marshal(envelope{Kind: e.Kind(), Payload: payload})
}

func (JSONCodec) Deserialize(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("cache: unmarshal envelope: %w", err)
	}
	ctor, ok := eventKinds[env.Kind]
	if !ok {
		return nil, fmt.Errorf("cache: unknown event kind %q", env.Kind)
	}
	e := ctor()
	if err := json.Unmarshal(env.Payload, e); err != nil {
		return nil, fmt.Errorf("cache: unmarshal %s payload: %w", env.Kind, err)
	}
	return e, nil
}

var eventKinds = map[string]func() Event{
	"AccountState":     func() Event { return &AccountStateEvent{} },
	"OrderInitialized": func() Event { return &OrderInitializedEvent{} },
	"OrderFilled":      func() Event { return &OrderFilledEvent{} },
	"OrderCanceled":    func() Event { return &OrderCanceledEvent{} },
	"OrderUpdated":     func() Event { return &OrderUpdatedEvent{} },
	"OrderExpired":     func() Event { return &OrderExpiredEvent{} },
	"PositionFill":     func() Event { return &PositionFillEvent{} },
}

// AccountStateEvent is the sole event kind on an Account's stream; the
// first one seeds the Account, every subsequent one replaces its
// balances wholesale (spec.md §4.6: "Account <- first AccountState").
type AccountStateEvent struct {
	Currency string          `json:"currency"`
	Total    decimal.Decimal `json:"total"`
	Free     decimal.Decimal `json:"free"`
	Locked   decimal.Decimal `json:"locked"`
}

func (AccountStateEvent) Kind() string { return "AccountState" }

// OrderInitializedEvent seeds an Order's stream: "Order <- first
// OrderInitialized, dispatched on order_type to the correct concrete
// variant" (spec.md §4.6) — here realized as one Order struct whose
// Type field drives behavior, rather than a Go type per order kind,
// matching how internal/matching.WorkingOrder represents every order
// kind with one struct plus a Type field.
type OrderInitializedEvent struct {
	ClientOrderID string             `json:"client_order_id"`
	InstrumentID  string             `json:"instrument_id"`
	Side          common.Side        `json:"side"`
	Type          common.OrderType   `json:"order_type"`
	TimeInForce   common.TimeInForce `json:"time_in_force"`
	LimitPrice    decimal.Decimal    `json:"limit_price"`
	StopPrice     decimal.Decimal    `json:"stop_price"`
	Size          decimal.Decimal    `json:"size"`
}

func (OrderInitializedEvent) Kind() string { return "OrderInitialized" }

// OrderFilledEvent records one execution slice against an order.
type OrderFilledEvent struct {
	ExecutionID string          `json:"execution_id"`
	Price       decimal.Decimal `json:"price"`
	Quantity    decimal.Decimal `json:"quantity"`
}

func (OrderFilledEvent) Kind() string { return "OrderFilled" }

// OrderCanceledEvent marks an order terminally canceled.
type OrderCanceledEvent struct {
	Reason string `json:"reason"`
}

func (OrderCanceledEvent) Kind() string { return "OrderCanceled" }

// OrderUpdatedEvent records a price/size replacement on a still-working
// order. Nil fields are left unchanged, mirroring matching.UpdateOrderRequest.
type OrderUpdatedEvent struct {
	NewLimitPrice *decimal.Decimal `json:"new_limit_price,omitempty"`
	NewSize       *decimal.Decimal `json:"new_size,omitempty"`
}

func (OrderUpdatedEvent) Kind() string { return "OrderUpdated" }

// OrderExpiredEvent marks an order terminally expired (GTD reached).
type OrderExpiredEvent struct{}

func (OrderExpiredEvent) Kind() string { return "OrderExpired" }

// PositionFillEvent is the sole event kind on a Position's stream: one
// signed fill, carrying the side the order that generated it traded
// on (a Position stream has no order-initialization event of its own
// to inherit side from, unlike Order's stream).
type PositionFillEvent struct {
	Side     common.Side     `json:"side"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

func (PositionFillEvent) Kind() string { return "PositionFill" }
