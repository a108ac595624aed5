package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// ErrNotFound is returned when an entity's event stream is empty —
// spec.md §4.6's "if the event list is empty, return not found".
var ErrNotFound = errors.New("cache: entity not found")

// Cache reconstructs Accounts/Orders/Positions by loading their event
// list from Store and folding it, and appends new events as the
// matching engine produces them. No teacher precedent exists for this
// layer (the teacher keeps everything in memory); the key schema and
// load/fold contract come directly from spec.md §4.6.
type Cache struct {
	store Store
	codec Codec
}

// New constructs a Cache over store using the default JSON codec.
func New(store Store) *Cache {
	return &Cache{store: store, codec: JSONCodec{}}
}

func accountKey(traderID, currency string) string {
	return fmt.Sprintf("%s:Accounts:%s", traderID, currency)
}

func orderKey(traderID, clientOrderID string) string {
	return fmt.Sprintf("%s:Orders:%s", traderID, clientOrderID)
}

func positionKey(traderID, instrumentID string) string {
	return fmt.Sprintf("%s:Positions:%s", traderID, instrumentID)
}

func strategyStateKey(traderID, strategyID string) string {
	return fmt.Sprintf("%s:Strategies:%s:State", traderID, strategyID)
}

// loadStream pulls and decodes every event on key, in append order.
func (c *Cache) loadStream(ctx context.Context, key string) ([]Event, error) {
	raw, err := c.store.ListRange(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, ErrNotFound
	}
	events := make([]Event, len(raw))
	for i, r := range raw {
		e, err := c.codec.Deserialize(r)
		if err != nil {
			return nil, fmt.Errorf("cache: decoding event %d of %s: %w", i, key, err)
		}
		events[i] = e
	}
	return events, nil
}

// LoadAccount reconstructs an Account from its event stream.
func (c *Cache) LoadAccount(ctx context.Context, traderID, currency string) (*Account, error) {
	events, err := c.loadStream(ctx, accountKey(traderID, currency))
	if err != nil {
		return nil, err
	}
	seed, ok := events[0].(*AccountStateEvent)
	if !ok {
		return nil, fmt.Errorf("cache: account stream %s does not start with AccountState", accountKey(traderID, currency))
	}
	acct := newAccount(*seed)
	for _, e := range events[1:] {
		if err := acct.Apply(e); err != nil {
			return nil, err
		}
	}
	return acct, nil
}

// LoadOrder reconstructs an Order from its event stream.
func (c *Cache) LoadOrder(ctx context.Context, traderID, clientOrderID string) (*Order, error) {
	events, err := c.loadStream(ctx, orderKey(traderID, clientOrderID))
	if err != nil {
		return nil, err
	}
	seed, ok := events[0].(*OrderInitializedEvent)
	if !ok {
		return nil, fmt.Errorf("cache: order stream %s does not start with OrderInitialized", orderKey(traderID, clientOrderID))
	}
	order := newOrder(*seed)
	for _, e := range events[1:] {
		if err := order.Apply(e); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// LoadPosition reconstructs a Position from its event stream.
func (c *Cache) LoadPosition(ctx context.Context, traderID, instrumentID string) (*Position, error) {
	events, err := c.loadStream(ctx, positionKey(traderID, instrumentID))
	if err != nil {
		return nil, err
	}
	seed, ok := events[0].(*PositionFillEvent)
	if !ok {
		return nil, fmt.Errorf("cache: position stream %s does not start with PositionFill", positionKey(traderID, instrumentID))
	}
	pos := newPosition(instrumentID, *seed)
	for _, e := range events[1:] {
		if err := pos.Apply(e); err != nil {
			return nil, err
		}
	}
	return pos, nil
}

// appendEvent serializes e and pushes it to key, logging the
// add/update integrity warning spec.md §4.6 specifies: wantNew=true
// treats a post-push length of 1 as a warning ("key already existed"
// — this call was meant to seed a brand new stream); wantNew=false
// treats it as a warning the other way ("key did not exist" — this
// call was meant to extend an existing stream).
func (c *Cache) appendEvent(ctx context.Context, key string, e Event, wantNew bool) error {
	data, err := c.codec.Serialize(e)
	if err != nil {
		return err
	}
	n, err := c.store.ListAppend(ctx, key, data)
	if err != nil {
		return err
	}
	if n == 1 {
		if wantNew {
			log.Warn().Str("key", key).Msg("cache: add reported existing key")
		} else {
			log.Warn().Str("key", key).Msg("cache: update reported missing key")
		}
	}
	return nil
}

// AddAccountEvent appends the seeding AccountStateEvent for a new account.
func (c *Cache) AddAccountEvent(ctx context.Context, traderID, currency string, e AccountStateEvent) error {
	return c.appendEvent(ctx, accountKey(traderID, currency), &e, true)
}

// UpdateAccountEvent appends a later AccountStateEvent to an existing account.
func (c *Cache) UpdateAccountEvent(ctx context.Context, traderID, currency string, e AccountStateEvent) error {
	return c.appendEvent(ctx, accountKey(traderID, currency), &e, false)
}

// AddOrderEvent appends the seeding OrderInitializedEvent for a new order.
func (c *Cache) AddOrderEvent(ctx context.Context, traderID string, e OrderInitializedEvent) error {
	return c.appendEvent(ctx, orderKey(traderID, e.ClientOrderID), &e, true)
}

// UpdateOrderEvent appends a later lifecycle event to an existing order's stream.
func (c *Cache) UpdateOrderEvent(ctx context.Context, traderID, clientOrderID string, e Event) error {
	return c.appendEvent(ctx, orderKey(traderID, clientOrderID), e, false)
}

// AddPositionEvent appends the seeding PositionFillEvent for a new position.
func (c *Cache) AddPositionEvent(ctx context.Context, traderID, instrumentID string, e PositionFillEvent) error {
	return c.appendEvent(ctx, positionKey(traderID, instrumentID), &e, true)
}

// UpdatePositionEvent appends a later fill to an existing position's stream.
func (c *Cache) UpdatePositionEvent(ctx context.Context, traderID, instrumentID string, e PositionFillEvent) error {
	return c.appendEvent(ctx, positionKey(traderID, instrumentID), &e, false)
}

// SetStrategyState writes one opaque field of a strategy's state hash.
func (c *Cache) SetStrategyState(ctx context.Context, traderID, strategyID, field string, value []byte) error {
	return c.store.HashSet(ctx, strategyStateKey(traderID, strategyID), field, value)
}

// StrategyState reads every field of a strategy's state hash.
func (c *Cache) StrategyState(ctx context.Context, traderID, strategyID string) (map[string][]byte, error) {
	return c.store.HashGetAll(ctx, strategyStateKey(traderID, strategyID))
}

// ScanTraderKeys lists every key namespaced under traderID, for
// ad-hoc inspection (the introspection surface DESIGN.md assigns in
// place of the teacher's unfinished gRPC debug service).
func (c *Cache) ScanTraderKeys(ctx context.Context, traderID string) ([]string, error) {
	return c.store.ScanKeys(ctx, traderID+":")
}

// Reset deletes everything namespaced under traderID.
func (c *Cache) Reset(ctx context.Context, traderID string) error {
	keys, err := c.ScanTraderKeys(ctx, traderID)
	if err != nil {
		return err
	}
	return c.store.Delete(ctx, keys...)
}
