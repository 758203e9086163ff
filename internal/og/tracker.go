package og

import (
	"sync"

	"github.com/shopspring/decimal"

	"main/internal/book"
	"main/pkg/exception"
)

// State tracks the lifecycle of one of our orders.
type State uint8

const (
	StateInitial State = iota
	StatePlaced
	StateRejected
	StateReceived
	StateOpen
	StateDone
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StatePlaced:
		return "placed"
	case StateRejected:
		return "rejected"
	case StateReceived:
		return "received"
	case StateOpen:
		return "open"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are accepted.
func (s State) Terminal() bool {
	return s == StateDone || s == StateRejected
}

// rank orders the live states so a late-arriving ack never moves an
// order backwards.
func (s State) rank() int {
	switch s {
	case StateInitial:
		return 0
	case StatePlaced:
		return 1
	case StateReceived:
		return 2
	case StateOpen:
		return 3
	case StateDone, StateRejected:
		return 4
	default:
		return 0
	}
}

// TrackedOrder is the tracker's view of one order we placed. The
// exchange id stays empty until the placement acknowledgement arrives.
type TrackedOrder struct {
	ClientOrderID   string
	ExchangeOrderID string
	Pair            string
	SignedSize      decimal.Decimal
	LimitPrice      decimal.Decimal
	HasLimit        bool
	TotalSize       decimal.Decimal
	FilledSize      decimal.Decimal
	State           State
	DoneReason      string
}

// Side derives the order side from the sign of SignedSize.
func (o *TrackedOrder) Side() book.Side {
	if o.SignedSize.IsNegative() {
		return book.SideSell
	}
	return book.SideBuy
}

// Remaining is the unfilled quantity.
func (o *TrackedOrder) Remaining() decimal.Decimal {
	return o.TotalSize.Sub(o.FilledSize)
}

// Tracker indexes every order this process has placed, by client
// order id from creation and by exchange order id once acknowledged.
// Feed messages that reference either id update state and fills.
type Tracker struct {
	mu            sync.RWMutex
	sizeIncrement decimal.Decimal
	byClient      map[string]*TrackedOrder
	byExchange    map[string]*TrackedOrder
}

// NewTracker creates an empty tracker. Fill sizes are quantized to
// sizeIncrement; a non-positive increment disables quantization.
func NewTracker(sizeIncrement decimal.Decimal) *Tracker {
	return &Tracker{
		sizeIncrement: sizeIncrement,
		byClient:      make(map[string]*TrackedOrder),
		byExchange:    make(map[string]*TrackedOrder),
	}
}

// Create registers a new order under its client order id before any
// placement call goes out, so a feed ack can always be matched.
func (t *Tracker) Create(clientOID, pair string, signedSize decimal.Decimal) (TrackedOrder, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.byClient[clientOID]; ok {
		return TrackedOrder{}, exception.ErrOrderDuplicate
	}
	o := &TrackedOrder{
		ClientOrderID: clientOID,
		Pair:          pair,
		SignedSize:    signedSize,
		TotalSize:     signedSize.Abs(),
		State:         StateInitial,
	}
	t.byClient[clientOID] = o
	return *o, nil
}

// ApplyPlaced records a successful placement acknowledgement from the
// REST gateway, resolving the exchange id and limit price.
func (t *Tracker) ApplyPlaced(clientOID, exchangeOrderID string, limitPrice decimal.Decimal) (TrackedOrder, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.byClient[clientOID]
	if !ok {
		return TrackedOrder{}, exception.ErrOrderUnknown
	}
	if o.State.Terminal() {
		return *o, exception.ErrOrderTerminal
	}
	o.ExchangeOrderID = exchangeOrderID
	o.LimitPrice = limitPrice
	o.HasLimit = true
	if exchangeOrderID != "" {
		t.byExchange[exchangeOrderID] = o
	}
	if o.State.rank() < StatePlaced.rank() {
		o.State = StatePlaced
	}
	return *o, nil
}

// ApplyRejected marks a failed placement. Rejected is terminal.
func (t *Tracker) ApplyRejected(clientOID, reason string) (TrackedOrder, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.byClient[clientOID]
	if !ok {
		return TrackedOrder{}, exception.ErrOrderUnknown
	}
	if o.State.Terminal() {
		return *o, exception.ErrOrderTerminal
	}
	o.State = StateRejected
	o.DoneReason = reason
	return *o, nil
}

// The Apply* methods route feed messages to the tracked order they
// reference. Lookup tries client_oid, order_id, maker_order_id and
// taker_order_id in that sequence; the first key that resolves wins.
// A false result means the message concerns an order we do not own.

// ApplyReceived handles a "received" feed message.
func (t *Tracker) ApplyReceived(clientOID, orderID string) (TrackedOrder, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.resolve(clientOID, orderID)
	if !ok {
		return TrackedOrder{}, false
	}
	t.link(o, orderID)
	if !o.State.Terminal() && o.State.rank() < StateReceived.rank() {
		o.State = StateReceived
	}
	return *o, true
}

// ApplyOpen handles an "open" feed message for one of our orders.
func (t *Tracker) ApplyOpen(clientOID, orderID string) (TrackedOrder, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.resolve(clientOID, orderID)
	if !ok {
		return TrackedOrder{}, false
	}
	t.link(o, orderID)
	if !o.State.Terminal() && o.State.rank() < StateOpen.rank() {
		o.State = StateOpen
	}
	return *o, true
}

// ApplyMatch accumulates a fill. The filled size is quantized to the
// pair's increment and never exceeds the total; hitting the total is a
// completion signal, not a state change.
func (t *Tracker) ApplyMatch(makerOrderID, takerOrderID string, size decimal.Decimal) (TrackedOrder, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.resolve(makerOrderID, takerOrderID)
	if !ok {
		return TrackedOrder{}, false
	}
	if o.State.Terminal() {
		return *o, true
	}
	filled := t.quantize(o.FilledSize.Add(size))
	if filled.GreaterThan(o.TotalSize) {
		filled = o.TotalSize
	}
	o.FilledSize = filled
	return *o, true
}

// ApplyDone moves the order to its terminal Done state, recording the
// reason. A rejected order stays rejected.
func (t *Tracker) ApplyDone(clientOID, orderID, reason string) (TrackedOrder, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.resolve(clientOID, orderID)
	if !ok {
		return TrackedOrder{}, false
	}
	t.link(o, orderID)
	if o.State == StateRejected {
		return *o, true
	}
	o.State = StateDone
	o.DoneReason = reason
	return *o, true
}

// ApplyChange adjusts the total size of one of our resting orders.
func (t *Tracker) ApplyChange(clientOID, orderID string, newSize decimal.Decimal, hasNewSize bool) (TrackedOrder, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.resolve(clientOID, orderID)
	if !ok {
		return TrackedOrder{}, false
	}
	if hasNewSize && !o.State.Terminal() {
		o.TotalSize = newSize
		if o.FilledSize.GreaterThan(o.TotalSize) {
			o.FilledSize = o.TotalSize
		}
	}
	return *o, true
}

// Order returns a copy of the tracked order for the client id.
func (t *Tracker) Order(clientOID string) (TrackedOrder, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	o, ok := t.byClient[clientOID]
	if !ok {
		return TrackedOrder{}, false
	}
	return *o, true
}

// Owns reports whether any of the ids references a tracked order.
func (t *Tracker) Owns(ids ...string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.resolve(ids...)
	return ok
}

// Live counts tracked orders that have not reached a terminal state.
func (t *Tracker) Live() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, o := range t.byClient {
		if !o.State.Terminal() {
			n++
		}
	}
	return n
}

// Remove drops a terminal order from both indexes. Live orders are
// kept; removing one is a caller bug surfaced as a no-op.
func (t *Tracker) Remove(clientOID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.byClient[clientOID]
	if !ok || !o.State.Terminal() {
		return
	}
	delete(t.byClient, clientOID)
	if o.ExchangeOrderID != "" {
		delete(t.byExchange, o.ExchangeOrderID)
	}
}

func (t *Tracker) resolve(ids ...string) (*TrackedOrder, bool) {
	for _, id := range ids {
		if id == "" {
			continue
		}
		if o, ok := t.byClient[id]; ok {
			return o, true
		}
		if o, ok := t.byExchange[id]; ok {
			return o, true
		}
	}
	return nil, false
}

// link backfills the exchange id index when the feed message carries
// an order_id the REST ack has not delivered yet.
func (t *Tracker) link(o *TrackedOrder, exchangeOrderID string) {
	if exchangeOrderID == "" || o.ExchangeOrderID != "" {
		return
	}
	o.ExchangeOrderID = exchangeOrderID
	t.byExchange[exchangeOrderID] = o
}

func (t *Tracker) quantize(d decimal.Decimal) decimal.Decimal {
	if !t.sizeIncrement.IsPositive() {
		return d
	}
	return d.Div(t.sizeIncrement).Round(0).Mul(t.sizeIncrement)
}
