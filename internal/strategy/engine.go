package strategy

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"main/internal/book"
	"main/internal/feed"
	"main/internal/og"
	"main/internal/order"
	"main/pkg/exception"
)

// Kind selects one of the closed set of strategy variants.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindSimple
	KindFollow
)

func (k Kind) String() string {
	switch k {
	case KindSimple:
		return "simple"
	case KindFollow:
		return "follow"
	default:
		return "unknown"
	}
}

func ParseKind(s string) Kind {
	switch s {
	case "simple":
		return KindSimple
	case "follow":
		return KindFollow
	default:
		return KindUnknown
	}
}

// Handle identifies one strategy instance to the caller.
type Handle string

// instance is the contract every variant implements. onTick runs only
// from the engine tick loop, one instance at a time.
type instance interface {
	init(ctx context.Context) error
	onTick(ctx context.Context)
	isComplete() bool
}

// Option configures an Engine.
type Option struct {
	Interval      time.Duration
	SizeIncrement decimal.Decimal
}

// Engine works the strategies of one pair. It only reads book and
// tracker state; every mutation it wants goes through the order
// usecase and comes back via the feed task.
type Engine struct {
	pair    string
	proc    *feed.Processor
	tracker *og.Tracker
	orders  *order.Usecase
	opt     Option

	mu        sync.Mutex
	instances map[Handle]instance
}

func NewEngine(pair string, proc *feed.Processor, tracker *og.Tracker, orders *order.Usecase, opt Option) *Engine {
	if opt.Interval <= 0 {
		opt.Interval = time.Second
	}
	if opt.SizeIncrement.IsZero() {
		opt.SizeIncrement = decimal.New(1, -5)
	}

	return &Engine{
		pair:      pair,
		proc:      proc,
		tracker:   tracker,
		orders:    orders,
		opt:       opt,
		instances: make(map[Handle]instance),
	}
}

// AddStrategy creates an instance and places its initial order. The
// book must be initialized first; there is no touch price to quote
// against before that.
func (eng *Engine) AddStrategy(ctx context.Context, kind Kind, targetSignedSize decimal.Decimal) (Handle, error) {
	if targetSignedSize.IsZero() {
		return "", errors.Wrap(exception.ErrInvalidArgument, "zero target size")
	}
	if !eng.proc.IsInitialized() {
		return "", errors.Wrapf(exception.ErrFeedNotInitialized, "pair %s", eng.pair)
	}

	var ins instance
	switch kind {
	case KindSimple:
		ins = &simpleStrategy{eng: eng, target: targetSignedSize}
	case KindFollow:
		ins = &followStrategy{eng: eng, target: targetSignedSize}
	default:
		return "", errors.Wrapf(exception.ErrInvalidArgument, "strategy kind %d", kind)
	}

	if err := ins.init(ctx); err != nil {
		return "", errors.Wrap(err, "init strategy")
	}

	handle := Handle(uuid.NewString())
	eng.mu.Lock()
	eng.instances[handle] = ins
	eng.mu.Unlock()

	logs.Infof("added %s strategy %s on %s, target %s", kind, handle, eng.pair, targetSignedSize)
	return handle, nil
}

// IsComplete reports whether the instance has finished working its
// order. Unknown handles count as complete.
func (eng *Engine) IsComplete(handle Handle) bool {
	eng.mu.Lock()
	ins, ok := eng.instances[handle]
	eng.mu.Unlock()
	if !ok {
		return true
	}

	return ins.isComplete()
}

// AllComplete reports whether every instance has finished.
func (eng *Engine) AllComplete() bool {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	for _, ins := range eng.instances {
		if !ins.isComplete() {
			return false
		}
	}

	return true
}

// Run ticks the instances on a fixed interval until shutdown.
func (eng *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(eng.opt.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-sys.Shutdown():
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			eng.Tick(ctx)
		}
	}
}

// Tick advances every live instance once.
func (eng *Engine) Tick(ctx context.Context) {
	eng.mu.Lock()
	live := make([]instance, 0, len(eng.instances))
	for _, ins := range eng.instances {
		if !ins.isComplete() {
			live = append(live, ins)
		}
	}
	eng.mu.Unlock()

	for _, ins := range live {
		ins.onTick(ctx)
	}
}

// touchPrice is the current best bid for buys and best ask for sells.
func (eng *Engine) touchPrice(side book.Side) (decimal.Decimal, error) {
	if side == book.SideBuy {
		return eng.proc.BestBid()
	}

	return eng.proc.BestAsk()
}

// place registers the order with the tracker, then hands it to the
// order usecase. Registration comes first so a feed message naming the
// client oid always resolves, however fast the acknowledgement lands.
func (eng *Engine) place(signedSize, price decimal.Decimal) (string, error) {
	clientOID := uuid.NewString()
	if _, err := eng.tracker.Create(clientOID, eng.pair, signedSize); err != nil {
		return "", errors.Wrap(err, "register order")
	}

	side := book.SideBuy
	if signedSize.IsNegative() {
		side = book.SideSell
	}

	if err := eng.orders.Place(order.Request{
		Action:    order.ActionPlace,
		Pair:      eng.pair,
		ClientOID: clientOID,
		Side:      side,
		Price:     price,
		Size:      signedSize.Abs(),
	}); err != nil {
		// The order never left the process. Close it out locally so
		// the instance sees a terminal state.
		if _, rejErr := eng.tracker.ApplyRejected(clientOID, err.Error()); rejErr != nil {
			logs.Errorf("mark %s rejected: %+v", clientOID, rejErr)
		}
		return clientOID, errors.Wrap(err, "place order")
	}

	return clientOID, nil
}

// cancel is fire and forget. The done feed message is the real state
// change; a failed cancel call just means the next tick tries again.
func (eng *Engine) cancel(o og.TrackedOrder) {
	if err := eng.orders.Cancel(order.Request{
		Action:          order.ActionCancel,
		Pair:            eng.pair,
		ClientOID:       o.ClientOrderID,
		ExchangeOrderID: o.ExchangeOrderID,
	}); err != nil {
		logs.Warnf("cancel %s: %+v", o.ClientOrderID, err)
	}
}

// quantizeDown truncates a size to the pair increment.
func (eng *Engine) quantizeDown(size decimal.Decimal) decimal.Decimal {
	return size.Div(eng.opt.SizeIncrement).Floor().Mul(eng.opt.SizeIncrement)
}
