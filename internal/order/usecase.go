package order

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/book"
	"main/internal/feed"
	"main/internal/og"
	"main/internal/risk"
	"main/pkg/exception"
)

// Action selects what a queued request does.
type Action uint8

const (
	ActionPlace Action = iota + 1
	ActionCancel
)

// Request is one unit of work for the gateway workers.
type Request struct {
	Action          Action
	Pair            string
	ClientOID       string
	ExchangeOrderID string
	Side            book.Side
	Price           decimal.Decimal
	Size            decimal.Decimal
}

// Sink receives REST completions so they are applied to shared state
// on the pair's own processing loop, never inline.
type Sink interface {
	Enqueue(pair string, e feed.Event) error
}

// Option tunes the usecase worker pool.
type Option struct {
	Workers     int
	QueueCap    int
	CallTimeout time.Duration
}

// Usecase queues place/cancel requests and executes them on a worker
// pool so REST latency never blocks feed consumption. Risk limits run
// before a place request is accepted.
type Usecase struct {
	delegator  Delegator
	riskEngine *risk.Engine
	tracker    *og.Tracker
	sink       Sink
	opt        Option

	queue   chan Request
	running atomic.Bool
	wg      sync.WaitGroup
}

// NewUsecase wires the worker pool. The tracker is consulted for
// idempotent cancels and the live-order count fed to risk checks.
func NewUsecase(delegator Delegator, riskEngine *risk.Engine, tracker *og.Tracker, sink Sink, opt Option) *Usecase {
	if opt.Workers <= 0 {
		opt.Workers = 2
	}
	if opt.QueueCap <= 0 {
		opt.QueueCap = 64
	}
	if opt.CallTimeout <= 0 {
		opt.CallTimeout = 15 * time.Second
	}
	return &Usecase{
		delegator:  delegator,
		riskEngine: riskEngine,
		tracker:    tracker,
		sink:       sink,
		opt:        opt,
		queue:      make(chan Request, opt.QueueCap),
	}
}

// Place queues a placement request. The caller must have created the
// tracked order under req.ClientOID already, so a feed ack arriving
// right after the REST call can always be matched.
func (use *Usecase) Place(req Request) error {
	if use == nil || use.delegator == nil {
		return exception.ErrOrderNilDelegator
	}
	if req.ClientOID == "" || req.Pair == "" || !req.Size.IsPositive() {
		return exception.ErrOrderInvalidRequest
	}

	decision := use.riskEngine.Evaluate(risk.Intent{
		Pair:       req.Pair,
		Price:      req.Price,
		Size:       req.Size,
		OpenOrders: use.tracker.Live(),
	})
	if !decision.Allow {
		return errors.Wrap(exception.ErrOrderRiskDenied, string(decision.Reason))
	}

	req.Action = ActionPlace
	select {
	case use.queue <- req:
		return nil
	default:
		return exception.ErrOrderQueueFull
	}
}

// Cancel queues a cancel request. Canceling an order that already
// reached a terminal state succeeds without touching it.
func (use *Usecase) Cancel(req Request) error {
	if use == nil || use.delegator == nil {
		return exception.ErrOrderNilDelegator
	}
	if o, ok := use.tracker.Order(req.ClientOID); ok {
		if o.State.Terminal() {
			return nil
		}
		if req.ExchangeOrderID == "" {
			req.ExchangeOrderID = o.ExchangeOrderID
		}
		if req.Pair == "" {
			req.Pair = o.Pair
		}
	}

	req.Action = ActionCancel
	select {
	case use.queue <- req:
		return nil
	default:
		return exception.ErrOrderQueueFull
	}
}

// Run starts the workers. They stop accepting new requests when the
// context is canceled but always finish the call in flight; Shutdown
// waits for that drain.
func (use *Usecase) Run(ctx context.Context) {
	if use.running.Swap(true) {
		return
	}
	for range use.opt.Workers {
		use.wg.Add(1)
		go use.worker(ctx)
	}
}

// Shutdown blocks until in-flight REST calls complete, or the timeout
// elapses. A timeout is reported so orphaned live orders are visible.
func (use *Usecase) Shutdown(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		use.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.New("order: shutdown drain timed out")
	}
}

func (use *Usecase) worker(ctx context.Context) {
	defer use.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-use.queue:
			use.execute(ctx, req)
		}
	}
}

func (use *Usecase) execute(ctx context.Context, req Request) {
	// the call survives root cancellation so shutdown never abandons
	// an in-flight request, but it still times out on its own
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), use.opt.CallTimeout)
	defer cancel()

	switch req.Action {
	case ActionPlace:
		resp, err := use.delegator.PlaceOrder(callCtx, PlaceRequest{
			Pair:      req.Pair,
			ClientOID: req.ClientOID,
			Side:      req.Side,
			Price:     req.Price,
			Size:      req.Size,
			PostOnly:  true,
		})
		ack := feed.EventPlaceAck{
			ClientOID:       req.ClientOID,
			ExchangeOrderID: resp.ExchangeOrderID,
			Price:           req.Price,
			Rejected:        resp.Rejected,
			Reason:          resp.Reason,
			Err:             err,
		}
		if err := use.sink.Enqueue(req.Pair, ack); err != nil {
			logs.Errorf("order: drop place ack for %s, err: %+v", req.ClientOID, err)
		}
	case ActionCancel:
		err := use.delegator.CancelOrder(callCtx, req.ExchangeOrderID, req.ClientOID)
		if err := use.sink.Enqueue(req.Pair, feed.EventCancelAck{ClientOID: req.ClientOID, Err: err}); err != nil {
			logs.Errorf("order: drop cancel ack for %s, err: %+v", req.ClientOID, err)
		}
	default:
		logs.Errorf("order: unsupported action %d", req.Action)
	}
}
