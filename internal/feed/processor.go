package feed

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/book"
	"main/internal/bus"
	"main/internal/og"
	"main/pkg/exception"
)

// ProcState is the sequencing state of one pair's processor.
type ProcState uint8

const (
	StateUninitialized ProcState = iota
	StateSynced
	StateGapDetected
	StateResyncing
)

func (s ProcState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateSynced:
		return "synced"
	case StateGapDetected:
		return "gap_detected"
	case StateResyncing:
		return "resyncing"
	default:
		return "unknown"
	}
}

const (
	defaultQueueCapacity   = 4096
	defaultSnapshotTimeout = 10 * time.Second
)

// Option tunes a processor.
type Option struct {
	QueueCapacity   int
	SnapshotTimeout time.Duration
}

// Processor keeps one pair's book consistent with its sequenced feed.
// All book and tracker mutation happens on the goroutine running Run;
// feed messages and REST completions are enqueued from outside. Reads
// for the strategy tick go through the mutex-guarded view methods.
type Processor struct {
	pair    string
	fetcher SnapshotFetcher
	tracker *og.Tracker
	queue   *bus.Queue[Event]
	notices *bus.Topic[Notice]
	opt     Option

	mu          sync.RWMutex
	bk          *book.Book
	state       ProcState
	initialized bool

	// loop-local, touched only inside handle
	runCtx        context.Context
	pending       []Message
	fetchInFlight bool
	resyncs       int
}

// NewProcessor creates a processor for the pair. The fetcher supplies
// snapshots for the initial load and every resync.
func NewProcessor(pair string, fetcher SnapshotFetcher, tracker *og.Tracker, opt Option) *Processor {
	if opt.QueueCapacity <= 0 {
		opt.QueueCapacity = defaultQueueCapacity
	}
	if opt.SnapshotTimeout <= 0 {
		opt.SnapshotTimeout = defaultSnapshotTimeout
	}
	return &Processor{
		pair:    pair,
		fetcher: fetcher,
		tracker: tracker,
		queue:   bus.NewQueue[Event](opt.QueueCapacity),
		notices: bus.NewTopic[Notice](),
		opt:     opt,
		bk:      book.New(pair),
		state:   StateUninitialized,
	}
}

// Run drains the event queue until the context is done. It owns all
// mutation of the pair's book and tracker.
func (p *Processor) Run(ctx context.Context) {
	p.runCtx = ctx
	p.queue.Run(ctx, p.handle)
}

// Enqueue hands an event to the processing loop without blocking.
func (p *Processor) Enqueue(e Event) error {
	if err := p.queue.TryPublish(e); err != nil {
		return errors.Wrap(exception.ErrFeedQueueFull, p.pair)
	}
	return nil
}

// Notices returns the processor's notification topic.
func (p *Processor) Notices() *bus.Topic[Notice] {
	return p.notices
}

// Pair returns the trading pair this processor owns.
func (p *Processor) Pair() string {
	return p.pair
}

// IsInitialized reports whether the first snapshot has been applied.
func (p *Processor) IsInitialized() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.initialized
}

// State returns the current sequencing state.
func (p *Processor) State() ProcState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Resyncs counts completed snapshot loads beyond the initial one.
func (p *Processor) Resyncs() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.resyncs
}

// BestBid returns the top-of-book bid.
func (p *Processor) BestBid() (decimal.Decimal, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.initialized {
		return decimal.Zero, exception.ErrFeedNotInitialized
	}
	return p.bk.BestBid()
}

// BestAsk returns the top-of-book ask.
func (p *Processor) BestAsk() (decimal.Decimal, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.initialized {
		return decimal.Zero, exception.ErrFeedNotInitialized
	}
	return p.bk.BestAsk()
}

// Sequence returns the last applied sequence number.
func (p *Processor) Sequence() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.bk.Sequence
}

// Book exposes the underlying book for inspection under the read lock.
func (p *Processor) Book(fn func(b *book.Book)) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	fn(p.bk)
}

func (p *Processor) handle(e Event) {
	switch ev := e.(type) {
	case EventMessage:
		p.handleMessage(ev.Msg)
	case EventSnapshot:
		p.handleSnapshot(ev)
	case EventPlaceAck:
		p.handlePlaceAck(ev)
	case EventCancelAck:
		p.handleCancelAck(ev)
	}
}

func (p *Processor) handleMessage(msg Message) {
	switch m := msg.(type) {
	case FeedError:
		logs.Errorf("feed %s: exchange error: %s %s", p.pair, m.Message, m.Reason)
		return
	case Subscriptions:
		for _, ch := range m.Channels {
			logs.Infof("feed %s: subscribed %s %v", p.pair, ch.Name, ch.Products)
		}
		return
	}

	p.mu.RLock()
	state := p.state
	p.mu.RUnlock()

	switch state {
	case StateUninitialized, StateGapDetected, StateResyncing:
		p.pending = append(p.pending, msg)
		p.requestSnapshot()
	case StateSynced:
		seq := msg.Seq()
		curr := p.bk.Sequence
		switch {
		case seq <= curr:
			// stale or duplicate
		case seq == curr+1:
			p.apply(msg)
		default:
			logs.Errorf("feed %s: sequence gap %d -> %d, resyncing", p.pair, curr, seq)
			p.setState(StateGapDetected)
			p.pending = append(p.pending, msg)
			p.forceResync()
		}
	}
}

func (p *Processor) handleSnapshot(ev EventSnapshot) {
	p.fetchInFlight = false
	if ev.Err != nil {
		logs.Errorf("feed %s: snapshot fetch failed, err: %+v", p.pair, ev.Err)
		// next message retries the fetch
		return
	}

	first := !p.initialized

	p.mu.Lock()
	err := p.bk.LoadSnapshot(ev.Snapshot.Bids, ev.Snapshot.Asks, ev.Snapshot.Sequence)
	if err == nil {
		err = p.bk.CheckCrossed()
	}
	if err == nil {
		p.state = StateSynced
		p.initialized = true
		if !first {
			p.resyncs++
		}
	}
	p.mu.Unlock()

	if err != nil {
		logs.Errorf("feed %s: snapshot rejected, err: %+v", p.pair, err)
		p.pending = p.pending[:0]
		return
	}

	logs.Infof("feed %s: book loaded at sequence %d", p.pair, ev.Snapshot.Sequence)

	replay := p.pending
	p.pending = nil
	for _, msg := range replay {
		if msg.Seq() <= ev.Snapshot.Sequence {
			continue
		}
		p.handleMessage(msg)
	}

	if first {
		p.notices.Publish(Notice{Kind: NoticeInitialized, Pair: p.pair})
	}
}

func (p *Processor) handlePlaceAck(ev EventPlaceAck) {
	if ev.Err != nil || ev.Rejected {
		reason := ev.Reason
		if reason == "" && ev.Err != nil {
			reason = ev.Err.Error()
		}
		order, err := p.tracker.ApplyRejected(ev.ClientOID, reason)
		if err != nil {
			logs.Errorf("feed %s: reject ack for unknown order %s", p.pair, ev.ClientOID)
			return
		}
		logs.Warnf("feed %s: order %s rejected: %s", p.pair, ev.ClientOID, reason)
		p.notices.Publish(Notice{Kind: NoticeOrderUpdate, Pair: p.pair, Order: order})
		return
	}

	order, err := p.tracker.ApplyPlaced(ev.ClientOID, ev.ExchangeOrderID, ev.Price)
	if err != nil {
		logs.Errorf("feed %s: place ack for unknown order %s", p.pair, ev.ClientOID)
		return
	}
	p.notices.Publish(Notice{Kind: NoticeOrderUpdate, Pair: p.pair, Order: order})
}

func (p *Processor) handleCancelAck(ev EventCancelAck) {
	// cancellation is fire and forget; the done feed message is the
	// authoritative state change
	if ev.Err != nil {
		logs.Warnf("feed %s: cancel %s failed, err: %+v", p.pair, ev.ClientOID, ev.Err)
	}
}

// apply dispatches one in-sequence message to the book, forwards it to
// the tracker when it references one of our orders, and advances the
// sequence number.
func (p *Processor) apply(msg Message) {
	p.mu.Lock()
	fault := p.applyToBook(msg)
	if fault == nil {
		fault = p.bk.CheckCrossed()
	}
	p.bk.Sequence = msg.Seq()
	p.mu.Unlock()

	// our orders are updated regardless of the book outcome
	p.forwardToTracker(msg)

	if fault != nil {
		logs.Errorf("feed %s: consistency fault at seq %d, err: %+v", p.pair, msg.Seq(), fault)
		p.setState(StateGapDetected)
		p.forceResync()
	}
}

func (p *Processor) applyToBook(msg Message) error {
	switch m := msg.(type) {
	case Open:
		return p.bk.Add(book.Order{
			ID:    m.OrderID,
			Price: m.Price,
			Size:  m.RemainingSize,
			Side:  m.Side,
		})
	case Done:
		if !m.HasPrice {
			// order never rested
			return nil
		}
		p.bk.Remove(m.Side, m.Price, m.OrderID)
		return nil
	case Match:
		return p.bk.Match(m.Side, m.Price, m.MakerOrderID, m.Size)
	case Change:
		if !m.HasPrice || !m.HasNewSize {
			return nil
		}
		p.bk.Change(m.Side, m.Price, m.OrderID, m.NewSize)
		return nil
	default:
		// received, heartbeat, ticker: no book effect
		return nil
	}
}

func (p *Processor) forwardToTracker(msg Message) {
	if p.tracker == nil {
		return
	}
	var (
		order og.TrackedOrder
		ok    bool
		owned bool
	)
	switch m := msg.(type) {
	case Received:
		owned = m.UserID != "" || p.tracker.Owns(m.ClientOID, m.OrderID)
		order, ok = p.tracker.ApplyReceived(m.ClientOID, m.OrderID)
	case Open:
		owned = m.UserID != "" || p.tracker.Owns(m.ClientOID, m.OrderID)
		order, ok = p.tracker.ApplyOpen(m.ClientOID, m.OrderID)
	case Match:
		owned = m.UserID != "" || p.tracker.Owns(m.MakerOrderID, m.TakerOrderID)
		order, ok = p.tracker.ApplyMatch(m.MakerOrderID, m.TakerOrderID, m.Size)
	case Done:
		owned = m.UserID != "" || p.tracker.Owns(m.ClientOID, m.OrderID)
		order, ok = p.tracker.ApplyDone(m.ClientOID, m.OrderID, m.Reason)
	case Change:
		owned = m.UserID != "" || p.tracker.Owns(m.ClientOID, m.OrderID)
		order, ok = p.tracker.ApplyChange(m.ClientOID, m.OrderID, m.NewSize, m.HasNewSize)
	default:
		return
	}
	if !ok {
		if owned {
			// flagged as ours but no tracked order resolves: not an
			// error, the feed shows every order on the account
			logs.Debugf("feed %s: unresolved order reference in %s", p.pair, msg.Kind())
		}
		return
	}
	p.notices.Publish(Notice{Kind: NoticeOrderUpdate, Pair: p.pair, Order: order})
}

func (p *Processor) setState(s ProcState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *Processor) forceResync() {
	p.setState(StateResyncing)
	p.requestSnapshot()
}

// requestSnapshot starts one snapshot fetch. Concurrent triggers are
// collapsed so a burst of gap messages causes exactly one resync.
func (p *Processor) requestSnapshot() {
	if p.fetchInFlight {
		return
	}
	p.fetchInFlight = true

	base := p.runCtx
	if base == nil {
		base = context.Background()
	}
	go func() {
		ctx, cancel := context.WithTimeout(base, p.opt.SnapshotTimeout)
		defer cancel()
		snap, err := p.fetcher.GetSnapshot(ctx, p.pair)
		_ = p.queue.TryPublish(EventSnapshot{Snapshot: snap, Err: err})
	}()
}
