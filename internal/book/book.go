package book

import (
	"sort"

	"github.com/shopspring/decimal"

	"main/pkg/exception"
)

// Side marks which half of the book an order rests on.
type Side uint8

const (
	SideUnknown Side = iota
	SideBuy
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return "unknown"
	}
}

// ParseSide maps the feed's side field to a Side.
func ParseSide(s string) Side {
	switch s {
	case "buy":
		return SideBuy
	case "sell":
		return SideSell
	default:
		return SideUnknown
	}
}

// Order is a single resting order inside a price level. Only Size
// mutates after insertion.
type Order struct {
	ID    string
	Price decimal.Decimal
	Size  decimal.Decimal
	Side  Side
}

// Level holds all resting orders at one price, in arrival order. The
// head of Orders is the next to match. A level with no orders is
// removed from the book immediately.
type Level struct {
	Price  decimal.Decimal
	Orders []*Order
}

// Depth sums the sizes resting at this level.
func (l *Level) Depth() decimal.Decimal {
	total := decimal.Zero
	for _, o := range l.Orders {
		total = total.Add(o.Size)
	}
	return total
}

// Book is the mirrored limit order book for one pair. Bids are kept
// best (highest) first, asks best (lowest) first. The book knows
// nothing about sequencing; the feed processor owns that.
type Book struct {
	Pair     string
	Sequence int64

	bids []*Level
	asks []*Level
}

// New creates an empty book for the pair.
func New(pair string) *Book {
	return &Book{Pair: pair}
}

// LoadSnapshot replaces all book state with the given resting orders.
// Rows must arrive best-first per side with arrival order preserved
// within a level, the way a level-3 snapshot lists them.
func (b *Book) LoadSnapshot(bids, asks []Order, sequence int64) error {
	newBids, err := buildSide(bids, SideBuy)
	if err != nil {
		return err
	}
	newAsks, err := buildSide(asks, SideSell)
	if err != nil {
		return err
	}
	b.bids = newBids
	b.asks = newAsks
	b.Sequence = sequence
	return nil
}

func buildSide(orders []Order, side Side) ([]*Level, error) {
	levels := make([]*Level, 0, len(orders)/2+1)
	var curr *Level
	for i := range orders {
		o := orders[i]
		o.Side = side
		if curr != nil && curr.Price.Equal(o.Price) {
			for _, rest := range curr.Orders {
				if rest.ID == o.ID {
					return nil, exception.ErrBookInvalidSnapshot
				}
			}
			dup := o
			curr.Orders = append(curr.Orders, &dup)
			continue
		}
		if curr != nil {
			if side == SideBuy && o.Price.GreaterThanOrEqual(curr.Price) {
				return nil, exception.ErrBookInvalidSnapshot
			}
			if side == SideSell && o.Price.LessThanOrEqual(curr.Price) {
				return nil, exception.ErrBookInvalidSnapshot
			}
		}
		dup := o
		curr = &Level{Price: o.Price, Orders: []*Order{&dup}}
		levels = append(levels, curr)
	}
	return levels, nil
}

// Add appends the order to the tail of its price level, creating the
// level when absent.
func (b *Book) Add(o Order) error {
	side := b.sideLevels(o.Side)
	if side == nil {
		return exception.ErrBookUnknownSide
	}
	levels := *side
	idx, found := b.search(o.Side, o.Price)
	dup := o
	if found {
		levels[idx].Orders = append(levels[idx].Orders, &dup)
		return nil
	}
	level := &Level{Price: o.Price, Orders: []*Order{&dup}}
	levels = append(levels, nil)
	copy(levels[idx+1:], levels[idx:])
	levels[idx] = level
	*side = levels
	return nil
}

// Remove drops the named order from its level and the level itself
// once empty. A missing order is a no-op; it may have already matched.
func (b *Book) Remove(side Side, price decimal.Decimal, orderID string) {
	levels := b.sideLevels(side)
	if levels == nil {
		return
	}
	idx, found := b.search(side, price)
	if !found {
		return
	}
	level := (*levels)[idx]
	for i, o := range level.Orders {
		if o.ID == orderID {
			level.Orders = append(level.Orders[:i], level.Orders[i+1:]...)
			break
		}
	}
	if len(level.Orders) == 0 {
		b.dropLevel(side, idx)
	}
}

// Match consumes matchedSize from the maker order, which must be at
// the head of its level per price-time priority. A mismatched maker id
// leaves the book untouched and reports a priority violation.
func (b *Book) Match(side Side, price decimal.Decimal, makerOrderID string, matchedSize decimal.Decimal) error {
	levels := b.sideLevels(side)
	if levels == nil {
		return exception.ErrBookUnknownSide
	}
	idx, found := b.search(side, price)
	if !found {
		// level already gone, nothing to consume
		return nil
	}
	level := (*levels)[idx]
	head := level.Orders[0]
	if head.ID != makerOrderID {
		return exception.ErrBookPriorityViolation
	}
	head.Size = head.Size.Sub(matchedSize)
	if head.Size.Cmp(decimal.Zero) <= 0 {
		level.Orders = level.Orders[1:]
	}
	if len(level.Orders) == 0 {
		b.dropLevel(side, idx)
	}
	return nil
}

// Change replaces the size of the named order in place, keeping its
// queue position. Unknown price/order pairs are a no-op.
func (b *Book) Change(side Side, price decimal.Decimal, orderID string, newSize decimal.Decimal) {
	levels := b.sideLevels(side)
	if levels == nil {
		return
	}
	idx, found := b.search(side, price)
	if !found {
		return
	}
	for _, o := range (*levels)[idx].Orders {
		if o.ID == orderID {
			o.Size = newSize
			return
		}
	}
}

// BestBid returns the top-of-book bid price.
func (b *Book) BestBid() (decimal.Decimal, error) {
	if len(b.bids) == 0 {
		return decimal.Zero, exception.ErrBookEmptySide
	}
	return b.bids[0].Price, nil
}

// BestAsk returns the top-of-book ask price.
func (b *Book) BestAsk() (decimal.Decimal, error) {
	if len(b.asks) == 0 {
		return decimal.Zero, exception.ErrBookEmptySide
	}
	return b.asks[0].Price, nil
}

// CheckCrossed reports a consistency fault when both sides are
// populated and the best bid reaches the best ask. The caller decides
// how to recover; the book never repairs itself.
func (b *Book) CheckCrossed() error {
	if len(b.bids) == 0 || len(b.asks) == 0 {
		return nil
	}
	if b.bids[0].Price.GreaterThanOrEqual(b.asks[0].Price) {
		return exception.ErrBookCrossed
	}
	return nil
}

// Level returns the level at the price, when present.
func (b *Book) Level(side Side, price decimal.Decimal) (*Level, bool) {
	levels := b.sideLevels(side)
	if levels == nil {
		return nil, false
	}
	idx, found := b.search(side, price)
	if !found {
		return nil, false
	}
	return (*levels)[idx], true
}

// Levels reports how many price levels the side holds.
func (b *Book) Levels(side Side) int {
	levels := b.sideLevels(side)
	if levels == nil {
		return 0
	}
	return len(*levels)
}

func (b *Book) dropLevel(side Side, idx int) {
	levels := b.sideLevels(side)
	*levels = append((*levels)[:idx], (*levels)[idx+1:]...)
}

func (b *Book) sideLevels(side Side) *[]*Level {
	switch side {
	case SideBuy:
		return &b.bids
	case SideSell:
		return &b.asks
	default:
		return nil
	}
}

// search locates the insertion index for price on the side, reporting
// whether a level at exactly that price exists. Bids are ordered
// descending, asks ascending.
func (b *Book) search(side Side, price decimal.Decimal) (int, bool) {
	levels := *b.sideLevels(side)
	var idx int
	if side == SideBuy {
		idx = sort.Search(len(levels), func(i int) bool {
			return levels[i].Price.LessThanOrEqual(price)
		})
	} else {
		idx = sort.Search(len(levels), func(i int) bool {
			return levels[i].Price.GreaterThanOrEqual(price)
		})
	}
	if idx < len(levels) && levels[idx].Price.Equal(price) {
		return idx, true
	}
	return idx, false
}
