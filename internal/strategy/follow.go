package strategy

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/book"
)

// followStrategy keeps one order resting at the touch, cancelling and
// replacing it whenever the touch moves past the resting price.
type followStrategy struct {
	eng       *Engine
	target    decimal.Decimal
	clientOID string
	completed bool
}

func (s *followStrategy) init(ctx context.Context) error {
	side := book.SideBuy
	if s.target.IsNegative() {
		side = book.SideSell
	}

	price, err := s.eng.touchPrice(side)
	if err != nil {
		return errors.Wrap(err, "touch price")
	}

	s.clientOID, err = s.eng.place(s.target, price)
	return err
}

func (s *followStrategy) onTick(_ context.Context) {
	if s.completed {
		return
	}

	o, ok := s.eng.tracker.Order(s.clientOID)
	if !ok {
		s.completed = true
		return
	}
	if o.State.Terminal() {
		s.completed = true
		logs.Infof("follow strategy done: %s %s filled %s/%s (%s)",
			s.eng.pair, s.clientOID, o.FilledSize, o.TotalSize, o.DoneReason)
		return
	}
	if !o.HasLimit {
		// Still waiting on the placement acknowledgement.
		return
	}

	touch, err := s.eng.touchPrice(o.Side())
	if err != nil {
		return
	}

	if !stale(o.Side(), o.LimitPrice, touch) {
		return
	}

	// Cancel first, then replace with whatever is still unfilled.
	// Fills that landed before the cancel takes effect shrink the
	// replacement rather than getting bought twice.
	s.eng.cancel(o)

	remaining := s.eng.quantizeDown(o.Remaining())
	if !remaining.IsPositive() {
		s.completed = true
		return
	}

	signed := remaining
	if o.Side() == book.SideSell {
		signed = remaining.Neg()
	}

	newOID, err := s.eng.place(signed, touch)
	if err != nil {
		logs.Warnf("follow replace on %s: %+v", s.eng.pair, err)
	}
	if newOID != "" {
		s.clientOID = newOID
	}
}

// stale reports whether the touch has moved past the resting price:
// for a buy the best bid climbed above it, for a sell the best ask
// dropped below it.
func stale(side book.Side, limit, touch decimal.Decimal) bool {
	if side == book.SideBuy {
		return touch.GreaterThan(limit)
	}

	return touch.LessThan(limit)
}

func (s *followStrategy) isComplete() bool {
	return s.completed
}
