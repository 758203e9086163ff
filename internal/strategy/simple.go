package strategy

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/book"
)

// simpleStrategy places one order at the touch and leaves it alone.
type simpleStrategy struct {
	eng       *Engine
	target    decimal.Decimal
	clientOID string
	completed bool
}

func (s *simpleStrategy) init(ctx context.Context) error {
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

func (s *simpleStrategy) onTick(_ context.Context) {
	if s.completed {
		return
	}

	o, ok := s.eng.tracker.Order(s.clientOID)
	if !ok || o.State.Terminal() {
		s.completed = true
		if ok {
			logs.Infof("simple strategy done: %s %s filled %s/%s (%s)",
				s.eng.pair, s.clientOID, o.FilledSize, o.TotalSize, o.DoneReason)
		}
	}
}

func (s *simpleStrategy) isComplete() bool {
	return s.completed
}
