package feed

import (
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"main/internal/book"
	"main/pkg/exception"
)

// Kind enumerates the closed set of feed message variants.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindOpen
	KindDone
	KindMatch
	KindChange
	KindReceived
	KindHeartbeat
	KindTicker
	KindSubscriptions
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindOpen:
		return "open"
	case KindDone:
		return "done"
	case KindMatch:
		return "match"
	case KindChange:
		return "change"
	case KindReceived:
		return "received"
	case KindHeartbeat:
		return "heartbeat"
	case KindTicker:
		return "ticker"
	case KindSubscriptions:
		return "subscriptions"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Message is one parsed feed message. The set of implementations is
// closed; each variant carries only the fields valid for its kind.
type Message interface {
	Kind() Kind
	Seq() int64
}

// Open is an order going active on the book.
type Open struct {
	Sequence      int64
	OrderID       string
	ClientOID     string
	UserID        string
	Side          book.Side
	Price         decimal.Decimal
	RemainingSize decimal.Decimal
}

func (m Open) Kind() Kind { return KindOpen }
func (m Open) Seq() int64 { return m.Sequence }

// Done is an order leaving the book, either filled or canceled. Orders
// that never rested (taker fills, rejected stops) carry no price.
type Done struct {
	Sequence      int64
	OrderID       string
	ClientOID     string
	UserID        string
	Side          book.Side
	Price         decimal.Decimal
	HasPrice      bool
	RemainingSize decimal.Decimal
	Reason        string
}

func (m Done) Kind() Kind { return KindDone }
func (m Done) Seq() int64 { return m.Sequence }

// Match is a trade against the resting maker order.
type Match struct {
	Sequence     int64
	MakerOrderID string
	TakerOrderID string
	UserID       string
	Side         book.Side
	Price        decimal.Decimal
	Size         decimal.Decimal
}

func (m Match) Kind() Kind { return KindMatch }
func (m Match) Seq() int64 { return m.Sequence }

// Change is an in-place size modification of a resting order.
type Change struct {
	Sequence   int64
	OrderID    string
	ClientOID  string
	UserID     string
	Side       book.Side
	Price      decimal.Decimal
	HasPrice   bool
	NewSize    decimal.Decimal
	HasNewSize bool
}

func (m Change) Kind() Kind { return KindChange }
func (m Change) Seq() int64 { return m.Sequence }

// Received acknowledges that the exchange accepted an order; it has no
// book effect.
type Received struct {
	Sequence  int64
	OrderID   string
	ClientOID string
	UserID    string
	Side      book.Side
	Price     decimal.Decimal
	Size      decimal.Decimal
}

func (m Received) Kind() Kind { return KindReceived }
func (m Received) Seq() int64 { return m.Sequence }

// Heartbeat keeps the subscription alive; no book effect.
type Heartbeat struct {
	Sequence int64
}

func (m Heartbeat) Kind() Kind { return KindHeartbeat }
func (m Heartbeat) Seq() int64 { return m.Sequence }

// Ticker is a top-of-book summary; no book effect.
type Ticker struct {
	Sequence int64
	Price    decimal.Decimal
}

func (m Ticker) Kind() Kind { return KindTicker }
func (m Ticker) Seq() int64 { return m.Sequence }

// Subscriptions confirms channel subscriptions; no book effect.
type Subscriptions struct {
	Channels []SubscribedChannel
}

type SubscribedChannel struct {
	Name     string
	Products []string
}

func (m Subscriptions) Kind() Kind { return KindSubscriptions }
func (m Subscriptions) Seq() int64 { return 0 }

// FeedError is an error frame from the exchange; non-fatal to the
// stream.
type FeedError struct {
	Message string
	Reason  string
}

func (m FeedError) Kind() Kind { return KindError }
func (m FeedError) Seq() int64 { return 0 }

// Envelope is the raw wire shape. Every field is optional; each
// message kind populates its own subset and extra fields are ignored.
type Envelope struct {
	Type          string `json:"type"`
	Sequence      int64  `json:"sequence"`
	ProductID     string `json:"product_id"`
	Price         string `json:"price"`
	Size          string `json:"size"`
	RemainingSize string `json:"remaining_size"`
	NewSize       string `json:"new_size"`
	Side          string `json:"side"`
	OrderID       string `json:"order_id"`
	MakerOrderID  string `json:"maker_order_id"`
	TakerOrderID  string `json:"taker_order_id"`
	ClientOID     string `json:"client_oid"`
	UserID        string `json:"user_id"`
	Reason        string `json:"reason"`
	Message       string `json:"message"`
	Channels      []struct {
		Name       string   `json:"name"`
		ProductIDs []string `json:"product_ids"`
	} `json:"channels"`
}

// Parse converts a wire envelope into its typed variant. Fields that a
// kind requires but cannot be decoded make the whole message
// malformed; the caller logs and drops it.
func Parse(env Envelope) (Message, error) {
	switch env.Type {
	case "open":
		price, err := requireDecimal(env.Price, "price")
		if err != nil {
			return nil, err
		}
		remaining, err := requireDecimal(env.RemainingSize, "remaining_size")
		if err != nil {
			return nil, err
		}
		return Open{
			Sequence:      env.Sequence,
			OrderID:       env.OrderID,
			ClientOID:     env.ClientOID,
			UserID:        env.UserID,
			Side:          book.ParseSide(env.Side),
			Price:         price,
			RemainingSize: remaining,
		}, nil
	case "done":
		m := Done{
			Sequence:  env.Sequence,
			OrderID:   env.OrderID,
			ClientOID: env.ClientOID,
			UserID:    env.UserID,
			Side:      book.ParseSide(env.Side),
			Reason:    env.Reason,
		}
		if env.Price != "" {
			price, err := requireDecimal(env.Price, "price")
			if err != nil {
				return nil, err
			}
			m.Price = price
			m.HasPrice = true
		}
		if env.RemainingSize != "" {
			remaining, err := requireDecimal(env.RemainingSize, "remaining_size")
			if err != nil {
				return nil, err
			}
			m.RemainingSize = remaining
		}
		return m, nil
	case "match":
		price, err := requireDecimal(env.Price, "price")
		if err != nil {
			return nil, err
		}
		size, err := requireDecimal(env.Size, "size")
		if err != nil {
			return nil, err
		}
		return Match{
			Sequence:     env.Sequence,
			MakerOrderID: env.MakerOrderID,
			TakerOrderID: env.TakerOrderID,
			UserID:       env.UserID,
			Side:         book.ParseSide(env.Side),
			Price:        price,
			Size:         size,
		}, nil
	case "change":
		m := Change{
			Sequence:  env.Sequence,
			OrderID:   env.OrderID,
			ClientOID: env.ClientOID,
			UserID:    env.UserID,
			Side:      book.ParseSide(env.Side),
		}
		if env.Price != "" {
			price, err := requireDecimal(env.Price, "price")
			if err != nil {
				return nil, err
			}
			m.Price = price
			m.HasPrice = true
		}
		if env.NewSize != "" {
			size, err := requireDecimal(env.NewSize, "new_size")
			if err != nil {
				return nil, err
			}
			m.NewSize = size
			m.HasNewSize = true
		}
		return m, nil
	case "received":
		m := Received{
			Sequence:  env.Sequence,
			OrderID:   env.OrderID,
			ClientOID: env.ClientOID,
			UserID:    env.UserID,
			Side:      book.ParseSide(env.Side),
		}
		if env.Price != "" {
			price, err := requireDecimal(env.Price, "price")
			if err != nil {
				return nil, err
			}
			m.Price = price
		}
		if env.Size != "" {
			size, err := requireDecimal(env.Size, "size")
			if err != nil {
				return nil, err
			}
			m.Size = size
		}
		return m, nil
	case "heartbeat":
		return Heartbeat{Sequence: env.Sequence}, nil
	case "ticker":
		m := Ticker{Sequence: env.Sequence}
		if env.Price != "" {
			price, err := requireDecimal(env.Price, "price")
			if err != nil {
				return nil, err
			}
			m.Price = price
		}
		return m, nil
	case "subscriptions":
		m := Subscriptions{}
		for _, ch := range env.Channels {
			m.Channels = append(m.Channels, SubscribedChannel{Name: ch.Name, Products: ch.ProductIDs})
		}
		return m, nil
	case "error":
		return FeedError{Message: env.Message, Reason: env.Reason}, nil
	default:
		return nil, errors.Wrap(exception.ErrFeedUnknownType, env.Type)
	}
}

func requireDecimal(raw, field string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, errors.Wrap(exception.ErrFeedMalformedMessage, field)
	}
	return d, nil
}
