package order

import (
	"context"

	"github.com/shopspring/decimal"

	"main/internal/book"
	"main/internal/feed"
)

// PlaceRequest asks the exchange to rest a limit order.
type PlaceRequest struct {
	Pair      string
	ClientOID string
	Side      book.Side
	Price     decimal.Decimal
	Size      decimal.Decimal
	PostOnly  bool
}

// PlaceResponse is the REST placement outcome. A rejection is a valid
// business answer, not a transport error.
type PlaceResponse struct {
	ExchangeOrderID string
	Rejected        bool
	Reason          string
}

// Status is the exchange's view of one order.
type Status struct {
	ExchangeOrderID string
	ClientOID       string
	Pair            string
	Side            book.Side
	Price           decimal.Decimal
	Size            decimal.Decimal
	FilledSize      decimal.Decimal
	State           string
	Settled         bool
}

// Delegator is the thin gateway to the exchange REST API. Every call
// is bounded by its context; rate limits are retried with backoff
// inside the implementation and surfaced as that call's failure once
// attempts are exhausted.
type Delegator interface {
	PlaceOrder(ctx context.Context, req PlaceRequest) (PlaceResponse, error)
	CancelOrder(ctx context.Context, exchangeOrderID, clientOID string) error
	GetOrder(ctx context.Context, exchangeOrderID string) (Status, error)
	GetSnapshot(ctx context.Context, pair string) (feed.Snapshot, error)
	GetOpenOrders(ctx context.Context, pair string) ([]Status, error)
}
