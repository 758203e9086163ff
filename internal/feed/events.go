package feed

import (
	"context"

	"github.com/shopspring/decimal"

	"main/internal/book"
	"main/internal/og"
)

// Snapshot is a full level-3 book image plus its sequence number.
// Rows are listed best-first per side, arrival order within a level.
type Snapshot struct {
	Sequence int64
	Bids     []book.Order
	Asks     []book.Order
}

// SnapshotFetcher fetches a fresh book snapshot for resync.
type SnapshotFetcher interface {
	GetSnapshot(ctx context.Context, pair string) (Snapshot, error)
}

// Event is one unit of work for the per-pair processing loop. Feed
// messages and REST completions all funnel through the same queue so
// book and tracker state has a single writer.
type Event interface{ isEvent() }

// EventMessage carries one parsed feed message.
type EventMessage struct {
	Msg Message
}

func (EventMessage) isEvent() {}

// EventSnapshot carries the result of a snapshot fetch.
type EventSnapshot struct {
	Snapshot Snapshot
	Err      error
}

func (EventSnapshot) isEvent() {}

// EventPlaceAck carries the outcome of a REST order placement.
type EventPlaceAck struct {
	ClientOID       string
	ExchangeOrderID string
	Price           decimal.Decimal
	Rejected        bool
	Reason          string
	Err             error
}

func (EventPlaceAck) isEvent() {}

// EventCancelAck carries the outcome of a REST cancel request.
type EventCancelAck struct {
	ClientOID string
	Err       error
}

func (EventCancelAck) isEvent() {}

// NoticeKind enumerates processor notifications.
type NoticeKind uint8

const (
	// NoticeInitialized fires once the first snapshot is loaded.
	NoticeInitialized NoticeKind = iota + 1
	// NoticeOrderUpdate fires whenever a tracked order changes.
	NoticeOrderUpdate
)

// Notice is a typed notification published by the processor.
type Notice struct {
	Kind  NoticeKind
	Pair  string
	Order og.TrackedOrder
}
