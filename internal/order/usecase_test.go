package order

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"

	"main/internal/book"
	"main/internal/feed"
	"main/internal/og"
	"main/internal/risk"
	"main/pkg/exception"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

type recordingDelegator struct {
	mu       sync.Mutex
	placed   []PlaceRequest
	canceled []string
	placeErr error
}

func (r *recordingDelegator) PlaceOrder(_ context.Context, req PlaceRequest) (PlaceResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.placeErr != nil {
		return PlaceResponse{}, r.placeErr
	}
	r.placed = append(r.placed, req)
	return PlaceResponse{ExchangeOrderID: "ex-1"}, nil
}

func (r *recordingDelegator) CancelOrder(_ context.Context, _, clientOID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.canceled = append(r.canceled, clientOID)
	return nil
}

func (r *recordingDelegator) GetOrder(_ context.Context, _ string) (Status, error) {
	return Status{}, nil
}

func (r *recordingDelegator) GetOpenOrders(_ context.Context, _ string) ([]Status, error) {
	return nil, nil
}

func (r *recordingDelegator) GetSnapshot(_ context.Context, _ string) (feed.Snapshot, error) {
	return feed.Snapshot{}, nil
}

// recordingSink collects the acknowledgements fanned back to the feed
// task.
type recordingSink struct {
	mu     sync.Mutex
	events []feed.Event
}

func (s *recordingSink) Enqueue(_ string, e feed.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) await(t *testing.T) feed.Event {
	t.Helper()
	var out feed.Event
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		if len(s.events) == 0 {
			return false
		}
		out = s.events[0]
		s.events = s.events[1:]
		return true
	}, 2*time.Second, 5*time.Millisecond)
	return out
}

func newTestUsecase(t *testing.T, delegator Delegator, riskCfg risk.Config) (*Usecase, *og.Tracker, *recordingSink) {
	t.Helper()
	tracker := og.NewTracker(d("0.00001"))
	sink := &recordingSink{}
	use := NewUsecase(delegator, risk.NewEngine(riskCfg), tracker, sink, Option{})
	use.Run(t.Context())
	return use, tracker, sink
}

func placeReq(oid string) Request {
	return Request{
		Pair:      "BTC-USD",
		ClientOID: oid,
		Side:      book.SideBuy,
		Price:     d("99.50"),
		Size:      d("1"),
	}
}

func TestPlaceDeliversAck(t *testing.T) {
	delegator := &recordingDelegator{}
	use, tracker, sink := newTestUsecase(t, delegator, risk.Config{})
	_, err := tracker.Create("c1", "BTC-USD", d("1"))
	require.NoError(t, err)

	require.NoError(t, use.Place(placeReq("c1")))

	ack, ok := sink.await(t).(feed.EventPlaceAck)
	require.True(t, ok)
	assert.Equal(t, "c1", ack.ClientOID)
	assert.Equal(t, "ex-1", ack.ExchangeOrderID)
	assert.False(t, ack.Rejected)
	assert.NoError(t, ack.Err)

	delegator.mu.Lock()
	defer delegator.mu.Unlock()
	require.Len(t, delegator.placed, 1)
	assert.True(t, delegator.placed[0].PostOnly, "orders always go out post only")
}

func TestPlaceDeliveryFailureBecomesAck(t *testing.T) {
	delegator := &recordingDelegator{placeErr: errors.New("connection refused")}
	use, tracker, sink := newTestUsecase(t, delegator, risk.Config{})
	_, err := tracker.Create("c1", "BTC-USD", d("1"))
	require.NoError(t, err)

	require.NoError(t, use.Place(placeReq("c1")))

	ack, ok := sink.await(t).(feed.EventPlaceAck)
	require.True(t, ok)
	assert.Error(t, ack.Err)
}

func TestPlaceRiskDenied(t *testing.T) {
	use, tracker, _ := newTestUsecase(t, &recordingDelegator{}, risk.Config{KillSwitch: true})
	_, err := tracker.Create("c1", "BTC-USD", d("1"))
	require.NoError(t, err)

	err = use.Place(placeReq("c1"))
	require.ErrorIs(t, err, exception.ErrOrderRiskDenied)
}

func TestPlaceValidatesRequest(t *testing.T) {
	use, _, _ := newTestUsecase(t, &recordingDelegator{}, risk.Config{})

	assert.ErrorIs(t, use.Place(Request{Pair: "BTC-USD", Size: d("1")}), exception.ErrOrderInvalidRequest)
	assert.ErrorIs(t, use.Place(Request{ClientOID: "c1", Size: d("1")}), exception.ErrOrderInvalidRequest)
	assert.ErrorIs(t, use.Place(placeReqWithSize("c1", "0")), exception.ErrOrderInvalidRequest)
}

func placeReqWithSize(oid, size string) Request {
	req := placeReq(oid)
	req.Size = d(size)
	return req
}

func TestCancelBackfillsFromTracker(t *testing.T) {
	delegator := &recordingDelegator{}
	use, tracker, sink := newTestUsecase(t, delegator, risk.Config{})
	_, err := tracker.Create("c1", "BTC-USD", d("1"))
	require.NoError(t, err)
	_, err = tracker.ApplyPlaced("c1", "ex-1", d("99.50"))
	require.NoError(t, err)

	require.NoError(t, use.Cancel(Request{ClientOID: "c1"}))

	_, ok := sink.await(t).(feed.EventCancelAck)
	require.True(t, ok)
	delegator.mu.Lock()
	defer delegator.mu.Unlock()
	assert.Equal(t, []string{"c1"}, delegator.canceled)
}

func TestCancelDoneOrderIsIdempotent(t *testing.T) {
	delegator := &recordingDelegator{}
	use, tracker, _ := newTestUsecase(t, delegator, risk.Config{})
	_, err := tracker.Create("c1", "BTC-USD", d("1"))
	require.NoError(t, err)
	_, ok := tracker.ApplyDone("c1", "", "filled")
	require.True(t, ok)

	require.NoError(t, use.Cancel(Request{ClientOID: "c1"}))

	time.Sleep(20 * time.Millisecond)
	delegator.mu.Lock()
	defer delegator.mu.Unlock()
	assert.Empty(t, delegator.canceled, "no call goes out for a done order")
}

func TestCancelRejectedOrderIsIdempotent(t *testing.T) {
	delegator := &recordingDelegator{}
	use, tracker, _ := newTestUsecase(t, delegator, risk.Config{})
	_, err := tracker.Create("c1", "BTC-USD", d("1"))
	require.NoError(t, err)
	_, err = tracker.ApplyRejected("c1", "insufficient funds")
	require.NoError(t, err)

	require.NoError(t, use.Cancel(Request{ClientOID: "c1"}))

	time.Sleep(20 * time.Millisecond)
	delegator.mu.Lock()
	defer delegator.mu.Unlock()
	assert.Empty(t, delegator.canceled, "the exchange never accepted a rejected order")
}

func TestShutdownDrains(t *testing.T) {
	tracker := og.NewTracker(d("0.00001"))
	sink := &recordingSink{}
	use := NewUsecase(&recordingDelegator{}, risk.NewEngine(risk.Config{}), tracker, sink, Option{})

	ctx, cancel := context.WithCancel(t.Context())
	use.Run(ctx)

	_, err := tracker.Create("c1", "BTC-USD", d("1"))
	require.NoError(t, err)
	require.NoError(t, use.Place(placeReq("c1")))
	sink.await(t)

	cancel()
	require.NoError(t, use.Shutdown(2*time.Second))
}
