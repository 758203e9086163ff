package og

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/book"
	"main/pkg/exception"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func newTestTracker() *Tracker {
	return NewTracker(d("0.00001"))
}

func TestLifecycleHappyPath(t *testing.T) {
	tr := newTestTracker()

	o, err := tr.Create("c1", "BTC-USD", d("2"))
	require.NoError(t, err)
	assert.Equal(t, StateInitial, o.State)
	assert.Equal(t, book.SideBuy, o.Side())
	assert.True(t, o.TotalSize.Equal(d("2")))

	o, err = tr.ApplyPlaced("c1", "ex1", d("99.50"))
	require.NoError(t, err)
	assert.Equal(t, StatePlaced, o.State)
	assert.True(t, o.HasLimit)

	o, ok := tr.ApplyReceived("", "ex1")
	require.True(t, ok)
	assert.Equal(t, StateReceived, o.State)

	o, ok = tr.ApplyOpen("c1", "ex1")
	require.True(t, ok)
	assert.Equal(t, StateOpen, o.State)

	o, ok = tr.ApplyDone("c1", "ex1", "filled")
	require.True(t, ok)
	assert.Equal(t, StateDone, o.State)
	assert.Equal(t, "filled", o.DoneReason)
	assert.True(t, o.State.Terminal())
}

func TestCreateDuplicate(t *testing.T) {
	tr := newTestTracker()
	_, err := tr.Create("c1", "BTC-USD", d("1"))
	require.NoError(t, err)
	_, err = tr.Create("c1", "BTC-USD", d("1"))
	assert.ErrorIs(t, err, exception.ErrOrderDuplicate)
}

func TestRejectedIsTerminal(t *testing.T) {
	tr := newTestTracker()
	_, err := tr.Create("c1", "BTC-USD", d("1"))
	require.NoError(t, err)

	o, err := tr.ApplyRejected("c1", "post only would cross")
	require.NoError(t, err)
	assert.Equal(t, StateRejected, o.State)

	// no transition out of Rejected, not even done
	_, err = tr.ApplyPlaced("c1", "ex1", d("99"))
	assert.ErrorIs(t, err, exception.ErrOrderTerminal)

	o, ok := tr.ApplyDone("c1", "", "canceled")
	require.True(t, ok)
	assert.Equal(t, StateRejected, o.State)
}

func TestNoBackwardTransitions(t *testing.T) {
	tr := newTestTracker()
	_, err := tr.Create("c1", "BTC-USD", d("1"))
	require.NoError(t, err)
	_, err = tr.ApplyPlaced("c1", "ex1", d("99"))
	require.NoError(t, err)

	// open before received: received must not regress the state
	o, ok := tr.ApplyOpen("c1", "ex1")
	require.True(t, ok)
	require.Equal(t, StateOpen, o.State)

	o, ok = tr.ApplyReceived("c1", "ex1")
	require.True(t, ok)
	assert.Equal(t, StateOpen, o.State)
}

func TestFillBound(t *testing.T) {
	tr := newTestTracker()
	_, err := tr.Create("c1", "BTC-USD", d("1"))
	require.NoError(t, err)
	_, err = tr.ApplyPlaced("c1", "ex1", d("99"))
	require.NoError(t, err)

	o, ok := tr.ApplyMatch("ex1", "taker", d("0.400004"))
	require.True(t, ok)
	assert.True(t, o.FilledSize.Equal(d("0.4")), "filled %s", o.FilledSize)

	// overshoot clamps to total
	o, ok = tr.ApplyMatch("ex1", "taker", d("0.7"))
	require.True(t, ok)
	assert.True(t, o.FilledSize.Equal(d("1")))
	assert.True(t, o.Remaining().IsZero())
}

func TestResolutionOrder(t *testing.T) {
	tr := newTestTracker()
	_, err := tr.Create("c1", "BTC-USD", d("1"))
	require.NoError(t, err)

	// the exchange id arrives on the feed before the REST ack; the
	// first message links it
	o, ok := tr.ApplyReceived("c1", "ex1")
	require.True(t, ok)
	assert.Equal(t, "ex1", o.ExchangeOrderID)

	// later lookups resolve by either id
	_, ok = tr.ApplyOpen("", "ex1")
	assert.True(t, ok)
	assert.True(t, tr.Owns("ex1"))
	assert.True(t, tr.Owns("c1"))
	assert.False(t, tr.Owns("other", ""))
}

func TestUnknownOrderIgnored(t *testing.T) {
	tr := newTestTracker()
	_, ok := tr.ApplyMatch("m1", "t1", d("1"))
	assert.False(t, ok)
	_, ok = tr.ApplyDone("", "ex9", "canceled")
	assert.False(t, ok)
	_, err := tr.ApplyPlaced("c9", "ex9", d("1"))
	assert.ErrorIs(t, err, exception.ErrOrderUnknown)
}

func TestLiveAndRemove(t *testing.T) {
	tr := newTestTracker()
	_, err := tr.Create("c1", "BTC-USD", d("1"))
	require.NoError(t, err)
	_, err = tr.Create("c2", "BTC-USD", d("-1"))
	require.NoError(t, err)
	assert.Equal(t, 2, tr.Live())

	_, ok := tr.ApplyDone("c1", "", "canceled")
	require.True(t, ok)
	assert.Equal(t, 1, tr.Live())

	// live orders are not removable
	tr.Remove("c2")
	_, ok = tr.Order("c2")
	assert.True(t, ok)

	tr.Remove("c1")
	_, ok = tr.Order("c1")
	assert.False(t, ok)
}

func TestChangeShrinksTotal(t *testing.T) {
	tr := newTestTracker()
	_, err := tr.Create("c1", "BTC-USD", d("2"))
	require.NoError(t, err)
	_, err = tr.ApplyPlaced("c1", "ex1", d("99"))
	require.NoError(t, err)
	_, ok := tr.ApplyMatch("ex1", "t", d("1.5"))
	require.True(t, ok)

	o, ok := tr.ApplyChange("c1", "ex1", d("1"), true)
	require.True(t, ok)
	assert.True(t, o.TotalSize.Equal(d("1")))
	assert.True(t, o.FilledSize.Equal(d("1")), "fill clamps to the new total")
}
