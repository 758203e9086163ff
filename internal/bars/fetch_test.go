package bars

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/pkg/exception"
)

func window(t *testing.T) Request {
	t.Helper()
	end := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return Request{
		Pair:        "BTC-USD",
		Start:       end.Add(-2 * time.Hour),
		End:         end,
		Granularity: 3600,
	}
}

func TestFetchParsesCandles(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/products/BTC-USD/candles", r.URL.Path)
		assert.Equal(t, "3600", r.URL.Query().Get("granularity"))
		w.Write([]byte(`[[1709290800,61000.1,61500.5,61200,61400.2,12.5],[1709287200,60800,61300,61000,61200,8.25]]`))
	}))
	defer srv.Close()

	f := NewFetcher(Option{BaseURL: srv.URL})
	bars, err := f.Fetch(t.Context(), window(t))
	require.NoError(t, err)
	require.Len(t, bars, 2)

	// oldest first regardless of wire order
	assert.True(t, bars[0].OpenTime.Before(bars[1].OpenTime))
	assert.Equal(t, "BTC-USD", bars[0].Pair)
	assert.Equal(t, 61400.2, bars[1].Close)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchBacksOffOnRateLimit(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`[[1709287200,60800,61300,61000,61200,8.25]]`))
	}))
	defer srv.Close()

	f := NewFetcher(Option{BaseURL: srv.URL, BackoffStart: time.Millisecond})
	bars, err := f.Fetch(t.Context(), window(t))
	require.NoError(t, err)
	assert.Len(t, bars, 1)
	assert.Equal(t, int32(3), hits.Load(), "two rate-limited attempts then success")
}

func TestFetchGivesUpAfterMaxAttempts(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	f := NewFetcher(Option{BaseURL: srv.URL, BackoffStart: time.Millisecond, MaxAttempts: 3})
	_, err := f.Fetch(t.Context(), window(t))
	require.ErrorIs(t, err, exception.ErrBarsRateLimited)
	assert.Equal(t, int32(3), hits.Load())
}

func TestFetchRejectsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer srv.Close()

	f := NewFetcher(Option{BaseURL: srv.URL})
	_, err := f.Fetch(t.Context(), window(t))
	require.ErrorIs(t, err, exception.ErrBarsBadStatus)
}

func TestRequestValidation(t *testing.T) {
	f := NewFetcher(Option{})
	_, err := f.Fetch(t.Context(), Request{})
	assert.ErrorIs(t, err, exception.ErrBarsInvalidRequest)

	req := window(t)
	req.End, req.Start = req.Start, req.End
	_, err = f.Fetch(t.Context(), req)
	assert.ErrorIs(t, err, exception.ErrBarsInvalidRequest)
}
