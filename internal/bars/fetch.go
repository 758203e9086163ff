package bars

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/pkg/exception"
)

const (
	_defaultBaseURL = "https://api.exchange.coinbase.com"

	_defaultMaxAttempts  = 6
	_defaultBackoffStart = time.Second
)

// Bar is one OHLCV candle keyed by pair and open time.
type Bar struct {
	Pair        string    `gorm:"primaryKey;size:32"`
	Granularity int       `gorm:"primaryKey"`
	OpenTime    time.Time `gorm:"primaryKey"`
	Low         float64
	High        float64
	Open        float64
	Close       float64
	Volume      float64
}

// Request bounds one history fetch. Granularity is in seconds.
type Request struct {
	Pair        string
	Start       time.Time
	End         time.Time
	Granularity int
}

func (r Request) validate() error {
	if r.Pair == "" || r.Granularity <= 0 || !r.End.After(r.Start) {
		return exception.ErrBarsInvalidRequest
	}
	return nil
}

// Option configures a Fetcher.
type Option struct {
	BaseURL      string
	Client       *http.Client
	MaxAttempts  int
	BackoffStart time.Duration
}

// Fetcher pulls candle history from the exchange REST API, backing
// off and retrying when rate limited.
type Fetcher struct {
	opt Option
}

func NewFetcher(opt Option) *Fetcher {
	if opt.BaseURL == "" {
		opt.BaseURL = _defaultBaseURL
	}
	if opt.Client == nil {
		opt.Client = &http.Client{Timeout: 15 * time.Second}
	}
	if opt.MaxAttempts <= 0 {
		opt.MaxAttempts = _defaultMaxAttempts
	}
	if opt.BackoffStart <= 0 {
		opt.BackoffStart = _defaultBackoffStart
	}
	return &Fetcher{opt: opt}
}

// Fetch returns candles for the window, oldest first. The exchange
// answers at most 300 rows per call, so wide windows take several
// round trips; each 429 doubles the sleep before the retry.
func (f *Fetcher) Fetch(ctx context.Context, req Request) ([]Bar, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	window := time.Duration(req.Granularity) * time.Second * 300
	var out []Bar
	for start := req.Start; start.Before(req.End); start = start.Add(window) {
		end := start.Add(window)
		if end.After(req.End) {
			end = req.End
		}

		rows, err := f.fetchWindow(ctx, req.Pair, start, end, req.Granularity)
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].OpenTime.Before(out[j].OpenTime) })
	return out, nil
}

func (f *Fetcher) fetchWindow(ctx context.Context, pair string, start, end time.Time, granularity int) ([]Bar, error) {
	query := url.Values{}
	query.Set("start", start.UTC().Format(time.RFC3339))
	query.Set("end", end.UTC().Format(time.RFC3339))
	query.Set("granularity", fmt.Sprintf("%d", granularity))
	path := fmt.Sprintf("%s/products/%s/candles?%s", f.opt.BaseURL, pair, query.Encode())

	sleep := f.opt.BackoffStart
	for attempt := 1; ; attempt++ {
		status, data, err := f.get(ctx, path)
		if err != nil {
			return nil, err
		}

		switch {
		case status == http.StatusOK:
			return parseCandles(pair, granularity, data)
		case status == http.StatusTooManyRequests:
			if attempt >= f.opt.MaxAttempts {
				return nil, errors.Wrapf(exception.ErrBarsRateLimited, "%s after %d attempts", pair, attempt)
			}
			logs.Warnf("bars: rate limited on %s, retry in %s", pair, sleep)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(sleep):
			}
			sleep *= 2
		default:
			return nil, errors.Wrapf(exception.ErrBarsBadStatus, "status %d: %s", status, string(data))
		}
	}
}

func (f *Fetcher) get(ctx context.Context, rawURL string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, nil, err
	}

	resp, err := f.opt.Client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, data, nil
}

// parseCandles decodes the wire rows: [time, low, high, open, close,
// volume], newest first.
func parseCandles(pair string, granularity int, data []byte) ([]Bar, error) {
	var rows [][6]float64
	if err := sonic.ConfigFastest.Unmarshal(data, &rows); err != nil {
		return nil, errors.Wrap(err, "decode candles")
	}

	bars := make([]Bar, 0, len(rows))
	for _, row := range rows {
		bars = append(bars, Bar{
			Pair:        pair,
			Granularity: granularity,
			OpenTime:    time.Unix(int64(row[0]), 0).UTC(),
			Low:         row[1],
			High:        row[2],
			Open:        row[3],
			Close:       row[4],
			Volume:      row[5],
		})
	}
	return bars, nil
}
