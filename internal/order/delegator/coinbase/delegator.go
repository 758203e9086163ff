package coinbase

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/book"
	"main/internal/feed"
	"main/internal/order"
	"main/pkg/exception"
)

const (
	_defaultBaseURL = "https://api.exchange.coinbase.com"

	_defaultMaxAttempts  = 5
	_defaultBackoffStart = 250 * time.Millisecond
)

// Option configures the REST delegator.
type Option struct {
	BaseURL    string
	Key        string
	Secret     string
	Passphrase string
	Client     *http.Client

	// MaxAttempts bounds rate-limit retries per call.
	MaxAttempts  int
	BackoffStart time.Duration
}

// Delegator talks to a GDAX-style exchange REST API. It implements
// order.Delegator.
type Delegator struct {
	opt Option
}

var _ order.Delegator = (*Delegator)(nil)

// NewDelegator creates a REST delegator.
func NewDelegator(opt Option) *Delegator {
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
	return &Delegator{opt: opt}
}

type placeOrderBody struct {
	ProductID   string `json:"product_id"`
	Side        string `json:"side"`
	Price       string `json:"price"`
	Size        string `json:"size"`
	Type        string `json:"type"`
	TimeInForce string `json:"time_in_force"`
	CancelAfter string `json:"cancel_after"`
	PostOnly    bool   `json:"post_only"`
	ClientOID   string `json:"client_oid"`
}

type orderResponse struct {
	ID         string `json:"id"`
	Price      string `json:"price"`
	Size       string `json:"size"`
	ProductID  string `json:"product_id"`
	Side       string `json:"side"`
	ClientOID  string `json:"client_oid"`
	FilledSize string `json:"filled_size"`
	Status     string `json:"status"`
	Settled    bool   `json:"settled"`
	Message    string `json:"message"`
}

// PlaceOrder submits a post-only limit order. An exchange-side
// rejection comes back as a response, not an error.
func (d *Delegator) PlaceOrder(ctx context.Context, req order.PlaceRequest) (order.PlaceResponse, error) {
	var response order.PlaceResponse
	body := placeOrderBody{
		ProductID:   req.Pair,
		Side:        req.Side.String(),
		Price:       req.Price.String(),
		Size:        req.Size.String(),
		Type:        "limit",
		TimeInForce: "GTT",
		CancelAfter: "day",
		PostOnly:    req.PostOnly,
		ClientOID:   req.ClientOID,
	}
	payload, err := sonic.ConfigFastest.Marshal(body)
	if err != nil {
		return response, err
	}

	status, data, err := d.do(ctx, http.MethodPost, "/orders", payload)
	if err != nil {
		return response, err
	}

	var resp orderResponse
	if err := sonic.ConfigFastest.Unmarshal(data, &resp); err != nil {
		return response, errors.Wrap(exception.ErrOrderDecodeResponseBody, err.Error())
	}

	if status != http.StatusOK {
		response.Rejected = true
		response.Reason = resp.Message
		if response.Reason == "" {
			response.Reason = fmt.Sprintf("status %d", status)
		}
		return response, nil
	}
	if resp.ID == "" {
		return response, exception.ErrOrderEmptyResponseID
	}
	if resp.Status == "rejected" {
		response.Rejected = true
		response.Reason = resp.Message
	}
	response.ExchangeOrderID = resp.ID
	return response, nil
}

// CancelOrder cancels by exchange id, falling back to the client oid.
// A 404 means the order is already gone, which counts as success.
func (d *Delegator) CancelOrder(ctx context.Context, exchangeOrderID, clientOID string) error {
	path := "/orders/" + exchangeOrderID
	if exchangeOrderID == "" {
		if clientOID == "" {
			return exception.ErrOrderInvalidRequest
		}
		path = "/orders/client:" + clientOID
	}
	status, data, err := d.do(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK, http.StatusNotFound:
		return nil
	default:
		return errors.Errorf("order: cancel status %d: %s", status, string(data))
	}
}

// GetOrder fetches the exchange's view of one order.
func (d *Delegator) GetOrder(ctx context.Context, exchangeOrderID string) (order.Status, error) {
	status, data, err := d.do(ctx, http.MethodGet, "/orders/"+exchangeOrderID, nil)
	if err != nil {
		return order.Status{}, err
	}
	if status != http.StatusOK {
		return order.Status{}, errors.Errorf("order: get status %d: %s", status, string(data))
	}
	var resp orderResponse
	if err := sonic.ConfigFastest.Unmarshal(data, &resp); err != nil {
		return order.Status{}, errors.Wrap(exception.ErrOrderDecodeResponseBody, err.Error())
	}
	return toStatus(resp)
}

// GetOpenOrders lists resting orders for the pair.
func (d *Delegator) GetOpenOrders(ctx context.Context, pair string) ([]order.Status, error) {
	status, data, err := d.do(ctx, http.MethodGet, "/orders?status=open&product_id="+pair, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, errors.Errorf("order: list status %d: %s", status, string(data))
	}
	var resps []orderResponse
	if err := sonic.ConfigFastest.Unmarshal(data, &resps); err != nil {
		return nil, errors.Wrap(exception.ErrOrderDecodeResponseBody, err.Error())
	}
	out := make([]order.Status, 0, len(resps))
	for _, resp := range resps {
		st, err := toStatus(resp)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

type snapshotResponse struct {
	Sequence int64       `json:"sequence"`
	Bids     [][3]string `json:"bids"` // [0]price [1]size [2]order_id
	Asks     [][3]string `json:"asks"`
}

// GetSnapshot fetches the level-3 book used for initial load and
// resync.
func (d *Delegator) GetSnapshot(ctx context.Context, pair string) (feed.Snapshot, error) {
	status, data, err := d.do(ctx, http.MethodGet, "/products/"+pair+"/book?level=3", nil)
	if err != nil {
		return feed.Snapshot{}, err
	}
	if status != http.StatusOK {
		return feed.Snapshot{}, errors.Errorf("order: snapshot status %d: %s", status, string(data))
	}
	var resp snapshotResponse
	if err := sonic.ConfigFastest.Unmarshal(data, &resp); err != nil {
		return feed.Snapshot{}, errors.Wrap(exception.ErrOrderDecodeResponseBody, err.Error())
	}

	snap := feed.Snapshot{Sequence: resp.Sequence}
	snap.Bids, err = parseRows(resp.Bids, book.SideBuy)
	if err != nil {
		return feed.Snapshot{}, err
	}
	snap.Asks, err = parseRows(resp.Asks, book.SideSell)
	if err != nil {
		return feed.Snapshot{}, err
	}
	return snap, nil
}

func parseRows(rows [][3]string, side book.Side) ([]book.Order, error) {
	orders := make([]book.Order, 0, len(rows))
	for _, row := range rows {
		price, err := decimal.NewFromString(row[0])
		if err != nil {
			return nil, errors.Wrap(err, "parse snapshot price")
		}
		size, err := decimal.NewFromString(row[1])
		if err != nil {
			return nil, errors.Wrap(err, "parse snapshot size")
		}
		orders = append(orders, book.Order{
			ID:    row[2],
			Price: price,
			Size:  size,
			Side:  side,
		})
	}
	return orders, nil
}

func toStatus(resp orderResponse) (order.Status, error) {
	st := order.Status{
		ExchangeOrderID: resp.ID,
		ClientOID:       resp.ClientOID,
		Pair:            resp.ProductID,
		Side:            book.ParseSide(resp.Side),
		State:           resp.Status,
		Settled:         resp.Settled,
	}
	var err error
	if resp.Price != "" {
		if st.Price, err = decimal.NewFromString(resp.Price); err != nil {
			return st, errors.Wrap(err, "parse order price")
		}
	}
	if resp.Size != "" {
		if st.Size, err = decimal.NewFromString(resp.Size); err != nil {
			return st, errors.Wrap(err, "parse order size")
		}
	}
	if resp.FilledSize != "" {
		if st.FilledSize, err = decimal.NewFromString(resp.FilledSize); err != nil {
			return st, errors.Wrap(err, "parse order filled size")
		}
	}
	return st, nil
}

// do sends one signed request, retrying rate-limited responses with a
// doubling backoff until attempts run out.
func (d *Delegator) do(ctx context.Context, method, path string, payload []byte) (int, []byte, error) {
	sleep := d.opt.BackoffStart
	for attempt := 1; ; attempt++ {
		status, data, err := d.send(ctx, method, path, payload)
		if err != nil {
			return 0, nil, err
		}
		if status != http.StatusTooManyRequests {
			return status, data, nil
		}
		if attempt >= d.opt.MaxAttempts {
			return 0, nil, errors.Wrap(exception.ErrRateLimited, method+" "+path)
		}
		logs.Warnf("coinbase: rate limited on %s %s, retry in %s", method, path, sleep)
		select {
		case <-ctx.Done():
			return 0, nil, ctx.Err()
		case <-time.After(sleep):
		}
		sleep *= 2
	}
}

func (d *Delegator) send(ctx context.Context, method, path string, payload []byte) (int, []byte, error) {
	var body io.Reader
	if len(payload) > 0 {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, d.opt.BaseURL+path, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if d.opt.Key != "" {
		ts := strconv.FormatInt(time.Now().Unix(), 10)
		sign, err := d.sign(ts, method, path, payload)
		if err != nil {
			return 0, nil, err
		}
		req.Header.Set("CB-ACCESS-KEY", d.opt.Key)
		req.Header.Set("CB-ACCESS-SIGN", sign)
		req.Header.Set("CB-ACCESS-TIMESTAMP", ts)
		req.Header.Set("CB-ACCESS-PASSPHRASE", d.opt.Passphrase)
	}

	resp, err := d.opt.Client.Do(req)
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

// sign builds the CB-ACCESS-SIGN header: base64 HMAC-SHA256 of
// timestamp+method+path+body keyed with the base64-decoded secret.
func (d *Delegator) sign(timestamp, method, path string, payload []byte) (string, error) {
	secret, err := base64.StdEncoding.DecodeString(d.opt.Secret)
	if err != nil {
		return "", errors.Wrap(err, "decode api secret")
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp + method + path))
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}
