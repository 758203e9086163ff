package ingest

import (
	"context"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
	"github.com/yanun0323/pkg/ws"

	"main/internal/feed"
	"main/pkg/exception"
)

const (
	_coinbaseBaseWsUrl        = "wss://ws-feed.exchange.coinbase.com"
	_coinbaseBaseWsUrlSandbox = "wss://ws-feed-public.sandbox.exchange.coinbase.com"
)

// Coinbase streams the full order feed over websocket and fans every
// parsed message into the per-pair processors.
type Coinbase struct {
	wss   *ws.WebSocket
	pairs []string
}

func NewCoinbase(ctx context.Context, devMode bool, pairs []string) *Coinbase {
	wsURL := _coinbaseBaseWsUrl
	if devMode {
		wsURL = _coinbaseBaseWsUrlSandbox
	}

	return &Coinbase{
		wss:   ws.New(ctx, wsURL),
		pairs: pairs,
	}
}

func (repo *Coinbase) StartWebsocket(ctx context.Context) error {
	if err := repo.wss.Start(ctx); err != nil {
		return errors.Wrap(err, "start wss")
	}

	return nil
}

type subscribePayload struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`
}

// SubscribeFull subscribes the full and heartbeat channels and waits
// for the exchange to confirm every pair.
func (repo *Coinbase) SubscribeFull(ctx context.Context) error {
	appendIntoRegister := true
	if err := repo.wss.SendAndWait(ctx, ws.Sidecar{
		Sender: func(ctx context.Context, client *ws.WebSocket) error {
			if err := client.WriteJSON(subscribePayload{
				Type:       "subscribe",
				ProductIDs: repo.pairs,
				Channels:   []string{"full", "heartbeat"},
			}); err != nil {
				return errors.Wrap(err, "write subscribe payload")
			}

			return nil
		},
		Waiter: func(ctx context.Context, m ws.Message) (bool, error) {
			env, ok := ws.ReadMessage[feed.Envelope](m)
			if !ok {
				return false, nil
			}

			switch env.Type {
			case "error":
				return false, errors.Wrap(exception.ErrFeedMalformedMessage, env.Message)
			case "subscriptions":
				confirmed := make(map[string]bool, len(repo.pairs))
				for _, ch := range env.Channels {
					if ch.Name != "full" {
						continue
					}
					for _, p := range ch.ProductIDs {
						confirmed[p] = true
					}
				}
				for _, pair := range repo.pairs {
					if !confirmed[pair] {
						return false, errors.Errorf("pair %s missing from subscription ack", pair)
					}
				}
				return true, nil
			default:
				return false, nil
			}
		},
	}, appendIntoRegister); err != nil {
		return errors.Wrap(err, "send and wait")
	}

	return nil
}

// ObserveMessages pumps parsed feed messages into the mux until the
// context ends or the connection closes. Malformed frames are logged
// and dropped; the stream keeps going.
func (repo *Coinbase) ObserveMessages(ctx context.Context, mux *feed.Mux) (unsubscribe func()) {
	ch, cancel := repo.wss.Subscribe()
	go func() {
		defer cancel()
		for {
			select {
			case <-sys.Shutdown():
				return
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}

				env, ok := ws.ReadMessage[feed.Envelope](m)
				if !ok {
					continue
				}

				msg, err := feed.Parse(env)
				if err != nil {
					logs.Warnf("drop feed frame (%s): %+v", env.Type, err)
					continue
				}

				if err := mux.Enqueue(env.ProductID, feed.EventMessage{Msg: msg}); err != nil {
					logs.Errorf("enqueue %s message for %s: %+v", msg.Kind(), env.ProductID, err)
				}
			}
		}
	}()

	return cancel
}

func (repo *Coinbase) Len() int {
	return repo.wss.Len()
}

func (repo *Coinbase) CloseWhenEmpty() bool {
	if repo.Len() == 0 {
		repo.Close()
		logs.Info("close websocket. reason: empty")
		return true
	}

	return false
}

func (repo *Coinbase) Close() {
	repo.wss.Close()
}
