package risk

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Config defines simple pre-trade limits.
type Config struct {
	KillSwitch       bool            `json:"killSwitch"`
	MaxOrderSize     decimal.Decimal `json:"maxOrderSize"`
	MaxOrderNotional decimal.Decimal `json:"maxOrderNotional"`
	MaxOpenOrders    int             `json:"maxOpenOrders"`
	OrderRateLimit   int             `json:"orderRateLimit"`
	OrderRateWindow  time.Duration   `json:"orderRateWindow"`
}

// Reason explains a denial.
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonKillSwitch  Reason = "kill_switch"
	ReasonRateLimit   Reason = "order_rate_limit"
	ReasonMaxSize     Reason = "max_order_size"
	ReasonMaxNotional Reason = "max_order_notional"
	ReasonOpenOrders  Reason = "max_open_orders"
)

// Decision is the outcome of evaluating one order intent.
type Decision struct {
	Allow  bool
	Reason Reason
}

// Intent is the order about to be sent.
type Intent struct {
	Pair       string
	Price      decimal.Decimal
	Size       decimal.Decimal
	OpenOrders int
}

// Engine evaluates static risk limits before an order request is
// queued for the gateway.
type Engine struct {
	cfg Config

	mu              sync.Mutex
	rateWindowStart int64
	rateCount       int
}

// NewEngine creates a risk engine with static limits.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Evaluate applies the configured checks to an order intent.
func (e *Engine) Evaluate(intent Intent) Decision {
	if e == nil {
		return Decision{Allow: true}
	}

	if e.cfg.KillSwitch {
		return Decision{Reason: ReasonKillSwitch}
	}

	if e.cfg.OrderRateLimit > 0 && e.cfg.OrderRateWindow > 0 {
		now := time.Now().UTC().UnixNano()
		window := int64(e.cfg.OrderRateWindow)
		e.mu.Lock()
		if e.rateWindowStart == 0 || now-e.rateWindowStart >= window {
			e.rateWindowStart = now
			e.rateCount = 0
		}
		e.rateCount++
		count := e.rateCount
		e.mu.Unlock()
		if count > e.cfg.OrderRateLimit {
			return Decision{Reason: ReasonRateLimit}
		}
	}

	if e.cfg.MaxOrderSize.IsPositive() && intent.Size.GreaterThan(e.cfg.MaxOrderSize) {
		return Decision{Reason: ReasonMaxSize}
	}

	if e.cfg.MaxOrderNotional.IsPositive() {
		notional := intent.Price.Mul(intent.Size).Abs()
		if notional.GreaterThan(e.cfg.MaxOrderNotional) {
			return Decision{Reason: ReasonMaxNotional}
		}
	}

	if e.cfg.MaxOpenOrders > 0 && intent.OpenOrders >= e.cfg.MaxOpenOrders {
		return Decision{Reason: ReasonOpenOrders}
	}

	return Decision{Allow: true, Reason: ReasonNone}
}
