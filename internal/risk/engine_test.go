package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestEvaluateAllowsByDefault(t *testing.T) {
	eng := NewEngine(Config{})
	decision := eng.Evaluate(Intent{Pair: "BTC-USD", Price: d("99.50"), Size: d("100")})
	assert.True(t, decision.Allow)
	assert.Equal(t, ReasonNone, decision.Reason)
}

func TestKillSwitchDeniesEverything(t *testing.T) {
	eng := NewEngine(Config{KillSwitch: true})
	decision := eng.Evaluate(Intent{Size: d("0.001")})
	assert.False(t, decision.Allow)
	assert.Equal(t, ReasonKillSwitch, decision.Reason)
}

func TestMaxOrderSize(t *testing.T) {
	eng := NewEngine(Config{MaxOrderSize: d("1")})
	assert.True(t, eng.Evaluate(Intent{Size: d("1")}).Allow)

	decision := eng.Evaluate(Intent{Size: d("1.00001")})
	assert.False(t, decision.Allow)
	assert.Equal(t, ReasonMaxSize, decision.Reason)
}

func TestMaxOrderNotional(t *testing.T) {
	eng := NewEngine(Config{MaxOrderNotional: d("1000")})
	assert.True(t, eng.Evaluate(Intent{Price: d("100"), Size: d("10")}).Allow)

	decision := eng.Evaluate(Intent{Price: d("100"), Size: d("10.1")})
	assert.False(t, decision.Allow)
	assert.Equal(t, ReasonMaxNotional, decision.Reason)
}

func TestMaxOpenOrders(t *testing.T) {
	eng := NewEngine(Config{MaxOpenOrders: 2})
	assert.True(t, eng.Evaluate(Intent{Size: d("1"), OpenOrders: 1}).Allow)

	decision := eng.Evaluate(Intent{Size: d("1"), OpenOrders: 2})
	assert.False(t, decision.Allow)
	assert.Equal(t, ReasonOpenOrders, decision.Reason)
}

func TestOrderRateLimit(t *testing.T) {
	eng := NewEngine(Config{OrderRateLimit: 2, OrderRateWindow: time.Hour})
	intent := Intent{Size: d("1")}

	assert.True(t, eng.Evaluate(intent).Allow)
	assert.True(t, eng.Evaluate(intent).Allow)

	decision := eng.Evaluate(intent)
	assert.False(t, decision.Allow)
	assert.Equal(t, ReasonRateLimit, decision.Reason)
}

func TestNilEngineAllows(t *testing.T) {
	var eng *Engine
	assert.True(t, eng.Evaluate(Intent{Size: d("1")}).Allow)
}
