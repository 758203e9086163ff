package ops

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `{
		"exchange": {"key":"k","secret":"s","passphrase":"p","restUrl":"https://api.example.com","sandbox":true},
		"pairs": [
			{"name":"BTC-USD","sizeIncrement":"0.00001"},
			{"name":"ETH-USD"}
		],
		"risk": {"maxOrderSize":"5","maxOpenOrders":3},
		"strategy": {"tickIntervalMs": 250},
		"database": {"host":"db","port":5433,"user":"u","password":"pw","database":"bars"}
	}`)

	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "k", loaded.Exchange.Key)
	assert.True(t, loaded.Exchange.Sandbox)
	assert.Equal(t, 250*time.Millisecond, loaded.TickInterval)
	assert.Equal(t, "db", loaded.Database.Host)
	assert.Equal(t, 5433, loaded.Database.Port)

	require.Len(t, loaded.Pairs, 2)
	btc, ok := loaded.FindPair("BTC-USD")
	require.True(t, ok)
	assert.True(t, btc.SizeIncrement.Equal(decimal.New(1, -5)))

	// a pair without an explicit increment gets the default
	eth, ok := loaded.FindPair("ETH-USD")
	require.True(t, ok)
	assert.True(t, eth.SizeIncrement.Equal(decimal.New(1, -5)))

	assert.True(t, loaded.Risk.MaxOrderSize.Equal(decimal.NewFromInt(5)))
	assert.Equal(t, 3, loaded.Risk.MaxOpenOrders)

	_, ok = loaded.FindPair("DOGE-USD")
	assert.False(t, ok)
}

func TestLoadDefaultsTickInterval(t *testing.T) {
	path := writeConfig(t, `{"pairs":[{"name":"BTC-USD"}]}`)
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, time.Second, loaded.TickInterval)
}

func TestLoadRejectsBadConfigs(t *testing.T) {
	for name, body := range map[string]string{
		"no pairs":       `{}`,
		"empty name":     `{"pairs":[{"name":""}]}`,
		"duplicate pair": `{"pairs":[{"name":"BTC-USD"},{"name":"BTC-USD"}]}`,
		"bad increment":  `{"pairs":[{"name":"BTC-USD","sizeIncrement":"tiny"}]}`,
		"zero increment": `{"pairs":[{"name":"BTC-USD","sizeIncrement":"0"}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
