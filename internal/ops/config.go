package ops

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"main/internal/risk"
	"main/pkg/conn"
)

// FileConfig mirrors the JSON config layout.
type FileConfig struct {
	Exchange ExchangeConfig `json:"exchange"`
	Pairs    []PairConfig   `json:"pairs"`
	Risk     risk.Config    `json:"risk"`
	Strategy StrategyConfig `json:"strategy"`
	Database DatabaseConfig `json:"database"`
}

// ExchangeConfig holds API credentials and endpoints.
type ExchangeConfig struct {
	Key        string `json:"key"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
	RestURL    string `json:"restUrl"`
	Sandbox    bool   `json:"sandbox"`
}

// PairConfig describes one tradable pair.
type PairConfig struct {
	Name          string `json:"name"`
	SizeIncrement string `json:"sizeIncrement"`
}

// StrategyConfig captures tick timing.
type StrategyConfig struct {
	TickIntervalMs int `json:"tickIntervalMs"`
}

// DatabaseConfig maps onto the postgres connection options.
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"sslMode"`
}

// Pair is a resolved pair definition.
type Pair struct {
	Name          string
	SizeIncrement decimal.Decimal
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Exchange     ExchangeConfig
	Pairs        []Pair
	Risk         risk.Config
	TickInterval time.Duration
	Database     conn.Option
}

// Load reads a JSON config file and resolves it.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, err
	}
	var cfg FileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, err
	}
	pairs, err := resolvePairs(cfg.Pairs)
	if err != nil {
		return Loaded{}, err
	}
	interval := time.Second
	if cfg.Strategy.TickIntervalMs > 0 {
		interval = time.Duration(cfg.Strategy.TickIntervalMs) * time.Millisecond
	}
	return Loaded{
		Exchange:     cfg.Exchange,
		Pairs:        pairs,
		Risk:         cfg.Risk,
		TickInterval: interval,
		Database: conn.Option{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Database: cfg.Database.Database,
			SSLMode:  cfg.Database.SSLMode,
		},
	}, nil
}

// FindPair looks a pair up by name.
func (l Loaded) FindPair(name string) (Pair, bool) {
	for _, p := range l.Pairs {
		if p.Name == name {
			return p, true
		}
	}
	return Pair{}, false
}

func resolvePairs(cfgs []PairConfig) ([]Pair, error) {
	if len(cfgs) == 0 {
		return nil, fmt.Errorf("no pairs configured")
	}
	pairs := make([]Pair, 0, len(cfgs))
	seen := make(map[string]bool, len(cfgs))
	for _, cfg := range cfgs {
		if cfg.Name == "" {
			return nil, fmt.Errorf("pair name is empty")
		}
		if seen[cfg.Name] {
			return nil, fmt.Errorf("duplicate pair: %s", cfg.Name)
		}
		seen[cfg.Name] = true
		inc := decimal.New(1, -5)
		if cfg.SizeIncrement != "" {
			var err error
			inc, err = decimal.NewFromString(cfg.SizeIncrement)
			if err != nil {
				return nil, fmt.Errorf("invalid size increment for %s: %w", cfg.Name, err)
			}
			if !inc.IsPositive() {
				return nil, fmt.Errorf("size increment for %s must be > 0", cfg.Name)
			}
		}
		pairs = append(pairs, Pair{Name: cfg.Name, SizeIncrement: inc})
	}
	return pairs, nil
}
