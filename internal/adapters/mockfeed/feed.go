package mockfeed

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"paperTrader/internal/domain"
	"paperTrader/internal/ports"
)

const (
	defaultStartPrice = 100.0
	defaultVolatility = 0.001
	defaultInterval   = time.Second
	minPrice          = 1e-8
)

// Config controls the random walk.
type Config struct {
	StartPrices map[string]float64 // Per-symbol opening price; unknown symbols start at 100
	Volatility  float64            // Stddev of the per-tick relative move
	Interval    time.Duration      // Time between ticks
	Seed        int64              // 0 seeds from the clock
	Logger      ports.Logger
}

// Feed produces an endless geometric random walk per symbol. A new subscription
// for a symbol resumes from the last price the previous one produced.
type Feed struct {
	cfg    Config
	logger ports.Logger
	now    func() time.Time

	mu         sync.Mutex
	lastPrices map[string]float64
	lastTimes  map[string]time.Time
}

// New creates a random-walk feed.
func New(cfg Config) (*Feed, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for mock feed")
	}
	if cfg.Volatility < 0 {
		return nil, fmt.Errorf("%w: volatility must be >= 0", ports.ErrConfigurationError)
	}
	if cfg.Volatility == 0 {
		cfg.Volatility = defaultVolatility
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	last := make(map[string]float64, len(cfg.StartPrices))
	for sym, p := range cfg.StartPrices {
		if p <= 0 {
			return nil, fmt.Errorf("%w: start price for %s must be > 0", ports.ErrConfigurationError, sym)
		}
		last[strings.ToUpper(sym)] = p
	}
	return &Feed{
		cfg:        cfg,
		logger:     cfg.Logger,
		now:        time.Now,
		lastPrices: last,
		lastTimes:  make(map[string]time.Time),
	}, nil
}

// Subscribe implements ports.MarketDataFeed.
func (f *Feed) Subscribe(ctx context.Context, symbol string) (<-chan domain.Tick, func(), error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, nil, fmt.Errorf("%w: symbol is required", ports.ErrInvalidRequest)
	}

	subCtx, cancel := context.WithCancel(ctx)
	out := make(chan domain.Tick)
	rng := rand.New(rand.NewSource(f.cfg.Seed ^ symbolHash(symbol)))

	f.logger.Info(ctx, "Mock feed subscribed", map[string]interface{}{"symbol": symbol, "interval": f.cfg.Interval.String()})

	go func() {
		defer close(out)
		ticker := time.NewTicker(f.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-subCtx.Done():
				return
			case <-ticker.C:
			}
			tick := f.step(symbol, rng)
			select {
			case out <- tick:
			case <-subCtx.Done():
				return
			}
		}
	}()

	return out, cancel, nil
}

// LastPrice returns the most recent generated price for symbol.
func (f *Feed) LastPrice(symbol string) (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.lastPrices[strings.ToUpper(symbol)]
	return p, ok
}

func (f *Feed) step(symbol string, rng *rand.Rand) domain.Tick {
	f.mu.Lock()
	defer f.mu.Unlock()

	price, ok := f.lastPrices[symbol]
	if !ok {
		price = defaultStartPrice
	}
	price *= math.Exp(f.cfg.Volatility * rng.NormFloat64())
	if price < minPrice {
		price = minPrice
	}
	f.lastPrices[symbol] = price

	ts := f.now()
	if last := f.lastTimes[symbol]; ts.Before(last) {
		ts = last
	}
	f.lastTimes[symbol] = ts
	return domain.Tick{Symbol: symbol, Price: price, Timestamp: ts}
}

func symbolHash(symbol string) int64 {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	return int64(h.Sum64())
}
