package csvfeed

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"paperTrader/internal/domain"
	"paperTrader/internal/ports"
	"paperTrader/internal/utils"
)

// Config holds configuration for the CSV replay feed.
type Config struct {
	Path   string
	Pace   time.Duration // Delay between ticks; 0 replays as fast as the consumer reads
	Logger ports.Logger
}

// Feed replays recorded ticks. Every subscription starts from the first tick
// of its symbol and the channel closes after the last one.
type Feed struct {
	bySymbol map[string][]domain.Tick
	pace     time.Duration
	logger   ports.Logger
}

// New loads the CSV file at cfg.Path.
func New(cfg Config) (*Feed, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for csv feed")
	}
	ticks, err := utils.ReadTicksFromCSV(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: loading %s: %v", ports.ErrConfigurationError, cfg.Path, err)
	}
	f := NewFromTicks(ticks, cfg.Pace, cfg.Logger)
	cfg.Logger.Info(context.Background(), "CSV feed loaded", map[string]interface{}{"path": cfg.Path, "ticks": len(ticks), "symbols": len(f.bySymbol)})
	return f, nil
}

// NewFromTicks builds a replay feed from in-memory ticks.
func NewFromTicks(ticks []domain.Tick, pace time.Duration, logger ports.Logger) *Feed {
	bySymbol := make(map[string][]domain.Tick)
	for _, t := range ticks {
		sym := strings.ToUpper(t.Symbol)
		t.Symbol = sym
		bySymbol[sym] = append(bySymbol[sym], t)
	}
	for _, series := range bySymbol {
		sort.SliceStable(series, func(i, j int) bool { return series[i].Timestamp.Before(series[j].Timestamp) })
	}
	return &Feed{bySymbol: bySymbol, pace: pace, logger: logger}
}

// Symbols lists the symbols present in the recording.
func (f *Feed) Symbols() []string {
	syms := make([]string, 0, len(f.bySymbol))
	for s := range f.bySymbol {
		syms = append(syms, s)
	}
	sort.Strings(syms)
	return syms
}

// Subscribe implements ports.MarketDataFeed.
func (f *Feed) Subscribe(ctx context.Context, symbol string) (<-chan domain.Tick, func(), error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	series, ok := f.bySymbol[symbol]
	if !ok {
		return nil, nil, fmt.Errorf("%w: no recorded ticks for %s", ports.ErrNotFound, symbol)
	}

	subCtx, cancel := context.WithCancel(ctx)
	out := make(chan domain.Tick)

	go func() {
		defer close(out)
		for i, tick := range series {
			if i > 0 && f.pace > 0 {
				select {
				case <-time.After(f.pace):
				case <-subCtx.Done():
					return
				}
			}
			select {
			case out <- tick:
			case <-subCtx.Done():
				return
			}
		}
		f.logger.Info(subCtx, "CSV feed replay finished", map[string]interface{}{"symbol": symbol, "ticks": len(series)})
	}()

	return out, cancel, nil
}
