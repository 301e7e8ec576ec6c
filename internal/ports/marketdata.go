package ports

import (
	"context"

	"paperTrader/internal/domain"
)

// MarketDataFeed produces a lazy, restartable stream of ticks per symbol.
// Implementations may reconnect internally; consumers only see ticks with
// non-decreasing timestamps for a given symbol.
type MarketDataFeed interface {
	// Subscribe starts delivering ticks for symbol on the returned channel.
	// The channel is closed after the unsubscribe func is called or ctx is done.
	// Calling unsubscribe more than once is safe.
	Subscribe(ctx context.Context, symbol string) (<-chan domain.Tick, func(), error)
}
