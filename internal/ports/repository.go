package ports

import (
	"context"
	"time"

	"paperTrader/internal/domain"
)

// TradeJournal persists the audit trail of the paper engine. It sits outside the
// ledger: the engine never reads from it to decide anything.
type TradeJournal interface {
	// SaveOrder upserts an order by ID.
	SaveOrder(ctx context.Context, order *domain.Order) error
	// SaveClosedTrade appends a closed trade record.
	SaveClosedTrade(ctx context.Context, trade *domain.ClosedTrade) error
	// FindClosedTrades returns the most recent closed trades for symbol, newest first.
	// An empty symbol matches every symbol.
	FindClosedTrades(ctx context.Context, symbol string, limit int) ([]*domain.ClosedTrade, error)
	// TotalRealizedPnL sums the P&L of every journaled closed trade.
	TotalRealizedPnL(ctx context.Context) (float64, error)
	// CountTradesSince counts closed trades for symbol with an exit time at or after since.
	CountTradesSince(ctx context.Context, symbol string, since time.Time) (int, error)
	// Close releases the underlying storage.
	Close() error
}
