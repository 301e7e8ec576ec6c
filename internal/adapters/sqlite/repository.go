package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"paperTrader/internal/domain"
	"paperTrader/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements ports.TradeJournal using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/paper_trading.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("%w: failed to ping database at '%s': %v", ports.ErrDBConnection, dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// One writer; SQLite serializes internally anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Trade journal ready", map[string]interface{}{"path": dbPath})

	return repo, nil
}

func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		type TEXT NOT NULL,
		side TEXT NOT NULL,
		status TEXT NOT NULL,
		quantity REAL NOT NULL,
		filled_quantity REAL NOT NULL,
		limit_price REAL NOT NULL,
		avg_fill_price REAL NOT NULL,
		fees REAL NOT NULL,
		slippage REAL NOT NULL,
		strategy_name TEXT NOT NULL,
		reason TEXT NOT NULL,
		position_id TEXT NOT NULL,
		reject_reason TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		filled_at TIMESTAMP NULL,
		cancelled_at TIMESTAMP NULL
	);

	CREATE TABLE IF NOT EXISTS closed_trades (
		id TEXT PRIMARY KEY,
		position_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		quantity REAL NOT NULL,
		entry_time TIMESTAMP NOT NULL,
		exit_time TIMESTAMP NOT NULL,
		pnl REAL NOT NULL,
		pnl_percent REAL NOT NULL,
		fees REAL NOT NULL,
		slippage REAL NOT NULL,
		entry_order_id TEXT NOT NULL,
		exit_order_id TEXT NOT NULL,
		exit_reason TEXT NOT NULL,
		strategy_name TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_orders_symbol_status ON orders (symbol, status);
	CREATE INDEX IF NOT EXISTS idx_closed_trades_symbol_exit_time ON closed_trades (symbol, exit_time);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// SaveOrder upserts an order by ID.
func (r *Repository) SaveOrder(ctx context.Context, o *domain.Order) error {
	const query = `
	INSERT INTO orders (id, symbol, type, side, status, quantity, filled_quantity, limit_price,
	                    avg_fill_price, fees, slippage, strategy_name, reason, position_id,
	                    reject_reason, created_at, filled_at, cancelled_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		status = excluded.status,
		filled_quantity = excluded.filled_quantity,
		avg_fill_price = excluded.avg_fill_price,
		fees = excluded.fees,
		slippage = excluded.slippage,
		position_id = excluded.position_id,
		reject_reason = excluded.reject_reason,
		filled_at = excluded.filled_at,
		cancelled_at = excluded.cancelled_at`

	_, err := r.db.ExecContext(ctx, query,
		o.ID, o.Symbol, string(o.Type), string(o.Side), string(o.Status), o.Quantity, o.FilledQty, o.LimitPrice,
		o.AvgFillPrice, o.Fees, o.Slippage, o.StrategyName, o.Reason, o.PositionID,
		o.RejectReason, o.CreatedAt.UTC(), nullTime(o.FilledAt), nullTime(o.CancelledAt))
	if err != nil {
		return fmt.Errorf("%w: save order %s: %v", ports.ErrUpdateFailed, o.ID, err)
	}
	r.logger.Debug(ctx, "Order journaled", map[string]interface{}{"orderID": o.ID, "status": o.Status})
	return nil
}

// FindOrder retrieves an order by ID. Returns nil, nil if not found.
func (r *Repository) FindOrder(ctx context.Context, id string) (*domain.Order, error) {
	const query = `
	SELECT id, symbol, type, side, status, quantity, filled_quantity, limit_price,
	       avg_fill_price, fees, slippage, strategy_name, reason, position_id,
	       reject_reason, created_at, filled_at, cancelled_at
	FROM orders WHERE id = ?`

	o, err := scanOrder(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: find order %s: %v", ports.ErrQueryFailed, id, err)
	}
	return o, nil
}

// SaveClosedTrade appends a closed trade record.
func (r *Repository) SaveClosedTrade(ctx context.Context, t *domain.ClosedTrade) error {
	const query = `
	INSERT INTO closed_trades (id, position_id, symbol, side, entry_price, exit_price, quantity,
	                           entry_time, exit_time, pnl, pnl_percent, fees, slippage,
	                           entry_order_id, exit_order_id, exit_reason, strategy_name)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		t.ID, t.PositionID, t.Symbol, string(t.Side), t.EntryPrice, t.ExitPrice, t.Quantity,
		t.EntryTime.UTC(), t.ExitTime.UTC(), t.PnL, t.PnLPercent, t.Fees, t.Slippage,
		t.EntryOrderID, t.ExitOrderID, string(t.ExitReason), t.StrategyName)
	if err != nil {
		return fmt.Errorf("%w: save closed trade %s: %v", ports.ErrUpdateFailed, t.ID, err)
	}
	r.logger.Debug(ctx, "Closed trade journaled", map[string]interface{}{"tradeID": t.ID, "symbol": t.Symbol, "pnl": t.PnL})
	return nil
}

// FindClosedTrades retrieves the most recent closed trades for symbol, newest first.
// An empty symbol matches every symbol.
func (r *Repository) FindClosedTrades(ctx context.Context, symbol string, limit int) ([]*domain.ClosedTrade, error) {
	const query = `
	SELECT id, position_id, symbol, side, entry_price, exit_price, quantity, entry_time, exit_time,
	       pnl, pnl_percent, fees, slippage, entry_order_id, exit_order_id, exit_reason, strategy_name
	FROM closed_trades
	WHERE (? = '' OR symbol = ?)
	ORDER BY exit_time DESC, rowid DESC LIMIT ?`

	if limit <= 0 {
		limit = -1 // no limit in SQLite
	}
	rows, err := r.db.QueryContext(ctx, query, symbol, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: closed trades for %q: %v", ports.ErrQueryFailed, symbol, err)
	}
	defer rows.Close()

	trades := make([]*domain.ClosedTrade, 0)
	for rows.Next() {
		t, err := scanClosedTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan closed trade: %w", err)
		}
		trades = append(trades, t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating closed trade rows: %w", err)
	}
	return trades, nil
}

// TotalRealizedPnL sums the P&L of every journaled closed trade.
func (r *Repository) TotalRealizedPnL(ctx context.Context) (float64, error) {
	var total float64
	if err := r.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(pnl), 0) FROM closed_trades`).Scan(&total); err != nil {
		return 0, fmt.Errorf("%w: total realized pnl: %v", ports.ErrQueryFailed, err)
	}
	return total, nil
}

// CountTradesSince counts closed trades for symbol exited at or after since.
func (r *Repository) CountTradesSince(ctx context.Context, symbol string, since time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM closed_trades WHERE symbol = ? AND exit_time >= ?`
	var count int
	if err := r.db.QueryRowContext(ctx, query, symbol, since.UTC()).Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: count trades for %s: %v", ports.ErrQueryFailed, symbol, err)
	}
	return count, nil
}

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(s scanner) (*domain.Order, error) {
	o := &domain.Order{}
	var typ, side, status string
	var filledAt, cancelledAt sql.NullTime
	err := s.Scan(
		&o.ID, &o.Symbol, &typ, &side, &status, &o.Quantity, &o.FilledQty, &o.LimitPrice,
		&o.AvgFillPrice, &o.Fees, &o.Slippage, &o.StrategyName, &o.Reason, &o.PositionID,
		&o.RejectReason, &o.CreatedAt, &filledAt, &cancelledAt)
	if err != nil {
		return nil, err
	}
	o.Type = domain.OrderType(typ)
	o.Side = domain.OrderSide(side)
	o.Status = domain.OrderStatus(status)
	if filledAt.Valid {
		o.FilledAt = &filledAt.Time
	}
	if cancelledAt.Valid {
		o.CancelledAt = &cancelledAt.Time
	}
	return o, nil
}

func scanClosedTrade(s scanner) (*domain.ClosedTrade, error) {
	t := &domain.ClosedTrade{}
	var side, reason string
	err := s.Scan(
		&t.ID, &t.PositionID, &t.Symbol, &side, &t.EntryPrice, &t.ExitPrice, &t.Quantity, &t.EntryTime, &t.ExitTime,
		&t.PnL, &t.PnLPercent, &t.Fees, &t.Slippage, &t.EntryOrderID, &t.ExitOrderID, &reason, &t.StrategyName)
	if err != nil {
		return nil, err
	}
	t.Side = domain.PositionSide(side)
	t.ExitReason = domain.ExitReason(reason)
	return t, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
