package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"paperTrader/internal/domain"
	"paperTrader/internal/ports"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
)

const (
	// Base URLs
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"

	defaultInterval   = "1m"
	defaultBufferSize = 256
	maxKlinesPerCall  = 1500
)

// wsKlineServeFunc matches futures.WsKlineServe so tests can replace the socket.
type wsKlineServeFunc func(symbol, interval string, handler futures.WsKlineHandler, errHandler futures.ErrHandler) (doneC, stopC chan struct{}, err error)

// Client is a live market data feed backed by Binance futures public endpoints.
// It implements ports.MarketDataFeed; no orders are ever sent to the exchange.
type Client struct {
	futuresClient        *futures.Client
	logger               ports.Logger
	interval             string
	bufferSize           int
	reconnectDelay       time.Duration
	maxReconnectAttempts int
	serve                wsKlineServeFunc
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	UseTestnet           bool
	Logger               ports.Logger
	Interval             string        // Kline stream interval, defaults to 1m
	BufferSize           int           // Per-subscription tick buffer
	ReconnectDelay       time.Duration // Reconnect delay (e.g., 1 * time.Second)
	MaxReconnectAttempts int           // Max attempts before giving up
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}

	// Only public market data endpoints are used, so no keys are needed.
	client := futures.NewClient("", "")
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		futures.UseTestnet = true
		cfg.Logger.Info(context.Background(), "Binance feed configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	} else {
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance feed configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}

	interval := cfg.Interval
	if interval == "" {
		interval = defaultInterval
	}
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	reconnectDelay := cfg.ReconnectDelay
	if reconnectDelay <= 0 {
		reconnectDelay = 1 * time.Second
	}
	maxAttempts := cfg.MaxReconnectAttempts
	if maxAttempts <= 0 {
		maxAttempts = 10
	}

	return &Client{
		futuresClient:        client,
		logger:               cfg.Logger,
		interval:             interval,
		bufferSize:           bufferSize,
		reconnectDelay:       reconnectDelay,
		maxReconnectAttempts: maxAttempts,
		serve:                futures.WsKlineServe,
	}, nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1021: // Timestamp for this request is outside of the recvWindow
			mappedErr = ports.ErrTimeout
		case -1100, -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1120, -1121, -1130: // Parameter/Request format errors
			mappedErr = ports.ErrInvalidRequest
		case -1000, -1001, -1006, -1007: // Unknown / disconnected / unexpected response / timeout waiting for backend
			mappedErr = ports.ErrFeedUnavailable
		default:
			mappedErr = ports.ErrUnknown
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") ||
		strings.Contains(err.Error(), "bad handshake") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// Ping checks the connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	err := c.futuresClient.NewPingService().Do(ctx)
	if err != nil {
		return c.handleError(ctx, fmt.Errorf("ping failed: %w", err), op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// GetTickerPrice retrieves the last ticker price for a given symbol.
func (c *Client) GetTickerPrice(ctx context.Context, symbol string) (float64, error) {
	op := "GetTickerPrice"
	tickers, err := c.futuresClient.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}
	if len(tickers) == 0 {
		err := fmt.Errorf("no ticker data returned for symbol %s", symbol)
		return 0, c.handleError(ctx, err, op)
	}

	price, err := strconv.ParseFloat(tickers[0].LastPrice, 64)
	if err != nil {
		parseErr := fmt.Errorf("could not parse price '%s': %w", tickers[0].LastPrice, err)
		return 0, c.handleError(ctx, parseErr, op)
	}
	return price, nil
}

// Subscribe streams kline updates for symbol as ticks (close price, event time).
// The socket is re-dialled with exponential backoff when it drops; ticks older
// than the last delivered one are discarded so the stream stays ordered across
// reconnects.
func (c *Client) Subscribe(ctx context.Context, symbol string) (<-chan domain.Tick, func(), error) {
	op := "Subscribe"
	if strings.TrimSpace(symbol) == "" {
		return nil, nil, fmt.Errorf("%w: symbol is required", ports.ErrInvalidRequest)
	}
	symbol = strings.ToUpper(symbol)
	fields := map[string]interface{}{"symbol": symbol, "interval": c.interval}

	wsCtx, cancelWs := context.WithCancel(ctx)
	out := make(chan domain.Tick, c.bufferSize)

	// Only one connection is alive at a time, so last needs no lock.
	var last time.Time
	handler := func(event *futures.WsKlineEvent) {
		tick, err := translateWsKline(event)
		if err != nil {
			c.logger.Error(wsCtx, err, op+": Failed to translate WebSocket kline event", fields)
			return
		}
		if tick.Timestamp.Before(last) {
			c.logger.Debug(wsCtx, op+": Dropping out-of-order tick", map[string]interface{}{"symbol": symbol, "timestamp": tick.Timestamp})
			return
		}
		last = tick.Timestamp
		select {
		case out <- tick:
		case <-wsCtx.Done():
		}
	}
	errHandler := func(err error) {
		translatedErr := c.handleError(wsCtx, err, op+" WebSocket")
		c.logger.Warn(wsCtx, op+": WebSocket error reported", map[string]interface{}{"symbol": symbol, "error": translatedErr.Error()})
	}

	go func() {
		defer close(out)
		defer cancelWs()

		attempt := 0
		for {
			if wsCtx.Err() != nil {
				c.logger.Info(wsCtx, op+": Context cancelled, stopping connection attempts.", fields)
				return
			}

			c.logger.Info(wsCtx, op+": Attempting WebSocket connection...", map[string]interface{}{"symbol": symbol, "interval": c.interval, "attempt": attempt + 1})
			innerDoneCh, innerStopCh, connectErr := c.serve(symbol, c.interval, handler, errHandler)
			if connectErr != nil {
				c.handleError(wsCtx, connectErr, op+" connection attempt")
				attempt++
				if attempt >= c.maxReconnectAttempts {
					c.logger.Error(wsCtx, fmt.Errorf("%w: %v", ports.ErrFeedUnavailable, connectErr), op+": Max reconnection attempts exceeded, giving up.", map[string]interface{}{"symbol": symbol, "maxAttempts": c.maxReconnectAttempts})
					return
				}

				delay := c.backoff(attempt)
				c.logger.Info(wsCtx, op+": Connection failed, retrying...", map[string]interface{}{"symbol": symbol, "attempt": attempt + 1, "delay": delay.String()})
				select {
				case <-time.After(delay):
					continue
				case <-wsCtx.Done():
					c.logger.Info(wsCtx, op+": Context cancelled during backoff.", fields)
					return
				}
			}

			c.logger.Info(wsCtx, op+": WebSocket connection established.", fields)
			attempt = 0

			select {
			case <-innerDoneCh:
				c.logger.Warn(wsCtx, op+": WebSocket connection closed unexpectedly. Reconnecting...", fields)
			case <-wsCtx.Done():
				c.logger.Info(wsCtx, op+": Context cancelled, stopping WebSocket.", fields)
				select {
				case innerStopCh <- struct{}{}:
				case <-innerDoneCh:
				}
				// The handler must be finished before out is closed.
				<-innerDoneCh
				return
			}
		}
	}()

	return out, cancelWs, nil
}

// backoff returns the delay before reconnect attempt n (1-based), doubling each
// time with 10% jitter on top.
func (c *Client) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 16 {
		attempt = 16
	}
	delay := c.reconnectDelay * time.Duration(1<<uint(attempt-1))
	return delay + delay/10
}

// GetHistoricalTicks fetches klines between start and end and returns one tick
// per kline, priced at the close and stamped with the close time.
func (c *Client) GetHistoricalTicks(ctx context.Context, symbol, interval string, start, end time.Time) ([]domain.Tick, error) {
	op := "GetHistoricalTicks"
	var ticks []domain.Tick
	from := start

	for {
		klines, err := c.futuresClient.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(from.UnixMilli()).
			EndTime(end.UnixMilli()).
			Limit(maxKlinesPerCall).
			Do(ctx)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		if len(klines) == 0 {
			break
		}
		for _, bk := range klines {
			tick, err := translateBinanceKline(bk, symbol)
			if err != nil {
				return nil, c.handleError(ctx, fmt.Errorf("failed to translate historical kline: %w", err), op)
			}
			ticks = append(ticks, tick)
		}
		last := klines[len(klines)-1]
		from = time.UnixMilli(last.CloseTime + 1)
		if from.After(end) || len(klines) < maxKlinesPerCall {
			break
		}
	}

	c.logger.Info(ctx, op+" complete", map[string]interface{}{"symbol": symbol, "interval": interval, "ticks": len(ticks)})
	return ticks, nil
}

// --- Translation Helpers ---

func translateWsKline(event *futures.WsKlineEvent) (domain.Tick, error) {
	if event == nil {
		return domain.Tick{}, errors.New("received nil kline event")
	}
	price, err := parsePrice(event.Kline.Close)
	if err != nil {
		return domain.Tick{}, err
	}
	symbol := event.Symbol
	if symbol == "" {
		symbol = event.Kline.Symbol
	}
	return domain.Tick{
		Symbol:    symbol,
		Price:     price,
		Timestamp: time.UnixMilli(event.Time).UTC(),
	}, nil
}

func translateBinanceKline(bk *futures.Kline, symbol string) (domain.Tick, error) {
	if bk == nil {
		return domain.Tick{}, errors.New("received nil historical kline")
	}
	price, err := parsePrice(bk.Close)
	if err != nil {
		return domain.Tick{}, err
	}
	return domain.Tick{
		Symbol:    symbol,
		Price:     price,
		Timestamp: time.UnixMilli(bk.CloseTime).UTC(),
	}, nil
}

func parsePrice(s string) (float64, error) {
	price, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing close price '%s': %w", s, err)
	}
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return 0, fmt.Errorf("non-finite close price '%s'", s)
	}
	if price <= 0 {
		return 0, fmt.Errorf("non-positive close price '%s'", s)
	}
	return price, nil
}
