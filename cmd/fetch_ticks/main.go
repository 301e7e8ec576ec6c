package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"paperTrader/config"
	"paperTrader/internal/adapters/binanceclient"
	"paperTrader/internal/adapters/logger"
	"paperTrader/internal/utils"
)

func main() {
	symbol := flag.String("symbol", "BTCUSDT", "Futures symbol to download")
	interval := flag.String("interval", "1m", "Kline interval")
	days := flag.Int("days", 7, "Days of history to download")
	out := flag.String("out", "", "Output CSV path (default data/<symbol>_<interval>_<start>_to_<end>.csv)")
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}
	if *days <= 0 {
		log.Fatalf("FATAL: -days must be positive, got %d", *days)
	}

	// 2. Initialize Logger
	appLogger, err := logger.New(cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}

	// 3. Initialize Exchange Client (Binance Adapter)
	binanceClient, err := binanceclient.New(binanceclient.Config{
		UseTestnet:           cfg.IsTestnet,
		Logger:               appLogger,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize Binance client")
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}
	appLogger.Info(context.Background(), "Binance client initialized")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	sym := strings.ToUpper(*symbol)
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -*days)

	fmt.Printf("Fetching ticks for %s %s from %s to %s...\n", sym, *interval, start.Format(time.RFC3339), end.Format(time.RFC3339))
	ticks, err := binanceClient.GetHistoricalTicks(ctx, sym, *interval, start, end)
	if err != nil {
		appLogger.Error(ctx, err, "Error fetching historical ticks")
		log.Fatalf("Error fetching historical ticks: %v", err)
	}
	appLogger.Info(ctx, "Fetched ticks", map[string]interface{}{"count": len(ticks)})

	filename := *out
	if filename == "" {
		filename = fmt.Sprintf("data/%s_%s_%s_to_%s.csv", sym, *interval, start.Format("20060102"), end.Format("20060102"))
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		log.Fatalf("Error creating output directory: %v", err)
	}
	if err := utils.WriteTicksToCSV(ticks, filename); err != nil {
		appLogger.Error(ctx, err, "Error writing CSV")
		log.Fatalf("Error writing CSV: %v", err)
	}
	appLogger.Info(ctx, "Saved to", map[string]interface{}{"filename": filename})
}
