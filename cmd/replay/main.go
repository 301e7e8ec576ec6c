package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"

	"paperTrader/config"
	"paperTrader/internal/adapters/logger"
	"paperTrader/internal/app"
	"paperTrader/internal/paper"
	"paperTrader/internal/risk"
	"paperTrader/internal/strategy/optimization"
	"paperTrader/internal/strategy/strategies"
	"paperTrader/internal/utils"
)

// rangeFlags collects repeated -sweep values.
type rangeFlags []optimization.ParameterRange

func (r *rangeFlags) String() string {
	names := make([]string, 0, len(*r))
	for _, p := range *r {
		names = append(names, p.Name)
	}
	return strings.Join(names, ",")
}

func (r *rangeFlags) Set(v string) error {
	p, err := optimization.ParseParameterRange(v)
	if err != nil {
		return err
	}
	*r = append(*r, p)
	return nil
}

func main() {
	var sweep rangeFlags
	flag.Var(&sweep, "sweep", "Parameter range name=min:max:step to optimize (repeatable); names: fast_ma, slow_ma, rsi_period, rsi_overbought, rsi_oversold")
	topN := flag.Int("top", 10, "Results to keep in the sweep report")
	csvPath := flag.String("csv", "", "Tick CSV to replay (defaults to CSV_PATH)")
	outPath := flag.String("out", "replay_report.json", "Where to write the JSON report, - for stdout")
	closeAtEnd := flag.Bool("close-at-end", true, "Close positions still open after the last tick")
	noStrategy := flag.Bool("no-strategy", false, "Replay prices only, without the strategy")
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}
	path := *csvPath
	if path == "" {
		path = cfg.CSVPath
	}
	if path == "" {
		log.Fatalf("FATAL: no tick CSV given, use -csv or CSV_PATH")
	}

	// 2. Initialize Logger
	appLogger, err := logger.New(cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}

	// 3. Load ticks
	ticks, err := utils.ReadTicksFromCSV(path)
	if err != nil {
		appLogger.Error(context.Background(), err, "Error loading ticks", map[string]interface{}{"path": path})
		log.Fatalf("Error loading ticks: %v", err)
	}
	appLogger.Info(context.Background(), "Loaded ticks", map[string]interface{}{"path": path, "count": len(ticks)})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var report interface{}
	if len(sweep) > 0 {
		// 4. Sweep strategy parameters
		optimizer, err := optimization.NewOptimizer(optimization.OptimizerConfig{
			ParameterRanges: sweep,
			Base:            cfg.StrategyConfig(),
			Engine:          cfg.EngineConfig(),
			Risk:            cfg.RiskConfig(),
			OrderQuantity:   cfg.OrderQuantity,
			Logger:          appLogger,
		})
		if err != nil {
			log.Fatalf("FATAL: Failed to initialize optimizer: %v", err)
		}
		results, err := optimizer.Optimize(ctx, ticks)
		if err != nil {
			log.Fatalf("Optimization failed: %v", err)
		}
		if *topN > 0 && len(results) > *topN {
			results = results[:*topN]
		}
		report = results
	} else {
		// 4. Initialize engine and strategy
		engine, err := paper.New(cfg.EngineConfig(), nil, nil, appLogger, paper.WithTickTime())
		if err != nil {
			log.Fatalf("FATAL: Failed to initialize paper trading engine: %v", err)
		}
		var runner *app.StrategyRunner
		if !*noStrategy {
			strat, err := strategies.NewMACrossover(cfg.StrategyConfig(), appLogger)
			if err != nil {
				log.Fatalf("FATAL: Failed to initialize trading strategy: %v", err)
			}
			runner, err = app.NewStrategyRunner(app.RunnerConfig{OrderQuantity: cfg.OrderQuantity}, engine, strat, risk.NewManager(cfg.RiskConfig()), appLogger)
			if err != nil {
				log.Fatalf("FATAL: Failed to initialize strategy runner: %v", err)
			}
		}

		// 5. Replay
		result, err := app.Replay(ctx, engine, runner, ticks, app.ReplayOptions{CloseAtEnd: *closeAtEnd}, appLogger)
		if err != nil {
			log.Fatalf("Replay failed: %v", err)
		}
		report = result
		if *outPath != "-" {
			if err := engine.PrintStats(os.Stdout); err != nil {
				log.Printf("Error printing stats: %v", err)
			}
		}
	}

	// 6. Export results
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Fatalf("Error encoding report: %v", err)
	}
	if *outPath == "-" {
		_, err = os.Stdout.Write(append(data, '\n'))
	} else {
		err = os.WriteFile(*outPath, data, 0o644)
	}
	if err != nil {
		log.Fatalf("Error writing report: %v", err)
	}
	if *outPath != "-" {
		appLogger.Info(ctx, "Report written", map[string]interface{}{"path": *outPath})
	}
}
