package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/vitos/orderflow-agent/internal/config"
	"github.com/vitos/orderflow-agent/internal/domain"
	"github.com/vitos/orderflow-agent/internal/infrastructure/exchange"
	"github.com/vitos/orderflow-agent/internal/infrastructure/logger"
	"github.com/vitos/orderflow-agent/internal/infrastructure/storage"
	"github.com/vitos/orderflow-agent/internal/infrastructure/telegram"
	"github.com/vitos/orderflow-agent/internal/usecase"
	"github.com/vitos/orderflow-agent/internal/web"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	// Credentials come from the environment, never from the config file.
	_ = godotenv.Load()

	// 1. Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Logger
	var log *zap.Logger
	if cfg.Logging.File != "" {
		log, err = logger.NewFileLogger(cfg.Logging.File, cfg.Logging.Level)
	} else {
		log, err = logger.NewLogger(cfg.Logging.Level)
	}
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	apiKey := os.Getenv("BINANCE_API_KEY")
	apiSecret := os.Getenv("BINANCE_API_SECRET")
	if apiKey == "" || apiSecret == "" {
		log.Fatal("BINANCE_API_KEY and BINANCE_API_SECRET must be set")
	}

	// 3. Init Storage
	store, err := storage.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	// 4. Init Exchange
	adapter := exchange.NewBinanceAdapter(apiKey, apiSecret, cfg.Testnet, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Symbol filters are load-bearing for all rounding; refusing to start
	// without them beats trading with wrong precision.
	filters, err := adapter.GetSymbolFilters(ctx, cfg.Symbol)
	if err != nil {
		log.Fatal("Failed to fetch symbol filters", zap.Error(err))
	}
	log.Info("symbol filters loaded",
		zap.String("symbol", cfg.Symbol),
		zap.Float64("tick_size", filters.TickSize),
		zap.Float64("step_size", filters.StepSize),
		zap.Float64("min_qty", filters.MinQty))

	if err := adapter.SetLeverage(ctx, cfg.Symbol, cfg.Leverage); err != nil {
		log.Fatal("Failed to set leverage", zap.Error(err))
	}
	if err := adapter.SetMarginType(ctx, cfg.Symbol, cfg.MarginType); err != nil {
		log.Fatal("Failed to set margin type", zap.Error(err))
	}

	adapter.StartMarkPriceStream(ctx, cfg.Symbol)

	// 5. Init Notifier / Control Plane
	var notifier domain.Notifier
	var control *usecase.ControlPlane
	tgToken := os.Getenv("TG_BOT_TOKEN")
	tgChatID, _ := strconv.ParseInt(os.Getenv("TG_CHAT_ID"), 10, 64)
	if tgToken != "" && tgChatID != 0 {
		client := telegram.NewClient(tgToken, tgChatID, log)
		notifier = client
		control = usecase.NewControlPlane(client, log)
	} else {
		log.Warn("TG_BOT_TOKEN/TG_CHAT_ID not set, notifications go to log only")
		notifier = telegram.NewLogNotifier(log)
	}

	// 6. Init Services
	signals := usecase.NewSignalEngine(cfg.Signal.Lookback, cfg.Signal.VolumeMult, cfg.Signal.MinBodyRatio)
	gate := usecase.NewVolatilityGate(cfg.Volatility.Lookback, cfg.Volatility.RangeMult, cfg.Volatility.MinAvgRangePct)
	sizer := usecase.NewRiskSizer(cfg.Capital, cfg.RiskPerTradePct, cfg.ReservePct, cfg.Leverage, filters)
	orders := usecase.NewOrderManager(adapter, store, filters, sizer, usecase.OrderManagerConfig{
		Symbol:           cfg.Symbol,
		ATRTimeframe:     cfg.ATR.Timeframe,
		ATRPeriod:        cfg.ATR.Period,
		MinSLDistancePct: cfg.MinSLDistancePct,
		MinProfitUSD:     cfg.TakeProfit.MinProfitUSD,
		TargetsUSD:       cfg.TakeProfit.TargetsUSD,
		Shares:           cfg.TakeProfit.Shares,
		ConfirmWait:      cfg.EntryConfirmWait(),
	}, log)

	agent := usecase.NewAgent(cfg, adapter, store, store, notifier, control, signals, gate, orders, log)

	// 7. Status Server
	server := web.NewServer(cfg.Server.Port, agent, log)
	go func() {
		if err := server.Start(); err != nil {
			log.Error("status server failed", zap.Error(err))
		}
	}()

	// 8. Run until SIGINT/SIGTERM
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		log.Info("shutdown signal received")
		cancel()
	}()

	agent.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("status server shutdown failed", zap.Error(err))
	}
}
