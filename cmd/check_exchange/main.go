package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/vitos/orderflow-agent/internal/config"
	"github.com/vitos/orderflow-agent/internal/infrastructure/exchange"
	"go.uber.org/zap"
)

// Connectivity check: verifies credentials, symbol filters, mark price and
// balance without placing any orders. Run this before letting the agent
// trade a new account or symbol.
func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	_ = godotenv.Load()

	// 1. Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	apiKey := os.Getenv("BINANCE_API_KEY")
	apiSecret := os.Getenv("BINANCE_API_SECRET")
	if apiKey == "" || apiSecret == "" {
		fmt.Println("BINANCE_API_KEY and BINANCE_API_SECRET must be set")
		os.Exit(1)
	}

	fmt.Printf("Testing Binance futures interaction...\n")
	fmt.Printf("Symbol: %s | Testnet: %v\n", cfg.Symbol, cfg.Testnet)
	fmt.Printf("API Key: %s...\n", apiKey[:4])

	adapter := exchange.NewBinanceAdapter(apiKey, apiSecret, cfg.Testnet, zap.NewNop())
	ctx := context.Background()

	// 2. Public endpoints
	price, err := adapter.GetMarkPrice(ctx, cfg.Symbol)
	if err != nil {
		fmt.Printf("❌ Failed to get mark price: %v\n", err)
	} else {
		fmt.Printf("✅ Mark price (%s): %f\n", cfg.Symbol, price)
	}

	filters, err := adapter.GetSymbolFilters(ctx, cfg.Symbol)
	if err != nil {
		fmt.Printf("❌ Failed to get symbol filters: %v\n", err)
	} else {
		fmt.Printf("✅ Filters: tick=%g step=%g min_qty=%g\n", filters.TickSize, filters.StepSize, filters.MinQty)
	}

	// 3. Signed endpoints
	balance, err := adapter.GetBalance(ctx, "USDT")
	if err != nil {
		fmt.Printf("❌ Failed to get balance: %v\n", err)
	} else {
		fmt.Printf("✅ Available USDT balance: %f\n", balance)
	}

	pos, err := adapter.GetPosition(ctx, cfg.Symbol)
	if err != nil {
		fmt.Printf("❌ Failed to get position: %v\n", err)
	} else if pos.Open() {
		fmt.Printf("✅ Open position: %s %f @ %f\n", pos.Side, pos.Qty(), pos.EntryPrice)
	} else {
		fmt.Printf("✅ No open position\n")
	}
}
