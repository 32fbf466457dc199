package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/gorilla/websocket"
	"github.com/vitos/orderflow-agent/internal/domain"
	"go.uber.org/zap"
)

const (
	wsMainnetURL = "wss://fstream.binance.com/ws"
	wsTestnetURL = "wss://stream.binancefuture.com/ws"

	// markPriceMaxAge bounds how stale the stream cache may be before
	// GetMarkPrice falls back to REST.
	markPriceMaxAge = 3 * time.Second

	wsReconnectDelay = 5 * time.Second

	// Binance error code for "No need to change margin type".
	codeMarginTypeUnchanged = -4046
)

// BinanceAdapter implements domain.Exchange on Binance USDT-M futures.
// Mark price is served from the markPrice stream when fresh, REST
// otherwise; everything else is REST.
type BinanceAdapter struct {
	client *futures.Client
	wsURL  string
	logger *zap.Logger

	mu           sync.RWMutex
	filters      *domain.SymbolFilters
	lastMark     float64
	lastMarkTime time.Time
}

func NewBinanceAdapter(apiKey, apiSecret string, testnet bool, logger *zap.Logger) *BinanceAdapter {
	futures.UseTestnet = testnet
	wsURL := wsMainnetURL
	if testnet {
		wsURL = wsTestnetURL
	}
	return &BinanceAdapter{
		client: futures.NewClient(apiKey, apiSecret),
		wsURL:  wsURL,
		logger: logger,
	}
}

// StartMarkPriceStream subscribes to the 1s mark price stream and keeps a
// local cache. Reconnects until the context is cancelled; the REST
// fallback covers the gaps.
func (b *BinanceAdapter) StartMarkPriceStream(ctx context.Context, symbol string) {
	url := fmt.Sprintf("%s/%s@markPrice@1s", b.wsURL, strings.ToLower(symbol))
	go func() {
		for {
			if ctx.Err() != nil {
				return
			}
			if err := b.readMarkPrices(ctx, url); err != nil {
				b.logger.Warn("mark price stream dropped", zap.Error(err))
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(wsReconnectDelay):
			}
		}
	}()
}

func (b *BinanceAdapter) readMarkPrices(ctx context.Context, url string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	// The watcher must exit when this read loop returns, not only on
	// context cancellation, or every reconnect cycle leaks a goroutine.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var event struct {
			Event string `json:"e"`
			Price string `json:"p"`
		}
		if err := json.Unmarshal(message, &event); err != nil {
			b.logger.Warn("mark price unmarshal failed", zap.Error(err))
			continue
		}
		if event.Event != "markPriceUpdate" {
			continue
		}
		price, err := strconv.ParseFloat(event.Price, 64)
		if err != nil || price <= 0 {
			continue
		}
		b.mu.Lock()
		b.lastMark = price
		b.lastMarkTime = time.Now()
		b.mu.Unlock()
	}
}

func (b *BinanceAdapter) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	b.mu.RLock()
	price, at := b.lastMark, b.lastMarkTime
	b.mu.RUnlock()
	if price > 0 && time.Since(at) < markPriceMaxAge {
		return price, nil
	}

	res, err := b.client.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("premium index: %w", err)
	}
	if len(res) == 0 {
		return 0, fmt.Errorf("premium index: empty response for %s", symbol)
	}
	return strconv.ParseFloat(res[0].MarkPrice, 64)
}

func (b *BinanceAdapter) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	klines, err := b.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("klines: %w", err)
	}

	candles := make([]domain.Candle, 0, len(klines))
	for _, k := range klines {
		open, _ := strconv.ParseFloat(k.Open, 64)
		high, _ := strconv.ParseFloat(k.High, 64)
		low, _ := strconv.ParseFloat(k.Low, 64)
		closePrice, _ := strconv.ParseFloat(k.Close, 64)
		volume, _ := strconv.ParseFloat(k.Volume, 64)
		takerBuy, _ := strconv.ParseFloat(k.TakerBuyBaseAssetVolume, 64)
		candles = append(candles, domain.Candle{
			Time:           k.CloseTime,
			Open:           open,
			High:           high,
			Low:            low,
			Close:          closePrice,
			Volume:         volume,
			TakerBuyVolume: takerBuy,
		})
	}
	return candles, nil
}

func (b *BinanceAdapter) GetSymbolFilters(ctx context.Context, symbol string) (*domain.SymbolFilters, error) {
	info, err := b.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("exchange info: %w", err)
	}
	for i := range info.Symbols {
		s := &info.Symbols[i]
		if s.Symbol != symbol {
			continue
		}
		pf := s.PriceFilter()
		lf := s.LotSizeFilter()
		if pf == nil || lf == nil {
			return nil, fmt.Errorf("exchange info: filters missing for %s", symbol)
		}
		tickSize, err := strconv.ParseFloat(pf.TickSize, 64)
		if err != nil {
			return nil, fmt.Errorf("tick size %q: %w", pf.TickSize, err)
		}
		stepSize, err := strconv.ParseFloat(lf.StepSize, 64)
		if err != nil {
			return nil, fmt.Errorf("step size %q: %w", lf.StepSize, err)
		}
		minQty, err := strconv.ParseFloat(lf.MinQuantity, 64)
		if err != nil {
			return nil, fmt.Errorf("min qty %q: %w", lf.MinQuantity, err)
		}
		filters := &domain.SymbolFilters{
			Symbol:   symbol,
			TickSize: tickSize,
			StepSize: stepSize,
			MinQty:   minQty,
		}
		b.mu.Lock()
		b.filters = filters
		b.mu.Unlock()
		return filters, nil
	}
	return nil, fmt.Errorf("exchange info: symbol %s not found", symbol)
}

func (b *BinanceAdapter) GetBalance(ctx context.Context, asset string) (float64, error) {
	balances, err := b.client.NewGetBalanceService().Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("balance: %w", err)
	}
	for _, bal := range balances {
		if bal.Asset == asset {
			return strconv.ParseFloat(bal.AvailableBalance, 64)
		}
	}
	return 0, fmt.Errorf("balance: asset %s not found", asset)
}

func (b *BinanceAdapter) GetPosition(ctx context.Context, symbol string) (*domain.Position, error) {
	risks, err := b.client.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("position risk: %w", err)
	}

	pos := &domain.Position{Symbol: symbol}
	for _, r := range risks {
		if r.Symbol != symbol {
			continue
		}
		amt, _ := strconv.ParseFloat(r.PositionAmt, 64)
		if amt == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(r.EntryPrice, 64)
		mark, _ := strconv.ParseFloat(r.MarkPrice, 64)
		pnl, _ := strconv.ParseFloat(r.UnRealizedProfit, 64)
		leverage, _ := strconv.Atoi(r.Leverage)

		pos.Amount = amt
		pos.Side = domain.SideLong
		if amt < 0 {
			pos.Side = domain.SideShort
		}
		pos.EntryPrice = entry
		pos.MarkPrice = mark
		pos.UnrealizedPnL = pnl
		pos.Leverage = leverage
		return pos, nil
	}
	return pos, nil
}

func (b *BinanceAdapter) MarketOrder(ctx context.Context, symbol string, side domain.Side, qty float64) error {
	_, err := b.client.NewCreateOrderService().
		Symbol(symbol).
		Side(orderSide(side)).
		Type(futures.OrderTypeMarket).
		Quantity(b.formatQty(qty)).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("market %s %s: %w", side, symbol, err)
	}
	return nil
}

// StopMarketClose places a close-position stop so the full remaining
// quantity is covered even after take-profit rungs fill. Triggered off
// mark price to dodge wick hunts on the last trade.
func (b *BinanceAdapter) StopMarketClose(ctx context.Context, symbol string, side domain.Side, stopPrice float64) error {
	_, err := b.client.NewCreateOrderService().
		Symbol(symbol).
		Side(orderSide(side)).
		Type(futures.OrderTypeStopMarket).
		StopPrice(b.formatPrice(stopPrice)).
		ClosePosition(true).
		WorkingType(futures.WorkingTypeMarkPrice).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("stop market %s %s: %w", side, symbol, err)
	}
	return nil
}

func (b *BinanceAdapter) LimitReduceOnly(ctx context.Context, symbol string, side domain.Side, qty, price float64) error {
	_, err := b.client.NewCreateOrderService().
		Symbol(symbol).
		Side(orderSide(side)).
		Type(futures.OrderTypeLimit).
		TimeInForce(futures.TimeInForceTypeGTC).
		Quantity(b.formatQty(qty)).
		Price(b.formatPrice(price)).
		ReduceOnly(true).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("limit reduce-only %s %s: %w", side, symbol, err)
	}
	return nil
}

// ClosePosition flattens whatever is open with a reduce-only market order.
// No-op when already flat.
func (b *BinanceAdapter) ClosePosition(ctx context.Context, symbol string) error {
	pos, err := b.GetPosition(ctx, symbol)
	if err != nil {
		return err
	}
	if !pos.Open() {
		return nil
	}
	_, err = b.client.NewCreateOrderService().
		Symbol(symbol).
		Side(orderSide(pos.Side.Opposite())).
		Type(futures.OrderTypeMarket).
		Quantity(b.formatQty(math.Abs(pos.Amount))).
		ReduceOnly(true).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("close position %s: %w", symbol, err)
	}
	return nil
}

func (b *BinanceAdapter) CancelAllOrders(ctx context.Context, symbol string) error {
	if err := b.client.NewCancelAllOpenOrdersService().Symbol(symbol).Do(ctx); err != nil {
		return fmt.Errorf("cancel all orders %s: %w", symbol, err)
	}
	return nil
}

func (b *BinanceAdapter) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	_, err := b.client.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx)
	if err != nil {
		return fmt.Errorf("set leverage %s: %w", symbol, err)
	}
	return nil
}

// SetMarginType treats "No need to change margin type" (-4046) as success
// so a restart with the margin type already applied is not fatal.
func (b *BinanceAdapter) SetMarginType(ctx context.Context, symbol, marginType string) error {
	mt := futures.MarginTypeCrossed
	if strings.EqualFold(marginType, "isolated") {
		mt = futures.MarginTypeIsolated
	}
	err := b.client.NewChangeMarginTypeService().Symbol(symbol).MarginType(mt).Do(ctx)
	if err != nil {
		if isMarginTypeNoop(err) {
			return nil
		}
		return fmt.Errorf("set margin type %s: %w", symbol, err)
	}
	return nil
}

func isMarginTypeNoop(err error) bool {
	var apiErr *common.APIError
	return errors.As(err, &apiErr) && apiErr.Code == codeMarginTypeUnchanged
}

func orderSide(side domain.Side) futures.SideType {
	if side == domain.SideShort {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}

func (b *BinanceAdapter) formatQty(qty float64) string {
	b.mu.RLock()
	filters := b.filters
	b.mu.RUnlock()
	if filters != nil {
		return filters.FormatQty(qty)
	}
	return strconv.FormatFloat(qty, 'f', -1, 64)
}

func (b *BinanceAdapter) formatPrice(price float64) string {
	b.mu.RLock()
	filters := b.filters
	b.mu.RUnlock()
	if filters != nil {
		return filters.FormatPrice(price)
	}
	return strconv.FormatFloat(price, 'f', -1, 64)
}
