package usecase_test

import (
	"testing"

	"github.com/vitos/orderflow-agent/internal/domain"
	"github.com/vitos/orderflow-agent/internal/usecase"
)

// rangeCandles builds one forming candle plus len(ranges) closed candles
// with the given high-low spans, most recent last.
func rangeCandles(ranges ...float64) []domain.Candle {
	candles := make([]domain.Candle, 0, len(ranges)+1)
	for _, r := range ranges {
		candles = append(candles, domain.Candle{Open: 100, High: 100 + r, Low: 100, Close: 100 + r/2, Volume: 100})
	}
	candles = append(candles, domain.Candle{Open: 100, High: 100.1, Low: 100, Close: 100.05, Volume: 10})
	return candles
}

func TestVolatilityGate_BlocksDeadMarket(t *testing.T) {
	// avg_range 10 < price * min_avg_range_pct = 12: blocked even though
	// the last candle expanded well past the average.
	gate := usecase.NewVolatilityGate(3, 1.2, 0.12)

	candles := rangeCandles(10, 10, 10, 40)
	ok, avgRange, _ := gate.Check(candles, 100)
	if ok {
		t.Fatalf("expected block in dead market, avg_range=%f", avgRange)
	}
}

func TestVolatilityGate_BlocksWithoutExpansion(t *testing.T) {
	gate := usecase.NewVolatilityGate(3, 1.2, 0.0001)

	candles := rangeCandles(10, 10, 10, 11) // 11 < 10*1.2
	if ok, _, _ := gate.Check(candles, 100); ok {
		t.Fatal("expected block without range expansion")
	}
}

func TestVolatilityGate_PassesOnExpansion(t *testing.T) {
	gate := usecase.NewVolatilityGate(3, 1.2, 0.0001)

	candles := rangeCandles(10, 10, 10, 15)
	ok, avgRange, lastRange := gate.Check(candles, 100)
	if !ok {
		t.Fatalf("expected pass, avg=%f last=%f", avgRange, lastRange)
	}
	if avgRange != 10 {
		t.Errorf("avg_range = %f, want 10", avgRange)
	}
	if lastRange != 15 {
		t.Errorf("last_range = %f, want 15", lastRange)
	}
}

func TestVolatilityGate_BlocksOnShortHistory(t *testing.T) {
	gate := usecase.NewVolatilityGate(14, 1.2, 0.0001)

	if ok, _, _ := gate.Check(rangeCandles(10, 10, 15), 100); ok {
		t.Fatal("expected block with insufficient history")
	}
}
