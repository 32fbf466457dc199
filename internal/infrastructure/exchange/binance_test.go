package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func TestIsMarginTypeNoop(t *testing.T) {
	noop := &common.APIError{Code: -4046, Message: "No need to change margin type."}
	if !isMarginTypeNoop(noop) {
		t.Fatal("-4046 must classify as no-op")
	}
	if !isMarginTypeNoop(fmt.Errorf("change margin type: %w", noop)) {
		t.Fatal("wrapped -4046 must classify as no-op")
	}

	if isMarginTypeNoop(&common.APIError{Code: -2019, Message: "Margin is insufficient."}) {
		t.Fatal("other API errors are not no-ops")
	}
	if isMarginTypeNoop(errors.New("connection reset")) {
		t.Fatal("transport errors are not no-ops")
	}
}

func TestReadMarkPricesReleasesWatcherOnDrop(t *testing.T) {
	// Server accepts the websocket handshake and hangs up immediately,
	// forcing the read loop through its error return every time.
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	adapter := NewBinanceAdapter("", "", true, zap.NewNop())
	ctx := context.Background()

	before := runtime.NumGoroutine()
	for i := 0; i < 50; i++ {
		if err := adapter.readMarkPrices(ctx, url); err == nil {
			t.Fatal("expected read error from dropped connection")
		}
	}

	// Watchers exit asynchronously; give the scheduler a moment.
	var delta int
	for i := 0; i < 100; i++ {
		delta = runtime.NumGoroutine() - before
		if delta < 5 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if delta >= 5 {
		t.Fatalf("goroutine delta after 50 dropped connections: %d", delta)
	}
}

func TestOrderSideMapping(t *testing.T) {
	if got := orderSide("LONG"); got != "BUY" {
		t.Fatalf("orderSide(LONG) = %s, want BUY", got)
	}
	if got := orderSide("SHORT"); got != "SELL" {
		t.Fatalf("orderSide(SHORT) = %s, want SELL", got)
	}
}
