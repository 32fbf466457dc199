package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vitos/orderflow-agent/internal/config"
	"github.com/vitos/orderflow-agent/internal/domain"
	"go.uber.org/zap"
)

// Phase is the agent's position lifecycle state. PAUSED is not a phase: it
// is an orthogonal flag in AgentState that only blocks new entries.
type Phase string

const (
	PhaseIdle      Phase = "IDLE"
	PhaseEntering  Phase = "ENTERING"
	PhaseProtected Phase = "PROTECTED"
	PhaseCooldown  Phase = "COOLDOWN"
)

// Agent runs the single-symbol decision loop. One logical tick per
// iteration, single writer over AgentState; the only concurrent readers
// are the status server via Status().
type Agent struct {
	cfg      *config.Config
	exchange domain.Exchange
	store    domain.StateRepository
	trades   domain.TradeRepository
	notifier domain.Notifier
	control  *ControlPlane
	signals  *SignalEngine
	gate     *VolatilityGate
	orders   *OrderManager
	logger   *zap.Logger

	mu              sync.RWMutex
	state           *domain.AgentState
	phase           Phase
	needsProtection bool

	startedAt     time.Time
	lastHeartbeat time.Time
	timeNow       func() time.Time // for testing
}

func NewAgent(
	cfg *config.Config,
	exchange domain.Exchange,
	store domain.StateRepository,
	trades domain.TradeRepository,
	notifier domain.Notifier,
	control *ControlPlane,
	signals *SignalEngine,
	gate *VolatilityGate,
	orders *OrderManager,
	logger *zap.Logger,
) *Agent {
	return &Agent{
		cfg:      cfg,
		exchange: exchange,
		store:    store,
		trades:   trades,
		notifier: notifier,
		control:  control,
		signals:  signals,
		gate:     gate,
		orders:   orders,
		logger:   logger,
		state:    &domain.AgentState{},
		phase:    PhaseIdle,
		timeNow:  time.Now,
	}
}

// Init loads the durable state. Missing or corrupt storage falls back to
// defaults with a warning; it is never fatal.
func (a *Agent) Init(ctx context.Context) {
	state, err := a.store.LoadState(ctx, a.cfg.Symbol)
	if err != nil {
		a.logger.Warn("failed to load state, using defaults", zap.Error(err))
		state = &domain.AgentState{}
	}
	a.mu.Lock()
	a.state = state
	a.startedAt = a.timeNow()
	a.mu.Unlock()

	a.reconcileOnStart(ctx)
}

// reconcileOnStart classifies a position that was closed while the
// process was down. Flat on the exchange with an entry still recorded
// means a resting order filled offline; a losing exit must still arm the
// cooldown, and the stale entry summary must not survive into IDLE.
func (a *Agent) reconcileOnStart(ctx context.Context) {
	if a.state.LastEntry == nil {
		return
	}
	pos, err := a.exchange.GetPosition(ctx, a.cfg.Symbol)
	if err != nil {
		a.logger.Warn("startup position query failed, deferring reconciliation", zap.Error(err))
		return
	}
	if pos.Open() {
		// First tick re-attaches protection.
		return
	}
	if err := a.onPositionClosed(ctx, a.timeNow()); err != nil {
		a.logger.Warn("startup close classification failed", zap.Error(err))
	}
}

// Run drives Tick on the poll interval until the context is cancelled.
// On termination it sends a final notification and flushes state, but
// never closes open positions: the resting protective orders remain the
// safety net.
func (a *Agent) Run(ctx context.Context) {
	a.Init(ctx)
	a.notify(fmt.Sprintf("▶️ Agent started | %s | leverage %dx", a.cfg.Symbol, a.cfg.Leverage))

	ticker := time.NewTicker(a.cfg.PollInterval())
	defer ticker.Stop()

	for {
		if err := a.Tick(ctx); err != nil {
			a.logger.Error("tick failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			a.shutdown()
			return
		case <-ticker.C:
		}
	}
}

func (a *Agent) shutdown() {
	status := a.Status()
	a.notify(fmt.Sprintf("⏹ Agent stopping | %s | state %s | position left to resting protection", a.cfg.Symbol, status.Phase))
	a.saveState(context.Background())
	a.logger.Info("agent stopped", zap.String("symbol", a.cfg.Symbol))
}

// Tick is one loop iteration. Ordering within a tick: control plane, then
// the pause/cooldown snapshot, then position query, then gates, signal,
// sizing and entry. A pause command processed in this tick therefore
// always precedes entry evaluation in the same tick.
func (a *Agent) Tick(ctx context.Context) error {
	mtxTicks.Inc()
	now := a.timeNow()

	if a.control != nil {
		a.control.Process(ctx, a)
	}
	a.maybeHeartbeat(ctx, now)

	// Snapshot the entry gating before touching the exchange.
	entryBlocked := a.state.Paused || a.state.InCooldown(now)

	pos, err := a.exchange.GetPosition(ctx, a.cfg.Symbol)
	if err != nil {
		return a.transientError(ctx, now, "position query", err)
	}

	if pos.Open() {
		return a.managePosition(ctx, pos)
	}
	if a.phase == PhaseProtected || a.phase == PhaseEntering {
		return a.onPositionClosed(ctx, now)
	}

	if a.state.InCooldown(now) {
		a.setPhase(PhaseCooldown)
		return nil
	}
	if a.phase == PhaseCooldown {
		a.setPhase(PhaseIdle)
		a.notify("✅ Cooldown expired, entries re-enabled")
	}
	if entryBlocked {
		return nil
	}

	candles, err := a.exchange.GetCandles(ctx, a.cfg.Symbol, a.cfg.KlineInterval, a.cfg.KlineLimit)
	if err != nil {
		return a.transientError(ctx, now, "klines", err)
	}

	price := a.referencePrice(ctx, candles)

	ok, avgRange, lastRange := a.gate.Check(candles, price)
	if !ok {
		a.onGateBlocked(ctx, now, avgRange, lastRange)
		return nil
	}

	signal := a.signals.Evaluate(candles)
	if signal == domain.SignalNone {
		return nil
	}

	return a.enter(ctx, now, signal)
}

// referencePrice is the last closed candle's close, with mark price as a
// fallback when history is too short.
func (a *Agent) referencePrice(ctx context.Context, candles []domain.Candle) float64 {
	if len(candles) >= 2 {
		return candles[len(candles)-2].Close
	}
	price, err := a.exchange.GetMarkPrice(ctx, a.cfg.Symbol)
	if err != nil {
		a.logger.Warn("mark price fallback failed", zap.Error(err))
		return 0
	}
	return price
}

// managePosition handles an open position found by the iteration's query.
// Normally a no-op (the exchange's resting orders do the work); after a
// restart or a partial protection failure it re-attaches the full
// protective order set.
func (a *Agent) managePosition(ctx context.Context, pos *domain.Position) error {
	if a.phase == PhaseProtected && !a.needsProtection {
		return nil
	}

	if err := a.orders.EnsureProtection(ctx, pos); err != nil {
		mtxPartialProtection.Inc()
		a.setPhase(PhaseProtected)
		a.needsProtection = true
		a.rateLimitedErrorNotify(ctx, a.timeNow(),
			fmt.Sprintf("🚨 POSITION UNPROTECTED | %s %s qty %.6f | %v | retrying next tick",
				a.cfg.Symbol, pos.Side, pos.Qty(), err))
		return err
	}

	recovered := a.phase != PhaseEntering
	a.setPhase(PhaseProtected)
	a.needsProtection = false
	if recovered {
		a.notify(fmt.Sprintf("🛡 Protection attached | %s %s qty %.6f entry %.4f",
			a.cfg.Symbol, pos.Side, pos.Qty(), pos.EntryPrice))
	}
	return nil
}

// onPositionClosed handles the protected-to-flat transition. The agent
// does not learn which resting order closed the position; it infers a
// stop from the exit price being on the losing side of the entry, and
// only then arms the cooldown.
func (a *Agent) onPositionClosed(ctx context.Context, now time.Time) error {
	// The untriggered half of the protection is still resting.
	if err := a.exchange.CancelAllOrders(ctx, a.cfg.Symbol); err != nil {
		a.logger.Warn("failed to cancel leftover protection", zap.Error(err))
	}

	exitPrice, err := a.exchange.GetMarkPrice(ctx, a.cfg.Symbol)
	if err != nil {
		a.logger.Warn("mark price unavailable for exit classification", zap.Error(err))
	}

	entry := a.state.LastEntry
	outcome := "profit"
	if entry != nil && exitPrice > 0 {
		if (entry.Side == domain.SideLong && exitPrice <= entry.Price) ||
			(entry.Side == domain.SideShort && exitPrice >= entry.Price) {
			outcome = "stop"
		}
	}
	mtxExits.WithLabelValues(outcome).Inc()

	if entry != nil {
		if err := a.trades.SavePositionHistory(ctx, &domain.PositionHistory{
			Symbol:     a.cfg.Symbol,
			Side:       entry.Side,
			Qty:        entry.Qty,
			EntryPrice: entry.Price,
			ExitPrice:  exitPrice,
			Outcome:    outcome,
			ClosedAt:   now,
		}); err != nil {
			a.logger.Warn("failed to record position history", zap.Error(err))
		}
	}

	a.mu.Lock()
	a.state.LastEntry = nil
	if outcome == "stop" {
		a.state.CooldownUntil = now.Add(a.cfg.CooldownAfterSL())
		a.phase = PhaseCooldown
	} else {
		a.phase = PhaseIdle
	}
	a.needsProtection = false
	a.mu.Unlock()
	a.saveState(ctx)

	if outcome == "stop" {
		a.notify(fmt.Sprintf("🟥 STOP LOSS detected | %s | cooldown %s", a.cfg.Symbol, a.cfg.CooldownAfterSL()))
	} else {
		a.notify(fmt.Sprintf("🎯 Position closed in profit | %s", a.cfg.Symbol))
	}
	return nil
}

func (a *Agent) enter(ctx context.Context, now time.Time, signal domain.Signal) error {
	a.setPhase(PhaseEntering)

	pos, err := a.orders.Open(ctx, signal)
	switch {
	case err == nil:
		a.recordEntry(ctx, now, pos)
		a.notify(fmt.Sprintf("🚀 ENTRY %s | %s qty %.6f @ %.4f | SL+TP attached",
			pos.Side, a.cfg.Symbol, pos.Qty(), pos.EntryPrice))
		return nil

	case errors.Is(err, domain.ErrBelowMinQty):
		a.setPhase(PhaseIdle)
		a.logger.Info("entry skipped: quantity below exchange minimum",
			zap.String("symbol", a.cfg.Symbol), zap.String("signal", string(signal)))
		return nil

	case errors.Is(err, domain.ErrNoPositionAfterEntry):
		a.setPhase(PhaseIdle)
		a.notify(fmt.Sprintf("⚠️ Entry %s submitted but no position materialized | %s | no protection placed",
			signal, a.cfg.Symbol))
		return nil

	case domain.IsPartialProtection(err):
		// The most dangerous state: filled but unprotected. Reported
		// distinctly; next tick re-attaches before any new evaluation.
		mtxPartialProtection.Inc()
		a.recordEntry(ctx, now, pos)
		a.needsProtection = true
		a.notify(fmt.Sprintf("🚨 ENTRY %s FILLED BUT UNPROTECTED | %s | %v | re-attaching next tick",
			pos.Side, a.cfg.Symbol, err))
		return err

	default:
		// Exchange rejection mid-protocol: cool down instead of retrying
		// against a possibly still-open position.
		a.mu.Lock()
		a.phase = PhaseIdle
		a.state.CooldownUntil = now.Add(a.cfg.ErrorCooldown())
		a.mu.Unlock()
		a.saveState(ctx)
		a.rateLimitedErrorNotify(ctx, now, fmt.Sprintf("⛔ Entry failed | %s | %v | cooldown %s",
			a.cfg.Symbol, err, a.cfg.ErrorCooldown()))
		return err
	}
}

func (a *Agent) recordEntry(ctx context.Context, now time.Time, pos *domain.Position) {
	mtxEntries.WithLabelValues(string(pos.Side)).Inc()
	a.mu.Lock()
	a.phase = PhaseProtected
	a.state.LastEntry = &domain.EntrySummary{
		Side:  pos.Side,
		Price: pos.EntryPrice,
		Qty:   pos.Qty(),
		Time:  now,
	}
	a.mu.Unlock()
	a.saveState(ctx)
}

func (a *Agent) onGateBlocked(ctx context.Context, now time.Time, avgRange, lastRange float64) {
	mtxGateBlocks.Inc()
	interval := time.Duration(a.cfg.Volatility.BlockNotifySec) * time.Second
	if now.Sub(a.state.LastVolBlockNotify) < interval {
		return
	}
	a.mu.Lock()
	a.state.LastVolBlockNotify = now
	a.mu.Unlock()
	a.saveState(ctx)
	a.notify(fmt.Sprintf("⛔ Volatility gate blocked | %s | avgR=%.4f lastR=%.4f", a.cfg.Symbol, avgRange, lastRange))
}

// transientError classifies a network/exchange failure at the loop
// boundary: log, count, arm a short cooldown against a retry storm, and
// rate-limit the outbound warning.
func (a *Agent) transientError(ctx context.Context, now time.Time, op string, err error) error {
	mtxTransientErrors.Inc()
	a.logger.Warn("transient exchange error", zap.String("op", op), zap.Error(err))

	a.mu.Lock()
	a.state.CooldownUntil = now.Add(a.cfg.ErrorCooldown())
	a.mu.Unlock()
	a.saveState(ctx)

	a.rateLimitedErrorNotify(ctx, now, fmt.Sprintf("⚠️ %s failed | %s | %v | cooldown %s",
		op, a.cfg.Symbol, err, a.cfg.ErrorCooldown()))
	return fmt.Errorf("%s: %w", op, err)
}

func (a *Agent) rateLimitedErrorNotify(ctx context.Context, now time.Time, msg string) {
	interval := time.Duration(a.cfg.Volatility.BlockNotifySec) * time.Second
	if a.cfg.ErrorCooldownSec > 0 {
		interval = a.cfg.ErrorCooldown()
	}
	if now.Sub(a.state.LastErrorNotify) < interval {
		a.logger.Warn("notification suppressed (rate limit)", zap.String("msg", msg))
		return
	}
	a.mu.Lock()
	a.state.LastErrorNotify = now
	a.mu.Unlock()
	a.saveState(ctx)
	a.notify(msg)
}

func (a *Agent) maybeHeartbeat(ctx context.Context, now time.Time) {
	if a.cfg.HeartbeatSec <= 0 {
		return
	}
	interval := time.Duration(a.cfg.HeartbeatSec) * time.Second
	if a.lastHeartbeat.IsZero() {
		a.lastHeartbeat = now
		return
	}
	if now.Sub(a.lastHeartbeat) < interval {
		return
	}
	a.lastHeartbeat = now
	a.notify("💓 " + a.StatusText(ctx))
}

// Pause sets the pause flag. Idempotent: pausing twice leaves state
// identical to pausing once.
func (a *Agent) Pause(ctx context.Context) {
	a.mu.Lock()
	changed := !a.state.Paused
	if changed {
		now := a.timeNow()
		a.state.Paused = true
		a.state.PausedAt = &now
	}
	a.mu.Unlock()
	if changed {
		a.saveState(ctx)
	}
}

// Resume clears the pause flag. Idempotent.
func (a *Agent) Resume(ctx context.Context) {
	a.mu.Lock()
	changed := a.state.Paused
	if changed {
		a.state.Paused = false
		a.state.PausedAt = nil
	}
	a.mu.Unlock()
	if changed {
		a.saveState(ctx)
	}
}

// ForceClose flattens the open position on operator confirmation and
// returns to IDLE without a cooldown.
func (a *Agent) ForceClose(ctx context.Context) error {
	pos, err := a.exchange.GetPosition(ctx, a.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("position query: %w", err)
	}
	if !pos.Open() {
		return nil
	}
	if err := a.orders.ForceClose(ctx, pos); err != nil {
		return err
	}
	mtxExits.WithLabelValues("forced").Inc()
	a.mu.Lock()
	a.phase = PhaseIdle
	a.needsProtection = false
	a.state.LastEntry = nil
	a.mu.Unlock()
	a.saveState(ctx)
	return nil
}

// AgentStatus is the read-only snapshot served to the status endpoint and
// the /status command.
type AgentStatus struct {
	Symbol            string               `json:"symbol"`
	Phase             string               `json:"phase"`
	Paused            bool                 `json:"paused"`
	CooldownRemaining string               `json:"cooldown_remaining"`
	Uptime            string               `json:"uptime"`
	LastEntry         *domain.EntrySummary `json:"last_entry,omitempty"`
}

func (a *Agent) Status() AgentStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	now := a.timeNow()
	return AgentStatus{
		Symbol:            a.cfg.Symbol,
		Phase:             string(a.phase),
		Paused:            a.state.Paused,
		CooldownRemaining: a.state.CooldownRemaining(now).Round(time.Second).String(),
		Uptime:            now.Sub(a.startedAt).Round(time.Second).String(),
		LastEntry:         a.state.LastEntry,
	}
}

// StatusText renders the status for the remote channel, including the live
// position. Read-only: no state mutation.
func (a *Agent) StatusText(ctx context.Context) string {
	s := a.Status()
	text := fmt.Sprintf("📊 %s | state %s | paused %v | cooldown %s | uptime %s",
		s.Symbol, s.Phase, s.Paused, s.CooldownRemaining, s.Uptime)
	pos, err := a.exchange.GetPosition(ctx, a.cfg.Symbol)
	if err == nil && pos.Open() {
		text += fmt.Sprintf("\n%s %.6f @ %.4f | uPnL %.2f", pos.Side, pos.Qty(), pos.EntryPrice, pos.UnrealizedPnL)
	} else {
		text += "\nno open position"
	}
	return text
}

func (a *Agent) setPhase(p Phase) {
	a.mu.Lock()
	a.phase = p
	a.mu.Unlock()
}

func (a *Agent) saveState(ctx context.Context) {
	a.mu.RLock()
	state := *a.state
	a.mu.RUnlock()
	if err := a.store.SaveState(ctx, a.cfg.Symbol, &state); err != nil {
		a.logger.Error("failed to persist state", zap.Error(err))
	}
}

func (a *Agent) notify(msg string) {
	if a.notifier != nil {
		a.notifier.Notify(msg)
	}
}
