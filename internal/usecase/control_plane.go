package usecase

import (
	"context"
	"strings"

	"github.com/vitos/orderflow-agent/internal/domain"
	"go.uber.org/zap"
)

const helpText = `Commands:
/pause  - stop opening new positions (open position stays managed)
/resume - re-enable entries
/status - agent state, cooldown and open position
/close yes - flatten the open position at market
/help   - this message`

// ControlPlane polls the remote command source once per tick and applies
// the commands to the agent. The durable update offset guarantees a
// command is applied at most once across restarts.
type ControlPlane struct {
	source domain.CommandSource
	logger *zap.Logger
}

func NewControlPlane(source domain.CommandSource, logger *zap.Logger) *ControlPlane {
	return &ControlPlane{source: source, logger: logger}
}

// Process drains pending commands. The advanced offset is persisted before
// any acknowledgement goes out, so a crash mid-handling never replays a
// mutating command.
func (c *ControlPlane) Process(ctx context.Context, a *Agent) {
	commands, next, err := c.source.Poll(ctx, a.state.LastCommandOffset)
	if err != nil {
		c.logger.Warn("command poll failed", zap.Error(err))
		return
	}
	if next != a.state.LastCommandOffset {
		a.mu.Lock()
		a.state.LastCommandOffset = next
		a.mu.Unlock()
		a.saveState(ctx)
	}
	for _, cmd := range commands {
		c.handle(ctx, a, cmd)
	}
}

func (c *ControlPlane) handle(ctx context.Context, a *Agent, cmd domain.Command) {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(cmd.Text)))
	if len(fields) == 0 {
		return
	}
	c.logger.Info("command received", zap.String("command", fields[0]))

	switch fields[0] {
	case "/pause":
		a.Pause(ctx)
		a.notify("⏸ Entries paused. Open position, if any, stays protected.")

	case "/resume":
		a.Resume(ctx)
		a.notify("▶️ Entries resumed.")

	case "/status":
		a.notify(a.StatusText(ctx))

	case "/close":
		if len(fields) < 2 || fields[1] != "yes" {
			a.notify("⚠️ This closes the open position at market. Confirm with: /close yes")
			return
		}
		pos, err := a.exchange.GetPosition(ctx, a.cfg.Symbol)
		if err != nil {
			a.notify("⛔ Close failed: position query error: " + err.Error())
			return
		}
		if !pos.Open() {
			a.notify("No open position to close.")
			return
		}
		if err := a.ForceClose(ctx); err != nil {
			a.notify("⛔ Close failed: " + err.Error())
			return
		}
		a.notify("✅ Position closed at market, protective orders cancelled.")

	case "/help":
		a.notify(helpText)

	default:
		a.notify("Unknown command. " + helpText)
	}
}
