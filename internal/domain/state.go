package domain

import "time"

// AgentState is the only durable mutable state of the agent. It is loaded
// once at startup and flushed to storage after every mutation, so a crash
// loses at most the in-flight iteration. Missing or corrupt storage yields
// the zero value, never a startup failure.
type AgentState struct {
	Paused             bool
	PausedAt           *time.Time
	CooldownUntil      time.Time
	LastCommandOffset  int64
	LastVolBlockNotify time.Time
	LastErrorNotify    time.Time
	LastEntry          *EntrySummary
}

// InCooldown reports whether new entries are still locked out at now.
func (s *AgentState) InCooldown(now time.Time) bool {
	return now.Before(s.CooldownUntil)
}

// CooldownRemaining returns the time left before entries unlock, or zero.
func (s *AgentState) CooldownRemaining(now time.Time) time.Duration {
	if !s.InCooldown(now) {
		return 0
	}
	return s.CooldownUntil.Sub(now)
}
