package usecase

import (
	"context"
	"strings"
	"testing"

	"github.com/vitos/orderflow-agent/internal/domain"
)

func command(id int64, text string) domain.Command {
	return domain.Command{UpdateID: id, ChatID: 42, Text: text, At: testTime}
}

func TestControlPlane_CloseRequiresConfirmation(t *testing.T) {
	ex := &mockExchange{
		positions: []*domain.Position{longPosition(4.0, 100)},
	}
	src := &mockCommandSource{commands: []domain.Command{command(1, "/close")}, next: 1}
	agent, store, notifier := testAgent(ex, src)
	agent.phase = PhaseProtected

	agent.control.Process(context.Background(), agent)

	if ex.closeCalls != 0 {
		t.Fatal("unconfirmed /close must not submit any order")
	}
	if len(notifier.msgs) != 1 || !strings.Contains(notifier.msgs[0], "/close yes") {
		t.Fatalf("expected confirmation prompt, got %v", notifier.msgs)
	}
	if agent.phase != PhaseProtected {
		t.Fatalf("phase = %s, want PROTECTED unchanged", agent.phase)
	}
	if len(store.saved) == 0 || store.saved[0].LastCommandOffset != 1 {
		t.Fatal("command offset must be persisted before acknowledgement")
	}
}

func TestControlPlane_ConfirmedCloseFlattensPosition(t *testing.T) {
	ex := &mockExchange{
		positions: []*domain.Position{longPosition(4.0, 100)},
	}
	src := &mockCommandSource{commands: []domain.Command{command(2, "/close yes")}, next: 2}
	agent, _, notifier := testAgent(ex, src)
	agent.phase = PhaseProtected
	agent.state.LastEntry = &domain.EntrySummary{Side: domain.SideLong, Price: 100, Qty: 4, Time: testTime}

	agent.control.Process(context.Background(), agent)

	if ex.closeCalls != 1 {
		t.Fatalf("expected 1 close call, got %d", ex.closeCalls)
	}
	if agent.phase != PhaseIdle {
		t.Fatalf("phase = %s, want IDLE after forced close", agent.phase)
	}
	if agent.state.LastEntry != nil {
		t.Fatal("entry summary must be cleared after forced close")
	}
	if len(notifier.msgs) == 0 || !strings.Contains(notifier.msgs[len(notifier.msgs)-1], "closed") {
		t.Fatalf("expected close acknowledgement, got %v", notifier.msgs)
	}
}

func TestControlPlane_CloseWithoutPosition(t *testing.T) {
	ex := &mockExchange{} // always flat
	src := &mockCommandSource{commands: []domain.Command{command(3, "/close yes")}, next: 3}
	agent, _, notifier := testAgent(ex, src)

	agent.control.Process(context.Background(), agent)

	if ex.closeCalls != 0 {
		t.Fatal("no close order without an open position")
	}
	if len(notifier.msgs) != 1 || !strings.Contains(notifier.msgs[0], "No open position") {
		t.Fatalf("expected no-position reply, got %v", notifier.msgs)
	}
}

func TestControlPlane_PauseResumeRoundTrip(t *testing.T) {
	src := &mockCommandSource{commands: []domain.Command{command(4, "/pause")}, next: 4}
	agent, _, notifier := testAgent(&mockExchange{}, src)

	agent.control.Process(context.Background(), agent)
	if !agent.state.Paused {
		t.Fatal("expected paused after /pause")
	}

	src.commands = []domain.Command{command(5, "/resume")}
	src.next = 5
	agent.control.Process(context.Background(), agent)
	if agent.state.Paused {
		t.Fatal("expected unpaused after /resume")
	}
	if agent.state.LastCommandOffset != 5 {
		t.Fatalf("offset = %d, want 5", agent.state.LastCommandOffset)
	}
	if len(notifier.msgs) != 2 {
		t.Fatalf("expected 2 acknowledgements, got %d", len(notifier.msgs))
	}
}

func TestControlPlane_StatusIsReadOnly(t *testing.T) {
	ex := &mockExchange{positions: []*domain.Position{longPosition(4.0, 100)}}
	src := &mockCommandSource{commands: []domain.Command{command(6, "/status")}, next: 6}
	agent, store, notifier := testAgent(ex, src)
	agent.phase = PhaseProtected

	agent.control.Process(context.Background(), agent)

	if len(notifier.msgs) != 1 || !strings.Contains(notifier.msgs[0], "PROTECTED") {
		t.Fatalf("expected status reply, got %v", notifier.msgs)
	}
	// Only the offset advance may be persisted.
	if len(store.saved) != 1 {
		t.Fatalf("status must not mutate state beyond the offset, saves = %d", len(store.saved))
	}
	if ex.closeCalls != 0 || len(ex.marketOrders) != 0 {
		t.Fatal("status must not touch orders")
	}
}

func TestControlPlane_UnknownCommandGetsHelp(t *testing.T) {
	src := &mockCommandSource{commands: []domain.Command{command(7, "/frobnicate")}, next: 7}
	agent, _, notifier := testAgent(&mockExchange{}, src)

	agent.control.Process(context.Background(), agent)

	if len(notifier.msgs) != 1 || !strings.Contains(notifier.msgs[0], "/help") {
		t.Fatalf("expected help hint, got %v", notifier.msgs)
	}
}

func TestControlPlane_PollFailureIsNonFatal(t *testing.T) {
	src := &mockCommandSource{err: context.DeadlineExceeded}
	agent, store, _ := testAgent(&mockExchange{}, src)

	agent.control.Process(context.Background(), agent)

	if len(store.saved) != 0 {
		t.Fatal("failed poll must not touch persisted state")
	}
}
