package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/mtzanidakis/sminos/internal/config"
	"github.com/mtzanidakis/sminos/internal/consensus"
)

type fakeProposer struct {
	id       string
	proposed chan string
}

func (f *fakeProposer) ID() string { return f.id }

func (f *fakeProposer) ProposeAction(ctx context.Context, actionType string, params map[string]any) (*consensus.Result, error) {
	f.proposed <- actionType
	return &consensus.Result{Consensus: true, ApprovalRate: 1, TotalVotes: 3}, nil
}

func TestNewFiltersSchedules(t *testing.T) {
	s := New(config.SchedulerConfig{Proposals: []config.ScheduledProposal{
		{Name: "valid", Cron: "* * * * *", Agent: "a", Type: "check"},
		{Name: "disabled", Cron: "* * * * *", Agent: "a", Type: "check", Disabled: true},
		{Name: "broken", Cron: "not a cron", Agent: "a", Type: "check"},
	}}, func(string) (Proposer, bool) { return nil, false })

	if got := s.Entries(); got != 1 {
		t.Errorf("expected 1 active schedule, got %d", got)
	}
}

func TestPollFiresDueEntries(t *testing.T) {
	p := &fakeProposer{id: "monitor", proposed: make(chan string, 1)}
	s := New(config.SchedulerConfig{Proposals: []config.ScheduledProposal{
		{Name: "check", Cron: "* * * * *", Agent: "monitor", Type: "market_check"},
	}}, func(name string) (Proposer, bool) {
		if name == "monitor" {
			return p, true
		}
		return nil, false
	})

	// Force the entry due and poll directly.
	s.entries[0].nextRun = time.Now().Add(-time.Second)
	s.poll(context.Background())

	select {
	case actionType := <-p.proposed:
		if actionType != "market_check" {
			t.Errorf("proposed %q, want market_check", actionType)
		}
	default:
		t.Fatal("due entry did not fire")
	}

	// The next run moved into the future; polling again stays quiet.
	if !s.entries[0].nextRun.After(time.Now()) {
		t.Error("next run not rescheduled")
	}
	s.poll(context.Background())
	select {
	case <-p.proposed:
		t.Error("entry fired before its next tick")
	default:
	}
}

func TestPollSkipsUnknownAgent(t *testing.T) {
	s := New(config.SchedulerConfig{Proposals: []config.ScheduledProposal{
		{Name: "check", Cron: "* * * * *", Agent: "ghost", Type: "market_check"},
	}}, func(string) (Proposer, bool) { return nil, false })

	s.entries[0].nextRun = time.Now().Add(-time.Second)
	// Must not panic or block; the miss is logged and rescheduled.
	s.poll(context.Background())
	if !s.entries[0].nextRun.After(time.Now()) {
		t.Error("next run not rescheduled after a skipped fire")
	}
}
