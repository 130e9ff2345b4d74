package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/mtzanidakis/sminos/internal/config"
	"github.com/mtzanidakis/sminos/internal/consensus"
)

// Proposer submits an action to the swarm for approval. Satisfied by
// swarm.Agent.
type Proposer interface {
	ID() string
	ProposeAction(ctx context.Context, actionType string, params map[string]any) (*consensus.Result, error)
}

// ResolveFunc maps an agent name from a schedule entry to its live
// proposer, or false when no such agent exists.
type ResolveFunc func(name string) (Proposer, bool)

type entry struct {
	spec    config.ScheduledProposal
	nextRun time.Time
}

// Scheduler submits recurring proposals on cron schedules. Each entry is
// proposed through its configured agent, so the normal voting round
// applies; the scheduler never bypasses consensus.
type Scheduler struct {
	resolve      ResolveFunc
	pollInterval time.Duration
	entries      []*entry
	cron         *gronx.Gronx
}

func New(cfg config.SchedulerConfig, resolve ResolveFunc) *Scheduler {
	s := &Scheduler{
		resolve:      resolve,
		pollInterval: cfg.PollInterval,
		cron:         gronx.New(),
	}

	for _, spec := range cfg.Proposals {
		if spec.Disabled {
			continue
		}
		if !s.cron.IsValid(spec.Cron) {
			slog.Warn("invalid cron expression, skipping schedule", "name", spec.Name, "cron", spec.Cron)
			continue
		}
		e := &entry{spec: spec}
		e.nextRun = nextTick(spec.Cron)
		s.entries = append(s.entries, e)
	}

	return s
}

// Entries returns the number of active schedules.
func (s *Scheduler) Entries() int {
	return len(s.entries)
}

// Start runs the poll loop until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	if len(s.entries) == 0 {
		slog.Info("scheduler idle, no schedules configured")
		<-ctx.Done()
		return
	}

	if s.pollInterval == 0 {
		s.pollInterval = 30 * time.Second
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	slog.Info("scheduler started", "schedules", len(s.entries), "poll_interval", s.pollInterval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

func (s *Scheduler) poll(ctx context.Context) {
	now := time.Now()
	for _, e := range s.entries {
		if e.nextRun.IsZero() || now.Before(e.nextRun) {
			continue
		}
		s.fire(ctx, e)
		e.nextRun = nextTick(e.spec.Cron)
	}
}

func (s *Scheduler) fire(ctx context.Context, e *entry) {
	proposer, ok := s.resolve(e.spec.Agent)
	if !ok {
		slog.Warn("scheduled proposal skipped, agent not loaded", "name", e.spec.Name, "agent", e.spec.Agent)
		return
	}

	slog.Info("submitting scheduled proposal", "name", e.spec.Name, "agent", e.spec.Agent, "type", e.spec.Type)

	result, err := proposer.ProposeAction(ctx, e.spec.Type, e.spec.Params)
	if err != nil {
		slog.Error("scheduled proposal failed", "name", e.spec.Name, "error", err)
		return
	}

	slog.Info("scheduled proposal completed", "name", e.spec.Name,
		"consensus", result.Consensus, "approval_rate", result.ApprovalRate)
}

func nextTick(expr string) time.Time {
	next, err := gronx.NextTick(expr, false)
	if err != nil {
		return time.Time{}
	}
	return next
}
