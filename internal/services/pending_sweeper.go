package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/growshop/ledger/internal/audit"
	"github.com/robfig/cron/v3"
)

// PendingSweeper periodically reports entries stuck in pending, e.g. after a
// crash between the pending write and the commit. It only reports them;
// resolving a stale entry is left to an operator.
type PendingSweeper struct {
	deps       Deps
	staleAfter time.Duration
	limit      int
	logger     *slog.Logger
	cron       *cron.Cron
}

func NewPendingSweeper(deps Deps, staleAfter time.Duration, limit int) *PendingSweeper {
	deps = deps.withDefaults()
	if limit <= 0 {
		limit = 500
	}
	logger := deps.Logger.With("component", "pending_sweeper")
	return &PendingSweeper{
		deps:       deps,
		staleAfter: staleAfter,
		limit:      limit,
		logger:     logger,
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
	}
}

// Start schedules Sweep with a six-field cron expression (seconds first).
func (p *PendingSweeper) Start(schedule string) error {
	_, err := p.cron.AddFunc(schedule, func() {
		if _, err := p.Sweep(context.Background()); err != nil {
			p.logger.Error("pending sweep failed", "error", err)
		}
	})
	if err != nil {
		return err
	}
	p.cron.Start()
	p.logger.Info("pending sweeper started", "schedule", schedule, "stale_after", p.staleAfter)
	return nil
}

// Stop waits for a running sweep to finish or ctx to expire.
func (p *PendingSweeper) Stop(ctx context.Context) error {
	select {
	case <-p.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweep emits a stale_pending audit event for every entry pending longer
// than the configured threshold and returns how many it found.
func (p *PendingSweeper) Sweep(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	stale, err := p.deps.Store.ListStalePending(ctx, now.Add(-p.staleAfter), p.limit)
	if err != nil {
		return 0, err
	}

	for _, e := range stale {
		p.deps.Audit.Emit(audit.StalePendingEvent(e, now.Sub(e.CreatedAt)))
	}
	if len(stale) > 0 {
		p.logger.WarnContext(ctx, "stale pending entries found", "count", len(stale), "oldest", stale[0].ID)
	}
	return len(stale), nil
}
