// Package sweep periodically reconciles the record store against live
// platform state. The first sweep after startup re-establishes enforcement
// without waiting for a fresh event, which is what makes the service
// self-healing after a crash.
package sweep

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/verification-gate/internal/config"
	"github.com/spec-kit/verification-gate/internal/domain"
	"github.com/spec-kit/verification-gate/internal/guard"
	"github.com/spec-kit/verification-gate/internal/platform"
	"github.com/spec-kit/verification-gate/internal/state"
	"github.com/spec-kit/verification-gate/internal/workflow"
)

// Scheduler runs the reconciliation sweep on a fixed interval.
type Scheduler struct {
	store    *state.Store
	client   platform.Client
	guard    *guard.RoleGuard
	workflow *workflow.Workflow
	logger   *zap.Logger
	cfg      config.SweepConfig
}

// Dependencies bundles collaborators.
type Dependencies struct {
	Store    *state.Store
	Client   platform.Client
	Guard    *guard.RoleGuard
	Workflow *workflow.Workflow
	Logger   *zap.Logger
}

// NewScheduler creates the scheduler.
func NewScheduler(cfg config.SweepConfig, deps Dependencies) *Scheduler {
	return &Scheduler{
		store:    deps.Store,
		client:   deps.Client,
		guard:    deps.Guard,
		workflow: deps.Workflow,
		logger:   deps.Logger,
		cfg:      cfg,
	}
}

// Run sweeps immediately, then on every interval tick until ctx is
// cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("reconciliation sweep started", zap.Duration("interval", s.cfg.Interval()))
	s.Sweep(ctx)

	ticker := time.NewTicker(s.cfg.Interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("reconciliation sweep stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one reconciliation pass. Records are visited one at a time and
// each acquires only its own member lock, so one stuck member cannot stall
// the rest.
func (s *Scheduler) Sweep(ctx context.Context) {
	records := s.store.Snapshot()
	if len(records) == 0 {
		return
	}

	roster, err := s.client.ListMemberIDs(ctx)
	if err != nil {
		s.logger.Error("sweep aborted: roster fetch failed", zap.Error(err))
		return
	}
	present := make(map[string]bool, len(roster))
	for _, id := range roster {
		present[id] = true
	}

	retention := s.cfg.OrphanRetention()
	for _, record := range records {
		if ctx.Err() != nil {
			return
		}
		s.sweepRecord(ctx, record, present, retention)
	}
}

func (s *Scheduler) sweepRecord(ctx context.Context, record domain.VerificationRecord, present map[string]bool, retention time.Duration) {
	memberID := record.MemberID

	if record.State == domain.StateOrphaned {
		purged, err := s.workflow.PurgeOrphan(ctx, memberID, retention)
		if err != nil {
			s.logger.Error("orphan purge failed", zap.String("member_id", memberID), zap.Error(err))
		} else if purged {
			s.logger.Info("orphan purged", zap.String("member_id", memberID))
		}
		return
	}

	// In-flight restorations and finished members are left alone.
	if record.State == domain.StateRestoring || record.State.Terminal() {
		return
	}

	if !present[memberID] {
		if err := s.workflow.MarkOrphaned(ctx, memberID); err != nil {
			s.logger.Error("orphan transition failed", zap.String("member_id", memberID), zap.Error(err))
		}
		return
	}

	if err := s.workflow.ExpireTicket(ctx, memberID); err != nil {
		s.logger.Error("ticket expiry failed", zap.String("member_id", memberID), zap.Error(err))
	}

	if err := s.guard.Reconcile(ctx, memberID); err != nil {
		s.logger.Error("guard reconcile failed", zap.String("member_id", memberID), zap.Error(err))
	}
}
