// Package gateway receives chat-platform events and feeds them to the core.
// Handlers enqueue and return immediately; workers drain the queue so the
// transport is never blocked on platform round-trips.
package gateway

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/spec-kit/verification-gate/internal/guard"
	"github.com/spec-kit/verification-gate/internal/workflow"
	apperrors "github.com/spec-kit/verification-gate/pkg/util"
)

// Ticket actions a member can trigger from their verification UI.
const (
	ActionStart          = "start"
	ActionConfirmBooking = "confirm_booking"
)

type task struct {
	name     string
	memberID string
	run      func(ctx context.Context) error
}

// Gateway bridges transport events onto the guard and workflow.
type Gateway struct {
	guard    *guard.RoleGuard
	workflow *workflow.Workflow
	logger   *zap.Logger
	tasks    chan task
	workers  int
	wg       sync.WaitGroup
}

// New creates a gateway with the given queue depth and worker count.
func New(g *guard.RoleGuard, wf *workflow.Workflow, logger *zap.Logger, queueSize, workers int) *Gateway {
	if queueSize <= 0 {
		queueSize = 256
	}
	if workers <= 0 {
		workers = 4
	}
	gw := &Gateway{
		guard:    g,
		workflow: wf,
		logger:   logger,
		tasks:    make(chan task, queueSize),
	}
	gw.workers = workers
	return gw
}

// Run starts the workers and blocks until ctx is cancelled. Queued tasks
// that have not been picked up by then are abandoned; the reconciliation
// sweep converges any member whose event was lost.
func (gw *Gateway) Run(ctx context.Context) {
	for i := 0; i < gw.workers; i++ {
		gw.wg.Add(1)
		go gw.worker(ctx)
	}
	gw.wg.Wait()
}

func (gw *Gateway) worker(ctx context.Context) {
	defer gw.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-gw.tasks:
			if err := t.run(ctx); err != nil {
				gw.logger.Error("event handling failed",
					zap.String("event", t.name),
					zap.String("member_id", t.memberID),
					zap.Error(err))
			}
		}
	}
}

// OnMemberJoin handles a join with the member's roles as seen at join time.
func (gw *Gateway) OnMemberJoin(memberID string, roles []string) error {
	return gw.enqueue(task{
		name:     "member_join",
		memberID: memberID,
		run: func(ctx context.Context) error {
			return gw.guard.HandleMemberJoin(ctx, memberID, roles)
		},
	})
}

// OnRoleChange handles an observed role mutation.
func (gw *Gateway) OnRoleChange(memberID string, before, after []string) error {
	return gw.enqueue(task{
		name:     "role_change",
		memberID: memberID,
		run: func(ctx context.Context) error {
			return gw.guard.HandleRoleChange(ctx, memberID, before, after)
		},
	})
}

// OnMemberLeave handles a departure.
func (gw *Gateway) OnMemberLeave(memberID string) error {
	return gw.enqueue(task{
		name:     "member_leave",
		memberID: memberID,
		run: func(ctx context.Context) error {
			return gw.workflow.HandleMemberLeave(ctx, memberID)
		},
	})
}

// OnTicketAction handles a member-triggered verification action.
func (gw *Gateway) OnTicketAction(memberID, action string) error {
	switch action {
	case ActionStart:
		return gw.enqueue(task{
			name:     "ticket_start",
			memberID: memberID,
			run: func(ctx context.Context) error {
				_, err := gw.workflow.StartVerification(ctx, memberID)
				return err
			},
		})
	case ActionConfirmBooking:
		return gw.enqueue(task{
			name:     "ticket_confirm",
			memberID: memberID,
			run: func(ctx context.Context) error {
				return gw.workflow.ConfirmBooking(ctx, memberID)
			},
		})
	default:
		return apperrors.NewValidationError(fmt.Sprintf("unknown ticket action %q", action), nil)
	}
}

// enqueue never blocks: a full queue drops the event and relies on the next
// reconciliation sweep to converge.
func (gw *Gateway) enqueue(t task) error {
	select {
	case gw.tasks <- t:
		return nil
	default:
		gw.logger.Warn("event queue full; dropping event for sweep to reconcile",
			zap.String("event", t.name),
			zap.String("member_id", t.memberID))
		return apperrors.NewTransient("enqueue_event", fmt.Errorf("queue full"))
	}
}
