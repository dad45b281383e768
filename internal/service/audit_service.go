package service

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/verification-gate/internal/config"
	"github.com/spec-kit/verification-gate/internal/events"
	"github.com/spec-kit/verification-gate/internal/persistence"
	"github.com/spec-kit/verification-gate/internal/platform"
	"github.com/spec-kit/verification-gate/internal/repository"
)

// Redis keys for restart-surviving counters.
const (
	statCompleted     = "vgate:stats:completed"
	statInterference  = "vgate:stats:interference"
	statOrphaned      = "vgate:stats:orphaned"
	statForceVerified = "vgate:stats:force_verified"
)

// AuditService persists the audit trail, posts summaries to the audit
// channel, and keeps verification counters.
type AuditService struct {
	dispatcher events.Dispatcher
	auditRepo  repository.AuditRepository
	client     platform.Client
	redis      *persistence.Redis
	logger     *zap.Logger
	cfg        config.GuardConfig
}

// AuditDependencies bundles collaborators.
type AuditDependencies struct {
	Dispatcher events.Dispatcher
	AuditRepo  repository.AuditRepository
	Client     platform.Client
	Redis      *persistence.Redis
	Logger     *zap.Logger
}

// NewAuditService creates the service.
func NewAuditService(cfg config.GuardConfig, deps AuditDependencies) *AuditService {
	return &AuditService{
		dispatcher: deps.Dispatcher,
		auditRepo:  deps.AuditRepo,
		client:     deps.Client,
		redis:      deps.Redis,
		logger:     deps.Logger,
		cfg:        cfg,
	}
}

// RegisterHandlers subscribes to events.
func (a *AuditService) RegisterHandlers() {
	if a.dispatcher == nil {
		return
	}
	for _, eventType := range []events.EventType{
		events.EventMemberStripped,
		events.EventInterferenceDetected,
		events.EventTicketOpened,
		events.EventTicketExpired,
		events.EventBookingConfirmed,
		events.EventRolesRestored,
		events.EventRestorationHeld,
		events.EventRecordOrphaned,
		events.EventOrphanPurged,
		events.EventForceVerified,
	} {
		a.dispatcher.Subscribe(eventType, a.handleEvent)
	}
}

// Recent returns the latest audit entries for a member, newest first.
func (a *AuditService) Recent(ctx context.Context, memberID string, limit int) ([]repository.AuditEntry, error) {
	if a.auditRepo == nil {
		return nil, nil
	}
	return a.auditRepo.ListByMember(ctx, memberID, limit)
}

func (a *AuditService) handleEvent(ctx context.Context, event events.Event) error {
	a.logger.Info("audit",
		zap.String("event_type", string(event.Type)),
		zap.String("member_id", event.MemberID),
		zap.String("actor", string(event.Actor)))

	if a.auditRepo != nil {
		if err := a.auditRepo.Append(ctx, &repository.AuditEntry{
			ID:         event.ID,
			EventType:  string(event.Type),
			MemberID:   event.MemberID,
			Actor:      string(event.Actor),
			Payload:    toMap(event.Payload),
			OccurredAt: event.Timestamp,
		}); err != nil {
			a.logger.Error("audit append failed", zap.String("event_id", event.ID), zap.Error(err))
		}
	}

	a.bumpCounter(ctx, event.Type)
	a.postToChannel(ctx, event)
	return nil
}

func (a *AuditService) bumpCounter(ctx context.Context, eventType events.EventType) {
	if a.redis == nil || a.redis.Client == nil {
		return
	}
	var key string
	switch eventType {
	case events.EventRolesRestored:
		key = statCompleted
	case events.EventInterferenceDetected:
		key = statInterference
	case events.EventRecordOrphaned:
		key = statOrphaned
	case events.EventForceVerified:
		key = statForceVerified
	default:
		return
	}
	if err := a.redis.Client.Incr(ctx, key).Err(); err != nil {
		a.logger.Warn("stats counter update failed", zap.String("key", key), zap.Error(err))
	}
}

func (a *AuditService) postToChannel(ctx context.Context, event events.Event) {
	if a.cfg.AuditChannelID == "" {
		return
	}
	summary := fmt.Sprintf("[%s] member %s (%s)", event.Type, event.MemberID, event.Actor)
	if err := a.client.SendChannelMessage(ctx, a.cfg.AuditChannelID, summary); err != nil {
		a.logger.Warn("audit channel post failed",
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
	}
}

func toMap(payload interface{}) map[string]any {
	if payload == nil {
		return map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return map[string]any{}
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{}
	}
	return out
}
