package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditEntry is one persisted audit row.
type AuditEntry struct {
	ID         string
	EventType  string
	MemberID   string
	Actor      string
	Payload    map[string]any
	OccurredAt time.Time
}

// AuditRepository persists the audit trail of verification transitions.
type AuditRepository interface {
	Append(ctx context.Context, entry *AuditEntry) error
	ListByMember(ctx context.Context, memberID string, limit int) ([]AuditEntry, error)
}

type auditRepository struct {
	pool *pgxpool.Pool
}

// NewAuditRepository instantiates repository.
func NewAuditRepository(pool *pgxpool.Pool) AuditRepository {
	return &auditRepository{pool: pool}
}

func (r *auditRepository) Append(ctx context.Context, entry *AuditEntry) error {
	const query = `
        INSERT INTO audit_events (id, event_type, member_id, actor, payload, occurred_at)
        VALUES ($1,$2,$3,$4,$5,$6)`
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, query,
		entry.ID,
		entry.EventType,
		entry.MemberID,
		entry.Actor,
		payload,
		entry.OccurredAt,
	)
	return err
}

func (r *auditRepository) ListByMember(ctx context.Context, memberID string, limit int) ([]AuditEntry, error) {
	const query = `
        SELECT id, event_type, member_id, actor, payload, occurred_at
        FROM audit_events WHERE member_id=$1
        ORDER BY occurred_at DESC LIMIT $2`
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx, query, memberID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAuditEntries(rows)
}

func scanAuditEntries(rows pgx.Rows) ([]AuditEntry, error) {
	var result []AuditEntry
	for rows.Next() {
		var entry AuditEntry
		var payload []byte
		if err := rows.Scan(
			&entry.ID,
			&entry.EventType,
			&entry.MemberID,
			&entry.Actor,
			&payload,
			&entry.OccurredAt,
		); err != nil {
			return nil, err
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &entry.Payload); err != nil {
				return nil, err
			}
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}
