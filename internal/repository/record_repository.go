package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/verification-gate/internal/domain"
)

// RecordRepository encapsulates verification record persistence. The store
// requires load-all-on-startup and point upserts; no cross-record
// transactional guarantees are needed.
type RecordRepository interface {
	Upsert(ctx context.Context, record *domain.VerificationRecord) error
	Delete(ctx context.Context, memberID string) error
	ListAll(ctx context.Context) ([]domain.VerificationRecord, error)
}

type recordRepository struct {
	pool *pgxpool.Pool
}

// NewRecordRepository instantiates repository.
func NewRecordRepository(pool *pgxpool.Pool) RecordRepository {
	return &recordRepository{pool: pool}
}

func (r *recordRepository) Upsert(ctx context.Context, record *domain.VerificationRecord) error {
	const query = `
        INSERT INTO verification_records
            (member_id, stored_roles, state, ticket_channel_id, joined_at, last_transition_at, orphaned_at, interference_count, force_verified)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        ON CONFLICT (member_id) DO UPDATE SET
            stored_roles=EXCLUDED.stored_roles,
            state=EXCLUDED.state,
            ticket_channel_id=EXCLUDED.ticket_channel_id,
            joined_at=EXCLUDED.joined_at,
            last_transition_at=EXCLUDED.last_transition_at,
            orphaned_at=EXCLUDED.orphaned_at,
            interference_count=EXCLUDED.interference_count,
            force_verified=EXCLUDED.force_verified,
            updated_at=NOW()
        RETURNING created_at, updated_at`
	return r.pool.QueryRow(ctx, query,
		record.MemberID,
		record.StoredRoles,
		record.State,
		record.TicketChannelID,
		record.JoinedAt,
		record.LastTransitionAt,
		record.OrphanedAt,
		record.InterferenceCount,
		record.ForceVerified,
	).Scan(&record.CreatedAt, &record.UpdatedAt)
}

func (r *recordRepository) Delete(ctx context.Context, memberID string) error {
	const query = `DELETE FROM verification_records WHERE member_id=$1`
	cmd, err := r.pool.Exec(ctx, query, memberID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *recordRepository) ListAll(ctx context.Context) ([]domain.VerificationRecord, error) {
	const query = `
        SELECT member_id, stored_roles, state, ticket_channel_id, joined_at, last_transition_at,
               orphaned_at, interference_count, force_verified, created_at, updated_at
        FROM verification_records ORDER BY joined_at`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows pgx.Rows) ([]domain.VerificationRecord, error) {
	var result []domain.VerificationRecord
	for rows.Next() {
		var record domain.VerificationRecord
		if err := rows.Scan(
			&record.MemberID,
			&record.StoredRoles,
			&record.State,
			&record.TicketChannelID,
			&record.JoinedAt,
			&record.LastTransitionAt,
			&record.OrphanedAt,
			&record.InterferenceCount,
			&record.ForceVerified,
			&record.CreatedAt,
			&record.UpdatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, record)
	}
	return result, rows.Err()
}
