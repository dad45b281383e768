// Package repositorytest provides in-memory repositories for tests.
package repositorytest

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/verification-gate/internal/domain"
	"github.com/spec-kit/verification-gate/internal/repository"
)

// RecordRepo implements repository.RecordRepository in memory. A non-nil
// FailNext is returned by the next write call and then cleared.
type RecordRepo struct {
	mu       sync.Mutex
	records  map[string]domain.VerificationRecord
	FailNext error
}

// NewRecordRepo returns an empty repository.
func NewRecordRepo() *RecordRepo {
	return &RecordRepo{records: make(map[string]domain.VerificationRecord)}
}

func (r *RecordRepo) Upsert(ctx context.Context, record *domain.VerificationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeError(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if existing, ok := r.records[record.MemberID]; ok {
		record.CreatedAt = existing.CreatedAt
	} else {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	r.records[record.MemberID] = cloneRecord(record)
	return nil
}

func (r *RecordRepo) Delete(ctx context.Context, memberID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeError(); err != nil {
		return err
	}
	if _, ok := r.records[memberID]; !ok {
		return pgx.ErrNoRows
	}
	delete(r.records, memberID)
	return nil
}

func (r *RecordRepo) ListAll(ctx context.Context) ([]domain.VerificationRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.VerificationRecord, 0, len(r.records))
	for _, record := range r.records {
		out = append(out, cloneRecord(&record))
	}
	return out, nil
}

// Seed installs a record directly, bypassing failure injection.
func (r *RecordRepo) Seed(record domain.VerificationRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[record.MemberID] = cloneRecord(&record)
}

// Has reports whether the member is still persisted.
func (r *RecordRepo) Has(memberID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.records[memberID]
	return ok
}

func (r *RecordRepo) takeError() error {
	err := r.FailNext
	r.FailNext = nil
	return err
}

func cloneRecord(record *domain.VerificationRecord) domain.VerificationRecord {
	copied := *record
	copied.StoredRoles = append([]string{}, record.StoredRoles...)
	if record.TicketChannelID != nil {
		channelID := *record.TicketChannelID
		copied.TicketChannelID = &channelID
	}
	if record.OrphanedAt != nil {
		at := *record.OrphanedAt
		copied.OrphanedAt = &at
	}
	return copied
}

// AuditRepo implements repository.AuditRepository in memory.
type AuditRepo struct {
	mu      sync.Mutex
	entries []repository.AuditEntry
}

// NewAuditRepo returns an empty audit log.
func NewAuditRepo() *AuditRepo {
	return &AuditRepo{}
}

func (r *AuditRepo) Append(ctx context.Context, entry *repository.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *AuditRepo) ListByMember(ctx context.Context, memberID string, limit int) ([]repository.AuditEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 {
		limit = 20
	}
	var out []repository.AuditEntry
	for i := len(r.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if r.entries[i].MemberID == memberID {
			out = append(out, r.entries[i])
		}
	}
	return out, nil
}

// Entries returns a copy of everything appended so far.
func (r *AuditRepo) Entries() []repository.AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]repository.AuditEntry{}, r.entries...)
}
