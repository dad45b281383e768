// Package state owns the verification records: an in-memory cache with
// per-member mutual exclusion, written through to durable storage. All
// mutation of a given member's record happens under that member's lock;
// operations on different members proceed in parallel.
package state

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/verification-gate/internal/domain"
	"github.com/spec-kit/verification-gate/internal/repository"
)

// Store is the single source of truth for verification records.
type Store struct {
	repo   repository.RecordRepository
	logger *zap.Logger

	mu      sync.RWMutex
	records map[string]*domain.VerificationRecord
	locks   map[string]*sync.Mutex
}

// NewStore creates an empty store backed by repo.
func NewStore(repo repository.RecordRepository, logger *zap.Logger) *Store {
	return &Store{
		repo:    repo,
		logger:  logger,
		records: make(map[string]*domain.VerificationRecord),
		locks:   make(map[string]*sync.Mutex),
	}
}

// Load replaces the cache with the durable snapshot. Called once on startup
// before any event handler runs.
func (s *Store) Load(ctx context.Context) error {
	records, err := s.repo.ListAll(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]*domain.VerificationRecord, len(records))
	for i := range records {
		record := records[i]
		s.records[record.MemberID] = &record
	}
	s.logger.Info("verification records loaded", zap.Int("count", len(records)))
	return nil
}

// WithLock serializes fn against all other work on the same member. Lock
// entries are retained for the process lifetime; the map is bounded by the
// number of members seen since startup.
func (s *Store) WithLock(memberID string, fn func() error) error {
	s.mu.Lock()
	lock, ok := s.locks[memberID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[memberID] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	return fn()
}

// Get returns a copy of the member's record. Callers mutating the copy must
// hold the member lock and persist through Put.
func (s *Store) Get(memberID string) (*domain.VerificationRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[memberID]
	if !ok {
		return nil, false
	}
	copied := cloneRecord(record)
	return &copied, true
}

// Put upserts the record durably and updates the cache. Caller holds the
// member lock.
func (s *Store) Put(ctx context.Context, record *domain.VerificationRecord) error {
	if err := s.repo.Upsert(ctx, record); err != nil {
		return err
	}
	copied := cloneRecord(record)
	s.mu.Lock()
	s.records[record.MemberID] = &copied
	s.mu.Unlock()
	return nil
}

// Remove purges the record durably and from the cache. Caller holds the
// member lock. Removing an absent record is a no-op.
func (s *Store) Remove(ctx context.Context, memberID string) error {
	if err := s.repo.Delete(ctx, memberID); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	s.mu.Lock()
	delete(s.records, memberID)
	s.mu.Unlock()
	return nil
}

// Snapshot returns copies of all tracked records.
func (s *Store) Snapshot() []domain.VerificationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.VerificationRecord, 0, len(s.records))
	for _, record := range s.records {
		out = append(out, cloneRecord(record))
	}
	return out
}

// Len reports the number of tracked records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
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
