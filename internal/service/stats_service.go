package service

import (
	"context"

	"github.com/spec-kit/verification-gate/internal/domain"
	"github.com/spec-kit/verification-gate/internal/persistence"
	"github.com/spec-kit/verification-gate/internal/state"
)

// Stats summarizes verification activity.
type Stats struct {
	Pending       int            `json:"pending"`
	ByState       map[string]int `json:"by_state"`
	Completed     int64          `json:"completed"`
	Interference  int64          `json:"interference"`
	Orphaned      int64          `json:"orphaned"`
	ForceVerified int64          `json:"force_verified"`
}

// StatsService reads live tracking counts plus the restart-surviving
// counters kept in Redis.
type StatsService struct {
	store *state.Store
	redis *persistence.Redis
}

// NewStatsService creates the service.
func NewStatsService(store *state.Store, redis *persistence.Redis) *StatsService {
	return &StatsService{store: store, redis: redis}
}

// Collect builds the stats snapshot.
func (s *StatsService) Collect(ctx context.Context) Stats {
	stats := Stats{ByState: map[string]int{}}
	for _, record := range s.store.Snapshot() {
		stats.ByState[string(record.State)]++
		if !record.State.Terminal() && record.State != domain.StateOrphaned {
			stats.Pending++
		}
	}
	if s.redis != nil && s.redis.Client != nil {
		stats.Completed = s.counter(ctx, statCompleted)
		stats.Interference = s.counter(ctx, statInterference)
		stats.Orphaned = s.counter(ctx, statOrphaned)
		stats.ForceVerified = s.counter(ctx, statForceVerified)
	}
	return stats
}

func (s *StatsService) counter(ctx context.Context, key string) int64 {
	val, err := s.redis.Client.Get(ctx, key).Int64()
	if err != nil {
		return 0
	}
	return val
}
