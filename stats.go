package mediastore

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// StoreStats is an aggregate snapshot of the message store.
type StoreStats struct {
	// TotalMessages counts every stored row, placeholders included.
	TotalMessages int64

	// UnreadMessages counts rows not yet marked read.
	UnreadMessages int64

	// Threads counts registered conversations.
	Threads int64

	// Attachments counts stored attachment rows across all owners.
	Attachments int64
}

// Clone returns a copy of the stats snapshot.
func (s *StoreStats) Clone() *StoreStats {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// statsCache holds the most recent snapshot and when it was taken.
type statsCache struct {
	mu        sync.Mutex
	stats     *StoreStats
	updatedAt time.Time
}

// invalidate drops the snapshot so the next Stats call recomputes it.
func (c *statsCache) invalidate() {
	c.mu.Lock()
	c.stats = nil
	c.mu.Unlock()
}

// Stats returns aggregate statistics for the store. Snapshots are cached for
// the configured refresh interval and invalidated by writes, so bursts of
// callers share one computation.
func (s *Service) Stats(ctx context.Context) (*StoreStats, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	s.stats.mu.Lock()
	defer s.stats.mu.Unlock()

	now := time.Now()
	if s.stats.stats != nil && now.Sub(s.stats.updatedAt) < s.opts.statsRefreshInterval {
		return s.stats.stats.Clone(), nil
	}

	snapshot, err := s.computeStats(ctx)
	if err != nil {
		return nil, err
	}
	s.stats.stats = snapshot
	s.stats.updatedAt = now
	return snapshot.Clone(), nil
}

// computeStats runs the aggregate queries.
func (s *Service) computeStats(ctx context.Context) (*StoreStats, error) {
	var out StoreStats
	if err := s.db.GetContext(ctx, &out.TotalMessages,
		`SELECT COUNT(*) FROM messages`); err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}
	if err := s.db.GetContext(ctx, &out.UnreadMessages,
		`SELECT COUNT(*) FROM messages WHERE read = 0`); err != nil {
		return nil, fmt.Errorf("count unread: %w", err)
	}
	if err := s.db.GetContext(ctx, &out.Threads,
		`SELECT COUNT(*) FROM threads`); err != nil {
		return nil, fmt.Errorf("count threads: %w", err)
	}
	if err := s.db.GetContext(ctx, &out.Attachments,
		`SELECT COUNT(*) FROM attachments`); err != nil {
		return nil, fmt.Errorf("count attachments: %w", err)
	}
	return &out, nil
}
