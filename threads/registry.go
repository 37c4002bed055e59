// Package threads provides the SQLite-backed conversation thread registry.
package threads

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/quillchat/mediastore"
)

// Thread is one conversation's registry row.
type Thread struct {
	ID          int64  `db:"id"`
	Address     string `db:"address"`
	UnreadCount int    `db:"unread_count"`
	HasSent     bool   `db:"has_sent"`
	LastSeen    int64  `db:"last_seen"`
	UpdatedAt   int64  `db:"updated_at"`
	Archived    bool   `db:"archived"`
}

// Registry persists threads and their counters.
type Registry struct {
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time
}

// Option configures the registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates a thread registry on the given database handle.
func New(db *sqlx.DB, opts ...Option) *Registry {
	r := &Registry{
		db:     db,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Compile-time interface check.
var _ mediastore.ThreadRegistry = (*Registry)(nil)

// GetOrCreate resolves an address to its thread, creating one if needed.
func (r *Registry) GetOrCreate(ctx context.Context, address string) (int64, error) {
	if address == "" {
		return 0, mediastore.ErrInvalidAddress
	}
	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO threads (address, updated_at) VALUES (?, ?)
		ON CONFLICT(address) DO NOTHING`,
		address, r.now().UnixMilli()); err != nil {
		return 0, fmt.Errorf("create thread: %w", err)
	}
	var id int64
	if err := r.db.GetContext(ctx, &id,
		`SELECT id FROM threads WHERE address = ?`, address); err != nil {
		return 0, fmt.Errorf("load thread: %w", err)
	}
	return id, nil
}

// Get returns the thread row.
func (r *Registry) Get(ctx context.Context, threadID int64) (*Thread, error) {
	var t Thread
	err := r.db.GetContext(ctx, &t,
		`SELECT id, address, unread_count, has_sent, last_seen, updated_at, archived
		FROM threads WHERE id = ?`, threadID)
	if err != nil {
		return nil, mediastore.ErrNotFound
	}
	return &t, nil
}

// IncrementUnread adds one to the thread's unread counter.
func (r *Registry) IncrementUnread(ctx context.Context, threadID int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE threads SET unread_count = unread_count + 1 WHERE id = ?`, threadID)
	if err != nil {
		return fmt.Errorf("increment unread: %w", err)
	}
	return checkFound(res)
}

// DecrementUnread subtracts by from the unread counter, clamping at zero.
func (r *Registry) DecrementUnread(ctx context.Context, threadID int64, by int) error {
	if by <= 0 {
		return nil
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE threads SET unread_count = MAX(0, unread_count - ?) WHERE id = ?`,
		by, threadID)
	if err != nil {
		return fmt.Errorf("decrement unread: %w", err)
	}
	return checkFound(res)
}

// SetLastSeen records the thread's last-activity timestamp.
func (r *Registry) SetLastSeen(ctx context.Context, threadID int64, at int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE threads SET last_seen = ? WHERE id = ?`, at, threadID)
	if err != nil {
		return fmt.Errorf("set last seen: %w", err)
	}
	return checkFound(res)
}

// SetHasSent records whether the local user has sent into the thread.
func (r *Registry) SetHasSent(ctx context.Context, threadID int64, hasSent bool) error {
	v := 0
	if hasSent {
		v = 1
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE threads SET has_sent = ? WHERE id = ?`, v, threadID)
	if err != nil {
		return fmt.Errorf("set has sent: %w", err)
	}
	return checkFound(res)
}

// Touch recomputes thread metadata after message mutations. A thread left
// without messages is removed; Touch reports the removal so callers can
// refresh the conversation list instead of one conversation.
func (r *Registry) Touch(ctx context.Context, threadID int64, bumpOrder bool) (bool, error) {
	var count int
	if err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM messages WHERE thread_id = ?`, threadID); err != nil {
		return false, fmt.Errorf("count thread messages: %w", err)
	}
	if count == 0 {
		if _, err := r.db.ExecContext(ctx,
			`DELETE FROM threads WHERE id = ?`, threadID); err != nil {
			return false, fmt.Errorf("delete empty thread: %w", err)
		}
		return true, nil
	}
	if bumpOrder {
		if _, err := r.db.ExecContext(ctx,
			`UPDATE threads SET updated_at = ? WHERE id = ?`,
			r.now().UnixMilli(), threadID); err != nil {
			return false, fmt.Errorf("bump thread order: %w", err)
		}
	}
	return false, nil
}

// DeleteAll removes every thread.
func (r *Registry) DeleteAll(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM threads`); err != nil {
		return fmt.Errorf("delete threads: %w", err)
	}
	return nil
}

func checkFound(res interface{ RowsAffected() (int64, error) }) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return mediastore.ErrNotFound
	}
	return nil
}
