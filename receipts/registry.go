// Package receipts provides the SQLite-backed per-recipient receipt
// registry for outgoing group messages.
package receipts

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/quillchat/mediastore"
)

// Registry persists one receipt row per group member per outgoing message.
type Registry struct {
	db     *sqlx.DB
	logger *slog.Logger
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

// New creates a receipt registry on the given database handle.
func New(db *sqlx.DB, opts ...Option) *Registry {
	r := &Registry{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Compile-time interface check.
var _ mediastore.ReceiptRegistry = (*Registry)(nil)

type receiptRow struct {
	ID           int64  `db:"id"`
	MessageID    int64  `db:"message_id"`
	Address      string `db:"address"`
	Status       int    `db:"status"`
	Timestamp    int64  `db:"timestamp"`
	Unidentified int    `db:"unidentified"`
}

// InsertPending creates one unknown-status receipt row per member inside the
// caller's transaction. Existing rows are left alone so a resend cannot
// regress recorded state.
func (r *Registry) InsertPending(ctx context.Context, tx *sqlx.Tx, messageID int64, addresses []string, sentAt int64) error {
	for _, address := range addresses {
		if address == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO group_receipts (message_id, address, status, timestamp)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(message_id, address) DO NOTHING`,
			messageID, address, int(mediastore.ReceiptStatusUnknown), sentAt); err != nil {
			return fmt.Errorf("insert pending receipt: %w", err)
		}
	}
	return nil
}

// Update advances one member's receipt state. The status guard keeps the
// progression monotonic: a late delivery receipt never downgrades read.
func (r *Registry) Update(ctx context.Context, address string, messageID int64, status mediastore.ReceiptStatus, timestamp int64) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE group_receipts SET status = ?, timestamp = ?
		WHERE message_id = ? AND address = ? AND status < ?`,
		int(status), timestamp, messageID, address, int(status)); err != nil {
		return fmt.Errorf("update receipt: %w", err)
	}
	return nil
}

// ForMessage returns all receipt rows for the message.
func (r *Registry) ForMessage(ctx context.Context, messageID int64) ([]mediastore.GroupReceipt, error) {
	var rows []receiptRow
	if err := r.db.SelectContext(ctx, &rows,
		`SELECT id, message_id, address, status, timestamp, unidentified
		FROM group_receipts WHERE message_id = ? ORDER BY address ASC`, messageID); err != nil {
		return nil, fmt.Errorf("load receipts: %w", err)
	}
	out := make([]mediastore.GroupReceipt, 0, len(rows))
	for _, row := range rows {
		out = append(out, mediastore.GroupReceipt{
			MessageID:    row.MessageID,
			Address:      row.Address,
			Status:       mediastore.ReceiptStatus(row.Status),
			Timestamp:    row.Timestamp,
			Unidentified: row.Unidentified != 0,
		})
	}
	return out, nil
}

// DeleteForMessage removes the message's receipt rows.
func (r *Registry) DeleteForMessage(ctx context.Context, messageID int64) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM group_receipts WHERE message_id = ?`, messageID); err != nil {
		return fmt.Errorf("delete receipts: %w", err)
	}
	return nil
}

// DeleteAll removes every receipt row.
func (r *Registry) DeleteAll(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM group_receipts`); err != nil {
		return fmt.Errorf("delete receipts: %w", err)
	}
	return nil
}
