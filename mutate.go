package mediastore

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// UpdateTypeBitmask applies a single atomic masked update to a message's
// type bitmask: bits in maskOff are cleared, then bits in maskOn are set.
// Every status transition goes through here so unrelated mask regions are
// never clobbered.
func (s *Service) UpdateTypeBitmask(ctx context.Context, id int64, maskOff, maskOn int64) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	start := time.Now()
	ctx, end := s.otel.startSpan(ctx, "mediastore.UpdateTypeBitmask",
		attribute.Int64("message_id", id))
	var opErr error
	defer func() {
		end(opErr)
		s.otel.recordMutate(ctx, time.Since(start), "type_bitmask", opErr)
	}()

	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET type_mask = (type_mask & ?) | ? WHERE id = ?`,
		TotalMask&^maskOff, maskOn, id)
	if err != nil {
		opErr = fmt.Errorf("update type bitmask: %w", err)
		return opErr
	}
	n, err := res.RowsAffected()
	if err != nil {
		opErr = fmt.Errorf("rows affected: %w", err)
		return opErr
	}
	if n == 0 {
		opErr = ErrNotFound
		return opErr
	}

	if threadID, err := s.ThreadIDForMessage(ctx, id); err == nil {
		s.notifyConversation(ctx, threadID)
	}
	return nil
}

// MarkAsSending moves the message to the sending state.
func (s *Service) MarkAsSending(ctx context.Context, id int64) error {
	return s.UpdateTypeBitmask(ctx, id, BaseTypeMask, BaseTypeSending)
}

// MarkAsSent moves the message to the sent state.
func (s *Service) MarkAsSent(ctx context.Context, id int64) error {
	return s.UpdateTypeBitmask(ctx, id, BaseTypeMask, BaseTypeSent)
}

// MarkAsSentFailed moves the message to the sent-failed state.
func (s *Service) MarkAsSentFailed(ctx context.Context, id int64) error {
	return s.UpdateTypeBitmask(ctx, id, BaseTypeMask, BaseTypeSentFailed)
}

// MarkAsPendingSecureFallback parks the message awaiting secure fallback
// approval.
func (s *Service) MarkAsPendingSecureFallback(ctx context.Context, id int64) error {
	return s.UpdateTypeBitmask(ctx, id, BaseTypeMask, BaseTypePendingSecureFallback)
}

// MarkAsPendingInsecureFallback parks the message awaiting insecure fallback
// approval.
func (s *Service) MarkAsPendingInsecureFallback(ctx context.Context, id int64) error {
	return s.UpdateTypeBitmask(ctx, id, BaseTypeMask, BaseTypePendingInsecureFallback)
}

// MarkAsDeleted soft-deletes a message: the body is cleared, the read flag
// forced, and the base type set to deleted, but the row persists as a
// placeholder until a thread-level purge. Attachment cleanup is queued onto
// a background worker. Any message quoting this one gets its quote flagged
// missing, preserving the quoted text and author.
func (s *Service) MarkAsDeleted(ctx context.Context, id int64) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	start := time.Now()
	ctx, end := s.otel.startSpan(ctx, "mediastore.MarkAsDeleted",
		attribute.Int64("message_id", id))
	var opErr error
	defer func() {
		end(opErr)
		s.otel.recordMutate(ctx, time.Since(start), "soft_delete", opErr)
	}()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		opErr = fmt.Errorf("begin: %w", err)
		return opErr
	}
	defer tx.Rollback()

	var row struct {
		ThreadID int64 `db:"thread_id"`
		DateSent int64 `db:"date_sent"`
		Read     int   `db:"read"`
	}
	err = tx.GetContext(ctx, &row,
		`SELECT thread_id, date_sent, read FROM messages WHERE id = ?`, id)
	if err != nil {
		if isNoRows(err) {
			opErr = ErrNotFound
		} else {
			opErr = fmt.Errorf("load message: %w", err)
		}
		return opErr
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE messages SET read = 1, body = '', type_mask = (type_mask & ?) | ? WHERE id = ?`,
		TotalMask&^BaseTypeMask, BaseTypeDeleted, id); err != nil {
		opErr = fmt.Errorf("soft delete: %w", err)
		return opErr
	}

	// Quote cascade: quotes reference the quoted message's sent timestamp.
	if _, err := tx.ExecContext(ctx,
		`UPDATE messages SET quote_missing = 1 WHERE quote_id = ? AND id != ?`,
		row.DateSent, id); err != nil {
		opErr = fmt.Errorf("flag quotes missing: %w", err)
		return opErr
	}

	if err := tx.Commit(); err != nil {
		opErr = fmt.Errorf("commit: %w", err)
		return opErr
	}

	if row.Read == 0 {
		if err := s.threads.DecrementUnread(ctx, row.ThreadID, 1); err != nil {
			s.logger.Warn("decrement unread failed", "thread_id", row.ThreadID, "error", err)
		}
	}

	s.queueAttachmentCleanup(id)
	s.notifyConversation(ctx, row.ThreadID)
	return nil
}

// MarkExpireStarted records when a disappearing message became visible to
// the recipient. The timestamp is set once: later calls can only move it
// earlier, never restart the timer.
func (s *Service) MarkExpireStarted(ctx context.Context, id int64, startedAt int64) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET expire_started = ? WHERE id = ? AND (expire_started = 0 OR expire_started > ?)`,
		startedAt, id, startedAt)
	if err != nil {
		return fmt.Errorf("mark expire started: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		if threadID, err := s.ThreadIDForMessage(ctx, id); err == nil {
			s.notifyConversation(ctx, threadID)
		}
	}
	return nil
}

// MarkAsNotified records that the message was surfaced in a notification,
// so it is excluded from future Unnotified() reads.
func (s *Service) MarkAsNotified(ctx context.Context, id int64) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE messages SET notified = 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("mark notified: %w", err)
	}
	return nil
}

// MarkUnidentified records whether the message arrived via sealed-sender
// delivery.
func (s *Service) MarkUnidentified(ctx context.Context, id int64, unidentified bool) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET unidentified = ? WHERE id = ?`, boolToInt(unidentified), id)
	if err != nil {
		return fmt.Errorf("mark unidentified: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("rows affected: %w", err)
	} else if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateSentTimestamp replaces a message's sent timestamp, used when the
// server assigns the authoritative timestamp after the local insert.
func (s *Service) UpdateSentTimestamp(ctx context.Context, id int64, sentAt int64) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET date_sent = ? WHERE id = ?`, sentAt, id)
	if err != nil {
		return fmt.Errorf("update sent timestamp: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("rows affected: %w", err)
	} else if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetMessagesRead marks every unread message in the thread as read and
// returns the expiration state of the flipped rows so callers can start
// disappearing-message timers. The thread's unread counter is reconciled.
func (s *Service) SetMessagesRead(ctx context.Context, threadID int64) ([]ExpirationInfo, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	start := time.Now()
	ctx, end := s.otel.startSpan(ctx, "mediastore.SetMessagesRead",
		attribute.Int64("thread_id", threadID))
	var opErr error
	defer func() {
		end(opErr)
		s.otel.recordMutate(ctx, time.Since(start), "set_read", opErr)
	}()

	infos, err := s.setReadWhere(ctx, `thread_id = ? AND read = 0`, threadID)
	if err != nil {
		opErr = err
		return nil, err
	}
	if len(infos) > 0 {
		if err := s.threads.DecrementUnread(ctx, threadID, len(infos)); err != nil {
			s.logger.Warn("decrement unread failed", "thread_id", threadID, "error", err)
		}
		s.notifyConversation(ctx, threadID)
	}
	return infos, nil
}

// SetAllMessagesRead marks every unread message in the store as read.
func (s *Service) SetAllMessagesRead(ctx context.Context) ([]ExpirationInfo, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	type unreadRow struct {
		ID            int64 `db:"id"`
		ThreadID      int64 `db:"thread_id"`
		ExpiresIn     int64 `db:"expires_in"`
		ExpireStarted int64 `db:"expire_started"`
	}
	var rows []unreadRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT id, thread_id, expires_in, expire_started FROM messages WHERE read = 0`); err != nil {
		return nil, fmt.Errorf("load unread: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	if _, err := s.db.ExecContext(ctx, `UPDATE messages SET read = 1 WHERE read = 0`); err != nil {
		return nil, fmt.Errorf("set all read: %w", err)
	}

	infos := make([]ExpirationInfo, 0, len(rows))
	perThread := make(map[int64]int)
	for _, r := range rows {
		infos = append(infos, ExpirationInfo{MessageID: r.ID, ExpiresIn: r.ExpiresIn, ExpireStarted: r.ExpireStarted})
		perThread[r.ThreadID]++
	}
	for threadID, n := range perThread {
		if err := s.threads.DecrementUnread(ctx, threadID, n); err != nil {
			s.logger.Warn("decrement unread failed", "thread_id", threadID, "error", err)
		}
		s.notifyConversation(ctx, threadID)
	}
	return infos, nil
}

// setReadWhere flips matching unread rows to read inside one transaction and
// returns their expiration state.
func (s *Service) setReadWhere(ctx context.Context, where string, args ...any) ([]ExpirationInfo, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	type unreadRow struct {
		ID            int64 `db:"id"`
		ExpiresIn     int64 `db:"expires_in"`
		ExpireStarted int64 `db:"expire_started"`
	}
	var rows []unreadRow
	if err := tx.SelectContext(ctx, &rows,
		`SELECT id, expires_in, expire_started FROM messages WHERE `+where, args...); err != nil {
		return nil, fmt.Errorf("load unread: %w", err)
	}
	if len(rows) == 0 {
		return nil, tx.Commit()
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE messages SET read = 1 WHERE `+where, args...); err != nil {
		return nil, fmt.Errorf("set read: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	infos := make([]ExpirationInfo, 0, len(rows))
	for _, r := range rows {
		infos = append(infos, ExpirationInfo{MessageID: r.ID, ExpiresIn: r.ExpiresIn, ExpireStarted: r.ExpireStarted})
	}
	return infos, nil
}

// AddNetworkFailure records a per-recipient send failure on the message.
func (s *Service) AddNetworkFailure(ctx context.Context, id int64, failure NetworkFailure) error {
	return s.mutateDocumentColumn(ctx, id, "network_failures", func(raw string) (string, bool, error) {
		out, err := appendDocumentElement(s.logger, "network_failures", raw, failure)
		return out, out != raw, err
	})
}

// RemoveNetworkFailure removes a previously recorded send failure.
func (s *Service) RemoveNetworkFailure(ctx context.Context, id int64, failure NetworkFailure) error {
	return s.mutateDocumentColumn(ctx, id, "network_failures", func(raw string) (string, bool, error) {
		return removeDocumentElement(s.logger, "network_failures", raw, failure)
	})
}

// AddIdentityMismatch records a per-recipient identity key conflict.
func (s *Service) AddIdentityMismatch(ctx context.Context, id int64, mismatch IdentityMismatch) error {
	return s.mutateDocumentColumn(ctx, id, "identity_mismatches", func(raw string) (string, bool, error) {
		out, err := appendDocumentElement(s.logger, "identity_mismatches", raw, mismatch)
		return out, out != raw, err
	})
}

// RemoveIdentityMismatch removes a previously recorded identity conflict.
func (s *Service) RemoveIdentityMismatch(ctx context.Context, id int64, mismatch IdentityMismatch) error {
	return s.mutateDocumentColumn(ctx, id, "identity_mismatches", func(raw string) (string, bool, error) {
		return removeDocumentElement(s.logger, "identity_mismatches", raw, mismatch)
	})
}

// mutateDocumentColumn applies an add/remove-one-element mutation to an
// embedded-document column inside a transaction, rather than rewriting the
// document from caller-supplied state.
func (s *Service) mutateDocumentColumn(ctx context.Context, id int64, column string, mutate func(raw string) (string, bool, error)) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	start := time.Now()
	var opErr error
	defer func() {
		s.otel.recordMutate(ctx, time.Since(start), column, opErr)
	}()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		opErr = fmt.Errorf("begin: %w", err)
		return opErr
	}
	defer tx.Rollback()

	var raw string
	err = tx.GetContext(ctx, &raw,
		`SELECT `+column+` FROM messages WHERE id = ?`, id)
	if err != nil {
		if isNoRows(err) {
			opErr = ErrNotFound
		} else {
			opErr = fmt.Errorf("load %s: %w", column, err)
		}
		return opErr
	}

	out, changed, err := mutate(raw)
	if err != nil {
		opErr = err
		return err
	}
	if !changed {
		return tx.Commit()
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE messages SET `+column+` = ? WHERE id = ?`, out, id); err != nil {
		opErr = fmt.Errorf("update %s: %w", column, err)
		return opErr
	}
	if err := tx.Commit(); err != nil {
		opErr = fmt.Errorf("commit: %w", err)
		return opErr
	}

	if threadID, err := s.ThreadIDForMessage(ctx, id); err == nil {
		s.notifyConversation(ctx, threadID)
	}
	return nil
}
