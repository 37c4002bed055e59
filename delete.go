package mediastore

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/quillchat/mediastore/retry"
)

// queueAttachmentCleanup removes the message's stored attachment payloads in
// the background. The row itself is already soft-deleted; payload removal is
// best effort and bounded by the cleanup semaphore so a burst of deletes
// cannot spawn unbounded workers.
func (s *Service) queueAttachmentCleanup(id int64) {
	if err := s.cleanupSem.Acquire(context.Background(), 1); err != nil {
		s.logger.Warn("acquire cleanup slot failed", "message_id", id, "error", err)
		return
	}
	s.cleanupWG.Add(1)
	go func() {
		defer s.cleanupWG.Done()
		defer s.cleanupSem.Release(1)

		ctx, cancel := context.WithTimeout(context.Background(), s.opts.shutdownTimeout)
		defer cancel()

		// A busy writer is the common transient failure here, so back off
		// and retry before giving up.
		err := retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context) error {
			return s.attachments.DeleteForMessage(ctx, id)
		})
		if err != nil {
			s.logger.Warn("attachment cleanup failed", "message_id", id, "error", err)
		}
	}()
}

// DeleteMessage permanently removes a message, its attachments and its
// per-recipient receipts. Replies quoting the deleted message are flagged as
// quoting missing content.
func (s *Service) DeleteMessage(ctx context.Context, id int64) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	start := time.Now()
	ctx, end := s.otel.startSpan(ctx, "mediastore.DeleteMessage",
		attribute.Int64("message_id", id))
	var opErr error
	defer func() {
		end(opErr)
		s.otel.recordDelete(ctx, time.Since(start), "message", opErr)
	}()

	var row struct {
		ThreadID int64 `db:"thread_id"`
		DateSent int64 `db:"date_sent"`
	}
	if err := s.db.GetContext(ctx, &row,
		`SELECT thread_id, date_sent FROM messages WHERE id = ?`, id); err != nil {
		if isNoRows(err) {
			opErr = ErrNotFound
		} else {
			opErr = fmt.Errorf("load message: %w", err)
		}
		return opErr
	}

	if err := s.attachments.DeleteForMessage(ctx, id); err != nil {
		opErr = fmt.Errorf("delete attachments: %w", err)
		return opErr
	}
	if err := s.receipts.DeleteForMessage(ctx, id); err != nil {
		opErr = fmt.Errorf("delete receipts: %w", err)
		return opErr
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE messages SET quote_missing = 1 WHERE quote_id = ? AND id != ?`,
		row.DateSent, id); err != nil {
		opErr = fmt.Errorf("flag quoting messages: %w", err)
		return opErr
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id); err != nil {
		opErr = fmt.Errorf("delete message: %w", err)
		return opErr
	}

	s.publish("MessageDeleted", func() error {
		return s.events.MessageDeleted.Publish(ctx, MessageDeletedEvent{
			MessageID: id,
			ThreadID:  row.ThreadID,
		})
	})

	wasDeleted, err := s.threads.Touch(ctx, row.ThreadID, false)
	if err != nil {
		s.logger.Warn("thread touch failed", "thread_id", row.ThreadID, "error", err)
	}
	if wasDeleted {
		s.notifyConversationList()
	} else {
		s.notifyConversation(ctx, row.ThreadID)
	}
	return nil
}

// DeleteThread removes every message in the thread along with their
// attachments and receipts.
func (s *Service) DeleteThread(ctx context.Context, threadID int64) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	start := time.Now()
	ctx, end := s.otel.startSpan(ctx, "mediastore.DeleteThread",
		attribute.Int64("thread_id", threadID))
	var opErr error
	defer func() {
		end(opErr)
		s.otel.recordDelete(ctx, time.Since(start), "thread", opErr)
	}()

	opErr = s.deleteThread(ctx, threadID)
	if opErr != nil {
		return opErr
	}
	s.notifyConversationList()
	return nil
}

// DeleteThreads removes every message in each of the given threads.
func (s *Service) DeleteThreads(ctx context.Context, threadIDs ...int64) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	start := time.Now()
	ctx, end := s.otel.startSpan(ctx, "mediastore.DeleteThreads",
		attribute.Int("thread_count", len(threadIDs)))
	var opErr error
	defer func() {
		end(opErr)
		s.otel.recordDelete(ctx, time.Since(start), "threads", opErr)
	}()

	for _, threadID := range threadIDs {
		if err := s.deleteThread(ctx, threadID); err != nil {
			opErr = err
			return opErr
		}
	}
	s.notifyConversationList()
	return nil
}

// deleteThread deletes one thread's messages and their dependents.
func (s *Service) deleteThread(ctx context.Context, threadID int64) error {
	var ids []int64
	if err := s.db.SelectContext(ctx, &ids,
		`SELECT id FROM messages WHERE thread_id = ?`, threadID); err != nil {
		return fmt.Errorf("list thread messages: %w", err)
	}
	for _, id := range ids {
		if err := s.attachments.DeleteForMessage(ctx, id); err != nil {
			return fmt.Errorf("delete attachments: %w", err)
		}
		if err := s.receipts.DeleteForMessage(ctx, id); err != nil {
			return fmt.Errorf("delete receipts: %w", err)
		}
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE thread_id = ?`, threadID); err != nil {
		return fmt.Errorf("delete thread messages: %w", err)
	}
	// The thread has no messages left, so Touch removes its row.
	if _, err := s.threads.Touch(ctx, threadID, false); err != nil {
		s.logger.Warn("thread touch failed", "thread_id", threadID, "error", err)
	}
	return nil
}

// DeleteMessagesBefore trims a thread to messages at or after the cutoff and
// returns the number of rows removed. Outgoing messages are compared on the
// time they were sent; everything else on the time it was received.
func (s *Service) DeleteMessagesBefore(ctx context.Context, threadID, cutoff int64) (int, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	start := time.Now()
	ctx, end := s.otel.startSpan(ctx, "mediastore.DeleteMessagesBefore",
		attribute.Int64("thread_id", threadID),
		attribute.Int64("cutoff", cutoff))
	var opErr error
	deleted := 0
	defer func() {
		end(opErr)
		s.otel.recordDelete(ctx, time.Since(start), "trim", opErr)
	}()

	// Sending..PendingInsecureFallback base types mark a row as outgoing.
	const where = `thread_id = ?
		AND (CASE WHEN (type_mask & 31) BETWEEN 21 AND 26 THEN date_sent ELSE date_received END) < ?`

	var ids []int64
	if err := s.db.SelectContext(ctx, &ids,
		`SELECT id FROM messages WHERE `+where, threadID, cutoff); err != nil {
		opErr = fmt.Errorf("list expired messages: %w", err)
		return 0, opErr
	}
	for _, id := range ids {
		if err := s.attachments.DeleteForMessage(ctx, id); err != nil {
			opErr = fmt.Errorf("delete attachments: %w", err)
			return deleted, opErr
		}
		if err := s.receipts.DeleteForMessage(ctx, id); err != nil {
			opErr = fmt.Errorf("delete receipts: %w", err)
			return deleted, opErr
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id); err != nil {
			opErr = fmt.Errorf("delete message: %w", err)
			return deleted, opErr
		}
		deleted++
	}

	if deleted > 0 {
		if _, err := s.threads.Touch(ctx, threadID, false); err != nil {
			s.logger.Warn("thread touch failed", "thread_id", threadID, "error", err)
		}
		s.notifyConversation(ctx, threadID)
	}
	return deleted, nil
}

// DeleteAllThreads wipes the store: every message, attachment and receipt.
func (s *Service) DeleteAllThreads(ctx context.Context) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	start := time.Now()
	ctx, end := s.otel.startSpan(ctx, "mediastore.DeleteAllThreads")
	var opErr error
	defer func() {
		end(opErr)
		s.otel.recordDelete(ctx, time.Since(start), "all", opErr)
	}()

	if err := s.attachments.DeleteAll(ctx); err != nil {
		opErr = fmt.Errorf("delete attachments: %w", err)
		return opErr
	}
	if err := s.receipts.DeleteAll(ctx); err != nil {
		opErr = fmt.Errorf("delete receipts: %w", err)
		return opErr
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages`); err != nil {
		opErr = fmt.Errorf("delete messages: %w", err)
		return opErr
	}
	if err := s.threads.DeleteAll(ctx); err != nil {
		opErr = fmt.Errorf("delete threads: %w", err)
		return opErr
	}

	s.notifyConversationList()
	return nil
}
