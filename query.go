package mediastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// isNoRows reports whether err means the query matched nothing.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// messageColumns is the full select list scanned into messageRow.
const messageColumns = `id, thread_id, address, date_sent, date_received,
	msg_type, type_mask, read, body, content_location, transaction_id,
	message_size, expiry, transport_status, subscription_id, expires_in,
	expire_started, delivery_receipt_count, read_receipt_count, unidentified,
	notified, quote_id, quote_author, quote_body, quote_missing,
	shared_contacts, link_previews, network_failures, identity_mismatches`

// ThreadIDForMessage returns the thread a message belongs to.
func (s *Service) ThreadIDForMessage(ctx context.Context, id int64) (int64, error) {
	var threadID int64
	err := s.db.GetContext(ctx, &threadID,
		`SELECT thread_id FROM messages WHERE id = ?`, id)
	if err != nil {
		if isNoRows(err) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("load thread id: %w", err)
	}
	return threadID, nil
}

// MessageCountForThread returns the number of messages in the thread.
func (s *Service) MessageCountForThread(ctx context.Context, threadID int64) (int, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}
	var count int
	if err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM messages WHERE thread_id = ?`, threadID); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

// GetMessageRecord loads and decodes a single message.
func (s *Service) GetMessageRecord(ctx context.Context, id int64) (MessageRecord, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	var row messageRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load message: %w", err)
	}
	return s.decodeRecord(ctx, &row)
}

// Conversation returns a reader over the thread's messages, newest first.
// The caller must Close the reader.
func (s *Service) Conversation(ctx context.Context, threadID int64) (*Reader, error) {
	return s.readerFor(ctx,
		`SELECT `+messageColumns+` FROM messages
		WHERE thread_id = ? ORDER BY date_received DESC`, threadID)
}

// Unnotified returns a reader over unread messages the user has not been
// alerted about yet. The caller must Close the reader.
func (s *Service) Unnotified(ctx context.Context) (*Reader, error) {
	return s.readerFor(ctx,
		`SELECT `+messageColumns+` FROM messages
		WHERE notified = 0 AND read = 0 ORDER BY date_received ASC`)
}

// ExpireStartedMessages returns a reader over messages whose expiration
// countdown is running. The caller must Close the reader.
func (s *Service) ExpireStartedMessages(ctx context.Context) (*Reader, error) {
	return s.readerFor(ctx,
		`SELECT `+messageColumns+` FROM messages
		WHERE expire_started > 0 ORDER BY expire_started ASC`)
}

// readerFor runs the query and wraps the cursor in a Reader.
func (s *Service) readerFor(ctx context.Context, query string, args ...any) (*Reader, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	return &Reader{svc: s, rows: rows}, nil
}

// GetOutgoingMessage reconstructs an outgoing message from its stored row,
// for resend. Returns ErrNotOutgoing if the row is not an outgoing message.
func (s *Service) GetOutgoingMessage(ctx context.Context, id int64) (*OutgoingMessage, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	var row messageRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load message: %w", err)
	}
	if !IsOutgoingType(row.TypeMask) {
		return nil, ErrNotOutgoing
	}

	rec, err := s.decodeRecord(ctx, &row)
	if err != nil {
		return nil, err
	}
	media, ok := rec.(*MediaRecord)
	if !ok {
		return nil, ErrNotOutgoing
	}

	return &OutgoingMessage{
		Recipient:             row.Address,
		ThreadID:              row.ThreadID,
		Body:                  row.Body,
		SentTimestamp:         row.DateSent,
		SubscriptionID:        int(row.SubscriptionID),
		ExpiresIn:             row.ExpiresIn,
		Secure:                IsSecureType(row.TypeMask),
		ForceFallback:         IsForcedFallback(row.TypeMask),
		GroupUpdate:           IsGroupUpdate(row.TypeMask),
		GroupQuit:             IsGroupQuit(row.TypeMask),
		ExpirationTimerUpdate: IsExpirationTimerUpdate(row.TypeMask),
		Attachments:           media.Attachments,
		Quote:                 media.Quote,
		Contacts:              media.Contacts,
		Previews:              media.Previews,
	}, nil
}
