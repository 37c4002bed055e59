package mediastore

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// IncrementReceiptCount reconciles a delivery or read acknowledgement
// against the outgoing message sent at sentTimestamp.
//
// The acknowledging address must match the message's recipient; when the
// recipient is a group, an acknowledgement from any member counts, and the
// member's own receipt row is advanced so per-member state stays distinct.
//
// If no matching outgoing row exists yet, the acknowledgement is parked in
// the early receipt cache instead of failing; InsertOutgoing drains the
// cache and seeds its counters from it. This hand-off is what makes receipt
// arrival order-independent of message insertion.
func (s *Service) IncrementReceiptCount(ctx context.Context, address string, sentTimestamp int64, receiptType ReceiptType) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if address == "" {
		return ErrInvalidAddress
	}

	start := time.Now()
	ctx, end := s.otel.startSpan(ctx, "mediastore.IncrementReceiptCount",
		attribute.Int64("sent_timestamp", sentTimestamp),
		attribute.String("kind", receiptType.String()))
	var (
		opErr  error
		cached bool
	)
	defer func() {
		end(opErr)
		s.otel.recordReceipt(ctx, time.Since(start), receiptType.String(), cached, opErr)
	}()

	type candidate struct {
		ID       int64  `db:"id"`
		ThreadID int64  `db:"thread_id"`
		Address  string `db:"address"`
		TypeMask int64  `db:"type_mask"`
	}
	var rows []candidate
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT id, thread_id, address, type_mask FROM messages WHERE date_sent = ?`,
		sentTimestamp); err != nil {
		opErr = fmt.Errorf("find messages: %w", err)
		return opErr
	}

	column := "delivery_receipt_count"
	status := ReceiptStatusDelivered
	if receiptType == ReceiptTypeRead {
		column = "read_receipt_count"
		status = ReceiptStatusRead
	}

	found := false
	for _, row := range rows {
		if !IsOutgoingType(row.TypeMask) {
			continue
		}
		if row.Address != address && !s.isGroup(row.Address) {
			continue
		}

		if _, err := s.db.ExecContext(ctx,
			`UPDATE messages SET `+column+` = `+column+` + 1 WHERE id = ?`,
			row.ID); err != nil {
			opErr = fmt.Errorf("increment receipt count: %w", err)
			return opErr
		}
		if err := s.receipts.Update(ctx, address, row.ID, status, time.Now().UnixMilli()); err != nil {
			s.logger.Warn("update member receipt failed",
				"message_id", row.ID,
				"address", address,
				"error", err,
			)
		}
		if _, err := s.threads.Touch(ctx, row.ThreadID, false); err != nil {
			s.logger.Warn("thread touch failed", "thread_id", row.ThreadID, "error", err)
		}
		s.notifyConversation(ctx, row.ThreadID)
		found = true
	}

	if !found {
		// The acknowledged message has not been inserted yet: park the
		// receipt for InsertOutgoing to claim.
		cached = true
		switch receiptType {
		case ReceiptTypeRead:
			s.earlyRead.Increment(sentTimestamp, address)
		default:
			s.earlyDelivery.Increment(sentTimestamp, address)
		}
		s.logger.Debug("cached early receipt",
			"sent_timestamp", sentTimestamp,
			"address", address,
			"kind", receiptType.String(),
		)
	}
	return nil
}

// IsOutgoingMessageAt reports whether any outgoing message exists with the
// given sent timestamp. Receipt routing uses this to decide whether an
// acknowledgement belongs to this store at all.
func (s *Service) IsOutgoingMessageAt(ctx context.Context, sentTimestamp int64) (bool, error) {
	if err := s.checkConnected(); err != nil {
		return false, err
	}
	var masks []int64
	if err := s.db.SelectContext(ctx, &masks,
		`SELECT type_mask FROM messages WHERE date_sent = ?`, sentTimestamp); err != nil {
		return false, fmt.Errorf("find messages: %w", err)
	}
	for _, mask := range masks {
		if IsOutgoingType(mask) {
			return true, nil
		}
	}
	return false, nil
}

// IsSent reports whether the message completed sending.
func (s *Service) IsSent(ctx context.Context, id int64) (bool, error) {
	if err := s.checkConnected(); err != nil {
		return false, err
	}
	var mask int64
	err := s.db.GetContext(ctx, &mask,
		`SELECT type_mask FROM messages WHERE id = ?`, id)
	if err != nil {
		if isNoRows(err) {
			return false, ErrNotFound
		}
		return false, fmt.Errorf("load type mask: %w", err)
	}
	return IsSentType(mask), nil
}
