package mediastore

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Reader is a forward-only cursor over decoded message records. The caller
// must Close it on every exit path; the underlying cursor pins database
// resources until released.
//
//	r, err := svc.Conversation(ctx, threadID)
//	if err != nil { ... }
//	defer r.Close()
//	for {
//		ok, err := r.Next(ctx)
//		if err != nil { ... }
//		if !ok {
//			break
//		}
//		rec := r.Record()
//		...
//	}
type Reader struct {
	svc     *Service
	rows    *sqlx.Rows
	current MessageRecord
	closed  bool
}

// Next advances to the next record. It returns false with a nil error at the
// end of the result set.
func (r *Reader) Next(ctx context.Context) (bool, error) {
	if r.closed {
		return false, ErrReaderClosed
	}
	if !r.rows.Next() {
		r.current = nil
		if err := r.rows.Err(); err != nil {
			return false, fmt.Errorf("advance cursor: %w", err)
		}
		return false, nil
	}

	var row messageRow
	if err := r.rows.StructScan(&row); err != nil {
		return false, fmt.Errorf("scan message: %w", err)
	}
	rec, err := r.svc.decodeRecord(ctx, &row)
	if err != nil {
		return false, err
	}
	r.current = rec
	return true, nil
}

// Record returns the record at the current position. Only valid after a
// Next call that returned true.
func (r *Reader) Record() MessageRecord {
	return r.current
}

// Close releases the cursor. Safe to call more than once.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.current = nil
	return r.rows.Close()
}

// decodeRecord materializes a stored row into its record shape. Placeholder
// rows decode without touching the attachment store; media rows load their
// attachments and reattach them to their owners.
func (s *Service) decodeRecord(ctx context.Context, row *messageRow) (MessageRecord, error) {
	start := time.Now()
	var opErr error
	defer func() {
		s.otel.recordRead(ctx, time.Since(start), opErr)
	}()

	base := recordBase{
		RowID:    row.ID,
		Thread:   row.ThreadID,
		Addr:     row.Address,
		Sent:     row.DateSent,
		Received: row.DateReceived,
		Text:     row.Body,
		Mask:     row.TypeMask,
		Read:     row.Read != 0,
	}

	if row.MsgType == headerNotification {
		return &PlaceholderRecord{
			recordBase:      base,
			ContentLocation: row.ContentLocation,
			TransactionID:   row.TransactionID,
			MessageSize:     row.MessageSize,
			Expiry:          row.Expiry,
			TransportStatus: row.TransportStatus,
			SubscriptionID:  int(row.SubscriptionID),
		}, nil
	}

	stored, err := s.attachments.ForMessage(ctx, row.ID)
	if err != nil {
		opErr = fmt.Errorf("load attachments: %w", err)
		return nil, opErr
	}

	contacts := parseDocument[ContactCard](s.logger, "shared_contacts", row.SharedContacts)
	previews := parseDocument[LinkPreview](s.logger, "link_previews", row.LinkPreviews)
	failures := parseDocument[NetworkFailure](s.logger, "network_failures", row.NetworkFailures)
	mismatches := parseDocument[IdentityMismatch](s.logger, "identity_mismatches", row.IdentityMismatches)

	// Partition stored attachments back to their owners. Quote attachments
	// are flagged on the row; avatars and thumbnails are claimed by ID from
	// the serialized documents; the rest belong to the message itself.
	byID := make(map[int64]*Attachment, len(stored))
	for _, a := range stored {
		byID[a.ID] = a
	}
	claimed := make(map[int64]bool)
	for i := range contacts {
		if id := contacts[i].AvatarID; id != 0 {
			if a, ok := byID[id]; ok {
				contacts[i].Avatar = a
				claimed[id] = true
			}
		}
	}
	for i := range previews {
		if id := previews[i].AttachmentID; id != 0 {
			if a, ok := byID[id]; ok {
				previews[i].Thumbnail = a
				claimed[id] = true
			}
		}
	}

	var (
		media     []*Attachment
		quoteAtts []*Attachment
	)
	for _, a := range stored {
		if claimed[a.ID] {
			continue
		}
		if a.Quote {
			quoteAtts = append(quoteAtts, a)
			continue
		}
		media = append(media, a)
	}

	var quote *Quote
	if row.QuoteID != 0 || row.QuoteAuthor != "" {
		quote = &Quote{
			ID:          row.QuoteID,
			Author:      row.QuoteAuthor,
			Text:        row.QuoteBody,
			Missing:     row.QuoteMissing != 0,
			Attachments: quoteAtts,
		}
	}

	readReceipts := int(row.ReadReceiptCount)
	if !s.opts.readReceiptsEnabled {
		readReceipts = 0
	}

	return &MediaRecord{
		recordBase:           base,
		Attachments:          media,
		Quote:                quote,
		Contacts:             contacts,
		Previews:             previews,
		NetworkFailures:      failures,
		IdentityMismatches:   mismatches,
		DeliveryReceiptCount: int(row.DeliveryReceiptCount),
		ReadReceiptCount:     readReceipts,
		Unidentified:         row.Unidentified != 0,
		SubscriptionID:       int(row.SubscriptionID),
		ExpiresIn:            row.ExpiresIn,
		ExpireStarted:        row.ExpireStarted,
	}, nil
}
