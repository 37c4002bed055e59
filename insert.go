package mediastore

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel/attribute"
)

// messageRow mirrors one row of the messages table.
type messageRow struct {
	ID                   int64  `db:"id"`
	ThreadID             int64  `db:"thread_id"`
	Address              string `db:"address"`
	DateSent             int64  `db:"date_sent"`
	DateReceived         int64  `db:"date_received"`
	MsgType              int64  `db:"msg_type"`
	TypeMask             int64  `db:"type_mask"`
	Read                 int    `db:"read"`
	Body                 string `db:"body"`
	ContentLocation      string `db:"content_location"`
	TransactionID        string `db:"transaction_id"`
	MessageSize          int64  `db:"message_size"`
	Expiry               int64  `db:"expiry"`
	TransportStatus      int64  `db:"transport_status"`
	SubscriptionID       int64  `db:"subscription_id"`
	ExpiresIn            int64  `db:"expires_in"`
	ExpireStarted        int64  `db:"expire_started"`
	DeliveryReceiptCount int64  `db:"delivery_receipt_count"`
	ReadReceiptCount     int64  `db:"read_receipt_count"`
	Unidentified         int    `db:"unidentified"`
	Notified             int    `db:"notified"`
	QuoteID              int64  `db:"quote_id"`
	QuoteAuthor          string `db:"quote_author"`
	QuoteBody            string `db:"quote_body"`
	QuoteMissing         int    `db:"quote_missing"`
	SharedContacts       string `db:"shared_contacts"`
	LinkPreviews         string `db:"link_previews"`
	NetworkFailures      string `db:"network_failures"`
	IdentityMismatches   string `db:"identity_mismatches"`
}

const insertMessageSQL = `
	INSERT INTO messages (
		thread_id, address, date_sent, date_received, msg_type, type_mask,
		read, body, content_location, transaction_id, message_size, expiry,
		transport_status, subscription_id, expires_in, expire_started,
		delivery_receipt_count, read_receipt_count, unidentified, notified,
		quote_id, quote_author, quote_body, quote_missing,
		shared_contacts, link_previews, network_failures, identity_mismatches
	) VALUES (
		:thread_id, :address, :date_sent, :date_received, :msg_type, :type_mask,
		:read, :body, :content_location, :transaction_id, :message_size, :expiry,
		:transport_status, :subscription_id, :expires_in, :expire_started,
		:delivery_receipt_count, :read_receipt_count, :unidentified, :notified,
		:quote_id, :quote_author, :quote_body, :quote_missing,
		:shared_contacts, :link_previews, :network_failures, :identity_mismatches
	)`

// isDuplicate runs the duplicate existence probe. No unique constraint backs
// this: the check must ignore rows pending group-thread resolution, so it is
// an explicit probe on the resolved triple.
func (s *Service) isDuplicate(ctx context.Context, q sqlx.QueryerContext, dateSent int64, address string, threadID int64) (bool, error) {
	var id int64
	err := sqlx.GetContext(ctx, q, &id,
		`SELECT id FROM messages WHERE date_sent = ? AND address = ? AND thread_id = ? LIMIT 1`,
		dateSent, address, threadID)
	if err == nil {
		return true, nil
	}
	if isNoRows(err) {
		return false, nil
	}
	return false, fmt.Errorf("duplicate probe: %w", err)
}

// resolveThread resolves an address to a thread id via the registry.
func (s *Service) resolveThread(ctx context.Context, address string) (int64, error) {
	threadID, err := s.threads.GetOrCreate(ctx, address)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrThreadResolution, address, err)
	}
	return threadID, nil
}

// insertMessageTx performs the two-phase insert inside tx.
//
// Phase one inserts the message row and every attachment (the message's own
// media, contact avatars, preview thumbnails, and quote attachments) so that
// identifiers exist. Phase two re-serializes the contact and link preview
// documents with the assigned identifiers substituted, and patches those two
// columns in place. The documents are stored as serialized blobs, so their
// correctness depends on identifiers that only exist after phase one.
func (s *Service) insertMessageTx(ctx context.Context, tx *sqlx.Tx, row *messageRow, atts []*Attachment, quote *Quote, contacts []ContactCard, previews []LinkPreview) (int64, error) {
	if quote != nil {
		row.QuoteID = quote.ID
		row.QuoteAuthor = quote.Author
		row.QuoteBody = quote.Text
		if quote.Missing {
			row.QuoteMissing = 1
		}
	}

	res, err := tx.NamedExecContext(ctx, insertMessageSQL, row)
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("message id: %w", err)
	}

	all := make([]*Attachment, 0, len(atts)+len(contacts)+len(previews))
	all = append(all, atts...)
	for i := range contacts {
		if contacts[i].Avatar != nil {
			all = append(all, contacts[i].Avatar)
		}
	}
	for i := range previews {
		if previews[i].Thumbnail != nil {
			all = append(all, previews[i].Thumbnail)
		}
	}
	var quoteAtts []*Attachment
	if quote != nil {
		quoteAtts = quote.Attachments
	}

	if len(all) > 0 || len(quoteAtts) > 0 {
		// A failed attachment insert aborts the whole transaction:
		// message and attachments are all-or-nothing.
		ids, err := s.attachments.InsertForMessage(ctx, tx, id, all, quoteAtts)
		if err != nil {
			return 0, fmt.Errorf("insert attachments: %w", err)
		}
		for i := range contacts {
			if contacts[i].Avatar != nil {
				contacts[i].AvatarID = ids[contacts[i].Avatar]
			}
		}
		for i := range previews {
			if previews[i].Thumbnail != nil {
				previews[i].AttachmentID = ids[previews[i].Thumbnail]
			}
		}
	}

	if len(contacts) > 0 || len(previews) > 0 {
		contactsJSON, err := serializeDocument(contacts)
		if err != nil {
			return 0, err
		}
		previewsJSON, err := serializeDocument(previews)
		if err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE messages SET shared_contacts = ?, link_previews = ? WHERE id = ?`,
			contactsJSON, previewsJSON, id); err != nil {
			return 0, fmt.Errorf("patch embedded documents: %w", err)
		}
	}

	return id, nil
}

// InsertIncoming stores a received media message.
//
// A thread id hint of -1 is resolved from the group address when present,
// else from the sender. The received timestamp is the server timestamp when
// present (group/federated source), else the sender's asserted send time.
// A message duplicating an existing (dateSent, sender, threadId) triple is
// silently skipped: the result is (nil, false, nil), not an error.
func (s *Service) InsertIncoming(ctx context.Context, msg *IncomingMessage) (*InsertResult, bool, error) {
	if err := s.checkConnected(); err != nil {
		return nil, false, err
	}
	if err := ValidateIncoming(msg); err != nil {
		return nil, false, err
	}

	start := time.Now()
	ctx, end := s.otel.startSpan(ctx, "mediastore.InsertIncoming",
		attribute.String("address", msg.Address))
	var opErr error
	defer func() {
		end(opErr)
		s.otel.recordInsert(ctx, time.Since(start), "incoming", len(msg.Attachments), opErr)
	}()

	threadID := msg.ThreadID
	if threadID == -1 || msg.GroupAddress != "" {
		addr := msg.Address
		if msg.GroupAddress != "" {
			addr = msg.GroupAddress
		}
		var err error
		threadID, err = s.resolveThread(ctx, addr)
		if err != nil {
			opErr = err
			return nil, false, err
		}
	}

	dup, err := s.isDuplicate(ctx, s.db, msg.SentTimestamp, msg.Address, threadID)
	if err != nil {
		opErr = err
		return nil, false, err
	}
	if dup {
		s.logger.Debug("suppressed duplicate incoming message",
			"address", msg.Address,
			"date_sent", msg.SentTimestamp,
			"thread_id", threadID,
		)
		return nil, false, nil
	}

	dateReceived := msg.ServerTimestamp
	if dateReceived == 0 {
		dateReceived = msg.SentTimestamp
	}

	read := 0
	if msg.ExpirationTimerUpdate {
		// Timer updates are bookkeeping, not content: pre-read so they
		// never contribute to the unread count.
		read = 1
	}

	row := &messageRow{
		ThreadID:       threadID,
		Address:        msg.Address,
		DateSent:       msg.SentTimestamp,
		DateReceived:   dateReceived,
		MsgType:        headerRetrieved,
		TypeMask:       incomingTypeMask(msg),
		Read:           read,
		Body:           msg.Body,
		SubscriptionID: int64(msg.SubscriptionID),
		ExpiresIn:      msg.ExpiresIn,
		Unidentified:   boolToInt(msg.Unidentified),
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		opErr = fmt.Errorf("begin: %w", err)
		return nil, false, opErr
	}
	defer tx.Rollback()

	id, err := s.insertMessageTx(ctx, tx, row, msg.Attachments, msg.Quote, msg.Contacts, msg.Previews)
	if err != nil {
		opErr = err
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		opErr = fmt.Errorf("commit: %w", err)
		return nil, false, opErr
	}

	if !msg.ExpirationTimerUpdate {
		if err := s.threads.IncrementUnread(ctx, threadID); err != nil {
			s.logger.Warn("increment unread failed", "thread_id", threadID, "error", err)
		}
	}
	if _, err := s.threads.Touch(ctx, threadID, true); err != nil {
		s.logger.Warn("thread touch failed", "thread_id", threadID, "error", err)
	}

	s.publish("MessageInserted", func() error {
		return s.events.MessageInserted.Publish(ctx, MessageInsertedEvent{
			MessageID: id,
			ThreadID:  threadID,
			SentAt:    msg.SentTimestamp,
		})
	})
	s.notifyConversation(ctx, threadID)

	s.logger.Debug("inserted incoming message", "message_id", id, "thread_id", threadID)
	return &InsertResult{MessageID: id, ThreadID: threadID}, true, nil
}

// InsertNotification stores a placeholder row for a media message announced
// by the transport but not yet downloaded. Duplicates are suppressed like
// full inserts.
func (s *Service) InsertNotification(ctx context.Context, msg *IncomingNotification) (*InsertResult, bool, error) {
	if err := s.checkConnected(); err != nil {
		return nil, false, err
	}
	if err := ValidateNotification(msg); err != nil {
		return nil, false, err
	}

	start := time.Now()
	ctx, end := s.otel.startSpan(ctx, "mediastore.InsertNotification")
	var opErr error
	defer func() {
		end(opErr)
		s.otel.recordInsert(ctx, time.Since(start), "notification", 0, opErr)
	}()

	threadID := msg.ThreadID
	if threadID <= 0 {
		var err error
		threadID, err = s.resolveThread(ctx, msg.Address)
		if err != nil {
			opErr = err
			return nil, false, err
		}
	}

	dup, err := s.isDuplicate(ctx, s.db, msg.SentTimestamp, msg.Address, threadID)
	if err != nil {
		opErr = err
		return nil, false, err
	}
	if dup {
		s.logger.Debug("suppressed duplicate notification",
			"address", msg.Address,
			"date_sent", msg.SentTimestamp,
		)
		return nil, false, nil
	}

	row := &messageRow{
		ThreadID:        threadID,
		Address:         msg.Address,
		DateSent:        msg.SentTimestamp,
		DateReceived:    time.Now().UnixMilli(),
		MsgType:         headerNotification,
		TypeMask:        BaseTypeInbox,
		ContentLocation: msg.ContentLocation,
		TransactionID:   msg.TransactionID,
		MessageSize:     msg.MessageSize,
		Expiry:          msg.Expiry,
		TransportStatus: msg.TransportStatus,
		SubscriptionID:  int64(msg.SubscriptionID),
	}

	res, err := s.db.NamedExecContext(ctx, insertMessageSQL, row)
	if err != nil {
		opErr = fmt.Errorf("insert notification: %w", err)
		return nil, false, opErr
	}
	id, err := res.LastInsertId()
	if err != nil {
		opErr = fmt.Errorf("message id: %w", err)
		return nil, false, opErr
	}

	if err := s.threads.IncrementUnread(ctx, threadID); err != nil {
		s.logger.Warn("increment unread failed", "thread_id", threadID, "error", err)
	}
	if _, err := s.threads.Touch(ctx, threadID, true); err != nil {
		s.logger.Warn("thread touch failed", "thread_id", threadID, "error", err)
	}
	s.notifyConversation(ctx, threadID)

	return &InsertResult{MessageID: id, ThreadID: threadID}, true, nil
}

// InsertOutgoing stores a locally originated message in the sending state.
//
// Early delivery/read acknowledgements cached for this send timestamp are
// drained exactly once here and seed the initial receipt counters, making
// receipt arrival order-independent of insert completion. Group recipients
// additionally get one pending receipt row per member, with any early
// receipt states applied.
func (s *Service) InsertOutgoing(ctx context.Context, msg *OutgoingMessage) (int64, bool, error) {
	if err := s.checkConnected(); err != nil {
		return 0, false, err
	}
	if err := ValidateOutgoing(msg); err != nil {
		return 0, false, err
	}

	start := time.Now()
	ctx, end := s.otel.startSpan(ctx, "mediastore.InsertOutgoing",
		attribute.String("recipient", msg.Recipient))
	var opErr error
	defer func() {
		end(opErr)
		s.otel.recordInsert(ctx, time.Since(start), "outgoing", len(msg.Attachments), opErr)
	}()

	threadID := msg.ThreadID
	if threadID <= 0 {
		var err error
		threadID, err = s.resolveThread(ctx, msg.Recipient)
		if err != nil {
			opErr = err
			return 0, false, err
		}
	}

	dup, err := s.isDuplicate(ctx, s.db, msg.SentTimestamp, msg.Recipient, threadID)
	if err != nil {
		opErr = err
		return 0, false, err
	}
	if dup {
		s.logger.Debug("suppressed duplicate outgoing message",
			"recipient", msg.Recipient,
			"date_sent", msg.SentTimestamp,
		)
		return 0, false, nil
	}

	earlyDeliveries := s.earlyDelivery.Remove(msg.SentTimestamp)
	earlyReads := s.earlyRead.Remove(msg.SentTimestamp)

	deliveryCount := 0
	for _, n := range earlyDeliveries {
		deliveryCount += n
	}
	readCount := 0
	if s.opts.readReceiptsEnabled {
		for _, n := range earlyReads {
			readCount += n
		}
	}

	dateReceived := msg.ServerTimestamp
	if dateReceived == 0 {
		dateReceived = time.Now().UnixMilli()
	}

	row := &messageRow{
		ThreadID:             threadID,
		Address:              msg.Recipient,
		DateSent:             msg.SentTimestamp,
		DateReceived:         dateReceived,
		MsgType:              headerRetrieved,
		TypeMask:             outgoingTypeMask(msg),
		Read:                 1,
		Body:                 msg.Body,
		SubscriptionID:       int64(msg.SubscriptionID),
		ExpiresIn:            msg.ExpiresIn,
		DeliveryReceiptCount: int64(deliveryCount),
		ReadReceiptCount:     int64(readCount),
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		opErr = fmt.Errorf("begin: %w", err)
		return 0, false, opErr
	}
	defer tx.Rollback()

	id, err := s.insertMessageTx(ctx, tx, row, msg.Attachments, msg.Quote, msg.Contacts, msg.Previews)
	if err != nil {
		opErr = err
		return 0, false, err
	}

	var members []string
	if s.isGroup(msg.Recipient) {
		members, err = s.opts.groups.Members(ctx, msg.Recipient)
		if err != nil {
			opErr = fmt.Errorf("group members: %w", err)
			return 0, false, opErr
		}
		if err := s.receipts.InsertPending(ctx, tx, id, members, msg.SentTimestamp); err != nil {
			opErr = fmt.Errorf("insert pending receipts: %w", err)
			return 0, false, opErr
		}
	}

	if err := tx.Commit(); err != nil {
		opErr = fmt.Errorf("commit: %w", err)
		return 0, false, opErr
	}

	// Apply early receipt states to the per-member rows.
	for addr := range earlyDeliveries {
		if err := s.receipts.Update(ctx, addr, id, ReceiptStatusDelivered, msg.SentTimestamp); err != nil {
			s.logger.Warn("apply early delivery receipt failed", "address", addr, "error", err)
		}
	}
	for addr := range earlyReads {
		if err := s.receipts.Update(ctx, addr, id, ReceiptStatusRead, msg.SentTimestamp); err != nil {
			s.logger.Warn("apply early read receipt failed", "address", addr, "error", err)
		}
	}

	if err := s.threads.SetHasSent(ctx, threadID, true); err != nil {
		s.logger.Warn("set has-sent failed", "thread_id", threadID, "error", err)
	}
	if err := s.threads.SetLastSeen(ctx, threadID, msg.SentTimestamp); err != nil {
		s.logger.Warn("set last-seen failed", "thread_id", threadID, "error", err)
	}
	if _, err := s.threads.Touch(ctx, threadID, true); err != nil {
		s.logger.Warn("thread touch failed", "thread_id", threadID, "error", err)
	}

	s.publish("MessageInserted", func() error {
		return s.events.MessageInserted.Publish(ctx, MessageInsertedEvent{
			MessageID: id,
			ThreadID:  threadID,
			Outgoing:  true,
			SentAt:    msg.SentTimestamp,
		})
	})
	s.notifyConversation(ctx, threadID)

	s.logger.Debug("inserted outgoing message",
		"message_id", id,
		"thread_id", threadID,
		"early_deliveries", deliveryCount,
		"early_reads", readCount,
	)
	return id, true, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
