// Package attachments provides the SQLite-backed attachment store.
//
// Blobs are stored inline with their metadata rows. Each attachment gets a
// generated storage key at insert time and a sniffed content type when the
// caller did not supply one.
package attachments

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/quillchat/mediastore"
)

// Store persists attachment rows and blobs.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// Option configures the store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates an attachment store on the given database handle.
func New(db *sqlx.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Compile-time interface check.
var _ mediastore.AttachmentStore = (*Store)(nil)

type attachmentRow struct {
	ID          int64  `db:"id"`
	MessageID   int64  `db:"message_id"`
	ContentType string `db:"content_type"`
	FileName    string `db:"file_name"`
	Size        int64  `db:"size"`
	StorageKey  string `db:"storage_key"`
	Data        []byte `db:"data"`
	Quote       int    `db:"quote"`
	VoiceNote   int    `db:"voice_note"`
	CreatedAt   int64  `db:"created_at"`
}

const insertAttachmentSQL = `INSERT INTO attachments
	(message_id, content_type, file_name, size, storage_key, data, quote, voice_note, created_at)
	VALUES (:message_id, :content_type, :file_name, :size, :storage_key, :data, :quote, :voice_note, :created_at)`

// InsertForMessage persists the message's attachments inside the caller's
// transaction and returns the identifier assigned to each one.
func (s *Store) InsertForMessage(ctx context.Context, tx *sqlx.Tx, messageID int64, attachments, quoteAttachments []*mediastore.Attachment) (map[*mediastore.Attachment]int64, error) {
	ids := make(map[*mediastore.Attachment]int64, len(attachments)+len(quoteAttachments))

	insert := func(a *mediastore.Attachment, quote bool) error {
		if a.ContentType == "" && len(a.Data) > 0 {
			a.ContentType = mimetype.Detect(a.Data).String()
		}
		if a.StorageKey == "" {
			a.StorageKey = uuid.NewString()
		}
		size := a.Size
		if size == 0 {
			size = int64(len(a.Data))
		}

		row := attachmentRow{
			MessageID:   messageID,
			ContentType: a.ContentType,
			FileName:    a.FileName,
			Size:        size,
			StorageKey:  a.StorageKey,
			Data:        a.Data,
			Quote:       boolToInt(quote || a.Quote),
			VoiceNote:   boolToInt(a.VoiceNote),
			CreatedAt:   time.Now().UnixMilli(),
		}
		res, err := tx.NamedExecContext(ctx, insertAttachmentSQL, row)
		if err != nil {
			return fmt.Errorf("insert attachment: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("attachment id: %w", err)
		}
		a.ID = id
		a.Size = size
		ids[a] = id
		return nil
	}

	for _, a := range attachments {
		if err := insert(a, false); err != nil {
			return nil, err
		}
	}
	for _, a := range quoteAttachments {
		if err := insert(a, true); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// ForMessage returns the message's attachments in insertion order.
func (s *Store) ForMessage(ctx context.Context, messageID int64) ([]*mediastore.Attachment, error) {
	var rows []attachmentRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT id, message_id, content_type, file_name, size, storage_key, data, quote, voice_note, created_at
		FROM attachments WHERE message_id = ? ORDER BY id ASC`, messageID); err != nil {
		return nil, fmt.Errorf("load attachments: %w", err)
	}

	out := make([]*mediastore.Attachment, 0, len(rows))
	for _, row := range rows {
		out = append(out, &mediastore.Attachment{
			ID:          row.ID,
			ContentType: row.ContentType,
			FileName:    row.FileName,
			Size:        row.Size,
			Data:        row.Data,
			StorageKey:  row.StorageKey,
			Quote:       row.Quote != 0,
			VoiceNote:   row.VoiceNote != 0,
		})
	}
	return out, nil
}

// DeleteForMessage removes all attachments for the message.
func (s *Store) DeleteForMessage(ctx context.Context, messageID int64) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM attachments WHERE message_id = ?`, messageID); err != nil {
		return fmt.Errorf("delete attachments: %w", err)
	}
	return nil
}

// DeleteAll removes every attachment.
func (s *Store) DeleteAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM attachments`); err != nil {
		return fmt.Errorf("delete attachments: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
