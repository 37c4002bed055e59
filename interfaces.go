package mediastore

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// AttachmentStore owns attachment rows and their backing blobs. The message
// store only ever addresses attachments by message id and receives back the
// identifier mapping it needs to patch embedded documents.
type AttachmentStore interface {
	// InsertForMessage persists all attachments for a freshly inserted
	// message inside the caller's transaction, so the message row and its
	// attachments commit or roll back together. Quote attachments are
	// flagged so decoding can partition them away from the message's own
	// media. Returns a mapping from each logical attachment to its
	// assigned identifier; the identifiers only exist after this call,
	// which is why embedded documents are patched in a second phase.
	InsertForMessage(ctx context.Context, tx *sqlx.Tx, messageID int64, attachments, quoteAttachments []*Attachment) (map[*Attachment]int64, error)

	// ForMessage returns every attachment row bound to the message,
	// in insertion order.
	ForMessage(ctx context.Context, messageID int64) ([]*Attachment, error)

	// DeleteForMessage removes all attachments for the message.
	// Safe to call from a background cleanup worker.
	DeleteForMessage(ctx context.Context, messageID int64) error

	// DeleteAll removes every attachment in the store.
	DeleteAll(ctx context.Context) error
}

// ThreadRegistry owns conversation threads and their counters.
type ThreadRegistry interface {
	// GetOrCreate resolves an address (individual or group) to a thread id,
	// creating the thread when it does not exist yet.
	GetOrCreate(ctx context.Context, address string) (int64, error)

	// IncrementUnread adds one to the thread's unread counter.
	IncrementUnread(ctx context.Context, threadID int64) error

	// DecrementUnread subtracts by from the thread's unread counter,
	// clamping at zero.
	DecrementUnread(ctx context.Context, threadID int64, by int) error

	// SetLastSeen records the last-activity timestamp for the thread.
	SetLastSeen(ctx context.Context, threadID int64, at int64) error

	// SetHasSent records whether the local user has sent into the thread.
	SetHasSent(ctx context.Context, threadID int64, hasSent bool) error

	// Touch recomputes thread metadata after message mutations, bumping the
	// thread's sort order when bumpOrder is set. Reports whether the thread
	// was removed because it no longer holds any messages.
	Touch(ctx context.Context, threadID int64, bumpOrder bool) (wasDeleted bool, err error)

	// DeleteAll removes every thread.
	DeleteAll(ctx context.Context) error
}

// ReceiptStatus is the per-recipient delivery state tracked for group sends.
type ReceiptStatus int

const (
	ReceiptStatusUnknown     ReceiptStatus = -1
	ReceiptStatusUndelivered ReceiptStatus = 0
	ReceiptStatusDelivered   ReceiptStatus = 1
	ReceiptStatusRead        ReceiptStatus = 2
)

// GroupReceipt is one member's acknowledgement state for an outgoing
// group message.
type GroupReceipt struct {
	MessageID    int64
	Address      string
	Status       ReceiptStatus
	Timestamp    int64
	Unidentified bool
}

// ReceiptRegistry tracks per-recipient receipt rows for group messages.
type ReceiptRegistry interface {
	// InsertPending creates one undelivered receipt row per member inside
	// the caller's transaction, alongside the outgoing message insert.
	InsertPending(ctx context.Context, tx *sqlx.Tx, messageID int64, addresses []string, sentAt int64) error

	// Update advances one member's receipt state. Statuses never regress.
	Update(ctx context.Context, address string, messageID int64, status ReceiptStatus, timestamp int64) error

	// ForMessage returns all receipt rows for the message.
	ForMessage(ctx context.Context, messageID int64) ([]GroupReceipt, error)

	// DeleteForMessage removes the message's receipt rows.
	DeleteForMessage(ctx context.Context, messageID int64) error

	// DeleteAll removes every receipt row.
	DeleteAll(ctx context.Context) error
}

// GroupResolver answers group membership questions. Receipt matching treats
// an acknowledgement from any member of the recipient group as addressed to
// the group's messages; membership is also consulted for receipt fan-out.
type GroupResolver interface {
	// IsGroup reports whether the address names a group.
	IsGroup(address string) bool

	// Members returns the member addresses of a group.
	Members(ctx context.Context, address string) ([]string, error)
}

// ConversationListener receives change callbacks after each committed write.
// Callbacks run synchronously on the writer's goroutine: they must not block,
// must not panic (panics are recovered and logged), and must never write back
// into the store re-entrantly.
type ConversationListener interface {
	// ConversationUpdated fires when messages inside a thread changed.
	ConversationUpdated(threadID int64)

	// ConversationListUpdated fires when the set of threads changed.
	ConversationListUpdated()
}
