package mediastore

// Header values stored in the msg_type column. The header discriminates
// placeholder rows (push notification received, content not yet downloaded)
// from fully retrieved media messages. The values mirror the wire-level
// notification/retrieve message classes and are part of the on-disk format.
const (
	headerNotification int64 = 130
	headerRetrieved    int64 = 132
)

// Attachment describes one media item bound to a message.
//
// An attachment belongs to exactly one owner inside its message: the
// message's own media list, a quote, a shared contact's avatar, or a link
// preview's thumbnail. Decoding partitions attachments back to their owner
// so none is ever double-counted.
type Attachment struct {
	// ID is assigned by the attachment store at insert time.
	ID          int64
	ContentType string
	FileName    string
	Size        int64

	// Data optionally carries the raw content. When ContentType is empty
	// the store sniffs it from Data.
	Data []byte

	// StorageKey locates the blob in the attachment store. Assigned at
	// insert when empty.
	StorageKey string

	// Quote marks the attachment as part of the parent message's quote
	// rather than its own media.
	Quote     bool
	VoiceNote bool
}

// MessageRecord is the decoded view of one stored message row. Exactly one
// of the two concrete shapes backs it: *PlaceholderRecord for undownloaded
// notifications, *MediaRecord for fully materialized messages.
type MessageRecord interface {
	ID() int64
	ThreadID() int64
	Address() string
	DateSent() int64
	DateReceived() int64
	Body() string
	TypeMask() int64
	IsOutgoing() bool
	IsSecure() bool
	IsExpirationTimerUpdate() bool
	IsRead() bool
}

// recordBase carries the capability set shared by both record shapes.
type recordBase struct {
	RowID    int64
	Thread   int64
	Addr     string
	Sent     int64
	Received int64
	Text     string
	Mask     int64
	Read     bool
}

func (r *recordBase) ID() int64           { return r.RowID }
func (r *recordBase) ThreadID() int64     { return r.Thread }
func (r *recordBase) Address() string     { return r.Addr }
func (r *recordBase) DateSent() int64     { return r.Sent }
func (r *recordBase) DateReceived() int64 { return r.Received }
func (r *recordBase) Body() string        { return r.Text }
func (r *recordBase) TypeMask() int64     { return r.Mask }
func (r *recordBase) IsOutgoing() bool    { return IsOutgoingType(r.Mask) }
func (r *recordBase) IsSecure() bool      { return IsSecureType(r.Mask) }
func (r *recordBase) IsRead() bool        { return r.Read }

func (r *recordBase) IsExpirationTimerUpdate() bool {
	return IsExpirationTimerUpdate(r.Mask)
}

// PlaceholderRecord represents an as-yet-undownloaded media message known
// only from its push notification.
type PlaceholderRecord struct {
	recordBase

	ContentLocation string
	TransactionID   string
	MessageSize     int64
	Expiry          int64
	TransportStatus int64
	SubscriptionID  int
}

// MediaRecord is a fully materialized media message.
type MediaRecord struct {
	recordBase

	Attachments        []*Attachment
	Quote              *Quote
	Contacts           []ContactCard
	Previews           []LinkPreview
	NetworkFailures    []NetworkFailure
	IdentityMismatches []IdentityMismatch

	DeliveryReceiptCount int
	ReadReceiptCount     int

	// Unidentified reports sealed-sender delivery.
	Unidentified bool

	SubscriptionID int
	ExpiresIn      int64
	ExpireStarted  int64
}

// Compile-time shape checks.
var (
	_ MessageRecord = (*PlaceholderRecord)(nil)
	_ MessageRecord = (*MediaRecord)(nil)
)

// IncomingMessage is the input for InsertIncoming.
type IncomingMessage struct {
	// Address is the sender.
	Address string

	// GroupAddress is set when the message was delivered to a group; the
	// thread is then resolved from the group, not the individual sender.
	GroupAddress string

	// ThreadID of -1 means "resolve from sender or group at insert time".
	ThreadID int64

	Body          string
	SentTimestamp int64

	// ServerTimestamp, when non-zero, governs display order instead of the
	// sender-asserted send time.
	ServerTimestamp int64

	SubscriptionID int
	ExpiresIn      int64
	Unidentified   bool

	Push                  bool
	Secure                bool
	ExpirationTimerUpdate bool
	GroupUpdate           bool
	ScreenshotNotice      bool
	MediaSavedNotice      bool

	Attachments []*Attachment
	Quote       *Quote
	Contacts    []ContactCard
	Previews    []LinkPreview
}

// IncomingNotification is the input for InsertNotification: a media message
// announced by the transport but not yet downloaded.
type IncomingNotification struct {
	Address  string
	ThreadID int64 // -1 resolves from the sender

	SentTimestamp   int64
	ContentLocation string
	TransactionID   string
	MessageSize     int64
	Expiry          int64
	TransportStatus int64
	SubscriptionID  int
}

// OutgoingMessage is the input for InsertOutgoing, and the shape returned by
// GetOutgoingMessage when rebuilding a send snapshot.
type OutgoingMessage struct {
	// Recipient is an individual address or a group address.
	Recipient string

	// ThreadID of -1 or 0 resolves from the recipient.
	ThreadID int64

	Body          string
	SentTimestamp int64

	// ServerTimestamp, when non-zero, governs display order instead of the
	// local wall clock, so sends to a remote group sort by server order.
	ServerTimestamp int64

	SubscriptionID int
	ExpiresIn      int64

	Secure                bool
	ForceFallback         bool
	GroupUpdate           bool
	GroupQuit             bool
	ExpirationTimerUpdate bool

	Attachments []*Attachment
	Quote       *Quote
	Contacts    []ContactCard
	Previews    []LinkPreview
}

// InsertResult reports where an inserted message landed.
type InsertResult struct {
	MessageID int64
	ThreadID  int64
}

// ReceiptType selects which receipt counter an acknowledgement feeds.
type ReceiptType int

const (
	ReceiptTypeDelivery ReceiptType = iota
	ReceiptTypeRead
)

func (t ReceiptType) String() string {
	if t == ReceiptTypeRead {
		return "read"
	}
	return "delivery"
}

// ExpirationInfo describes the disappearing-message state of a row that was
// just marked read, so callers can start expiration timers.
type ExpirationInfo struct {
	MessageID     int64
	ExpiresIn     int64
	ExpireStarted int64
}

// incomingTypeMask computes the stored bitmask for an incoming message.
func incomingTypeMask(msg *IncomingMessage) int64 {
	mask := BaseTypeInbox
	if msg.Push {
		mask |= PushBit
	}
	if msg.Secure {
		mask |= SecureBit
	}
	if msg.ExpirationTimerUpdate {
		mask |= ExpirationTimerUpdateBit
	}
	if msg.GroupUpdate {
		mask |= GroupUpdateBit
	}
	if msg.ScreenshotNotice {
		mask |= ScreenshotExtractionBit
	}
	if msg.MediaSavedNotice {
		mask |= MediaSavedExtractionBit
	}
	return mask
}

// outgoingTypeMask computes the stored bitmask for an outgoing message.
// Freshly inserted outgoing rows always start in the sending state; status
// transitions are applied later via masked updates.
func outgoingTypeMask(msg *OutgoingMessage) int64 {
	mask := BaseTypeSending
	if msg.Secure {
		mask |= SecureBit | PushBit
	}
	if msg.ForceFallback {
		mask |= ForceFallbackBit
	}
	if msg.GroupUpdate {
		mask |= GroupUpdateBit
	}
	if msg.GroupQuit {
		mask |= GroupQuitBit
	}
	if msg.ExpirationTimerUpdate {
		mask |= ExpirationTimerUpdateBit
	}
	return mask
}
