package mediastore

import "errors"

// Sentinel errors for the mediastore package.
// Use errors.Is() to check for these errors.
//
// Note that a suppressed duplicate insert is not an error: InsertIncoming
// and InsertOutgoing report it through their boolean return instead, since
// replay-resistant delivery makes dropped duplicates an expected outcome.
var (
	// ErrNotFound is returned when a message id has no row.
	ErrNotFound = errors.New("mediastore: message not found")

	// ErrNotConnected is returned when operations are attempted before Connect().
	ErrNotConnected = errors.New("mediastore: not connected")

	// ErrAlreadyConnected is returned when Connect() is called twice.
	ErrAlreadyConnected = errors.New("mediastore: already connected")

	// ErrDBRequired is returned when no database handle is configured.
	ErrDBRequired = errors.New("mediastore: database handle is required")

	// ErrAttachmentStoreRequired is returned when no attachment store is configured.
	ErrAttachmentStoreRequired = errors.New("mediastore: attachment store is required")

	// ErrThreadRegistryRequired is returned when no thread registry is configured.
	ErrThreadRegistryRequired = errors.New("mediastore: thread registry is required")

	// ErrReceiptRegistryRequired is returned when no receipt registry is configured.
	ErrReceiptRegistryRequired = errors.New("mediastore: receipt registry is required")

	// ErrInvalidAddress is returned when a sender or recipient address is empty.
	ErrInvalidAddress = errors.New("mediastore: invalid address")

	// ErrThreadResolution is returned when a sender or group address could not
	// be resolved to a thread and no thread id was hinted.
	ErrThreadResolution = errors.New("mediastore: could not resolve thread")

	// ErrNotOutgoing is returned when an outgoing-message snapshot is requested
	// for a message that was not locally originated.
	ErrNotOutgoing = errors.New("mediastore: message is not outgoing")

	// ErrReaderClosed is returned when a closed Reader is advanced.
	ErrReaderClosed = errors.New("mediastore: reader is closed")

	// ErrInvalidTimestamp is returned when a message carries no sent timestamp.
	ErrInvalidTimestamp = errors.New("mediastore: invalid sent timestamp")

	// ErrBodyTooLarge is returned when a message body exceeds the limit.
	ErrBodyTooLarge = errors.New("mediastore: message body too large")

	// ErrInvalidBody is returned when a message body is not valid UTF-8.
	ErrInvalidBody = errors.New("mediastore: invalid message body")

	// ErrTooManyAttachments is returned when a message exceeds the attachment
	// count limit.
	ErrTooManyAttachments = errors.New("mediastore: too many attachments")

	// ErrAttachmentTooLarge is returned when one attachment exceeds the size
	// limit.
	ErrAttachmentTooLarge = errors.New("mediastore: attachment too large")
)
