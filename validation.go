package mediastore

import (
	"fmt"
	"unicode/utf8"
)

// Default message limits.
const (
	DefaultMaxBodySize        = 64 * 1024         // 64 KiB of text
	DefaultMaxAttachmentSize  = 100 * 1024 * 1024 // 100 MiB per attachment
	DefaultMaxAttachmentCount = 32
)

// MessageLimits holds message validation limits.
type MessageLimits struct {
	MaxBodySize        int
	MaxAttachmentSize  int64
	MaxAttachmentCount int
}

// DefaultLimits returns the default message limits.
func DefaultLimits() MessageLimits {
	return MessageLimits{
		MaxBodySize:        DefaultMaxBodySize,
		MaxAttachmentSize:  DefaultMaxAttachmentSize,
		MaxAttachmentCount: DefaultMaxAttachmentCount,
	}
}

// ValidateIncoming checks an incoming message against default limits.
func ValidateIncoming(msg *IncomingMessage) error {
	return ValidateIncomingWithLimits(msg, DefaultLimits())
}

// ValidateIncomingWithLimits checks an incoming message against limits.
func ValidateIncomingWithLimits(msg *IncomingMessage, limits MessageLimits) error {
	if msg.Address == "" {
		return fmt.Errorf("%w: empty sender", ErrInvalidAddress)
	}
	if msg.SentTimestamp <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidTimestamp, msg.SentTimestamp)
	}
	if err := validateBody(msg.Body, limits); err != nil {
		return err
	}
	return validateAttachments(msg.Attachments, limits)
}

// ValidateOutgoing checks an outgoing message against default limits.
func ValidateOutgoing(msg *OutgoingMessage) error {
	return ValidateOutgoingWithLimits(msg, DefaultLimits())
}

// ValidateOutgoingWithLimits checks an outgoing message against limits.
func ValidateOutgoingWithLimits(msg *OutgoingMessage, limits MessageLimits) error {
	if msg.Recipient == "" {
		return fmt.Errorf("%w: empty recipient", ErrInvalidAddress)
	}
	if msg.SentTimestamp <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidTimestamp, msg.SentTimestamp)
	}
	if err := validateBody(msg.Body, limits); err != nil {
		return err
	}
	return validateAttachments(msg.Attachments, limits)
}

// ValidateNotification checks a placeholder notification.
func ValidateNotification(msg *IncomingNotification) error {
	if msg.Address == "" {
		return fmt.Errorf("%w: empty sender", ErrInvalidAddress)
	}
	if msg.SentTimestamp <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidTimestamp, msg.SentTimestamp)
	}
	return nil
}

func validateBody(body string, limits MessageLimits) error {
	if len(body) > limits.MaxBodySize {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrBodyTooLarge, len(body), limits.MaxBodySize)
	}
	if !utf8.ValidString(body) {
		return fmt.Errorf("%w: not valid UTF-8", ErrInvalidBody)
	}
	return nil
}

func validateAttachments(atts []*Attachment, limits MessageLimits) error {
	if len(atts) > limits.MaxAttachmentCount {
		return fmt.Errorf("%w: %d (max %d)", ErrTooManyAttachments, len(atts), limits.MaxAttachmentCount)
	}
	for _, a := range atts {
		size := a.Size
		if size == 0 {
			size = int64(len(a.Data))
		}
		if size > limits.MaxAttachmentSize {
			return fmt.Errorf("%w: %q is %d bytes (max %d)",
				ErrAttachmentTooLarge, a.FileName, size, limits.MaxAttachmentSize)
		}
	}
	return nil
}
