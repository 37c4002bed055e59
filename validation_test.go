package mediastore

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateIncoming(t *testing.T) {
	valid := func() *IncomingMessage {
		return &IncomingMessage{Address: "alice", SentTimestamp: 1000, Body: "hi"}
	}

	tests := []struct {
		name    string
		mutate  func(*IncomingMessage)
		wantErr error
	}{
		{"valid", func(m *IncomingMessage) {}, nil},
		{"empty address", func(m *IncomingMessage) { m.Address = "" }, ErrInvalidAddress},
		{"zero timestamp", func(m *IncomingMessage) { m.SentTimestamp = 0 }, ErrInvalidTimestamp},
		{"negative timestamp", func(m *IncomingMessage) { m.SentTimestamp = -5 }, ErrInvalidTimestamp},
		{"oversized body", func(m *IncomingMessage) {
			m.Body = strings.Repeat("x", DefaultMaxBodySize+1)
		}, ErrBodyTooLarge},
		{"invalid utf8", func(m *IncomingMessage) { m.Body = "\xff\xfe" }, ErrInvalidBody},
		{"too many attachments", func(m *IncomingMessage) {
			for i := 0; i <= DefaultMaxAttachmentCount; i++ {
				m.Attachments = append(m.Attachments, &Attachment{FileName: "a.png"})
			}
		}, ErrTooManyAttachments},
		{"oversized attachment", func(m *IncomingMessage) {
			m.Attachments = []*Attachment{{FileName: "big.bin", Size: DefaultMaxAttachmentSize + 1}}
		}, ErrAttachmentTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := valid()
			tt.mutate(msg)
			err := ValidateIncoming(msg)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateOutgoing(t *testing.T) {
	if err := ValidateOutgoing(&OutgoingMessage{Recipient: "bob", SentTimestamp: 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateOutgoing(&OutgoingMessage{SentTimestamp: 1}); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("got %v, want ErrInvalidAddress", err)
	}
	if err := ValidateOutgoing(&OutgoingMessage{Recipient: "bob"}); !errors.Is(err, ErrInvalidTimestamp) {
		t.Errorf("got %v, want ErrInvalidTimestamp", err)
	}
}

func TestValidateWithCustomLimits(t *testing.T) {
	limits := MessageLimits{MaxBodySize: 4, MaxAttachmentSize: 10, MaxAttachmentCount: 1}

	msg := &IncomingMessage{Address: "alice", SentTimestamp: 1, Body: "hello"}
	if err := ValidateIncomingWithLimits(msg, limits); !errors.Is(err, ErrBodyTooLarge) {
		t.Errorf("got %v, want ErrBodyTooLarge", err)
	}

	msg = &IncomingMessage{
		Address: "alice", SentTimestamp: 1,
		Attachments: []*Attachment{{Data: []byte("0123456789AB")}},
	}
	if err := ValidateIncomingWithLimits(msg, limits); !errors.Is(err, ErrAttachmentTooLarge) {
		t.Errorf("got %v, want ErrAttachmentTooLarge", err)
	}
}
