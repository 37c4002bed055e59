package mediastore

import (
	"encoding/json"
	"fmt"
	"log/slog"
)

// documentVersion is the envelope version written for all embedded documents.
// Bump only with a migration path for existing columns.
const documentVersion = 1

// document is the envelope persisted into an embedded-document text column.
// Sub-documents are serialized arrays inside a single column, not join rows,
// so the envelope carries its own version.
type document[T any] struct {
	Version int `json:"version"`
	List    []T `json:"list"`
}

// Quote is a denormalized snapshot of another message, embedded at insert
// time for display as a reply reference. The snapshot is copied, not joined:
// the quoted message may be deleted later, in which case Missing is set and
// the text/author survive as a placeholder.
type Quote struct {
	// ID is the quoted message's original sent timestamp.
	ID      int64
	Author  string
	Text    string
	Missing bool

	// Attachments are copies flagged as quote-owned in the attachment store.
	Attachments []*Attachment
}

// ContactCard is a shared contact embedded in a message.
type ContactCard struct {
	Name         string         `json:"name"`
	Organization string         `json:"organization,omitempty"`
	Phones       []ContactPhone `json:"phones,omitempty"`
	Emails       []string       `json:"emails,omitempty"`

	// AvatarID references the avatar attachment once one is assigned.
	AvatarID      int64 `json:"avatar_id,omitempty"`
	AvatarProfile bool  `json:"avatar_profile,omitempty"`

	// Avatar carries the attachment before an identifier exists. It is
	// resolved to AvatarID during the second insert phase and restored
	// from the attachment join during decode.
	Avatar *Attachment `json:"-"`
}

// ContactPhone is one phone entry of a shared contact.
type ContactPhone struct {
	Number string `json:"number"`
	Type   string `json:"type,omitempty"`
}

// LinkPreview is a fetched URL preview embedded in a message.
type LinkPreview struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`

	// AttachmentID references the thumbnail attachment once one is assigned.
	AttachmentID int64 `json:"attachment_id,omitempty"`

	// Thumbnail carries the attachment before an identifier exists; see
	// ContactCard.Avatar.
	Thumbnail *Attachment `json:"-"`
}

// NetworkFailure records a per-recipient send failure.
type NetworkFailure struct {
	Address string `json:"address"`
}

// IdentityMismatch records a per-recipient identity key conflict.
type IdentityMismatch struct {
	Address     string `json:"address"`
	IdentityKey string `json:"identity_key,omitempty"`
}

// serializeDocument encodes a list into its column form.
// An empty list serializes to the empty string.
func serializeDocument[T any](list []T) (string, error) {
	if len(list) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(document[T]{Version: documentVersion, List: list})
	if err != nil {
		return "", fmt.Errorf("serialize document: %w", err)
	}
	return string(raw), nil
}

// parseDocument decodes an embedded-document column. Corrupt payloads are
// logged and decoded as an empty list: availability of the rest of the
// record wins over strict validation, so decode corruption never surfaces
// to callers.
func parseDocument[T any](logger *slog.Logger, column, raw string) []T {
	if raw == "" {
		return nil
	}
	var doc document[T]
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		logger.Warn("corrupt embedded document, treating as empty",
			"column", column,
			"error", err,
		)
		return nil
	}
	return doc.List
}

// appendDocumentElement adds one element to a serialized document column,
// skipping elements already present.
func appendDocumentElement[T comparable](logger *slog.Logger, column, raw string, elem T) (string, error) {
	list := parseDocument[T](logger, column, raw)
	for _, e := range list {
		if e == elem {
			return raw, nil
		}
	}
	return serializeDocument(append(list, elem))
}

// removeDocumentElement removes one element from a serialized document
// column. Reports whether the column changed.
func removeDocumentElement[T comparable](logger *slog.Logger, column, raw string, elem T) (string, bool, error) {
	list := parseDocument[T](logger, column, raw)
	for i, e := range list {
		if e == elem {
			out, err := serializeDocument(append(list[:i:i], list[i+1:]...))
			if err != nil {
				return raw, false, err
			}
			return out, true, nil
		}
	}
	return raw, false, nil
}
