package mediastore

import (
	"log/slog"
	"strings"
	"testing"
)

func TestDocumentRoundTrip(t *testing.T) {
	logger := slog.Default()

	in := []ContactCard{
		{
			Name:         "Ada Lovelace",
			Organization: "Analytical Engines",
			Phones:       []ContactPhone{{Number: "+15550001", Type: "mobile"}},
			Emails:       []string{"ada@example.com"},
			AvatarID:     7,
		},
		{Name: "Charles Babbage"},
	}

	raw, err := serializeDocument(in)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if !strings.Contains(raw, `"version":1`) {
		t.Errorf("envelope version missing from %s", raw)
	}

	out := parseDocument[ContactCard](logger, "shared_contacts", raw)
	if len(out) != 2 {
		t.Fatalf("parsed %d cards, want 2", len(out))
	}
	if out[0].Name != "Ada Lovelace" || out[0].AvatarID != 7 {
		t.Errorf("first card = %+v", out[0])
	}
	if len(out[0].Phones) != 1 || out[0].Phones[0].Number != "+15550001" {
		t.Errorf("phones = %+v", out[0].Phones)
	}
}

func TestDocumentEmptyList(t *testing.T) {
	raw, err := serializeDocument([]LinkPreview(nil))
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if raw != "" {
		t.Errorf("empty list serialized to %q, want empty string", raw)
	}
	if got := parseDocument[LinkPreview](slog.Default(), "link_previews", ""); got != nil {
		t.Errorf("parse of empty column = %v, want nil", got)
	}
}

func TestDocumentCorruptColumn(t *testing.T) {
	got := parseDocument[NetworkFailure](slog.Default(), "network_failures", "{not json")
	if got != nil {
		t.Errorf("corrupt column parsed as %v, want nil", got)
	}
}

func TestAppendDocumentElement(t *testing.T) {
	logger := slog.Default()

	raw, err := appendDocumentElement(logger, "network_failures", "", NetworkFailure{Address: "alice"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	raw, err = appendDocumentElement(logger, "network_failures", raw, NetworkFailure{Address: "bob"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	// Duplicates are skipped, leaving the column unchanged.
	same, err := appendDocumentElement(logger, "network_failures", raw, NetworkFailure{Address: "alice"})
	if err != nil {
		t.Fatalf("append duplicate: %v", err)
	}
	if same != raw {
		t.Errorf("duplicate append changed the column")
	}

	list := parseDocument[NetworkFailure](logger, "network_failures", raw)
	if len(list) != 2 {
		t.Errorf("list = %v, want 2 entries", list)
	}
}

func TestRemoveDocumentElement(t *testing.T) {
	logger := slog.Default()

	raw, _ := appendDocumentElement(logger, "identity_mismatches", "", IdentityMismatch{Address: "alice", IdentityKey: "k1"})
	raw, _ = appendDocumentElement(logger, "identity_mismatches", raw, IdentityMismatch{Address: "bob", IdentityKey: "k2"})

	out, changed, err := removeDocumentElement(logger, "identity_mismatches", raw, IdentityMismatch{Address: "alice", IdentityKey: "k1"})
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !changed {
		t.Fatal("remove reported no change")
	}
	list := parseDocument[IdentityMismatch](logger, "identity_mismatches", out)
	if len(list) != 1 || list[0].Address != "bob" {
		t.Errorf("list after remove = %v", list)
	}

	// Removing a missing element is a no-op.
	_, changed, err = removeDocumentElement(logger, "identity_mismatches", out, IdentityMismatch{Address: "carol"})
	if err != nil {
		t.Fatalf("remove missing: %v", err)
	}
	if changed {
		t.Error("remove of missing element reported change")
	}
}
