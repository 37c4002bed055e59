package mediastore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/quillchat/mediastore"
)

func drain(t *testing.T, r *mediastore.Reader) []mediastore.MessageRecord {
	t.Helper()
	defer r.Close()

	var out []mediastore.MessageRecord
	for {
		ok, err := r.Next(context.Background())
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if !ok {
			return out
		}
		out = append(out, r.Record())
	}
}

func TestConversationOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Inserted out of order; the reader yields newest received first.
	for _, ts := range []int64{3000, 1000, 2000} {
		m := incoming("alice", ts)
		m.ServerTimestamp = ts
		env.mustInsertIncoming(t, m)
	}

	res := env.mustInsertIncoming(t, func() *mediastore.IncomingMessage {
		m := incoming("alice", 4000)
		m.ServerTimestamp = 4000
		return m
	}())

	r, err := env.svc.Conversation(ctx, res.ThreadID)
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}
	records := drain(t, r)
	if len(records) != 4 {
		t.Fatalf("records = %d, want 4", len(records))
	}
	for i := 1; i < len(records); i++ {
		if records[i].DateReceived() > records[i-1].DateReceived() {
			t.Errorf("order violated at %d: %d after %d",
				i, records[i].DateReceived(), records[i-1].DateReceived())
		}
	}
}

func TestReaderMixedShapes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res := env.mustInsertIncoming(t, incoming("alice", 1000))
	if _, _, err := env.svc.InsertNotification(ctx, &mediastore.IncomingNotification{
		Address: "alice", ThreadID: res.ThreadID, SentTimestamp: 2000,
		ContentLocation: "http://mmsc/x",
	}); err != nil {
		t.Fatalf("insert notification: %v", err)
	}

	r, err := env.svc.Conversation(ctx, res.ThreadID)
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}
	records := drain(t, r)

	var placeholders, media int
	for _, rec := range records {
		switch rec.(type) {
		case *mediastore.PlaceholderRecord:
			placeholders++
		case *mediastore.MediaRecord:
			media++
		}
	}
	if placeholders != 1 || media != 1 {
		t.Errorf("shapes = %d placeholders, %d media", placeholders, media)
	}
}

func TestReaderClosed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res := env.mustInsertIncoming(t, incoming("alice", 1000))

	r, err := env.svc.Conversation(ctx, res.ThreadID)
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := r.Next(ctx); !errors.Is(err, mediastore.ErrReaderClosed) {
		t.Errorf("next after close = %v, want ErrReaderClosed", err)
	}
	// Close is idempotent.
	if err := r.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func TestUnnotified(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a := env.mustInsertIncoming(t, incoming("alice", 1000))
	env.mustInsertIncoming(t, incoming("bob", 2000))
	env.mustInsertOutgoing(t, outgoing("carol", 3000)) // own messages never notify

	if err := env.svc.MarkAsNotified(ctx, a.MessageID); err != nil {
		t.Fatalf("mark notified: %v", err)
	}

	r, err := env.svc.Unnotified(ctx)
	if err != nil {
		t.Fatalf("unnotified: %v", err)
	}
	records := drain(t, r)
	if len(records) != 1 {
		t.Fatalf("unnotified = %d records, want 1", len(records))
	}
	if records[0].Address() != "bob" {
		t.Errorf("unnotified sender = %q", records[0].Address())
	}
}

func TestExpireStartedMessages(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a := env.mustInsertIncoming(t, incoming("alice", 1000))
	env.mustInsertIncoming(t, incoming("alice", 2000))

	if err := env.svc.MarkExpireStarted(ctx, a.MessageID, 7000); err != nil {
		t.Fatalf("mark expire started: %v", err)
	}

	r, err := env.svc.ExpireStartedMessages(ctx)
	if err != nil {
		t.Fatalf("expire started: %v", err)
	}
	records := drain(t, r)
	if len(records) != 1 || records[0].ID() != a.MessageID {
		t.Errorf("expiring records = %+v", records)
	}
}

func TestGetOutgoingMessage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	msg := outgoing("bob", 5000)
	msg.Attachments = []*mediastore.Attachment{{FileName: "a.png", ContentType: "image/png"}}
	id := env.mustInsertOutgoing(t, msg)

	snap, err := env.svc.GetOutgoingMessage(ctx, id)
	if err != nil {
		t.Fatalf("get outgoing: %v", err)
	}
	if snap.Recipient != "bob" || snap.SentTimestamp != 5000 || snap.Body != "hi there" {
		t.Errorf("snapshot = %+v", snap)
	}
	if !snap.Secure {
		t.Error("secure flag lost in snapshot")
	}
	if len(snap.Attachments) != 1 {
		t.Errorf("attachments = %d", len(snap.Attachments))
	}

	// Incoming rows refuse the snapshot.
	res := env.mustInsertIncoming(t, incoming("alice", 1000))
	if _, err := env.svc.GetOutgoingMessage(ctx, res.MessageID); !errors.Is(err, mediastore.ErrNotOutgoing) {
		t.Errorf("got %v, want ErrNotOutgoing", err)
	}
	if _, err := env.svc.GetOutgoingMessage(ctx, 9999); !errors.Is(err, mediastore.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}
