package mediastore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/quillchat/mediastore"
)

func TestStatusTransitions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id := env.mustInsertOutgoing(t, outgoing("bob", 5000))

	steps := []struct {
		name string
		fn   func(context.Context, int64) error
		want int64
	}{
		{"sent", env.svc.MarkAsSent, mediastore.BaseTypeSent},
		{"failed", env.svc.MarkAsSentFailed, mediastore.BaseTypeSentFailed},
		{"sending again", env.svc.MarkAsSending, mediastore.BaseTypeSending},
		{"pending secure", env.svc.MarkAsPendingSecureFallback, mediastore.BaseTypePendingSecureFallback},
		{"pending insecure", env.svc.MarkAsPendingInsecureFallback, mediastore.BaseTypePendingInsecureFallback},
	}
	for _, step := range steps {
		t.Run(step.name, func(t *testing.T) {
			if err := step.fn(ctx, id); err != nil {
				t.Fatalf("transition: %v", err)
			}
			rec := env.record(t, id)
			if got := mediastore.BaseType(rec.TypeMask()); got != step.want {
				t.Errorf("base type = %d, want %d", got, step.want)
			}
			// Flag regions survive every base transition.
			if !rec.IsSecure() {
				t.Error("secure bit clobbered by base transition")
			}
		})
	}
}

func TestUpdateTypeBitmaskNotFound(t *testing.T) {
	env := newTestEnv(t)
	err := env.svc.MarkAsSent(context.Background(), 9999)
	if !errors.Is(err, mediastore.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestMaskedUpdatesDisjointRegionsCommute(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	finalMask := func(t *testing.T, baseFirst bool) int64 {
		id := env.mustInsertOutgoing(t, &mediastore.OutgoingMessage{
			Recipient:     "bob",
			ThreadID:      -1,
			Body:          "x",
			SentTimestamp: nextTimestamp(),
		})
		base := func() {
			if err := env.svc.UpdateTypeBitmask(ctx, id, mediastore.BaseTypeMask, mediastore.BaseTypeSent); err != nil {
				t.Fatalf("base update: %v", err)
			}
		}
		flag := func() {
			if err := env.svc.UpdateTypeBitmask(ctx, id, 0, mediastore.SecureBit); err != nil {
				t.Fatalf("flag update: %v", err)
			}
		}
		if baseFirst {
			base()
			flag()
		} else {
			flag()
			base()
		}
		return env.record(t, id).TypeMask()
	}

	a := finalMask(t, true)
	b := finalMask(t, false)
	if a != b {
		t.Errorf("disjoint masked updates order dependent: %#x vs %#x", a, b)
	}
	if mediastore.BaseType(a) != mediastore.BaseTypeSent || a&mediastore.SecureBit == 0 {
		t.Errorf("final mask = %#x", a)
	}
}

func TestMarkAsDeletedSoftDelete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res := env.mustInsertIncoming(t, incoming("alice", 1000))

	if err := env.svc.MarkAsDeleted(ctx, res.MessageID); err != nil {
		t.Fatalf("soft delete: %v", err)
	}

	rec := env.record(t, res.MessageID)
	if !mediastore.IsDeletedType(rec.TypeMask()) {
		t.Error("base type not deleted")
	}
	if rec.Body() != "" {
		t.Errorf("body survived soft delete: %q", rec.Body())
	}
	if !rec.IsRead() {
		t.Error("soft-deleted message still unread")
	}

	// The unread counter is reconciled.
	thread, err := env.threads.Get(ctx, res.ThreadID)
	if err != nil {
		t.Fatalf("get thread: %v", err)
	}
	if thread.UnreadCount != 0 {
		t.Errorf("unread = %d, want 0", thread.UnreadCount)
	}
}

func TestSoftDeleteQuoteCascade(t *testing.T) {
	env := newTestEnv(t)

	// Message A at timestamp 1000, quoted by message B.
	a := env.mustInsertIncoming(t, incoming("alice", 1000))

	b := incoming("bob", 2000)
	b.Quote = &mediastore.Quote{ID: 1000, Author: "alice", Text: "original words"}
	bRes := env.mustInsertIncoming(t, b)

	if err := env.svc.MarkAsDeleted(context.Background(), a.MessageID); err != nil {
		t.Fatalf("delete quoted message: %v", err)
	}

	media := env.record(t, bRes.MessageID).(*mediastore.MediaRecord)
	if media.Quote == nil {
		t.Fatal("quote lost")
	}
	if !media.Quote.Missing {
		t.Error("quote not flagged missing after quoted message deleted")
	}
	// The denormalized snapshot survives as a placeholder.
	if media.Quote.Author != "alice" || media.Quote.Text != "original words" {
		t.Errorf("quote snapshot changed: %+v", media.Quote)
	}
}

func TestSetMessagesRead(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	m1 := incoming("alice", 1000)
	m1.ExpiresIn = 30000
	res1 := env.mustInsertIncoming(t, m1)
	env.mustInsertIncoming(t, incoming("alice", 2000))

	infos, err := env.svc.SetMessagesRead(ctx, res1.ThreadID)
	if err != nil {
		t.Fatalf("set read: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("flipped %d rows, want 2", len(infos))
	}

	// Expiration info for the disappearing message is reported.
	found := false
	for _, info := range infos {
		if info.MessageID == res1.MessageID {
			found = true
			if info.ExpiresIn != 30000 {
				t.Errorf("expires_in = %d", info.ExpiresIn)
			}
		}
	}
	if !found {
		t.Error("expiring message missing from result")
	}

	thread, err := env.threads.Get(ctx, res1.ThreadID)
	if err != nil {
		t.Fatalf("get thread: %v", err)
	}
	if thread.UnreadCount != 0 {
		t.Errorf("unread = %d, want 0", thread.UnreadCount)
	}

	// Second call is a no-op.
	infos, err = env.svc.SetMessagesRead(ctx, res1.ThreadID)
	if err != nil {
		t.Fatalf("second set read: %v", err)
	}
	if len(infos) != 0 {
		t.Errorf("second call flipped %d rows", len(infos))
	}
}

func TestSetAllMessagesRead(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	r1 := env.mustInsertIncoming(t, incoming("alice", 1000))
	r2 := env.mustInsertIncoming(t, incoming("bob", 2000))

	infos, err := env.svc.SetAllMessagesRead(ctx)
	if err != nil {
		t.Fatalf("set all read: %v", err)
	}
	if len(infos) != 2 {
		t.Errorf("flipped %d rows, want 2", len(infos))
	}
	for _, threadID := range []int64{r1.ThreadID, r2.ThreadID} {
		thread, err := env.threads.Get(ctx, threadID)
		if err != nil {
			t.Fatalf("get thread: %v", err)
		}
		if thread.UnreadCount != 0 {
			t.Errorf("thread %d unread = %d", threadID, thread.UnreadCount)
		}
	}
}

func TestMarkExpireStarted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res := env.mustInsertIncoming(t, incoming("alice", 1000))

	if err := env.svc.MarkExpireStarted(ctx, res.MessageID, 5000); err != nil {
		t.Fatalf("mark expire started: %v", err)
	}
	media := env.record(t, res.MessageID).(*mediastore.MediaRecord)
	if media.ExpireStarted != 5000 {
		t.Errorf("expire_started = %d, want 5000", media.ExpireStarted)
	}

	// A later timestamp never restarts the countdown.
	if err := env.svc.MarkExpireStarted(ctx, res.MessageID, 9000); err != nil {
		t.Fatalf("second mark: %v", err)
	}
	media = env.record(t, res.MessageID).(*mediastore.MediaRecord)
	if media.ExpireStarted != 5000 {
		t.Errorf("expire_started moved to %d", media.ExpireStarted)
	}

	// An earlier one wins.
	if err := env.svc.MarkExpireStarted(ctx, res.MessageID, 3000); err != nil {
		t.Fatalf("third mark: %v", err)
	}
	media = env.record(t, res.MessageID).(*mediastore.MediaRecord)
	if media.ExpireStarted != 3000 {
		t.Errorf("expire_started = %d, want 3000", media.ExpireStarted)
	}
}

func TestUpdateSentTimestamp(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id := env.mustInsertOutgoing(t, outgoing("bob", 5000))
	if err := env.svc.UpdateSentTimestamp(ctx, id, 5555); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := env.record(t, id).DateSent(); got != 5555 {
		t.Errorf("date sent = %d, want 5555", got)
	}
	if err := env.svc.UpdateSentTimestamp(ctx, 9999, 1); !errors.Is(err, mediastore.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestMarkUnidentified(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res := env.mustInsertIncoming(t, incoming("alice", 1000))
	if env.record(t, res.MessageID).(*mediastore.MediaRecord).Unidentified {
		t.Error("message born unidentified")
	}

	if err := env.svc.MarkUnidentified(ctx, res.MessageID, true); err != nil {
		t.Fatalf("mark unidentified: %v", err)
	}
	if !env.record(t, res.MessageID).(*mediastore.MediaRecord).Unidentified {
		t.Error("unidentified flag not set")
	}

	if err := env.svc.MarkUnidentified(ctx, res.MessageID, false); err != nil {
		t.Fatalf("clear unidentified: %v", err)
	}
	if env.record(t, res.MessageID).(*mediastore.MediaRecord).Unidentified {
		t.Error("unidentified flag not cleared")
	}

	if err := env.svc.MarkUnidentified(ctx, 9999, true); !errors.Is(err, mediastore.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestNetworkFailureDocumentOps(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id := env.mustInsertOutgoing(t, outgoing("bob", 5000))

	if err := env.svc.AddNetworkFailure(ctx, id, mediastore.NetworkFailure{Address: "bob"}); err != nil {
		t.Fatalf("add failure: %v", err)
	}
	// Adding the same failure twice stores it once.
	if err := env.svc.AddNetworkFailure(ctx, id, mediastore.NetworkFailure{Address: "bob"}); err != nil {
		t.Fatalf("add duplicate: %v", err)
	}

	media := env.record(t, id).(*mediastore.MediaRecord)
	if len(media.NetworkFailures) != 1 {
		t.Fatalf("failures = %v, want 1", media.NetworkFailures)
	}

	if err := env.svc.RemoveNetworkFailure(ctx, id, mediastore.NetworkFailure{Address: "bob"}); err != nil {
		t.Fatalf("remove failure: %v", err)
	}
	media = env.record(t, id).(*mediastore.MediaRecord)
	if len(media.NetworkFailures) != 0 {
		t.Errorf("failures after remove = %v", media.NetworkFailures)
	}
}

func TestIdentityMismatchDocumentOps(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id := env.mustInsertOutgoing(t, outgoing("bob", 5000))
	mismatch := mediastore.IdentityMismatch{Address: "bob", IdentityKey: "key-1"}

	if err := env.svc.AddIdentityMismatch(ctx, id, mismatch); err != nil {
		t.Fatalf("add mismatch: %v", err)
	}
	media := env.record(t, id).(*mediastore.MediaRecord)
	if len(media.IdentityMismatches) != 1 || media.IdentityMismatches[0].IdentityKey != "key-1" {
		t.Fatalf("mismatches = %v", media.IdentityMismatches)
	}

	if err := env.svc.RemoveIdentityMismatch(ctx, id, mismatch); err != nil {
		t.Fatalf("remove mismatch: %v", err)
	}
	media = env.record(t, id).(*mediastore.MediaRecord)
	if len(media.IdentityMismatches) != 0 {
		t.Errorf("mismatches after remove = %v", media.IdentityMismatches)
	}

	if err := env.svc.AddIdentityMismatch(ctx, 9999, mismatch); !errors.Is(err, mediastore.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}
