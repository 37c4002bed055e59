package mediastore_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/quillchat/mediastore"
	"github.com/quillchat/mediastore/attachments"
	"github.com/quillchat/mediastore/receipts"
	"github.com/quillchat/mediastore/threads"
)

func TestNewServiceRequiredOptions(t *testing.T) {
	db, err := mediastore.Open(filepath.Join(t.TempDir(), "messages.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	th := threads.New(db)
	at := attachments.New(db)
	rc := receipts.New(db)

	tests := []struct {
		name    string
		opts    []mediastore.Option
		wantErr error
	}{
		{"no db", nil, mediastore.ErrDBRequired},
		{"no attachment store", []mediastore.Option{
			mediastore.WithDB(db),
		}, mediastore.ErrAttachmentStoreRequired},
		{"no thread registry", []mediastore.Option{
			mediastore.WithDB(db),
			mediastore.WithAttachmentStore(at),
		}, mediastore.ErrThreadRegistryRequired},
		{"no receipt registry", []mediastore.Option{
			mediastore.WithDB(db),
			mediastore.WithAttachmentStore(at),
			mediastore.WithThreadRegistry(th),
		}, mediastore.ErrReceiptRegistryRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := mediastore.NewService(tt.opts...)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("got %v, want %v", err, tt.wantErr)
			}
		})
	}

	svc, err := mediastore.NewService(
		mediastore.WithDB(db),
		mediastore.WithAttachmentStore(at),
		mediastore.WithThreadRegistry(th),
		mediastore.WithReceiptRegistry(rc),
	)
	if err != nil {
		t.Fatalf("all options provided: %v", err)
	}
	if svc.IsConnected() {
		t.Error("connected before Connect")
	}
}

func TestConnectLifecycle(t *testing.T) {
	ctx := context.Background()

	db, err := mediastore.Open(filepath.Join(t.TempDir(), "messages.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	svc, err := mediastore.NewService(
		mediastore.WithDB(db),
		mediastore.WithAttachmentStore(attachments.New(db)),
		mediastore.WithThreadRegistry(threads.New(db)),
		mediastore.WithReceiptRegistry(receipts.New(db)),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	// Operations before Connect fail fast.
	if _, _, err := svc.InsertIncoming(ctx, incoming("alice", 1000)); !errors.Is(err, mediastore.ErrNotConnected) {
		t.Errorf("insert before connect: got %v, want ErrNotConnected", err)
	}

	if err := svc.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !svc.IsConnected() {
		t.Error("not connected after Connect")
	}
	if err := svc.Connect(ctx); !errors.Is(err, mediastore.ErrAlreadyConnected) {
		t.Errorf("second connect: got %v, want ErrAlreadyConnected", err)
	}
	if svc.Events() == nil {
		t.Error("events not initialized after Connect")
	}

	if err := svc.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if svc.IsConnected() {
		t.Error("still connected after Close")
	}
	// Close is idempotent.
	if err := svc.Close(ctx); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func TestConnectMigratesSchema(t *testing.T) {
	env := newTestEnv(t)

	// The migrated schema accepts a full insert/read cycle.
	res := env.mustInsertIncoming(t, incoming("alice", 1000))
	rec := env.record(t, res.MessageID)
	if rec.Body() != "hello" {
		t.Errorf("body = %q", rec.Body())
	}
}
