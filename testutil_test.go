package mediastore_test

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/quillchat/mediastore"
	"github.com/quillchat/mediastore/attachments"
	"github.com/quillchat/mediastore/receipts"
	"github.com/quillchat/mediastore/threads"
)

// recordingListener captures conversation change callbacks.
type recordingListener struct {
	mu          sync.Mutex
	updated     []int64
	listChanged int
}

func (l *recordingListener) ConversationUpdated(threadID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.updated = append(l.updated, threadID)
}

func (l *recordingListener) ConversationListUpdated() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listChanged++
}

func (l *recordingListener) updates() []int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int64(nil), l.updated...)
}

func (l *recordingListener) listUpdates() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.listChanged
}

type testEnv struct {
	svc         *mediastore.Service
	db          *sqlx.DB
	threads     *threads.Registry
	attachments *attachments.Store
	receipts    *receipts.Registry
	listener    *recordingListener
}

// newTestEnv builds a connected service over a fresh on-disk database with
// real collaborator implementations.
func newTestEnv(t *testing.T, opts ...mediastore.Option) *testEnv {
	t.Helper()

	db, err := mediastore.Open(filepath.Join(t.TempDir(), "messages.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}

	th := threads.New(db)
	at := attachments.New(db)
	rc := receipts.New(db)
	listener := &recordingListener{}

	base := []mediastore.Option{
		mediastore.WithDB(db),
		mediastore.WithAttachmentStore(at),
		mediastore.WithThreadRegistry(th),
		mediastore.WithReceiptRegistry(rc),
		mediastore.WithListener(listener),
	}
	svc, err := mediastore.NewService(append(base, opts...)...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if err := svc.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() {
		svc.Close(context.Background())
		db.Close()
	})

	return &testEnv{
		svc:         svc,
		db:          db,
		threads:     th,
		attachments: at,
		receipts:    rc,
		listener:    listener,
	}
}

// timestampSeq hands out distinct sent timestamps within a test binary.
var timestampSeq int64 = 1_000_000

func nextTimestamp() int64 {
	return atomic.AddInt64(&timestampSeq, 1)
}

func incoming(address string, sentAt int64) *mediastore.IncomingMessage {
	return &mediastore.IncomingMessage{
		Address:       address,
		ThreadID:      -1,
		Body:          "hello",
		SentTimestamp: sentAt,
		Push:          true,
		Secure:        true,
	}
}

func outgoing(recipient string, sentAt int64) *mediastore.OutgoingMessage {
	return &mediastore.OutgoingMessage{
		Recipient:     recipient,
		ThreadID:      -1,
		Body:          "hi there",
		SentTimestamp: sentAt,
		Secure:        true,
	}
}

// mustInsertIncoming inserts and fails the test on error or suppression.
func (e *testEnv) mustInsertIncoming(t *testing.T, msg *mediastore.IncomingMessage) *mediastore.InsertResult {
	t.Helper()
	res, inserted, err := e.svc.InsertIncoming(context.Background(), msg)
	if err != nil {
		t.Fatalf("insert incoming: %v", err)
	}
	if !inserted {
		t.Fatal("insert incoming: unexpectedly suppressed")
	}
	return res
}

// mustInsertOutgoing inserts and fails the test on error or suppression.
func (e *testEnv) mustInsertOutgoing(t *testing.T, msg *mediastore.OutgoingMessage) int64 {
	t.Helper()
	id, inserted, err := e.svc.InsertOutgoing(context.Background(), msg)
	if err != nil {
		t.Fatalf("insert outgoing: %v", err)
	}
	if !inserted {
		t.Fatal("insert outgoing: unexpectedly suppressed")
	}
	return id
}

// record loads one decoded record.
func (e *testEnv) record(t *testing.T, id int64) mediastore.MessageRecord {
	t.Helper()
	rec, err := e.svc.GetMessageRecord(context.Background(), id)
	if err != nil {
		t.Fatalf("get record %d: %v", id, err)
	}
	return rec
}
