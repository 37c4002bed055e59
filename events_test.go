package mediastore_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rbaliyan/event/v3"
	"github.com/redis/go-redis/v9"

	"github.com/quillchat/mediastore"
)

func TestEventsNoopByDefault(t *testing.T) {
	env := newTestEnv(t)

	// With no transport configured, publishes are dropped but never fail
	// the write path.
	env.mustInsertIncoming(t, incoming("alice", 1000))
	if env.svc.Events() == nil {
		t.Fatal("events not initialized")
	}
}

func TestEventsOverRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	env := newTestEnv(t, mediastore.WithRedisClient(client))
	ctx := context.Background()

	inserted := make(chan mediastore.MessageInsertedEvent, 4)
	err := env.svc.Events().MessageInserted.Subscribe(ctx,
		func(_ context.Context, _ event.Event[mediastore.MessageInsertedEvent], data mediastore.MessageInsertedEvent) error {
			inserted <- data
			return nil
		})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	res := env.mustInsertIncoming(t, incoming("alice", 1000))

	select {
	case data := <-inserted:
		if data.MessageID != res.MessageID || data.ThreadID != res.ThreadID {
			t.Errorf("event = %+v, want message %d in thread %d", data, res.MessageID, res.ThreadID)
		}
		if data.Outgoing {
			t.Error("incoming insert flagged outgoing")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("MessageInserted event not delivered")
	}
}

func TestEventsDeleteOverRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	env := newTestEnv(t, mediastore.WithRedisClient(client))
	ctx := context.Background()

	deleted := make(chan mediastore.MessageDeletedEvent, 1)
	err := env.svc.Events().MessageDeleted.Subscribe(ctx,
		func(_ context.Context, _ event.Event[mediastore.MessageDeletedEvent], data mediastore.MessageDeletedEvent) error {
			deleted <- data
			return nil
		})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	res := env.mustInsertIncoming(t, incoming("alice", 1000))
	if err := env.svc.DeleteMessage(ctx, res.MessageID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	select {
	case data := <-deleted:
		if data.MessageID != res.MessageID {
			t.Errorf("event = %+v", data)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("MessageDeleted event not delivered")
	}
}

func TestEventPublishFailureHandler(t *testing.T) {
	// The failure handler is invoked instead of failing the operation.
	failures := make(chan string, 8)
	env := newTestEnv(t,
		mediastore.WithEventPublishFailureHandler(func(eventName string, err error) {
			failures <- eventName
		}))

	// The noop transport accepts publishes, so no failures are expected;
	// the write path must stay healthy either way.
	env.mustInsertIncoming(t, incoming("alice", 1000))
	select {
	case name := <-failures:
		t.Logf("publish failure reported for %s", name)
	default:
	}
}

func TestConversationListenerCallbacks(t *testing.T) {
	env := newTestEnv(t)

	res := env.mustInsertIncoming(t, incoming("alice", 1000))

	updates := env.listener.updates()
	if len(updates) == 0 {
		t.Fatal("no conversation updates fired")
	}
	if updates[len(updates)-1] != res.ThreadID {
		t.Errorf("last update for thread %d, want %d", updates[len(updates)-1], res.ThreadID)
	}
}
