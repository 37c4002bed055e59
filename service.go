package mediastore

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rbaliyan/event/v3"
	"github.com/rbaliyan/event/v3/transport/noop"
	eventredis "github.com/rbaliyan/event/v3/transport/redis"
	"golang.org/x/sync/semaphore"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Connection states.
const (
	stateDisconnected int32 = 0
	stateConnecting   int32 = 1
	stateConnected    int32 = 2
)

// Open opens the backing sqlite database with the pragmas the store expects:
// WAL journaling for concurrent readers, a busy timeout so contending writers
// queue instead of failing, and foreign key enforcement.
func Open(path string) (*sqlx.DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// Service is the message store and receipt reconciliation engine. It owns
// the message table; attachments, threads and per-recipient receipts are
// delegated to the configured collaborators.
//
// The service is safe for concurrent callers. Conflicting writes serialize
// through the storage engine's transactions; multi-step writes are atomic,
// so no reader observes a half-written message.
type Service struct {
	opts   *options
	logger *slog.Logger

	db          *sqlx.DB
	attachments AttachmentStore
	threads     ThreadRegistry
	receipts    ReceiptRegistry

	state int32 // stateDisconnected, stateConnecting, or stateConnected

	// Early receipt caches, one per counter, keyed by sent timestamp.
	earlyDelivery *earlyReceiptCache
	earlyRead     *earlyReceiptCache

	// Async attachment cleanup workers, bounded by cleanupSem.
	cleanupSem *semaphore.Weighted
	cleanupWG  sync.WaitGroup

	eventBus *event.Bus
	events   *ServiceEvents

	stats statsCache

	otel *otelInstrumentation
}

// NewService creates a new message store service.
// WithDB, WithAttachmentStore, WithThreadRegistry and WithReceiptRegistry
// are required. Call Connect before use.
func NewService(opts ...Option) (*Service, error) {
	o := newOptions(opts...)
	if o.db == nil {
		return nil, ErrDBRequired
	}
	if o.attachments == nil {
		return nil, ErrAttachmentStoreRequired
	}
	if o.threads == nil {
		return nil, ErrThreadRegistryRequired
	}
	if o.receipts == nil {
		return nil, ErrReceiptRegistryRequired
	}

	inst, err := newOtelInstrumentation(o)
	if err != nil {
		return nil, fmt.Errorf("init instrumentation: %w", err)
	}

	return &Service{
		opts:          o,
		logger:        o.logger,
		db:            o.db,
		attachments:   o.attachments,
		threads:       o.threads,
		receipts:      o.receipts,
		earlyDelivery: newEarlyReceiptCache(o.earlyReceiptCacheSize, o.earlyReceiptMaxAge),
		earlyRead:     newEarlyReceiptCache(o.earlyReceiptCacheSize, o.earlyReceiptMaxAge),
		cleanupSem:    semaphore.NewWeighted(int64(o.maxConcurrentCleanups)),
		otel:          inst,
	}, nil
}

// IsConnected returns true if the service is connected and ready.
func (s *Service) IsConnected() bool {
	return atomic.LoadInt32(&s.state) == stateConnected
}

// Connect pings the database, applies schema migrations, and initializes
// the event bus.
func (s *Service) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.state, stateDisconnected, stateConnecting) {
		return ErrAlreadyConnected
	}

	connected := false
	defer func() {
		if connected {
			atomic.StoreInt32(&s.state, stateConnected)
		} else {
			atomic.StoreInt32(&s.state, stateDisconnected)
		}
	}()

	pingCtx, cancel := context.WithTimeout(ctx, s.opts.connectTimeout)
	defer cancel()

	if err := s.db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	if err := s.migrateSchema(); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}

	if err := s.initEventBus(ctx); err != nil {
		return fmt.Errorf("init event bus: %w", err)
	}

	s.logger.Info("message store connected")
	connected = true
	return nil
}

// Close waits for queued attachment cleanups up to the shutdown timeout and
// releases the event bus. The caller owns the database handle.
func (s *Service) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.state, stateConnected, stateDisconnected) {
		return nil
	}

	done := make(chan struct{})
	go func() {
		s.cleanupWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.opts.shutdownTimeout):
		s.logger.Warn("shutdown timeout waiting for attachment cleanup workers")
	case <-ctx.Done():
		s.logger.Warn("shutdown canceled waiting for attachment cleanup workers", "error", ctx.Err())
	}

	// Close the event bus only for real transports. The noop bus holds no
	// resources and closing it would race with concurrent publishers.
	if s.eventBus != nil && (s.opts.eventTransport != nil || s.opts.redisClient != nil) {
		if err := s.eventBus.Close(ctx); err != nil {
			return fmt.Errorf("close event bus: %w", err)
		}
	}

	s.logger.Info("message store closed")
	return nil
}

// Events returns the per-service event instances. Valid after Connect.
func (s *Service) Events() *ServiceEvents {
	return s.events
}

// busCounter generates unique suffixes for event bus names.
var busCounter int64

// initEventBus initializes the per-service event bus.
func (s *Service) initEventBus(ctx context.Context) error {
	serviceName := s.opts.serviceName
	if serviceName == "" {
		serviceName = "mediastore"
	}
	// Each bus needs a unique name, so append a counter suffix
	busName := fmt.Sprintf("%s-%d", serviceName, atomic.AddInt64(&busCounter, 1))

	var (
		bus *event.Bus
		err error
	)
	switch {
	case s.opts.eventTransport != nil:
		s.logger.Info("initializing event bus with custom transport")
		bus, err = event.NewBus(busName, event.WithTransport(s.opts.eventTransport))
	case s.opts.redisClient != nil:
		s.logger.Info("initializing event bus with Redis transport")
		t, transportErr := eventredis.New(s.opts.redisClient)
		if transportErr != nil {
			return fmt.Errorf("create redis transport: %w", transportErr)
		}
		bus, err = event.NewBus(busName, event.WithTransport(t))
	default:
		s.logger.Debug("initializing event bus with noop transport")
		bus, err = event.NewBus(busName, event.WithTransport(noop.New()))
	}
	if err != nil {
		return fmt.Errorf("create event bus: %w", err)
	}

	events := newServiceEvents(busName)
	if err := registerServiceEvents(ctx, bus, events); err != nil {
		bus.Close(ctx)
		return err
	}

	s.eventBus = bus
	s.events = events
	return nil
}

// migrateSchema applies the embedded migrations.
func (s *Service) migrateSchema() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open migration source: %w", err)
	}

	drv, err := migratesqlite.WithInstance(s.db.DB, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("open migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", drv)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// checkConnected returns an error if the service is not connected.
func (s *Service) checkConnected() error {
	if atomic.LoadInt32(&s.state) != stateConnected {
		return ErrNotConnected
	}
	return nil
}

// isGroup reports whether address names a group, per the configured resolver.
func (s *Service) isGroup(address string) bool {
	return s.opts.groups != nil && s.opts.groups.IsGroup(address)
}

// publish runs an event publish, routing failures to the configured handler.
// Publish failures never fail the committed operation.
func (s *Service) publish(name string, fn func() error) {
	if s.events == nil {
		return
	}
	if err := fn(); err != nil {
		s.opts.safeEventPublishFailure(name, err)
	}
}

// notifyConversation publishes the thread change event and invokes the
// listener synchronously. Listener panics are recovered: notification must
// never take down the write path.
func (s *Service) notifyConversation(ctx context.Context, threadID int64) {
	s.stats.invalidate()
	s.publish("ConversationChanged", func() error {
		return s.events.ConversationChanged.Publish(ctx, ConversationChangedEvent{ThreadID: threadID})
	})

	l := s.opts.listener
	if l == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in conversation listener", "thread_id", threadID, "panic", r)
		}
	}()
	l.ConversationUpdated(threadID)
}

// notifyConversationList invokes the thread-list listener callback.
func (s *Service) notifyConversationList() {
	s.stats.invalidate()
	l := s.opts.listener
	if l == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in conversation list listener", "panic", r)
		}
	}()
	l.ConversationListUpdated()
}
