package mediastore

import (
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rbaliyan/event/v3/transport"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Default configuration values.
const (
	DefaultShutdownTimeout = 30 * time.Second // graceful shutdown timeout
	MinShutdownTimeout     = 1 * time.Second  // minimum shutdown timeout
	DefaultConnectTimeout  = 10 * time.Second // ping + migration timeout

	// Early receipt cache bounds
	DefaultEarlyReceiptCacheSize = 500       // max cached sent-timestamps
	DefaultEarlyReceiptMaxAge    = time.Hour // unclaimed entries age out

	// Concurrency limits
	DefaultMaxConcurrentCleanups = 4 // max concurrent attachment cleanups

	// DefaultStatsRefreshInterval is how long a Stats snapshot stays fresh.
	DefaultStatsRefreshInterval = 30 * time.Second
)

// options holds mediastore configuration.
type options struct {
	db          *sqlx.DB
	attachments AttachmentStore
	threads     ThreadRegistry
	receipts    ReceiptRegistry
	groups      GroupResolver
	listener    ConversationListener
	logger      *slog.Logger

	// Read receipt feature toggle for the local user. When disabled, decoded
	// records expose a zero read receipt count and outgoing inserts do not
	// seed read counters from early receipts.
	readReceiptsEnabled bool

	// Early receipt cache bounds
	earlyReceiptCacheSize int
	earlyReceiptMaxAge    time.Duration

	// Concurrency limits
	maxConcurrentCleanups int

	// Timeouts
	shutdownTimeout time.Duration
	connectTimeout  time.Duration

	// Stats cache TTL
	statsRefreshInterval time.Duration

	// OpenTelemetry
	tracingEnabled bool
	metricsEnabled bool
	serviceName    string
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	// Event handling
	eventTransport        transport.Transport     // optional, noop if nil
	redisClient           redis.UniversalClient   // optional, noop if nil
	onEventPublishFailure EventPublishFailureFunc // always set
}

// EventPublishFailureFunc is called when an event fails to publish.
type EventPublishFailureFunc func(eventName string, err error)

// safeEventPublishFailure calls the event failure callback with panic
// recovery, so a misbehaving handler cannot take down the write path.
func (o *options) safeEventPublishFailure(eventName string, err error) {
	if o.onEventPublishFailure == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic in event publish failure handler",
				"event", eventName,
				"original_error", err,
				"panic", r,
			)
		}
	}()
	o.onEventPublishFailure(eventName, err)
}

// newOptions creates options with defaults and applies provided options.
func newOptions(opts ...Option) *options {
	o := &options{
		logger:                slog.Default(),
		readReceiptsEnabled:   true,
		earlyReceiptCacheSize: DefaultEarlyReceiptCacheSize,
		earlyReceiptMaxAge:    DefaultEarlyReceiptMaxAge,
		maxConcurrentCleanups: DefaultMaxConcurrentCleanups,
		shutdownTimeout:       DefaultShutdownTimeout,
		connectTimeout:        DefaultConnectTimeout,
		statsRefreshInterval:  DefaultStatsRefreshInterval,
	}
	for _, opt := range opts {
		opt(o)
	}

	// Ensure event failure callback is always set
	if o.onEventPublishFailure == nil {
		o.onEventPublishFailure = func(eventName string, err error) {
			o.logger.Error("failed to publish event", "event", eventName, "error", err)
		}
	}

	return o
}

// Option configures a mediastore service.
type Option func(*options)

// --- Core Options ---

// WithDB sets the backing sqlite database handle (required).
// Open provides a handle with the pragmas the store expects.
func WithDB(db *sqlx.DB) Option {
	return func(o *options) {
		if db != nil {
			o.db = db
		}
	}
}

// WithAttachmentStore sets the attachment store (required).
func WithAttachmentStore(s AttachmentStore) Option {
	return func(o *options) {
		if s != nil {
			o.attachments = s
		}
	}
}

// WithThreadRegistry sets the thread registry (required).
func WithThreadRegistry(r ThreadRegistry) Option {
	return func(o *options) {
		if r != nil {
			o.threads = r
		}
	}
}

// WithReceiptRegistry sets the per-recipient receipt registry (required).
func WithReceiptRegistry(r ReceiptRegistry) Option {
	return func(o *options) {
		if r != nil {
			o.receipts = r
		}
	}
}

// WithGroupResolver sets the group membership resolver. Without one, every
// address is treated as an individual recipient.
func WithGroupResolver(r GroupResolver) Option {
	return func(o *options) {
		if r != nil {
			o.groups = r
		}
	}
}

// WithListener sets the conversation change listener, invoked synchronously
// after each committed write.
func WithListener(l ConversationListener) Option {
	return func(o *options) {
		if l != nil {
			o.listener = l
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithReadReceipts enables or disables the read receipt feature for the
// local user. Default is enabled.
func WithReadReceipts(enabled bool) Option {
	return func(o *options) {
		o.readReceiptsEnabled = enabled
	}
}

// --- Early Receipt Cache Options ---

// WithEarlyReceiptCacheSize caps how many sent-timestamps the early receipt
// cache tracks at once; the oldest entry is evicted past the cap.
// Default is 500.
func WithEarlyReceiptCacheSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.earlyReceiptCacheSize = n
		}
	}
}

// WithEarlyReceiptMaxAge sets how long an unclaimed early receipt entry
// survives before being swept. Default is 1 hour.
func WithEarlyReceiptMaxAge(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.earlyReceiptMaxAge = d
		}
	}
}

// --- Concurrency Options ---

// WithMaxConcurrentCleanups bounds how many asynchronous attachment cleanup
// workers may run at once. Default is 4.
func WithMaxConcurrentCleanups(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxConcurrentCleanups = n
		}
	}
}

// WithShutdownTimeout sets the maximum time Close() waits for queued
// attachment cleanups to finish. Default is 30 seconds. Minimum is 1 second.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) {
		if d >= MinShutdownTimeout {
			o.shutdownTimeout = d
		}
	}
}

// WithConnectTimeout bounds the ping and schema migration performed by
// Connect(). Default is 10 seconds.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.connectTimeout = d
		}
	}
}

// WithStatsRefreshInterval sets how long a cached Stats snapshot stays
// fresh before the next call recomputes it. Default is 30 seconds.
func WithStatsRefreshInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.statsRefreshInterval = d
		}
	}
}

// --- OTel Options ---

// WithTracing enables or disables OpenTelemetry tracing.
// Default is disabled.
func WithTracing(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
	}
}

// WithMetrics enables or disables OpenTelemetry metrics.
// Default is disabled.
func WithMetrics(enabled bool) Option {
	return func(o *options) {
		o.metricsEnabled = enabled
	}
}

// WithOTel enables both OpenTelemetry tracing and metrics.
func WithOTel(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
		o.metricsEnabled = enabled
	}
}

// WithServiceName sets the service name for telemetry and event bus naming.
// Default is "mediastore".
func WithServiceName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.serviceName = name
		}
	}
}

// WithTracerProvider sets a custom OpenTelemetry tracer provider.
// Default uses the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracerProvider = tp
		}
	}
}

// WithMeterProvider sets a custom OpenTelemetry meter provider.
// Default uses the global meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		if mp != nil {
			o.meterProvider = mp
		}
	}
}

// --- Event Options ---

// WithEventTransport sets the event transport for publishing.
// If not provided, a noop transport is used (events are silently dropped).
func WithEventTransport(t transport.Transport) Option {
	return func(o *options) {
		if t != nil {
			o.eventTransport = t
		}
	}
}

// WithRedisClient sets a Redis client for the event transport. When
// provided, events are published to Redis Streams.
//
// Compatible with *redis.Client, *redis.ClusterClient, and redis.UniversalClient.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(o *options) {
		if client != nil {
			o.redisClient = client
		}
	}
}

// WithEventPublishFailureHandler sets a callback for event publishing
// failures. By default, failures are logged using the configured logger.
func WithEventPublishFailureHandler(fn EventPublishFailureFunc) Option {
	return func(o *options) {
		if fn != nil {
			o.onEventPublishFailure = fn
		}
	}
}
