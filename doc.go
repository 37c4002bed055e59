// Package mediastore provides the media message store and receipt
// reconciliation engine for a messaging client.
//
// It persists incoming and outgoing media messages in SQLite, encodes each
// row's direction, delivery state and semantic flags in a single bitmask
// column, reconciles delivery and read receipts against outgoing messages
// (tolerating receipts that arrive before the message they acknowledge),
// and maintains per-thread unread counts through a pluggable thread
// registry.
//
// # Basic Usage
//
//	db, err := mediastore.Open("messages.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	svc, err := mediastore.NewService(
//	    mediastore.WithDB(db),
//	    mediastore.WithAttachmentStore(attachments.New(db)),
//	    mediastore.WithThreadRegistry(threads.New(db)),
//	    mediastore.WithReceiptRegistry(receipts.New(db)),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Connect applies schema migrations
//	if err := svc.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Close(ctx)
//
//	res, inserted, err := svc.InsertIncoming(ctx, msg)
//
// # Operations
//
//   - InsertIncoming/InsertNotification/InsertOutgoing: persist messages,
//     suppressing exact duplicates
//   - IncrementReceiptCount: reconcile delivery/read acknowledgements
//   - MarkAsSending/MarkAsSent/MarkAsSentFailed/...: masked status updates
//   - MarkAsDeleted/DeleteMessage/DeleteThread: soft and hard removal
//   - Conversation/Unnotified/ExpireStartedMessages: cursor readers
//
// # Subpackages
//
//   - attachments: blob storage for message media
//   - threads: conversation registry and unread counts
//   - receipts: per-recipient group receipt state
//   - notify: notification aggregation over unnotified messages
//
// # Events
//
// The store publishes typed events for message lifecycle notifications.
// Events use the github.com/rbaliyan/event/v3 library which supports
// multiple transports (Redis Streams, NATS, Kafka, in-memory channel).
//
// To enable events, pass WithRedisClient or WithEventTransport when creating
// the service:
//
//	svc, err := mediastore.NewService(
//	    mediastore.WithDB(db),
//	    ...
//	    mediastore.WithRedisClient(redisClient),
//	)
//
// Events are automatically registered during Connect(). Access per-service
// events via the Events() method:
//
//	events := svc.Events()
//	events.MessageInserted.Subscribe(ctx, handler)
//	events.MessageDeleted.Subscribe(ctx, handler)
//	events.ConversationChanged.Subscribe(ctx, handler)
package mediastore
