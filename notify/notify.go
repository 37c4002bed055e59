// Package notify aggregates unnotified messages into a notification
// decision: which conversations to alert on and whether to present them
// individually or collapsed into a summary.
//
// The aggregator is a read-only consumer of the message store's reader
// contract. All state that influences a decision, including which
// conversation is currently on screen, is passed in explicitly so the same
// inputs always produce the same decision.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/quillchat/mediastore"
)

// DefaultBatchThreshold is the thread count above which individual
// notifications collapse into a single summary.
const DefaultBatchThreshold = 3

// State is the caller-supplied presentation state for a decision.
type State struct {
	// VisibleThreadID is the conversation currently on screen, or 0.
	// Messages in a visible conversation never notify.
	VisibleThreadID int64
}

// Item is one unnotified message, reduced to what presentation needs.
type Item struct {
	MessageID    int64
	ThreadID     int64
	Address      string
	Body         string
	DateReceived int64
}

// ThreadGroup is the unnotified messages of one conversation, oldest first.
type ThreadGroup struct {
	ThreadID int64
	Items    []Item
}

// Mode selects how a decision is presented.
type Mode int

const (
	// ModeNone means nothing to notify.
	ModeNone Mode = iota
	// ModeBatched presents one notification per conversation.
	ModeBatched
	// ModeSummary collapses everything into a single summary notification.
	ModeSummary
)

func (m Mode) String() string {
	switch m {
	case ModeBatched:
		return "batched"
	case ModeSummary:
		return "summary"
	default:
		return "none"
	}
}

// Decision is the aggregator's output.
type Decision struct {
	Mode Mode
	// Groups holds the conversations to present, in first-unread order.
	// Populated for both batched and summary modes; summary renderers
	// typically show counts only.
	Groups       []ThreadGroup
	MessageCount int
}

// Aggregator groups unnotified records and decides their presentation.
type Aggregator struct {
	logger         *slog.Logger
	batchThreshold int
}

// Option configures the aggregator.
type Option func(*Aggregator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithBatchThreshold sets the thread count above which notifications
// collapse into a summary.
func WithBatchThreshold(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.batchThreshold = n
		}
	}
}

// New creates an aggregator.
func New(opts ...Option) *Aggregator {
	a := &Aggregator{
		logger:         slog.Default(),
		batchThreshold: DefaultBatchThreshold,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Collect drains the reader and groups its records by conversation, in the
// order each conversation first appears. The reader is closed on all paths.
func (a *Aggregator) Collect(ctx context.Context, r *mediastore.Reader) ([]ThreadGroup, error) {
	defer r.Close()

	var (
		order  []int64
		groups = make(map[int64]*ThreadGroup)
	)
	for {
		ok, err := r.Next(ctx)
		if err != nil {
			return nil, fmt.Errorf("read unnotified messages: %w", err)
		}
		if !ok {
			break
		}
		rec := r.Record()
		if rec.IsOutgoing() {
			continue
		}

		g, exists := groups[rec.ThreadID()]
		if !exists {
			g = &ThreadGroup{ThreadID: rec.ThreadID()}
			groups[rec.ThreadID()] = g
			order = append(order, rec.ThreadID())
		}
		g.Items = append(g.Items, Item{
			MessageID:    rec.ID(),
			ThreadID:     rec.ThreadID(),
			Address:      rec.Address(),
			Body:         rec.Body(),
			DateReceived: rec.DateReceived(),
		})
	}

	out := make([]ThreadGroup, 0, len(order))
	for _, id := range order {
		out = append(out, *groups[id])
	}
	return out, nil
}

// Decide filters out the visible conversation and picks the presentation
// mode for what remains.
func (a *Aggregator) Decide(groups []ThreadGroup, state State) Decision {
	var (
		kept  []ThreadGroup
		count int
	)
	for _, g := range groups {
		if state.VisibleThreadID != 0 && g.ThreadID == state.VisibleThreadID {
			continue
		}
		kept = append(kept, g)
		count += len(g.Items)
	}

	if len(kept) == 0 {
		return Decision{Mode: ModeNone}
	}
	mode := ModeBatched
	if len(kept) > a.batchThreshold {
		mode = ModeSummary
	}
	return Decision{Mode: mode, Groups: kept, MessageCount: count}
}
