package notify

import (
	"context"
	"sync"
	"time"
)

// Debouncer delays a flush so a burst of incoming messages produces one
// notification update instead of many. Scheduling again before the delay
// elapses cancels the pending flush and starts over.
//
// Cancellation is context-based: the scheduled task receives a context that
// is canceled when superseded, so a slow flush can observe its own
// obsolescence instead of racing a shared flag.
type Debouncer struct {
	mu     sync.Mutex
	delay  time.Duration
	cancel context.CancelFunc
}

// NewDebouncer creates a debouncer with the given flush delay.
func NewDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{delay: delay}
}

// Schedule arranges for fn to run after the delay, replacing any pending
// flush. fn runs on its own goroutine; it should return promptly when its
// context is canceled.
func (d *Debouncer) Schedule(ctx context.Context, fn func(context.Context)) {
	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
	}
	taskCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.mu.Unlock()

	go func() {
		timer := time.NewTimer(d.delay)
		defer timer.Stop()
		select {
		case <-taskCtx.Done():
			return
		case <-timer.C:
		}
		fn(taskCtx)
	}()
}

// Cancel drops any pending flush.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
}
