package shelfie

import (
	"context"
	"sync"
	"time"

	jww "github.com/spf13/jwalterweatherman"
)

// DefaultPollInterval is how often the active conversation is refreshed.
const DefaultPollInterval = 10 * time.Second

// RefreshFunc reloads one conversation in the background.
type RefreshFunc func(ctx context.Context, conversationID string) error

// SyncLoop polls the active conversation on a fixed interval. At most one
// loop runs at a time; starting a new one stops the previous loop first.
type SyncLoop struct {
	interval time.Duration
	refresh  RefreshFunc

	mu             sync.Mutex
	conversationID string
	cancel         context.CancelFunc
	done           chan struct{}
}

// NewSyncLoop creates a stopped loop.
func NewSyncLoop(interval time.Duration, refresh RefreshFunc) *SyncLoop {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &SyncLoop{interval: interval, refresh: refresh}
}

// Start begins polling conversationID. Any running loop is stopped and has
// exited before this returns.
func (l *SyncLoop) Start(conversationID string) {
	l.Stop()
	if conversationID == "" {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	l.mu.Lock()
	l.conversationID = conversationID
	l.cancel = cancel
	l.done = done
	l.mu.Unlock()

	jww.DEBUG.Printf("[SYNC] polling %s every %s", conversationID, l.interval)
	go l.run(ctx, conversationID, done)
}

// Stop cancels the running loop and waits for it to exit.
func (l *SyncLoop) Stop() {
	l.mu.Lock()
	cancel, done, id := l.cancel, l.done, l.conversationID
	l.cancel, l.done, l.conversationID = nil, nil, ""
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	jww.DEBUG.Printf("[SYNC] stopped polling %s", id)
}

// Running returns the polled conversation id, if any.
func (l *SyncLoop) Running() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conversationID, l.cancel != nil
}

func (l *SyncLoop) run(ctx context.Context, conversationID string, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.refresh(ctx, conversationID); err != nil && ctx.Err() == nil {
				jww.DEBUG.Printf("[SYNC] refresh of %s failed: %v", conversationID, err)
			}
		}
	}
}
