package shelfie

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type refreshRecorder struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (r *refreshRecorder) refresh(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, id)
	return r.err
}

func (r *refreshRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func TestSyncLoop(t *testing.T) {
	rec := &refreshRecorder{}
	loop := NewSyncLoop(5*time.Millisecond, rec.refresh)

	_, running := loop.Running()
	require.False(t, running)

	loop.Start("a")
	id, running := loop.Running()
	require.True(t, running)
	require.Equal(t, "a", id)
	require.Eventually(t, func() bool { return len(rec.snapshot()) >= 2 }, time.Second, time.Millisecond)

	loop.Start("b")
	mark := len(rec.snapshot())
	require.Eventually(t, func() bool { return len(rec.snapshot()) >= mark+2 }, time.Second, time.Millisecond)
	for _, got := range rec.snapshot()[mark:] {
		require.Equal(t, "b", got, "old loop must not tick after restart")
	}

	loop.Stop()
	_, running = loop.Running()
	require.False(t, running)
	stopped := len(rec.snapshot())
	time.Sleep(25 * time.Millisecond)
	require.Len(t, rec.snapshot(), stopped)

	t.Run("errors do not stop polling", func(t *testing.T) {
		rec := &refreshRecorder{err: errors.New("offline")}
		loop := NewSyncLoop(5*time.Millisecond, rec.refresh)
		loop.Start("a")
		defer loop.Stop()
		require.Eventually(t, func() bool { return len(rec.snapshot()) >= 3 }, time.Second, time.Millisecond)
	})

	t.Run("stop is idempotent", func(t *testing.T) {
		loop := NewSyncLoop(0, rec.refresh)
		require.Equal(t, DefaultPollInterval, loop.interval)
		loop.Stop()
		loop.Start("")
		_, running := loop.Running()
		require.False(t, running)
		loop.Stop()
	})
}

func TestEmitterRecoversFromPanics(t *testing.T) {
	e := newEmitter()
	var got []any
	e.On(EventError, func(string, any) { panic("bad handler") })
	e.On(EventError, func(_ string, payload any) { got = append(got, payload) })

	e.emit(EventError, ErrBlocked)
	require.Equal(t, []any{ErrBlocked}, got)

	e.removeAll()
	e.emit(EventError, ErrBlocked)
	require.Len(t, got, 1)
}
