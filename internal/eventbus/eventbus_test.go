package eventbus

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishAndDeliver(t *testing.T) {
	b := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	var mu sync.Mutex
	var got []Event
	done := make(chan struct{})
	b.Subscribe(TradeExecuted, func(ev Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
		close(done)
	})

	b.Publish(TradeExecuted, map[string]any{"order_id": "abc"})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("subscriber was not invoked")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, TradeExecuted, got[0].Type)
	assert.NotEmpty(t, got[0].ID)
}

func TestBus_WildcardSubscriber(t *testing.T) {
	b := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	done := make(chan EventType, 1)
	b.Subscribe("*", func(ev Event) { done <- ev.Type })

	b.Publish(StateChanged, nil)
	select {
	case et := <-done:
		assert.Equal(t, StateChanged, et)
	case <-time.After(time.Second):
		t.Fatal("wildcard subscriber was not invoked")
	}
}

func TestBus_PanicsInSubscriberDoNotCrashDispatch(t *testing.T) {
	b := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	recovered := make(chan struct{}, 1)
	b.Subscribe(StateChanged, func(ev Event) { panic("boom") })
	b.Subscribe(StateChanged, func(ev Event) { recovered <- struct{}{} })

	b.Publish(StateChanged, nil)
	select {
	case <-recovered:
	case <-time.After(time.Second):
		t.Fatal("second subscriber should still run after the first panicked")
	}
}

func TestBus_HistoryBounded(t *testing.T) {
	b := New(nil)
	b.maxHistory = 2
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	b.Publish(StateChanged, 1)
	b.Publish(StateChanged, 2)
	b.Publish(StateChanged, 3)
	time.Sleep(50 * time.Millisecond)

	hist := b.History(StateChanged, 0)
	assert.LessOrEqual(t, len(hist), 2)
}

func TestBus_Persistence(t *testing.T) {
	b := New(nil)
	dir := t.TempDir()
	logPath := filepath.Join(dir, "events.jsonl")
	require.NoError(t, b.EnablePersistence(logPath))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	done := make(chan struct{})
	b.Subscribe(StateChanged, func(ev Event) { close(done) })
	b.Publish(StateChanged, nil)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("event was not delivered")
	}

	// deliver persists the event before it calls any subscriber.
	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"state_changed"`)
}
