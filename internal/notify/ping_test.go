// ABOUTME: Tests for the web ping long-poll and the in-process ping hub
// ABOUTME: Verifies consume-once semantics, timeouts, early wakeups, and goroutine hygiene

package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/2389/parley/internal/store"
)

func TestPingWaiter_ConsumesOnce(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	st := store.NewMockStore()
	require.NoError(t, st.AddWebPing(ctx, "jd@eur.nl"))

	w := NewPingWaiter(st, NewPingHub(nil), 50*time.Millisecond, 10*time.Millisecond)

	got, err := w.Wait(ctx, "jd@eur.nl")
	require.NoError(t, err)
	assert.True(t, got)

	got, err = w.Wait(ctx, "jd@eur.nl")
	require.NoError(t, err)
	assert.False(t, got, "marker must be consumed by the first wait")
}

func TestPingWaiter_TimesOut(t *testing.T) {
	defer goleak.VerifyNone(t)

	w := NewPingWaiter(store.NewMockStore(), nil, 30*time.Millisecond, 5*time.Millisecond)

	start := time.Now()
	got, err := w.Wait(context.Background(), "jd@eur.nl")
	require.NoError(t, err)
	assert.False(t, got)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestPingWaiter_WokenByHub(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	st := store.NewMockStore()
	hub := NewPingHub(nil)
	w := NewPingWaiter(st, hub, 5*time.Second, time.Hour)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(20 * time.Millisecond)
		_ = st.AddWebPing(ctx, "jd@eur.nl")
		hub.Publish("jd@eur.nl")
	}()

	start := time.Now()
	got, err := w.Wait(ctx, "jd@eur.nl")
	wg.Wait()

	require.NoError(t, err)
	assert.True(t, got)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestPingWaiter_ConcurrentWaitersOneWins(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	st := store.NewMockStore()
	require.NoError(t, st.AddWebPing(ctx, "jd@eur.nl"))
	w := NewPingWaiter(st, nil, 50*time.Millisecond, 5*time.Millisecond)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := w.Wait(ctx, "jd@eur.nl")
			if err == nil && got {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestPingWaiter_ContextCancelled(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	w := NewPingWaiter(store.NewMockStore(), NewPingHub(nil), time.Minute, 5*time.Millisecond)

	time.AfterFunc(20*time.Millisecond, cancel)
	got, err := w.Wait(ctx, "jd@eur.nl")
	assert.False(t, got)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPingHub_SubscribeUnsubscribe(t *testing.T) {
	defer goleak.VerifyNone(t)

	hub := NewPingHub(nil)
	ctx, cancel := context.WithCancel(context.Background())

	ch, subID := hub.Subscribe(ctx, "jd@eur.nl")
	hub.Publish("jd@eur.nl")
	hub.Publish("jd@eur.nl") // coalesced, never blocks

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected wakeup")
	}

	hub.Unsubscribe("jd@eur.nl", subID)
	_, open := <-ch
	assert.False(t, open, "channel closed after unsubscribe")

	hub.Unsubscribe("jd@eur.nl", subID) // idempotent
	cancel()
}

func TestPingHub_Close(t *testing.T) {
	hub := NewPingHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, _ := hub.Subscribe(ctx, "a")
	hub.Close()

	_, open := <-ch
	assert.False(t, open)
	hub.Publish("a")
}
