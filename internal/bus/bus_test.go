package bus

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublish_DeliversInOrder(t *testing.T) {
	b := New()
	defer b.Close()

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})

	b.Subscribe("repo:report", func(ev Event) {
		mu.Lock()
		got = append(got, ev.Payload.(string))
		if len(got) == 2 {
			close(done)
		}
		mu.Unlock()
	})

	b.Publish("repo:report", "E1")
	b.Publish("repo:report", "E2")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handlers never ran")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"E1", "E2"}, got)
}

func TestSubscribe_UnsubscribeIdempotent(t *testing.T) {
	b := New()
	defer b.Close()

	var mu sync.Mutex
	count := 0
	unsub := b.Subscribe("ch", func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	// Second handler must survive the other handler's double unsubscribe.
	received := make(chan struct{}, 1)
	b.Subscribe("ch", func(Event) { received <- struct{}{} })

	unsub()
	unsub() // no-op

	b.Publish("ch", nil)

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("surviving handler not invoked")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, count)
}

func TestHistory_Eviction(t *testing.T) {
	b := New()
	defer b.Close()

	for i := 0; i < DefaultHistoryCap+1; i++ {
		b.Publish("ch", i)
	}

	got := b.History(DefaultHistoryCap)
	require.Len(t, got, DefaultHistoryCap)
	// Oldest event (payload 0) was evicted; slice starts at 1.
	assert.Equal(t, 1, got[0].Payload)
	assert.Equal(t, DefaultHistoryCap, got[len(got)-1].Payload)
}

func TestHistory_OldestFirstWindow(t *testing.T) {
	b := New()
	defer b.Close()

	b.Publish("a", "first")
	b.Publish("b", "second")
	b.Publish("a", "third")

	got := b.History(2)
	require.Len(t, got, 2)
	assert.Equal(t, "second", got[0].Payload)
	assert.Equal(t, "third", got[1].Payload)
}

func TestPublish_HandlerPanicIsolated(t *testing.T) {
	b := New()
	defer b.Close()

	received := make(chan string, 2)
	b.Subscribe("ch", func(Event) { panic("boom") })
	b.Subscribe("ch", func(ev Event) { received <- ev.Payload.(string) })

	b.Publish("ch", "one")
	b.Publish("ch", "two")

	for _, want := range []string{"one", "two"} {
		select {
		case got := <-received:
			assert.Equal(t, want, got)
		case <-time.After(2 * time.Second):
			t.Fatalf("handler starved after sibling panic, waiting for %q", want)
		}
	}
}

func TestPublish_ConcurrentPublishersSingleChannel(t *testing.T) {
	b := New()
	defer b.Close()

	const n = 100
	var mu sync.Mutex
	seen := make(map[string]bool)
	done := make(chan struct{})

	b.Subscribe("ch", func(ev Event) {
		mu.Lock()
		seen[ev.Payload.(string)] = true
		if len(seen) == n {
			close(done)
		}
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b.Publish("ch", fmt.Sprintf("p%d", i))
		}(i)
	}
	wg.Wait()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("only %d of %d events delivered", len(seen), n)
	}
}

func TestPublish_AfterCloseDropped(t *testing.T) {
	b := New()
	b.Subscribe("ch", func(Event) { t.Error("handler ran after Close") })
	b.Close()

	b.Publish("ch", "late")
	assert.Empty(t, b.History(0))
}
