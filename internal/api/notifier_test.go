package api

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifier_Subscribe_Unsubscribe(t *testing.T) {
	n := NewNotifier()

	ch := n.Subscribe()
	require.NotNil(t, ch)
	assert.Equal(t, 1, n.Listeners())

	n.Unsubscribe(ch)
	assert.Equal(t, 0, n.Listeners())

	_, open := <-ch
	assert.False(t, open, "channel is closed on unsubscribe")
}

func TestNotifier_Broadcast(t *testing.T) {
	n := NewNotifier()

	ch1 := n.Subscribe()
	ch2 := n.Subscribe()
	defer n.Unsubscribe(ch1)
	defer n.Unsubscribe(ch2)

	n.Broadcast("sales.yaml")

	for _, ch := range []chan string{ch1, ch2} {
		select {
		case got := <-ch:
			assert.Equal(t, "sales.yaml", got)
		case <-time.After(100 * time.Millisecond):
			t.Fatal("listener did not receive broadcast")
		}
	}
}

func TestNotifier_Broadcast_NonBlocking(t *testing.T) {
	n := NewNotifier()

	ch := n.Subscribe()
	defer n.Unsubscribe(ch)

	for range cap(ch) {
		ch <- "filler"
	}

	done := make(chan struct{})
	go func() {
		n.Broadcast("dropped")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Error("Broadcast blocked on full channel")
	}
}

func TestNotifier_Concurrent(t *testing.T) {
	n := NewNotifier()

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch := n.Subscribe()
			n.Broadcast("a.yaml")
			n.Unsubscribe(ch)
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, n.Listeners())
}
