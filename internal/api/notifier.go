package api

import "sync"

// Notifier broadcasts changed dashboard paths to all subscribed listeners.
type Notifier struct {
	mu        sync.RWMutex
	listeners map[chan string]struct{}
}

// NewNotifier creates a new Notifier instance.
func NewNotifier() *Notifier {
	return &Notifier{
		listeners: make(map[chan string]struct{}),
	}
}

// Subscribe returns a channel that receives changed dashboard paths.
// The caller must call Unsubscribe when done to prevent goroutine leaks.
func (n *Notifier) Subscribe() chan string {
	ch := make(chan string, 8)
	n.mu.Lock()
	n.listeners[ch] = struct{}{}
	n.mu.Unlock()
	return ch
}

// Unsubscribe removes a listener channel and closes it.
func (n *Notifier) Unsubscribe(ch chan string) {
	n.mu.Lock()
	delete(n.listeners, ch)
	n.mu.Unlock()
	close(ch)
}

// Broadcast sends path to all listeners.
// Non-blocking: if a listener's channel is full, the path is dropped for it.
func (n *Notifier) Broadcast(path string) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for ch := range n.listeners {
		select {
		case ch <- path:
		default:
		}
	}
}

// Listeners returns the number of subscribed listeners.
func (n *Notifier) Listeners() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.listeners)
}
