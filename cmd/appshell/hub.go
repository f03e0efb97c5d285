package main

import (
	"sync"

	"appshell/internal/shell"
	"appshell/internal/update"
)

const subscriberBuffer = 16

// statusHub fans coordinator status out to every open window. Slow
// subscribers miss intermediate statuses rather than blocking the
// coordinator.
type statusHub struct {
	mu   sync.Mutex
	last update.Status
	subs map[int]chan update.Status
	next int
}

func newStatusHub() *statusHub {
	return &statusHub{subs: make(map[int]chan update.Status)}
}

func (h *statusHub) Publish(s update.Status) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = s
	for _, ch := range h.subs {
		select {
		case ch <- s:
		default:
		}
	}
}

// Last returns the most recent status, or the zero Status before the
// first publish.
func (h *statusHub) Last() update.Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

// Subscribe returns a channel of future statuses and a cancel func that
// closes it. Cancel is safe to call more than once.
func (h *statusHub) Subscribe() (<-chan update.Status, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	ch := make(chan update.Status, subscriberBuffer)
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			close(ch)
		})
	}
}

func (h *statusHub) subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// subscribedWindow drops its status subscription once the window closes.
type subscribedWindow struct {
	shell.Window
	cancel func()
}

func (w *subscribedWindow) Run() error {
	defer w.cancel()
	return w.Window.Run()
}
