package notify

import (
	"context"
	"sync"
)

// MemoryHub is the single-process hub.
type MemoryHub struct {
	mu     sync.RWMutex
	subs   map[uint64]map[*Subscription]struct{}
	closed bool
}

func NewMemoryHub() *MemoryHub {
	return &MemoryHub{subs: make(map[uint64]map[*Subscription]struct{})}
}

func (h *MemoryHub) Publish(_ context.Context, ev Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[ev.TableID] {
		sub.offer(ev)
	}
	return nil
}

func (h *MemoryHub) Subscribe(_ context.Context, tableID uint64) (*Subscription, error) {
	var once sync.Once
	var sub *Subscription
	sub = newSubscription(tableID, func() {
		once.Do(func() { h.remove(sub) })
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		sub.shut()
		return sub, nil
	}
	set, ok := h.subs[tableID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[tableID] = set
	}
	set[sub] = struct{}{}
	return sub, nil
}

func (h *MemoryHub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[sub.tableID]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sub.tableID)
	}
	sub.shut()
}

// Close ends every subscription.
func (h *MemoryHub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for _, set := range h.subs {
		for sub := range set {
			sub.shut()
		}
	}
	h.subs = make(map[uint64]map[*Subscription]struct{})
	return nil
}
