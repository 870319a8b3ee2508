package monitor

import "sync"

// eventRing keeps the most recent events.
type eventRing struct {
	mu     sync.Mutex
	max    int
	events []Event
	total  uint64
}

func newEventRing(max int) *eventRing {
	if max < 0 {
		max = 0
	}
	return &eventRing{max: max, events: make([]Event, 0, max)}
}

func (r *eventRing) add(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.total++
	if r.max == 0 {
		return
	}
	if len(r.events) < r.max {
		r.events = append(r.events, ev)
		return
	}
	copy(r.events, r.events[1:])
	r.events[len(r.events)-1] = ev
}

// tail returns up to n events, oldest first. n <= 0 returns all kept events.
func (r *eventRing) tail(n int) ([]Event, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n <= 0 || n > len(r.events) {
		n = len(r.events)
	}
	out := make([]Event, n)
	copy(out, r.events[len(r.events)-n:])
	return out, r.total
}
