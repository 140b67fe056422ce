package eventbridge

import "sync"

// dedupe remembers the responses to the most recent event ids so a retried
// delivery is acknowledged without being processed twice.
type dedupe struct {
	mu     sync.Mutex
	seen   map[string]eventResponse
	order  []string
	window int
}

func newDedupe(window int) *dedupe {
	if window <= 0 {
		window = DefaultDedupeWindow
	}
	return &dedupe{
		seen:   map[string]eventResponse{},
		order:  make([]string, 0, window),
		window: window,
	}
}

func (d *dedupe) lookup(eventID string) (eventResponse, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	resp, ok := d.seen[eventID]
	return resp, ok
}

func (d *dedupe) remember(eventID string, resp eventResponse) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[eventID]; ok {
		return
	}
	d.seen[eventID] = resp
	d.order = append(d.order, eventID)
	if len(d.order) > d.window {
		oldest := d.order[0]
		d.order = d.order[1:]
		delete(d.seen, oldest)
	}
}
