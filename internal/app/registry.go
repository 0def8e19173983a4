package app

import (
	"sync"
	"time"

	"github.com/metinatakli/ride-checkout/internal/checkout"
	"github.com/metinatakli/ride-checkout/internal/domain"
)

const maxPendingNotices = 32

// checkoutEntry is one open checkout plus the notices and booking the UI has not fetched yet.
type checkoutEntry struct {
	session *checkout.Session

	mu       sync.Mutex
	notices  []domain.Notice
	booked   *domain.Ride
	lastSeen time.Time
}

func newCheckoutEntry() *checkoutEntry {
	return &checkoutEntry{lastSeen: time.Now()}
}

// Notify queues n for the next poll, dropping the oldest notice once the queue is full.
func (e *checkoutEntry) Notify(n domain.Notice) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.notices) == maxPendingNotices {
		e.notices = e.notices[1:]
	}
	e.notices = append(e.notices, n)
}

func (e *checkoutEntry) drainNotices() []domain.Notice {
	e.mu.Lock()
	defer e.mu.Unlock()

	notices := e.notices
	e.notices = nil
	if notices == nil {
		notices = []domain.Notice{}
	}

	return notices
}

func (e *checkoutEntry) setBooked(ride *domain.Ride) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.booked = ride
}

func (e *checkoutEntry) bookedRide() *domain.Ride {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.booked
}

func (e *checkoutEntry) touch() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastSeen = time.Now()
}

func (e *checkoutEntry) idleSince() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSeen
}

// checkoutRegistry holds the open checkouts of this process keyed by checkout id.
type checkoutRegistry struct {
	mu      sync.RWMutex
	entries map[string]*checkoutEntry
}

func newCheckoutRegistry() *checkoutRegistry {
	return &checkoutRegistry{entries: make(map[string]*checkoutEntry)}
}

func (c *checkoutRegistry) add(e *checkoutEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[e.session.ID()] = e
}

func (c *checkoutRegistry) get(id string) (*checkoutEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[id]
	return e, ok
}

func (c *checkoutRegistry) remove(id string) (*checkoutEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	delete(c.entries, id)
	return e, ok
}

// expired removes and returns the checkouts nobody has polled for longer than idle.
func (c *checkoutRegistry) expired(idle time.Duration) []*checkoutEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []*checkoutEntry
	for id, e := range c.entries {
		if time.Since(e.idleSince()) > idle {
			out = append(out, e)
			delete(c.entries, id)
		}
	}

	return out
}

func (c *checkoutRegistry) drain() []*checkoutEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*checkoutEntry, 0, len(c.entries))
	for id, e := range c.entries {
		out = append(out, e)
		delete(c.entries, id)
	}

	return out
}

func (c *checkoutRegistry) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
