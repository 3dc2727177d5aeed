package audit

import (
	"sync"

	"github.com/lucid-mcp/mcpgate/internal/store"
)

// subscription pairs a delivery channel with the tenant whose entries
// it receives.
type subscription struct {
	tenantID string
	ch       chan *store.AuditEntry
}

// Bus fans audit entries out to live subscribers. Delivery is scoped
// per tenant at publish time, so a subscriber's buffer only ever holds
// entries it is allowed to see.
type Bus struct {
	mu   sync.RWMutex
	subs map[<-chan *store.AuditEntry]*subscription
}

// NewBus creates a new audit event bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[<-chan *store.AuditEntry]*subscription),
	}
}

// Subscribe registers a listener for the given tenant's entries; an
// empty tenant id subscribes to every tenant. The caller must call
// Unsubscribe when done.
func (b *Bus) Subscribe(tenantID string) <-chan *store.AuditEntry {
	sub := &subscription{
		tenantID: tenantID,
		ch:       make(chan *store.AuditEntry, 64),
	}
	b.mu.Lock()
	b.subs[sub.ch] = sub
	b.mu.Unlock()
	return sub.ch
}

// Unsubscribe removes a listener and closes its channel.
func (b *Bus) Unsubscribe(ch <-chan *store.AuditEntry) {
	b.mu.Lock()
	if sub, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(sub.ch)
	}
	b.mu.Unlock()
}

// Publish sends an entry to every matching subscriber without
// blocking. Slow consumers that can't keep up will miss events.
func (b *Bus) Publish(entry *store.AuditEntry) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.tenantID != "" && sub.tenantID != entry.TenantID {
			continue
		}
		select {
		case sub.ch <- entry:
		default:
		}
	}
}
