package router

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/engagekit/engrelay/event"
)

// RecentCache keeps the last N dispatched events per tenant for the recent
// events endpoint. Delivery stays at-most-once; this is a diagnostic window,
// not a replay buffer.
type RecentCache struct {
	size    int
	seq     atomic.Uint64
	tenants *xsync.MapOf[string, *lru.Cache[uint64, event.ChangeEvent]]
}

func NewRecentCache(size int) *RecentCache {
	if size < 1 {
		size = 1
	}
	return &RecentCache{
		size:    size,
		tenants: xsync.NewMapOf[string, *lru.Cache[uint64, event.ChangeEvent]](),
	}
}

// Add records a dispatched event, evicting the tenant's oldest entry when
// the window is full.
func (c *RecentCache) Add(ev event.ChangeEvent) {
	cache, _ := c.tenants.LoadOrCompute(ev.TenantID, func() *lru.Cache[uint64, event.ChangeEvent] {
		// size is validated in NewRecentCache, lru.New cannot fail
		cache, _ := lru.New[uint64, event.ChangeEvent](c.size)
		return cache
	})
	cache.Add(c.seq.Add(1), ev)
}

// Recent returns the tenant's window oldest first. Unknown tenants yield an
// empty slice.
func (c *RecentCache) Recent(tenantID string) []event.ChangeEvent {
	cache, ok := c.tenants.Load(tenantID)
	if !ok {
		return []event.ChangeEvent{}
	}
	keys := cache.Keys()
	out := make([]event.ChangeEvent, 0, len(keys))
	for _, k := range keys {
		if ev, ok := cache.Peek(k); ok {
			out = append(out, ev)
		}
	}
	return out
}
