// Package hub tracks live client subscriptions per tenant. The registry is the
// single owner of the subscription set: transport and router code mutate it
// only through Join and Leave.
package hub

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// ErrConnClosed is returned by a Conn whose send path is no longer usable.
// The router treats it like any other delivery failure and removes the
// subscription.
var ErrConnClosed = errors.New("connection closed")

// Conn is the send side of one client connection. Send must not block on a
// slow peer; implementations queue internally and drop under pressure.
type Conn interface {
	ID() string
	Send(msg []byte) error
	Close() error
}

// SubscriptionState tracks a subscription through its lifecycle.
type SubscriptionState int32

const (
	StateConnecting SubscriptionState = iota
	StateJoined
	StateDisconnected
)

// Subscription is one live client's membership in a tenant's broadcast group.
type Subscription struct {
	ConnID   string
	TenantID string
	state    atomic.Int32
	conn     Conn
}

// State returns the current lifecycle state.
func (s *Subscription) State() SubscriptionState {
	return SubscriptionState(s.state.Load())
}

// Send forwards msg over the underlying connection.
func (s *Subscription) Send(msg []byte) error {
	return s.conn.Send(msg)
}

// Registry is the concurrent-safe bookkeeping of active subscriptions.
// Mutations serialize on an internal mutex; SubscribersOf reads are snapshots
// taken from lock-free maps, safe to iterate during concurrent join/leave.
type Registry struct {
	mu      sync.Mutex // Serializes Join/Leave across both maps
	conns   *xsync.MapOf[string, *Subscription]
	tenants *xsync.MapOf[string, *xsync.MapOf[string, *Subscription]]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:   xsync.NewMapOf[string, *Subscription](),
		tenants: xsync.NewMapOf[string, *xsync.MapOf[string, *Subscription]](),
	}
}

// Join creates or updates the subscription for conn, marking it Joined in
// tenantID's group. Joining an already-joined connection to the same tenant is
// a no-op. Joining to a different tenant replaces the mapping: the old tenant
// loses this subscriber.
func (r *Registry) Join(conn Conn, tenantID string) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.conns.Load(conn.ID()); ok {
		if existing.TenantID == tenantID && existing.State() == StateJoined {
			return existing
		}
		r.detachLocked(existing)
	}

	sub := &Subscription{
		ConnID:   conn.ID(),
		TenantID: tenantID,
		conn:     conn,
	}
	sub.state.Store(int32(StateJoined))
	r.conns.Store(sub.ConnID, sub)

	group, _ := r.tenants.LoadOrCompute(tenantID, func() *xsync.MapOf[string, *Subscription] {
		return xsync.NewMapOf[string, *Subscription]()
	})
	group.Store(sub.ConnID, sub)
	return sub
}

// Leave removes the subscription for connID if present; no-op when absent.
func (r *Registry) Leave(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.conns.Load(connID)
	if !ok {
		return
	}
	sub.state.Store(int32(StateDisconnected))
	r.detachLocked(sub)
	r.conns.Delete(connID)
}

// detachLocked removes sub from its tenant group. Caller holds r.mu.
func (r *Registry) detachLocked(sub *Subscription) {
	if group, ok := r.tenants.Load(sub.TenantID); ok {
		group.Delete(sub.ConnID)
	}
}

// SubscribersOf returns a snapshot of the Joined subscriptions for tenantID.
// The slice is stable: concurrent join/leave after the call is never observed
// by the iterator.
func (r *Registry) SubscribersOf(tenantID string) []*Subscription {
	group, ok := r.tenants.Load(tenantID)
	if !ok {
		return nil
	}
	subs := make([]*Subscription, 0, group.Size())
	group.Range(func(_ string, sub *Subscription) bool {
		if sub.State() == StateJoined {
			subs = append(subs, sub)
		}
		return true
	})
	return subs
}

// Get returns the subscription for connID, if any.
func (r *Registry) Get(connID string) (*Subscription, bool) {
	return r.conns.Load(connID)
}

// Count returns the total number of tracked subscriptions.
func (r *Registry) Count() int {
	return r.conns.Size()
}

// CountTenant returns the number of subscriptions joined to tenantID.
func (r *Registry) CountTenant(tenantID string) int {
	group, ok := r.tenants.Load(tenantID)
	if !ok {
		return 0
	}
	return group.Size()
}
