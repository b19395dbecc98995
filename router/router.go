package router

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/engagekit/engrelay/event"
	"github.com/engagekit/engrelay/hub"
	"github.com/engagekit/engrelay/queue"
	"github.com/engagekit/engrelay/sink"
	"github.com/engagekit/engrelay/telemetry"
)

// DefaultRecentWindow is the per-tenant number of events retained for the
// recent events endpoint.
const DefaultRecentWindow = 64

// Router drains the delivery queue and fans each event out to the joined
// subscribers of its tenant. Subscribers whose send path fails are detached;
// they re-sync over REST when they reconnect.
type Router struct {
	queue    *queue.DeliveryQueue
	registry *hub.Registry
	mirror   *sink.Mirror
	recent   *RecentCache
}

// New creates a router. mirror may be nil when no sinks are configured.
func New(q *queue.DeliveryQueue, registry *hub.Registry, mirror *sink.Mirror) *Router {
	return &Router{
		queue:    q,
		registry: registry,
		mirror:   mirror,
		recent:   NewRecentCache(DefaultRecentWindow),
	}
}

// Recent exposes the per-tenant dispatch window. Oldest first.
func (r *Router) Recent(tenantID string) []event.ChangeEvent {
	return r.recent.Recent(tenantID)
}

// Run dispatches queued events until ctx is cancelled.
func (r *Router) Run(ctx context.Context) error {
	for {
		ev, err := r.queue.Pop(ctx)
		if err != nil {
			return err
		}
		r.dispatch(ev)
		telemetry.QueueDepth.Set(float64(r.queue.Len()))
	}
}

func (r *Router) dispatch(ev event.ChangeEvent) {
	start := time.Now()

	payload, err := MarshalEnvelope(ev)
	if err != nil {
		log.Error().Err(err).Str("tenant", ev.TenantID).Msg("Failed to encode outbound event")
		return
	}
	r.recent.Add(ev)

	subs := r.registry.SubscribersOf(ev.TenantID)
	for _, sub := range subs {
		if err := sub.Send(payload); err != nil {
			log.Warn().
				Err(err).
				Str("conn_id", sub.ConnID).
				Str("tenant", ev.TenantID).
				Msg("Subscriber send failed, detaching")
			r.registry.Leave(sub.ConnID)
			telemetry.FanoutSendsTotal.With(ev.TenantID, "failed").Inc()
			continue
		}
		telemetry.FanoutSendsTotal.With(ev.TenantID, "ok").Inc()
	}
	telemetry.FanoutDurationSeconds.Observe(time.Since(start).Seconds())

	log.Debug().
		Str("tenant", ev.TenantID).
		Int64("entity_id", ev.EntityID).
		Int("subscribers", len(subs)).
		Msg("Event dispatched")

	if r.mirror != nil {
		r.mirror.Publish(ev)
	}
}
