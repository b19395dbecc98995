package listener

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/engagekit/engrelay/event"
	"github.com/engagekit/engrelay/queue"
	"github.com/engagekit/engrelay/telemetry"
)

// ListenerState tracks where the supervisor loop currently is.
type ListenerState int32

const (
	StateDisconnected ListenerState = iota
	StateConnecting
	StateListening
)

func (s ListenerState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateListening:
		return "listening"
	default:
		return "disconnected"
	}
}

// Listener owns the notification connection lifecycle. It connects, issues
// LISTEN for every configured channel, and feeds decoded events into the
// delivery queue. On any connection failure it reconnects with exponential
// backoff and keeps retrying until the context is cancelled.
type Listener struct {
	source   Source
	queue    *queue.DeliveryQueue
	channels []string

	backoffInitial time.Duration
	backoffMax     time.Duration

	state atomic.Int32
}

// New creates a listener over the given source. backoffInitial doubles after
// every consecutive failure up to backoffMax, and resets once the source is
// listening again.
func New(source Source, q *queue.DeliveryQueue, channels []string, backoffInitial, backoffMax time.Duration) *Listener {
	return &Listener{
		source:         source,
		queue:          q,
		channels:       channels,
		backoffInitial: backoffInitial,
		backoffMax:     backoffMax,
	}
}

// State reports the current supervisor state.
func (l *Listener) State() ListenerState {
	return ListenerState(l.state.Load())
}

func (l *Listener) setState(s ListenerState) {
	l.state.Store(int32(s))
}

// Run drives the connect/listen/receive loop until ctx is cancelled. It only
// ever returns the context error; source failures are retried indefinitely.
func (l *Listener) Run(ctx context.Context) error {
	defer l.setState(StateDisconnected)

	backoff := l.backoffInitial
	for {
		l.setState(StateConnecting)
		err := l.connect(ctx)
		if err == nil {
			backoff = l.backoffInitial
			l.setState(StateListening)
			telemetry.SourceConnected.Set(1)
			log.Info().Strs("channels", l.channels).Msg("Notification source connected")

			err = l.receive(ctx)
			telemetry.SourceConnected.Set(0)
		}

		closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = l.source.Close(closeCtx)
		cancel()
		l.setState(StateDisconnected)

		if ctx.Err() != nil {
			return ctx.Err()
		}

		log.Warn().
			Err(err).
			Dur("retry_in", backoff).
			Msg("Notification source lost, reconnecting")
		telemetry.SourceReconnectsTotal.Inc()

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = nextBackoff(backoff, l.backoffMax)
	}
}

func (l *Listener) connect(ctx context.Context) error {
	if err := l.source.Connect(ctx); err != nil {
		return err
	}
	for _, ch := range l.channels {
		if err := l.source.Listen(ctx, ch); err != nil {
			return err
		}
	}
	return nil
}

func (l *Listener) receive(ctx context.Context) error {
	for {
		n, err := l.source.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		telemetry.NotificationsTotal.With(n.Channel).Inc()

		ev, err := event.Decode(n.Channel, []byte(n.Payload))
		if err != nil {
			log.Warn().
				Err(err).
				Str("channel", n.Channel).
				Str("payload", event.Excerpt(n.Payload)).
				Msg("Dropping undecodable notification")
			telemetry.DecodeFailuresTotal.Inc()
			continue
		}

		if evicted, dropped := l.queue.Push(ev); dropped {
			log.Warn().
				Str("tenant", evicted.TenantID).
				Int64("entity_id", evicted.EntityID).
				Msg("Delivery queue full, evicted oldest event")
			telemetry.QueueEvictionsTotal.Inc()
		}
		telemetry.QueueDepth.Set(float64(l.queue.Len()))
	}
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}
