package sink

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/engagekit/engrelay/cfg"
)

func init() {
	RegisterSink("nats", func(config cfg.SinkConfiguration) (Sink, error) {
		if config.NatsURL == "" {
			return nil, fmt.Errorf("nats sink requires nats_url")
		}
		return NewNatsSink(config.NatsURL)
	})
}

// NatsSink implements the Sink interface for core NATS publishing. Best-effort
// mirroring needs no stream persistence, so plain subjects are enough.
type NatsSink struct {
	nc *nats.Conn
}

// NewNatsSink creates a new NATS sink.
func NewNatsSink(url string) (*NatsSink, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NatsSink{nc: nc}, nil
}

// Publish sends a message to NATS.
// topic: subject (e.g., "engrelay.company_a.whatsapp")
// key: event key (stored as header)
// value: encoded event payload
func (n *NatsSink) Publish(topic, key string, value []byte) error {
	msg := &nats.Msg{
		Subject: topic,
		Data:    value,
		Header:  nats.Header{"key": []string{key}},
	}
	if err := n.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Close releases resources held by the NatsSink.
func (n *NatsSink) Close() error {
	if n.nc != nil {
		n.nc.Close()
	}
	return nil
}
