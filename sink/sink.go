// Package sink mirrors routed change events to external destinations (NATS,
// Kafka). Mirroring is best-effort: a failed publish logs a warning and never
// blocks WebSocket fan-out.
package sink

import (
	"fmt"
	"sync"

	"github.com/engagekit/engrelay/cfg"
	"github.com/engagekit/engrelay/event"
)

// Sink represents a destination for change events.
type Sink interface {
	// Publish sends an encoded event to the sink
	Publish(topic string, key string, value []byte) error
	// Close releases any resources held by the sink
	Close() error
}

// Transformer converts change events to sink-specific payloads.
type Transformer interface {
	Transform(ev event.ChangeEvent) ([]byte, error)
}

// Filter determines whether a change event should be mirrored.
type Filter interface {
	// Match returns true if the event should be published
	Match(tenant, channel string) bool
}

// SinkFactory is a function that creates a Sink from a configuration.
type SinkFactory func(cfg.SinkConfiguration) (Sink, error)

// TransformerFactory is a function that creates a Transformer.
type TransformerFactory func() Transformer

var (
	sinkFactories        = make(map[string]SinkFactory)
	transformerFactories = make(map[string]TransformerFactory)
	factoryMu            sync.RWMutex
)

// RegisterSink registers a sink factory for a type.
func RegisterSink(sinkType string, factory SinkFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	sinkFactories[sinkType] = factory
}

// RegisterTransformer registers a transformer factory for a format.
func RegisterTransformer(format string, factory TransformerFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	transformerFactories[format] = factory
}

func createSink(config cfg.SinkConfiguration) (Sink, error) {
	factoryMu.RLock()
	factory, exists := sinkFactories[config.Type]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown sink type: %s", config.Type)
	}
	return factory(config)
}

func createTransformer(format string) (Transformer, error) {
	if format == "" {
		format = "json"
	}

	factoryMu.RLock()
	factory, exists := transformerFactories[format]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown format: %s", format)
	}
	return factory(), nil
}
