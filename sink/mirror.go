package sink

import (
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/engagekit/engrelay/cfg"
	"github.com/engagekit/engrelay/event"
	"github.com/engagekit/engrelay/telemetry"
)

// mirror is one configured destination with its filter and encoding.
type mirror struct {
	name        string
	sink        Sink
	transformer Transformer
	filter      Filter
	topicPrefix string
}

// Mirror fans routed events out to all configured sinks. Publish failures are
// logged and counted, never propagated: the WebSocket path is the primary
// consumer and must not stall on a slow broker.
type Mirror struct {
	mirrors []*mirror
}

// NewMirror builds sinks for each configuration entry.
func NewMirror(configs []cfg.SinkConfiguration) (*Mirror, error) {
	m := &Mirror{mirrors: make([]*mirror, 0, len(configs))}

	for _, sinkCfg := range configs {
		if err := m.add(sinkCfg); err != nil {
			m.Close()
			return nil, fmt.Errorf("failed to add sink %q: %w", sinkCfg.Name, err)
		}
	}

	if len(m.mirrors) > 0 {
		log.Info().Int("sinks", len(m.mirrors)).Msg("Event mirror initialized")
	}
	return m, nil
}

func (m *Mirror) add(config cfg.SinkConfiguration) error {
	snk, err := createSink(config)
	if err != nil {
		return fmt.Errorf("failed to create sink: %w", err)
	}

	trans, err := createTransformer(config.Format)
	if err != nil {
		snk.Close()
		return fmt.Errorf("failed to create transformer: %w", err)
	}

	filter, err := NewGlobFilter(config.FilterTenants, config.FilterChannels)
	if err != nil {
		snk.Close()
		return fmt.Errorf("failed to create filter: %w", err)
	}

	m.mirrors = append(m.mirrors, &mirror{
		name:        config.Name,
		sink:        snk,
		transformer: trans,
		filter:      filter,
		topicPrefix: config.TopicPrefix,
	})

	log.Info().
		Str("sink", config.Name).
		Str("type", config.Type).
		Str("format", config.Format).
		Msg("Added event mirror sink")
	return nil
}

// Publish mirrors ev to every configured sink that matches it.
func (m *Mirror) Publish(ev event.ChangeEvent) {
	key := strconv.FormatInt(ev.EntityID, 10)

	for _, mir := range m.mirrors {
		if !mir.filter.Match(ev.TenantID, ev.Channel) {
			telemetry.SinkPublishTotal.With(mir.name, "filtered").Inc()
			continue
		}

		data, err := mir.transformer.Transform(ev)
		if err != nil {
			log.Warn().Err(err).Str("sink", mir.name).Msg("Failed to encode event for sink")
			telemetry.SinkPublishTotal.With(mir.name, "failed").Inc()
			continue
		}

		if err := mir.sink.Publish(buildTopic(mir.topicPrefix, ev), key, data); err != nil {
			log.Warn().Err(err).Str("sink", mir.name).Msg("Failed to mirror event")
			telemetry.SinkPublishTotal.With(mir.name, "failed").Inc()
			continue
		}
		telemetry.SinkPublishTotal.With(mir.name, "ok").Inc()
	}
}

// Close closes all sinks.
func (m *Mirror) Close() {
	for _, mir := range m.mirrors {
		if err := mir.sink.Close(); err != nil {
			log.Warn().Err(err).Str("sink", mir.name).Msg("Failed to close sink")
		}
	}
}

// buildTopic builds the destination topic for an event.
func buildTopic(prefix string, ev event.ChangeEvent) string {
	topic := ev.TenantID
	if ev.Channel != "" {
		topic = fmt.Sprintf("%s.%s", ev.TenantID, ev.Channel)
	}
	if prefix == "" {
		return topic
	}
	return fmt.Sprintf("%s.%s", prefix, topic)
}
