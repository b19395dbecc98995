package sink

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/engagekit/engrelay/cfg"
	"github.com/engagekit/engrelay/event"
)

type published struct {
	topic string
	key   string
	value []byte
}

type mockSink struct {
	mu       sync.Mutex
	messages []published
	failNext bool
	closed   bool
}

func (m *mockSink) Publish(topic, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext {
		m.failNext = false
		return assert.AnError
	}
	m.messages = append(m.messages, published{topic, key, value})
	return nil
}

func (m *mockSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func registerMockSink(t *testing.T) *mockSink {
	t.Helper()
	mock := &mockSink{}
	RegisterSink("mock", func(cfg.SinkConfiguration) (Sink, error) { return mock, nil })
	return mock
}

func rowEvent(tenant, channel string, id int64) event.ChangeEvent {
	return event.ChangeEvent{
		Kind:     event.KindRowChanged,
		TenantID: tenant,
		EntityID: id,
		Channel:  channel,
		Status:   "new",
	}
}

func TestMirrorPublishesMatchingEvents(t *testing.T) {
	mock := registerMockSink(t)

	m, err := NewMirror([]cfg.SinkConfiguration{{
		Name:        "audit",
		Type:        "mock",
		TopicPrefix: "engrelay",
	}})
	require.NoError(t, err)
	defer m.Close()

	m.Publish(rowEvent("company_a", "whatsapp", 42))

	require.Len(t, mock.messages, 1)
	assert.Equal(t, "engrelay.company_a.whatsapp", mock.messages[0].topic)
	assert.Equal(t, "42", mock.messages[0].key)

	var decoded event.ChangeEvent
	require.NoError(t, json.Unmarshal(mock.messages[0].value, &decoded))
	assert.Equal(t, "company_a", decoded.TenantID)
}

func TestMirrorAppliesTenantFilter(t *testing.T) {
	mock := registerMockSink(t)

	m, err := NewMirror([]cfg.SinkConfiguration{{
		Name:          "a-only",
		Type:          "mock",
		FilterTenants: []string{"company_a"},
	}})
	require.NoError(t, err)
	defer m.Close()

	m.Publish(rowEvent("company_a", "email", 1))
	m.Publish(rowEvent("company_b", "email", 2))

	require.Len(t, mock.messages, 1)
	assert.Equal(t, "1", mock.messages[0].key)
}

func TestMirrorMsgpackFormat(t *testing.T) {
	mock := registerMockSink(t)

	m, err := NewMirror([]cfg.SinkConfiguration{{
		Name:   "compact",
		Type:   "mock",
		Format: "msgpack",
	}})
	require.NoError(t, err)
	defer m.Close()

	m.Publish(rowEvent("company_a", "sms", 7))

	require.Len(t, mock.messages, 1)
	var decoded event.ChangeEvent
	require.NoError(t, msgpack.Unmarshal(mock.messages[0].value, &decoded))
	assert.Equal(t, int64(7), decoded.EntityID)
}

func TestMirrorPublishFailureDoesNotPropagate(t *testing.T) {
	mock := registerMockSink(t)
	mock.failNext = true

	m, err := NewMirror([]cfg.SinkConfiguration{{Name: "flaky", Type: "mock"}})
	require.NoError(t, err)
	defer m.Close()

	// Must not panic or abort; the next event goes through.
	m.Publish(rowEvent("company_a", "email", 1))
	m.Publish(rowEvent("company_a", "email", 2))

	require.Len(t, mock.messages, 1)
	assert.Equal(t, "2", mock.messages[0].key)
}

func TestMirrorUnknownSinkType(t *testing.T) {
	_, err := NewMirror([]cfg.SinkConfiguration{{Name: "x", Type: "carrier-pigeon"}})
	require.Error(t, err)
}

func TestBuildTopic(t *testing.T) {
	assert.Equal(t, "engrelay.company_a.email",
		buildTopic("engrelay", rowEvent("company_a", "email", 1)))
	assert.Equal(t, "company_a.email",
		buildTopic("", rowEvent("company_a", "email", 1)))
	assert.Equal(t, "engrelay.company_a",
		buildTopic("engrelay", rowEvent("company_a", "", 1)))
}

func TestGlobFilter(t *testing.T) {
	f, err := NewGlobFilter([]string{"company_*"}, []string{"whatsapp", "email"})
	require.NoError(t, err)

	assert.True(t, f.Match("company_a", "whatsapp"))
	assert.True(t, f.Match("company_b", "email"))
	assert.False(t, f.Match("acme", "email"))
	assert.False(t, f.Match("company_a", "sms"))

	empty, err := NewGlobFilter(nil, nil)
	require.NoError(t, err)
	assert.True(t, empty.Match("anything", "at-all"))

	_, err = NewGlobFilter([]string{"[bad"}, nil)
	assert.Error(t, err)
}
