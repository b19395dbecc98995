package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engagekit/engrelay/event"
	"github.com/engagekit/engrelay/hub"
	"github.com/engagekit/engrelay/queue"
)

type captureConn struct {
	id       string
	mu       sync.Mutex
	messages [][]byte
	sendErr  error
}

func (c *captureConn) ID() string { return c.id }

func (c *captureConn) Send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.messages = append(c.messages, msg)
	return nil
}

func (c *captureConn) Close() error { return nil }

func (c *captureConn) received() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *captureConn) waitFor(t *testing.T, n int) [][]byte {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		msgs := c.received()
		if len(msgs) >= n {
			return msgs
		}
		if time.Now().After(deadline) {
			t.Fatalf("connection %s never received %d messages, have %d", c.id, n, len(msgs))
		}
		time.Sleep(time.Millisecond)
	}
}

func rowEvent(tenant string, id int64) event.ChangeEvent {
	return event.ChangeEvent{
		Kind:           event.KindRowChanged,
		TenantID:       tenant,
		EntityID:       id,
		Channel:        "whatsapp",
		UserIdentifier: "+15550001111",
		Status:         "new",
		OccurredAt:     time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
		PayloadExcerpt: "hello there",
	}
}

func statusEvent(tenant string, id int64, from, to string) event.ChangeEvent {
	return event.ChangeEvent{
		Kind:           event.KindStatusChanged,
		TenantID:       tenant,
		EntityID:       id,
		Channel:        "whatsapp",
		PreviousStatus: from,
		NewStatus:      to,
		OccurredAt:     time.Now(),
	}
}

func TestRouterFansOutToOwningTenantOnly(t *testing.T) {
	q := queue.New(16)
	registry := hub.NewRegistry()
	r := New(q, registry, nil)

	connA := &captureConn{id: "conn-a"}
	connB := &captureConn{id: "conn-b"}
	registry.Join(connA, "company_a")
	registry.Join(connB, "company_b")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	q.Push(rowEvent("company_a", 42))
	q.Push(statusEvent("company_a", 42, "new", "resolved"))

	msgs := connA.waitFor(t, 2)

	var first envelope
	require.NoError(t, json.Unmarshal(msgs[0], &first))
	assert.Equal(t, TypeNewEngagement, first.Type)
	data := first.Data.(map[string]any)
	assert.Equal(t, float64(42), data["id"])
	assert.Equal(t, "whatsapp", data["channel"])
	assert.Equal(t, "+15550001111", data["user_identifier"])
	assert.Equal(t, "new", data["status"])
	assert.Equal(t, "hello there", data["text"])
	assert.Equal(t, "2026-03-14T09:30:00Z", data["created_at"])

	var second envelope
	require.NoError(t, json.Unmarshal(msgs[1], &second))
	assert.Equal(t, TypeStatusUpdate, second.Type)
	update := second.Data.(map[string]any)
	assert.Equal(t, float64(42), update["id"])
	assert.Equal(t, "new", update["old_status"])
	assert.Equal(t, "resolved", update["new_status"])
	assert.Equal(t, "whatsapp", update["channel"])

	assert.Empty(t, connB.received())

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestRouterDetachesFailedSubscriber(t *testing.T) {
	q := queue.New(16)
	registry := hub.NewRegistry()
	r := New(q, registry, nil)

	broken := &captureConn{id: "conn-broken", sendErr: errors.New("write: broken pipe")}
	healthy := &captureConn{id: "conn-healthy"}
	registry.Join(broken, "company_a")
	registry.Join(healthy, "company_a")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Run(ctx) }()

	q.Push(rowEvent("company_a", 1))
	healthy.waitFor(t, 1)

	assert.Equal(t, 1, registry.CountTenant("company_a"))
	_, ok := registry.Get("conn-broken")
	assert.False(t, ok)

	q.Push(rowEvent("company_a", 2))
	healthy.waitFor(t, 2)
	assert.Empty(t, broken.received())
}

func TestRouterRecordsRecentEvents(t *testing.T) {
	q := queue.New(16)
	registry := hub.NewRegistry()
	r := New(q, registry, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Run(ctx) }()

	q.Push(rowEvent("company_a", 1))
	q.Push(rowEvent("company_b", 2))

	deadline := time.Now().Add(2 * time.Second)
	for len(r.Recent("company_b")) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("recent window never populated")
		}
		time.Sleep(time.Millisecond)
	}

	recentA := r.Recent("company_a")
	require.Len(t, recentA, 1)
	assert.Equal(t, int64(1), recentA[0].EntityID)
	assert.Empty(t, r.Recent("company_c"))
}

func TestRecentCacheEvictsOldestFirst(t *testing.T) {
	cache := NewRecentCache(3)
	for i := int64(1); i <= 5; i++ {
		cache.Add(rowEvent("company_a", i))
	}

	got := cache.Recent("company_a")
	require.Len(t, got, 3)
	assert.Equal(t, int64(3), got[0].EntityID)
	assert.Equal(t, int64(5), got[2].EntityID)
}

func TestMarshalEnvelopeRejectsUnknownKind(t *testing.T) {
	_, err := MarshalEnvelope(event.ChangeEvent{Kind: 99})
	require.Error(t, err)
	assert.Contains(t, err.Error(), fmt.Sprintf("%d", 99))
}
