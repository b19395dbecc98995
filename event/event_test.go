package event

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRowChanged(t *testing.T) {
	payload := []byte(`{
		"company": "company_a",
		"operation": "INSERT",
		"interaction_id": 42,
		"channel": "whatsapp",
		"user_identifier": "user_123",
		"status": "new",
		"text": "hello there",
		"created_at": "2025-06-01T10:30:00Z"
	}`)

	ev, err := Decode(ChannelInteractionChanges, payload)
	require.NoError(t, err)

	assert.Equal(t, KindRowChanged, ev.Kind)
	assert.Equal(t, "company_a", ev.TenantID)
	assert.Equal(t, int64(42), ev.EntityID)
	assert.Equal(t, "whatsapp", ev.Channel)
	assert.Equal(t, "user_123", ev.UserIdentifier)
	assert.Equal(t, "new", ev.Status)
	assert.Equal(t, "hello there", ev.PayloadExcerpt)
	assert.Equal(t, time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC), ev.OccurredAt)
}

func TestDecodeStatusChanged(t *testing.T) {
	payload := []byte(`{
		"company": "company_b",
		"interaction_id": 7,
		"old_status": "new",
		"new_status": "resolved",
		"channel": "email",
		"timestamp": "2025-06-01T11:00:00Z"
	}`)

	ev, err := Decode(ChannelStatusChanges, payload)
	require.NoError(t, err)

	assert.Equal(t, KindStatusChanged, ev.Kind)
	assert.Equal(t, "company_b", ev.TenantID)
	assert.Equal(t, int64(7), ev.EntityID)
	assert.Equal(t, "new", ev.PreviousStatus)
	assert.Equal(t, "resolved", ev.NewStatus)
	assert.Equal(t, "email", ev.Channel)
}

func TestDecodeFirstTransitionHasNoPreviousStatus(t *testing.T) {
	payload := []byte(`{"company":"company_a","interaction_id":1,"new_status":"new","channel":"email"}`)

	ev, err := Decode(ChannelStatusChanges, payload)
	require.NoError(t, err)
	assert.Empty(t, ev.PreviousStatus)
	assert.Equal(t, "new", ev.NewStatus)
}

func TestDecodeMissingRequiredFields(t *testing.T) {
	cases := []struct {
		name    string
		payload string
	}{
		{"no company", `{"interaction_id":1,"channel":"email"}`},
		{"no interaction id", `{"company":"company_a","channel":"email"}`},
		{"not json", `{"company":`},
		{"empty", ``},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(ChannelInteractionChanges, []byte(tc.payload))
			require.ErrorIs(t, err, ErrDecode)
		})
	}
}

func TestDecodeUnknownChannel(t *testing.T) {
	_, err := Decode("audit_changes", []byte(`{"company":"company_a","interaction_id":1}`))
	require.ErrorIs(t, err, ErrDecode)
}

func TestDecodeIgnoresUnknownFields(t *testing.T) {
	payload := []byte(`{"company":"company_a","interaction_id":3,"future_field":{"x":1},"channel":"sms"}`)

	ev, err := Decode(ChannelInteractionChanges, payload)
	require.NoError(t, err)
	assert.Equal(t, int64(3), ev.EntityID)
	assert.Equal(t, "sms", ev.Channel)
}

func TestDecodeMissingTimestampFallsBackToReceiptTime(t *testing.T) {
	before := time.Now()
	ev, err := Decode(ChannelInteractionChanges, []byte(`{"company":"company_a","interaction_id":9}`))
	require.NoError(t, err)
	assert.False(t, ev.OccurredAt.Before(before))
}

func TestExcerptTruncation(t *testing.T) {
	long := strings.Repeat("x", 500)
	ev, err := Decode(ChannelInteractionChanges,
		[]byte(`{"company":"company_a","interaction_id":1,"text":"`+long+`"}`))
	require.NoError(t, err)
	assert.Len(t, ev.PayloadExcerpt, MaxExcerptLen)
}

func TestExcerptKeepsRuneBoundary(t *testing.T) {
	// 99 ASCII bytes followed by a 3-byte rune straddling the limit.
	s := strings.Repeat("a", 99) + "€€"
	got := Excerpt(s)
	assert.LessOrEqual(t, len(got), MaxExcerptLen)
	assert.True(t, strings.HasPrefix(s, got))
	for _, r := range got {
		assert.NotEqual(t, '�', r)
	}
}
