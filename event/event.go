package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event kinds, one per notification channel.
const (
	KindRowChanged    uint8 = 0
	KindStatusChanged uint8 = 1
)

// Notification channel names emitted by the database triggers.
const (
	ChannelInteractionChanges = "interaction_changes"
	ChannelStatusChanges      = "status_changes"
)

// MaxExcerptLen bounds the informational text snippet carried on an event.
const MaxExcerptLen = 100

// ErrDecode marks a malformed notification payload. Events failing to decode
// are dropped by the listener; the error is logged, never retried.
var ErrDecode = fmt.Errorf("malformed notification payload")

// ChangeEvent is the unit flowing through the relay: one row change or status
// transition in exactly one tenant's schema.
type ChangeEvent struct {
	Kind           uint8     `json:"kind"`
	TenantID       string    `json:"tenant_id"`       // Owning company code
	EntityID       int64     `json:"entity_id"`       // Affected row id
	Channel        string    `json:"channel"`         // Messaging channel tag (whatsapp, email, ...)
	UserIdentifier string    `json:"user_identifier"` // Row changes only
	Status         string    `json:"status"`          // Row changes only
	PreviousStatus string    `json:"previous_status"` // Status changes only; may be empty on first transition
	NewStatus      string    `json:"new_status"`      // Status changes only
	OccurredAt     time.Time `json:"occurred_at"`     // Emitter wall clock, not monotonic per tenant
	PayloadExcerpt string    `json:"payload_excerpt"` // Bounded text snippet, informational
}

// rawPayload mirrors the trigger payload shape. Unknown fields are ignored and
// optional fields decode to their zero value.
type rawPayload struct {
	Company        string `json:"company"`
	Operation      string `json:"operation"`
	InteractionID  *int64 `json:"interaction_id"`
	Channel        string `json:"channel"`
	UserIdentifier string `json:"user_identifier"`
	Status         string `json:"status"`
	OldStatus      string `json:"old_status"`
	NewStatus      string `json:"new_status"`
	Text           string `json:"text"`
	CreatedAt      string `json:"created_at"`
	Timestamp      string `json:"timestamp"`
}

// Decode converts a raw notification from the given channel into a ChangeEvent.
// The tenant and row id are required; everything else is best-effort so the
// relay tolerates emitter payload drift. A missing or unparseable timestamp
// falls back to the receipt time.
func Decode(channel string, payload []byte) (ChangeEvent, error) {
	var kind uint8
	switch channel {
	case ChannelInteractionChanges:
		kind = KindRowChanged
	case ChannelStatusChanges:
		kind = KindStatusChanged
	default:
		return ChangeEvent{}, fmt.Errorf("%w: unknown channel %q", ErrDecode, channel)
	}

	var raw rawPayload
	if err := json.Unmarshal(payload, &raw); err != nil {
		return ChangeEvent{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if raw.Company == "" {
		return ChangeEvent{}, fmt.Errorf("%w: missing company", ErrDecode)
	}
	if raw.InteractionID == nil {
		return ChangeEvent{}, fmt.Errorf("%w: missing interaction_id", ErrDecode)
	}

	ev := ChangeEvent{
		Kind:           kind,
		TenantID:       raw.Company,
		EntityID:       *raw.InteractionID,
		Channel:        raw.Channel,
		OccurredAt:     parseEmitterTime(raw.Timestamp, raw.CreatedAt),
		PayloadExcerpt: Excerpt(raw.Text),
	}

	switch kind {
	case KindRowChanged:
		ev.UserIdentifier = raw.UserIdentifier
		ev.Status = raw.Status
	case KindStatusChanged:
		ev.PreviousStatus = raw.OldStatus
		ev.NewStatus = raw.NewStatus
	}

	return ev, nil
}

// Excerpt truncates s to MaxExcerptLen bytes on a rune boundary.
func Excerpt(s string) string {
	if len(s) <= MaxExcerptLen {
		return s
	}
	cut := MaxExcerptLen
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut]
}

// parseEmitterTime tries the status-change timestamp first, then the row
// created_at, accepting RFC3339 with or without sub-second precision.
func parseEmitterTime(candidates ...string) time.Time {
	layouts := []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05"}
	for _, c := range candidates {
		if c == "" {
			continue
		}
		for _, layout := range layouts {
			if t, err := time.Parse(layout, c); err == nil {
				return t
			}
		}
	}
	return time.Now()
}
