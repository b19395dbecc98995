package router

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/engagekit/engrelay/event"
)

// Outbound message types pushed to subscribers.
const (
	TypeNewEngagement = "new_engagement"
	TypeStatusUpdate  = "status_update"
)

type engagementData struct {
	ID             int64  `json:"id"`
	Channel        string `json:"channel"`
	UserIdentifier string `json:"user_identifier"`
	Status         string `json:"status"`
	Text           string `json:"text"`
	CreatedAt      string `json:"created_at"`
}

type statusData struct {
	ID        int64  `json:"id"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
	Channel   string `json:"channel"`
}

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// MarshalEnvelope renders one change event as the wire message subscribers
// receive.
func MarshalEnvelope(ev event.ChangeEvent) ([]byte, error) {
	var env envelope
	switch ev.Kind {
	case event.KindRowChanged:
		env = envelope{
			Type: TypeNewEngagement,
			Data: engagementData{
				ID:             ev.EntityID,
				Channel:        ev.Channel,
				UserIdentifier: ev.UserIdentifier,
				Status:         ev.Status,
				Text:           ev.PayloadExcerpt,
				CreatedAt:      ev.OccurredAt.Format(time.RFC3339),
			},
		}
	case event.KindStatusChanged:
		env = envelope{
			Type: TypeStatusUpdate,
			Data: statusData{
				ID:        ev.EntityID,
				OldStatus: ev.PreviousStatus,
				NewStatus: ev.NewStatus,
				Channel:   ev.Channel,
			},
		}
	default:
		return nil, fmt.Errorf("unknown event kind %d", ev.Kind)
	}
	return json.Marshal(env)
}
