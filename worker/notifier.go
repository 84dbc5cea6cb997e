package worker

import (
	"time"

	"github.com/google/uuid"

	"sendloop/models"
)

// Event types emitted by the dispatch engine.
const (
	EventCampaignStarted   = "campaign.started"
	EventCampaignResumed   = "campaign.resumed"
	EventCampaignPaused    = "campaign.paused"
	EventCampaignCompleted = "campaign.completed"
	EventCampaignCancelled = "campaign.cancelled"
	EventCampaignFailed    = "campaign.failed"
	EventMessageSent       = "message.sent"
	EventMessageFailed     = "message.failed"
	EventReplyReceived     = "reply.received"
)

// Event is a fire-and-forget notification. Delivery failures must never
// affect dispatch, so Emit implementations do their own error handling.
type Event struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	CampaignID uint                   `json:"campaign_id"`
	UserID     uint                   `json:"user_id"`
	At         time.Time              `json:"at"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
}

type Notifier interface {
	Emit(event Event)
}

// NewEvent builds an event for a campaign with a fresh id.
func NewEvent(eventType string, campaign *models.Campaign, payload map[string]interface{}) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		CampaignID: campaign.ID,
		UserID:     campaign.UserID,
		At:         time.Now(),
		Payload:    payload,
	}
}

// Notifiers fans an event out to several sinks.
type Notifiers []Notifier

func (n Notifiers) Emit(event Event) {
	for _, notifier := range n {
		if notifier != nil {
			notifier.Emit(event)
		}
	}
}

// NopNotifier discards all events.
type NopNotifier struct{}

func (NopNotifier) Emit(Event) {}
