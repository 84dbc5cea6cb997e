package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"sendloop/models"
	"sendloop/repository"
)

// StatsAggregator owns all outcome persistence: the durable SentMessage
// row, the denormalized campaign and binding counters, and the outbound
// events. The row insert is the idempotency anchor; counters and events
// only fire when the row was actually created, so recording the same
// terminal outcome twice leaves exactly one row and one count. Row and
// counters are written in a single transaction, so a crash mid-record
// never leaves a row whose counters can no longer be replayed.
type StatsAggregator struct {
	tx        repository.Transactor
	campaigns repository.CampaignRepository
	messages  repository.SentMessageRepository
	notifier  Notifier
	log       *logrus.Entry
}

// noTxTransactor applies the callback against the live repositories
// without a transaction boundary, for stores that have no transactions
// (the in-memory test doubles).
type noTxTransactor struct {
	store repository.OutcomeStore
}

func (t noTxTransactor) Transaction(ctx context.Context, fn func(repository.OutcomeStore) error) error {
	return fn(t.store)
}

func NewStatsAggregator(
	tx repository.Transactor,
	campaigns repository.CampaignRepository,
	messages repository.SentMessageRepository,
	senders repository.SenderRepository,
	notifier Notifier,
	log *logrus.Logger,
) *StatsAggregator {
	if tx == nil {
		tx = noTxTransactor{store: repository.OutcomeStore{
			Campaigns: campaigns,
			Messages:  messages,
			Senders:   senders,
		}}
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if log == nil {
		log = logrus.New()
	}
	return &StatsAggregator{
		tx:        tx,
		campaigns: campaigns,
		messages:  messages,
		notifier:  notifier,
		log:       log.WithField("component", "stats"),
	}
}

// RecordSent persists a successful send and bumps the counters.
func (s *StatsAggregator) RecordSent(ctx context.Context, campaign *models.Campaign, contact *models.Contact, senderID, variantID uint, messageUUID string, attempts int) error {
	now := time.Now()
	inserted := false
	err := s.tx.Transaction(ctx, func(store repository.OutcomeStore) error {
		var err error
		inserted, err = store.Messages.RecordOutcome(ctx, &models.SentMessage{
			CampaignID:        campaign.ID,
			ContactID:         contact.ID,
			SenderID:          senderID,
			CampaignMessageID: variantID,
			MessageUUID:       messageUUID,
			Status:            models.MessageStatusSent,
			Attempts:          attempts,
			SentAt:            &now,
		})
		if err != nil || !inserted {
			return err
		}
		if err := store.Campaigns.IncrementCounters(ctx, campaign.ID, 1, 0, 0); err != nil {
			return err
		}
		if err := store.Senders.IncrementUsage(ctx, senderID); err != nil {
			return err
		}
		return store.Senders.IncrementBindingSent(ctx, campaign.ID, senderID)
	})
	if err != nil {
		return err
	}
	if !inserted {
		s.log.WithFields(logrus.Fields{
			"campaign_id": campaign.ID,
			"contact_id":  contact.ID,
		}).Warn("duplicate outcome record suppressed")
		return nil
	}

	s.notifier.Emit(NewEvent(EventMessageSent, campaign, map[string]interface{}{
		"contact_id":   contact.ID,
		"phone_number": contact.PhoneNumber,
		"sender_id":    senderID,
		"message_uuid": messageUUID,
	}))
	return nil
}

// RecordFailed persists a terminal failure for the contact.
func (s *StatsAggregator) RecordFailed(ctx context.Context, campaign *models.Campaign, contact *models.Contact, senderID, variantID uint, reason string, attempts int) error {
	inserted := false
	err := s.tx.Transaction(ctx, func(store repository.OutcomeStore) error {
		var err error
		inserted, err = store.Messages.RecordOutcome(ctx, &models.SentMessage{
			CampaignID:        campaign.ID,
			ContactID:         contact.ID,
			SenderID:          senderID,
			CampaignMessageID: variantID,
			Status:            models.MessageStatusFailed,
			Attempts:          attempts,
			FailureReason:     reason,
		})
		if err != nil || !inserted {
			return err
		}
		return store.Campaigns.IncrementCounters(ctx, campaign.ID, 0, 1, 0)
	})
	if err != nil || !inserted {
		return err
	}

	s.notifier.Emit(NewEvent(EventMessageFailed, campaign, map[string]interface{}{
		"contact_id":   contact.ID,
		"phone_number": contact.PhoneNumber,
		"sender_id":    senderID,
		"reason":       reason,
	}))
	return nil
}

// RecordReply upgrades a sent row after the gateway reports an inbound
// reply, bumping the campaign and binding counters once per contact.
func (s *StatsAggregator) RecordReply(ctx context.Context, messageUUID string, at time.Time) error {
	var msg *models.SentMessage
	err := s.tx.Transaction(ctx, func(store repository.OutcomeStore) error {
		var err error
		msg, err = store.Messages.MarkReplied(ctx, messageUUID, at)
		if err != nil || msg == nil {
			return err
		}
		if err := store.Campaigns.IncrementCounters(ctx, msg.CampaignID, 0, 0, 1); err != nil {
			return err
		}
		return store.Senders.IncrementBindingReplies(ctx, msg.CampaignID, msg.SenderID)
	})
	if err != nil {
		return err
	}
	if msg == nil {
		return nil // already counted
	}

	campaign, err := s.campaigns.GetByID(ctx, msg.CampaignID)
	if err != nil {
		return err
	}
	s.notifier.Emit(NewEvent(EventReplyReceived, campaign, map[string]interface{}{
		"contact_id":   msg.ContactID,
		"sender_id":    msg.SenderID,
		"message_uuid": messageUUID,
	}))
	return nil
}

// MarkDelivered upgrades a sent row after a delivery receipt.
func (s *StatsAggregator) MarkDelivered(ctx context.Context, messageUUID string) error {
	_, err := s.messages.MarkDelivered(ctx, messageUUID)
	return err
}
