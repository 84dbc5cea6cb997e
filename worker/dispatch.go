package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"sendloop/models"
)

// Renderer substitutes a contact's fields into a message variant. A
// render failure will not succeed on retry, so it is treated like a
// permanently invalid recipient: recorded as failed, never retried.
type Renderer interface {
	Render(body string, contact *models.Contact, campaign *models.Campaign) (string, error)
}

// run is the per-campaign dispatch loop. One send attempt is in flight
// at a time; the loop exits on feed exhaustion, pause, cancel, shutdown
// or an unrecoverable persistence error. Writes go through dbCtx, which
// survives the stop signal, so the attempt in flight is always persisted
// before the loop unwinds.
func (r *Registry) run(ctx context.Context, w *campaignWorker, campaign *models.Campaign, senders []models.Sender) {
	defer close(w.done)
	defer r.remove(w.campaignID)

	log := r.log.WithFields(logrus.Fields{
		"component":   "dispatch",
		"campaign_id": campaign.ID,
	})
	dbCtx := context.WithoutCancel(ctx)

	defer func() {
		if rec := recover(); rec != nil {
			sentry.CurrentHub().Recover(rec)
			r.failCampaign(dbCtx, campaign, log, fmt.Errorf("dispatch panic: %v", rec))
		}
	}()

	feed := NewContactFeed(campaign, r.deps.Contacts, r.deps.Blacklist, r.cfg.MaxAttempts)
	minDelay, maxDelay := campaign.PacingWindow()
	variantIdx := 0

	log.WithFields(logrus.Fields{
		"senders":      len(senders),
		"min_interval": minDelay,
		"max_interval": maxDelay,
	}).Info("campaign dispatch started")

	for {
		if ctx.Err() != nil {
			r.finish(dbCtx, campaign, w, log)
			return
		}

		contact, attemptNum, err := feed.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				r.finish(dbCtx, campaign, w, log)
				return
			}
			r.failCampaign(dbCtx, campaign, log, fmt.Errorf("contact feed: %w", err))
			return
		}
		if contact == nil {
			r.complete(dbCtx, campaign, log)
			return
		}

		sender, ok := r.acquireSender(ctx, campaign, senders, log)
		if !ok {
			if ctx.Err() != nil {
				r.finish(dbCtx, campaign, w, log)
			}
			// acquireSender already paused the campaign otherwise.
			return
		}

		variant := r.pickVariant(campaign, &variantIdx)
		body, err := r.deps.Renderer.Render(variant.Body, contact, campaign)
		if err != nil {
			log.WithField("contact_id", contact.ID).WithError(err).Warn("render failed, recording terminal failure")
			if err := r.stats.RecordFailed(dbCtx, campaign, contact, sender.ID, variant.ID, "render: "+err.Error(), attemptNum); err != nil {
				r.failCampaign(dbCtx, campaign, log, err)
				return
			}
			continue
		}

		sendCtx, cancelSend := context.WithTimeout(ctx, r.cfg.SendTimeout)
		sendErr := r.deps.Connection.Send(sendCtx, SendRequest{
			SenderID:  sender.ID,
			Recipient: contact.PhoneNumber,
			Body:      body,
			MediaURL:  variant.MediaURL,
		})
		cancelSend()

		// Every attempt, good or bad, draws a fresh delay for the sender.
		r.pool.RecordAttempt(sender.ID, minDelay, maxDelay)

		outcome := Classify(sendErr)
		if err := r.handleOutcome(dbCtx, campaign, feed, contact, sender, variant, attemptNum, outcome, sendErr, log); err != nil {
			r.failCampaign(dbCtx, campaign, log, err)
			return
		}
	}
}

// acquireSender blocks until a bound sender leaves its pacing window,
// polling with a short cancellable sleep. It returns ok=false when the
// context was cancelled or when the campaign had to auto-pause because
// no sender is usable at all.
func (r *Registry) acquireSender(ctx context.Context, campaign *models.Campaign, senders []models.Sender, log *logrus.Entry) (*models.Sender, bool) {
	for {
		sender, wait, err := r.pool.Acquire(ctx, senders)
		if err != nil {
			if ctx.Err() != nil {
				return nil, false
			}
			if errors.Is(err, ErrNoSendersAvailable) {
				r.autoPause(context.WithoutCancel(ctx), campaign, log, "no connected senders available")
				return nil, false
			}
			r.failCampaign(context.WithoutCancel(ctx), campaign, log, err)
			return nil, false
		}
		if sender != nil {
			return sender, true
		}
		if wait <= 0 || wait > r.cfg.PollInterval {
			wait = r.cfg.PollInterval
		}
		if !sleepCtx(ctx, wait) {
			return nil, false
		}
	}
}

func (r *Registry) handleOutcome(ctx context.Context, campaign *models.Campaign, feed *ContactFeed, contact *models.Contact, sender *models.Sender, variant *models.CampaignMessage, attemptNum int, outcome Outcome, sendErr error, log *logrus.Entry) error {
	fields := logrus.Fields{
		"contact_id": contact.ID,
		"sender_id":  sender.ID,
		"attempt":    attemptNum,
		"outcome":    outcome.String(),
	}

	switch outcome {
	case OutcomeSent:
		log.WithFields(fields).Debug("message sent")
		return r.stats.RecordSent(ctx, campaign, contact, sender.ID, variant.ID, uuid.NewString(), attemptNum)

	case OutcomeInvalidRecipient:
		log.WithFields(fields).WithError(sendErr).Info("recipient rejected, recording terminal failure")
		return r.stats.RecordFailed(ctx, campaign, contact, sender.ID, variant.ID, sendErr.Error(), attemptNum)

	case OutcomeSenderDisconnected:
		// Not the contact's fault: requeue without consuming budget so it
		// gets a clean try on another sender. The failing sender sits out
		// a backoff; if that drains the pool the campaign auto-pauses.
		log.WithFields(fields).WithError(sendErr).Warn("sender disconnected mid-campaign")
		r.pool.MarkDisconnected(sender.ID)
		feed.RequeueSameAttempt(contact, attemptNum)
		return r.deps.Senders.SetError(ctx, sender.ID, sendErr.Error())

	case OutcomeRateLimited, OutcomeTransient:
		if outcome == OutcomeRateLimited {
			minDelay, maxDelay := campaign.PacingWindow()
			r.pool.Penalize(sender.ID, minDelay, maxDelay)
		}
		if feed.Requeue(contact, attemptNum) {
			log.WithFields(fields).WithError(sendErr).Debug("send failed, contact re-enqueued")
			return nil
		}
		log.WithFields(fields).WithError(sendErr).Info("attempt budget exhausted, recording terminal failure")
		return r.stats.RecordFailed(ctx, campaign, contact, sender.ID, variant.ID,
			fmt.Sprintf("retries exhausted: %v", sendErr), attemptNum)
	}
	return nil
}

func (r *Registry) pickVariant(campaign *models.Campaign, idx *int) *models.CampaignMessage {
	msgs := campaign.Messages
	if len(msgs) == 1 {
		return &msgs[0]
	}
	if campaign.MessageOrder == models.MessageOrderRandom {
		return &msgs[r.pacer.Intn(len(msgs))]
	}
	m := &msgs[*idx%len(msgs)]
	*idx++
	return m
}

// finish handles a stop signal: paused and cancelled persist the
// respective status; a plain context cancellation (process shutdown)
// leaves the row running so the next boot resumes it.
func (r *Registry) finish(ctx context.Context, campaign *models.Campaign, w *campaignWorker, log *logrus.Entry) {
	switch w.stopReason() {
	case stopPause:
		if err := r.deps.Campaigns.UpdateStatus(ctx, campaign.ID,
			[]string{models.CampaignStatusRunning}, models.CampaignStatusPaused); err != nil {
			log.WithError(err).Error("failed to persist paused status")
			return
		}
		log.Info("campaign paused")
		r.deps.Notifier.Emit(NewEvent(EventCampaignPaused, campaign, nil))

	case stopCancel:
		if err := r.deps.Campaigns.UpdateStatus(ctx, campaign.ID,
			[]string{models.CampaignStatusRunning, models.CampaignStatusPaused}, models.CampaignStatusCancelled); err != nil {
			log.WithError(err).Error("failed to persist cancelled status")
			return
		}
		log.Info("campaign cancelled")
		r.deps.Notifier.Emit(NewEvent(EventCampaignCancelled, campaign, nil))

	default:
		log.Info("dispatch stopped by shutdown, campaign left running for resume")
	}
}

func (r *Registry) complete(ctx context.Context, campaign *models.Campaign, log *logrus.Entry) {
	if err := r.deps.Campaigns.MarkCompleted(ctx, campaign.ID); err != nil {
		log.WithError(err).Error("failed to persist completed status")
		return
	}
	final, err := r.deps.Campaigns.GetByID(ctx, campaign.ID)
	if err != nil {
		final = campaign
	}
	log.WithFields(logrus.Fields{
		"total_sent":   final.TotalSent,
		"total_failed": final.TotalFailed,
	}).Info("campaign completed")
	r.deps.Notifier.Emit(NewEvent(EventCampaignCompleted, final, map[string]interface{}{
		"total_sent":    final.TotalSent,
		"total_failed":  final.TotalFailed,
		"total_replies": final.TotalReplies,
	}))
}

// autoPause is the NoSendersAvailable path: the campaign pauses with a
// user-visible reason instead of stalling or crashing.
func (r *Registry) autoPause(ctx context.Context, campaign *models.Campaign, log *logrus.Entry, reason string) {
	if err := r.deps.Campaigns.UpdateStatus(ctx, campaign.ID,
		[]string{models.CampaignStatusRunning}, models.CampaignStatusPaused); err != nil {
		log.WithError(err).Error("failed to persist auto-pause")
		return
	}
	if err := r.deps.Campaigns.SetError(ctx, campaign.ID, reason); err != nil {
		log.WithError(err).Error("failed to persist auto-pause reason")
	}
	log.WithField("reason", reason).Warn("campaign auto-paused")
	r.deps.Notifier.Emit(NewEvent(EventCampaignPaused, campaign, map[string]interface{}{
		"reason": reason,
	}))
}

// failCampaign handles unrecoverable conditions, distinct from
// per-contact failures: the campaign moves to failed, other campaigns
// are unaffected.
func (r *Registry) failCampaign(ctx context.Context, campaign *models.Campaign, log *logrus.Entry, cause error) {
	sentry.CaptureException(cause)
	log.WithError(cause).Error("campaign failed")
	if err := r.deps.Campaigns.UpdateStatus(ctx, campaign.ID,
		[]string{models.CampaignStatusRunning, models.CampaignStatusPaused}, models.CampaignStatusFailed); err != nil {
		log.WithError(err).Error("failed to persist failed status")
	}
	if err := r.deps.Campaigns.SetError(ctx, campaign.ID, cause.Error()); err != nil {
		log.WithError(err).Error("failed to persist failure reason")
	}
	r.deps.Notifier.Emit(NewEvent(EventCampaignFailed, campaign, map[string]interface{}{
		"error": cause.Error(),
	}))
}

// sleepCtx sleeps for d unless the context is cancelled first. Returns
// false when cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-tmr.C:
		return true
	}
}
