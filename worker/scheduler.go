package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"sendloop/models"
	"sendloop/repository"
)

// Scheduler drives time-based work: launching campaigns whose
// scheduled_at has arrived, resuming campaigns interrupted by a crash,
// and resetting per-sender daily counters at midnight.
type Scheduler struct {
	registry  *Registry
	campaigns repository.CampaignRepository
	senders   repository.SenderRepository
	cron      *cron.Cron
	scanEvery time.Duration
	log       *logrus.Entry
}

func NewScheduler(registry *Registry, campaigns repository.CampaignRepository, senders repository.SenderRepository, scanEvery time.Duration, log *logrus.Logger) *Scheduler {
	if scanEvery <= 0 {
		scanEvery = 30 * time.Second
	}
	if log == nil {
		log = logrus.New()
	}
	return &Scheduler{
		registry:  registry,
		campaigns: campaigns,
		senders:   senders,
		cron:      cron.New(),
		scanEvery: scanEvery,
		log:       log.WithField("component", "scheduler"),
	}
}

// Start registers the cron jobs and begins scanning. Campaigns left in
// running state by a previous process are resumed immediately, before
// the first scan tick.
func (s *Scheduler) Start(ctx context.Context) error {
	s.resumeInterrupted(ctx)

	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.scanEvery), func() {
		s.scanDue(ctx)
	}); err != nil {
		return fmt.Errorf("failed to register schedule scan: %w", err)
	}
	if _, err := s.cron.AddFunc("0 0 * * *", func() {
		s.resetDailyCounts(ctx)
	}); err != nil {
		return fmt.Errorf("failed to register daily reset: %w", err)
	}

	s.cron.Start()
	s.log.WithField("scan_interval", s.scanEvery).Info("scheduler started")
	return nil
}

// Stop halts the cron loop; running campaign workers are not touched.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.log.Info("scheduler stopped")
}

// scanDue launches every scheduled campaign whose time has arrived. A
// campaign that cannot start (no usable sender) pauses with a reason
// instead of being retried every tick.
func (s *Scheduler) scanDue(ctx context.Context) {
	due, err := s.campaigns.ListDueScheduled(ctx, time.Now())
	if err != nil {
		s.log.WithError(err).Error("failed to list due campaigns")
		return
	}
	for i := range due {
		campaign := &due[i]
		log := s.log.WithField("campaign_id", campaign.ID)
		if err := s.registry.Start(ctx, campaign.ID); err != nil {
			switch {
			case errors.Is(err, ErrNoSendersAvailable):
				s.parkUnstartable(ctx, campaign, "no connected senders available at scheduled time")
			case errors.Is(err, ErrNoMessageVariants):
				s.parkUnstartable(ctx, campaign, "campaign has no message variants")
			case errors.Is(err, ErrCampaignFinished):
				// Cancelled between the query and the start; nothing to do.
			default:
				log.WithError(err).Error("failed to start scheduled campaign")
			}
			continue
		}
		log.Info("scheduled campaign launched")
	}
}

func (s *Scheduler) parkUnstartable(ctx context.Context, campaign *models.Campaign, reason string) {
	log := s.log.WithField("campaign_id", campaign.ID)
	if err := s.campaigns.UpdateStatus(ctx, campaign.ID,
		[]string{models.CampaignStatusScheduled}, models.CampaignStatusPaused); err != nil {
		log.WithError(err).Error("failed to park unstartable campaign")
		return
	}
	if err := s.campaigns.SetError(ctx, campaign.ID, reason); err != nil {
		log.WithError(err).Error("failed to persist park reason")
	}
	log.WithField("reason", reason).Warn("scheduled campaign parked as paused")
}

// resumeInterrupted restarts dispatch for campaigns whose rows were left
// in running state by a crashed or restarted process. Position comes
// back from the sent_messages rows, so no message is double-sent.
func (s *Scheduler) resumeInterrupted(ctx context.Context) {
	running, err := s.campaigns.ListRunning(ctx)
	if err != nil {
		s.log.WithError(err).Error("failed to list interrupted campaigns")
		return
	}
	for i := range running {
		campaign := &running[i]
		log := s.log.WithField("campaign_id", campaign.ID)
		if s.registry.IsDispatching(campaign.ID) {
			continue
		}
		if err := s.registry.Start(ctx, campaign.ID); err != nil {
			if errors.Is(err, ErrNoSendersAvailable) {
				s.log.WithField("campaign_id", campaign.ID).Warn("interrupted campaign has no usable sender, leaving for next scan")
				continue
			}
			log.WithError(err).Error("failed to resume interrupted campaign")
			continue
		}
		log.Info("interrupted campaign resumed")
	}
}

func (s *Scheduler) resetDailyCounts(ctx context.Context) {
	n, err := s.senders.ResetDailyCounts(ctx)
	if err != nil {
		s.log.WithError(err).Error("failed to reset sender daily counters")
		return
	}
	s.log.WithField("senders", n).Info("sender daily counters reset")
}
