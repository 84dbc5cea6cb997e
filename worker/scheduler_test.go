package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sendloop/models"
)

func newTestScheduler(e *testEngine) *Scheduler {
	return NewScheduler(e.registry, e.store, senderRepoAdapter{store: e.store}, time.Second, quietLogger())
}

func TestScanLaunchesDueCampaign(t *testing.T) {
	e := newTestEngine(t, nil)
	e.seed(2, 1)

	past := time.Now().Add(-time.Minute)
	e.store.mu.Lock()
	e.store.campaigns[testCampaignID].Status = models.CampaignStatusScheduled
	e.store.campaigns[testCampaignID].ScheduledAt = &past
	e.store.mu.Unlock()

	s := newTestScheduler(e)
	s.scanDue(context.Background())
	e.waitDone(t)

	assert.Equal(t, models.CampaignStatusCompleted, e.store.campaignStatus(testCampaignID))
	assert.Equal(t, 2, e.store.messageCount())
}

func TestScanIgnoresFutureCampaigns(t *testing.T) {
	e := newTestEngine(t, nil)
	e.seed(2, 1)

	future := time.Now().Add(time.Hour)
	e.store.mu.Lock()
	e.store.campaigns[testCampaignID].Status = models.CampaignStatusScheduled
	e.store.campaigns[testCampaignID].ScheduledAt = &future
	e.store.mu.Unlock()

	s := newTestScheduler(e)
	s.scanDue(context.Background())

	assert.Equal(t, models.CampaignStatusScheduled, e.store.campaignStatus(testCampaignID))
	assert.Equal(t, 0, e.conn.callCount())
}

func TestScanParksDueCampaignWithNoUsableSender(t *testing.T) {
	e := newTestEngine(t, nil)
	e.seed(2, 1)
	e.conn.setConnected(func(senderID uint) bool { return false })

	past := time.Now().Add(-time.Minute)
	e.store.mu.Lock()
	e.store.campaigns[testCampaignID].Status = models.CampaignStatusScheduled
	e.store.campaigns[testCampaignID].ScheduledAt = &past
	e.store.mu.Unlock()

	s := newTestScheduler(e)
	s.scanDue(context.Background())

	assert.Equal(t, models.CampaignStatusPaused, e.store.campaignStatus(testCampaignID))
	campaign, _ := e.store.GetByID(context.Background(), testCampaignID)
	assert.NotEmpty(t, campaign.LastError)
}

func TestBootResumesInterruptedCampaign(t *testing.T) {
	e := newTestEngine(t, nil)
	e.seed(3, 1)

	// Row left running by a crashed process, one contact already handled.
	e.store.mu.Lock()
	e.store.campaigns[testCampaignID].Status = models.CampaignStatusRunning
	e.store.campaigns[testCampaignID].TotalRecipients = 3
	e.store.mu.Unlock()
	_, err := e.store.RecordOutcome(context.Background(), &models.SentMessage{
		CampaignID: testCampaignID,
		ContactID:  1,
		Status:     models.MessageStatusSent,
	})
	require.NoError(t, err)

	s := newTestScheduler(e)
	s.resumeInterrupted(context.Background())
	e.waitDone(t)

	assert.Equal(t, models.CampaignStatusCompleted, e.store.campaignStatus(testCampaignID))
	// Only the two unhandled contacts were sent.
	assert.Equal(t, 2, e.conn.callCount())
	assert.NotContains(t, e.conn.sentTo(), "+16660000001")
}

func TestResetDailyCounts(t *testing.T) {
	e := newTestEngine(t, nil)
	e.seed(1, 2)

	e.store.mu.Lock()
	e.store.senders[1].SentToday = 40
	e.store.senders[2].SentToday = 12
	e.store.mu.Unlock()

	s := newTestScheduler(e)
	s.resetDailyCounts(context.Background())

	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	assert.Equal(t, 0, e.store.senders[1].SentToday)
	assert.Equal(t, 0, e.store.senders[2].SentToday)
}
