package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"sendloop/models"
)

const (
	testCampaignID = uint(1)
	testUserID     = uint(7)
)

type testEngine struct {
	registry *Registry
	store    *memStore
	conn     *stubConnection
	notifier *recordingNotifier
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestEngine(t *testing.T, renderer Renderer) *testEngine {
	t.Helper()

	store := newMemStore()
	conn := newStubConnection()
	notifier := &recordingNotifier{}
	if renderer == nil {
		renderer = stubRenderer{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	registry := NewRegistry(ctx, Deps{
		Campaigns:  store,
		Contacts:   store,
		Messages:   store,
		Senders:    senderRepoAdapter{store: store},
		Blacklist:  store,
		Connection: conn,
		Renderer:   renderer,
		Notifier:   notifier,
		Logger:     quietLogger(),
	}, Config{
		PollInterval: 5 * time.Millisecond,
		SendTimeout:  time.Second,
		MaxAttempts:  2,
	})

	return &testEngine{
		registry: registry,
		store:    store,
		conn:     conn,
		notifier: notifier,
	}
}

// seed creates one draft campaign with a single variant, the given
// number of contacts and senders, and a zero pacing window so tests run
// immediately.
func (e *testEngine) seed(contacts, senders int) {
	campaign := &models.Campaign{
		Model:        gorm.Model{ID: testCampaignID},
		UserID:       testUserID,
		Name:         "launch blast",
		Status:       models.CampaignStatusDraft,
		MessageOrder: models.MessageOrderRoundRobin,
		Messages: []models.CampaignMessage{
			{Model: gorm.Model{ID: 10}, CampaignID: testCampaignID, Body: "hey {{name}}", Position: 0},
		},
	}
	e.store.addCampaign(campaign)

	for i := 1; i <= senders; i++ {
		e.store.addSender(testCampaignID, &models.Sender{
			Model:       gorm.Model{ID: uint(i)},
			UserID:      testUserID,
			Name:        fmt.Sprintf("account-%d", i),
			PhoneNumber: fmt.Sprintf("+1555000%04d", i),
			IsActive:    true,
		})
	}
	for i := 1; i <= contacts; i++ {
		e.store.addContact(models.Contact{
			Model:       gorm.Model{ID: uint(i)},
			PhoneNumber: fmt.Sprintf("+1666000%04d", i),
			Name:        fmt.Sprintf("contact %d", i),
		})
	}
}

func (e *testEngine) startAndWait(t *testing.T) {
	t.Helper()
	require.NoError(t, e.registry.Start(context.Background(), testCampaignID))
	e.waitDone(t)
}

func (e *testEngine) waitDone(t *testing.T) {
	t.Helper()
	select {
	case <-e.registry.Done(testCampaignID):
	case <-time.After(5 * time.Second):
		t.Fatal("campaign worker did not finish in time")
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestCampaignRunsToCompletion(t *testing.T) {
	e := newTestEngine(t, nil)
	e.seed(5, 2)

	e.startAndWait(t)

	assert.Equal(t, models.CampaignStatusCompleted, e.store.campaignStatus(testCampaignID))
	assert.Equal(t, 5, e.store.messageCount())
	assert.Equal(t, 5, e.conn.callCount())

	campaign, _ := e.store.GetByID(context.Background(), testCampaignID)
	assert.Equal(t, 5, campaign.TotalRecipients)
	assert.Equal(t, 5, campaign.TotalSent)
	assert.Equal(t, 0, campaign.TotalFailed)
	assert.NotNil(t, campaign.CompletedAt)

	assert.True(t, e.notifier.has(EventCampaignStarted))
	assert.True(t, e.notifier.has(EventCampaignCompleted))

	for i := 1; i <= 5; i++ {
		msg := e.store.messageFor(testCampaignID, uint(i))
		require.NotNil(t, msg)
		assert.Equal(t, models.MessageStatusSent, msg.Status)
		assert.Equal(t, 1, msg.Attempts)
		assert.NotEmpty(t, msg.MessageUUID)
	}
}

func TestSendsRotateAcrossSenders(t *testing.T) {
	e := newTestEngine(t, nil)
	e.seed(6, 3)

	e.startAndWait(t)

	used := make(map[uint]int)
	e.conn.mu.Lock()
	for _, call := range e.conn.calls {
		used[call.SenderID]++
	}
	e.conn.mu.Unlock()

	// Longest-idle rotation with a zero pacing window spreads sends over
	// every account.
	assert.Len(t, used, 3)
	for senderID, n := range used {
		assert.Equal(t, 2, n, "sender %d share", senderID)
	}
}

func TestInvalidRecipientIsNotRetried(t *testing.T) {
	e := newTestEngine(t, nil)
	e.seed(3, 1)

	bad := "+16660000002"
	e.conn.setSend(func(req SendRequest) error {
		if req.Recipient == bad {
			return fmt.Errorf("%w: status 422", ErrInvalidRecipient)
		}
		return nil
	})

	e.startAndWait(t)

	assert.Equal(t, models.CampaignStatusCompleted, e.store.campaignStatus(testCampaignID))
	assert.Equal(t, 3, e.conn.callCount())

	msg := e.store.messageFor(testCampaignID, 2)
	require.NotNil(t, msg)
	assert.Equal(t, models.MessageStatusFailed, msg.Status)
	assert.Equal(t, 1, msg.Attempts)
	assert.Contains(t, msg.FailureReason, "status 422")

	campaign, _ := e.store.GetByID(context.Background(), testCampaignID)
	assert.Equal(t, 2, campaign.TotalSent)
	assert.Equal(t, 1, campaign.TotalFailed)
}

func TestTransientFailureRetriesThenExhausts(t *testing.T) {
	e := newTestEngine(t, nil)
	e.seed(2, 1)

	e.conn.setSend(func(req SendRequest) error {
		return errors.New("gateway hiccup")
	})

	e.startAndWait(t)

	// MaxAttempts 2: every contact gets exactly two tries.
	assert.Equal(t, 4, e.conn.callCount())
	assert.Equal(t, models.CampaignStatusCompleted, e.store.campaignStatus(testCampaignID))

	for i := 1; i <= 2; i++ {
		msg := e.store.messageFor(testCampaignID, uint(i))
		require.NotNil(t, msg)
		assert.Equal(t, models.MessageStatusFailed, msg.Status)
		assert.Equal(t, 2, msg.Attempts)
		assert.Contains(t, msg.FailureReason, "retries exhausted")
	}

	campaign, _ := e.store.GetByID(context.Background(), testCampaignID)
	assert.Equal(t, 0, campaign.TotalSent)
	assert.Equal(t, 2, campaign.TotalFailed)
}

func TestTransientFailureSucceedsOnRetry(t *testing.T) {
	e := newTestEngine(t, nil)
	e.seed(1, 1)

	var calls int32
	e.conn.setSend(func(req SendRequest) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			return errors.New("gateway hiccup")
		}
		return nil
	})

	e.startAndWait(t)

	msg := e.store.messageFor(testCampaignID, 1)
	require.NotNil(t, msg)
	assert.Equal(t, models.MessageStatusSent, msg.Status)
	assert.Equal(t, 2, msg.Attempts)
}

func TestSenderDisconnectDoesNotConsumeAttemptBudget(t *testing.T) {
	e := newTestEngine(t, nil)
	e.seed(1, 2)

	var calls int32
	e.conn.setSend(func(req SendRequest) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			return fmt.Errorf("%w: status 401", ErrSenderDisconnected)
		}
		return nil
	})

	e.startAndWait(t)

	msg := e.store.messageFor(testCampaignID, 1)
	require.NotNil(t, msg)
	assert.Equal(t, models.MessageStatusSent, msg.Status)
	assert.Equal(t, 1, msg.Attempts)

	// The failing sender keeps the error for operator visibility.
	e.store.mu.Lock()
	var flagged bool
	for _, s := range e.store.senders {
		if s.LastError != "" {
			flagged = true
		}
	}
	e.store.mu.Unlock()
	assert.True(t, flagged)
}

func TestPersistentDisconnectAutoPauses(t *testing.T) {
	e := newTestEngine(t, nil)
	e.seed(1, 1)

	// Status endpoint keeps claiming the session is up while every send
	// comes back disconnected.
	e.conn.setSend(func(req SendRequest) error {
		return fmt.Errorf("%w: status 401", ErrSenderDisconnected)
	})

	require.NoError(t, e.registry.Start(context.Background(), testCampaignID))
	e.waitDone(t)

	assert.Equal(t, models.CampaignStatusPaused, e.store.campaignStatus(testCampaignID))
	assert.True(t, e.notifier.has(EventCampaignPaused))

	// The dead sender sits out its backoff instead of being reacquired
	// in a tight loop: exactly one attempt, no outcome row burned.
	assert.Equal(t, 1, e.conn.callCount())
	assert.Equal(t, 0, e.store.messageCount())

	campaign, _ := e.store.GetByID(context.Background(), testCampaignID)
	assert.NotEmpty(t, campaign.LastError)
}

func TestRenderFailureIsTerminal(t *testing.T) {
	e := newTestEngine(t, stubRenderer{failOn: "+16660000001"})
	e.seed(2, 1)

	e.startAndWait(t)

	// Nothing was handed to the gateway for the unrenderable contact.
	assert.NotContains(t, e.conn.sentTo(), "+16660000001")

	msg := e.store.messageFor(testCampaignID, 1)
	require.NotNil(t, msg)
	assert.Equal(t, models.MessageStatusFailed, msg.Status)
	assert.Contains(t, msg.FailureReason, "render:")

	other := e.store.messageFor(testCampaignID, 2)
	require.NotNil(t, other)
	assert.Equal(t, models.MessageStatusSent, other.Status)
}

func TestBlacklistedContactIsSkipped(t *testing.T) {
	e := newTestEngine(t, nil)
	e.seed(3, 1)
	e.store.Add(context.Background(), &models.BlacklistEntry{PhoneNumber: "+16660000002"})

	e.startAndWait(t)

	assert.NotContains(t, e.conn.sentTo(), "+16660000002")
	assert.Equal(t, 2, e.store.messageCount())

	campaign, _ := e.store.GetByID(context.Background(), testCampaignID)
	assert.Equal(t, 2, campaign.TotalRecipients)
	assert.Equal(t, 2, campaign.TotalSent)
}

func TestPauseAndResumeDoesNotDoubleSend(t *testing.T) {
	e := newTestEngine(t, nil)
	e.seed(6, 1)

	e.conn.setSend(func(req SendRequest) error {
		time.Sleep(10 * time.Millisecond)
		return nil
	})

	require.NoError(t, e.registry.Start(context.Background(), testCampaignID))
	waitFor(t, func() bool { return e.conn.callCount() >= 2 }, "no sends observed before pause")

	require.NoError(t, e.registry.Pause(context.Background(), testCampaignID))
	e.waitDone(t)

	assert.Equal(t, models.CampaignStatusPaused, e.store.campaignStatus(testCampaignID))
	sentBeforeResume := e.store.messageCount()
	assert.Less(t, sentBeforeResume, 6)
	assert.True(t, e.notifier.has(EventCampaignPaused))

	require.NoError(t, e.registry.Resume(context.Background(), testCampaignID))
	e.waitDone(t)

	assert.Equal(t, models.CampaignStatusCompleted, e.store.campaignStatus(testCampaignID))
	assert.Equal(t, 6, e.store.messageCount())
	assert.True(t, e.notifier.has(EventCampaignResumed))

	// Every recipient got exactly one message across both halves.
	seen := make(map[string]int)
	for _, phone := range e.conn.sentTo() {
		seen[phone]++
	}
	for phone, n := range seen {
		assert.Equal(t, 1, n, "recipient %s", phone)
	}

	campaign, _ := e.store.GetByID(context.Background(), testCampaignID)
	assert.Equal(t, 6, campaign.TotalSent)
	assert.Equal(t, 6, campaign.TotalRecipients)
}

func TestPauseIsIdempotent(t *testing.T) {
	e := newTestEngine(t, nil)
	e.seed(3, 1)

	e.conn.setSend(func(req SendRequest) error {
		time.Sleep(10 * time.Millisecond)
		return nil
	})

	require.NoError(t, e.registry.Start(context.Background(), testCampaignID))
	waitFor(t, func() bool { return e.conn.callCount() >= 1 }, "no sends observed before pause")

	require.NoError(t, e.registry.Pause(context.Background(), testCampaignID))
	e.waitDone(t)
	require.NoError(t, e.registry.Pause(context.Background(), testCampaignID))

	assert.Equal(t, models.CampaignStatusPaused, e.store.campaignStatus(testCampaignID))
}

func TestCancelStopsTerminally(t *testing.T) {
	e := newTestEngine(t, nil)
	e.seed(6, 1)

	e.conn.setSend(func(req SendRequest) error {
		time.Sleep(10 * time.Millisecond)
		return nil
	})

	require.NoError(t, e.registry.Start(context.Background(), testCampaignID))
	waitFor(t, func() bool { return e.conn.callCount() >= 1 }, "no sends observed before cancel")

	require.NoError(t, e.registry.Cancel(context.Background(), testCampaignID))
	e.waitDone(t)

	assert.Equal(t, models.CampaignStatusCancelled, e.store.campaignStatus(testCampaignID))
	assert.True(t, e.notifier.has(EventCampaignCancelled))

	// Terminal: restart is rejected.
	err := e.registry.Start(context.Background(), testCampaignID)
	assert.ErrorIs(t, err, ErrCampaignFinished)

	// Cancelling again is a no-op success.
	assert.NoError(t, e.registry.Cancel(context.Background(), testCampaignID))
}

func TestStartRequiresUsableSender(t *testing.T) {
	e := newTestEngine(t, nil)
	e.seed(2, 1)
	e.conn.setConnected(func(senderID uint) bool { return false })

	err := e.registry.Start(context.Background(), testCampaignID)
	assert.ErrorIs(t, err, ErrNoSendersAvailable)
	assert.Equal(t, models.CampaignStatusDraft, e.store.campaignStatus(testCampaignID))
}

func TestStartRequiresMessageVariants(t *testing.T) {
	e := newTestEngine(t, nil)
	e.seed(2, 1)
	e.store.mu.Lock()
	e.store.campaigns[testCampaignID].Messages = nil
	e.store.mu.Unlock()

	err := e.registry.Start(context.Background(), testCampaignID)
	assert.ErrorIs(t, err, ErrNoMessageVariants)
}

func TestAllSendersDisconnectingMidRunAutoPauses(t *testing.T) {
	e := newTestEngine(t, nil)
	e.seed(5, 1)

	var disconnected atomic.Bool
	e.conn.setConnected(func(senderID uint) bool { return !disconnected.Load() })
	e.conn.setSend(func(req SendRequest) error {
		disconnected.Store(true)
		return nil
	})

	require.NoError(t, e.registry.Start(context.Background(), testCampaignID))
	e.waitDone(t)

	assert.Equal(t, models.CampaignStatusPaused, e.store.campaignStatus(testCampaignID))
	campaign, _ := e.store.GetByID(context.Background(), testCampaignID)
	assert.NotEmpty(t, campaign.LastError)
	assert.True(t, e.notifier.has(EventCampaignPaused))

	// Progress so far is preserved.
	assert.Equal(t, 1, e.store.messageCount())
}

// slowMarkStartedStore blocks the first MarkStarted call until released,
// simulating a slow database during campaign start.
type slowMarkStartedStore struct {
	*memStore
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *slowMarkStartedStore) MarkStarted(ctx context.Context, id uint, total int) error {
	s.once.Do(func() { close(s.entered) })
	<-s.release
	return s.memStore.MarkStarted(ctx, id, total)
}

func TestStartDoesNotBlockOtherControlCalls(t *testing.T) {
	store := newMemStore()
	slow := &slowMarkStartedStore{
		memStore: store,
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	registry := NewRegistry(ctx, Deps{
		Campaigns:  slow,
		Contacts:   store,
		Messages:   store,
		Senders:    senderRepoAdapter{store: store},
		Blacklist:  store,
		Connection: newStubConnection(),
		Renderer:   stubRenderer{},
		Logger:     quietLogger(),
	}, Config{
		PollInterval: 5 * time.Millisecond,
		SendTimeout:  time.Second,
		MaxAttempts:  2,
	})

	store.addCampaign(&models.Campaign{
		Model:  gorm.Model{ID: testCampaignID},
		UserID: testUserID,
		Status: models.CampaignStatusDraft,
		Messages: []models.CampaignMessage{
			{Model: gorm.Model{ID: 10}, CampaignID: testCampaignID, Body: "hey"},
		},
	})
	store.addSender(testCampaignID, &models.Sender{Model: gorm.Model{ID: 1}, IsActive: true})
	store.addContact(models.Contact{Model: gorm.Model{ID: 1}, PhoneNumber: "+16660000001"})
	store.addCampaign(&models.Campaign{
		Model:  gorm.Model{ID: 2},
		UserID: testUserID,
		Status: models.CampaignStatusPaused,
	})

	startErr := make(chan error, 1)
	go func() { startErr <- registry.Start(context.Background(), testCampaignID) }()
	<-slow.entered

	// Campaign 1's start is stuck in a DB write; control calls for other
	// campaigns must still go through.
	pauseErr := make(chan error, 1)
	go func() { pauseErr <- registry.Pause(context.Background(), 2) }()
	select {
	case err := <-pauseErr:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("pause blocked while another campaign was starting")
	}

	close(slow.release)
	require.NoError(t, <-startErr)
	select {
	case <-registry.Done(testCampaignID):
	case <-time.After(5 * time.Second):
		t.Fatal("campaign worker did not finish in time")
	}
}

func TestDuplicateOutcomeDoesNotDoubleCount(t *testing.T) {
	e := newTestEngine(t, nil)
	e.seed(1, 1)
	e.startAndWait(t)

	campaign, _ := e.store.GetByID(context.Background(), testCampaignID)
	stats := e.registry.Stats()
	contact := &models.Contact{Model: gorm.Model{ID: 1}, PhoneNumber: "+16660000001"}

	// Replaying the outcome is suppressed by the row's uniqueness.
	require.NoError(t, stats.RecordSent(context.Background(), campaign, contact, 1, 10, "replay-uuid", 1))

	after, _ := e.store.GetByID(context.Background(), testCampaignID)
	assert.Equal(t, campaign.TotalSent, after.TotalSent)
	assert.Equal(t, 1, e.store.messageCount())
}

func TestReplyReceiptCountsOnce(t *testing.T) {
	e := newTestEngine(t, nil)
	e.seed(1, 1)
	e.startAndWait(t)

	msg := e.store.messageFor(testCampaignID, 1)
	require.NotNil(t, msg)

	stats := e.registry.Stats()
	now := time.Now()
	require.NoError(t, stats.RecordReply(context.Background(), msg.MessageUUID, now))
	require.NoError(t, stats.RecordReply(context.Background(), msg.MessageUUID, now))

	campaign, _ := e.store.GetByID(context.Background(), testCampaignID)
	assert.Equal(t, 1, campaign.TotalReplies)

	replied := e.store.messageFor(testCampaignID, 1)
	assert.Equal(t, models.MessageStatusReplied, replied.Status)
	assert.NotNil(t, replied.RepliedAt)
}
