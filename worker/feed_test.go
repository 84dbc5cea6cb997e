package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"sendloop/models"
)

func feedFixture(t *testing.T, contacts int) (*ContactFeed, *memStore) {
	t.Helper()
	store := newMemStore()
	campaign := &models.Campaign{
		Model:  gorm.Model{ID: testCampaignID},
		UserID: testUserID,
		Status: models.CampaignStatusRunning,
	}
	store.addCampaign(campaign)
	for i := 1; i <= contacts; i++ {
		store.addContact(models.Contact{
			Model:       gorm.Model{ID: uint(i)},
			PhoneNumber: phoneFor(i),
		})
	}
	return NewContactFeed(campaign, store, store, 2), store
}

func phoneFor(i int) string {
	return "+1666000000" + string(rune('0'+i))
}

func TestFeedYieldsContactsInCreationOrder(t *testing.T) {
	feed, _ := feedFixture(t, 3)

	for i := 1; i <= 3; i++ {
		contact, attempt, err := feed.Next(context.Background())
		require.NoError(t, err)
		require.NotNil(t, contact)
		assert.Equal(t, uint(i), contact.ID)
		assert.Equal(t, 1, attempt)
	}

	contact, _, err := feed.Next(context.Background())
	require.NoError(t, err)
	assert.Nil(t, contact)
}

func TestFeedSkipsHandledContactsOnResume(t *testing.T) {
	feed, store := feedFixture(t, 3)

	// Contact 1 already has an outcome row from a previous run.
	_, err := store.RecordOutcome(context.Background(), &models.SentMessage{
		CampaignID: testCampaignID,
		ContactID:  1,
		Status:     models.MessageStatusSent,
	})
	require.NoError(t, err)

	contact, _, err := feed.Next(context.Background())
	require.NoError(t, err)
	require.NotNil(t, contact)
	assert.Equal(t, uint(2), contact.ID)
}

func TestFeedDrainsRetriesAfterFreshContacts(t *testing.T) {
	feed, _ := feedFixture(t, 2)

	first, _, err := feed.Next(context.Background())
	require.NoError(t, err)
	require.True(t, feed.Requeue(first, 1))

	second, _, err := feed.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint(2), second.ID)

	// Fresh supply exhausted; the retry comes back with attempt 2.
	retried, attempt, err := feed.Next(context.Background())
	require.NoError(t, err)
	require.NotNil(t, retried)
	assert.Equal(t, first.ID, retried.ID)
	assert.Equal(t, 2, attempt)
	assert.Equal(t, 0, feed.PendingRetries())
}

func TestFeedRequeueRespectsAttemptBudget(t *testing.T) {
	feed, _ := feedFixture(t, 1)

	contact, _, err := feed.Next(context.Background())
	require.NoError(t, err)

	assert.True(t, feed.Requeue(contact, 1))
	assert.False(t, feed.Requeue(contact, 2))
}

func TestFeedRequeueSameAttemptKeepsBudget(t *testing.T) {
	feed, _ := feedFixture(t, 1)

	contact, _, err := feed.Next(context.Background())
	require.NoError(t, err)

	feed.RequeueSameAttempt(contact, 1)
	retried, attempt, err := feed.Next(context.Background())
	require.NoError(t, err)
	require.NotNil(t, retried)
	assert.Equal(t, 1, attempt)
}

func TestFeedRechecksBlacklistOnRetry(t *testing.T) {
	feed, store := feedFixture(t, 1)

	contact, _, err := feed.Next(context.Background())
	require.NoError(t, err)
	require.True(t, feed.Requeue(contact, 1))

	// Opt-out lands while the retry is queued.
	require.NoError(t, store.Add(context.Background(), &models.BlacklistEntry{
		PhoneNumber: contact.PhoneNumber,
	}))

	retried, _, err := feed.Next(context.Background())
	require.NoError(t, err)
	assert.Nil(t, retried)
}
