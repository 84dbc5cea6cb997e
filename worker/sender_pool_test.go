package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"sendloop/models"
)

func poolSenders(n int) []models.Sender {
	out := make([]models.Sender, n)
	for i := range out {
		out[i] = models.Sender{
			Model:    gorm.Model{ID: uint(i + 1)},
			IsActive: true,
		}
	}
	return out
}

func TestAcquireErrorsWhenNothingConnected(t *testing.T) {
	conn := newStubConnection()
	conn.setConnected(func(senderID uint) bool { return false })
	pool := NewSenderPool(conn, NewPacer())

	sender, _, err := pool.Acquire(context.Background(), poolSenders(3))
	assert.Nil(t, sender)
	assert.ErrorIs(t, err, ErrNoSendersAvailable)
}

func TestAcquireSkipsSendersOverDailyCap(t *testing.T) {
	pool := NewSenderPool(newStubConnection(), NewPacer())
	senders := poolSenders(2)
	senders[0].DailyLimit = 10
	senders[0].SentToday = 10

	sender, _, err := pool.Acquire(context.Background(), senders)
	require.NoError(t, err)
	require.NotNil(t, sender)
	assert.Equal(t, uint(2), sender.ID)
}

func TestAcquirePrefersLongestIdleSender(t *testing.T) {
	pool := NewSenderPool(newStubConnection(), NewPacer())
	senders := poolSenders(3)

	// Zero pacing window: everyone is immediately eligible again, so the
	// rotation is driven purely by idle time.
	var order []uint
	for i := 0; i < 6; i++ {
		sender, _, err := pool.Acquire(context.Background(), senders)
		require.NoError(t, err)
		require.NotNil(t, sender)
		order = append(order, sender.ID)
		pool.RecordAttempt(sender.ID, 0, 0)
	}

	assert.Equal(t, []uint{1, 2, 3, 1, 2, 3}, order)
}

func TestAcquireReportsWaitWhileAllInsideWindow(t *testing.T) {
	pool := NewSenderPool(newStubConnection(), NewPacer())
	senders := poolSenders(1)

	pool.RecordAttempt(1, time.Minute, time.Minute)

	sender, wait, err := pool.Acquire(context.Background(), senders)
	require.NoError(t, err)
	assert.Nil(t, sender)
	assert.Greater(t, wait, 50*time.Second)
	assert.LessOrEqual(t, wait, time.Minute)
}

func TestRecordAttemptDrawsWithinWindow(t *testing.T) {
	pool := NewSenderPool(newStubConnection(), NewPacer())

	before := time.Now()
	pool.RecordAttempt(1, 30*time.Second, 90*time.Second)
	next := pool.NextEligibleAt(1)

	assert.False(t, next.Before(before.Add(30*time.Second)))
	assert.False(t, next.After(time.Now().Add(90*time.Second)))
}

func TestPenalizeExtendsTheWindow(t *testing.T) {
	pool := NewSenderPool(newStubConnection(), NewPacer())

	pool.RecordAttempt(1, 30*time.Second, 30*time.Second)
	base := pool.NextEligibleAt(1)

	pool.Penalize(1, 30*time.Second, 30*time.Second)
	assert.Equal(t, base.Add(30*time.Second), pool.NextEligibleAt(1))
}

func TestMarkDisconnectedTakesSenderOutOfRotation(t *testing.T) {
	pool := NewSenderPool(newStubConnection(), NewPacer())
	senders := poolSenders(2)

	// The gateway status endpoint still reports sender 1 connected, but
	// the send path has flagged it dead.
	pool.MarkDisconnected(1)

	for i := 0; i < 3; i++ {
		sender, _, err := pool.Acquire(context.Background(), senders)
		require.NoError(t, err)
		require.NotNil(t, sender)
		assert.Equal(t, uint(2), sender.ID)
		pool.RecordAttempt(2, 0, 0)
	}
}

func TestMarkDisconnectedDrainsPoolWhenNoSenderRemains(t *testing.T) {
	pool := NewSenderPool(newStubConnection(), NewPacer())

	pool.MarkDisconnected(1)

	sender, _, err := pool.Acquire(context.Background(), poolSenders(1))
	assert.Nil(t, sender)
	assert.ErrorIs(t, err, ErrNoSendersAvailable)
}

func TestMarkDisconnectedExpiresAfterBackoff(t *testing.T) {
	pool := NewSenderPool(newStubConnection(), NewPacer())
	pool.disconnectBackoff = time.Millisecond

	pool.MarkDisconnected(1)
	time.Sleep(20 * time.Millisecond)

	sender, _, err := pool.Acquire(context.Background(), poolSenders(1))
	require.NoError(t, err)
	require.NotNil(t, sender)
	assert.Equal(t, uint(1), sender.ID)
}

func TestPoolSharedAcrossCampaignsHonorsOneClock(t *testing.T) {
	pool := NewSenderPool(newStubConnection(), NewPacer())
	shared := poolSenders(1)

	// Campaign A sends on the account.
	pool.RecordAttempt(1, time.Minute, time.Minute)

	// Campaign B asking for the same account must wait out A's draw.
	sender, wait, err := pool.Acquire(context.Background(), shared)
	require.NoError(t, err)
	assert.Nil(t, sender)
	assert.Greater(t, wait, time.Duration(0))
}
