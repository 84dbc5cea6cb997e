package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"sendloop/models"
)

// ErrNoSendersAvailable means no bound sender is connected (or all are
// over their daily cap). This is a campaign-level condition: the worker
// auto-pauses instead of crashing or silently stalling.
var ErrNoSendersAvailable = errors.New("no connected senders available")

// How long a sender sits out of rotation after a send came back as
// disconnected. The status endpoint can keep reporting the session up
// while sends fail, so the send-path signal overrides it for a while.
const defaultDisconnectBackoff = 30 * time.Second

type senderState struct {
	lastSentAt     time.Time
	nextEligibleAt time.Time
	downUntil      time.Time
}

// SenderPool tracks per-sender pacing state. It is shared by every
// campaign worker in the process: the same account bound to several
// campaigns honors a single pacing clock regardless of which campaign is
// using it, so all state mutation happens under one lock.
type SenderPool struct {
	mu                sync.Mutex
	states            map[uint]*senderState
	pacer             *Pacer
	conn              SenderConnection
	disconnectBackoff time.Duration
}

func NewSenderPool(conn SenderConnection, pacer *Pacer) *SenderPool {
	if pacer == nil {
		pacer = NewPacer()
	}
	return &SenderPool{
		states:            make(map[uint]*senderState),
		pacer:             pacer,
		conn:              conn,
		disconnectBackoff: defaultDisconnectBackoff,
	}
}

// Acquire picks the next sender to use among the campaign's candidates.
// Rotation prefers the sender idle longest among those outside their
// pacing window, spreading traffic evenly across accounts.
//
// Returns (sender, 0, nil) when one is ready, (nil, wait, nil) when
// senders are connected but all still inside their pacing window, and
// (nil, 0, ErrNoSendersAvailable) when none is usable at all.
func (p *SenderPool) Acquire(ctx context.Context, candidates []models.Sender) (*models.Sender, time.Duration, error) {
	connected := make([]models.Sender, 0, len(candidates))
	for _, s := range candidates {
		if !s.HasCapacity() {
			continue
		}
		if !p.conn.IsConnected(ctx, s.ID) {
			continue
		}
		connected = append(connected, s)
	}
	if len(connected) == 0 {
		return nil, 0, ErrNoSendersAvailable
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	var best *models.Sender
	var bestIdleSince time.Time
	minWait := time.Duration(-1)
	usable := 0

	for i := range connected {
		s := &connected[i]
		st := p.states[s.ID]
		if st != nil && st.downUntil.After(now) {
			// The send path reported this sender dead; sit out the
			// backoff no matter what the status endpoint says.
			continue
		}
		usable++
		if st != nil && st.nextEligibleAt.After(now) {
			if wait := st.nextEligibleAt.Sub(now); minWait < 0 || wait < minWait {
				minWait = wait
			}
			continue
		}
		var idleSince time.Time
		if st != nil {
			idleSince = st.lastSentAt
		}
		if best == nil || idleSince.Before(bestIdleSince) {
			best = s
			bestIdleSince = idleSince
		}
	}

	if usable == 0 {
		return nil, 0, ErrNoSendersAvailable
	}
	if best != nil {
		picked := *best
		return &picked, 0, nil
	}
	if minWait < 0 {
		minWait = 0
	}
	return nil, minWait, nil
}

// MarkDisconnected takes the sender out of rotation for a backoff
// period after a send failed as disconnected. Without this the live
// IsConnected check alone decides availability, and a gateway whose
// status endpoint lags its send path would hand the same dead sender
// back forever.
func (p *SenderPool) MarkDisconnected(senderID uint) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.states[senderID]
	if st == nil {
		st = &senderState{}
		p.states[senderID] = st
	}
	st.downUntil = time.Now().Add(p.disconnectBackoff)
}

// RecordAttempt draws a fresh delay for the sender. Called after every
// attempt, successful or not, so intervals never collapse into a fixed
// cadence.
func (p *SenderPool) RecordAttempt(senderID uint, min, max time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	st := p.states[senderID]
	if st == nil {
		st = &senderState{}
		p.states[senderID] = st
	}
	st.lastSentAt = now
	st.nextEligibleAt = now.Add(p.pacer.Draw(min, max))
}

// Penalize pushes the sender's next eligible time out by one extra pacing
// draw. Applied after a rate-limited outcome, on top of the normal draw.
func (p *SenderPool) Penalize(senderID uint, min, max time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.states[senderID]
	if st == nil {
		st = &senderState{nextEligibleAt: time.Now()}
		p.states[senderID] = st
	}
	st.nextEligibleAt = st.nextEligibleAt.Add(p.pacer.Draw(min, max))
}

// NextEligibleAt reports the sender's pacing clock; zero time means the
// sender has never sent.
func (p *SenderPool) NextEligibleAt(senderID uint) time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st := p.states[senderID]; st != nil {
		return st.nextEligibleAt
	}
	return time.Time{}
}
