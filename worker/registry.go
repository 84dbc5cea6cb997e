package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"sendloop/models"
	"sendloop/repository"
)

// Control-surface errors surfaced to the API layer.
var (
	ErrCampaignFinished  = errors.New("campaign already finished")
	ErrNoMessageVariants = errors.New("campaign has no message variants")
	ErrNotRunning        = errors.New("campaign is not running")
)

// Config holds the engine tuning knobs.
type Config struct {
	// PollInterval bounds how long a worker sleeps between sender pool
	// polls, which also bounds pause/cancel latency while waiting.
	PollInterval time.Duration
	// SendTimeout caps a single gateway call; a timeout is classified as
	// transient.
	SendTimeout time.Duration
	// MaxAttempts is the total attempt budget per contact for transient
	// and rate-limited outcomes.
	MaxAttempts int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 30 * time.Second
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 2
	}
	return c
}

// Deps wires the engine to its collaborators.
type Deps struct {
	Campaigns repository.CampaignRepository
	Contacts  repository.ContactRepository
	Messages  repository.SentMessageRepository
	Senders   repository.SenderRepository
	Blacklist repository.BlacklistRepository
	// Tx scopes an outcome row and its counter updates to one
	// transaction. Optional; without it the writes are applied directly.
	Tx         repository.Transactor
	Connection SenderConnection
	Renderer   Renderer
	Notifier   Notifier
	Logger     *logrus.Logger
}

type stopReason int

const (
	stopNone stopReason = iota
	stopPause
	stopCancel
)

// campaignWorker is the handle for one running dispatch loop. Pause and
// cancel are delivered by cancelling the worker's context after tagging
// the reason, so every suspension point observes the signal promptly.
type campaignWorker struct {
	campaignID uint
	cancel     context.CancelFunc
	done       chan struct{}

	mu     sync.Mutex
	reason stopReason
}

func (w *campaignWorker) stop(r stopReason) {
	w.mu.Lock()
	if w.reason == stopNone {
		w.reason = r
	}
	w.mu.Unlock()
	w.cancel()
}

func (w *campaignWorker) stopReason() stopReason {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reason
}

// Registry owns the campaignID -> running worker mapping and is the only
// way to start, pause, resume or cancel dispatch. All control operations
// are idempotent. Workers spawned here inherit the registry's root
// context, so shutting that context down stops every campaign (leaving
// their rows in running state for resume on next boot).
type Registry struct {
	ctx   context.Context
	cfg   Config
	deps  Deps
	pacer *Pacer
	pool  *SenderPool
	stats *StatsAggregator
	log   *logrus.Logger

	mu      sync.Mutex
	workers map[uint]*campaignWorker
}

func NewRegistry(ctx context.Context, deps Deps, cfg Config) *Registry {
	if deps.Notifier == nil {
		deps.Notifier = NopNotifier{}
	}
	if deps.Logger == nil {
		deps.Logger = logrus.New()
	}
	pacer := NewPacer()
	return &Registry{
		ctx:     ctx,
		cfg:     cfg.withDefaults(),
		deps:    deps,
		pacer:   pacer,
		pool:    NewSenderPool(deps.Connection, pacer),
		stats:   NewStatsAggregator(deps.Tx, deps.Campaigns, deps.Messages, deps.Senders, deps.Notifier, deps.Logger),
		log:     deps.Logger,
		workers: make(map[uint]*campaignWorker),
	}
}

// Stats exposes the aggregator for receipt/reply ingestion.
func (r *Registry) Stats() *StatsAggregator {
	return r.stats
}

// Start activates dispatch for the campaign. Calling Start on a campaign
// that is already dispatching is a no-op success.
func (r *Registry) Start(ctx context.Context, campaignID uint) error {
	return r.start(ctx, campaignID)
}

// Resume is Start for a paused campaign; position is re-derived from
// persisted sent_messages rows, never from in-memory state.
func (r *Registry) Resume(ctx context.Context, campaignID uint) error {
	return r.start(ctx, campaignID)
}

func (r *Registry) start(ctx context.Context, campaignID uint) error {
	campaign, err := r.deps.Campaigns.GetWithRelations(ctx, campaignID)
	if err != nil {
		return err
	}
	if campaign.IsTerminal() {
		return ErrCampaignFinished
	}
	if len(campaign.Messages) == 0 {
		return ErrNoMessageVariants
	}

	// Starting requires at least one usable sender; reject with a
	// user-facing error instead of entering running.
	senders, err := r.deps.Senders.ListBound(ctx, campaignID)
	if err != nil {
		return err
	}
	usable := false
	for _, s := range senders {
		if s.HasCapacity() && r.deps.Connection.IsConnected(ctx, s.ID) {
			usable = true
			break
		}
	}
	if !usable {
		return ErrNoSendersAvailable
	}

	r.mu.Lock()
	if _, active := r.workers[campaignID]; active {
		r.mu.Unlock()
		return nil
	}
	wctx, cancel := context.WithCancel(r.ctx)
	w := &campaignWorker{
		campaignID: campaignID,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	r.workers[campaignID] = w
	r.mu.Unlock()

	// The registered handle reserves the slot; the DB writes below run
	// outside the lock so control calls for other campaigns never wait
	// on them.
	abort := func(err error) error {
		r.remove(campaignID)
		cancel()
		close(w.done)
		return err
	}

	prev := campaign.Status
	from := []string{
		models.CampaignStatusDraft,
		models.CampaignStatusScheduled,
		models.CampaignStatusPaused,
		models.CampaignStatusRunning, // crash recovery: row left running with no worker
	}
	if err := r.deps.Campaigns.UpdateStatus(ctx, campaignID, from, models.CampaignStatusRunning); err != nil {
		return abort(err)
	}
	campaign.Status = models.CampaignStatusRunning

	total, err := r.deps.Contacts.CountEligible(ctx, campaignID, campaign.UserID)
	if err != nil {
		return abort(err)
	}
	if prev == models.CampaignStatusPaused {
		// Keep the original started_at; just clear the pause reason.
		if err := r.deps.Campaigns.SetError(ctx, campaignID, ""); err != nil {
			return abort(err)
		}
	} else {
		if err := r.deps.Campaigns.MarkStarted(ctx, campaignID, int(total)); err != nil {
			return abort(err)
		}
	}

	eventType := EventCampaignStarted
	if prev == models.CampaignStatusPaused {
		eventType = EventCampaignResumed
	}
	r.deps.Notifier.Emit(NewEvent(eventType, campaign, map[string]interface{}{
		"total_recipients": total,
	}))

	go r.run(wctx, w, campaign, senders)
	return nil
}

// Pause cooperatively stops the campaign's worker: the attempt in flight
// is finished and persisted, then the loop exits. Pausing an already
// paused campaign is a no-op success.
func (r *Registry) Pause(ctx context.Context, campaignID uint) error {
	r.mu.Lock()
	w := r.workers[campaignID]
	r.mu.Unlock()

	if w != nil {
		w.stop(stopPause)
		return nil
	}

	campaign, err := r.deps.Campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return err
	}
	switch campaign.Status {
	case models.CampaignStatusPaused:
		return nil
	case models.CampaignStatusRunning:
		// Row left running by a crashed process; no worker to signal.
		if err := r.deps.Campaigns.UpdateStatus(ctx, campaignID,
			[]string{models.CampaignStatusRunning}, models.CampaignStatusPaused); err != nil {
			return err
		}
		r.deps.Notifier.Emit(NewEvent(EventCampaignPaused, campaign, nil))
		return nil
	default:
		return ErrNotRunning
	}
}

// Cancel terminally stops the campaign. Already-sent messages are not
// undone. Cancelling a finished campaign returns ErrCampaignFinished;
// cancelling twice is a no-op success.
func (r *Registry) Cancel(ctx context.Context, campaignID uint) error {
	r.mu.Lock()
	w := r.workers[campaignID]
	r.mu.Unlock()

	if w != nil {
		w.stop(stopCancel)
		return nil
	}

	campaign, err := r.deps.Campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return err
	}
	if campaign.Status == models.CampaignStatusCancelled {
		return nil
	}
	from := []string{
		models.CampaignStatusDraft,
		models.CampaignStatusScheduled,
		models.CampaignStatusRunning,
		models.CampaignStatusPaused,
	}
	if err := r.deps.Campaigns.UpdateStatus(ctx, campaignID, from, models.CampaignStatusCancelled); err != nil {
		if errors.Is(err, repository.ErrInvalidTransition) {
			return ErrCampaignFinished
		}
		return err
	}
	r.deps.Notifier.Emit(NewEvent(EventCampaignCancelled, campaign, nil))
	return nil
}

// IsDispatching reports whether a worker is active for the campaign.
func (r *Registry) IsDispatching(campaignID uint) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.workers[campaignID]
	return ok
}

// Done returns a channel closed when the campaign's worker exits. If no
// worker is active the channel is already closed.
func (r *Registry) Done(campaignID uint) <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.workers[campaignID]; ok {
		return w.done
	}
	closed := make(chan struct{})
	close(closed)
	return closed
}

func (r *Registry) remove(campaignID uint) {
	r.mu.Lock()
	delete(r.workers, campaignID)
	r.mu.Unlock()
}
