package worker

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"sendloop/models"
	"sendloop/repository"
)

// memStore is an in-memory implementation of every repository the engine
// depends on, so dispatch tests run without a database.
type memStore struct {
	mu        sync.Mutex
	campaigns map[uint]*models.Campaign
	contacts  []models.Contact
	senders   map[uint]*models.Sender
	bindings  []*models.CampaignSender
	messages  map[[2]uint]*models.SentMessage // (campaignID, contactID)
	byUUID    map[string]*models.SentMessage
	blocked   map[string]bool
	nextMsgID uint
}

func newMemStore() *memStore {
	return &memStore{
		campaigns: make(map[uint]*models.Campaign),
		senders:   make(map[uint]*models.Sender),
		messages:  make(map[[2]uint]*models.SentMessage),
		byUUID:    make(map[string]*models.SentMessage),
		blocked:   make(map[string]bool),
	}
}

func (s *memStore) addCampaign(c *models.Campaign) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaigns[c.ID] = c
}

func (s *memStore) addSender(campaignID uint, sender *models.Sender) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.senders[sender.ID] = sender
	s.bindings = append(s.bindings, &models.CampaignSender{
		CampaignID: campaignID,
		SenderID:   sender.ID,
	})
}

func (s *memStore) addContact(c models.Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts = append(s.contacts, c)
}

func (s *memStore) campaignStatus(id uint) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.campaigns[id].Status
}

func (s *memStore) messageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func (s *memStore) messageFor(campaignID, contactID uint) *models.SentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m := s.messages[[2]uint{campaignID, contactID}]; m != nil {
		cp := *m
		return &cp
	}
	return nil
}

// CampaignRepository

func (s *memStore) GetByID(ctx context.Context, id uint) (*models.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *memStore) GetWithRelations(ctx context.Context, id uint) (*models.Campaign, error) {
	return s.GetByID(ctx, id)
}

func (s *memStore) UpdateStatus(ctx context.Context, id uint, from []string, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.campaigns[id]
	for _, f := range from {
		if c.Status == f {
			c.Status = to
			return nil
		}
	}
	return repository.ErrInvalidTransition
}

func (s *memStore) MarkStarted(ctx context.Context, id uint, totalRecipients int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	c := s.campaigns[id]
	c.StartedAt = &now
	c.TotalRecipients = totalRecipients
	c.LastError = ""
	return nil
}

func (s *memStore) MarkCompleted(ctx context.Context, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.campaigns[id]
	if c.Status != models.CampaignStatusRunning {
		return repository.ErrInvalidTransition
	}
	now := time.Now()
	c.Status = models.CampaignStatusCompleted
	c.CompletedAt = &now
	return nil
}

func (s *memStore) SetError(ctx context.Context, id uint, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaigns[id].LastError = msg
	return nil
}

func (s *memStore) IncrementCounters(ctx context.Context, id uint, sent, failed, replies int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.campaigns[id]
	c.TotalSent += sent
	c.TotalFailed += failed
	c.TotalReplies += replies
	return nil
}

func (s *memStore) ListDueScheduled(ctx context.Context, now time.Time) ([]models.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []models.Campaign
	for _, c := range s.campaigns {
		if c.Status == models.CampaignStatusScheduled && c.ScheduledAt != nil && !c.ScheduledAt.After(now) {
			due = append(due, *c)
		}
	}
	return due, nil
}

func (s *memStore) ListRunning(ctx context.Context) ([]models.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var running []models.Campaign
	for _, c := range s.campaigns {
		if c.Status == models.CampaignStatusRunning {
			running = append(running, *c)
		}
	}
	return running, nil
}

// ContactRepository

func (s *memStore) NextEligible(ctx context.Context, campaignID, userID, afterID uint) (*models.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sorted := make([]models.Contact, len(s.contacts))
	copy(sorted, s.contacts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	for i := range sorted {
		c := sorted[i]
		if c.ID <= afterID {
			continue
		}
		if s.blocked[c.PhoneNumber] {
			continue
		}
		if _, done := s.messages[[2]uint{campaignID, c.ID}]; done {
			continue
		}
		return &c, nil
	}
	return nil, nil
}

func (s *memStore) CountEligible(ctx context.Context, campaignID, userID uint) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, c := range s.contacts {
		if !s.blocked[c.PhoneNumber] {
			n++
		}
	}
	return n, nil
}

// SentMessageRepository

func (s *memStore) RecordOutcome(ctx context.Context, msg *models.SentMessage) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]uint{msg.CampaignID, msg.ContactID}
	if _, exists := s.messages[key]; exists {
		return false, nil
	}
	s.nextMsgID++
	msg.ID = s.nextMsgID
	cp := *msg
	s.messages[key] = &cp
	if cp.MessageUUID != "" {
		s.byUUID[cp.MessageUUID] = s.messages[key]
	}
	return true, nil
}

func (s *memStore) FindByUUID(ctx context.Context, messageUUID string) (*models.SentMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m := s.byUUID[messageUUID]; m != nil {
		cp := *m
		return &cp, nil
	}
	return nil, nil
}

func (s *memStore) MarkDelivered(ctx context.Context, messageUUID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.byUUID[messageUUID]
	if m == nil || m.Status != models.MessageStatusSent {
		return false, nil
	}
	m.Status = models.MessageStatusDelivered
	return true, nil
}

func (s *memStore) MarkReplied(ctx context.Context, messageUUID string, at time.Time) (*models.SentMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.byUUID[messageUUID]
	if m == nil {
		return nil, nil
	}
	switch m.Status {
	case models.MessageStatusSent, models.MessageStatusDelivered:
	default:
		return nil, nil
	}
	m.Status = models.MessageStatusReplied
	m.RepliedAt = &at
	cp := *m
	return &cp, nil
}

// SenderRepository

func (s *memStore) ListBound(ctx context.Context, campaignID uint) ([]models.Sender, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Sender
	for _, b := range s.bindings {
		if b.CampaignID != campaignID {
			continue
		}
		if sender := s.senders[b.SenderID]; sender != nil && sender.IsActive {
			out = append(out, *sender)
		}
	}
	return out, nil
}

func (s *memStore) GetSenderByID(ctx context.Context, id uint) (*models.Sender, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sender := s.senders[id]; sender != nil {
		cp := *sender
		return &cp, nil
	}
	return nil, nil
}

func (s *memStore) IncrementUsage(ctx context.Context, senderID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sender := s.senders[senderID]; sender != nil {
		sender.SentToday++
		sender.TotalSent++
	}
	return nil
}

func (s *memStore) IncrementBindingSent(ctx context.Context, campaignID, senderID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.bindings {
		if b.CampaignID == campaignID && b.SenderID == senderID {
			b.MessagesSent++
		}
	}
	return nil
}

func (s *memStore) IncrementBindingReplies(ctx context.Context, campaignID, senderID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.bindings {
		if b.CampaignID == campaignID && b.SenderID == senderID {
			b.RepliesReceived++
		}
	}
	return nil
}

func (s *memStore) SetSenderError(ctx context.Context, senderID uint, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sender := s.senders[senderID]; sender != nil {
		sender.LastError = msg
	}
	return nil
}

func (s *memStore) ResetDailyCounts(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, sender := range s.senders {
		if sender.SentToday > 0 {
			sender.SentToday = 0
			n++
		}
	}
	return n, nil
}

// BlacklistRepository

func (s *memStore) IsBlocked(ctx context.Context, phoneNumber string, userID uint) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blocked[phoneNumber], nil
}

func (s *memStore) Add(ctx context.Context, entry *models.BlacklistEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocked[entry.PhoneNumber] = true
	return nil
}

// senderRepoAdapter maps the interface method names that collide on
// memStore.
type senderRepoAdapter struct{ store *memStore }

func (a senderRepoAdapter) ListBound(ctx context.Context, campaignID uint) ([]models.Sender, error) {
	return a.store.ListBound(ctx, campaignID)
}
func (a senderRepoAdapter) GetByID(ctx context.Context, id uint) (*models.Sender, error) {
	return a.store.GetSenderByID(ctx, id)
}
func (a senderRepoAdapter) IncrementUsage(ctx context.Context, senderID uint) error {
	return a.store.IncrementUsage(ctx, senderID)
}
func (a senderRepoAdapter) IncrementBindingSent(ctx context.Context, campaignID, senderID uint) error {
	return a.store.IncrementBindingSent(ctx, campaignID, senderID)
}
func (a senderRepoAdapter) IncrementBindingReplies(ctx context.Context, campaignID, senderID uint) error {
	return a.store.IncrementBindingReplies(ctx, campaignID, senderID)
}
func (a senderRepoAdapter) SetError(ctx context.Context, senderID uint, msg string) error {
	return a.store.SetSenderError(ctx, senderID, msg)
}
func (a senderRepoAdapter) ResetDailyCounts(ctx context.Context) (int64, error) {
	return a.store.ResetDailyCounts(ctx)
}

// stubConnection scripts gateway behavior per recipient.
type stubConnection struct {
	mu        sync.Mutex
	connected func(senderID uint) bool
	send      func(req SendRequest) error
	calls     []SendRequest
}

func newStubConnection() *stubConnection {
	return &stubConnection{}
}

func (c *stubConnection) IsConnected(ctx context.Context, senderID uint) bool {
	c.mu.Lock()
	fn := c.connected
	c.mu.Unlock()
	if fn == nil {
		return true
	}
	return fn(senderID)
}

func (c *stubConnection) Send(ctx context.Context, req SendRequest) error {
	c.mu.Lock()
	c.calls = append(c.calls, req)
	fn := c.send
	c.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(req)
}

func (c *stubConnection) setConnected(fn func(senderID uint) bool) {
	c.mu.Lock()
	c.connected = fn
	c.mu.Unlock()
}

func (c *stubConnection) setSend(fn func(req SendRequest) error) {
	c.mu.Lock()
	c.send = fn
	c.mu.Unlock()
}

func (c *stubConnection) sentTo() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.calls))
	for i, call := range c.calls {
		out[i] = call.Recipient
	}
	return out
}

func (c *stubConnection) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

var errBadTemplate = errors.New("unknown template variables: nickname")

// stubRenderer passes bodies through, optionally failing for one
// recipient.
type stubRenderer struct {
	failOn string
}

func (r stubRenderer) Render(body string, contact *models.Contact, campaign *models.Campaign) (string, error) {
	if r.failOn != "" && contact.PhoneNumber == r.failOn {
		return "", errBadTemplate
	}
	return body, nil
}

// recordingNotifier captures emitted events.
type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (n *recordingNotifier) Emit(event Event) {
	n.mu.Lock()
	n.events = append(n.events, event)
	n.mu.Unlock()
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.events))
	for i, e := range n.events {
		out[i] = e.Type
	}
	return out
}

func (n *recordingNotifier) has(eventType string) bool {
	for _, t := range n.types() {
		if t == eventType {
			return true
		}
	}
	return false
}
