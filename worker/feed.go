package worker

import (
	"context"

	"sendloop/models"
	"sendloop/repository"
)

// attempt tags a re-enqueued contact with its attempt number so the
// retry budget is explicit rather than implied by queue position.
type attempt struct {
	contact *models.Contact
	n       int
}

// ContactFeed is the resumable cursor over a campaign's eligible
// contacts. Fresh contacts come from persisted state in creation order;
// transiently failed ones are re-enqueued at the back and drained once
// the fresh supply is exhausted. The feed itself never writes anything:
// resume position is derived entirely from sent_messages rows.
//
// A feed belongs to a single campaign worker and is not safe for
// concurrent use.
type ContactFeed struct {
	campaign    *models.Campaign
	contacts    repository.ContactRepository
	blacklist   repository.BlacklistRepository
	lastID      uint
	retries     []attempt
	maxAttempts int
}

func NewContactFeed(campaign *models.Campaign, contacts repository.ContactRepository, blacklist repository.BlacklistRepository, maxAttempts int) *ContactFeed {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &ContactFeed{
		campaign:    campaign,
		contacts:    contacts,
		blacklist:   blacklist,
		maxAttempts: maxAttempts,
	}
}

// Next yields the next eligible contact and its attempt number (1-based),
// or (nil, 0, nil) when the feed is exhausted with no retries pending.
// Re-enqueued contacts are re-checked against the blacklist at yield
// time: an opt-out that lands mid-campaign suppresses the retry too.
func (f *ContactFeed) Next(ctx context.Context) (*models.Contact, int, error) {
	contact, err := f.contacts.NextEligible(ctx, f.campaign.ID, f.campaign.UserID, f.lastID)
	if err != nil {
		return nil, 0, err
	}
	if contact != nil {
		f.lastID = contact.ID
		return contact, 1, nil
	}

	for len(f.retries) > 0 {
		a := f.retries[0]
		f.retries = f.retries[1:]
		blocked, err := f.blacklist.IsBlocked(ctx, a.contact.PhoneNumber, f.campaign.UserID)
		if err != nil {
			return nil, 0, err
		}
		if blocked {
			continue
		}
		return a.contact, a.n, nil
	}
	return nil, 0, nil
}

// Requeue puts the contact at the back of the feed for another attempt.
// Returns false when the attempt budget is exhausted; the caller records
// a terminal failure instead.
func (f *ContactFeed) Requeue(contact *models.Contact, attemptNum int) bool {
	if attemptNum >= f.maxAttempts {
		return false
	}
	f.retries = append(f.retries, attempt{contact: contact, n: attemptNum + 1})
	return true
}

// RequeueSameAttempt re-enqueues without consuming budget. Used when the
// failure was the sender's (disconnected session), so the contact gets a
// clean try on another account.
func (f *ContactFeed) RequeueSameAttempt(contact *models.Contact, attemptNum int) {
	f.retries = append(f.retries, attempt{contact: contact, n: attemptNum})
}

// PendingRetries reports how many re-enqueued contacts remain.
func (f *ContactFeed) PendingRetries() int {
	return len(f.retries)
}
