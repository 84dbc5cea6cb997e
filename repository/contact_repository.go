package repository

import (
	"context"

	"sendloop/models"

	"gorm.io/gorm"
)

// ContactRepository feeds the dispatch engine eligible contacts in a
// stable, resumable order.
type ContactRepository interface {
	// NextEligible returns the next contact for the campaign with id
	// greater than afterID, in creation order, skipping contacts that
	// already have a terminal sent_messages row for the campaign and
	// contacts whose phone number is blacklisted (globally or for the
	// owning user) at read time. Returns (nil, nil) when exhausted.
	NextEligible(ctx context.Context, campaignID, userID, afterID uint) (*models.Contact, error)
	// CountEligible counts contacts targeted by the campaign that are not
	// blacklisted, used for the campaign's total_recipients rollup. It
	// does not exclude contacts already handled, so the count is stable
	// across pause/resume.
	CountEligible(ctx context.Context, campaignID, userID uint) (int64, error)
}

type contactRepository struct {
	db *gorm.DB
}

func NewContactRepository(db *gorm.DB) ContactRepository {
	return &contactRepository{db: db}
}

const targetedContactsBase = `
        FROM contacts c
        JOIN campaign_contact_lists ccl ON ccl.contact_list_id = c.contact_list_id
        WHERE ccl.campaign_id = ?
        AND ccl.deleted_at IS NULL
        AND c.deleted_at IS NULL
        AND NOT EXISTS (
            SELECT 1 FROM blacklist_entries b
            WHERE b.phone_number = c.phone_number
            AND (b.user_id IS NULL OR b.user_id = ?)
            AND b.deleted_at IS NULL
        )`

const noTerminalRowFilter = `
        AND NOT EXISTS (
            SELECT 1 FROM sent_messages sm
            WHERE sm.campaign_id = ccl.campaign_id
            AND sm.contact_id = c.id
            AND sm.status IN ?
            AND sm.deleted_at IS NULL
        )`

func (r *contactRepository) NextEligible(ctx context.Context, campaignID, userID, afterID uint) (*models.Contact, error) {
	var contacts []models.Contact
	err := r.db.WithContext(ctx).Raw(
		`SELECT c.*`+targetedContactsBase+noTerminalRowFilter+` AND c.id > ? ORDER BY c.id ASC LIMIT 1`,
		campaignID, userID, models.TerminalMessageStatuses, afterID,
	).Scan(&contacts).Error
	if err != nil {
		return nil, err
	}
	if len(contacts) == 0 {
		return nil, nil
	}
	return &contacts[0], nil
}

func (r *contactRepository) CountEligible(ctx context.Context, campaignID, userID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Raw(
		`SELECT COUNT(DISTINCT c.id)`+targetedContactsBase,
		campaignID, userID,
	).Scan(&count).Error
	return count, err
}
