package repository

import (
	"context"

	"gorm.io/gorm"
)

// OutcomeStore bundles the repositories that participate in recording a
// send outcome: the SentMessage row plus the campaign and sender
// counters it updates.
type OutcomeStore struct {
	Campaigns CampaignRepository
	Messages  SentMessageRepository
	Senders   SenderRepository
}

// Transactor runs a function against transaction-scoped repositories.
// The outcome row and its counter updates must commit or roll back
// together; a crash between them would leave counters permanently
// behind, since the row's existence suppresses any replay.
type Transactor interface {
	Transaction(ctx context.Context, fn func(store OutcomeStore) error) error
}

type gormTransactor struct {
	db *gorm.DB
}

func NewTransactor(db *gorm.DB) Transactor {
	return gormTransactor{db: db}
}

func (t gormTransactor) Transaction(ctx context.Context, fn func(OutcomeStore) error) error {
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(OutcomeStore{
			Campaigns: NewCampaignRepository(tx),
			Messages:  NewSentMessageRepository(tx),
			Senders:   NewSenderRepository(tx),
		})
	})
}
