package models

import (
	"time"

	"github.com/google/uuid"
)

// Subscription is a directed edge: SubscriberUID receives derived blocks
// from AuthorUID's shared block list. Created and destroyed by the front
// end; the engine only reads it.
type Subscription struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	AuthorUID     string    `gorm:"size:30;not null;index;uniqueIndex:idx_subscriptions_pair" json:"author_uid"`
	SubscriberUID string    `gorm:"size:30;not null;index;uniqueIndex:idx_subscriptions_pair" json:"subscriber_uid"`
	CreatedAt     time.Time `json:"created_at"`
}
