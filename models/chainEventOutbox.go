package models

import (
	"time"

	"gorm.io/datatypes"
)

// Outbox publish statuses for ChainEventOutbox.PublishStatus.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

// ChainEventOutbox is written in the same transaction as its ChainEvent; the outbox
// dispatcher publishes it after commit.
type ChainEventOutbox struct {
	ID                int            `gorm:"primary_key;index:idx_outbox_dispatch,priority:3" json:"id"`
	BusinessProfileId string         `gorm:"size:64;not null;index" json:"business_profile_id"`
	ChainEventId      int            `gorm:"not null;uniqueIndex" json:"chain_event_id"`
	ChainId           string         `gorm:"type:varchar(36);not null" json:"chain_id"`
	EventType         ChainEventType `gorm:"size:32;not null" json:"event_type"`
	Payload           datatypes.JSON `gorm:"not null" json:"payload"`
	CorrelationId     string         `gorm:"size:64;index" json:"correlation_id"`

	PublishStatus    string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_outbox_dispatch,priority:1" json:"publish_status"`
	PublishedAt      *time.Time `gorm:"index" json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
