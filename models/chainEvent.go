package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// ChainEvent is an append-only occurrence on a chain. Causality is a flat
// parent-pointer arena: CausationEventId points at the triggering event, if any.
type ChainEvent struct {
	ID                int                 `gorm:"primary_key" json:"id"`
	BusinessProfileId string              `gorm:"size:64;not null;index" json:"business_profile_id"`
	ChainId           string              `gorm:"type:varchar(36);not null;index:idx_chain_event_chain,priority:1" json:"chain_id"`
	EventType         ChainEventType      `gorm:"size:32;not null" json:"event_type"`
	ActorId           string              `gorm:"size:64;not null" json:"actor_id"`
	ActorName         string              `gorm:"size:100" json:"actor_name"`
	OccurredAt        time.Time           `gorm:"not null;index:idx_chain_event_chain,priority:2" json:"occurred_at"`
	CausationEventId  *int                `gorm:"index" json:"causation_event_id"`
	CorrelationId     string              `gorm:"size:64;index" json:"correlation_id"`
	FromState         *ChainState         `gorm:"size:16" json:"from_state"`
	ToState           *ChainState         `gorm:"size:16" json:"to_state"`
	Amount            decimal.NullDecimal `gorm:"type:decimal(20,4)" json:"amount"`
	Currency          *string             `gorm:"size:3" json:"currency"`
	Direction         *EventDirection     `gorm:"size:3" json:"direction"`
	Changes           datatypes.JSONMap   `json:"changes"`
	Metadata          datatypes.JSONMap   `json:"metadata"`
}
