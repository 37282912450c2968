package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Chain is the lifecycle record of exactly one primary business document.
// Unique constraint: (primary_object_type, primary_object_id).
type Chain struct {
	ID                     string                      `gorm:"primaryKey;type:varchar(36)" json:"id"`
	BusinessProfileId      string                      `gorm:"size:64;not null;index:idx_chain_profile_updated,priority:1;uniqueIndex:uniq_chain_number,priority:1" json:"business_profile_id"`
	ChainType              ChainType                   `gorm:"size:32;not null;index" json:"chain_type"`
	ChainNumber            string                      `gorm:"size:32;not null;uniqueIndex:uniq_chain_number,priority:2" json:"chain_number"`
	PrimaryObjectType      ObjectType                  `gorm:"size:32;not null;uniqueIndex:uniq_chain_primary,priority:1" json:"primary_object_type"`
	PrimaryObjectId        string                      `gorm:"size:64;not null;uniqueIndex:uniq_chain_primary,priority:2" json:"primary_object_id"`
	PrimaryObjectVersionId *int                        `json:"primary_object_version_id"`
	State                  ChainState                  `gorm:"size:16;not null;index" json:"state"`
	StateUpdatedAt         time.Time                   `gorm:"not null" json:"state_updated_at"`
	RequiresVerification   bool                        `gorm:"not null;default:false" json:"requires_verification"`
	VerifiedAt             *time.Time                  `json:"verified_at"`
	VerifiedBy             *string                     `gorm:"size:64" json:"verified_by"`
	RequiredActions        datatypes.JSONSlice[string] `json:"required_actions"`
	Blockers               datatypes.JSONSlice[string] `json:"blockers"`
	NeedsAttention         bool                        `gorm:"not null;default:false;index" json:"needs_attention"`
	TotalAmount            decimal.Decimal             `gorm:"type:decimal(20,4);not null;default:0" json:"total_amount"`
	PaidAmount             decimal.Decimal             `gorm:"type:decimal(20,4);not null;default:0" json:"paid_amount"`
	RemainingAmount        decimal.Decimal             `gorm:"type:decimal(20,4);not null;default:0" json:"remaining_amount"`
	Currency               string                      `gorm:"size:3" json:"currency"`
	Title                  string                      `gorm:"size:255" json:"title"`
	Description            *string                     `gorm:"type:text" json:"description"`
	Metadata               datatypes.JSONMap           `json:"metadata"`
	CreatedAt              time.Time                   `gorm:"autoCreateTime:false;not null" json:"created_at"`
	UpdatedAt              time.Time                   `gorm:"autoUpdateTime:false;not null;index:idx_chain_profile_updated,priority:2" json:"updated_at"`
	ClosedAt               *time.Time                  `json:"closed_at"`
}

type NewChain struct {
	ChainType              ChainType       `json:"chain_type" validate:"required"`
	PrimaryObjectType      ObjectType      `json:"primary_object_type"`
	PrimaryObjectId        string          `json:"primary_object_id" validate:"required,max=64"`
	PrimaryObjectVersionId *int            `json:"primary_object_version_id"`
	InitialState           ChainState      `json:"initial_state"`
	Title                  string          `json:"title" validate:"max=255"`
	Description            *string         `json:"description"`
	RequiresVerification   bool            `json:"requires_verification"`
	TotalAmount            decimal.Decimal `json:"total_amount"`
	Currency               string          `json:"currency" validate:"omitempty,len=3"`
	Metadata               map[string]any  `json:"metadata"`
}

// ComputeNeedsAttention is the read-model flag: unresolved blockers or pending verification.
func (c *Chain) ComputeNeedsAttention() bool {
	if len(c.Blockers) > 0 {
		return true
	}
	return c.RequiresVerification && c.VerifiedAt == nil
}

func (c *Chain) IsClosed() bool {
	return c.ClosedAt != nil
}

func (c *Chain) IsVerified() bool {
	return !c.RequiresVerification || c.VerifiedAt != nil
}

// LockChain loads a chain with a row lock held until the transaction ends. The lock
// also makes the read see the latest committed row under repeatable read.
// Tenant ownership is checked by the caller.
func LockChain(tx *gorm.DB, chainId string) (*Chain, error) {
	var chain Chain
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", chainId).
		Take(&chain).Error
	if err != nil {
		return nil, err
	}
	return &chain, nil
}

// FindChainByPrimary returns the chain rooted on (objectType, objectId), nil when none.
// lock=true takes a row lock so a concurrently committed insert is visible.
func FindChainByPrimary(tx *gorm.DB, objectType ObjectType, objectId string, lock bool) (*Chain, error) {
	q := tx.Where("primary_object_type = ? AND primary_object_id = ?", objectType, objectId)
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var chain Chain
	err := q.Take(&chain).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &chain, nil
}
