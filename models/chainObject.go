package models

import (
	"time"

	"gorm.io/datatypes"
)

// ChainObject is an immutable attachment of a business record to a chain.
// PrimaryOfChainId is set only for role=primary; its unique index is the store-level
// guard for "exactly one primary object per chain".
type ChainObject struct {
	ID                int               `gorm:"primary_key" json:"id"`
	BusinessProfileId string            `gorm:"size:64;not null;index" json:"business_profile_id"`
	ChainId           string            `gorm:"type:varchar(36);not null;index" json:"chain_id"`
	ObjectType        ObjectType        `gorm:"size:32;not null;index:idx_chain_object_ref,priority:1" json:"object_type"`
	ObjectId          string            `gorm:"size:64;not null;index:idx_chain_object_ref,priority:2" json:"object_id"`
	ObjectVersionId   *int              `json:"object_version_id"`
	Role              ObjectRole        `gorm:"size:16;not null" json:"role"`
	LinkType          *string           `gorm:"size:64" json:"link_type"`
	Metadata          datatypes.JSONMap `json:"metadata"`
	PrimaryOfChainId  *string           `gorm:"type:varchar(36);uniqueIndex" json:"-"`
	CreatedBy         string            `gorm:"size:64;not null" json:"created_by"`
	CreatedAt         time.Time         `gorm:"autoCreateTime:false;not null" json:"created_at"`
}

type NewChainObject struct {
	ChainId         string         `json:"chain_id" validate:"required"`
	ObjectType      ObjectType     `json:"object_type" validate:"required"`
	ObjectId        string         `json:"object_id" validate:"required,max=64"`
	ObjectVersionId *int           `json:"object_version_id"`
	Role            ObjectRole     `json:"role" validate:"required"`
	LinkType        *string        `json:"link_type" validate:"omitempty,max=64"`
	Metadata        map[string]any `json:"metadata"`
}
