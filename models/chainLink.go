package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// SettlementEpsilon is the minor-unit rounding tolerance for settlement sums.
var SettlementEpsilon = decimal.New(1, -2)

// ChainLink is an immutable directed edge between two chains. A reversal is a new
// link (zero or negative amount) with a metadata note, never an update.
type ChainLink struct {
	ID                int                 `gorm:"primary_key" json:"id"`
	BusinessProfileId string              `gorm:"size:64;not null;index" json:"business_profile_id"`
	FromChainId       string              `gorm:"type:varchar(36);not null;index" json:"from_chain_id"`
	ToChainId         string              `gorm:"type:varchar(36);not null;index:idx_chain_link_to,priority:1" json:"to_chain_id"`
	LinkType          ChainLinkType       `gorm:"size:16;not null;index:idx_chain_link_to,priority:2" json:"link_type"`
	Amount            decimal.NullDecimal `gorm:"type:decimal(20,4)" json:"amount"`
	Currency          *string             `gorm:"size:3" json:"currency"`
	Metadata          datatypes.JSONMap   `json:"metadata"`
	CreatedBy         string              `gorm:"size:64;not null" json:"created_by"`
	CreatedAt         time.Time           `gorm:"autoCreateTime:false;not null" json:"created_at"`
}

type NewChainLink struct {
	FromChainId string              `json:"from_chain_id" validate:"required"`
	ToChainId   string              `json:"to_chain_id" validate:"required"`
	LinkType    ChainLinkType       `json:"link_type" validate:"required"`
	Amount      decimal.NullDecimal `json:"amount"`
	Currency    *string             `json:"currency" validate:"omitempty,len=3"`
	Metadata    map[string]any      `json:"metadata"`
}

// SettledSum adds the amounts of incoming settles links into chainId.
func SettledSum(links []*ChainLink, chainId string) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range links {
		if l.ToChainId != chainId || l.LinkType != ChainLinkTypeSettles || !l.Amount.Valid {
			continue
		}
		sum = sum.Add(l.Amount.Decimal)
	}
	return sum
}
