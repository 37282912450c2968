package models

import (
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ChainNumberSeries holds the last issued chain number per (business profile, chain type).
type ChainNumberSeries struct {
	BusinessProfileId string    `gorm:"primaryKey;size:64" json:"business_profile_id"`
	ChainType         ChainType `gorm:"primaryKey;size:32" json:"chain_type"`
	LastValue         int64     `gorm:"not null;default:0" json:"last_value"`
}

// DefaultChainNumberPrefixes are used when the engine is built without explicit prefixes.
var DefaultChainNumberPrefixes = map[ChainType]string{
	ChainTypeInvoice:         "INV",
	ChainTypeCashPayment:     "KP",
	ChainTypeBankTransaction: "WB",
	ChainTypeReconciliation:  "UZG",
	ChainTypeContract:        "UMW",
	ChainTypeDecision:        "DEC",
}

// LockChainNumberSeries ensures the series row exists and locks it. Holding this lock
// also serializes chain creation per (profile, type).
func LockChainNumberSeries(tx *gorm.DB, profileId string, chainType ChainType) (*ChainNumberSeries, error) {
	seed := ChainNumberSeries{BusinessProfileId: profileId, ChainType: chainType}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return nil, err
	}
	var series ChainNumberSeries
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_profile_id = ? AND chain_type = ?", profileId, chainType).
		Take(&series).Error
	if err != nil {
		return nil, err
	}
	return &series, nil
}

// Advance bumps the series inside the caller's transaction.
func (s *ChainNumberSeries) Advance(tx *gorm.DB) error {
	s.LastValue++
	return tx.Model(&ChainNumberSeries{}).
		Where("business_profile_id = ? AND chain_type = ?", s.BusinessProfileId, s.ChainType).
		Update("last_value", s.LastValue).Error
}

func FormatChainNumber(prefix string, value int64) string {
	if prefix == "" {
		return fmt.Sprintf("%06d", value)
	}
	return fmt.Sprintf("%s-%06d", prefix, value)
}
