package models

import (
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DocumentVersion is an immutable snapshot of a mutable document. version_no starts at 1
// and is gap-free per (document_type, document_id); the highest one is current.
type DocumentVersion struct {
	ID                int                         `gorm:"primary_key" json:"id"`
	BusinessProfileId string                      `gorm:"size:64;not null;index" json:"business_profile_id"`
	DocumentType      ObjectType                  `gorm:"size:32;not null;uniqueIndex:uniq_document_version,priority:1" json:"document_type"`
	DocumentId        string                      `gorm:"size:64;not null;uniqueIndex:uniq_document_version,priority:2" json:"document_id"`
	VersionNo         int                         `gorm:"not null;uniqueIndex:uniq_document_version,priority:3" json:"version_no"`
	SnapshotJson      datatypes.JSON              `gorm:"not null" json:"snapshot_json"`
	ChangedFields     datatypes.JSONSlice[string] `json:"changed_fields"`
	ChangeReason      *string                     `gorm:"type:text" json:"change_reason"`
	ChangeSummary     *string                     `gorm:"type:text" json:"change_summary"`
	CreatedBy         string                      `gorm:"size:64;not null" json:"created_by"`
	CreatedAt         time.Time                   `gorm:"autoCreateTime:false;not null" json:"created_at"`
}

// DocumentVersionHead is the per-document version sequence. Its row is locked for the
// duration of a createVersion transaction so concurrent amendments number serially.
type DocumentVersionHead struct {
	DocumentType      ObjectType `gorm:"primaryKey;size:32" json:"document_type"`
	DocumentId        string     `gorm:"primaryKey;size:64" json:"document_id"`
	BusinessProfileId string     `gorm:"size:64;not null;index" json:"business_profile_id"`
	LastVersionNo     int        `gorm:"not null;default:0" json:"last_version_no"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime:false" json:"updated_at"`
}

type NewDocumentVersion struct {
	DocumentType  ObjectType     `json:"document_type" validate:"required"`
	DocumentId    string         `json:"document_id" validate:"required,max=64"`
	Snapshot      datatypes.JSON `json:"snapshot" validate:"required"`
	ChangedFields []string       `json:"changed_fields"`
	ChangeReason  *string        `json:"change_reason"`
	ChangeSummary *string        `json:"change_summary"`
}

// LockVersionHead ensures the head row exists and locks it.
func LockVersionHead(tx *gorm.DB, profileId string, docType ObjectType, docId string, now time.Time) (*DocumentVersionHead, error) {
	seed := DocumentVersionHead{
		DocumentType:      docType,
		DocumentId:        docId,
		BusinessProfileId: profileId,
		UpdatedAt:         now,
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return nil, err
	}
	var head DocumentVersionHead
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("document_type = ? AND document_id = ?", docType, docId).
		Take(&head).Error
	if err != nil {
		return nil, err
	}
	return &head, nil
}

// LatestVersion returns nil when the document has never been versioned.
func LatestVersion(tx *gorm.DB, profileId string, docType ObjectType, docId string) (*DocumentVersion, error) {
	var v DocumentVersion
	err := tx.Where("business_profile_id = ? AND document_type = ? AND document_id = ?", profileId, docType, docId).
		Order("version_no DESC").
		Take(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}
