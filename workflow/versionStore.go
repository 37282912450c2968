package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	"github.com/mmdatafocus/eventchain/models"
	"github.com/mmdatafocus/eventchain/utils"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CreateVersion appends the next snapshot of a document. Numbering is serialized on the
// document's version head row, so concurrent amendments get 1, 2, 3... without gaps.
// When ChangedFields is nil it is computed from the previous snapshot.
func (e *Engine) CreateVersion(ctx context.Context, input models.NewDocumentVersion) (version *models.DocumentVersion, err error) {
	err = e.run(ctx, "CreateVersion", func(s *txScope) error {
		version, err = e.createVersion(s, input)
		return err
	})
	if err != nil {
		return nil, err
	}
	return version, nil
}

func (e *Engine) createVersion(s *txScope, input models.NewDocumentVersion) (*models.DocumentVersion, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}
	if !input.DocumentType.IsValid() {
		return nil, validationError(map[string]string{"document_type": "oneof"}, "unknown document type %q", input.DocumentType)
	}
	snapshot, err := compactObject(input.Snapshot)
	if err != nil {
		return nil, validationError(map[string]string{"snapshot": "json"}, "snapshot must be a JSON object")
	}

	head, err := models.LockVersionHead(s.tx, s.profileId, input.DocumentType, input.DocumentId, s.now)
	if err != nil {
		return nil, err
	}
	if head.BusinessProfileId != s.profileId {
		return nil, models.NewEngineError(models.ErrKindCrossTenantAccess, "",
			"document %s/%s belongs to another business profile", input.DocumentType, input.DocumentId)
	}

	changed := input.ChangedFields
	if changed == nil {
		var prev []byte
		if head.LastVersionNo > 0 {
			latest, err := models.LatestVersion(s.tx, s.profileId, input.DocumentType, input.DocumentId)
			if err != nil {
				return nil, err
			}
			if latest != nil {
				prev = latest.SnapshotJson
			}
		}
		changed, err = utils.ChangedTopLevelFields(prev, snapshot)
		if err != nil {
			return nil, err
		}
	}

	version := &models.DocumentVersion{
		BusinessProfileId: s.profileId,
		DocumentType:      input.DocumentType,
		DocumentId:        input.DocumentId,
		VersionNo:         head.LastVersionNo + 1,
		SnapshotJson:      datatypes.JSON(snapshot),
		ChangedFields:     datatypes.JSONSlice[string](utils.UniqueSlice(changed)),
		ChangeReason:      input.ChangeReason,
		ChangeSummary:     input.ChangeSummary,
		CreatedBy:         s.actorId,
		CreatedAt:         s.now,
	}
	if err := s.tx.Create(version).Error; err != nil {
		return nil, err
	}
	if err := s.tx.Model(&models.DocumentVersionHead{}).
		Where("document_type = ? AND document_id = ?", input.DocumentType, input.DocumentId).
		Updates(map[string]any{"last_version_no": version.VersionNo, "updated_at": s.now}).Error; err != nil {
		return nil, err
	}

	if err := e.recordVersionOnChains(s, version); err != nil {
		return nil, err
	}
	return version, nil
}

// recordVersionOnChains writes version_created on every chain the document is attached to.
func (e *Engine) recordVersionOnChains(s *txScope, version *models.DocumentVersion) error {
	var chainIds []string
	if err := s.tx.Model(&models.ChainObject{}).
		Where("business_profile_id = ? AND object_type = ? AND object_id = ?", s.profileId, version.DocumentType, version.DocumentId).
		Distinct().Order("chain_id ASC").Pluck("chain_id", &chainIds).Error; err != nil {
		return err
	}
	for _, chainId := range chainIds {
		ev := &models.ChainEvent{
			ChainId:   chainId,
			EventType: models.ChainEventVersionCreated,
			Changes:   datatypes.JSONMap{"changed_fields": []string(version.ChangedFields)},
			Metadata: datatypes.JSONMap{
				"document_type": string(version.DocumentType),
				"document_id":   version.DocumentId,
				"version_id":    version.ID,
				"version_no":    version.VersionNo,
			},
		}
		if version.ChangeReason != nil {
			ev.Metadata["change_reason"] = *version.ChangeReason
		}
		if err := e.appendEvent(s, ev); err != nil {
			return err
		}
	}
	return nil
}

func compactObject(raw []byte) ([]byte, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, errors.New("snapshot is null")
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GetLatestVersion returns the current snapshot, NotFound when the document was never versioned.
func (e *Engine) GetLatestVersion(ctx context.Context, docType models.ObjectType, docId string) (version *models.DocumentVersion, err error) {
	err = e.run(ctx, "GetLatestVersion", func(s *txScope) error {
		if err := s.checkDocumentOwner(docType, docId); err != nil {
			return err
		}
		version, err = models.LatestVersion(s.tx, s.profileId, docType, docId)
		if err != nil {
			return err
		}
		if version == nil {
			return models.NewEngineError(models.ErrKindNotFound, "", "document %s/%s has no versions", docType, docId)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return version, nil
}

// GetVersions lists every version of a document, oldest first.
func (e *Engine) GetVersions(ctx context.Context, docType models.ObjectType, docId string) (versions []*models.DocumentVersion, err error) {
	err = e.run(ctx, "GetVersions", func(s *txScope) error {
		if err := s.checkDocumentOwner(docType, docId); err != nil {
			return err
		}
		return s.tx.Where("business_profile_id = ? AND document_type = ? AND document_id = ?", s.profileId, docType, docId).
			Order("version_no ASC").Find(&versions).Error
	})
	if err != nil {
		return nil, err
	}
	return versions, nil
}

func (e *Engine) GetVersion(ctx context.Context, docType models.ObjectType, docId string, versionNo int) (version *models.DocumentVersion, err error) {
	err = e.run(ctx, "GetVersion", func(s *txScope) error {
		if err := s.checkDocumentOwner(docType, docId); err != nil {
			return err
		}
		var v models.DocumentVersion
		err := s.tx.Where("business_profile_id = ? AND document_type = ? AND document_id = ? AND version_no = ?", s.profileId, docType, docId, versionNo).
			Take(&v).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.NewEngineError(models.ErrKindNotFound, "", "document %s/%s has no version %d", docType, docId, versionNo)
		}
		version = &v
		return err
	})
	if err != nil {
		return nil, err
	}
	return version, nil
}

// checkDocumentOwner rejects reads of a document versioned under another profile.
func (s *txScope) checkDocumentOwner(docType models.ObjectType, docId string) error {
	if !docType.IsValid() {
		return validationError(map[string]string{"document_type": "oneof"}, "unknown document type %q", docType)
	}
	var head models.DocumentVersionHead
	err := s.tx.Where("document_type = ? AND document_id = ?", docType, docId).Take(&head).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if head.BusinessProfileId != s.profileId {
		return models.NewEngineError(models.ErrKindCrossTenantAccess, "",
			"document %s/%s belongs to another business profile", docType, docId)
	}
	return nil
}
