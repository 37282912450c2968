package workflow

import (
	"context"
	"errors"

	"github.com/mmdatafocus/eventchain/config"
	"github.com/mmdatafocus/eventchain/models"
	"github.com/mmdatafocus/eventchain/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DocumentEventType is what a document collaborator reports about one of its documents.
type DocumentEventType string

const (
	DocumentCreated      DocumentEventType = "created"
	DocumentAmended      DocumentEventType = "amended"
	DocumentPosted       DocumentEventType = "posted"
	DocumentAttached     DocumentEventType = "attached"
	DocumentLinked       DocumentEventType = "linked"
	DocumentStateChanged DocumentEventType = "state_changed"
)

var rootEventTypes = map[DocumentEventType]models.ChainEventType{
	DocumentCreated:      models.ChainEventDocumentCreated,
	DocumentAmended:      models.ChainEventDocumentAmended,
	DocumentPosted:       models.ChainEventDocumentPosted,
	DocumentAttached:     models.ChainEventDocumentAttached,
	DocumentLinked:       models.ChainEventDocumentLinked,
	DocumentStateChanged: models.ChainEventDocumentStateChanged,
}

type AttachedObject struct {
	ObjectType      models.ObjectType `json:"object_type" validate:"required"`
	ObjectId        string            `json:"object_id" validate:"required,max=64"`
	ObjectVersionId *int              `json:"object_version_id"`
	Role            models.ObjectRole `json:"role" validate:"required"`
	LinkType        *string           `json:"link_type" validate:"omitempty,max=64"`
	Metadata        map[string]any    `json:"metadata"`
}

// LinkedDocument names the other side of a link by its primary document. The link points
// from the event's chain to the linked document's chain unless Incoming is set.
type LinkedDocument struct {
	DocumentType models.ObjectType    `json:"document_type" validate:"required"`
	DocumentId   string               `json:"document_id" validate:"required,max=64"`
	LinkType     models.ChainLinkType `json:"link_type" validate:"required"`
	Amount       decimal.NullDecimal  `json:"amount"`
	Currency     *string              `json:"currency" validate:"omitempty,len=3"`
	Incoming     bool                 `json:"incoming"`
	Metadata     map[string]any       `json:"metadata"`
}

// DocumentEvent is the collaborator-facing input of the recorder. The document must be a
// primary document type; its chain is created on first sight whatever the event type.
type DocumentEvent struct {
	Type                 DocumentEventType   `json:"type" validate:"required"`
	DocumentType         models.ObjectType   `json:"document_type" validate:"required"`
	DocumentId           string              `json:"document_id" validate:"required,max=64"`
	Title                string              `json:"title" validate:"max=255"`
	TotalAmount          decimal.NullDecimal `json:"total_amount"`
	Currency             string              `json:"currency" validate:"omitempty,len=3"`
	RequiresVerification bool                `json:"requires_verification"`
	State                models.ChainState   `json:"state"`
	Snapshot             datatypes.JSON      `json:"snapshot"`
	ChangedFields        []string            `json:"changed_fields"`
	ChangeReason         *string             `json:"change_reason"`
	ChangeSummary        *string             `json:"change_summary"`
	Attachment           *AttachedObject     `json:"attachment"`
	Link                 *LinkedDocument     `json:"link"`
	Metadata             map[string]any      `json:"metadata"`
}

type RecordResult struct {
	ChainId     string `json:"chain_id"`
	RootEventId int    `json:"root_event_id,omitempty"`
	VersionNo   int    `json:"version_no,omitempty"`
	Skipped     bool   `json:"skipped"`
}

// Record applies a document event in one transaction. A root event of the matching
// document_* type is written first and every event it produces is caused by it.
func (e *Engine) Record(ctx context.Context, ev DocumentEvent) (res *RecordResult, err error) {
	err = e.run(ctx, "Record", func(s *txScope) error {
		res, err = e.record(s, ev)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// RecordOnce is Record guarded by a durable idempotency key, for at-least-once delivery.
// A redelivered message returns Skipped with the chain of the first delivery.
func (e *Engine) RecordOnce(ctx context.Context, handlerName, messageId string, ev DocumentEvent) (res *RecordResult, err error) {
	if messageId == "" || handlerName == "" {
		return nil, validationError(map[string]string{"message_id": "required"}, "handler name and message id are required")
	}
	err = e.run(ctx, "RecordOnce", func(s *txScope) error {
		skip, err := BeginIdempotency(s.tx, s.profileId, handlerName, messageId)
		if errors.Is(err, ErrIdempotencyInProgress) {
			return &models.EngineError{Kind: models.ErrKindConcurrencyConflict, Message: "message is being processed", Err: err}
		}
		if err != nil {
			return err
		}
		if skip {
			key, err := getIdempotencyKey(s.tx, s.profileId, handlerName, messageId)
			if err != nil {
				return err
			}
			res = &RecordResult{Skipped: true}
			if key.ResultChainId != nil {
				res.ChainId = *key.ResultChainId
			}
			return nil
		}
		res, err = e.record(s, ev)
		if err != nil {
			return err
		}
		return MarkIdempotencySucceeded(s.tx, s.profileId, handlerName, messageId, res.ChainId)
	})
	if err != nil {
		e.markDeliveryFailed(ctx, handlerName, messageId, err)
		return nil, err
	}
	return res, nil
}

// markDeliveryFailed leaves a FAILED key behind the rolled back attempt.
func (e *Engine) markDeliveryFailed(ctx context.Context, handlerName, messageId string, cause error) {
	profileId, _ := utils.GetBusinessProfileIdFromContext(ctx)
	if profileId == "" {
		return
	}
	dbCtx := utils.SetSkipTenantScopeInContext(ctx, true)
	err := e.DB.WithContext(dbCtx).Transaction(func(tx *gorm.DB) error {
		if _, err := BeginIdempotency(tx, profileId, handlerName, messageId); err != nil && !errors.Is(err, ErrIdempotencyInProgress) {
			return err
		}
		return MarkIdempotencyFailed(tx, profileId, handlerName, messageId, cause)
	})
	config.LogError(e.Logger, "workflow", "RecordOnce", "mark idempotency failed", logrus.Fields{
		"business_profile_id": profileId,
		"handler":             handlerName,
		"message_id":          messageId,
	}, err)
}

func (e *Engine) record(s *txScope, ev DocumentEvent) (*RecordResult, error) {
	if err := validateInput(ev); err != nil {
		return nil, err
	}
	rootType, ok := rootEventTypes[ev.Type]
	if !ok {
		return nil, validationError(map[string]string{"type": "oneof"}, "unknown document event type %q", ev.Type)
	}
	chainType, ok := models.ChainTypeForObject(ev.DocumentType)
	if !ok {
		return nil, validationError(map[string]string{"document_type": "oneof"},
			"%q is not a primary document type", ev.DocumentType)
	}

	rootMeta := datatypes.JSONMap{
		"document_type": string(ev.DocumentType),
		"document_id":   ev.DocumentId,
	}
	for k, v := range ev.Metadata {
		if _, taken := rootMeta[k]; !taken {
			rootMeta[k] = v
		}
	}
	root := &models.ChainEvent{EventType: rootType, Metadata: rootMeta}
	s.root = root

	newChain := models.NewChain{
		ChainType:            chainType,
		PrimaryObjectId:      ev.DocumentId,
		Title:                ev.Title,
		RequiresVerification: ev.RequiresVerification,
		Currency:             ev.Currency,
	}
	if ev.TotalAmount.Valid {
		newChain.TotalAmount = ev.TotalAmount.Decimal
	}
	if ev.Type == DocumentCreated {
		newChain.InitialState = ev.State
	}
	chain, _, err := e.createChain(s, newChain)
	if err != nil {
		return nil, err
	}
	// The root always lands on the document's own chain, existing or not.
	if err := e.ensureRoot(s, chain.ID); err != nil {
		return nil, err
	}
	res := &RecordResult{ChainId: chain.ID, RootEventId: root.ID}

	switch ev.Type {
	case DocumentCreated:
	case DocumentAmended:
		if err := e.recordAmendment(s, chain, ev, res); err != nil {
			return nil, err
		}
	case DocumentPosted:
		target := ev.State
		if target == "" {
			target = models.ChainStatePosted
		}
		if _, err := e.transitionState(s, chain.ID, target, ev.Metadata); err != nil {
			return nil, err
		}
	case DocumentStateChanged:
		if ev.State == "" {
			return nil, validationError(map[string]string{"state": "required"}, "state is required")
		}
		if _, err := e.transitionState(s, chain.ID, ev.State, ev.Metadata); err != nil {
			return nil, err
		}
	case DocumentAttached:
		if ev.Attachment == nil {
			return nil, validationError(map[string]string{"attachment": "required"}, "attachment is required")
		}
		a := ev.Attachment
		if _, err := e.addObjectToChain(s, models.NewChainObject{
			ChainId:         chain.ID,
			ObjectType:      a.ObjectType,
			ObjectId:        a.ObjectId,
			ObjectVersionId: a.ObjectVersionId,
			Role:            a.Role,
			LinkType:        a.LinkType,
			Metadata:        a.Metadata,
		}); err != nil {
			return nil, err
		}
	case DocumentLinked:
		if err := e.recordLink(s, chain, ev); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// recordAmendment writes a version unless the snapshot is unchanged, then applies a new
// total and re-derives compliance.
func (e *Engine) recordAmendment(s *txScope, chain *models.Chain, ev DocumentEvent, res *RecordResult) error {
	if len(ev.Snapshot) == 0 {
		return validationError(map[string]string{"snapshot": "required"}, "snapshot is required for an amendment")
	}
	write := ev.ChangedFields != nil
	if !write {
		latest, err := models.LatestVersion(s.tx, s.profileId, ev.DocumentType, ev.DocumentId)
		if err != nil {
			return err
		}
		write = latest == nil
		if latest != nil {
			changed, err := utils.ChangedTopLevelFields(latest.SnapshotJson, ev.Snapshot)
			if err != nil {
				return validationError(map[string]string{"snapshot": "json"}, "snapshot must be a JSON object")
			}
			write = len(changed) > 0
		}
	}
	if write {
		version, err := e.createVersion(s, models.NewDocumentVersion{
			DocumentType:  ev.DocumentType,
			DocumentId:    ev.DocumentId,
			Snapshot:      ev.Snapshot,
			ChangedFields: ev.ChangedFields,
			ChangeReason:  ev.ChangeReason,
			ChangeSummary: ev.ChangeSummary,
		})
		if err != nil {
			return err
		}
		res.VersionNo = version.VersionNo
	}

	if ev.TotalAmount.Valid && (!ev.TotalAmount.Decimal.Equal(chain.TotalAmount) || (ev.Currency != "" && ev.Currency != chain.Currency)) {
		if _, err := e.updateChainAmount(s, chain.ID, ev.TotalAmount.Decimal, ev.Currency); err != nil {
			return err
		}
	}
	current, err := s.loadChain(chain.ID, true)
	if err != nil {
		return err
	}
	return e.refreshCompliance(s, current, s.causationId)
}

func (e *Engine) recordLink(s *txScope, chain *models.Chain, ev DocumentEvent) error {
	if ev.Link == nil {
		return validationError(map[string]string{"link": "required"}, "link is required")
	}
	l := ev.Link
	otherType, ok := models.ChainTypeForObject(l.DocumentType)
	if !ok {
		return validationError(map[string]string{"link.document_type": "oneof"},
			"%q is not a primary document type", l.DocumentType)
	}
	other, _, err := e.createChain(s, models.NewChain{ChainType: otherType, PrimaryObjectId: l.DocumentId})
	if err != nil {
		return err
	}
	from, to := chain.ID, other.ID
	if l.Incoming {
		from, to = to, from
	}
	_, err = e.linkChains(s, models.NewChainLink{
		FromChainId: from,
		ToChainId:   to,
		LinkType:    l.LinkType,
		Amount:      l.Amount,
		Currency:    l.Currency,
		Metadata:    l.Metadata,
	})
	return err
}
