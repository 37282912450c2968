package workflow

import (
	"testing"

	"github.com/mmdatafocus/eventchain/compliance"
	"github.com/mmdatafocus/eventchain/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestRecordCreatedWritesCausedEvents(t *testing.T) {
	e := newTestEngine(t)
	ctx := ctxFor(profileA)

	res, err := e.Record(ctx, DocumentEvent{
		Type:         DocumentCreated,
		DocumentType: models.ObjectTypeInvoice,
		DocumentId:   "inv-1",
		Title:        "FV 1/2024",
		TotalAmount:  decimal.NewNullDecimal(decimal.NewFromInt(1000)),
		Currency:     "PLN",
		State:        models.ChainStateIssued,
		Metadata:     map[string]any{"source": "invoice-form"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.ChainId)

	chain := reload(t, e.DB, res.ChainId)
	assert.Equal(t, models.ChainStateIssued, chain.State)
	assert.Equal(t, "FV 1/2024", chain.Title)

	events := eventsOf(t, e.DB, res.ChainId)
	require.GreaterOrEqual(t, len(events), 2)
	root := events[0]
	assert.Equal(t, models.ChainEventDocumentCreated, root.EventType)
	assert.Equal(t, res.RootEventId, root.ID)
	assert.Nil(t, root.CausationEventId)
	assert.Equal(t, "invoice-form", root.Metadata["source"])
	for _, ev := range events[1:] {
		require.NotNil(t, ev.CausationEventId, ev.EventType)
	}
	assert.Equal(t, root.ID, *events[1].CausationEventId)
	assert.Equal(t, models.ChainEventChainCreated, events[1].EventType)
}

func TestRecordAmendmentVersionsOnlyRealChanges(t *testing.T) {
	e := newTestEngine(t)
	ctx := ctxFor(profileA)
	base := DocumentEvent{
		Type:         DocumentCreated,
		DocumentType: models.ObjectTypeInvoice,
		DocumentId:   "inv-1",
		TotalAmount:  decimal.NewNullDecimal(decimal.NewFromInt(100)),
	}
	created, err := e.Record(ctx, base)
	require.NoError(t, err)

	amend := base
	amend.Type = DocumentAmended
	amend.Snapshot = datatypes.JSON(`{"totalNetValue": 100.00, "buyer": "ACME"}`)
	first, err := e.Record(ctx, amend)
	require.NoError(t, err)
	assert.Equal(t, created.ChainId, first.ChainId)
	assert.Equal(t, 1, first.VersionNo)

	again, err := e.Record(ctx, amend)
	require.NoError(t, err)
	assert.Equal(t, 0, again.VersionNo)

	amend.Snapshot = datatypes.JSON(`{"totalNetValue": 120.00, "buyer": "ACME"}`)
	amend.TotalAmount = decimal.NewNullDecimal(decimal.NewFromInt(120))
	changed, err := e.Record(ctx, amend)
	require.NoError(t, err)
	assert.Equal(t, 2, changed.VersionNo)

	latest, err := e.GetLatestVersion(ctx, models.ObjectTypeInvoice, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"totalNetValue"}, []string(latest.ChangedFields))
	assert.True(t, decimal.NewFromInt(120).Equal(reload(t, e.DB, created.ChainId).TotalAmount))

	var amountChanged *models.ChainEvent
	for _, ev := range eventsOf(t, e.DB, created.ChainId) {
		if ev.EventType == models.ChainEventAmountChanged {
			amountChanged = &ev
		}
	}
	require.NotNil(t, amountChanged)
	require.NotNil(t, amountChanged.CausationEventId)
	assert.Equal(t, changed.RootEventId, *amountChanged.CausationEventId)

	amend.Snapshot = nil
	_, err = e.Record(ctx, amend)
	requireKind(t, err, models.ErrKindValidation)
}

func TestRecordAttachedAndLinked(t *testing.T) {
	e := newTestEngine(t)
	ctx := ctxFor(profileA)

	invoice, err := e.Record(ctx, DocumentEvent{
		Type:         DocumentCreated,
		DocumentType: models.ObjectTypeInvoice,
		DocumentId:   "inv-1",
		TotalAmount:  decimal.NewNullDecimal(decimal.NewFromInt(1000)),
		Currency:     "PLN",
	})
	require.NoError(t, err)
	assert.Contains(t, []string(reload(t, e.DB, invoice.ChainId).Blockers), compliance.BlockerMissingKsefRef)

	_, err = e.Record(ctx, DocumentEvent{
		Type:         DocumentAttached,
		DocumentType: models.ObjectTypeInvoice,
		DocumentId:   "inv-1",
		Attachment: &AttachedObject{
			ObjectType: models.ObjectTypeKsefReference,
			ObjectId:   "ksef-1",
			Role:       models.ObjectRoleRelated,
		},
	})
	require.NoError(t, err)
	assert.Empty(t, reload(t, e.DB, invoice.ChainId).Blockers)

	payment, err := e.Record(ctx, DocumentEvent{
		Type:         DocumentLinked,
		DocumentType: models.ObjectTypeCashPayment,
		DocumentId:   "kp-1",
		TotalAmount:  decimal.NewNullDecimal(decimal.NewFromInt(300)),
		Link: &LinkedDocument{
			DocumentType: models.ObjectTypeInvoice,
			DocumentId:   "inv-1",
			LinkType:     models.ChainLinkTypeSettles,
			Amount:       decimal.NewNullDecimal(decimal.NewFromInt(300)),
		},
	})
	require.NoError(t, err)

	stored := reload(t, e.DB, invoice.ChainId)
	assert.True(t, decimal.NewFromInt(700).Equal(stored.RemainingAmount))

	paymentEvents := eventsOf(t, e.DB, payment.ChainId)
	assert.Equal(t, models.ChainEventDocumentLinked, paymentEvents[0].EventType)

	_, err = e.Record(ctx, DocumentEvent{Type: DocumentAttached, DocumentType: models.ObjectTypeInvoice, DocumentId: "inv-1"})
	requireKind(t, err, models.ErrKindValidation)
	_, err = e.Record(ctx, DocumentEvent{Type: DocumentCreated, DocumentType: models.ObjectTypeEvidenceFile, DocumentId: "f-1"})
	requireKind(t, err, models.ErrKindValidation)
	_, err = e.Record(ctx, DocumentEvent{Type: "deleted", DocumentType: models.ObjectTypeInvoice, DocumentId: "inv-1"})
	requireKind(t, err, models.ErrKindValidation)
}

func TestRecordPostedAndStateChanged(t *testing.T) {
	e := newTestEngine(t)
	ctx := ctxFor(profileA)

	res, err := e.Record(ctx, DocumentEvent{Type: DocumentPosted, DocumentType: models.ObjectTypeBankTransaction, DocumentId: "wb-1"})
	require.NoError(t, err)
	assert.Equal(t, models.ChainStatePosted, reload(t, e.DB, res.ChainId).State)

	_, err = e.Record(ctx, DocumentEvent{Type: DocumentStateChanged, DocumentType: models.ObjectTypeBankTransaction, DocumentId: "wb-1", State: models.ChainStateClosed})
	require.NoError(t, err)
	assert.NotNil(t, reload(t, e.DB, res.ChainId).ClosedAt)

	_, err = e.Record(ctx, DocumentEvent{Type: DocumentStateChanged, DocumentType: models.ObjectTypeBankTransaction, DocumentId: "wb-1", State: models.ChainStateDraft})
	requireKind(t, err, models.ErrKindInvalidTransition)

	_, err = e.Record(ctx, DocumentEvent{Type: DocumentStateChanged, DocumentType: models.ObjectTypeBankTransaction, DocumentId: "wb-2"})
	requireKind(t, err, models.ErrKindValidation)
}

func TestRecordOnceSkipsRedelivery(t *testing.T) {
	e := newTestEngine(t)
	ctx := ctxFor(profileA)
	ev := DocumentEvent{Type: DocumentCreated, DocumentType: models.ObjectTypeDecision, DocumentId: "dec-1"}

	first, err := e.RecordOnce(ctx, "pubsub-document-events", "msg-1", ev)
	require.NoError(t, err)
	assert.False(t, first.Skipped)
	events := countRows(t, e.DB, &models.ChainEvent{})

	second, err := e.RecordOnce(ctx, "pubsub-document-events", "msg-1", ev)
	require.NoError(t, err)
	assert.True(t, second.Skipped)
	assert.Equal(t, first.ChainId, second.ChainId)
	assert.Equal(t, events, countRows(t, e.DB, &models.ChainEvent{}))

	var key models.IdempotencyKey
	require.NoError(t, e.DB.Where("message_id = ?", "msg-1").Take(&key).Error)
	assert.Equal(t, models.IdempotencyStatusSucceeded, key.Status)
}

func TestRecordOnceMarksFailureAndAllowsRetry(t *testing.T) {
	e := newTestEngine(t)
	ctx := ctxFor(profileA)
	bad := DocumentEvent{Type: DocumentStateChanged, DocumentType: models.ObjectTypeDecision, DocumentId: "dec-1", State: models.ChainStatePaid}

	_, err := e.RecordOnce(ctx, "pubsub-document-events", "msg-2", bad)
	requireKind(t, err, models.ErrKindInvalidTransition)
	assert.EqualValues(t, 0, countRows(t, e.DB, &models.Chain{}))

	var key models.IdempotencyKey
	require.NoError(t, e.DB.Where("message_id = ?", "msg-2").Take(&key).Error)
	assert.Equal(t, models.IdempotencyStatusFailed, key.Status)
	require.NotNil(t, key.LastError)

	good := bad
	good.State = models.ChainStateIssued
	res, err := e.RecordOnce(ctx, "pubsub-document-events", "msg-2", good)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, models.ChainStateIssued, reload(t, e.DB, res.ChainId).State)
}

func TestRecordRootStaysOnDocumentChain(t *testing.T) {
	e := newTestEngine(t)
	ctx := ctxFor(profileA)
	invoice := mustCreate(t, e, ctx, models.ChainTypeInvoice, "inv-1", 1000)
	payment := mustCreate(t, e, ctx, models.ChainTypeCashPayment, "kp-1", 300)

	res, err := e.Record(ctx, DocumentEvent{
		Type:         DocumentLinked,
		DocumentType: models.ObjectTypeInvoice,
		DocumentId:   "inv-1",
		Link: &LinkedDocument{
			DocumentType: models.ObjectTypeCashPayment,
			DocumentId:   "kp-1",
			LinkType:     models.ChainLinkTypeSettles,
			Amount:       decimal.NewNullDecimal(decimal.NewFromInt(300)),
			Incoming:     true,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, invoice.ID, res.ChainId)

	var root models.ChainEvent
	require.NoError(t, e.DB.Where("id = ?", res.RootEventId).Take(&root).Error)
	assert.Equal(t, invoice.ID, root.ChainId)
	assert.Equal(t, models.ChainEventDocumentLinked, root.EventType)
	assert.Contains(t, eventTypes(eventsOf(t, e.DB, invoice.ID)), models.ChainEventDocumentLinked)
	assert.NotContains(t, eventTypes(eventsOf(t, e.DB, payment.ID)), models.ChainEventDocumentLinked)

	for _, ev := range eventsOf(t, e.DB, payment.ID) {
		if ev.EventType == models.ChainEventLinkCreated {
			require.NotNil(t, ev.CausationEventId)
			assert.Equal(t, root.ID, *ev.CausationEventId)
		}
	}
	assert.True(t, decimal.NewFromInt(700).Equal(reload(t, e.DB, invoice.ID).RemainingAmount))
}

func TestRecordAmendmentRootStaysOnDocumentChain(t *testing.T) {
	e := newTestEngine(t)
	ctx := ctxFor(profileA)
	invoice := mustCreate(t, e, ctx, models.ChainTypeInvoice, "inv-1", 100)
	holders := make([]*models.Chain, 0, 4)
	for _, id := range []string{"kp-1", "kp-2", "kp-3", "kp-4"} {
		holder := mustCreate(t, e, ctx, models.ChainTypeCashPayment, id, 10)
		_, err := e.AddObjectToChain(ctx, models.NewChainObject{
			ChainId:    holder.ID,
			ObjectType: models.ObjectTypeInvoice,
			ObjectId:   "inv-1",
			Role:       models.ObjectRoleEvidence,
		})
		require.NoError(t, err)
		holders = append(holders, holder)
	}

	res, err := e.Record(ctx, DocumentEvent{
		Type:         DocumentAmended,
		DocumentType: models.ObjectTypeInvoice,
		DocumentId:   "inv-1",
		Snapshot:     datatypes.JSON(`{"totalNetValue": 100.00}`),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.VersionNo)

	var root models.ChainEvent
	require.NoError(t, e.DB.Where("id = ?", res.RootEventId).Take(&root).Error)
	assert.Equal(t, invoice.ID, root.ChainId)
	assert.Equal(t, models.ChainEventDocumentAmended, root.EventType)

	for _, holder := range holders {
		types := eventTypes(eventsOf(t, e.DB, holder.ID))
		assert.NotContains(t, types, models.ChainEventDocumentAmended)
		assert.Contains(t, types, models.ChainEventVersionCreated)
	}
}
