package workflow

import (
	"testing"

	"github.com/mmdatafocus/eventchain/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func violationCodes(vs []Violation) map[ViolationCode][]Violation {
	out := map[ViolationCode][]Violation{}
	for _, v := range vs {
		out[v.Code] = append(out[v.Code], v)
	}
	return out
}

func TestVerifyInvariantsOnConsistentData(t *testing.T) {
	e := newTestEngine(t)
	ctx := ctxFor(profileA)
	inv := mustCreate(t, e, ctx, models.ChainTypeInvoice, "inv-1", 1000)
	kp := mustCreate(t, e, ctx, models.ChainTypeCashPayment, "kp-1", 400)
	_, err := e.LinkChains(ctx, models.NewChainLink{
		FromChainId: kp.ID,
		ToChainId:   inv.ID,
		LinkType:    models.ChainLinkTypeSettles,
		Amount:      decimal.NewNullDecimal(decimal.NewFromInt(400)),
	})
	require.NoError(t, err)
	for _, total := range []string{"100", "120"} {
		_, err := e.CreateVersion(ctx, models.NewDocumentVersion{
			DocumentType: models.ObjectTypeInvoice,
			DocumentId:   "inv-1",
			Snapshot:     datatypes.JSON(`{"total": ` + total + `}`),
		})
		require.NoError(t, err)
	}

	violations, err := e.VerifyInvariants(ctx)
	require.NoError(t, err)
	assert.Empty(t, violations)

	_, err = e.VerifyInvariants(ctxFor(""))
	requireKind(t, err, models.ErrKindValidation)
}

func TestVerifyInvariantsReportsCorruption(t *testing.T) {
	e := newTestEngine(t)
	ctx := ctxFor(profileA)
	inv1 := mustCreate(t, e, ctx, models.ChainTypeInvoice, "inv-1", 1000)
	inv2 := mustCreate(t, e, ctx, models.ChainTypeInvoice, "inv-2", 500)
	kp := mustCreate(t, e, ctx, models.ChainTypeCashPayment, "kp-1", 300)
	decision := mustCreate(t, e, ctx, models.ChainTypeDecision, "dec-1", 0)
	mustCreate(t, e, ctxFor(profileB), models.ChainTypeInvoice, "inv-b", 10)

	_, err := e.LinkChains(ctx, models.NewChainLink{
		FromChainId: kp.ID,
		ToChainId:   inv2.ID,
		LinkType:    models.ChainLinkTypeSettles,
		Amount:      decimal.NewNullDecimal(decimal.NewFromInt(300)),
	})
	require.NoError(t, err)
	for _, doc := range []string{"inv-1", "inv-1", "inv-2"} {
		_, err := e.CreateVersion(ctx, models.NewDocumentVersion{
			DocumentType:  models.ObjectTypeInvoice,
			DocumentId:    doc,
			Snapshot:      datatypes.JSON(`{"n": 1}`),
			ChangedFields: []string{"n"},
		})
		require.NoError(t, err)
	}

	db := e.DB
	require.NoError(t, db.Model(&models.Chain{}).Where("id = ?", decision.ID).Update("state", models.ChainStatePaid).Error)
	require.NoError(t, db.Where("chain_id = ? AND role = ?", inv1.ID, models.ObjectRolePrimary).Delete(&models.ChainObject{}).Error)
	require.NoError(t, db.Model(&models.Chain{}).Where("id = ?", inv2.ID).Update("paid_amount", decimal.Zero).Error)
	require.NoError(t, db.Where("document_id = ? AND version_no = ?", "inv-1", 1).Delete(&models.DocumentVersion{}).Error)
	require.NoError(t, db.Model(&models.DocumentVersionHead{}).Where("document_id = ?", "inv-2").Update("last_version_no", 5).Error)

	violations, err := e.VerifyInvariants(ctx)
	require.NoError(t, err)
	byCode := violationCodes(violations)

	require.Len(t, byCode[ViolationState], 1)
	assert.Equal(t, decision.ID, byCode[ViolationState][0].ChainId)
	require.Len(t, byCode[ViolationPrimaryObject], 1)
	assert.Equal(t, inv1.ID, byCode[ViolationPrimaryObject][0].ChainId)
	require.Len(t, byCode[ViolationPaidAmount], 1)
	assert.Equal(t, inv2.ID, byCode[ViolationPaidAmount][0].ChainId)
	require.Len(t, byCode[ViolationVersionGap], 1)
	assert.Equal(t, "inv-1", byCode[ViolationVersionGap][0].DocumentId)
	require.Len(t, byCode[ViolationVersionHead], 1)
	assert.Equal(t, "inv-2", byCode[ViolationVersionHead][0].DocumentId)
	assert.Empty(t, byCode[ViolationOverSettlement])

	others, err := e.VerifyInvariants(ctxFor(profileB))
	require.NoError(t, err)
	assert.Empty(t, others)

	profiles, err := e.BusinessProfileIds(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{profileA, profileB}, profiles)
}
