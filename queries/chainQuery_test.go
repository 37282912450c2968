package queries

import (
	"context"
	"testing"

	"github.com/mmdatafocus/eventchain/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedInvoices builds two invoices, a payment settling the first and a foreign chain.
func seedInvoices(t *testing.T, f *fixture) (inv1, inv2, kp *models.Chain) {
	t.Helper()
	ctx := ctxFor(profileA)
	inv1 = f.create(t, profileA, models.ChainTypeInvoice, "inv-1", 1000)
	inv2 = f.create(t, profileA, models.ChainTypeInvoice, "inv-2", 500)
	kp = f.create(t, profileA, models.ChainTypeCashPayment, "kp-1", 300)
	f.create(t, profileB, models.ChainTypeInvoice, "inv-b", 10)

	_, err := f.engine.LinkChains(ctx, models.NewChainLink{
		FromChainId: kp.ID,
		ToChainId:   inv1.ID,
		LinkType:    models.ChainLinkTypeSettles,
		Amount:      decimal.NewNullDecimal(decimal.NewFromInt(300)),
	})
	require.NoError(t, err)
	_, err = f.engine.AddObjectToChain(ctx, models.NewChainObject{
		ChainId:    inv1.ID,
		ObjectType: models.ObjectTypeEvidenceFile,
		ObjectId:   "scan-1",
		Role:       models.ObjectRoleEvidence,
	})
	require.NoError(t, err)
	_, err = f.engine.TransitionState(ctx, inv2.ID, models.ChainStateIssued, nil)
	require.NoError(t, err)
	return inv1, inv2, kp
}

func TestGetChainsListsNewestFirstWithAggregates(t *testing.T) {
	f := newFixture(t)
	inv1, inv2, kp := seedInvoices(t, f)

	list, err := f.service.GetChains(ctxFor(profileA), ChainFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, list.TotalCount)
	require.Len(t, list.Chains, 3)
	assert.Equal(t, inv2.ID, list.Chains[0].ID)
	for i := 1; i < len(list.Chains); i++ {
		assert.False(t, list.Chains[i].UpdatedAt.After(list.Chains[i-1].UpdatedAt))
	}

	var first *ChainSummary
	for _, c := range list.Chains {
		if c.ID == inv1.ID {
			first = c
		}
		assert.NotEqual(t, profileB, c.BusinessProfileId)
	}
	require.NotNil(t, first)

	var events []models.ChainEvent
	require.NoError(t, f.engine.DB.Where("chain_id = ?", inv1.ID).Order("id ASC").Find(&events).Error)
	assert.EqualValues(t, len(events), first.EventCount)
	require.NotNil(t, first.LastActivityAt)
	assert.True(t, events[len(events)-1].OccurredAt.Equal(*first.LastActivityAt))
	assert.EqualValues(t, 1, first.RelatedObjectCount)
	assert.True(t, decimal.NewFromInt(700).Equal(first.RemainingAmount))

	invoices := models.ChainTypeInvoice
	list, err = f.service.GetChains(ctxFor(profileA), ChainFilter{ChainType: &invoices})
	require.NoError(t, err)
	assert.EqualValues(t, 2, list.TotalCount)

	list, err = f.service.GetChains(ctxFor(profileA), ChainFilter{Q: "KP-"})
	require.NoError(t, err)
	require.Len(t, list.Chains, 1)
	assert.Equal(t, kp.ID, list.Chains[0].ID)

	issued := models.ChainStateIssued
	list, err = f.service.GetChains(ctxFor(profileA), ChainFilter{State: &issued})
	require.NoError(t, err)
	require.Len(t, list.Chains, 1)
	assert.Equal(t, inv2.ID, list.Chains[0].ID)

	list, err = f.service.GetChains(ctxFor(profileA), ChainFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 3, list.TotalCount)
	require.Len(t, list.Chains, 1)
	assert.NotEqual(t, inv2.ID, list.Chains[0].ID)

	list, err = f.service.GetChains(ctxFor(profileB), ChainFilter{})
	require.NoError(t, err)
	require.Len(t, list.Chains, 1)
	assert.Equal(t, "inv-b", list.Chains[0].PrimaryObjectId)
}

func TestGetChainsAttentionFilter(t *testing.T) {
	f := newFixture(t)
	seedInvoices(t, f)

	var flagged int64
	require.NoError(t, f.engine.DB.Model(&models.Chain{}).
		Where("business_profile_id = ? AND needs_attention = ?", profileA, true).Count(&flagged).Error)

	yes, no := true, false
	list, err := f.service.GetChains(ctxFor(profileA), ChainFilter{NeedsAttention: &yes})
	require.NoError(t, err)
	assert.EqualValues(t, flagged, list.TotalCount)
	for _, c := range list.Chains {
		assert.True(t, c.NeedsAttention)
		assert.True(t, c.ComputeNeedsAttention())
	}

	list, err = f.service.GetChains(ctxFor(profileA), ChainFilter{NeedsAttention: &no})
	require.NoError(t, err)
	assert.EqualValues(t, 3-flagged, list.TotalCount)

	list, err = f.service.GetChains(ctxFor(profileA), ChainFilter{Verified: &yes})
	require.NoError(t, err)
	assert.EqualValues(t, 0, list.TotalCount)
}

func TestGetChainsRejectsBadFilter(t *testing.T) {
	f := newFixture(t)
	bogus := models.ChainType("receipt")
	_, err := f.service.GetChains(ctxFor(profileA), ChainFilter{ChainType: &bogus})
	requireKind(t, err, models.ErrKindValidation)

	_, err = f.service.GetChains(ctxFor(profileA), ChainFilter{Limit: -1})
	requireKind(t, err, models.ErrKindValidation)

	_, err = f.service.GetChains(context.Background(), ChainFilter{})
	requireKind(t, err, models.ErrKindValidation)
}

func TestGetChainDetail(t *testing.T) {
	f := newFixture(t)
	inv1, _, kp := seedInvoices(t, f)

	detail, err := f.service.GetChainDetail(ctxFor(profileA), inv1.ID)
	require.NoError(t, err)
	assert.Equal(t, inv1.ID, detail.Chain.ID)
	assert.Equal(t, detail.Chain.NeedsAttention, detail.NeedsAttention)
	require.Len(t, detail.Objects, 2)
	assert.Equal(t, models.ObjectRolePrimary, detail.Objects[0].Role)
	assert.Equal(t, "scan-1", detail.Objects[1].ObjectId)
	require.Len(t, detail.Links, 1)
	assert.Equal(t, kp.ID, detail.Links[0].FromChainId)
	require.Contains(t, detail.Counterparts, kp.ID)
	assert.Equal(t, kp.ChainNumber, detail.Counterparts[kp.ID].ChainNumber)
	assert.NotEmpty(t, detail.Timeline)

	payment, err := f.service.GetChainDetail(ctxFor(profileA), kp.ID)
	require.NoError(t, err)
	require.Len(t, payment.Links, 1)
	assert.Equal(t, inv1.ID, payment.Links[0].ToChainId)
	assert.Contains(t, payment.Counterparts, inv1.ID)

	_, err = f.service.GetChainDetail(ctxFor(profileB), inv1.ID)
	requireKind(t, err, models.ErrKindCrossTenantAccess)
	_, err = f.service.GetChainDetail(ctxFor(profileA), "missing")
	requireKind(t, err, models.ErrKindNotFound)
}

func TestGetChainDetailResolvesCounterpartsThroughLoader(t *testing.T) {
	f := newFixture(t)
	inv1, _, kp := seedInvoices(t, f)

	var asked []string
	f.service.LoadChains = func(ctx context.Context, ids []string) ([]*models.Chain, []error) {
		asked = append(asked, ids...)
		return []*models.Chain{{ID: kp.ID, ChainNumber: "KP-LOADED"}}, nil
	}
	detail, err := f.service.GetChainDetail(ctxFor(profileA), inv1.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{kp.ID}, asked)
	assert.Equal(t, "KP-LOADED", detail.Counterparts[kp.ID].ChainNumber)
}
