package workflow

import (
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/mmdatafocus/eventchain/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func invoiceVersion(docId, snapshot string) models.NewDocumentVersion {
	return models.NewDocumentVersion{
		DocumentType: models.ObjectTypeInvoice,
		DocumentId:   docId,
		Snapshot:     datatypes.JSON(snapshot),
	}
}

func TestCreateVersionNumbersAndDiffs(t *testing.T) {
	e := newTestEngine(t)
	ctx := ctxFor(profileA)

	_, err := e.GetLatestVersion(ctx, models.ObjectTypeInvoice, "inv-1")
	requireKind(t, err, models.ErrKindNotFound)

	v1, err := e.CreateVersion(ctx, invoiceVersion("inv-1", `{"totalNetValue": 100.00, "buyer": "ACME"}`))
	require.NoError(t, err)
	assert.Equal(t, 1, v1.VersionNo)
	assert.Equal(t, []string{"buyer", "totalNetValue"}, []string(v1.ChangedFields))

	reason := "price correction"
	in := invoiceVersion("inv-1", `{"buyer":"ACME","totalNetValue":120.00}`)
	in.ChangeReason = &reason
	v2, err := e.CreateVersion(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, v1.VersionNo+1, v2.VersionNo)
	assert.Equal(t, []string{"totalNetValue"}, []string(v2.ChangedFields))

	latest, err := e.GetLatestVersion(ctx, models.ObjectTypeInvoice, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, 2, latest.VersionNo)
	assert.JSONEq(t, `{"buyer":"ACME","totalNetValue":120.00}`, string(latest.SnapshotJson))
	require.NotNil(t, latest.ChangeReason)
	assert.Equal(t, reason, *latest.ChangeReason)

	first, err := e.GetVersion(ctx, models.ObjectTypeInvoice, "inv-1", 1)
	require.NoError(t, err)
	assert.Equal(t, v1.ID, first.ID)
	_, err = e.GetVersion(ctx, models.ObjectTypeInvoice, "inv-1", 3)
	requireKind(t, err, models.ErrKindNotFound)

	explicit := invoiceVersion("inv-1", `{"buyer":"ACME","totalNetValue":120.00}`)
	explicit.ChangedFields = []string{"notes"}
	v3, err := e.CreateVersion(ctx, explicit)
	require.NoError(t, err)
	assert.Equal(t, 3, v3.VersionNo)
	assert.Equal(t, []string{"notes"}, []string(v3.ChangedFields))

	all, err := e.GetVersions(ctx, models.ObjectTypeInvoice, "inv-1")
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i, v := range all {
		assert.Equal(t, i+1, v.VersionNo)
	}
}

func TestCreateVersionRejectsBadInput(t *testing.T) {
	e := newTestEngine(t)
	ctx := ctxFor(profileA)

	_, err := e.CreateVersion(ctx, invoiceVersion("inv-1", `[1,2]`))
	requireKind(t, err, models.ErrKindValidation)
	_, err = e.CreateVersion(ctx, invoiceVersion("inv-1", `null`))
	requireKind(t, err, models.ErrKindValidation)
	_, err = e.CreateVersion(ctx, models.NewDocumentVersion{DocumentType: "memo", DocumentId: "m-1", Snapshot: datatypes.JSON(`{}`)})
	requireKind(t, err, models.ErrKindValidation)
	_, err = e.CreateVersion(ctx, models.NewDocumentVersion{DocumentType: models.ObjectTypeInvoice, DocumentId: "inv-1"})
	requireKind(t, err, models.ErrKindValidation)

	assert.EqualValues(t, 0, countRows(t, e.DB, &models.DocumentVersion{}))
}

func TestVersionsAreTenantScoped(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.CreateVersion(ctxFor(profileA), invoiceVersion("inv-1", `{"a":1}`))
	require.NoError(t, err)

	_, err = e.CreateVersion(ctxFor(profileB), invoiceVersion("inv-1", `{"a":2}`))
	requireKind(t, err, models.ErrKindCrossTenantAccess)
	_, err = e.GetLatestVersion(ctxFor(profileB), models.ObjectTypeInvoice, "inv-1")
	requireKind(t, err, models.ErrKindCrossTenantAccess)
	_, err = e.GetVersions(ctxFor(profileB), models.ObjectTypeInvoice, "inv-1")
	requireKind(t, err, models.ErrKindCrossTenantAccess)
}

func TestConcurrentVersionsAreGapFree(t *testing.T) {
	e := newTestEngine(t)
	ctx := ctxFor(profileA)
	const writers = 12

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		nums []int
		errs []error
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := e.CreateVersion(ctx, invoiceVersion("inv-1", fmt.Sprintf(`{"totalNetValue": %d}`, 100+i)))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			nums = append(nums, v.VersionNo)
		}(i)
	}
	wg.Wait()

	require.Empty(t, errs)
	sort.Ints(nums)
	want := make([]int, writers)
	for i := range want {
		want[i] = i + 1
	}
	assert.Equal(t, want, nums)

	all, err := e.GetVersions(ctx, models.ObjectTypeInvoice, "inv-1")
	require.NoError(t, err)
	assert.Len(t, all, writers)
}

func TestVersionIsRecordedOnChain(t *testing.T) {
	e := newTestEngine(t)
	ctx := ctxFor(profileA)
	chain := mustCreate(t, e, ctx, models.ChainTypeInvoice, "inv-1", 100)

	v, err := e.CreateVersion(ctx, invoiceVersion("inv-1", `{"totalNetValue": 120}`))
	require.NoError(t, err)

	var found *models.ChainEvent
	for _, ev := range eventsOf(t, e.DB, chain.ID) {
		if ev.EventType == models.ChainEventVersionCreated {
			found = &ev
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, "inv-1", found.Metadata["document_id"])
	assert.EqualValues(t, fmt.Sprint(v.VersionNo), fmt.Sprint(found.Metadata["version_no"]))
}
