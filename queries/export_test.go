package queries

import (
	"bytes"
	"testing"

	"github.com/mmdatafocus/eventchain/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestExportChains(t *testing.T) {
	f := newFixture(t)
	inv1, _, _ := seedInvoices(t, f)

	var buf bytes.Buffer
	require.NoError(t, f.service.ExportChains(ctxFor(profileA), ChainFilter{Limit: 1}, &buf))

	book, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer book.Close()
	rows, err := book.GetRows(exportSheet)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, exportHeadings, rows[0])

	var found []string
	for _, row := range rows[1:] {
		if row[0] == inv1.ChainNumber {
			found = row
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, string(models.ChainTypeInvoice), found[1])
	assert.Equal(t, "invoice:inv-1", found[4])
	assert.Equal(t, "1000", found[5])
	assert.Equal(t, "700", found[7])
}

func TestExportChainsNeedsProfile(t *testing.T) {
	f := newFixture(t)
	var buf bytes.Buffer
	err := f.service.ExportChains(ctxFor(""), ChainFilter{}, &buf)
	requireKind(t, err, models.ErrKindValidation)
}
