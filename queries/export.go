package queries

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

const exportSheet = "Chains"

// exportPageSize keeps each list query bounded while the export walks every page.
const exportPageSize = maxLimit

var exportHeadings = []string{
	"Chain Number", "Type", "State", "Title", "Primary Object", "Total", "Paid", "Remaining",
	"Currency", "Needs Attention", "Blockers", "Required Actions", "Events", "Last Activity", "Updated At",
}

// ExportChains writes every chain matching filter, ignoring its paging, as an xlsx workbook.
func (s *Service) ExportChains(ctx context.Context, filter ChainFilter, w io.Writer) error {
	ctx, span := tracer.Start(ctx, "queries.ExportChains")
	defer span.End()

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return err
	}

	for i, h := range exportHeadings {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(exportSheet, cell, h); err != nil {
			return err
		}
	}

	rowNo := 2
	filter.Limit = exportPageSize
	for offset := 0; ; offset += exportPageSize {
		filter.Offset = offset
		page, err := s.GetChains(ctx, filter)
		if err != nil {
			return err
		}
		for _, c := range page.Chains {
			if err := f.SetSheetRow(exportSheet, fmt.Sprintf("A%d", rowNo), exportRow(c)); err != nil {
				return err
			}
			rowNo++
		}
		if len(page.Chains) < exportPageSize {
			break
		}
	}

	_, err := f.WriteTo(w)
	return err
}

func exportRow(c *ChainSummary) *[]any {
	lastActivity := ""
	if c.LastActivityAt != nil {
		lastActivity = c.LastActivityAt.UTC().Format(time.RFC3339)
	}
	row := []any{
		c.ChainNumber,
		string(c.ChainType),
		string(c.State),
		c.Title,
		string(c.PrimaryObjectType) + ":" + c.PrimaryObjectId,
		c.TotalAmount.InexactFloat64(),
		c.PaidAmount.InexactFloat64(),
		c.RemainingAmount.InexactFloat64(),
		c.Currency,
		c.NeedsAttention,
		strings.Join(c.Blockers, ", "),
		strings.Join(c.RequiredActions, ", "),
		c.EventCount,
		lastActivity,
		c.UpdatedAt.UTC().Format(time.RFC3339),
	}
	return &row
}
