package interfaces

import (
	"errors"
	"strings"
	"time"

	ledger "meterbook/internal/ledger/domain"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidCutoff is returned for cutoff dates not in YYYY-MM-DD form.
	ErrInvalidCutoff = errors.New("report: cutoff must be YYYY-MM-DD")
	// ErrUnknownFormat is returned for unsupported export formats.
	ErrUnknownFormat = errors.New("report: unknown format")
)

const cutoffLayout = "2006-01-02"

// ReportRow is one rendered ledger row.
type ReportRow struct {
	Type   ledger.Type
	Tenant string
	Cells  []string
	// LowCol and HighCol index the lowest and highest balance cells of a
	// RECHARGE row, -1 otherwise.
	LowCol  int
	HighCol int
}

// ReportTable is the ledger laid out with one balance column per tenant.
type ReportTable struct {
	Columns []string
	Rows    []ReportRow
	Tenants ledger.TenantSet
}

// ParseCutoff parses a YYYY-MM-DD cutoff. An empty value means no cutoff.
func ParseCutoff(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(cutoffLayout, value)
	if err != nil {
		return time.Time{}, ErrInvalidCutoff
	}
	return t, nil
}

// BuildReport keeps rows dated strictly after cutoff (all rows for a zero
// cutoff) and expands each balance snapshot into per-tenant columns.
func BuildReport(records []ledger.Transaction, tenants ledger.TenantSet, cutoff time.Time) ReportTable {
	names := tenants.Names()
	table := ReportTable{
		Columns: append([]string{"Type", "Timestamp", "Tenant", "Reading/Amount", "Consumption"}, names...),
		Tenants: tenants,
	}
	for _, tx := range records {
		day := time.Date(tx.Timestamp.Year(), tx.Timestamp.Month(), tx.Timestamp.Day(), 0, 0, 0, 0, time.UTC)
		if !cutoff.IsZero() && !day.After(cutoff) {
			continue
		}
		cells := ledger.EncodeRow(tx, tenants)[:5]
		cells[1] = day.Format(cutoffLayout)
		row := ReportRow{Type: tx.Type, Tenant: tx.Tenant, LowCol: -1, HighCol: -1}
		row.Cells = append(row.Cells, cells...)

		var low, high decimal.Decimal
		for i, name := range names {
			cell := ""
			amount := decimal.Zero
			if tx.Balances != nil {
				if v, ok := tx.Balances[name]; ok {
					amount = v
					cell = ledger.FormatMoney(v)
				}
			}
			row.Cells = append(row.Cells, cell)
			if !tx.IsRecharge() {
				continue
			}
			col := 5 + i
			if i == 0 || amount.LessThan(low) {
				low, row.LowCol = amount, col
			}
			if i == 0 || amount.GreaterThan(high) {
				high, row.HighCol = amount, col
			}
		}
		table.Rows = append(table.Rows, row)
	}
	return table
}
