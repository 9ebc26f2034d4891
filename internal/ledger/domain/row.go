package ledger

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Header is the persisted column layout.
var Header = []string{"Type", "Timestamp", "Tenant", "Reading/Amount", "Consumption", "Balances"}

// MinRowFields is the number of cells a stored row needs to be replayed.
const MinRowFields = 6

const (
	colType = iota
	colTimestamp
	colTenant
	colValue
	colConsumption
	colBalances
)

// EncodeRow renders a transaction as the six persisted cells.
func EncodeRow(tx Transaction, tenants TenantSet) []string {
	consumption := ""
	if tx.Consumption != nil {
		consumption = FormatNumber(*tx.Consumption)
	}
	balances := ""
	if tx.Balances != nil {
		balances = tx.Balances.Format(tenants)
	}
	return []string{
		string(tx.Type),
		tx.Timestamp.Format(TimestampLayout),
		tx.Tenant,
		FormatNumber(tx.Value),
		consumption,
		balances,
	}
}

// DecodeRow parses persisted cells. Rows with too few cells, an unknown
// type, or an unparsable timestamp or value return ErrMalformedRow. A bad
// balance snapshot leaves Balances nil without failing the row.
func DecodeRow(row []string) (Transaction, error) {
	if len(row) < MinRowFields {
		return Transaction{}, fmt.Errorf("%w: %d fields", ErrMalformedRow, len(row))
	}
	typ := Type(strings.TrimSpace(row[colType]))
	if typ != TypeReading && typ != TypeRecharge {
		return Transaction{}, fmt.Errorf("%w: type %q", ErrMalformedRow, row[colType])
	}
	ts, err := time.Parse(TimestampLayout, strings.TrimSpace(row[colTimestamp]))
	if err != nil {
		return Transaction{}, fmt.Errorf("%w: timestamp %q", ErrMalformedRow, row[colTimestamp])
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(row[colValue]), 64)
	if err != nil {
		return Transaction{}, fmt.Errorf("%w: value %q", ErrMalformedRow, row[colValue])
	}
	tx := Transaction{
		Type:      typ,
		Timestamp: ts,
		Tenant:    row[colTenant],
		Value:     value,
	}
	if raw := strings.TrimSpace(row[colConsumption]); raw != "" {
		c, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Transaction{}, fmt.Errorf("%w: consumption %q", ErrMalformedRow, raw)
		}
		tx.Consumption = &c
	}
	if raw := strings.TrimSpace(row[colBalances]); raw != "" {
		if balances, err := ParseBalances(raw); err == nil {
			tx.Balances = balances
		}
	}
	return tx, nil
}

// FormatNumber renders a float the way the ledger has always stored them:
// the shortest round-trip form, keeping ".0" on integral values.
func FormatNumber(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !math.IsNaN(v) && !math.IsInf(v, 0) && !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// MissingColumns returns the required columns absent from a header row.
func MissingColumns(header []string) []string {
	var missing []string
	have := make(map[string]struct{}, len(header))
	for _, col := range header {
		have[strings.TrimSpace(col)] = struct{}{}
	}
	for _, col := range Header {
		if _, ok := have[col]; !ok {
			missing = append(missing, col)
		}
	}
	return missing
}
