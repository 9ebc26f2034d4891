package ledger

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	balanceSeparator = ": Rs."
	balanceJoiner    = "; "
	// CurrencyPrefix is printed before every amount.
	CurrencyPrefix = "Rs."
)

// Balances maps tenant to balance.
type Balances map[string]decimal.Decimal

// NewBalances returns a zero balance for every tenant.
func NewBalances(tenants TenantSet) Balances {
	b := make(Balances, tenants.Len())
	for _, name := range tenants.names {
		b[name] = decimal.Zero
	}
	return b
}

// Clone returns an independent copy.
func (b Balances) Clone() Balances {
	out := make(Balances, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// Of returns the balance of a tenant, zero when absent.
func (b Balances) Of(tenant string) decimal.Decimal {
	if v, ok := b[tenant]; ok {
		return v
	}
	return decimal.Zero
}

// Format renders the snapshot wire format in tenant order:
// "Ground Floor: Rs.300.00; First Floor: Rs.0.00".
func (b Balances) Format(tenants TenantSet) string {
	parts := make([]string, 0, tenants.Len())
	for _, name := range tenants.names {
		parts = append(parts, name+balanceSeparator+FormatAmount(b.Of(name)))
	}
	return strings.Join(parts, balanceJoiner)
}

// ParseBalances parses the snapshot wire format. Parts without the
// ": Rs." separator are ignored; an unparsable amount is an error.
func ParseBalances(s string) (Balances, error) {
	out := make(Balances)
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, amount, ok := strings.Cut(part, balanceSeparator)
		if !ok {
			continue
		}
		value, err := decimal.NewFromString(strings.TrimSpace(amount))
		if err != nil {
			return nil, fmt.Errorf("ledger: balance for %q: %w", strings.TrimSpace(name), err)
		}
		out[strings.TrimSpace(name)] = value
	}
	return out, nil
}

// FormatAmount renders an amount with two decimals, rounded half-up.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// FormatMoney renders an amount with the currency prefix.
func FormatMoney(d decimal.Decimal) string {
	return CurrencyPrefix + FormatAmount(d)
}
