package ledger

import "github.com/shopspring/decimal"

// Allocation is the split of one recharge across tenants by consumption.
type Allocation struct {
	Amount           float64
	ConsumptionSince map[string]float64
	Total            float64
	Ratios           map[string]float64
	Deductions       map[string]decimal.Decimal
}

// Allocate splits amount across tenants in proportion to the consumption
// between before and current readings. Each deduction is rounded half-up to
// two decimals on its own, so the deductions may drift from amount by up to
// a cent per tenant. Zero total consumption or a non-positive amount yields
// no deductions.
func Allocate(tenants TenantSet, current, before map[string]float64, amount float64) Allocation {
	a := Allocation{
		Amount:           amount,
		ConsumptionSince: make(map[string]float64, tenants.Len()),
		Ratios:           make(map[string]float64, tenants.Len()),
		Deductions:       make(map[string]decimal.Decimal, tenants.Len()),
	}
	for _, name := range tenants.names {
		since := current[name] - before[name]
		if since < 0 {
			since = 0
		}
		a.ConsumptionSince[name] = since
		a.Total += since
	}
	if a.Total <= 0 || amount <= 0 {
		return a
	}
	base := decimal.NewFromFloat(amount)
	for _, name := range tenants.names {
		ratio := a.ConsumptionSince[name] / a.Total
		a.Ratios[name] = ratio
		a.Deductions[name] = base.Mul(decimal.NewFromFloat(ratio)).Round(2)
	}
	return a
}

// AllocateIncrement settles amount against current readings when part of it
// was already deducted at previous readings. Both allocations are measured
// from before; the result deducts only their difference, so once the next
// recharge arrives amount has been split by the cumulative consumption since
// before. ConsumptionSince, Total and Ratios describe the current allocation.
// A deduction may be negative when a tenant's share shrank.
func AllocateIncrement(tenants TenantSet, current, previous, before map[string]float64, amount float64) Allocation {
	now := Allocate(tenants, current, before, amount)
	prior := Allocate(tenants, previous, before, amount)
	if prior.Empty() {
		return now
	}
	deductions := make(map[string]decimal.Decimal, tenants.Len())
	for _, name := range tenants.names {
		if d := now.Deductions[name].Sub(prior.Deductions[name]); !d.IsZero() {
			deductions[name] = d
		}
	}
	now.Deductions = deductions
	return now
}

// Empty reports whether the allocation deducts nothing.
func (a Allocation) Empty() bool { return len(a.Deductions) == 0 }

// Deducted returns the sum of all deductions.
func (a Allocation) Deducted() decimal.Decimal {
	sum := decimal.Zero
	for _, d := range a.Deductions {
		sum = sum.Add(d)
	}
	return sum
}

// ApplyTo returns a copy of balances with the deductions subtracted.
func (a Allocation) ApplyTo(balances Balances) Balances {
	out := balances.Clone()
	for name, d := range a.Deductions {
		out[name] = out.Of(name).Sub(d)
	}
	return out
}

// Credit returns a copy of balances with amount added to tenant.
func Credit(balances Balances, tenant string, amount float64) Balances {
	out := balances.Clone()
	out[tenant] = out.Of(tenant).Add(decimal.NewFromFloat(amount))
	return out
}
