package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Recharge is the most recent payment recorded in a book.
type Recharge struct {
	Tenant    string
	Amount    float64
	Timestamp time.Time
}

// IsZero reports whether no recharge has been recorded.
func (r Recharge) IsZero() bool { return r.Tenant == "" && r.Timestamp.IsZero() }

// State is rebuilt from a full ledger scan on every load. It is never
// persisted and never patched in place.
type State struct {
	Tenants  TenantSet
	Balances Balances
	// LastReading holds only tenants that have at least one reading.
	LastReading map[string]float64
	// LastReadingBeforeRecharge holds every tenant, zero when unknown.
	LastReadingBeforeRecharge map[string]float64
	LastRecharge              Recharge
	// Settled is true once a READING batch has been recorded after the last
	// recharge, which means part of it has already been allocated.
	Settled bool
	Records []Transaction
}

// Reconstruct replays records from an empty state.
func Reconstruct(records []Transaction, tenants TenantSet) *State {
	state := &State{
		Tenants:                   tenants,
		Balances:                  NewBalances(tenants),
		LastReading:               make(map[string]float64, tenants.Len()),
		LastReadingBeforeRecharge: make(map[string]float64, tenants.Len()),
		Records:                   records,
	}
	for _, name := range tenants.names {
		state.LastReadingBeforeRecharge[name] = 0
	}

	for _, rec := range records {
		if rec.Balances == nil {
			continue
		}
		next := NewBalances(tenants)
		for name, amount := range rec.Balances {
			if tenants.Contains(name) {
				next[name] = amount
			}
		}
		state.Balances = next
	}

	rechargeIdx := -1
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].IsRecharge() {
			rechargeIdx = i
			break
		}
	}

	if rechargeIdx >= 0 {
		rec := records[rechargeIdx]
		state.LastRecharge = Recharge{Tenant: rec.Tenant, Amount: rec.Value, Timestamp: rec.Timestamp}

		seen := make(map[string]struct{}, tenants.Len())
		for i := rechargeIdx - 1; i >= 0 && len(seen) < tenants.Len(); i-- {
			rec := records[i]
			if !rec.IsReading() || !tenants.Contains(rec.Tenant) {
				continue
			}
			if _, ok := seen[rec.Tenant]; ok {
				continue
			}
			state.LastReadingBeforeRecharge[rec.Tenant] = rec.Value
			seen[rec.Tenant] = struct{}{}
		}

		for i := rechargeIdx + 1; i < len(records); i++ {
			if records[i].IsReading() {
				state.Settled = true
				break
			}
		}
	}

	for _, name := range tenants.names {
		for i := len(records) - 1; i >= 0; i-- {
			if records[i].IsReading() && records[i].Tenant == name {
				state.LastReading[name] = records[i].Value
				break
			}
		}
	}
	return state
}

// HasRecharge reports whether at least one recharge exists.
func (s *State) HasRecharge() bool { return !s.LastRecharge.IsZero() }

// ReadingsSinceRecharge returns, per tenant, the readings the last recharge
// has been allocated against so far: the latest reading, or the reading
// before the recharge when none is known.
func (s *State) ReadingsSinceRecharge() map[string]float64 {
	out := make(map[string]float64, s.Tenants.Len())
	for _, name := range s.Tenants.names {
		if v, ok := s.LastReading[name]; ok {
			out[name] = v
			continue
		}
		out[name] = s.LastReadingBeforeRecharge[name]
	}
	return out
}

// ReadingOf returns the last reading of a tenant, or zero and false.
func (s *State) ReadingOf(tenant string) (float64, bool) {
	v, ok := s.LastReading[tenant]
	return v, ok
}

// LowestBalance returns the tenant with the smallest balance; ties go to
// the earlier tenant in configured order.
func (s *State) LowestBalance() string {
	var (
		name   string
		lowest decimal.Decimal
	)
	for i, tenant := range s.Tenants.names {
		b := s.Balances.Of(tenant)
		if i == 0 || b.LessThan(lowest) {
			name, lowest = tenant, b
		}
	}
	return name
}
