package application

import (
	"context"
	"time"

	ledger "meterbook/internal/ledger/domain"

	"github.com/shopspring/decimal"
)

// TenantStatus is the current position of one tenant.
type TenantStatus struct {
	Name        string          `json:"name"`
	Balance     decimal.Decimal `json:"balance"`
	BalanceText string          `json:"balance_text"`
	LastReading *float64        `json:"last_reading,omitempty"`
}

// RechargeStatus describes the most recent recharge.
type RechargeStatus struct {
	Tenant    string    `json:"tenant"`
	Amount    float64   `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
	Settled   bool      `json:"settled"`
}

// Status is the summary shown to operators before they record a batch.
type Status struct {
	Book         string          `json:"book"`
	Tenants      []TenantStatus  `json:"tenants"`
	LastRecharge *RechargeStatus `json:"last_recharge,omitempty"`
	// NextRecharge names the tenant with the lowest balance.
	NextRecharge string `json:"next_recharge"`
	Records      int    `json:"records"`
}

// CurrentStatus loads a book and summarizes its state.
func (s *Service) CurrentStatus(ctx context.Context, book string) (*Status, error) {
	state, err := s.Load(ctx, book)
	if err != nil {
		return nil, err
	}
	return BuildStatus(book, state), nil
}

// BuildStatus summarizes a reconstructed state.
func BuildStatus(book string, state *ledger.State) *Status {
	status := &Status{
		Book:         book,
		NextRecharge: state.LowestBalance(),
		Records:      len(state.Records),
	}
	for _, name := range state.Tenants.Names() {
		balance := state.Balances.Of(name)
		ts := TenantStatus{
			Name:        name,
			Balance:     balance,
			BalanceText: ledger.FormatMoney(balance),
		}
		if reading, ok := state.ReadingOf(name); ok {
			r := reading
			ts.LastReading = &r
		}
		status.Tenants = append(status.Tenants, ts)
	}
	if state.HasRecharge() {
		status.LastRecharge = &RechargeStatus{
			Tenant:    state.LastRecharge.Tenant,
			Amount:    state.LastRecharge.Amount,
			Timestamp: state.LastRecharge.Timestamp,
			Settled:   state.Settled,
		}
	}
	return status
}
