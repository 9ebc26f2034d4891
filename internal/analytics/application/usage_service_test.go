package application

import (
	"context"
	"errors"
	"testing"
	"time"

	ledger "meterbook/internal/ledger/domain"
)

type stubLoader struct {
	state *ledger.State
	err   error
}

func (s stubLoader) Load(ctx context.Context, book string) (*ledger.State, error) {
	return s.state, s.err
}

func TestUsageServiceCompute(t *testing.T) {
	tenants := ledger.MustTenantSet([]string{"A"})
	c := 5.0
	t1 := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	records := []ledger.Transaction{
		{Type: ledger.TypeReading, Timestamp: t1, Tenant: "A", Value: 10, Consumption: new(float64)},
		{Type: ledger.TypeReading, Timestamp: t1.Add(48 * time.Hour), Tenant: "A", Value: 15, Consumption: &c},
	}
	svc, err := NewUsageService(stubLoader{state: ledger.Reconstruct(records, tenants)}, nil)
	if err != nil {
		t.Fatalf("new usage service: %v", err)
	}
	m, err := svc.Compute(context.Background(), "main")
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if m.TotalUsage != 5 || m.LatestMonth != "2025-01" {
		t.Fatalf("metrics = %+v", m)
	}
}

func TestUsageServicePropagatesLoadError(t *testing.T) {
	svc, _ := NewUsageService(stubLoader{err: ledger.ErrStoreIO}, nil)
	if _, err := svc.Compute(context.Background(), "main"); !errors.Is(err, ledger.ErrStoreIO) {
		t.Fatalf("expected store error, got %v", err)
	}
	if _, err := NewUsageService(nil, nil); err == nil {
		t.Fatalf("expected nil loader error")
	}
}
