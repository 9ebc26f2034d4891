package usage

import (
	"math"
	"reflect"
	"testing"
	"time"

	ledger "meterbook/internal/ledger/domain"
)

var tenants = ledger.MustTenantSet([]string{"A", "B"})

func reading(day string, tenant string, value, consumption float64) ledger.Transaction {
	at, _ := time.Parse(ledger.TimestampLayout, day+" 09:00:00")
	return ledger.Transaction{Type: ledger.TypeReading, Timestamp: at, Tenant: tenant, Value: value, Consumption: &consumption}
}

func recharge(day string, tenant string, amount float64) ledger.Transaction {
	at, _ := time.Parse(ledger.TimestampLayout, day+" 09:00:00")
	return ledger.Transaction{Type: ledger.TypeRecharge, Timestamp: at, Tenant: tenant, Value: amount}
}

func almost(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestComputeEmptyLedger(t *testing.T) {
	m := Compute(nil, tenants)
	if m.TotalUsage != 0 || m.LatestMonth != "" || m.PerUnitCost != 0 {
		t.Fatalf("metrics = %+v", m)
	}
	if len(m.UsagePerTenant) != 2 || len(m.WindowMonths) != 0 {
		t.Fatalf("expected zeroed tenants, got %+v", m.UsagePerTenant)
	}
}

func TestComputeExcludesBaselineGroup(t *testing.T) {
	records := []ledger.Transaction{
		reading("2025-01-05", "A", 500, 500),
		reading("2025-01-05", "B", 300, 300),
		recharge("2025-01-05", "A", 100),
		reading("2025-01-20", "A", 510, 10),
		reading("2025-01-20", "B", 305, 5),
	}
	m := Compute(records, tenants)
	if m.TotalUsage != 15 || m.CountReadings != 2 || m.CountRecharges != 1 {
		t.Fatalf("metrics = %+v", m)
	}
	if m.RechargesPerTenant["A"] != 100 {
		t.Fatalf("recharges = %v", m.RechargesPerTenant)
	}
}

func TestComputeMonthlyYearlyAndEstimates(t *testing.T) {
	records := []ledger.Transaction{
		reading("2024-11-01", "A", 0, 0),
		reading("2024-11-01", "B", 0, 0),
		reading("2024-11-20", "A", 40, 40),
		reading("2024-11-20", "B", 10, 10),
		recharge("2024-11-20", "A", 1000),
		reading("2024-12-20", "A", 70, 30),
		reading("2024-12-20", "B", 30, 20),
		reading("2025-01-20", "A", 90, 20),
		reading("2025-01-20", "B", 50, 20),
		recharge("2025-01-20", "B", 200),
		reading("2025-02-20", "A", 100, 10),
		reading("2025-02-20", "B", 60, 10),
		recharge("2025-02-20", "Z", 50),
	}
	m := Compute(records, tenants)

	if m.LatestMonth != "2025-02" {
		t.Fatalf("latest month = %s", m.LatestMonth)
	}
	if !reflect.DeepEqual(m.WindowMonths, []string{"2025-02", "2025-01", "2024-12"}) {
		t.Fatalf("window = %v", m.WindowMonths)
	}
	if m.MonthlyTotal["2024-11"] != 50 || m.MonthlyUsage["2025-01"]["B"] != 20 {
		t.Fatalf("monthly = %v / %v", m.MonthlyTotal, m.MonthlyUsage)
	}
	if m.YearlyTotal["2024"] != 100 || !almost(m.YearlyAvgTotal["2024"], 50) {
		t.Fatalf("yearly = %v avg %v", m.YearlyTotal, m.YearlyAvgTotal)
	}
	if !almost(m.YearlyAvgPerTenant["A"]["2025"], 15) {
		t.Fatalf("yearly avg per tenant = %v", m.YearlyAvgPerTenant)
	}

	// Window consumption 110, window recharge 250.
	if !almost(m.PerUnitCost, 250.0/110.0) {
		t.Fatalf("per unit cost = %v", m.PerUnitCost)
	}
	if !almost(m.MonthlyAvgPerTenant["A"], 60.0/3*250.0/110.0) {
		t.Fatalf("estimate A = %v", m.MonthlyAvgPerTenant["A"])
	}
	if !almost(m.MonthlyAvgTotal, 250.0/3) {
		t.Fatalf("monthly avg total = %v", m.MonthlyAvgTotal)
	}
	if m.MonthlyRechargeData["2024-12"] != 0 || m.MonthlyRechargeData["2025-02"] != 50 {
		t.Fatalf("monthly recharge data = %v", m.MonthlyRechargeData)
	}
	if _, ok := m.MonthlyRechargeData["2024-11"]; ok {
		t.Fatalf("month outside window reported")
	}
	if m.RechargesTotal != 1250 || m.RechargesPerTenant["A"] != 1000 {
		t.Fatalf("recharges = %v %v", m.RechargesTotal, m.RechargesPerTenant)
	}
}

func TestComputeNoConsumptionInWindow(t *testing.T) {
	records := []ledger.Transaction{
		reading("2025-03-01", "A", 10, 0),
		reading("2025-03-10", "A", 10, 0),
		recharge("2025-03-10", "A", 100),
	}
	m := Compute(records, tenants)
	if m.PerUnitCost != 0 || m.MonthlyAvgPerTenant["A"] != 0 {
		t.Fatalf("expected zero cost, got %+v", m)
	}
	if m.MonthlyAvgTotal != 100 {
		t.Fatalf("monthly avg total = %v", m.MonthlyAvgTotal)
	}
}
