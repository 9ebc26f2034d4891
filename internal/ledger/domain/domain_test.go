package ledger

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

var testTenants = MustTenantSet([]string{"A", "B", "C"})

func ts(s string) time.Time {
	t, err := time.Parse(TimestampLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func f(v float64) *float64 { return &v }

func bal(a, b, c string) Balances {
	return Balances{
		"A": decimal.RequireFromString(a),
		"B": decimal.RequireFromString(b),
		"C": decimal.RequireFromString(c),
	}
}

func TestNewTenantSetRejectsBadNames(t *testing.T) {
	cases := [][]string{
		nil,
		{"A", "A"},
		{"A", ""},
		{"A;B"},
		{"Flat: Rs.1"},
	}
	for _, names := range cases {
		if _, err := NewTenantSet(names); err == nil {
			t.Fatalf("expected error for %q", names)
		}
	}
	set, err := NewTenantSet([]string{" Ground Floor ", "First Floor"})
	if err != nil {
		t.Fatalf("new tenant set: %v", err)
	}
	if got := set.Names(); !reflect.DeepEqual(got, []string{"Ground Floor", "First Floor"}) {
		t.Fatalf("names = %v", got)
	}
}

func TestBalancesFormatAndParse(t *testing.T) {
	b := bal("300", "-120.5", "0")
	got := b.Format(testTenants)
	want := "A: Rs.300.00; B: Rs.-120.50; C: Rs.0.00"
	if got != want {
		t.Fatalf("format = %q, want %q", got, want)
	}
	parsed, err := ParseBalances(got)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	for name, amount := range b {
		if !parsed[name].Equal(amount) {
			t.Fatalf("%s: got %s want %s", name, parsed[name], amount)
		}
	}
	if _, err := ParseBalances("A: Rs.abc"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestFormatAmountRoundsHalfUp(t *testing.T) {
	if got := FormatAmount(decimal.RequireFromString("10.005")); got != "10.01" {
		t.Fatalf("got %s", got)
	}
	if got := FormatMoney(decimal.RequireFromString("-60")); got != "Rs.-60.00" {
		t.Fatalf("got %s", got)
	}
}

func TestEncodeRowKeepsLegacyNumberFormat(t *testing.T) {
	tx := Transaction{
		Type:        TypeReading,
		Timestamp:   ts("2025-07-01 10:00:00"),
		Tenant:      "A",
		Value:       150,
		Consumption: f(50),
		Balances:    bal("0", "0", "0"),
	}
	got := EncodeRow(tx, testTenants)
	want := []string{"READING", "2025-07-01 10:00:00", "A", "150.0", "50.0", "A: Rs.0.00; B: Rs.0.00; C: Rs.0.00"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("row = %q, want %q", got, want)
	}

	recharge := Transaction{Type: TypeRecharge, Timestamp: tx.Timestamp, Tenant: "A", Value: 300.5, Balances: bal("300.5", "0", "0")}
	row := EncodeRow(recharge, testTenants)
	if row[3] != "300.5" || row[4] != "" {
		t.Fatalf("recharge row = %q", row)
	}
	if got := FormatNumber(0.1 + 0.2); got != "0.30000000000000004" {
		t.Fatalf("float repr = %s", got)
	}
}

func TestDecodeRow(t *testing.T) {
	tx, err := DecodeRow([]string{"READING", "2025-07-01 10:00:00", "A", "150.0", "50.0", "A: Rs.1.00; B: Rs.2.00; C: Rs.3.00"})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tx.Value != 150 || tx.Consumption == nil || *tx.Consumption != 50 {
		t.Fatalf("decoded = %+v", tx)
	}
	if !tx.Balances.Of("C").Equal(decimal.NewFromInt(3)) {
		t.Fatalf("balances = %v", tx.Balances)
	}

	bad := [][]string{
		{"READING", "2025-07-01 10:00:00", "A", "150.0", "50.0"},
		{"OTHER", "2025-07-01 10:00:00", "A", "150.0", "", ""},
		{"READING", "yesterday", "A", "150.0", "", ""},
		{"READING", "2025-07-01 10:00:00", "A", "x", "", ""},
	}
	for _, row := range bad {
		if _, err := DecodeRow(row); !errors.Is(err, ErrMalformedRow) {
			t.Fatalf("row %q: expected ErrMalformedRow, got %v", row, err)
		}
	}

	tx, err = DecodeRow([]string{"RECHARGE", "2025-07-01 10:00:00", "A", "300.0", "", "garbage: Rs.x"})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tx.Balances != nil {
		t.Fatalf("expected nil balances for bad snapshot")
	}
}

func TestMissingColumns(t *testing.T) {
	if missing := MissingColumns(Header); len(missing) != 0 {
		t.Fatalf("missing = %v", missing)
	}
	missing := MissingColumns([]string{"Type", "Timestamp"})
	if len(missing) != 4 {
		t.Fatalf("missing = %v", missing)
	}
}

func scenarioLedger() []Transaction {
	t1 := ts("2025-07-01 09:00:00")
	t2 := ts("2025-07-15 09:00:00")
	zero := bal("0", "0", "0")
	after := bal("300", "0", "0")
	return []Transaction{
		{Type: TypeReading, Timestamp: t1, Tenant: "A", Value: 100, Consumption: f(0), Balances: zero},
		{Type: TypeReading, Timestamp: t1, Tenant: "B", Value: 100, Consumption: f(0), Balances: zero},
		{Type: TypeReading, Timestamp: t1, Tenant: "C", Value: 100, Consumption: f(0), Balances: zero},
		{Type: TypeReading, Timestamp: t2, Tenant: "A", Value: 150, Consumption: f(50), Balances: zero},
		{Type: TypeReading, Timestamp: t2, Tenant: "B", Value: 120, Consumption: f(20), Balances: zero},
		{Type: TypeReading, Timestamp: t2, Tenant: "C", Value: 100, Consumption: f(0), Balances: zero},
		{Type: TypeRecharge, Timestamp: t2, Tenant: "A", Value: 300, Balances: after},
	}
}

func TestReconstruct(t *testing.T) {
	state := Reconstruct(scenarioLedger(), testTenants)

	if !state.Balances.Of("A").Equal(decimal.NewFromInt(300)) || !state.Balances.Of("B").IsZero() {
		t.Fatalf("balances = %v", state.Balances)
	}
	if state.LastRecharge.Tenant != "A" || state.LastRecharge.Amount != 300 {
		t.Fatalf("last recharge = %+v", state.LastRecharge)
	}
	wantBefore := map[string]float64{"A": 150, "B": 120, "C": 100}
	if !reflect.DeepEqual(state.LastReadingBeforeRecharge, wantBefore) {
		t.Fatalf("before recharge = %v", state.LastReadingBeforeRecharge)
	}
	if !reflect.DeepEqual(state.LastReading, wantBefore) {
		t.Fatalf("last reading = %v", state.LastReading)
	}
	if state.Settled {
		t.Fatalf("no readings follow the recharge yet")
	}
	if got := state.ReadingsSinceRecharge(); !reflect.DeepEqual(got, wantBefore) {
		t.Fatalf("readings since recharge = %v", got)
	}
}

func TestReconstructEmptyLedger(t *testing.T) {
	state := Reconstruct(nil, testTenants)
	if state.HasRecharge() || state.Settled {
		t.Fatalf("empty ledger has no recharge")
	}
	if len(state.LastReading) != 0 {
		t.Fatalf("last reading = %v", state.LastReading)
	}
	for _, name := range testTenants.Names() {
		if !state.Balances.Of(name).IsZero() || state.LastReadingBeforeRecharge[name] != 0 {
			t.Fatalf("expected zero state for %s", name)
		}
	}
}

func TestReconstructIsIdempotent(t *testing.T) {
	records := scenarioLedger()
	first := Reconstruct(records, testTenants)
	second := Reconstruct(records, testTenants)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("replay differs:\n%+v\n%+v", first, second)
	}
}

func TestReconstructMarksSettledAfterLaterReadings(t *testing.T) {
	records := scenarioLedger()
	t3 := ts("2025-08-01 09:00:00")
	records = append(records, Transaction{Type: TypeReading, Timestamp: t3, Tenant: "A", Value: 170, Consumption: f(20), Balances: bal("180", "-120", "-60")})
	state := Reconstruct(records, testTenants)
	if !state.Settled {
		t.Fatalf("expected settled recharge")
	}
	want := map[string]float64{"A": 170, "B": 120, "C": 100}
	if got := state.ReadingsSinceRecharge(); !reflect.DeepEqual(got, want) {
		t.Fatalf("readings since recharge = %v", got)
	}
	if !state.Balances.Of("B").Equal(decimal.NewFromInt(-120)) {
		t.Fatalf("balances = %v", state.Balances)
	}
}

func TestAllocateScenario(t *testing.T) {
	current := map[string]float64{"A": 170, "B": 140, "C": 110}
	before := map[string]float64{"A": 150, "B": 120, "C": 100}
	a := Allocate(testTenants, current, before, 300)
	want := map[string]string{"A": "120", "B": "120", "C": "60"}
	for name, amount := range want {
		if !a.Deductions[name].Equal(decimal.RequireFromString(amount)) {
			t.Fatalf("%s deduction = %s, want %s", name, a.Deductions[name], amount)
		}
	}
	out := a.ApplyTo(bal("300", "0", "0"))
	if got := out.Format(testTenants); got != "A: Rs.180.00; B: Rs.-120.00; C: Rs.-60.00" {
		t.Fatalf("balances = %s", got)
	}
}

func TestAllocateIncrementDeductsOnlyTheNewShare(t *testing.T) {
	before := map[string]float64{"A": 150, "B": 120, "C": 100}
	first := map[string]float64{"A": 170, "B": 140, "C": 110}
	second := map[string]float64{"A": 270, "B": 140, "C": 110}

	a := AllocateIncrement(testTenants, first, before, before, 300)
	if got := a.ApplyTo(bal("300", "0", "0")).Format(testTenants); got != "A: Rs.180.00; B: Rs.-120.00; C: Rs.-60.00" {
		t.Fatalf("first settlement = %s", got)
	}

	b := AllocateIncrement(testTenants, second, first, before, 300)
	want := map[string]string{"A": "120", "B": "-80", "C": "-40"}
	for name, amount := range want {
		if !b.Deductions[name].Equal(decimal.RequireFromString(amount)) {
			t.Fatalf("%s increment = %s, want %s", name, b.Deductions[name], amount)
		}
	}
	if !b.Deducted().IsZero() {
		t.Fatalf("increment moved %s between tenants only", b.Deducted())
	}

	// Both steps together equal one allocation over the cumulative consumption.
	total := Allocate(testTenants, second, before, 300)
	for _, name := range testTenants.Names() {
		if got := a.Deductions[name].Add(b.Deductions[name]); !got.Equal(total.Deductions[name]) {
			t.Fatalf("%s cumulative = %s, want %s", name, got, total.Deductions[name])
		}
	}

	if c := AllocateIncrement(testTenants, second, second, before, 300); !c.Empty() {
		t.Fatalf("unchanged readings deducted %v", c.Deductions)
	}
}

func TestAllocateConservesWithinRounding(t *testing.T) {
	cases := []struct {
		amount  float64
		current map[string]float64
	}{
		{100, map[string]float64{"A": 1, "B": 1, "C": 1}},
		{299.99, map[string]float64{"A": 7, "B": 13, "C": 29}},
		{0.05, map[string]float64{"A": 3, "B": 3, "C": 1}},
		{1234.56, map[string]float64{"A": 0.3, "B": 0.1, "C": 0.7}},
	}
	tolerance := decimal.RequireFromString("0.01").Mul(decimal.NewFromInt(int64(testTenants.Len())))
	for _, tc := range cases {
		a := Allocate(testTenants, tc.current, map[string]float64{}, tc.amount)
		diff := a.Deducted().Sub(decimal.NewFromFloat(tc.amount)).Abs()
		if diff.GreaterThan(tolerance) {
			t.Fatalf("amount %v: deducted %s, drift %s", tc.amount, a.Deducted(), diff)
		}
	}
}

func TestAllocateNoConsumptionIsNoop(t *testing.T) {
	readings := map[string]float64{"A": 150, "B": 120, "C": 100}
	a := Allocate(testTenants, readings, readings, 300)
	if !a.Empty() {
		t.Fatalf("expected no deductions, got %v", a.Deductions)
	}
	before := bal("10", "20", "30")
	if got := a.ApplyTo(before); !reflect.DeepEqual(got, before) {
		t.Fatalf("balances changed: %v", got)
	}

	zeroAmount := Allocate(testTenants, map[string]float64{"A": 200}, readings, 0)
	if !zeroAmount.Empty() {
		t.Fatalf("zero amount must not deduct")
	}
}

func TestAllocateClampsNegativeConsumption(t *testing.T) {
	a := Allocate(testTenants, map[string]float64{"A": 90, "B": 110, "C": 100}, map[string]float64{"A": 100, "B": 100, "C": 100}, 50)
	if a.ConsumptionSince["A"] != 0 {
		t.Fatalf("negative consumption not clamped: %v", a.ConsumptionSince)
	}
	if !a.Deductions["B"].Equal(decimal.NewFromInt(50)) {
		t.Fatalf("deductions = %v", a.Deductions)
	}
}

func TestCredit(t *testing.T) {
	out := Credit(bal("0", "0", "0"), "B", 99.5)
	if !out.Of("B").Equal(decimal.RequireFromString("99.5")) {
		t.Fatalf("credit = %v", out)
	}
}

func TestLastGroup(t *testing.T) {
	records := scenarioLedger()
	when, group := LastGroup(records)
	if !when.Equal(ts("2025-07-15 09:00:00")) || len(group) != 4 {
		t.Fatalf("last group = %v (%d)", when, len(group))
	}
	if group[0].Tenant != "A" || !group[3].IsRecharge() {
		t.Fatalf("group order = %+v", group)
	}
	if _, empty := LastGroup(nil); empty != nil {
		t.Fatalf("expected empty group")
	}
}

func TestLowestBalance(t *testing.T) {
	state := &State{Tenants: testTenants, Balances: bal("180", "-120", "-120")}
	if got := state.LowestBalance(); got != "B" {
		t.Fatalf("lowest = %s", got)
	}
}

func TestValidationErrorMatching(t *testing.T) {
	err := error(NewValidationError(ErrReadingRegressed, "A", "90 < 100"))
	if !errors.Is(err, ErrValidation) || !errors.Is(err, ErrReadingRegressed) {
		t.Fatalf("errors.Is mismatch for %v", err)
	}
	if ValidationReason(err) != "reading_regressed" {
		t.Fatalf("reason = %s", ValidationReason(err))
	}
}
