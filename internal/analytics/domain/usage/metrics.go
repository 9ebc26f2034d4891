package usage

import (
	"sort"

	ledger "meterbook/internal/ledger/domain"
)

// EstimateWindowMonths is the number of most recent months with usage that
// feed the per-unit cost and monthly estimates.
const EstimateWindowMonths = 3

// Metrics is the usage summary derived from a full ledger scan.
type Metrics struct {
	TotalUsage     float64                       `json:"total_usage"`
	UsagePerTenant map[string]float64            `json:"usage_per_tenant"`
	MonthlyUsage   map[string]map[string]float64 `json:"monthly_usage"`
	MonthlyTotal   map[string]float64            `json:"monthly_total"`
	LatestMonth    string                        `json:"latest_month,omitempty"`

	// MonthlyAvgTotal is the average monthly recharge over the window.
	MonthlyAvgTotal float64 `json:"monthly_avg_total"`
	// MonthlyAvgPerTenant is each tenant's estimated monthly cost.
	MonthlyAvgPerTenant map[string]float64 `json:"monthly_avg_per_tenant"`

	YearlyAvgTotal     map[string]float64            `json:"yearly_avg_total"`
	YearlyAvgPerTenant map[string]map[string]float64 `json:"yearly_avg_per_tenant"`
	YearlyTotal        map[string]float64            `json:"yearly_total"`
	YearlyPerTenant    map[string]map[string]float64 `json:"yearly_per_tenant"`

	RechargesTotal      float64            `json:"recharges_total"`
	RechargesPerTenant  map[string]float64 `json:"recharges_per_tenant"`
	MonthlyRechargeData map[string]float64 `json:"monthly_recharge_data"`
	PerUnitCost         float64            `json:"per_unit_cost"`

	CountReadings  int      `json:"count_readings"`
	CountRecharges int      `json:"count_recharges"`
	WindowMonths   []string `json:"window_months"`
}

// Compute derives usage metrics from ledger records. Readings in the first
// timestamp group are the baseline and carry no usage. Records of tenants
// outside the configured set only count towards the recharge total.
func Compute(records []ledger.Transaction, tenants ledger.TenantSet) Metrics {
	names := tenants.Names()
	m := Metrics{
		UsagePerTenant:      zeroes(names),
		MonthlyUsage:        make(map[string]map[string]float64),
		MonthlyTotal:        make(map[string]float64),
		MonthlyAvgPerTenant: make(map[string]float64),
		YearlyAvgTotal:      make(map[string]float64),
		YearlyAvgPerTenant:  make(map[string]map[string]float64, len(names)),
		YearlyTotal:         make(map[string]float64),
		YearlyPerTenant:     make(map[string]map[string]float64, len(names)),
		RechargesPerTenant:  zeroes(names),
		MonthlyRechargeData: make(map[string]float64),
		WindowMonths:        []string{},
	}
	for _, name := range names {
		m.YearlyPerTenant[name] = make(map[string]float64)
		m.YearlyAvgPerTenant[name] = make(map[string]float64)
	}
	if len(records) == 0 {
		return m
	}

	baseline := records[0].Timestamp
	rechargeByMonth := make(map[string]float64)
	for _, rec := range records {
		month := rec.Timestamp.Format("2006-01")
		year := rec.Timestamp.Format("2006")
		switch rec.Type {
		case ledger.TypeReading:
			if rec.Timestamp.Equal(baseline) || !tenants.Contains(rec.Tenant) {
				continue
			}
			c := 0.0
			if rec.Consumption != nil {
				c = *rec.Consumption
			}
			m.UsagePerTenant[rec.Tenant] += c
			if m.MonthlyUsage[month] == nil {
				m.MonthlyUsage[month] = zeroes(names)
			}
			m.MonthlyUsage[month][rec.Tenant] += c
			m.MonthlyTotal[month] += c
			m.YearlyTotal[year] += c
			m.YearlyPerTenant[rec.Tenant][year] += c
			m.CountReadings++
		case ledger.TypeRecharge:
			m.RechargesTotal += rec.Value
			if tenants.Contains(rec.Tenant) {
				m.RechargesPerTenant[rec.Tenant] += rec.Value
			}
			rechargeByMonth[month] += rec.Value
			m.CountRecharges++
		}
	}
	for _, name := range names {
		m.TotalUsage += m.UsagePerTenant[name]
	}

	months := make([]string, 0, len(m.MonthlyUsage))
	for month := range m.MonthlyUsage {
		months = append(months, month)
	}
	sort.Strings(months)
	if len(months) > 0 {
		m.LatestMonth = months[len(months)-1]
	}

	monthsPerYear := make(map[string]int)
	for _, month := range months {
		monthsPerYear[month[:4]]++
	}
	for year, total := range m.YearlyTotal {
		m.YearlyAvgTotal[year] = total / float64(max(1, monthsPerYear[year]))
	}
	for _, name := range names {
		for year, total := range m.YearlyPerTenant[name] {
			m.YearlyAvgPerTenant[name][year] = total / float64(max(1, monthsPerYear[year]))
		}
	}

	if len(months) == 0 {
		return m
	}
	window := make([]string, 0, EstimateWindowMonths)
	for i := len(months) - 1; i >= 0 && len(window) < EstimateWindowMonths; i-- {
		window = append(window, months[i])
	}
	m.WindowMonths = window

	var windowRecharge, windowConsumption float64
	windowByTenant := zeroes(names)
	for _, month := range window {
		m.MonthlyRechargeData[month] = rechargeByMonth[month]
		windowRecharge += rechargeByMonth[month]
		for _, name := range names {
			windowByTenant[name] += m.MonthlyUsage[month][name]
			windowConsumption += m.MonthlyUsage[month][name]
		}
	}
	if windowConsumption > 0 {
		m.PerUnitCost = windowRecharge / windowConsumption
	}
	count := float64(len(window))
	for _, name := range names {
		m.MonthlyAvgPerTenant[name] = windowByTenant[name] / count * m.PerUnitCost
	}
	m.MonthlyAvgTotal = windowRecharge / count
	return m
}

func zeroes(names []string) map[string]float64 {
	out := make(map[string]float64, len(names))
	for _, name := range names {
		out[name] = 0
	}
	return out
}
