package application

import (
	"context"
	"sort"
	"strings"

	ledger "meterbook/internal/ledger/domain"
)

const (
	defaultPageSize = 25
	maxPageSize     = 200
)

// BrowseQuery filters, sorts and pages ledger rows.
type BrowseQuery struct {
	Query     string
	Type      string
	SortBy    string
	SortOrder string
	Page      int
	PageSize  int
}

// BrowseRow is one ledger row with its snapshot split per tenant.
type BrowseRow struct {
	Type        string            `json:"type"`
	Timestamp   string            `json:"timestamp"`
	Tenant      string            `json:"tenant"`
	Value       string            `json:"reading_amount"`
	Consumption string            `json:"consumption"`
	Balances    map[string]string `json:"balances"`
}

// BrowsePage is one page of browse results.
type BrowsePage struct {
	Rows       []BrowseRow `json:"rows"`
	Page       int         `json:"page"`
	PageSize   int         `json:"page_size"`
	Total      int         `json:"total"`
	TotalPages int         `json:"total_pages"`
	SortBy     string      `json:"sort_by"`
	SortOrder  string      `json:"sort_order"`
	Type       string      `json:"type"`
}

// Browse lists the rows of a book.
func (s *Service) Browse(ctx context.Context, book string, query BrowseQuery) (*BrowsePage, error) {
	state, err := s.Load(ctx, book)
	if err != nil {
		return nil, err
	}
	return BrowseRecords(state.Records, s.tenants, query), nil
}

// BrowseRecords applies a browse query to decoded records.
func BrowseRecords(records []ledger.Transaction, tenants ledger.TenantSet, query BrowseQuery) *BrowsePage {
	q := strings.ToLower(strings.TrimSpace(query.Query))
	typ := strings.ToUpper(strings.TrimSpace(query.Type))
	if typ != string(ledger.TypeReading) && typ != string(ledger.TypeRecharge) {
		typ = "ALL"
	}
	sortBy := strings.ToLower(strings.TrimSpace(query.SortBy))
	if sortBy == "" {
		sortBy = "timestamp"
	}
	desc := strings.ToLower(strings.TrimSpace(query.SortOrder)) != "asc"

	type item struct {
		tx    ledger.Transaction
		cells []string
	}
	items := make([]item, 0, len(records))
	for _, tx := range records {
		if typ != "ALL" && string(tx.Type) != typ {
			continue
		}
		cells := ledger.EncodeRow(tx, tenants)
		if q != "" && !containsAny(cells, q) {
			continue
		}
		items = append(items, item{tx: tx, cells: cells})
	}

	less := func(a, b ledger.Transaction) bool {
		switch sortBy {
		case "type":
			return a.Type < b.Type
		case "tenant":
			return a.Tenant < b.Tenant
		case "reading", "reading/amount", "readingamount", "value":
			return a.Value < b.Value
		case "consumption":
			return consumptionKey(a) < consumptionKey(b)
		default:
			return a.Timestamp.Before(b.Timestamp)
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		if desc {
			return less(items[j].tx, items[i].tx)
		}
		return less(items[i].tx, items[j].tx)
	})

	pageSize := query.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	total := len(items)
	totalPages := (total + pageSize - 1) / pageSize
	if totalPages < 1 {
		totalPages = 1
	}
	page := query.Page
	if page < 1 {
		page = 1
	}
	if page > totalPages {
		page = totalPages
	}
	start := (page - 1) * pageSize
	end := start + pageSize
	if end > total {
		end = total
	}

	out := &BrowsePage{
		Rows:       make([]BrowseRow, 0, end-start),
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		SortBy:     sortBy,
		SortOrder:  "asc",
		Type:       typ,
	}
	if desc {
		out.SortOrder = "desc"
	}
	for _, it := range items[start:end] {
		balances := make(map[string]string, tenants.Len())
		for _, name := range tenants.Names() {
			balances[name] = ""
			if it.tx.Balances != nil {
				if amount, ok := it.tx.Balances[name]; ok {
					balances[name] = ledger.FormatMoney(amount)
				}
			}
		}
		out.Rows = append(out.Rows, BrowseRow{
			Type:        it.cells[0],
			Timestamp:   it.cells[1],
			Tenant:      it.cells[2],
			Value:       it.cells[3],
			Consumption: it.cells[4],
			Balances:    balances,
		})
	}
	return out
}

func containsAny(cells []string, q string) bool {
	for _, cell := range cells {
		if strings.Contains(strings.ToLower(cell), q) {
			return true
		}
	}
	return false
}

func consumptionKey(tx ledger.Transaction) float64 {
	if tx.Consumption == nil {
		return -1
	}
	return *tx.Consumption
}
