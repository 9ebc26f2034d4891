package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	ledger "meterbook/internal/ledger/domain"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func TestStoreRoundTrip(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	table := fmt.Sprintf("ledger_rows_test_%d", time.Now().UnixNano())
	tenants := ledger.MustTenantSet([]string{"A", "B"})
	factory, err := NewFactory(db, tenants, WithTable(table))
	if err != nil {
		t.Fatalf("new factory: %v", err)
	}
	if err := factory.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	defer db.Exec("DROP TABLE IF EXISTS " + table)

	store, err := factory.Open(ctx, "main.csv")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t1 := time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)
	t2 := t1.Add(24 * time.Hour)
	zero := 0.0
	balances := ledger.NewBalances(tenants)
	if err := store.Append(ctx,
		ledger.Transaction{Type: ledger.TypeReading, Timestamp: t1, Tenant: "A", Value: 100, Consumption: &zero, Balances: balances},
		ledger.Transaction{Type: ledger.TypeReading, Timestamp: t1, Tenant: "B", Value: 100, Consumption: &zero, Balances: balances},
	); err != nil {
		t.Fatalf("append baseline: %v", err)
	}
	if err := store.Append(ctx,
		ledger.Transaction{Type: ledger.TypeRecharge, Timestamp: t2, Tenant: "A", Value: 300, Balances: ledger.Credit(balances, "A", 300)},
	); err != nil {
		t.Fatalf("append recharge: %v", err)
	}

	result, err := store.ReadAll(ctx)
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(result.Records) != 3 || !result.Records[2].IsRecharge() {
		t.Fatalf("records = %+v", result.Records)
	}

	removed, err := store.TruncateLastGroup(ctx, func(tx ledger.Transaction) bool { return tx.Timestamp.Equal(t2) })
	if err != nil || removed != 1 {
		t.Fatalf("truncate removed %d: %v", removed, err)
	}

	books, err := factory.Books(ctx)
	if err != nil || len(books) != 1 || books[0] != "main" {
		t.Fatalf("books = %v: %v", books, err)
	}

	csv := "Type,Timestamp,Tenant,Reading/Amount,Consumption,Balances\r\n" +
		"READING,2025-07-01 09:00:00,A,5.0,0.0,A: Rs.0.00; B: Rs.0.00\r\n"
	book, err := factory.Import(ctx, "uploads/july.csv", strings.NewReader(csv))
	if err != nil || book != "july" {
		t.Fatalf("import = %s: %v", book, err)
	}
	imported, _ := factory.Open(ctx, book)
	result, err = imported.ReadAll(ctx)
	if err != nil || len(result.Records) != 1 {
		t.Fatalf("imported records = %+v: %v", result.Records, err)
	}
}
