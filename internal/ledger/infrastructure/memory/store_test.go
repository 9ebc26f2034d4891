package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	ledger "meterbook/internal/ledger/domain"
)

var tenants = ledger.MustTenantSet([]string{"A", "B"})

func reading(tenant string, value float64, at time.Time) ledger.Transaction {
	consumption := 0.0
	return ledger.Transaction{
		Type:        ledger.TypeReading,
		Timestamp:   at,
		Tenant:      tenant,
		Value:       value,
		Consumption: &consumption,
		Balances:    ledger.NewBalances(tenants),
	}
}

func TestStoreHonorsCanceledContext(t *testing.T) {
	factory := NewFactory(tenants)
	store, err := factory.Book(context.Background(), "main")
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	at := time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)
	if err := store.Append(ctx, reading("A", 1, at)); !errors.Is(err, context.Canceled) {
		t.Fatalf("append: expected context.Canceled, got %v", err)
	}
	if len(store.Rows()) != 0 {
		t.Fatalf("canceled append wrote rows")
	}
	if _, err := store.ReadAll(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("read all: expected context.Canceled, got %v", err)
	}
	if _, err := store.TruncateLastGroup(ctx, func(ledger.Transaction) bool { return true }); !errors.Is(err, context.Canceled) {
		t.Fatalf("truncate: expected context.Canceled, got %v", err)
	}
	if _, err := factory.Open(ctx, "main"); !errors.Is(err, context.Canceled) {
		t.Fatalf("open: expected context.Canceled, got %v", err)
	}
	if _, err := factory.Books(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("books: expected context.Canceled, got %v", err)
	}
}

func TestStoreTruncatesLastGroup(t *testing.T) {
	store := NewStore(tenants)
	ctx := context.Background()
	t1 := time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)
	t2 := t1.Add(24 * time.Hour)
	if err := store.Append(ctx, reading("A", 1, t1), reading("B", 1, t1), reading("A", 2, t2), reading("B", 2, t2)); err != nil {
		t.Fatalf("append: %v", err)
	}
	store.AppendRaw([]string{"READING", "bad"})

	removed, err := store.TruncateLastGroup(ctx, func(tx ledger.Transaction) bool { return tx.Timestamp.Equal(t2) })
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if removed != 2 || len(store.Rows()) != 2 {
		t.Fatalf("removed = %d, rows = %d", removed, len(store.Rows()))
	}
}
