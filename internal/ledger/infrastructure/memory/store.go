package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	ledger "meterbook/internal/ledger/domain"
)

// Store keeps encoded ledger rows in memory for demo/testing. Rows go
// through the same codec as the file store so replay sees the persisted
// precision.
type Store struct {
	mu      sync.RWMutex
	tenants ledger.TenantSet
	rows    [][]string
	// FailAppend makes the next Append fail when set.
	FailAppend error
}

// NewStore constructs an empty store.
func NewStore(tenants ledger.TenantSet) *Store {
	return &Store{tenants: tenants}
}

// AppendRaw adds raw cells without validation.
func (s *Store) AppendRaw(rows ...[]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		s.rows = append(s.rows, append([]string(nil), row...))
	}
}

// Rows returns a copy of the stored cells.
func (s *Store) Rows() [][]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([][]string, len(s.rows))
	for i, row := range s.rows {
		out[i] = append([]string(nil), row...)
	}
	return out
}

// Append implements ledger.Store.
func (s *Store) Append(ctx context.Context, records ...ledger.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailAppend != nil {
		err := s.FailAppend
		s.FailAppend = nil
		return err
	}
	for _, tx := range records {
		s.rows = append(s.rows, ledger.EncodeRow(tx, s.tenants))
	}
	return nil
}

// ReadAll implements ledger.Store.
func (s *Store) ReadAll(ctx context.Context) (ledger.ReadResult, error) {
	var result ledger.ReadResult
	if err := ctx.Err(); err != nil {
		return result, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, row := range s.rows {
		tx, err := ledger.DecodeRow(row)
		if err != nil {
			result.Skipped++
			continue
		}
		result.Records = append(result.Records, tx)
	}
	return result, nil
}

// TruncateLastGroup implements ledger.Store.
func (s *Store) TruncateLastGroup(ctx context.Context, match func(ledger.Transaction) bool) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	end := len(s.rows)
	removed := 0
	for end > 0 {
		tx, err := ledger.DecodeRow(s.rows[end-1])
		if err == nil {
			if !match(tx) {
				break
			}
			removed++
		}
		end--
	}
	s.rows = s.rows[:end]
	return removed, nil
}

// Factory hands out one Store per book.
type Factory struct {
	mu      sync.Mutex
	tenants ledger.TenantSet
	books   map[string]*Store
}

// NewFactory constructs a factory.
func NewFactory(tenants ledger.TenantSet) *Factory {
	return &Factory{tenants: tenants, books: make(map[string]*Store)}
}

// Open implements ledger.StoreFactory.
func (f *Factory) Open(ctx context.Context, book string) (ledger.Store, error) {
	return f.Book(ctx, book)
}

// Book returns the concrete store for a book.
func (f *Factory) Book(ctx context.Context, book string) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	book = strings.TrimSpace(book)
	if book == "" {
		return nil, fmt.Errorf("%w: empty name", ledger.ErrInvalidBook)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	store, ok := f.books[book]
	if !ok {
		store = NewStore(f.tenants)
		f.books[book] = store
	}
	return store, nil
}

// Books implements ledger.StoreFactory.
func (f *Factory) Books(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.books))
	for name := range f.books {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}
