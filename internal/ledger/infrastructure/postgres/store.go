package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	ledger "meterbook/internal/ledger/domain"
	"meterbook/internal/ledger/infrastructure/csvfile"
)

const defaultRowsTable = "ledger_rows"

// Factory stores every book in one table keyed by book name. Cells are kept
// as the exact strings the CSV backend would write.
type Factory struct {
	db      *sql.DB
	table   string
	tenants ledger.TenantSet
}

// FactoryOption configures the factory.
type FactoryOption func(*Factory)

// WithTable overrides the default table name.
func WithTable(table string) FactoryOption {
	return func(f *Factory) {
		if table != "" {
			f.table = table
		}
	}
}

// NewFactory constructs a Postgres backed store factory.
func NewFactory(db *sql.DB, tenants ledger.TenantSet, opts ...FactoryOption) (*Factory, error) {
	if db == nil {
		return nil, errors.New("ledger postgres: nil db")
	}
	if tenants.Len() == 0 {
		return nil, ledger.ErrEmptyTenantSet
	}
	f := &Factory{db: db, table: defaultRowsTable, tenants: tenants}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// EnsureSchema creates the rows table when it does not exist.
func (f *Factory) EnsureSchema(ctx context.Context) error {
	_, err := f.db.ExecContext(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	seq BIGSERIAL PRIMARY KEY,
	book TEXT NOT NULL,
	type TEXT NOT NULL,
	ts TEXT NOT NULL,
	tenant TEXT NOT NULL,
	reading_amount TEXT NOT NULL,
	consumption TEXT NOT NULL DEFAULT '',
	balances TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS %[1]s_book_seq_idx ON %[1]s (book, seq);`, f.table))
	if err != nil {
		return fmt.Errorf("%w: ensure schema: %v", ledger.ErrStoreIO, err)
	}
	return nil
}

// Open implements ledger.StoreFactory.
func (f *Factory) Open(ctx context.Context, book string) (ledger.Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name, err := normalizeBook(book)
	if err != nil {
		return nil, err
	}
	return &Store{db: f.db, table: f.table, book: name, tenants: f.tenants}, nil
}

// Books implements ledger.StoreFactory.
func (f *Factory) Books(ctx context.Context) ([]string, error) {
	rows, err := f.db.QueryContext(ctx, fmt.Sprintf(`SELECT DISTINCT book FROM %s ORDER BY book`, f.table))
	if err != nil {
		return nil, fmt.Errorf("%w: list books: %v", ledger.ErrStoreIO, err)
	}
	defer rows.Close()
	var books []string
	for rows.Next() {
		var book string
		if err := rows.Scan(&book); err != nil {
			return nil, fmt.Errorf("%w: scan book: %v", ledger.ErrStoreIO, err)
		}
		books = append(books, book)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list books: %v", ledger.ErrStoreIO, err)
	}
	return books, nil
}

// Import loads an uploaded CSV into a book named after the file. An existing
// book of the same name is replaced.
func (f *Factory) Import(ctx context.Context, name string, r io.Reader) (string, error) {
	book, err := normalizeBook(path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")))
	if err != nil {
		return "", err
	}
	_, rows, err := csvfile.Parse(r)
	if err != nil {
		return "", err
	}
	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("%w: begin: %v", ledger.ErrStoreIO, err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE book = $1`, f.table), book); err != nil {
		_ = tx.Rollback()
		return "", fmt.Errorf("%w: replace book: %v", ledger.ErrStoreIO, err)
	}
	for _, row := range rows {
		if err := insertRow(ctx, tx, f.table, book, row); err != nil {
			_ = tx.Rollback()
			return "", err
		}
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("%w: commit: %v", ledger.ErrStoreIO, err)
	}
	return book, nil
}

func normalizeBook(book string) (string, error) {
	name := strings.TrimSpace(book)
	name = strings.TrimSuffix(name, ".csv")
	if name == "" || name == "." || name == ".." || len(name) > 200 {
		return "", fmt.Errorf("%w: %q", ledger.ErrInvalidBook, book)
	}
	return name, nil
}

// Store is one book inside the rows table.
type Store struct {
	db      *sql.DB
	table   string
	book    string
	tenants ledger.TenantSet
}

// Append implements ledger.Store.
func (s *Store) Append(ctx context.Context, records ...ledger.Transaction) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ledger.ErrStoreIO, err)
	}
	for _, rec := range records {
		if err := insertRow(ctx, tx, s.table, s.book, ledger.EncodeRow(rec, s.tenants)); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ledger.ErrStoreIO, err)
	}
	return nil
}

func insertRow(ctx context.Context, tx *sql.Tx, table, book string, row []string) error {
	cells := make([]string, ledger.MinRowFields)
	copy(cells, row)
	_, err := tx.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s (book, type, ts, tenant, reading_amount, consumption, balances)
VALUES ($1,$2,$3,$4,$5,$6,$7)`, table),
		book, cells[0], cells[1], cells[2], cells[3], cells[4], cells[5])
	if err != nil {
		return fmt.Errorf("%w: insert row: %v", ledger.ErrStoreIO, err)
	}
	return nil
}

type storedRow struct {
	seq   int64
	cells []string
}

func (s *Store) rows(ctx context.Context, q queryer, suffix string) ([]storedRow, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf(`
SELECT seq, type, ts, tenant, reading_amount, consumption, balances
FROM %s
WHERE book = $1
ORDER BY seq%s`, s.table, suffix), s.book)
	if err != nil {
		return nil, fmt.Errorf("%w: query rows: %v", ledger.ErrStoreIO, err)
	}
	defer rows.Close()
	var out []storedRow
	for rows.Next() {
		cells := make([]string, ledger.MinRowFields)
		var seq int64
		if err := rows.Scan(&seq, &cells[0], &cells[1], &cells[2], &cells[3], &cells[4], &cells[5]); err != nil {
			return nil, fmt.Errorf("%w: scan row: %v", ledger.ErrStoreIO, err)
		}
		out = append(out, storedRow{seq: seq, cells: cells})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: query rows: %v", ledger.ErrStoreIO, err)
	}
	return out, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// ReadAll implements ledger.Store.
func (s *Store) ReadAll(ctx context.Context) (ledger.ReadResult, error) {
	var result ledger.ReadResult
	rows, err := s.rows(ctx, s.db, "")
	if err != nil {
		return result, err
	}
	for _, row := range rows {
		tx, err := ledger.DecodeRow(row.cells)
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
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin: %v", ledger.ErrStoreIO, err)
	}
	rows, err := s.rows(ctx, tx, " DESC")
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	var (
		removed int
		from    int64
	)
	for _, row := range rows {
		rec, err := ledger.DecodeRow(row.cells)
		if err == nil {
			if !match(rec) {
				break
			}
			removed++
		}
		from = row.seq
	}
	if from == 0 {
		_ = tx.Rollback()
		return 0, nil
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE book = $1 AND seq >= $2`, s.table), s.book, from); err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("%w: delete rows: %v", ledger.ErrStoreIO, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit: %v", ledger.ErrStoreIO, err)
	}
	return removed, nil
}
