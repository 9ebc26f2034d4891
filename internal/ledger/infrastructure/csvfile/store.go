package csvfile

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	ledger "meterbook/internal/ledger/domain"
)

// Store is a ledger book kept in one CSV file.
type Store struct {
	path    string
	tenants ledger.TenantSet
}

// NewStore constructs a store for the file at path.
func NewStore(path string, tenants ledger.TenantSet) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ledger.ErrInvalidBook)
	}
	return &Store{path: path, tenants: tenants}, nil
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// EnsureHeader creates the file with the header row when it does not exist.
func (s *Store) EnsureHeader() error {
	if _, err := os.Stat(s.path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: stat %s: %v", ledger.ErrStoreIO, s.path, err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("%w: mkdir: %v", ledger.ErrStoreIO, err)
	}
	data, err := encode(ledger.Header)
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("%w: create %s: %v", ledger.ErrStoreIO, s.path, err)
	}
	return nil
}

// Append implements ledger.Store. The batch is encoded up front and written
// with a single call.
func (s *Store) Append(ctx context.Context, records ...ledger.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	if err := s.EnsureHeader(); err != nil {
		return err
	}
	rows := make([][]string, 0, len(records))
	for _, tx := range records {
		rows = append(rows, ledger.EncodeRow(tx, s.tenants))
	}
	data, err := encode(rows...)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ledger.ErrStoreIO, s.path, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: write %s: %v", ledger.ErrStoreIO, s.path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", ledger.ErrStoreIO, s.path, err)
	}
	return nil
}

// ReadAll implements ledger.Store. A missing file is created empty.
func (s *Store) ReadAll(ctx context.Context) (ledger.ReadResult, error) {
	var result ledger.ReadResult
	if err := ctx.Err(); err != nil {
		return result, err
	}
	if err := s.EnsureHeader(); err != nil {
		return result, err
	}
	_, rows, err := s.readRaw()
	if err != nil {
		return result, err
	}
	for _, row := range rows {
		tx, err := ledger.DecodeRow(row)
		if err != nil {
			result.Skipped++
			continue
		}
		result.Records = append(result.Records, tx)
	}
	return result, nil
}

// TruncateLastGroup implements ledger.Store. Malformed rows inside the
// trailing run are removed with it but not counted. The file is rewritten
// through a temporary file and renamed into place.
func (s *Store) TruncateLastGroup(ctx context.Context, match func(ledger.Transaction) bool) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := s.EnsureHeader(); err != nil {
		return 0, err
	}
	header, rows, err := s.readRaw()
	if err != nil {
		return 0, err
	}
	end := len(rows)
	removed := 0
	for end > 0 {
		tx, err := ledger.DecodeRow(rows[end-1])
		if err == nil {
			if !match(tx) {
				break
			}
			removed++
		}
		end--
	}
	if end == len(rows) {
		return 0, nil
	}
	if header == nil {
		header = ledger.Header
	}
	data, err := encode(append([][]string{header}, rows[:end]...)...)
	if err != nil {
		return 0, err
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		return 0, err
	}
	return removed, nil
}

func (s *Store) readRaw() ([]string, [][]string, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: open %s: %v", ledger.ErrStoreIO, s.path, err)
	}
	defer f.Close()
	return readRows(f)
}

func readRows(r io.Reader) ([]string, [][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	var (
		header []string
		rows   [][]string
	)
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%w: parse csv: %v", ledger.ErrStoreIO, err)
		}
		if header == nil {
			header = row
			continue
		}
		rows = append(rows, row)
	}
	return header, rows, nil
}

func encode(rows ...[]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.UseCRLF = true
	if err := w.WriteAll(rows); err != nil {
		return nil, fmt.Errorf("%w: encode csv: %v", ledger.ErrStoreIO, err)
	}
	return buf.Bytes(), nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: temp file: %v", ledger.ErrStoreIO, err)
	}
	name := tmp.Name()
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return fmt.Errorf("%w: chmod %s: %v", ledger.ErrStoreIO, name, err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return fmt.Errorf("%w: write %s: %v", ledger.ErrStoreIO, name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("%w: close %s: %v", ledger.ErrStoreIO, name, err)
	}
	if err := os.Rename(name, path); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("%w: rename %s: %v", ledger.ErrStoreIO, path, err)
	}
	return nil
}
