package csvfile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	ledger "meterbook/internal/ledger/domain"
)

// UploadsDir is the sub directory holding imported books.
const UploadsDir = "uploads"

const maxUploadBytes = 16 << 20

// Factory maps book names to CSV files under a data directory.
type Factory struct {
	dataDir string
	tenants ledger.TenantSet
}

// NewFactory constructs a factory rooted at dataDir.
func NewFactory(dataDir string, tenants ledger.TenantSet) (*Factory, error) {
	if strings.TrimSpace(dataDir) == "" {
		return nil, errors.New("csvfile: empty data dir")
	}
	if tenants.Len() == 0 {
		return nil, ledger.ErrEmptyTenantSet
	}
	return &Factory{dataDir: dataDir, tenants: tenants}, nil
}

// Resolve maps a book name to a file path. Names are plain file names or
// uploads/<file>; ".csv" is appended when missing.
func (f *Factory) Resolve(book string) (string, error) {
	name, err := normalizeBook(book)
	if err != nil {
		return "", err
	}
	return filepath.Join(f.dataDir, filepath.FromSlash(name)), nil
}

func normalizeBook(book string) (string, error) {
	name := strings.TrimSpace(book)
	if name == "" {
		return "", fmt.Errorf("%w: empty name", ledger.ErrInvalidBook)
	}
	name = strings.ReplaceAll(name, "\\", "/")
	dir, file := "", name
	if i := strings.LastIndex(name, "/"); i >= 0 {
		dir, file = name[:i], name[i+1:]
	}
	if dir != "" && dir != UploadsDir {
		return "", fmt.Errorf("%w: %q", ledger.ErrInvalidBook, book)
	}
	if file == "" || file == "." || file == ".." || strings.HasPrefix(file, ".") {
		return "", fmt.Errorf("%w: %q", ledger.ErrInvalidBook, book)
	}
	if !strings.HasSuffix(strings.ToLower(file), ".csv") {
		file += ".csv"
	}
	if dir != "" {
		return dir + "/" + file, nil
	}
	return file, nil
}

// Open implements ledger.StoreFactory.
func (f *Factory) Open(ctx context.Context, book string) (ledger.Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := f.Resolve(book)
	if err != nil {
		return nil, err
	}
	return NewStore(path, f.tenants)
}

// Books implements ledger.StoreFactory.
func (f *Factory) Books(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var books []string
	for _, dir := range []string{"", UploadsDir} {
		entries, err := os.ReadDir(filepath.Join(f.dataDir, dir))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: list books: %v", ledger.ErrStoreIO, err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(strings.ToLower(entry.Name()), ".csv") {
				continue
			}
			if dir == "" {
				books = append(books, entry.Name())
			} else {
				books = append(books, dir+"/"+entry.Name())
			}
		}
	}
	sort.Strings(books)
	return books, nil
}

// Import stores an uploaded CSV as uploads/<name>. Files missing required
// header columns are rejected before anything is written.
func (f *Factory) Import(ctx context.Context, name string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	base := filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	book, err := normalizeBook(UploadsDir + "/" + base)
	if err != nil {
		return "", err
	}
	data, err := io.ReadAll(io.LimitReader(r, maxUploadBytes+1))
	if err != nil {
		return "", fmt.Errorf("%w: read upload: %v", ledger.ErrStoreIO, err)
	}
	if len(data) > maxUploadBytes {
		return "", fmt.Errorf("%w: upload too large", ledger.ErrInvalidBook)
	}
	if _, _, err := Parse(bytes.NewReader(data)); err != nil {
		return "", err
	}
	path := filepath.Join(f.dataDir, filepath.FromSlash(book))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("%w: mkdir: %v", ledger.ErrStoreIO, err)
	}
	if err := writeFileAtomic(path, data); err != nil {
		return "", err
	}
	return book, nil
}

// Parse reads a ledger CSV and checks its header. It returns the header and
// the raw data rows.
func Parse(r io.Reader) ([]string, [][]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ledger.ErrStoreIO, err)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	header, rows, err := readRows(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ledger.ErrInvalidBook, err)
	}
	if len(header) == 0 {
		return nil, nil, fmt.Errorf("%w: file is empty", ledger.ErrInvalidBook)
	}
	if missing := ledger.MissingColumns(header); len(missing) > 0 {
		return nil, nil, fmt.Errorf("%w: missing columns %s", ledger.ErrInvalidBook, strings.Join(missing, ", "))
	}
	return header, rows, nil
}
