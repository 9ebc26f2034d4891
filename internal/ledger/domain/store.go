package ledger

import "context"

// ReadResult is the decoded content of a store.
type ReadResult struct {
	Records []Transaction
	// Skipped counts rows dropped because they could not be decoded.
	Skipped int
}

// Store persists the ordered records of one book.
type Store interface {
	// Append writes records in order. The batch lands in full or not at all.
	Append(ctx context.Context, records ...Transaction) error
	// ReadAll returns every decodable record in ledger order.
	ReadAll(ctx context.Context) (ReadResult, error)
	// TruncateLastGroup removes the trailing run of records for which match
	// returns true and reports how many were removed.
	TruncateLastGroup(ctx context.Context, match func(Transaction) bool) (int, error)
}

// StoreFactory resolves book names to stores.
type StoreFactory interface {
	Open(ctx context.Context, book string) (Store, error)
	// Books lists the books known to the backend.
	Books(ctx context.Context) ([]string, error)
}
