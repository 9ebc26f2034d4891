package ledger

import "time"

// Type is the kind of a ledger record.
type Type string

const (
	TypeReading  Type = "READING"
	TypeRecharge Type = "RECHARGE"
)

// TimestampLayout is the persisted timestamp format.
const TimestampLayout = "2006-01-02 15:04:05"

// Transaction is one immutable ledger record.
//
// Value holds the meter reading for READING records and the paid amount for
// RECHARGE records. Consumption is only set on READING records. Balances is
// the full balance mapping after the record was applied; it is nil when the
// stored snapshot is missing or cannot be parsed.
type Transaction struct {
	Type        Type
	Timestamp   time.Time
	Tenant      string
	Value       float64
	Consumption *float64
	Balances    Balances
}

// IsReading reports whether the record is a READING.
func (t Transaction) IsReading() bool { return t.Type == TypeReading }

// IsRecharge reports whether the record is a RECHARGE.
func (t Transaction) IsRecharge() bool { return t.Type == TypeRecharge }

// SameGroup reports whether other was written in the same batch as t.
func (t Transaction) SameGroup(other Transaction) bool {
	return t.Timestamp.Equal(other.Timestamp)
}

// LastGroup returns the trailing run of records sharing the timestamp of the
// final record, in ledger order.
func LastGroup(records []Transaction) (time.Time, []Transaction) {
	if len(records) == 0 {
		return time.Time{}, nil
	}
	last := records[len(records)-1]
	start := len(records) - 1
	for start > 0 && records[start-1].SameGroup(last) {
		start--
	}
	group := make([]Transaction, len(records)-start)
	copy(group, records[start:])
	return last.Timestamp, group
}
