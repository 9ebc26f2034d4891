package ledger

import (
	"fmt"
	"strings"
)

// DefaultTenants is the tenant set of the reference deployment.
var DefaultTenants = []string{"Ground Floor", "First Floor", "Second Floor"}

// TenantSet is the ordered, closed set of tenants sharing one meter book.
type TenantSet struct {
	names []string
	index map[string]int
}

// NewTenantSet validates and builds a tenant set. Order is preserved.
func NewTenantSet(names []string) (TenantSet, error) {
	if len(names) == 0 {
		return TenantSet{}, ErrEmptyTenantSet
	}
	set := TenantSet{
		names: make([]string, 0, len(names)),
		index: make(map[string]int, len(names)),
	}
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			return TenantSet{}, fmt.Errorf("ledger: empty tenant name")
		}
		// Both separators belong to the balance snapshot wire format.
		if strings.Contains(name, ";") || strings.Contains(name, balanceSeparator) {
			return TenantSet{}, fmt.Errorf("ledger: tenant %q contains a reserved separator", name)
		}
		if _, ok := set.index[name]; ok {
			return TenantSet{}, fmt.Errorf("ledger: duplicate tenant %q", name)
		}
		set.index[name] = len(set.names)
		set.names = append(set.names, name)
	}
	return set, nil
}

// MustTenantSet is NewTenantSet for static configuration; it panics on error.
func MustTenantSet(names []string) TenantSet {
	set, err := NewTenantSet(names)
	if err != nil {
		panic(err)
	}
	return set
}

// Names returns the tenants in configured order.
func (s TenantSet) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Len returns the number of tenants.
func (s TenantSet) Len() int { return len(s.names) }

// Contains reports whether name is a configured tenant.
func (s TenantSet) Contains(name string) bool {
	_, ok := s.index[name]
	return ok
}
