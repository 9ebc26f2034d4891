package application

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	ledger "meterbook/internal/ledger/domain"
	"meterbook/internal/observability/metrics"

	"go.uber.org/zap"
)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// SystemClock uses time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// RecordCommand is one batch of meter readings with an optional recharge.
type RecordCommand struct {
	Readings       map[string]float64
	RechargeTenant string
	RechargeAmount float64
}

// RecordResult describes an accepted batch.
type RecordResult struct {
	Timestamp  time.Time
	Appended   int
	Settlement *ledger.Allocation
	State      *ledger.State
}

// Service runs ledger use cases against a book.
type Service struct {
	stores  ledger.StoreFactory
	tenants ledger.TenantSet
	clock   Clock
	logger  *zap.Logger
}

// ServiceOption customizes the ledger service.
type ServiceOption func(*Service)

// WithClock assigns a clock.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService constructs a ledger service.
func NewService(stores ledger.StoreFactory, tenants ledger.TenantSet, opts ...ServiceOption) (*Service, error) {
	if stores == nil {
		return nil, errors.New("ledger service: nil store factory")
	}
	if tenants.Len() == 0 {
		return nil, ledger.ErrEmptyTenantSet
	}
	service := &Service{
		stores:  stores,
		tenants: tenants,
		clock:   SystemClock{},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// Tenants returns the configured tenant set.
func (s *Service) Tenants() ledger.TenantSet { return s.tenants }

// Books lists the books known to the store backend.
func (s *Service) Books(ctx context.Context) ([]string, error) {
	return s.stores.Books(ctx)
}

// Load replays a book from scratch.
func (s *Service) Load(ctx context.Context, book string) (*ledger.State, error) {
	store, err := s.stores.Open(ctx, book)
	if err != nil {
		return nil, err
	}
	return s.load(ctx, book, store)
}

func (s *Service) load(ctx context.Context, book string, store ledger.Store) (*ledger.State, error) {
	result, err := store.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	if result.Skipped > 0 {
		metrics.AddRowsSkipped(result.Skipped)
		s.logger.Debug("skipped malformed rows", zap.String("book", book), zap.Int("skipped", result.Skipped))
	}
	state := ledger.Reconstruct(result.Records, s.tenants)
	for _, name := range s.tenants.Names() {
		metrics.SetTenantBalance(book, name, state.Balances.Of(name).InexactFloat64())
	}
	return state, nil
}

// RecordReadingsAndRecharge validates a batch, settles the last recharge
// against the new readings and appends the batch in a single write. Every
// batch settles; only the share not deducted by earlier batches is applied.
func (s *Service) RecordReadingsAndRecharge(ctx context.Context, book string, cmd RecordCommand) (*RecordResult, error) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveLedgerAppend(result, time.Since(start))
	}()

	store, err := s.stores.Open(ctx, book)
	if err != nil {
		result = metrics.ResultError
		return nil, err
	}
	state, err := s.load(ctx, book, store)
	if err != nil {
		result = metrics.ResultError
		return nil, err
	}
	if err := s.validate(state, cmd); err != nil {
		result = metrics.ResultError
		metrics.IncValidationFailure(ledger.ValidationReason(err))
		s.logger.Info("batch rejected", zap.String("book", book), zap.Error(err))
		return nil, err
	}

	now := s.batchTime(state)
	balances := state.Balances.Clone()

	var settlement *ledger.Allocation
	if state.HasRecharge() {
		alloc := ledger.AllocateIncrement(s.tenants, cmd.Readings, state.ReadingsSinceRecharge(),
			state.LastReadingBeforeRecharge, state.LastRecharge.Amount)
		balances = alloc.ApplyTo(balances)
		settlement = &alloc
		s.logger.Info("settled recharge",
			zap.String("book", book),
			zap.String("tenant", state.LastRecharge.Tenant),
			zap.Float64("amount", state.LastRecharge.Amount),
			zap.Float64("consumption", alloc.Total),
			zap.String("deducted", alloc.Deducted().StringFixed(2)),
		)
	}

	records := make([]ledger.Transaction, 0, s.tenants.Len()+1)
	for _, name := range s.tenants.Names() {
		reading := cmd.Readings[name]
		consumption := 0.0
		if last, ok := state.ReadingOf(name); ok {
			consumption = reading - last
		}
		records = append(records, ledger.Transaction{
			Type:        ledger.TypeReading,
			Timestamp:   now,
			Tenant:      name,
			Value:       reading,
			Consumption: &consumption,
			Balances:    balances,
		})
	}
	if cmd.RechargeAmount > 0 {
		balances = ledger.Credit(balances, cmd.RechargeTenant, cmd.RechargeAmount)
		records = append(records, ledger.Transaction{
			Type:      ledger.TypeRecharge,
			Timestamp: now,
			Tenant:    cmd.RechargeTenant,
			Value:     cmd.RechargeAmount,
			Balances:  balances,
		})
	}

	if err := store.Append(ctx, records...); err != nil {
		result = metrics.ResultError
		return nil, err
	}
	s.logger.Info("batch appended",
		zap.String("book", book),
		zap.Int("records", len(records)),
		zap.Time("timestamp", now),
	)

	next, err := s.load(ctx, book, store)
	if err != nil {
		result = metrics.ResultError
		return nil, err
	}
	return &RecordResult{
		Timestamp:  now,
		Appended:   len(records),
		Settlement: settlement,
		State:      next,
	}, nil
}

// batchTime returns the wall clock time stamped on a new batch. Stored
// timestamps carry no zone, so the wall clock is kept as UTC. A batch never
// shares the second of the previous one, which keeps groups distinct.
func (s *Service) batchTime(state *ledger.State) time.Time {
	now := s.clock.Now()
	now = time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), now.Minute(), now.Second(), 0, time.UTC)
	if n := len(state.Records); n > 0 {
		if last := state.Records[n-1].Timestamp; !now.After(last) {
			now = last.Add(time.Second)
		}
	}
	return now
}

func (s *Service) validate(state *ledger.State, cmd RecordCommand) error {
	unknown := make([]string, 0)
	for name := range cmd.Readings {
		if !s.tenants.Contains(name) {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return ledger.NewValidationError(ledger.ErrUnknownTenant, unknown[0], "not a configured tenant")
	}
	for _, name := range s.tenants.Names() {
		reading, ok := cmd.Readings[name]
		if !ok {
			return ledger.NewValidationError(ledger.ErrMissingReading, name, "reading required")
		}
		if math.IsNaN(reading) || math.IsInf(reading, 0) || reading < 0 {
			return ledger.NewValidationError(ledger.ErrInvalidReading, name, ledger.FormatNumber(reading))
		}
		if last, ok := state.ReadingOf(name); ok && reading < last {
			return ledger.NewValidationError(ledger.ErrReadingRegressed, name,
				fmt.Sprintf("%s is lower than previous %s", ledger.FormatNumber(reading), ledger.FormatNumber(last)))
		}
	}

	amount := cmd.RechargeAmount
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount < 0 {
		return ledger.NewValidationError(ledger.ErrInvalidRecharge, cmd.RechargeTenant, ledger.FormatNumber(amount))
	}
	if amount > 0 {
		if cmd.RechargeTenant == "" {
			return ledger.NewValidationError(ledger.ErrInvalidRecharge, "", "recharge tenant required")
		}
		if !s.tenants.Contains(cmd.RechargeTenant) {
			return ledger.NewValidationError(ledger.ErrUnknownTenant, cmd.RechargeTenant, "not a configured tenant")
		}
	}
	return nil
}

// PreviewLastGroup returns the records a revert would remove.
func (s *Service) PreviewLastGroup(ctx context.Context, book string) (time.Time, []ledger.Transaction, error) {
	state, err := s.Load(ctx, book)
	if err != nil {
		return time.Time{}, nil, err
	}
	at, group := ledger.LastGroup(state.Records)
	return at, group, nil
}

// RevertLastGroup removes the most recent batch and reports how many records
// were removed. The remaining ledger is replayed so callers see the state it
// had before the batch.
func (s *Service) RevertLastGroup(ctx context.Context, book string) (int, *ledger.State, error) {
	store, err := s.stores.Open(ctx, book)
	if err != nil {
		metrics.ObserveRevert(metrics.ResultError)
		return 0, nil, err
	}
	state, err := s.load(ctx, book, store)
	if err != nil {
		metrics.ObserveRevert(metrics.ResultError)
		return 0, nil, err
	}
	if len(state.Records) == 0 {
		metrics.ObserveRevert(metrics.ResultError)
		return 0, state, ledger.ErrNothingToRevert
	}
	at, _ := ledger.LastGroup(state.Records)
	removed, err := store.TruncateLastGroup(ctx, func(tx ledger.Transaction) bool {
		return tx.Timestamp.Equal(at)
	})
	if err != nil {
		metrics.ObserveRevert(metrics.ResultError)
		return 0, nil, err
	}
	metrics.ObserveRevert(metrics.ResultSuccess)
	s.logger.Info("reverted last group",
		zap.String("book", book),
		zap.Time("timestamp", at),
		zap.Int("removed", removed),
	)
	next, err := s.load(ctx, book, store)
	if err != nil {
		return removed, nil, err
	}
	return removed, next, nil
}
