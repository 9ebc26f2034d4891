package application

import (
	"context"
	"errors"
	"time"

	"meterbook/internal/analytics/domain/usage"
	ledger "meterbook/internal/ledger/domain"
	"meterbook/internal/observability/metrics"

	"go.uber.org/zap"
)

// LedgerLoader replays a book.
type LedgerLoader interface {
	Load(ctx context.Context, book string) (*ledger.State, error)
}

// UsageService computes usage metrics on demand from a full ledger scan.
type UsageService struct {
	ledger LedgerLoader
	logger *zap.Logger
}

// NewUsageService constructs the service.
func NewUsageService(loader LedgerLoader, logger *zap.Logger) (*UsageService, error) {
	if loader == nil {
		return nil, errors.New("usage service: nil ledger loader")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UsageService{ledger: loader, logger: logger}, nil
}

// Compute rescans a book and derives its usage metrics.
func (s *UsageService) Compute(ctx context.Context, book string) (usage.Metrics, error) {
	start := time.Now()
	state, err := s.ledger.Load(ctx, book)
	if err != nil {
		metrics.ObserveMetricsCompute(metrics.ResultError, time.Since(start))
		return usage.Metrics{}, err
	}
	out := usage.Compute(state.Records, state.Tenants)
	metrics.ObserveMetricsCompute(metrics.ResultSuccess, time.Since(start))
	s.logger.Debug("usage metrics computed",
		zap.String("book", book),
		zap.Int("records", len(state.Records)),
		zap.Float64("per_unit_cost", out.PerUnitCost),
	)
	return out, nil
}
