package interfaces

import (
	"context"
	"errors"
	"strings"
	"time"

	analyticsapp "meterbook/internal/analytics/application"
	"meterbook/internal/analytics/domain/usage"
	ledgerapp "meterbook/internal/ledger/application"
	"meterbook/internal/observability/metrics"

	"go.uber.org/zap"
)

const (
	FormatPDF  = "pdf"
	FormatXLSX = "xlsx"
)

// ContentType returns the MIME type of an export format.
func ContentType(format string) string {
	switch format {
	case FormatPDF:
		return "application/pdf"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/octet-stream"
	}
}

// Exporter renders ledger reports.
type Exporter struct {
	ledger *ledgerapp.Service
	usage  *analyticsapp.UsageService
	logger *zap.Logger
}

// NewExporter constructs an exporter.
func NewExporter(ledgerSvc *ledgerapp.Service, usageSvc *analyticsapp.UsageService, logger *zap.Logger) (*Exporter, error) {
	if ledgerSvc == nil {
		return nil, errors.New("report exporter: nil ledger service")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{ledger: ledgerSvc, usage: usageSvc, logger: logger}, nil
}

// Export renders a book as PDF or XLSX, keeping rows after cutoff.
func (e *Exporter) Export(ctx context.Context, book, format, cutoff string) ([]byte, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	start := time.Now()
	data, err := e.export(ctx, book, format, cutoff)
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.ObserveReportExport(format, result, time.Since(start))
	if err != nil {
		e.logger.Warn("report export failed", zap.String("book", book), zap.String("format", format), zap.Error(err))
		return nil, err
	}
	e.logger.Info("report exported", zap.String("book", book), zap.String("format", format), zap.Int("bytes", len(data)))
	return data, nil
}

func (e *Exporter) export(ctx context.Context, book, format, cutoff string) ([]byte, error) {
	if format != FormatPDF && format != FormatXLSX {
		return nil, ErrUnknownFormat
	}
	at, err := ParseCutoff(cutoff)
	if err != nil {
		return nil, err
	}
	state, err := e.ledger.Load(ctx, book)
	if err != nil {
		return nil, err
	}
	table := BuildReport(state.Records, state.Tenants, at)
	if format == FormatPDF {
		return BuildReportPDF(table)
	}
	var summary usage.Metrics
	if e.usage != nil {
		if summary, err = e.usage.Compute(ctx, book); err != nil {
			return nil, err
		}
	} else {
		summary = usage.Compute(state.Records, state.Tenants)
	}
	return BuildReportXLSX(table, state, summary)
}
