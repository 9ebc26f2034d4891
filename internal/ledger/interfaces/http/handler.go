package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	analyticsapp "meterbook/internal/analytics/application"
	"meterbook/internal/gitsync"
	ledgerapp "meterbook/internal/ledger/application"
	ledger "meterbook/internal/ledger/domain"
	"meterbook/internal/ledger/interfaces"
)

const (
	timeLayout     = ledger.TimestampLayout
	maxUploadBytes = 16 << 20
)

// BookImporter stores uploaded ledger files.
type BookImporter interface {
	Import(ctx context.Context, name string, r io.Reader) (string, error)
}

// SyncStatus exposes the cached git status.
type SyncStatus interface {
	Last() (gitsync.Status, bool)
}

// Handler serves the ledger API.
type Handler struct {
	ledger      *ledgerapp.Service
	usage       *analyticsapp.UsageService
	exporter    *interfaces.Exporter
	importer    BookImporter
	sync        SyncStatus
	defaultBook string
	logger      *zap.Logger

	// writeMu serializes requests that mutate a ledger.
	writeMu sync.Mutex
}

// HandlerOption customizes the handler.
type HandlerOption func(*Handler)

// WithImporter enables book uploads.
func WithImporter(importer BookImporter) HandlerOption {
	return func(h *Handler) { h.importer = importer }
}

// WithSyncStatus enables the git status route.
func WithSyncStatus(status SyncStatus) HandlerOption {
	return func(h *Handler) { h.sync = status }
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandler constructs a Handler.
func NewHandler(ledgerSvc *ledgerapp.Service, usageSvc *analyticsapp.UsageService, exporter *interfaces.Exporter, defaultBook string, opts ...HandlerOption) (*Handler, error) {
	if ledgerSvc == nil {
		return nil, errors.New("ledger handler: nil ledger service")
	}
	if usageSvc == nil {
		return nil, errors.New("ledger handler: nil usage service")
	}
	if exporter == nil {
		return nil, errors.New("ledger handler: nil exporter")
	}
	if strings.TrimSpace(defaultBook) == "" {
		return nil, errors.New("ledger handler: empty default book")
	}
	h := &Handler{
		ledger:      ledgerSvc,
		usage:       usageSvc,
		exporter:    exporter,
		defaultBook: defaultBook,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Routes returns the chi router with every route mounted.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", h.handleStatus)
		r.Post("/readings", h.handleRecord)
		r.Get("/revert", h.handleRevertPreview)
		r.Post("/revert", h.handleRevert)
		r.Get("/transactions", h.handleTransactions)
		r.Get("/metrics/usage", h.handleUsage)
		r.Get("/books", h.handleBooks)
		r.Post("/books", h.handleUpload)
		r.Get("/reports/ledger.{format}", h.handleReport)
		r.Get("/sync/status", h.handleSyncStatus)
	})
	return r
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (h *Handler) book(r *http.Request) string {
	if book := strings.TrimSpace(r.URL.Query().Get("book")); book != "" {
		return book
	}
	return h.defaultBook
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.ledger.CurrentStatus(r.Context(), h.book(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type recordRequest struct {
	Readings       map[string]float64 `json:"readings"`
	RechargeTenant string             `json:"recharge_tenant"`
	RechargeAmount *float64           `json:"recharge_amount"`
}

type recordResponse struct {
	Timestamp  string            `json:"timestamp"`
	Appended   int               `json:"appended"`
	Deductions map[string]string `json:"deductions,omitempty"`
	Status     *ledgerapp.Status `json:"status"`
}

func (h *Handler) handleRecord(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	cmd := ledgerapp.RecordCommand{
		Readings:       req.Readings,
		RechargeTenant: strings.TrimSpace(req.RechargeTenant),
	}
	if req.RechargeAmount != nil {
		cmd.RechargeAmount = *req.RechargeAmount
	}

	book := h.book(r)
	h.writeMu.Lock()
	result, err := h.ledger.RecordReadingsAndRecharge(r.Context(), book, cmd)
	h.writeMu.Unlock()
	if err != nil {
		respondServiceError(w, err)
		return
	}

	resp := recordResponse{
		Timestamp: result.Timestamp.Format(timeLayout),
		Appended:  result.Appended,
		Status:    ledgerapp.BuildStatus(book, result.State),
	}
	if result.Settlement != nil && !result.Settlement.Empty() {
		resp.Deductions = make(map[string]string, len(result.Settlement.Deductions))
		for name, amount := range result.Settlement.Deductions {
			resp.Deductions[name] = ledger.FormatAmount(amount)
		}
	}
	writeJSON(w, http.StatusCreated, resp)
}

type groupResponse struct {
	Timestamp string                `json:"timestamp,omitempty"`
	Records   []ledgerapp.BrowseRow `json:"records"`
}

func (h *Handler) handleRevertPreview(w http.ResponseWriter, r *http.Request) {
	at, group, err := h.ledger.PreviewLastGroup(r.Context(), h.book(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	resp := groupResponse{Records: ledgerapp.BrowseRecords(group, h.ledger.Tenants(), ledgerapp.BrowseQuery{SortOrder: "asc", PageSize: 200}).Rows}
	if !at.IsZero() {
		resp.Timestamp = at.Format(timeLayout)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleRevert(w http.ResponseWriter, r *http.Request) {
	book := h.book(r)
	h.writeMu.Lock()
	removed, state, err := h.ledger.RevertLastGroup(r.Context(), book)
	h.writeMu.Unlock()
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"removed": removed,
		"status":  ledgerapp.BuildStatus(book, state),
	})
}

func (h *Handler) handleTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := ledgerapp.BrowseQuery{
		Query:     q.Get("q"),
		Type:      q.Get("type"),
		SortBy:    q.Get("sort_by"),
		SortOrder: q.Get("sort_order"),
		Page:      atoiDefault(q.Get("page"), 1),
		PageSize:  atoiDefault(q.Get("page_size"), 0),
	}
	page, err := h.ledger.Browse(r.Context(), h.book(r), query)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) handleUsage(w http.ResponseWriter, r *http.Request) {
	m, err := h.usage.Compute(r.Context(), h.book(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) handleBooks(w http.ResponseWriter, r *http.Request) {
	books, err := h.ledger.Books(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if books == nil {
		books = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"books":        books,
		"default_book": h.defaultBook,
	})
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	if h.importer == nil {
		http.Error(w, "uploads not supported", http.StatusNotImplemented)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "invalid multipart form", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()
	if !strings.HasSuffix(strings.ToLower(header.Filename), ".csv") {
		http.Error(w, "only .csv files are accepted", http.StatusBadRequest)
		return
	}

	h.writeMu.Lock()
	book, err := h.importer.Import(r.Context(), header.Filename, file)
	h.writeMu.Unlock()
	if err != nil {
		respondServiceError(w, err)
		return
	}
	h.logger.Info("book uploaded", zap.String("book", book))
	writeJSON(w, http.StatusCreated, map[string]string{"book": book})
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	format := chi.URLParam(r, "format")
	book := h.book(r)
	data, err := h.exporter.Export(r.Context(), book, format, r.URL.Query().Get("cutoff"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	name := strings.TrimSuffix(book[strings.LastIndex(book, "/")+1:], ".csv") + "." + format
	w.Header().Set("Content-Type", interfaces.ContentType(format))
	w.Header().Set("Content-Disposition", "attachment; filename=\""+name+"\"")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	if h.sync == nil {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	status, ok := h.sync.Last()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": true, "pending": true})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"enabled": true, "status": status})
}

func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrValidation),
		errors.Is(err, ledger.ErrInvalidBook),
		errors.Is(err, interfaces.ErrInvalidCutoff),
		errors.Is(err, interfaces.ErrUnknownFormat):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, ledger.ErrNothingToRevert):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func atoiDefault(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
