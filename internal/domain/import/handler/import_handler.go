// Package handler serves statement imports over HTTP.
package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	importservice "github.com/FACorreiaa/spending-ledger/internal/domain/import/service"
	"github.com/FACorreiaa/spending-ledger/internal/domain/import/sniffer"
	"github.com/FACorreiaa/spending-ledger/internal/domain/ledger"
	ledgerhandler "github.com/FACorreiaa/spending-ledger/internal/domain/ledger/handler"
	"github.com/FACorreiaa/spending-ledger/internal/httperr"
	"github.com/FACorreiaa/spending-ledger/pkg/money"
	"github.com/FACorreiaa/spending-ledger/pkg/respond"
)

// DefaultMaxUploadBytes caps a statement upload.
const DefaultMaxUploadBytes = 20 << 20

// ImportHandler handles statement uploads and import run queries.
type ImportHandler struct {
	importSvc      *importservice.ImportService
	maxUploadBytes int64
	logger         *slog.Logger
}

// NewImportHandler creates a new import handler
func NewImportHandler(importSvc *importservice.ImportService, logger *slog.Logger) *ImportHandler {
	return &ImportHandler{
		importSvc:      importSvc,
		maxUploadBytes: DefaultMaxUploadBytes,
		logger:         logger,
	}
}

// WithMaxUploadBytes caps the size of an uploaded statement.
func (h *ImportHandler) WithMaxUploadBytes(n int64) *ImportHandler {
	if n > 0 {
		h.maxUploadBytes = n
	}
	return h
}

// Routes mounts the import endpoints on r.
func (h *ImportHandler) Routes(r chi.Router) {
	r.Route("/imports", func(r chi.Router) {
		r.Post("/", h.ImportFile)
		r.Post("/analyze", h.AnalyzeFile)
		r.Get("/", h.ListRuns)
		r.Get("/{id}", h.GetRun)
	})
}

// ImportFile merges an uploaded statement (multipart field "file", form
// value "source") into the ledger.
func (h *ImportHandler) ImportFile(w http.ResponseWriter, r *http.Request) {
	in, err := h.readUpload(w, r)
	if err != nil {
		httperr.Write(w, h.logger, err)
		return
	}

	result, err := h.importSvc.ImportFile(r.Context(), in)
	if err != nil {
		httperr.Write(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusCreated, result)
}

// AnalyzeResponse is the detected layout of an uploaded statement.
type AnalyzeResponse struct {
	Delimiter  string                              `json:"delimiter,omitempty"`
	SkipLines  int                                 `json:"skip_lines"`
	Headers    []string                            `json:"headers,omitempty"`
	SampleRows [][]string                          `json:"sample_rows,omitempty"`
	Dialect    *sniffer.RegionalDialect            `json:"dialect,omitempty"`
	Layout     string                              `json:"layout_fingerprint,omitempty"`
	Columns    *sniffer.ColumnSuggestions          `json:"columns,omitempty"`
	RowsTotal  int                                 `json:"rows_total"`
	RowsFailed int                                 `json:"rows_failed"`
	Preview    []ledgerhandler.TransactionResponse `json:"preview"`
}

// AnalyzeFile reports how an uploaded statement would be read without
// importing it.
func (h *ImportHandler) AnalyzeFile(w http.ResponseWriter, r *http.Request) {
	in, err := h.readUpload(w, r)
	if err != nil {
		httperr.Write(w, h.logger, err)
		return
	}

	result, err := h.importSvc.AnalyzeFile(r.Context(), in)
	if err != nil {
		httperr.Write(w, h.logger, err)
		return
	}

	resp := AnalyzeResponse{
		Columns:    result.ColumnSuggestions,
		RowsTotal:  result.RowsTotal,
		RowsFailed: result.RowsFailed,
		Preview:    make([]ledgerhandler.TransactionResponse, 0, len(result.Preview)),
	}
	currency := money.DefaultCurrency
	if cfg := result.FileConfig; cfg != nil {
		resp.Delimiter = string(cfg.Delimiter)
		resp.SkipLines = cfg.SkipLines
		resp.Headers = cfg.Headers
		resp.SampleRows = cfg.SampleRows
		resp.Dialect = cfg.Dialect
		resp.Layout = cfg.Fingerprint
		if cfg.Dialect != nil && cfg.Dialect.CurrencyHint != "" {
			currency = cfg.Dialect.CurrencyHint
		}
	}
	for _, row := range result.Preview {
		resp.Preview = append(resp.Preview, ledgerhandler.NewTransactionResponse(row, currency))
	}

	respond.JSON(w, http.StatusOK, resp)
}

// ListRuns returns the most recent import runs, newest first.
func (h *ImportHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			httperr.Write(w, h.logger, &ledger.ValidationError{Index: -1, Field: "limit", Reason: "must be a positive integer"})
			return
		}
		limit = n
	}

	runs, err := h.importSvc.ListRuns(r.Context(), limit)
	if err != nil {
		httperr.Write(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, runs)
}

// GetRun returns one import run.
func (h *ImportHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httperr.Write(w, h.logger, &ledger.ValidationError{Index: -1, Field: "id", Reason: "not a UUID"})
		return
	}

	run, err := h.importSvc.GetRun(r.Context(), id)
	if err != nil {
		httperr.Write(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, run)
}

func (h *ImportHandler) readUpload(w http.ResponseWriter, r *http.Request) (importservice.FileInput, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return importservice.FileInput{}, &ledger.ValidationError{Index: -1, Field: "file", Reason: fmt.Sprintf("larger than %d bytes", tooLarge.Limit)}
		}
		return importservice.FileInput{}, &ledger.ValidationError{Index: -1, Field: "file", Reason: "expected multipart form data"}
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		return importservice.FileInput{}, &ledger.ValidationError{Index: -1, Field: "file", Reason: "missing file"}
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return importservice.FileInput{}, fmt.Errorf("failed to read upload: %w", err)
	}

	return importservice.FileInput{
		Source: r.FormValue("source"),
		Name:   header.Filename,
		Data:   data,
	}, nil
}
