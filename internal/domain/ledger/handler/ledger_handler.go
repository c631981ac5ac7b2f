// Package handler serves the ledger over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/FACorreiaa/spending-ledger/internal/domain/ledger"
	"github.com/FACorreiaa/spending-ledger/internal/httperr"
	"github.com/FACorreiaa/spending-ledger/pkg/money"
	"github.com/FACorreiaa/spending-ledger/pkg/respond"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

// Reader lists persisted ledger records.
type Reader interface {
	ListTransactions(ctx context.Context) ([]ledger.PersistedRecord, error)
}

// TransactionResponse is the JSON form of a ledger row.
type TransactionResponse struct {
	ID             string  `json:"id,omitempty"`
	Date           string  `json:"date"`
	Description    string  `json:"description"`
	Subdescription *string `json:"subdescription,omitempty"`
	Amount         string  `json:"amount"`
	AmountMinor    int64   `json:"amount_minor"`
	Display        string  `json:"display"`
	Balance        *string `json:"balance,omitempty"`
	Category       *string `json:"category,omitempty"`
	Source         string  `json:"source"`
	File           string  `json:"file"`
	CreatedAt      *string `json:"created_at,omitempty"`
}

// NewTransactionResponse renders row with amounts in currency.
func NewTransactionResponse(row ledger.TransactionRow, currency string) TransactionResponse {
	resp := TransactionResponse{
		ID:             row.Identifier,
		Date:           row.Date.Format(time.DateOnly),
		Description:    row.Description,
		Subdescription: row.Subdescription,
		Amount:         ledger.FormatAmount(row.Amount),
		AmountMinor:    money.MinorUnits(row.Amount, currency),
		Display:        money.Display(row.Amount, currency),
		Category:       row.Category,
		Source:         row.Source,
		File:           row.File,
	}
	if row.Balance.Valid {
		b := ledger.FormatAmount(row.Balance.Decimal)
		resp.Balance = &b
	}
	return resp
}

// ListResponse is one page of the ledger.
type ListResponse struct {
	Total        int                   `json:"total"`
	Limit        int                   `json:"limit"`
	Offset       int                   `json:"offset"`
	Transactions []TransactionResponse `json:"transactions"`
}

// LedgerHandler serves read access to the ledger.
type LedgerHandler struct {
	reader   Reader
	currency string
	logger   *slog.Logger
}

// NewLedgerHandler renders amounts in currency.
func NewLedgerHandler(reader Reader, currency string, logger *slog.Logger) *LedgerHandler {
	if currency == "" {
		currency = money.DefaultCurrency
	}
	return &LedgerHandler{reader: reader, currency: currency, logger: logger}
}

// Routes mounts the ledger endpoints on r.
func (h *LedgerHandler) Routes(r chi.Router) {
	r.Get("/transactions", h.ListTransactions)
}

// ListTransactions returns ledger records ordered by date then identifier.
// Optional query parameters: source, from and to (YYYY-MM-DD, inclusive),
// limit and offset.
func (h *LedgerHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter, err := parseFilter(q.Get("source"), q.Get("from"), q.Get("to"))
	if err != nil {
		httperr.Write(w, h.logger, err)
		return
	}
	limit, offset, err := parsePage(q.Get("limit"), q.Get("offset"))
	if err != nil {
		httperr.Write(w, h.logger, err)
		return
	}

	records, err := h.reader.ListTransactions(r.Context())
	if err != nil {
		httperr.Write(w, h.logger, err)
		return
	}

	matched := make([]ledger.PersistedRecord, 0, len(records))
	for _, rec := range records {
		if filter.match(rec.TransactionRow) {
			matched = append(matched, rec)
		}
	}

	resp := ListResponse{Total: len(matched), Limit: limit, Offset: offset, Transactions: []TransactionResponse{}}
	if offset < len(matched) {
		end := min(offset+limit, len(matched))
		for _, rec := range matched[offset:end] {
			tr := NewTransactionResponse(rec.TransactionRow, h.currency)
			if !rec.CreatedAt.IsZero() {
				created := rec.CreatedAt.UTC().Format(time.RFC3339)
				tr.CreatedAt = &created
			}
			resp.Transactions = append(resp.Transactions, tr)
		}
	}

	respond.JSON(w, http.StatusOK, resp)
}

type filter struct {
	source   string
	from, to time.Time
}

func (f filter) match(row ledger.TransactionRow) bool {
	if f.source != "" && !strings.EqualFold(row.Source, f.source) {
		return false
	}
	if !f.from.IsZero() && row.Date.Before(f.from) {
		return false
	}
	if !f.to.IsZero() && row.Date.After(f.to) {
		return false
	}
	return true
}

func parseFilter(source, from, to string) (filter, error) {
	f := filter{source: strings.TrimSpace(source)}
	var err error
	if from != "" {
		if f.from, err = time.Parse(time.DateOnly, from); err != nil {
			return f, &ledger.ValidationError{Index: -1, Field: "from", Reason: "expected YYYY-MM-DD"}
		}
	}
	if to != "" {
		if f.to, err = time.Parse(time.DateOnly, to); err != nil {
			return f, &ledger.ValidationError{Index: -1, Field: "to", Reason: "expected YYYY-MM-DD"}
		}
	}
	return f, nil
}

func parsePage(limitStr, offsetStr string) (int, int, error) {
	limit, offset := defaultPageSize, 0
	if limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n < 1 {
			return 0, 0, &ledger.ValidationError{Index: -1, Field: "limit", Reason: "must be a positive integer"}
		}
		limit = min(n, maxPageSize)
	}
	if offsetStr != "" {
		n, err := strconv.Atoi(offsetStr)
		if err != nil || n < 0 {
			return 0, 0, &ledger.ValidationError{Index: -1, Field: "offset", Reason: "must not be negative"}
		}
		offset = n
	}
	return limit, offset, nil
}
