// Package httperr maps domain errors onto HTTP responses.
package httperr

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/FACorreiaa/spending-ledger/internal/domain/import/parser"
	"github.com/FACorreiaa/spending-ledger/internal/domain/import/repository"
	"github.com/FACorreiaa/spending-ledger/internal/domain/import/sniffer"
	"github.com/FACorreiaa/spending-ledger/internal/domain/ledger"
	"github.com/FACorreiaa/spending-ledger/pkg/lock"
	"github.com/FACorreiaa/spending-ledger/pkg/respond"
)

// Write responds with the status StatusFor picks. Joined validation errors
// are listed one per detail.
func Write(w http.ResponseWriter, logger *slog.Logger, err error) {
	var details []string
	var joined interface{ Unwrap() []error }
	if errors.Is(err, ledger.ErrValidation) && errors.As(err, &joined) {
		for _, e := range joined.Unwrap() {
			details = append(details, e.Error())
		}
	}
	respond.Error(w, logger, StatusFor(err), err, details...)
}

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrValidation),
		errors.Is(err, parser.ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.Is(err, repository.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, sniffer.ErrNoHeadersFound),
		errors.Is(err, sniffer.ErrEmptyFile),
		errors.Is(err, ledger.ErrRowRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrStoreUnavailable),
		errors.Is(err, lock.ErrLockHeld),
		errors.Is(err, lock.ErrNotAcquired),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
