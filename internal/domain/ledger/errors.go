package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("invalid transaction row")

	// ErrStoreUnavailable wraps infrastructure failures of the ledger store.
	// No state was changed and the whole merge can be retried.
	ErrStoreUnavailable = errors.New("ledger store unavailable")

	// ErrIdentifierCollision reports that the store's uniqueness constraint
	// rejected a row because another writer already inserted it.
	ErrIdentifierCollision = errors.New("identifier already persisted")

	// ErrRowRejected reports that the store refused a row's data, such as a
	// value too long for its column. Retrying the same rows cannot succeed.
	ErrRowRejected = errors.New("row rejected by the store")
)

// ValidationError describes a row whose identity fields are missing or malformed.
type ValidationError struct {
	Index  int // position in the batch, -1 when unknown
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("row %d: invalid %s: %s", e.Index, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// StoreError wraps a store failure so that it matches ErrStoreUnavailable
// while keeping the driver error reachable through errors.As.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() []error {
	return []error{ErrStoreUnavailable, e.Err}
}

// Unavailable wraps err as a store failure of op. A nil err stays nil.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// ValidateBatch validates every row and joins one *ValidationError per invalid
// row. The whole batch is rejected when any row fails.
func ValidateBatch(rows []TransactionRow) error {
	var errs []error
	for i, r := range rows {
		if err := r.Validate(); err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				ve.Index = i
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
