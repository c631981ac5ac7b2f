// Package ledger defines the spending ledger row model shared by the identifier
// generator, the merge engine and the import pipeline.
package ledger

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// KeySeparator joins the identity fields of a row into its key string.
const KeySeparator = "|"

// dateLayout is the ISO calendar date used in identity keys.
const dateLayout = "2006-01-02"

// TransactionRow is a candidate ledger record produced by an import parser.
// Identifier stays empty until the identifier generator assigns it.
type TransactionRow struct {
	Date        time.Time
	Description string
	Amount      decimal.Decimal
	Source      string
	File        string
	Identifier  string

	// Enrichment, never part of identity
	Subdescription *string
	Balance        decimal.NullDecimal
	Category       *string
}

// PersistedRecord is a row read back from the ledger store.
type PersistedRecord struct {
	TransactionRow
	CreatedAt time.Time
}

// Batch is an ordered set of rows processed together.
type Batch []TransactionRow

// Validate checks the identity fields of a row. A row with a zero date or a
// blank description, source or file cannot produce a stable key.
func (r TransactionRow) Validate() error {
	switch {
	case r.Date.IsZero():
		return &ValidationError{Index: -1, Field: "date", Reason: "missing date"}
	case strings.TrimSpace(r.Description) == "":
		return &ValidationError{Index: -1, Field: "description", Reason: "missing description"}
	case strings.TrimSpace(r.Source) == "":
		return &ValidationError{Index: -1, Field: "source", Reason: "missing source"}
	case strings.TrimSpace(r.File) == "":
		return &ValidationError{Index: -1, Field: "file", Reason: "missing file"}
	}
	return nil
}

// IdentityKey renders the semantic identity of a row:
// date|description|amount|source|file with the description lower-cased,
// every text field trimmed and the amount fixed at two decimals.
func IdentityKey(r TransactionRow) string {
	var b strings.Builder
	b.Grow(64)
	b.WriteString(r.Date.Format(dateLayout))
	b.WriteString(KeySeparator)
	b.WriteString(strings.ToLower(strings.TrimSpace(r.Description)))
	b.WriteString(KeySeparator)
	b.WriteString(FormatAmount(r.Amount))
	b.WriteString(KeySeparator)
	b.WriteString(strings.TrimSpace(r.Source))
	b.WriteString(KeySeparator)
	b.WriteString(strings.TrimSpace(r.File))
	return b.String()
}

// FormatAmount renders an amount with exactly two decimal digits.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// Identifiers returns the identifiers of rows in order.
func (b Batch) Identifiers() []string {
	ids := make([]string, len(b))
	for i, r := range b {
		ids[i] = r.Identifier
	}
	return ids
}
