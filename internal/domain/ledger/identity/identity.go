// Package identity derives deterministic, content-addressed identifiers for
// ledger rows. Rows sharing the same identity key inside one batch are told
// apart by their occurrence rank, so re-importing the same file always yields
// the same identifiers.
package identity

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/FACorreiaa/spending-ledger/internal/domain/ledger"
)

const (
	// DefaultLength matches the width of the all_spending primary key.
	DefaultLength = 20
	MinLength     = 8
	MaxLength     = 20

	dupMarker = "|dup_"
)

// Generator assigns identifiers of a fixed hex length.
type Generator struct {
	length int
}

// Default is a generator producing DefaultLength identifiers.
var Default = &Generator{length: DefaultLength}

// New returns a generator producing identifiers of the given length.
func New(length int) (*Generator, error) {
	if length < MinLength || length > MaxLength {
		return nil, fmt.Errorf("identifier length must be between %d and %d, got %d", MinLength, MaxLength, length)
	}
	return &Generator{length: length}, nil
}

// Length returns the identifier length.
func (g *Generator) Length() int {
	return g.length
}

// AssignIdentifiers returns a copy of batch with Identifier populated on every
// row, in input order. The whole batch is rejected with joined
// *ledger.ValidationError values when any row lacks an identity field.
func (g *Generator) AssignIdentifiers(batch []ledger.TransactionRow) ([]ledger.TransactionRow, error) {
	if err := ledger.ValidateBatch(batch); err != nil {
		return nil, err
	}

	out := make([]ledger.TransactionRow, len(batch))
	seen := make(map[string]int, len(batch))

	for i, row := range batch {
		key := ledger.IdentityKey(row)
		prior := seen[key]
		seen[key] = prior + 1

		row.Identifier = g.digest(HashInput(key, prior))
		out[i] = row
	}

	return out, nil
}

// HashInput is the digest input for the occurrence of key that follows prior
// earlier occurrences in the same batch.
func HashInput(key string, prior int) string {
	if prior == 0 {
		return key
	}
	return key + dupMarker + strconv.Itoa(prior)
}

func (g *Generator) digest(input string) string {
	sum := md5.Sum([]byte(input))
	return hex.EncodeToString(sum[:])[:g.length]
}

// AssignIdentifiers assigns DefaultLength identifiers.
func AssignIdentifiers(batch []ledger.TransactionRow) ([]ledger.TransactionRow, error) {
	return Default.AssignIdentifiers(batch)
}
