package identity

import (
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/spending-ledger/internal/domain/ledger"
)

const (
	coffeeID     = "3eb8b2741248a32b6714"
	coffeeDup1ID = "1de1af03532d6c2ad0dd"
	coffeeDup2ID = "fd0ada9fe30ded3ad3f2"
)

func coffeeRow() ledger.TransactionRow {
	return ledger.TransactionRow{
		Date:        time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),
		Description: "Coffee Shop",
		Amount:      decimal.RequireFromString("-4.50"),
		Source:      "Visa",
		File:        "jan.csv",
	}
}

func TestAssignIdentifiers_KnownDigests(t *testing.T) {
	rows, err := AssignIdentifiers([]ledger.TransactionRow{coffeeRow(), coffeeRow(), coffeeRow()})
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, coffeeID, rows[0].Identifier)
	assert.Equal(t, coffeeDup1ID, rows[1].Identifier)
	assert.Equal(t, coffeeDup2ID, rows[2].Identifier)
}

func TestAssignIdentifiers_Deterministic(t *testing.T) {
	faker := gofakeit.New(42)

	for i := 0; i < 50; i++ {
		row := ledger.TransactionRow{
			Date:        faker.DateRange(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)),
			Description: faker.Company(),
			Amount:      decimal.NewFromFloat(faker.Float64Range(-500, 500)).Round(2),
			Source:      faker.CreditCardType(),
			File:        faker.Word() + ".csv",
		}

		first, err := AssignIdentifiers([]ledger.TransactionRow{row})
		require.NoError(t, err)
		second, err := AssignIdentifiers([]ledger.TransactionRow{row})
		require.NoError(t, err)

		assert.Equal(t, first[0].Identifier, second[0].Identifier)
		assert.Len(t, first[0].Identifier, DefaultLength)
	}
}

func TestAssignIdentifiers_DuplicatesDistinctAndStable(t *testing.T) {
	batch := make([]ledger.TransactionRow, 5)
	for i := range batch {
		batch[i] = coffeeRow()
	}

	first, err := AssignIdentifiers(batch)
	require.NoError(t, err)
	second, err := AssignIdentifiers(batch)
	require.NoError(t, err)

	seen := make(map[string]bool)
	for i := range first {
		assert.False(t, seen[first[i].Identifier], "identifier %d repeated", i)
		seen[first[i].Identifier] = true
		assert.Equal(t, first[i].Identifier, second[i].Identifier)
	}
}

func TestAssignIdentifiers_OccurrenceRankOnly(t *testing.T) {
	other := coffeeRow()
	other.Description = "Bakery"

	// Interleaving an unrelated row must not shift the rank of the repeats.
	rows, err := AssignIdentifiers([]ledger.TransactionRow{other, coffeeRow(), other, coffeeRow()})
	require.NoError(t, err)

	assert.Equal(t, coffeeID, rows[1].Identifier)
	assert.Equal(t, coffeeDup1ID, rows[3].Identifier)
	assert.NotEqual(t, rows[0].Identifier, rows[2].Identifier)
}

func TestAssignIdentifiers_BatchLocal(t *testing.T) {
	_, err := AssignIdentifiers([]ledger.TransactionRow{coffeeRow(), coffeeRow()})
	require.NoError(t, err)

	rows, err := AssignIdentifiers([]ledger.TransactionRow{coffeeRow()})
	require.NoError(t, err)
	assert.Equal(t, coffeeID, rows[0].Identifier)
}

func TestAssignIdentifiers_FieldSensitivity(t *testing.T) {
	base, err := AssignIdentifiers([]ledger.TransactionRow{coffeeRow()})
	require.NoError(t, err)
	baseID := base[0].Identifier

	identityChanges := []struct {
		name   string
		mutate func(*ledger.TransactionRow)
	}{
		{"date", func(r *ledger.TransactionRow) { r.Date = r.Date.AddDate(0, 0, 1) }},
		{"description", func(r *ledger.TransactionRow) { r.Description = "Coffee Shops" }},
		{"amount", func(r *ledger.TransactionRow) { r.Amount = decimal.RequireFromString("-4.51") }},
		{"source", func(r *ledger.TransactionRow) { r.Source = "Amex" }},
		{"file", func(r *ledger.TransactionRow) { r.File = "jan_corrected.csv" }},
	}
	for _, tt := range identityChanges {
		t.Run("changes with "+tt.name, func(t *testing.T) {
			row := coffeeRow()
			tt.mutate(&row)
			out, err := AssignIdentifiers([]ledger.TransactionRow{row})
			require.NoError(t, err)
			assert.NotEqual(t, baseID, out[0].Identifier)
		})
	}

	enrichment := []struct {
		name   string
		mutate func(*ledger.TransactionRow)
	}{
		{"balance", func(r *ledger.TransactionRow) { r.Balance = decimal.NewNullDecimal(decimal.NewFromInt(1234)) }},
		{"category", func(r *ledger.TransactionRow) { c := "Coffee"; r.Category = &c }},
		{"subdescription", func(r *ledger.TransactionRow) { s := "card 1234"; r.Subdescription = &s }},
		{"description case", func(r *ledger.TransactionRow) { r.Description = "  coffee SHOP " }},
		{"amount scale", func(r *ledger.TransactionRow) { r.Amount = decimal.RequireFromString("-4.5") }},
	}
	for _, tt := range enrichment {
		t.Run("stable with "+tt.name, func(t *testing.T) {
			row := coffeeRow()
			tt.mutate(&row)
			out, err := AssignIdentifiers([]ledger.TransactionRow{row})
			require.NoError(t, err)
			assert.Equal(t, baseID, out[0].Identifier)
		})
	}
}

func TestAssignIdentifiers_EmptyBatch(t *testing.T) {
	rows, err := AssignIdentifiers(nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestAssignIdentifiers_RejectsInvalidBatch(t *testing.T) {
	bad := coffeeRow()
	bad.Source = "  "
	input := []ledger.TransactionRow{coffeeRow(), bad}

	rows, err := AssignIdentifiers(input)
	require.Error(t, err)
	assert.Nil(t, rows)
	assert.ErrorIs(t, err, ledger.ErrValidation)
	assert.Contains(t, err.Error(), "row 1: invalid source")

	// Input is never mutated.
	assert.Empty(t, input[0].Identifier)
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		length  int
		wantErr bool
	}{
		{"minimum", MinLength, false},
		{"maximum", MaxLength, false},
		{"too short", 7, true},
		{"too long", 21, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := New(tt.length)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			rows, err := g.AssignIdentifiers([]ledger.TransactionRow{coffeeRow()})
			require.NoError(t, err)
			assert.Len(t, rows[0].Identifier, tt.length)
			assert.Equal(t, coffeeID[:tt.length], rows[0].Identifier)
		})
	}
}

func TestHashInput(t *testing.T) {
	assert.Equal(t, "k", HashInput("k", 0))
	assert.Equal(t, "k|dup_1", HashInput("k", 1))
	assert.Equal(t, "k|dup_12", HashInput("k", 12))
}
