package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		european bool
		want     string
	}{
		{"plain", "12.34", false, "12.34"},
		{"negative", "-3.50", false, "-3.5"},
		{"thousands", "1,234.56", false, "1234.56"},
		{"currency symbol", "$1,234.56", false, "1234.56"},
		{"european", "1.234,56", true, "1234.56"},
		{"european with euro", "-1.234,56 €", true, "-1234.56"},
		{"real", "R$ 99,90", true, "99.9"},
		{"parentheses", "(12.00)", false, "-12"},
		{"trailing minus", "45.10-", false, "-45.1"},
		{"explicit plus", "+7.25", false, "7.25"},
		{"non-breaking space", "1\u00a0234.00", false, "1234"},
		{"many decimals", "0.005", false, "0.005"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(tt.input, tt.european)
			require.NoError(t, err)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(got), "got %s", got)
		})
	}
}

func TestParseAmount_Errors(t *testing.T) {
	_, err := ParseAmount("   ", false)
	assert.ErrorIs(t, err, ErrEmptyAmount)

	_, err = ParseAmount("€", false)
	assert.ErrorIs(t, err, ErrEmptyAmount)

	_, err = ParseAmount("twelve", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"twelve"`)
}

func TestDetectCurrency(t *testing.T) {
	assert.Equal(t, EUR, DetectCurrency("12,00 €"))
	assert.Equal(t, BRL, DetectCurrency("R$ 10"))
	assert.Equal(t, USD, DetectCurrency("$10"))
	assert.Equal(t, GBP, DetectCurrency("GBP 3"))
	assert.Equal(t, "", DetectCurrency("10.00"))
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(1235), MinorUnits(decimal.RequireFromString("12.345"), EUR))
	assert.Equal(t, int64(-1235), MinorUnits(decimal.RequireFromString("-12.345"), EUR))
	assert.Equal(t, int64(1000), MinorUnits(decimal.RequireFromString("1000"), JPY))
	assert.Equal(t, int64(150), MinorUnits(decimal.RequireFromString("1.5"), "XXX-unknown"))
}

func TestDisplay(t *testing.T) {
	tests := []struct {
		amount   string
		currency string
		want     string
	}{
		{"1234.56", USD, "$1,234.56"},
		{"-3.5", USD, "-$3.50"},
		{"1000", JPY, "¥1,000"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, Display(decimal.RequireFromString(tt.amount), tt.currency))
		})
	}
}

func BenchmarkParseAmount(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_, _ = ParseAmount("-1.234,56 €", true)
	}
}
