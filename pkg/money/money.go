// Package money parses statement amounts into exact decimals and formats them
// for display with ISO-4217 currency rules.
package money

import (
	"errors"
	"fmt"
	"strings"

	gomoney "github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Common currency codes (ISO-4217)
const (
	EUR = "EUR"
	USD = "USD"
	GBP = "GBP"
	BRL = "BRL"
	JPY = "JPY"
)

// DefaultCurrency is used when a statement carries no currency hint.
const DefaultCurrency = EUR

var ErrEmptyAmount = errors.New("empty amount")

// symbols maps the markers banks print next to amounts. Longer markers come
// first so "R$" wins over "$".
var symbols = []struct {
	marker string
	code   string
}{
	{"R$", BRL},
	{"US$", USD},
	{"EUR", EUR},
	{"USD", USD},
	{"GBP", GBP},
	{"BRL", BRL},
	{"JPY", JPY},
	{"€", EUR},
	{"$", USD},
	{"£", GBP},
	{"¥", JPY},
}

// ParseAmount reads a statement amount such as "-1,234.56", "1.234,56 €",
// "(12.00)" or "12.00-" into an exact decimal. europeanFormat selects comma
// as the decimal separator.
func ParseAmount(s string, europeanFormat bool) (decimal.Decimal, error) {
	raw := s
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\u00a0', '\u202f', '\'':
			return -1
		}
		return r
	}, s)
	for _, sym := range symbols {
		s = strings.ReplaceAll(s, sym.marker, "")
	}
	if s == "" {
		return decimal.Zero, ErrEmptyAmount
	}

	negative := false
	switch {
	case strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")"):
		negative = true
		s = s[1 : len(s)-1]
	case strings.HasSuffix(s, "-"):
		negative = true
		s = strings.TrimSuffix(s, "-")
	}
	if strings.HasPrefix(s, "-") {
		negative = !negative
		s = s[1:]
	}
	s = strings.TrimPrefix(s, "+")

	if europeanFormat {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	} else {
		s = strings.ReplaceAll(s, ",", "")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", raw)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

// DetectCurrency returns the ISO code of the first currency marker in s, or
// an empty string.
func DetectCurrency(s string) string {
	for _, sym := range symbols {
		if strings.Contains(s, sym.marker) {
			return sym.code
		}
	}
	return ""
}

// MinorUnits converts amount to the currency's minor units, rounding half
// away from zero. Unknown codes fall back to DefaultCurrency.
func MinorUnits(amount decimal.Decimal, currencyCode string) int64 {
	currency := lookup(currencyCode)
	return amount.Shift(int32(currency.Fraction)).Round(0).IntPart()
}

// Display formats amount for people, e.g. "€1,234.56" or "-$3.50".
func Display(amount decimal.Decimal, currencyCode string) string {
	currency := lookup(currencyCode)
	return gomoney.New(MinorUnits(amount, currency.Code), currency.Code).Display()
}

func lookup(code string) *gomoney.Currency {
	if c := gomoney.GetCurrency(strings.ToUpper(code)); c != nil {
		return c
	}
	return gomoney.GetCurrency(DefaultCurrency)
}
