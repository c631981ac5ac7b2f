// Package sniffer detects the layout of delimited bank statements: the
// delimiter, how many metadata lines precede the header, and the regional
// number format.
package sniffer

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"unicode"
)

// maxHeaderSearch bounds how far down the file the header row may sit.
const maxHeaderSearch = 20

// Header keywords in the languages the statements arrive in.
var headerKeywords = []string{
	"data mov", "descrição", "descricao", "débito", "debito", "crédito", "credito",
	"data valor", "saldo", "categoria",
	"date", "description", "amount", "debit", "credit", "balance", "category", "merchant",
	"fecha", "descripción", "descripcion", "importe", "cargo", "abono",
}

var candidateDelimiters = []rune{';', '\t', ',', '|'}

var (
	ErrEmptyFile      = errors.New("file is empty")
	ErrNoHeadersFound = errors.New("could not find data headers")
)

// FileConfig is the detected layout of a delimited file.
type FileConfig struct {
	Delimiter  rune
	SkipLines  int // metadata lines before the header
	Headers    []string
	SampleRows [][]string
	Dialect    *RegionalDialect

	// Fingerprint identifies a bank layout: the SHA-256 of the headers
	// lower-cased and stripped of punctuation.
	Fingerprint string
}

// RegionalDialect is the inferred number and date style of a file.
type RegionalDialect struct {
	IsEuropeanFormat bool    `json:"is_european_format"` // comma is the decimal separator
	DayFirst         bool    `json:"day_first"`          // dates read DD/MM
	CurrencyHint     string  `json:"currency_hint,omitempty"` // ISO code when a symbol was seen
	Confidence       float64 `json:"confidence"`
}

// ColumnSuggestions holds auto-detected column indices, -1 when absent.
type ColumnSuggestions struct {
	DateCol       int  `json:"date"`
	DescCol       int  `json:"description"`
	SubdescCol    int  `json:"subdescription"`
	AmountCol     int  `json:"amount"`
	DebitCol      int  `json:"debit"`
	CreditCol     int  `json:"credit"`
	BalanceCol    int  `json:"balance"`
	CategoryCol   int  `json:"category"`
	IsDoubleEntry bool `json:"is_double_entry"`
}

// DetectConfig analyzes a delimited file and returns its layout.
func DetectConfig(data []byte) (*FileConfig, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyFile
	}

	lines := strings.Split(string(data), "\n")
	delimiter, skip, err := findHeaderRow(lines)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(strings.NewReader(cleanLine(lines[skip], skip == 0)))
	reader.Comma = delimiter
	reader.LazyQuotes = true
	headers, err := reader.Read()
	if err != nil {
		return nil, err
	}
	for i, h := range headers {
		headers[i] = strings.TrimSpace(h)
	}

	samples := sampleRows(strings.Join(lines[skip+1:], "\n"), delimiter, 5)
	cols := SuggestColumns(headers)
	amountIdx := cols.AmountCol
	if amountIdx < 0 {
		amountIdx = cols.DebitCol
	}

	return &FileConfig{
		Delimiter:   delimiter,
		SkipLines:   skip,
		Headers:     headers,
		SampleRows:  samples,
		Dialect:     ProbeDialect(samples, amountIdx, cols.DateCol),
		Fingerprint: Fingerprint(headers),
	}, nil
}

// Fingerprint hashes a header row so that exports from the same bank match
// regardless of capitalization, spacing or punctuation.
func Fingerprint(headers []string) string {
	normalized := make([]string, 0, len(headers))
	for _, h := range headers {
		clean := strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				return unicode.ToLower(r)
			}
			return -1
		}, h)
		if clean != "" {
			normalized = append(normalized, clean)
		}
	}

	sum := sha256.Sum256([]byte(strings.Join(normalized, "|")))
	return hex.EncodeToString(sum[:])
}

// ProbeDialect votes on the number format from the amount column, on day
// order from the date column, and on currency from every cell.
func ProbeDialect(rows [][]string, amountIdx, dateIdx int) *RegionalDialect {
	d := &RegionalDialect{Confidence: 0.5}
	european, us := 0, 0

	for _, row := range rows {
		if amountIdx >= 0 && amountIdx < len(row) {
			switch amountStyle(row[amountIdx]) {
			case 1:
				european++
			case -1:
				us++
			}
		}
		if dateIdx >= 0 && dateIdx < len(row) && dayFirst(row[dateIdx]) {
			d.DayFirst = true
		}
		for _, cell := range row {
			switch {
			case strings.Contains(cell, "€") || strings.Contains(cell, "EUR"):
				d.CurrencyHint = "EUR"
				european++
			case strings.Contains(cell, "R$") || strings.Contains(cell, "BRL"):
				d.CurrencyHint = "BRL"
				european++
			case strings.Contains(cell, "$"):
				if d.CurrencyHint == "" {
					d.CurrencyHint = "USD"
				}
				us++
			}
		}
	}

	d.IsEuropeanFormat = european > us
	if european+us > 0 {
		d.Confidence = float64(max(european, us)) / float64(european+us)
	}
	if d.IsEuropeanFormat {
		d.DayFirst = true
	}
	return d
}

// amountStyle returns 1 for 1.234,56 style, -1 for 1,234.56 style and 0 when
// the value does not tell.
func amountStyle(val string) int {
	cleaned := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' || r == ',' || r == '.' {
			return r
		}
		return -1
	}, val)

	comma := strings.LastIndex(cleaned, ",")
	dot := strings.LastIndex(cleaned, ".")
	switch {
	case comma >= 0 && dot >= 0:
		if comma > dot {
			return 1
		}
		return -1
	case comma >= 0 && len(cleaned)-comma-1 <= 2:
		return 1
	case dot >= 0 && len(cleaned)-dot-1 <= 2:
		return -1
	}
	return 0
}

// dayFirst reports whether the leading date component can only be a day.
func dayFirst(val string) bool {
	parts := strings.FieldsFunc(val, func(r rune) bool {
		return r == '/' || r == '-' || r == '.'
	})
	if len(parts) < 2 || len(parts[0]) > 2 {
		return false
	}
	n := 0
	for _, c := range parts[0] {
		if c < '0' || c > '9' {
			return false
		}
		n = n*10 + int(c-'0')
	}
	return n > 12 && n <= 31
}

// SuggestColumns matches header names to statement columns.
func SuggestColumns(headers []string) *ColumnSuggestions {
	s := &ColumnSuggestions{
		DateCol:     -1,
		DescCol:     -1,
		SubdescCol:  -1,
		AmountCol:   -1,
		DebitCol:    -1,
		CreditCol:   -1,
		BalanceCol:  -1,
		CategoryCol: -1,
	}

	for i, header := range headers {
		h := strings.ToLower(strings.TrimSpace(header))

		if s.DateCol == -1 && (strings.Contains(h, "date") || strings.Contains(h, "data mov") ||
			strings.Contains(h, "fecha") || h == "data" || h == "datum") {
			s.DateCol = i
		}
		if s.DescCol == -1 && (strings.Contains(h, "descri") || strings.Contains(h, "merchant") ||
			h == "payee" || h == "memo") && !strings.Contains(h, "sub") {
			s.DescCol = i
		}
		if s.SubdescCol == -1 && (strings.Contains(h, "subdescri") || strings.Contains(h, "sub description") ||
			h == "details" || h == "notes") {
			s.SubdescCol = i
		}
		if s.DebitCol == -1 && (strings.Contains(h, "debit") || strings.Contains(h, "débito") ||
			strings.Contains(h, "debito") || h == "cargo") {
			s.DebitCol = i
		}
		if s.CreditCol == -1 && (strings.Contains(h, "credit") || strings.Contains(h, "crédito") ||
			strings.Contains(h, "credito") || h == "abono") {
			s.CreditCol = i
		}
		if s.AmountCol == -1 && (h == "amount" || h == "valor" || h == "importe" || h == "montante" || h == "value") {
			s.AmountCol = i
		}
		if s.BalanceCol == -1 && (strings.Contains(h, "balance") || strings.Contains(h, "saldo")) {
			s.BalanceCol = i
		}
		if s.CategoryCol == -1 && (strings.Contains(h, "categ") || h == "tipo" || h == "type") {
			s.CategoryCol = i
		}
	}

	s.IsDoubleEntry = s.DebitCol != -1 && s.CreditCol != -1
	return s
}

// findHeaderRow prefers the widest line carrying header keywords and falls
// back to the widest line overall.
func findHeaderRow(lines []string) (rune, int, error) {
	bestIdx, bestDelim, bestScore := -1, rune(0), 0
	fallbackIdx, fallbackDelim, fallbackCount := -1, rune(0), 0

	for i, line := range lines {
		if i > maxHeaderSearch {
			break
		}
		line = cleanLine(line, i == 0)
		if line == "" {
			continue
		}

		delim, count := detectDelimiter(line)
		if count < 2 {
			continue
		}

		lower := strings.ToLower(line)
		matches := 0
		for _, kw := range headerKeywords {
			if strings.Contains(lower, kw) {
				matches++
			}
		}

		if matches > 0 {
			if score := count*10 + matches; score > bestScore {
				bestIdx, bestDelim, bestScore = i, delim, score
			}
		} else if count > fallbackCount {
			fallbackIdx, fallbackDelim, fallbackCount = i, delim, count
		}
	}

	if bestIdx >= 0 {
		return bestDelim, bestIdx, nil
	}
	if fallbackIdx >= 0 {
		return fallbackDelim, fallbackIdx, nil
	}
	return 0, 0, ErrNoHeadersFound
}

func cleanLine(line string, firstLine bool) string {
	line = strings.TrimRight(line, "\r")
	if firstLine {
		line = strings.TrimPrefix(line, "\uFEFF")
	}
	return strings.TrimSpace(line)
}

func detectDelimiter(line string) (rune, int) {
	best, bestCount := rune(0), 0
	for _, d := range candidateDelimiters {
		if n := strings.Count(line, string(d)); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best, bestCount
}

// sampleRows returns up to n records of body.
func sampleRows(body string, delimiter rune, n int) [][]string {
	reader := csv.NewReader(strings.NewReader(body))
	reader.Comma = delimiter
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	var rows [][]string
	for len(rows) < n {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		rows = append(rows, record)
	}
	return rows
}
