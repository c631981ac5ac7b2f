// Package parser turns bank statements (CSV, XLSX and pipe-delimited text
// tables) into transactions with exact decimal amounts. CSV rows are
// unmarshaled by header name with gocsv.
package parser

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/spending-ledger/pkg/money"
)

// csvRow is one raw CSV row. gocsv matches the tags against lower-cased
// header names, so several aliases can feed the same logical column.
type csvRow struct {
	Date      string `csv:"date"`
	DataMov   string `csv:"data mov."`
	DataMovim string `csv:"data movim."`
	Fecha     string `csv:"fecha"`
	Datum     string `csv:"datum"`

	Description string `csv:"description"`
	Descricao   string `csv:"descrição"`
	Descricao2  string `csv:"descricao"`
	Descripcion string `csv:"descripción"`
	Merchant    string `csv:"merchant"`
	Payee       string `csv:"payee"`
	Memo        string `csv:"memo"`

	Subdescription  string `csv:"subdescription"`
	Subdescription2 string `csv:"sub description"`
	Details         string `csv:"details"`
	Notes           string `csv:"notes"`

	Amount  string `csv:"amount"`
	Valor   string `csv:"valor"`
	Importe string `csv:"importe"`
	Value   string `csv:"value"`
	Montant string `csv:"montant"`

	Debit   string `csv:"debit"`
	Debito  string `csv:"débito"`
	Debito2 string `csv:"debito"`
	Cargo   string `csv:"cargo"`

	Credit   string `csv:"credit"`
	Credito  string `csv:"crédito"`
	Credito2 string `csv:"credito"`
	Abono    string `csv:"abono"`

	Balance string `csv:"balance"`
	Saldo   string `csv:"saldo"`

	Category  string `csv:"category"`
	Categoria string `csv:"categoria"`
	Type      string `csv:"type"`
	Tipo      string `csv:"tipo"`
}

func (r csvRow) fields() rawFields {
	return rawFields{
		date:           coalesce(r.Date, r.DataMov, r.DataMovim, r.Fecha, r.Datum),
		description:    coalesce(r.Description, r.Descricao, r.Descricao2, r.Descripcion, r.Merchant, r.Payee, r.Memo),
		subdescription: coalesce(r.Subdescription, r.Subdescription2, r.Details, r.Notes),
		amount:         coalesce(r.Amount, r.Valor, r.Importe, r.Value, r.Montant),
		debit:          coalesce(r.Debit, r.Debito, r.Debito2, r.Cargo),
		credit:         coalesce(r.Credit, r.Credito, r.Credito2, r.Abono),
		balance:        coalesce(r.Balance, r.Saldo),
		category:       coalesce(r.Category, r.Categoria, r.Type, r.Tipo),
	}
}

// rawFields are the cell values of one row after column matching.
type rawFields struct {
	date           string
	description    string
	subdescription string
	amount         string
	debit          string
	credit         string
	balance        string
	category       string
}

func (f rawFields) blank() bool {
	return f == rawFields{}
}

// ParsedTransaction is one statement line with normalized values.
// Amount is negative for money out.
type ParsedTransaction struct {
	Date           time.Time
	Description    string
	Subdescription string
	Amount         decimal.Decimal
	Balance        decimal.NullDecimal
	Category       string
	RawRow         int
}

// ParseError represents a parsing error for a specific row
type ParseError struct {
	Row     int
	Column  string
	Message string
	RawData string
}

func (e ParseError) Error() string {
	return fmt.Sprintf("row %d, column %s: %s", e.Row, e.Column, e.Message)
}

// ParseResult contains the parsed transactions and the rows that failed.
type ParseResult struct {
	Transactions []ParsedTransaction
	Errors       []ParseError
	TotalRows    int
	ParsedRows   int
	SkippedRows  int
}

// ParserConfig configures the parsers.
type ParserConfig struct {
	Delimiter        rune   // 0 uses a comma
	SkipLines        int    // metadata lines before the header
	DateFormat       string // tried before the built-in layouts
	IsEuropeanFormat bool   // amounts read 1.234,56
	DayFirst         bool   // ambiguous dates read DD/MM/YYYY
	AutoDialect      bool   // let ParseFile pick the two flags above from the data
	FillDown         []string
}

// DefaultConfig returns a parser config with sensible defaults
func DefaultConfig() ParserConfig {
	return ParserConfig{
		DayFirst:    true,
		AutoDialect: true,
		FillDown:    []string{"date"},
	}
}

// Parser parses delimited files whose header names identify the columns.
type Parser struct {
	config ParserConfig
}

func NewParser(config ParserConfig) *Parser {
	return &Parser{config: config}
}

// Parse reads every row of a CSV statement. Rows that cannot be read become
// entries in ParseResult.Errors, fully blank rows are skipped.
func (p *Parser) Parse(reader io.Reader) (*ParseResult, error) {
	result := &ParseResult{
		Transactions: make([]ParsedTransaction, 0, 256),
	}

	br := bufio.NewReader(reader)
	for i := 0; i < p.config.SkipLines; i++ {
		if _, err := br.ReadString('\n'); err != nil {
			if err == io.EOF {
				return result, nil
			}
			return nil, fmt.Errorf("failed to skip metadata lines: %w", err)
		}
	}

	cr := csv.NewReader(br)
	if p.config.Delimiter != 0 {
		cr.Comma = p.config.Delimiter
	}
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	var rows []csvRow
	if err := gocsv.UnmarshalCSV(&headerNormalizer{Reader: cr}, &rows); err != nil {
		if errors.Is(err, gocsv.ErrEmptyCSVFile) {
			return result, nil
		}
		return nil, fmt.Errorf("failed to parse CSV: %w", err)
	}

	result.TotalRows = len(rows)
	for i, row := range rows {
		rowNum := i + p.config.SkipLines + 2 // 1-indexed plus header
		p.collect(result, row.fields(), rowNum)
	}

	return result, nil
}

// collect builds one transaction and records the outcome on result.
func (p *Parser) collect(result *ParseResult, f rawFields, rowNum int) {
	tx, parseErr := p.build(f, rowNum)
	switch {
	case parseErr != nil:
		result.Errors = append(result.Errors, *parseErr)
	case tx == nil:
		result.SkippedRows++
	default:
		result.Transactions = append(result.Transactions, *tx)
		result.ParsedRows++
	}
}

// build validates the identity fields of a row and normalizes its values.
// A missing or unreadable date, description or amount is an error, never a
// default.
func (p *Parser) build(f rawFields, rowNum int) (*ParsedTransaction, *ParseError) {
	if f.blank() {
		return nil, nil
	}

	if f.date == "" {
		return nil, &ParseError{Row: rowNum, Column: "date", Message: "missing date"}
	}
	date, err := p.parseDate(f.date)
	if err != nil {
		return nil, &ParseError{
			Row:     rowNum,
			Column:  "date",
			Message: fmt.Sprintf("invalid date: %s", err.Error()),
			RawData: f.date,
		}
	}

	desc := cleanDescription(f.description)
	if desc == "" {
		return nil, &ParseError{Row: rowNum, Column: "description", Message: "missing description"}
	}

	amount, parseErr := p.amountOf(f, rowNum)
	if parseErr != nil {
		return nil, parseErr
	}

	tx := &ParsedTransaction{
		Date:           date,
		Description:    desc,
		Subdescription: cleanDescription(f.subdescription),
		Amount:         amount,
		Category:       strings.TrimSpace(f.category),
		RawRow:         rowNum,
	}

	if f.balance != "" {
		balance, err := money.ParseAmount(f.balance, p.config.IsEuropeanFormat)
		if err != nil {
			return nil, &ParseError{
				Row:     rowNum,
				Column:  "balance",
				Message: fmt.Sprintf("invalid balance: %s", err.Error()),
				RawData: f.balance,
			}
		}
		tx.Balance = decimal.NewNullDecimal(balance)
	}

	return tx, nil
}

// amountOf reads the single amount column, or the debit / credit pair when
// the statement is double-entry. Debits are money out.
func (p *Parser) amountOf(f rawFields, rowNum int) (decimal.Decimal, *ParseError) {
	column, raw := "amount", f.amount
	sign := 0
	switch {
	case f.amount != "":
	case f.debit != "" && !isZeroAmount(f.debit):
		column, raw, sign = "debit", f.debit, -1
	case f.credit != "":
		column, raw, sign = "credit", f.credit, 1
	case f.debit != "":
		column, raw, sign = "debit", f.debit, -1
	default:
		return decimal.Zero, &ParseError{Row: rowNum, Column: "amount", Message: "no amount found"}
	}

	amount, err := money.ParseAmount(raw, p.config.IsEuropeanFormat)
	if err != nil {
		return decimal.Zero, &ParseError{
			Row:     rowNum,
			Column:  column,
			Message: fmt.Sprintf("invalid amount: %s", err.Error()),
			RawData: raw,
		}
	}

	switch sign {
	case -1:
		amount = amount.Abs().Neg()
	case 1:
		amount = amount.Abs()
	}
	return amount, nil
}

func isZeroAmount(s string) bool {
	d, err := money.ParseAmount(s, false)
	return err == nil && d.IsZero()
}

// parseDate parses a date string using flexible format detection. The
// result is a calendar date at midnight UTC.
func (p *Parser) parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}

	layouts := make([]string, 0, 16)
	if p.config.DateFormat != "" {
		layouts = append(layouts, p.config.DateFormat)
	}
	layouts = append(layouts,
		"2006-01-02",
		"2006/01/02",
		"2006-01-02T15:04:05Z07:00",
		"2006-01-02 15:04:05",
	)
	dayFirst := []string{"02/01/2006", "02-01-2006", "02.01.2006", "02/01/2006 15:04", "2/1/2006"}
	monthFirst := []string{"01/02/2006", "01-02-2006", "01/02/2006 15:04", "1/2/2006"}
	if p.config.DayFirst {
		layouts = append(append(layouts, dayFirst...), monthFirst...)
	} else {
		layouts = append(append(layouts, monthFirst...), dayFirst...)
	}

	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized format: %s", s)
}

// headerNormalizer lower-cases the header record so header matching does not
// depend on the bank's capitalization.
type headerNormalizer struct {
	*csv.Reader
	done bool
}

func (h *headerNormalizer) Read() ([]string, error) {
	record, err := h.Reader.Read()
	if err != nil || h.done {
		return record, err
	}
	h.done = true
	for i, name := range record {
		if i == 0 {
			name = strings.TrimPrefix(name, "\uFEFF")
		}
		record[i] = strings.ToLower(strings.TrimSpace(name))
	}
	return record, nil
}

func (h *headerNormalizer) ReadAll() ([][]string, error) {
	var records [][]string
	for {
		record, err := h.Read()
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
}

// coalesce returns the first non-empty string
func coalesce(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// cleanDescription trims and collapses runs of whitespace.
func cleanDescription(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
