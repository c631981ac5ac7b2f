package parser

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/FACorreiaa/spending-ledger/internal/domain/import/sniffer"
)

// ExcelParser parses XLSX statements.
type ExcelParser struct {
	config ParserConfig
}

func NewExcelParser(config ParserConfig) *ExcelParser {
	return &ExcelParser{config: config}
}

// preferredSheets are tried in order before falling back to the first sheet.
var preferredSheets = []string{"transactions", "movimentos", "extrato", "statement", "data", "sheet1"}

// ParseExcel reads the transaction sheet row by row.
func (p *ExcelParser) ParseExcel(reader io.Reader) (*ParseResult, error) {
	result := &ParseResult{
		Transactions: make([]ParsedTransaction, 0, 256),
	}

	f, err := excelize.OpenReader(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	sheet := findTransactionSheet(f.GetSheetList())
	if sheet == "" {
		return nil, fmt.Errorf("no suitable sheet found")
	}

	rows, err := f.Rows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
	}
	defer rows.Close()

	csvParser := NewParser(p.config)
	var cols *sniffer.ColumnSuggestions
	rowNum := 0

	for rows.Next() {
		rowNum++
		if rowNum <= p.config.SkipLines {
			continue
		}

		row, err := rows.Columns()
		if err != nil {
			result.Errors = append(result.Errors, ParseError{Row: rowNum, Message: err.Error()})
			continue
		}

		if cols == nil {
			cols = sniffer.SuggestColumns(row)
			continue
		}

		result.TotalRows++
		fields := fieldsAt(row, cols)
		fields.date = excelDate(fields.date)
		csvParser.collect(result, fields, rowNum)
	}

	if err := rows.Error(); err != nil {
		return nil, fmt.Errorf("failed to iterate sheet %s: %w", sheet, err)
	}
	return result, nil
}

func findTransactionSheet(sheets []string) string {
	if len(sheets) == 0 {
		return ""
	}
	for _, preferred := range preferredSheets {
		for _, sheet := range sheets {
			if strings.EqualFold(sheet, preferred) {
				return sheet
			}
		}
	}
	return sheets[0]
}

// fieldsAt picks the matched columns out of a record.
func fieldsAt(record []string, cols *sniffer.ColumnSuggestions) rawFields {
	get := func(idx int) string {
		if idx < 0 || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	f := rawFields{
		date:           get(cols.DateCol),
		description:    get(cols.DescCol),
		subdescription: get(cols.SubdescCol),
		debit:          get(cols.DebitCol),
		credit:         get(cols.CreditCol),
		balance:        get(cols.BalanceCol),
		category:       get(cols.CategoryCol),
	}
	if cols.AmountCol >= 0 {
		f.amount = get(cols.AmountCol)
	}
	return f
}

// excelDate converts a serial day number left unformatted by the workbook
// into an ISO date. Other values pass through.
func excelDate(v string) string {
	serial, err := strconv.ParseFloat(v, 64)
	if err != nil || serial < 1 {
		return v
	}
	t, err := excelize.ExcelDateToTime(serial, false)
	if err != nil {
		return v
	}
	return t.Format(time.DateOnly)
}
