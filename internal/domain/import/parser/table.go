package parser

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/FACorreiaa/spending-ledger/internal/domain/import/sniffer"
)

// TableParser parses pipe-delimited text tables such as
//
//	| Date       | Description | Amount |
//	|------------|-------------|--------|
//	| 2024-01-05 | Coffee      | -3.50  |
//	|            | Bakery      | -2.10  |
//
// Columns without a header name are dropped, separator rows are skipped and
// the ParserConfig.FillDown columns inherit the value above when empty.
type TableParser struct {
	config ParserConfig
}

func NewTableParser(config ParserConfig) *TableParser {
	return &TableParser{config: config}
}

func (p *TableParser) Parse(reader io.Reader) (*ParseResult, error) {
	result := &ParseResult{
		Transactions: make([]ParsedTransaction, 0, 64),
	}

	cr := csv.NewReader(reader)
	cr.Comma = '|'
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1

	var (
		keep    []int
		headers []string
		cols    *sniffer.ColumnSuggestions
		fill    map[int]bool
		last    map[int]string
	)
	csvParser := NewParser(p.config)

	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			row := 0
			if errors.As(err, &perr) {
				row = perr.Line
			}
			result.Errors = append(result.Errors, ParseError{Row: row, Message: err.Error()})
			continue
		}
		line, _ := cr.FieldPos(0)

		if cols == nil {
			for i, name := range record {
				if name = strings.TrimSpace(name); name != "" {
					keep = append(keep, i)
					headers = append(headers, name)
				}
			}
			if len(keep) == 0 {
				return nil, fmt.Errorf("table has no named columns")
			}
			cols = sniffer.SuggestColumns(headers)
			fill = fillColumns(headers, p.config.FillDown)
			last = make(map[int]string, len(fill))
			continue
		}

		cells := make([]string, len(keep))
		for j, i := range keep {
			if i < len(record) {
				cells[j] = strings.TrimSpace(record[i])
			}
		}
		if strings.Contains(cells[0], "--") {
			continue
		}

		result.TotalRows++
		if strings.Join(cells, "") == "" {
			result.SkippedRows++
			continue
		}

		for j := range cells {
			if !fill[j] {
				continue
			}
			if cells[j] == "" {
				cells[j] = last[j]
			} else {
				last[j] = cells[j]
			}
		}

		csvParser.collect(result, fieldsAt(cells, cols), line)
	}

	if cols == nil {
		return nil, fmt.Errorf("table has no header row")
	}
	return result, nil
}

// fillColumns resolves FillDown names against the table headers. A name
// matches a header case-insensitively.
func fillColumns(headers, names []string) map[int]bool {
	fill := make(map[int]bool)
	for _, name := range names {
		for j, h := range headers {
			if strings.EqualFold(h, name) {
				fill[j] = true
			}
		}
	}
	return fill
}
