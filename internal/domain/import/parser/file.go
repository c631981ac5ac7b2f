package parser

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/FACorreiaa/spending-ledger/internal/domain/import/sniffer"
)

var ErrUnsupportedFormat = errors.New("unsupported file format")

// Supported reports whether ParseFile accepts a file with this name.
func Supported(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".tsv", ".txt", ".md", ".xlsx", ".xlsm":
		return true
	}
	return false
}

// ParseFile picks a parser from the file extension. Delimited text is
// sniffed first: pipe tables go to the TableParser, everything else to the
// header-matching CSV parser.
func ParseFile(name string, data []byte, config ParserConfig) (*ParseResult, error) {
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".xlsx", ".xlsm":
		return NewExcelParser(config).ParseExcel(bytes.NewReader(data))

	case ".csv", ".tsv", ".txt", ".md":
		detected, err := sniffer.DetectConfig(data)
		if err != nil {
			if errors.Is(err, sniffer.ErrEmptyFile) {
				return &ParseResult{}, nil
			}
			return nil, fmt.Errorf("failed to detect layout of %s: %w", name, err)
		}

		if config.AutoDialect && detected.Dialect != nil {
			config.IsEuropeanFormat = detected.Dialect.IsEuropeanFormat
			config.DayFirst = detected.Dialect.DayFirst
		}

		if detected.Delimiter == '|' {
			return NewTableParser(config).Parse(bytes.NewReader(data))
		}

		if config.Delimiter == 0 {
			config.Delimiter = detected.Delimiter
		}
		config.SkipLines = detected.SkipLines
		return NewParser(config).Parse(bytes.NewReader(data))

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}
