package parser

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/iyulab/log-coroner/internal/model"
)

// CSVParser handles delimited exports with a header row. Each row is keyed by the header.
type CSVParser struct {
	base
}

// NewCSVParser creates a CSVParser.
func NewCSVParser(opts Options) *CSVParser {
	return &CSVParser{base: newBase("CSV Log", 30, opts)}
}

func (p *CSVParser) CanParse(f *File) bool {
	return hasExt(f, ".csv", ".tsv")
}

func (p *CSVParser) Parse(ctx context.Context, f *File) (*model.TechnicalFindings, error) {
	fnd, err := p.newFindings(f)
	if err != nil {
		return nil, newParseError(p.typ, f, err)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, newParseError(p.typ, f, err)
	}
	defer rc.Close()

	r := csv.NewReader(rc)
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	if f.Ext() == ".tsv" {
		r.Comma = '\t'
	}

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return fnd, nil
	}
	if err != nil {
		return nil, newParseError(p.typ, f, fmt.Errorf("header: %w", err))
	}
	for i, h := range header {
		header[i] = strings.ToLower(strings.TrimSpace(h))
	}

	rows, malformed := 0, 0
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			malformed++
			continue
		}
		if err != nil {
			return nil, newParseError(p.typ, f, err)
		}
		rows++
		if rows%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, newParseError(p.typ, f, err)
			}
		}

		attrs := make(map[string]string, len(header))
		for i, cell := range record {
			key := fmt.Sprintf("column_%d", i+1)
			if i < len(header) && header[i] != "" {
				key = header[i]
			}
			attrs[key] = strings.TrimSpace(cell)
		}
		fnd.AddIOCs(p.iocs.Extract(strings.Join(record, " ")))
		if ev, ok := p.recordEvent(attrs); ok {
			fnd.AddEvent(ev)
		}
	}

	fnd.TotalLines = rows
	fnd.RawData["columns"] = header
	fnd.RawData["rows"] = rows
	if malformed > 0 {
		fnd.RawData["malformed_rows"] = malformed
	}
	return fnd, nil
}
