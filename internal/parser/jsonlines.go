package parser

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/iyulab/log-coroner/internal/model"
)

// JSONLinesParser handles newline-delimited JSON objects and top-level arrays of objects.
// Nested objects are flattened to dotted keys.
type JSONLinesParser struct {
	base
}

// NewJSONLinesParser creates a JSONLinesParser.
func NewJSONLinesParser(opts Options) *JSONLinesParser {
	return &JSONLinesParser{base: newBase("JSON Log", 25, opts)}
}

func (p *JSONLinesParser) CanParse(f *File) bool {
	if hasExt(f, ".json", ".jsonl", ".ndjson") {
		return true
	}
	head := bytes.TrimSpace(f.Head())
	return len(head) > 0 && head[0] == '{' && headMatches(f, 2, func(l string) bool {
		return strings.HasPrefix(l, "{") && strings.HasSuffix(l, "}")
	})
}

func (p *JSONLinesParser) Parse(ctx context.Context, f *File) (*model.TechnicalFindings, error) {
	fnd, err := p.newFindings(f)
	if err != nil {
		return nil, newParseError(p.typ, f, err)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, newParseError(p.typ, f, err)
	}
	defer rc.Close()

	br := bufio.NewReaderSize(rc, 64*1024)
	first, err := peekNonSpace(br)
	if errors.Is(err, io.EOF) {
		return fnd, nil
	}
	if err != nil {
		return nil, newParseError(p.typ, f, err)
	}

	records, malformed := 0, 0
	handle := func(obj map[string]any) error {
		records++
		if records%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		attrs := make(map[string]string)
		flatten("", obj, attrs)
		fnd.AddIOCs(p.iocs.Extract(recordText(attrs)))
		if ev, ok := p.recordEvent(attrs); ok {
			fnd.AddEvent(ev)
		}
		return nil
	}

	if first == '[' {
		err = p.decodeArray(br, handle, &malformed)
	} else {
		err = p.decodeLines(br, handle, &malformed)
	}
	if err != nil {
		return nil, newParseError(p.typ, f, err)
	}

	fnd.TotalLines = records
	fnd.RawData["records"] = records
	if malformed > 0 {
		fnd.RawData["malformed_records"] = malformed
	}
	return fnd, nil
}

func (p *JSONLinesParser) decodeLines(r io.Reader, handle func(map[string]any) error, malformed *int) error {
	lr := newLineReader(r)
	for lr.Next() {
		line := bytes.TrimSpace(lr.Bytes())
		if len(line) == 0 {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal(line, &obj); err != nil {
			*malformed++
			continue
		}
		if err := handle(obj); err != nil {
			return err
		}
	}
	if err := lr.Err(); err != nil {
		return fmt.Errorf("read: %w", err)
	}
	return nil
}

func (p *JSONLinesParser) decodeArray(r io.Reader, handle func(map[string]any) error, malformed *int) error {
	dec := json.NewDecoder(r)
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("array start: %w", err)
	}
	for dec.More() {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			// A truncated array still yields the records decoded so far.
			*malformed++
			return nil
		}
		var obj map[string]any
		if err := json.Unmarshal(raw, &obj); err != nil {
			*malformed++
			continue
		}
		if err := handle(obj); err != nil {
			return err
		}
	}
	return nil
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}

// flatten writes nested JSON values into out as dotted string keys.
func flatten(prefix string, v any, out map[string]string) {
	switch val := v.(type) {
	case map[string]any:
		for k, child := range val {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			flatten(key, child, out)
		}
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			switch item.(type) {
			case map[string]any, []any:
				b, _ := json.Marshal(item)
				parts = append(parts, string(b))
			default:
				parts = append(parts, scalarString(item))
			}
		}
		out[prefix] = strings.Join(parts, ",")
	default:
		out[prefix] = scalarString(val)
	}
}

func scalarString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}
