package parser

import (
	"context"
	"strconv"

	"github.com/iyulab/log-coroner/internal/model"
)

// TextParser is the generic fallback for plain-text logs: every line containing a
// security keyword becomes an event.
type TextParser struct {
	base
}

// NewTextParser creates a TextParser.
func NewTextParser(opts Options) *TextParser {
	return &TextParser{base: newBase("Text Log", 10, opts)}
}

func (p *TextParser) CanParse(f *File) bool {
	if hasExt(f, ".log", ".txt", ".out", ".text") {
		return f.HeadErr() == nil && (len(f.Head()) == 0 || f.IsText())
	}
	return f.IsText()
}

func (p *TextParser) Parse(ctx context.Context, f *File) (*model.TechnicalFindings, error) {
	keywordHits := make(map[string]int)
	fnd, err := p.scanLines(ctx, f, func(fnd *model.TechnicalFindings, lineNo int, line string) {
		kws := MatchedKeywords(line)
		if len(kws) == 0 {
			return
		}
		for _, kw := range kws {
			keywordHits[kw]++
		}
		attrs := map[string]string{"line": strconv.Itoa(lineNo)}
		if ip := p.iocs.FirstIP(line); ip != "" {
			attrs["ip"] = ip
		}
		fnd.AddEvent(p.event(p.timestamp(line), ClassifyEventType(line), line, SeverityFromText(line), attrs))
	})
	if err != nil {
		return nil, err
	}
	fnd.RawData["keyword_hits"] = keywordHits
	return fnd, nil
}
