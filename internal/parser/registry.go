package parser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/iyulab/log-coroner/internal/model"
)

// UnknownType is reported by DetectType when no parser claims a file.
const UnknownType = "Unknown"

// Registry holds parsers ordered by descending priority, ties in registration order.
// It is built once and only read afterwards, so concurrent Dispatch calls are safe.
type Registry struct {
	parsers   []Parser
	logger    *slog.Logger
	onFailure func(parserType string, err error)
}

// NewRegistry creates a Registry from parsers.
func NewRegistry(logger *slog.Logger, parsers ...Parser) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	ordered := make([]Parser, len(parsers))
	copy(ordered, parsers)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority() > ordered[j].Priority()
	})
	return &Registry{parsers: ordered, logger: logger.With("component", "registry")}
}

// WithFailureHook returns a copy of r that calls fn for every parser that fails on a
// claimed file.
func (r *Registry) WithFailureHook(fn func(parserType string, err error)) *Registry {
	out := *r
	out.onFailure = fn
	return &out
}

// Builtin returns every built-in parser.
func Builtin(opts Options) []Parser {
	return []Parser{
		NewWindowsEventParser(opts),
		NewPcapParser(opts),
		NewUnixSessionParser(opts),
		NewWebAccessParser(opts),
		NewFirewallParser(opts),
		NewDNSParser(opts),
		NewMailParser(opts),
		NewDatabaseParser(opts),
		NewSyslogParser(opts),
		NewCSVParser(opts),
		NewJSONLinesParser(opts),
		NewTextParser(opts),
	}
}

// Default builds a registry of the built-in parsers. Parsers whose type tag maps to false
// in enabled are left out; a nil map enables everything.
func Default(logger *slog.Logger, opts Options, enabled map[string]bool) *Registry {
	var selected []Parser
	for _, p := range Builtin(opts) {
		if on, ok := enabled[p.Type()]; ok && !on {
			continue
		}
		selected = append(selected, p)
	}
	return NewRegistry(logger, selected...)
}

// Types lists the registered type tags in dispatch order.
func (r *Registry) Types() []string {
	out := make([]string, len(r.parsers))
	for i, p := range r.parsers {
		out[i] = p.Type()
	}
	return out
}

// DetectType returns the type tag of the first parser that claims f, or UnknownType.
func (r *Registry) DetectType(f *File) string {
	for _, p := range r.parsers {
		if p.CanParse(f) {
			return p.Type()
		}
	}
	return UnknownType
}

// Dispatch parses f with the first claiming parser that succeeds. A parser failure is
// logged and the next claimant is tried; if none claims f or all fail, the error wraps
// ErrUnsupportedFileType together with the individual parse errors.
func (r *Registry) Dispatch(ctx context.Context, f *File) (*model.TechnicalFindings, error) {
	var parseErrs []error
	for _, p := range r.parsers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !p.CanParse(f) {
			continue
		}
		findings, err := p.Parse(ctx, f)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			r.logger.Warn("parser failed, trying next",
				"parser", p.Type(), "file", f.Name, "error", err)
			if r.onFailure != nil {
				r.onFailure(p.Type(), err)
			}
			parseErrs = append(parseErrs, err)
			continue
		}
		if findings.ParserType == "" {
			findings.ParserType = p.Type()
		}
		r.logger.Debug("parsed",
			"parser", p.Type(), "file", f.Name,
			"events", len(findings.SecurityEvents), "iocs", len(findings.IOCs))
		return findings, nil
	}
	if len(parseErrs) == 0 {
		return nil, fmt.Errorf("%s: %w", f.Name, ErrUnsupportedFileType)
	}
	return nil, fmt.Errorf("%s: %w", f.Name, errors.Join(append([]error{ErrUnsupportedFileType}, parseErrs...)...))
}
