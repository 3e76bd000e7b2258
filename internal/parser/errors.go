package parser

import (
	"errors"
	"fmt"
)

// ErrUnsupportedFileType is returned when no parser claims a file or every claiming parser failed.
var ErrUnsupportedFileType = errors.New("unsupported file type")

// ParseError reports that a parser failed on a file it claimed.
// The registry recovers from it by trying the next parser.
type ParseError struct {
	Parser string
	File   string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s parser failed on %s: %v", e.Parser, e.File, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func newParseError(parserType string, f *File, err error) *ParseError {
	return &ParseError{Parser: parserType, File: f.Name, Err: err}
}
