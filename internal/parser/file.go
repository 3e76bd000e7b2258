package parser

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/iyulab/log-coroner/internal/model"
)

const (
	// sniffLen is how much decoded content CanParse implementations may inspect.
	sniffLen = 4096
	// MaxLineBytes bounds a single scanned line.
	MaxLineBytes = 1 << 20
)

// File is an evidence file handed to the registry. The source is only ever opened read-only.
type File struct {
	// Path is the location on disk.
	Path string
	// Name is the display name used for extension detection; defaults to the base of Path.
	Name string

	headOnce sync.Once
	head     []byte
	magic    []byte
	headErr  error

	metaOnce sync.Once
	meta     model.FileMetadata
	metaErr  error
}

// NewFile creates a File. nameHint overrides the name used for format detection
// (e.g. an uploaded stream spooled to a temp path).
func NewFile(path, nameHint string) *File {
	name := nameHint
	if name == "" {
		name = filepath.Base(path)
	}
	return &File{Path: path, Name: name}
}

// Compression returns "gzip", "zstd" or "" depending on the file name suffix.
func (f *File) Compression() string {
	lower := strings.ToLower(f.Name)
	switch {
	case strings.HasSuffix(lower, ".gz"):
		return "gzip"
	case strings.HasSuffix(lower, ".zst"), strings.HasSuffix(lower, ".zstd"):
		return "zstd"
	default:
		return ""
	}
}

// BaseName returns the lower-cased name with any compression suffix removed.
func (f *File) BaseName() string {
	lower := strings.ToLower(filepath.Base(f.Name))
	for _, suffix := range []string{".gz", ".zstd", ".zst"} {
		if strings.HasSuffix(lower, suffix) {
			return strings.TrimSuffix(lower, suffix)
		}
	}
	return lower
}

// Ext returns the lower-cased extension (with dot) of the decompressed name.
func (f *File) Ext() string {
	return filepath.Ext(f.BaseName())
}

// OpenRaw opens the decompressed byte stream without any text decoding.
func (f *File) OpenRaw() (io.ReadCloser, error) {
	fh, err := os.Open(f.Path)
	if err != nil {
		return nil, err
	}
	switch f.Compression() {
	case "gzip":
		zr, err := gzip.NewReader(fh)
		if err != nil {
			fh.Close()
			return nil, fmt.Errorf("gzip: %w", err)
		}
		return &stackedCloser{Reader: zr, closers: []io.Closer{zr, fh}}, nil
	case "zstd":
		dec, err := zstd.NewReader(fh)
		if err != nil {
			fh.Close()
			return nil, fmt.Errorf("zstd: %w", err)
		}
		rc := dec.IOReadCloser()
		return &stackedCloser{Reader: rc, closers: []io.Closer{rc, fh}}, nil
	default:
		return fh, nil
	}
}

// Open opens the file as text: decompressed, UTF-8/UTF-16 BOMs honored and stripped.
// Content without a BOM is passed through unchanged.
func (f *File) Open() (io.ReadCloser, error) {
	raw, err := f.OpenRaw()
	if err != nil {
		return nil, err
	}
	decoded := transform.NewReader(raw, unicode.BOMOverride(transform.Nop))
	return &stackedCloser{Reader: decoded, closers: []io.Closer{raw}}, nil
}

// Head returns up to sniffLen bytes of decoded text. Errors yield an empty slice.
func (f *File) Head() []byte {
	f.loadHead()
	return f.head
}

// Magic returns the first bytes of the decompressed stream, for binary format detection.
func (f *File) Magic() []byte {
	f.loadHead()
	return f.magic
}

// HeadErr reports why the head could not be read, if it could not.
func (f *File) HeadErr() error {
	f.loadHead()
	return f.headErr
}

func (f *File) loadHead() {
	f.headOnce.Do(func() {
		raw, err := f.OpenRaw()
		if err != nil {
			f.headErr = err
			return
		}
		magic := make([]byte, 16)
		n, err := io.ReadFull(raw, magic)
		raw.Close()
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
			f.headErr = err
			return
		}
		f.magic = magic[:n]

		rc, err := f.Open()
		if err != nil {
			f.headErr = err
			return
		}
		defer rc.Close()
		buf := make([]byte, sniffLen)
		n, err = io.ReadFull(rc, buf)
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
			f.headErr = err
			return
		}
		f.head = buf[:n]
	})
}

// HeadLines returns the non-empty lines of the sniffed head. The last line is dropped
// when the head was cut mid-line.
func (f *File) HeadLines(max int) []string {
	head := f.Head()
	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(head))
	sc.Buffer(make([]byte, sniffLen), sniffLen+1)
	for sc.Scan() && len(lines) < max {
		line := strings.TrimSpace(sc.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	if len(head) == sniffLen && len(lines) > 1 && !bytes.HasSuffix(head, []byte("\n")) {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// IsText reports whether the sniffed head looks like text (no NUL bytes).
func (f *File) IsText() bool {
	head := f.Head()
	return len(head) > 0 && !bytes.Contains(head, []byte{0})
}

type stackedCloser struct {
	io.Reader
	closers []io.Closer
}

func (s *stackedCloser) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
