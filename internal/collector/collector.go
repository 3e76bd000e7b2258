// Package collector expands command-line inputs (files, directories, glob patterns)
// into the list of evidence files handed to the analysis pipeline.
package collector

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// SkipKind classifies why a candidate file was left out.
type SkipKind int

const (
	SkipHidden     SkipKind = iota // dot-file or file under a dot-directory
	SkipTooLarge                   // larger than Options.MaxSize
	SkipNotRegular                 // device, socket, pipe or symlink to one
	SkipNoMatch                    // glob pattern matched nothing
	SkipUnreadable                 // walk or stat error
)

// String returns a short human-readable label for the skip kind.
func (k SkipKind) String() string {
	switch k {
	case SkipHidden:
		return "hidden"
	case SkipTooLarge:
		return "too_large"
	case SkipNotRegular:
		return "not_regular"
	case SkipNoMatch:
		return "no_match"
	default:
		return "unreadable"
	}
}

// Skipped records a candidate that was not collected.
type Skipped struct {
	Path   string
	Kind   SkipKind
	Detail string
}

// Options controls directory expansion.
type Options struct {
	// Recursive descends into subdirectories. Otherwise only the directory's own files are taken.
	Recursive bool
	// IncludeHidden keeps dot-files found while walking. Explicitly named files are always kept.
	IncludeHidden bool
	// MaxSize drops walked files larger than this many bytes. 0 means no limit.
	MaxSize int64
}

// Collection is the outcome of Collect.
type Collection struct {
	Files   []string
	Skipped []Skipped
}

// ErrNoEvidence is returned when the inputs yield no files at all.
var ErrNoEvidence = errors.New("no evidence files found")

// Collect expands inputs in order. Directory contents come out in lexical order and
// every path appears at most once. A plain path that does not exist is passed through
// so that the pipeline reports it with the rest of the batch.
func Collect(inputs []string, opts Options) (*Collection, error) {
	c := &Collection{}
	seen := make(map[string]bool)
	add := func(path string) {
		key := path
		if abs, err := filepath.Abs(path); err == nil {
			key = abs
		}
		if seen[key] {
			return
		}
		seen[key] = true
		c.Files = append(c.Files, path)
	}

	for _, input := range inputs {
		if hasMeta(input) {
			matches, err := filepath.Glob(input)
			if err != nil {
				return nil, fmt.Errorf("bad pattern %q: %w", input, err)
			}
			if len(matches) == 0 {
				c.Skipped = append(c.Skipped, Skipped{Path: input, Kind: SkipNoMatch})
				continue
			}
			for _, m := range matches {
				c.collectPath(m, opts, add)
			}
			continue
		}
		c.collectPath(input, opts, add)
	}

	if len(c.Files) == 0 {
		return c, ErrNoEvidence
	}
	return c, nil
}

func (c *Collection) collectPath(path string, opts Options, add func(string)) {
	info, err := os.Stat(path)
	if err != nil {
		// Missing files are reported by the pipeline.
		add(path)
		return
	}
	if !info.IsDir() {
		if !info.Mode().IsRegular() {
			c.Skipped = append(c.Skipped, Skipped{Path: path, Kind: SkipNotRegular})
			return
		}
		add(path)
		return
	}
	c.walk(path, opts, add)
}

func (c *Collection) walk(root string, opts Options, add func(string)) {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			c.Skipped = append(c.Skipped, Skipped{Path: path, Kind: SkipUnreadable, Detail: err.Error()})
			if d != nil && d.IsDir() && path != root {
				return fs.SkipDir
			}
			return nil
		}
		if path == root {
			return nil
		}
		if !opts.IncludeHidden && strings.HasPrefix(d.Name(), ".") {
			c.Skipped = append(c.Skipped, Skipped{Path: path, Kind: SkipHidden})
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if !opts.Recursive {
				return fs.SkipDir
			}
			return nil
		}

		info, err := os.Stat(path)
		if err != nil {
			c.Skipped = append(c.Skipped, Skipped{Path: path, Kind: SkipUnreadable, Detail: err.Error()})
			return nil
		}
		if !info.Mode().IsRegular() {
			c.Skipped = append(c.Skipped, Skipped{Path: path, Kind: SkipNotRegular})
			return nil
		}
		if opts.MaxSize > 0 && info.Size() > opts.MaxSize {
			c.Skipped = append(c.Skipped, Skipped{
				Path:   path,
				Kind:   SkipTooLarge,
				Detail: fmt.Sprintf("%d bytes", info.Size()),
			})
			return nil
		}
		add(path)
		return nil
	})
	if err != nil {
		c.Skipped = append(c.Skipped, Skipped{Path: root, Kind: SkipUnreadable, Detail: err.Error()})
	}
}

func hasMeta(path string) bool {
	return strings.ContainsAny(path, `*?[`)
}
