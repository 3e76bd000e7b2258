package parser

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"

	"github.com/iyulab/log-coroner/internal/model"
)

// ComputeMetadata hashes the file as stored on disk (before decompression) and records
// its size, timestamps and type tag. The result is kept on f, so the file is read for
// hashing at most once however many parsers or callers ask.
// os.FileInfo exposes no portable birth time, so Created is the modification time.
func ComputeMetadata(f *File) (model.FileMetadata, error) {
	f.metaOnce.Do(func() {
		f.meta, f.metaErr = computeMetadata(f)
	})
	return f.meta, f.metaErr
}

func computeMetadata(f *File) (model.FileMetadata, error) {
	fh, err := os.Open(f.Path)
	if err != nil {
		return model.FileMetadata{}, err
	}
	defer fh.Close()

	info, err := fh.Stat()
	if err != nil {
		return model.FileMetadata{}, fmt.Errorf("stat: %w", err)
	}

	h := sha256.New()
	n, err := io.Copy(h, fh)
	if err != nil {
		return model.FileMetadata{}, fmt.Errorf("hash: %w", err)
	}

	return model.FileMetadata{
		Name:     f.Name,
		Size:     n,
		Created:  info.ModTime().UTC(),
		Modified: info.ModTime().UTC(),
		SHA256:   hex.EncodeToString(h.Sum(nil)),
		MIMEType: detectMIME(f),
	}, nil
}

func detectMIME(f *File) string {
	switch f.Compression() {
	case "gzip":
		return "application/gzip"
	case "zstd":
		return "application/zstd"
	}
	if t := mime.TypeByExtension(f.Ext()); t != "" {
		return t
	}
	if magic := f.Magic(); len(magic) > 0 && !f.IsText() {
		return http.DetectContentType(magic)
	}
	if head := f.Head(); len(head) > 0 {
		return http.DetectContentType(head)
	}
	return "application/octet-stream"
}
