package reporter

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/flate"

	"github.com/iyulab/log-coroner/internal/model"
)

// EvidencePackage represents the metadata for a forensic evidence package.
type EvidencePackage struct {
	Version     string        `json:"version"`
	AnalysisID  string        `json:"analysis_id"`
	CreatedAt   time.Time     `json:"created_at"`
	ToolVersion string        `json:"tool_version"`
	Files       []PackageFile `json:"files"`
}

// PackageFile records a file included in the evidence package.
type PackageFile struct {
	Name   string `json:"name"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

// ExportEvidence writes a ZIP archive for forensic handoff to zipPath. The archive holds
// the analysis result (result.json and summary.txt), a copy of every evidence file
// under evidence/, and package_info.json with the SHA-256 of each entry.
func (r *Reporter) ExportEvidence(zipPath string, res *model.AnalysisResult, evidence []string, toolVersion string) error {
	if err := os.MkdirAll(filepath.Dir(zipPath), 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	zipFile, err := os.Create(zipPath)
	if err != nil {
		return fmt.Errorf("create zip: %w", err)
	}
	defer zipFile.Close()

	w := zip.NewWriter(zipFile)
	defer w.Close()
	w.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestSpeed)
	})

	var files []PackageFile
	add := func(name string, src io.Reader) error {
		zf, err := w.Create(name)
		if err != nil {
			return fmt.Errorf("zip create %s: %w", name, err)
		}
		h := sha256.New()
		n, err := io.Copy(io.MultiWriter(zf, h), src)
		if err != nil {
			return fmt.Errorf("zip write %s: %w", name, err)
		}
		files = append(files, PackageFile{Name: name, SHA256: hex.EncodeToString(h.Sum(nil)), Size: n})
		return nil
	}

	resultJSON, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := add("result.json", bytes.NewReader(resultJSON)); err != nil {
		return err
	}
	var summary bytes.Buffer
	if err := r.Write(&summary, res, FormatText); err != nil {
		return err
	}
	if err := add("summary.txt", &summary); err != nil {
		return err
	}

	used := make(map[string]int)
	for _, path := range evidence {
		name := filepath.Base(path)
		if used[name] > 0 {
			name = fmt.Sprintf("%d_%s", used[name], name)
		}
		used[filepath.Base(path)]++

		src, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open evidence: %w", err)
		}
		err = add("evidence/"+name, src)
		src.Close()
		if err != nil {
			return err
		}
	}

	pkg := EvidencePackage{
		Version:     "1.0",
		AnalysisID:  res.ID,
		CreatedAt:   time.Now().UTC(),
		ToolVersion: toolVersion,
		Files:       files,
	}
	pkgJSON, err := json.MarshalIndent(pkg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal package info: %w", err)
	}
	zf, err := w.Create("package_info.json")
	if err != nil {
		return fmt.Errorf("zip create package_info: %w", err)
	}
	if _, err := zf.Write(pkgJSON); err != nil {
		return fmt.Errorf("zip write package_info: %w", err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("close zip writer: %w", err)
	}
	if err := zipFile.Close(); err != nil {
		return fmt.Errorf("close zip file: %w", err)
	}
	return nil
}
