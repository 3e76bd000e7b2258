// Package store keeps analysis history in a local SQLite database.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite"

	"github.com/iyulab/log-coroner/internal/insight"
	"github.com/iyulab/log-coroner/internal/model"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// timeLayout is fixed-width so created_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// ErrNotFound is returned by Get for an unknown id.
var ErrNotFound = errors.New("analysis result not found")

// Summary is one row of the history listing.
type Summary struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	FileNames  []string  `json:"file_names"`
	Severity   int       `json:"severity"`
	RiskLevel  string    `json:"risk_level"`
	EventCount int       `json:"event_count"`
	IOCCount   int       `json:"ioc_count"`
}

// Store persists AnalysisResult values. Results are stored as zstd-compressed JSON next
// to the columns the listing needs.
type Store struct {
	db  *sql.DB
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// Open opens (creating if needed) the database at path and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if path != MemoryPath {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create store directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: keeps an in-memory database alive and avoids "database is locked".
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, enc: enc, dec: dec}, nil
}

// migrate runs the embedded migrations in file name order.
func migrate(ctx context.Context, db *sql.DB) error {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read embedded migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		raw, err := migrationFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := db.ExecContext(ctx, string(raw)); err != nil {
			return fmt.Errorf("exec migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// Close releases the database.
func (s *Store) Close() error {
	s.dec.Close()
	s.enc.Close()
	return s.db.Close()
}

// Save stores res, replacing any earlier result with the same id.
func (s *Store) Save(ctx context.Context, res *model.AnalysisResult) error {
	if res == nil || res.ID == "" {
		return errors.New("store: result has no id")
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	names, err := json.Marshal(res.FileNames)
	if err != nil {
		return fmt.Errorf("encode file names: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO analysis_results
			(id, created_at, file_names, severity, risk_level, event_count, ioc_count, result_zst)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		res.ID,
		res.Timestamp.UTC().Format(timeLayout),
		string(names),
		res.SeverityScore(),
		insight.ResultRiskLevel(res),
		len(res.Findings.SecurityEvents),
		len(res.Findings.IOCs),
		s.enc.EncodeAll(raw, nil),
	)
	if err != nil {
		return fmt.Errorf("insert result %s: %w", res.ID, err)
	}
	return nil
}

// Get loads the full result stored under id.
func (s *Store) Get(ctx context.Context, id string) (*model.AnalysisResult, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT result_zst FROM analysis_results WHERE id = ?`, id).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query result %s: %w", id, err)
	}

	raw, err := s.dec.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress result %s: %w", id, err)
	}
	var out model.AnalysisResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode result %s: %w", id, err)
	}
	return &out, nil
}

// List returns summaries, newest first. limit is clamped to [1, 500] with 50 as default.
func (s *Store) List(ctx context.Context, limit, offset int) ([]Summary, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, file_names, severity, risk_level, event_count, ioc_count
		FROM analysis_results
		ORDER BY created_at DESC, id
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		var item Summary
		var created, names string
		if err := rows.Scan(&item.ID, &created, &names, &item.Severity, &item.RiskLevel,
			&item.EventCount, &item.IOCCount); err != nil {
			return nil, fmt.Errorf("scan result row: %w", err)
		}
		if item.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
			return nil, fmt.Errorf("result %s: bad created_at %q", item.ID, created)
		}
		if err := json.Unmarshal([]byte(names), &item.FileNames); err != nil {
			return nil, fmt.Errorf("result %s: bad file names: %w", item.ID, err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return out, nil
}
