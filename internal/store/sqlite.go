package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/litgrid/paperminer/internal/budget"
	"github.com/litgrid/paperminer/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS extractions (
	run_id      TEXT PRIMARY KEY,
	paper_id    TEXT NOT NULL,
	provider    TEXT NOT NULL,
	model       TEXT NOT NULL,
	fallback    INTEGER NOT NULL DEFAULT 0,
	results     TEXT NOT NULL,
	tokens_used INTEGER NOT NULL,
	cost_usd    REAL NOT NULL,
	created_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS usage_snapshots (
	id         TEXT PRIMARY KEY,
	summary    TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS dlq (
	id             TEXT PRIMARY KEY,
	paper_id       TEXT NOT NULL,
	paper_path     TEXT,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL,
	retry_count    INTEGER NOT NULL DEFAULT 0,
	created_at     DATETIME NOT NULL,
	last_failed_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_extractions_paper_id ON extractions(paper_id);
CREATE INDEX IF NOT EXISTS idx_extractions_provider ON extractions(provider);
CREATE INDEX IF NOT EXISTS idx_usage_snapshots_created_at ON usage_snapshots(created_at);
CREATE INDEX IF NOT EXISTS idx_dlq_paper_id ON dlq(paper_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveExtraction(ctx context.Context, ex *model.PaperExtraction) error {
	resultsJSON, err := json.Marshal(ex.Results)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal results")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO extractions (run_id, paper_id, provider, model, fallback, results, tokens_used, cost_usd, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ex.RunID, ex.PaperID, ex.Provider, ex.Model, boolToInt(ex.Fallback),
		string(resultsJSON), ex.TokensUsed, ex.CostUSD, ex.Timestamp,
	)
	return eris.Wrapf(err, "sqlite: insert extraction %s", ex.RunID)
}

func (s *SQLiteStore) GetExtraction(ctx context.Context, runID string) (*model.PaperExtraction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, paper_id, provider, model, fallback, results, tokens_used, cost_usd, created_at
		 FROM extractions WHERE run_id = ?`,
		runID,
	)
	return scanExtraction(row)
}

func (s *SQLiteStore) ListExtractions(ctx context.Context, filter ExtractionFilter) ([]model.PaperExtraction, error) {
	query := `SELECT run_id, paper_id, provider, model, fallback, results, tokens_used, cost_usd, created_at
	          FROM extractions WHERE 1=1`
	var args []any

	if filter.PaperID != "" {
		query += ` AND paper_id = ?`
		args = append(args, filter.PaperID)
	}
	if filter.Provider != "" {
		query += ` AND provider = ?`
		args = append(args, filter.Provider)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list extractions")
	}
	defer rows.Close()

	var out []model.PaperExtraction
	for rows.Next() {
		ex, err := scanExtraction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ex)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list extractions iterate")
}

func (s *SQLiteStore) SaveUsageSnapshot(ctx context.Context, summary budget.Summary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal summary")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO usage_snapshots (id, summary, created_at) VALUES (?, ?, ?)`,
		uuid.NewString(), string(summaryJSON), time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: insert usage snapshot")
}

func (s *SQLiteStore) LatestUsageSnapshot(ctx context.Context) (*budget.Summary, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT summary FROM usage_snapshots ORDER BY created_at DESC LIMIT 1`,
	)

	var summaryJSON string
	err := row.Scan(&summaryJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest usage snapshot")
	}

	var summary budget.Summary
	if err := json.Unmarshal([]byte(summaryJSON), &summary); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal summary")
	}
	return &summary, nil
}

func (s *SQLiteStore) AddDLQ(ctx context.Context, entry DLQEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dlq (id, paper_id, paper_path, error, error_type, retry_count, created_at, last_failed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.PaperID, entry.PaperPath, entry.Error, entry.ErrorType,
		entry.RetryCount, entry.CreatedAt, entry.LastFailedAt,
	)
	return eris.Wrapf(err, "sqlite: insert dlq entry for paper %s", entry.PaperID)
}

func (s *SQLiteStore) ListDLQ(ctx context.Context, limit int) ([]DLQEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, paper_id, paper_path, error, error_type, retry_count, created_at, last_failed_at
		 FROM dlq ORDER BY last_failed_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list dlq")
	}
	defer rows.Close()

	var out []DLQEntry
	for rows.Next() {
		var e DLQEntry
		var path sql.NullString
		if err := rows.Scan(&e.ID, &e.PaperID, &path, &e.Error, &e.ErrorType, &e.RetryCount, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dlq entry")
		}
		e.PaperPath = path.String
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list dlq iterate")
}

func (s *SQLiteStore) CountDLQ(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dlq`).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count dlq")
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanExtraction(row scannable) (*model.PaperExtraction, error) {
	var ex model.PaperExtraction
	var fallback int
	var resultsJSON string

	err := row.Scan(&ex.RunID, &ex.PaperID, &ex.Provider, &ex.Model, &fallback,
		&resultsJSON, &ex.TokensUsed, &ex.CostUSD, &ex.Timestamp)
	if err == sql.ErrNoRows {
		return nil, eris.New("extraction not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan extraction")
	}

	ex.Fallback = fallback != 0
	if err := json.Unmarshal([]byte(resultsJSON), &ex.Results); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal results")
	}
	return &ex, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
