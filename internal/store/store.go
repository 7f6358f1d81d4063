// Package store persists extraction results, usage snapshots, and the
// dead-letter queue of papers that failed every provider.
package store

import (
	"context"
	"time"

	"github.com/litgrid/paperminer/internal/budget"
	"github.com/litgrid/paperminer/internal/model"
)

// ExtractionFilter specifies criteria for listing extraction records.
type ExtractionFilter struct {
	PaperID  string `json:"paper_id,omitempty"`
	Provider string `json:"provider,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Offset   int    `json:"offset,omitempty"`
}

// DLQEntry is a paper whose extraction failed every configured provider.
type DLQEntry struct {
	ID           string    `json:"id"`
	PaperID      string    `json:"paper_id"`
	PaperPath    string    `json:"paper_path,omitempty"`
	Error        string    `json:"error"`
	ErrorType    string    `json:"error_type"` // "provider", "parse", or "all_providers_failed"
	RetryCount   int       `json:"retry_count"`
	CreatedAt    time.Time `json:"created_at"`
	LastFailedAt time.Time `json:"last_failed_at"`
}

// Store defines the persistence interface for extraction runs.
type Store interface {
	// Extractions
	SaveExtraction(ctx context.Context, ex *model.PaperExtraction) error
	GetExtraction(ctx context.Context, runID string) (*model.PaperExtraction, error)
	ListExtractions(ctx context.Context, filter ExtractionFilter) ([]model.PaperExtraction, error)

	// Usage snapshots
	SaveUsageSnapshot(ctx context.Context, summary budget.Summary) error
	LatestUsageSnapshot(ctx context.Context) (*budget.Summary, error)

	// Dead letter queue
	AddDLQ(ctx context.Context, entry DLQEntry) error
	ListDLQ(ctx context.Context, limit int) ([]DLQEntry, error)
	CountDLQ(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
