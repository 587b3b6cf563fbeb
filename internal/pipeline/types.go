// Package pipeline defines core types shared across ingestion stages.
package pipeline

import (
	"encoding/json"
	"time"
)

// JobType identifies which stage consumes a job.
type JobType string

// Job types dispatched through the queue.
const (
	JobTypeCrawl JobType = "crawl"
	JobTypeOCR   JobType = "ocr"
	JobTypeParse JobType = "parse"
	JobTypeLabel JobType = "label"
	JobTypeEmbed JobType = "embed"
)

// JobStatus represents the lifecycle state of a pipeline job.
type JobStatus string

// Job status values persisted in the queue.
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// DefaultMaxAttempts bounds retries before a job is terminal-failed.
const DefaultMaxAttempts = 3

// Job is one unit of pipeline work with retry semantics.
type Job struct {
	ID          string          `json:"id"`
	Type        JobType         `json:"type"`
	Status      JobStatus       `json:"status"`
	Payload     json.RawMessage `json:"payload"`
	Priority    int             `json:"priority"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	WorkerID    string          `json:"worker_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	NotBefore   time.Time       `json:"not_before"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
}

// StageStats reports queue depth per stage for the health surface.
type StageStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Failed     int `json:"failed"`
}

// Place is a physical restaurant with an aggregate score.
type Place struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Address      string          `json:"address,omitempty"`
	Lat          float64         `json:"lat"`
	Lng          float64         `json:"lng"`
	WebsiteURL   string          `json:"website_url,omitempty"`
	Score        *int            `json:"score,omitempty"`
	ScoreVersion string          `json:"score_version,omitempty"`
	ScoreDetail  json.RawMessage `json:"score_detail,omitempty"`
	CrawlAllowed bool            `json:"crawl_allowed"`
	LastCrawled  *time.Time      `json:"last_crawled,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// CrawlRunStatus is the lifecycle state of one crawl attempt.
type CrawlRunStatus string

// Crawl run states.
const (
	CrawlRunPending   CrawlRunStatus = "pending"
	CrawlRunRunning   CrawlRunStatus = "running"
	CrawlRunCompleted CrawlRunStatus = "completed"
	CrawlRunFailed    CrawlRunStatus = "failed"
)

// CrawlRun records one crawl attempt for a Place. Partial asset failures do
// not fail the run; they land in Errors with a reduced ArtifactCount.
type CrawlRun struct {
	ID             string         `json:"id"`
	PlaceID        string         `json:"place_id"`
	Status         CrawlRunStatus `json:"status"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	FinishedAt     *time.Time     `json:"finished_at,omitempty"`
	DiscoveredURLs []string       `json:"discovered_urls,omitempty"`
	RobotsAllowed  bool           `json:"robots_allowed"`
	Errors         []string       `json:"errors,omitempty"`
	ArtifactCount  int            `json:"artifact_count"`
}

// Artifact is an immutable captured file identified by content hash.
type Artifact struct {
	ID          string    `json:"id"`
	CrawlRunID  string    `json:"crawl_run_id,omitempty"`
	StoragePath string    `json:"storage_path"`
	BlobURI     string    `json:"blob_uri"`
	MIMEType    string    `json:"mime_type"`
	ByteSize    int64     `json:"byte_size"`
	ContentHash string    `json:"content_hash"`
	SourceURL   string    `json:"source_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// MenuSource identifies how a menu entered the system.
type MenuSource string

// Menu source types.
const (
	MenuSourceCrawl  MenuSource = "crawl"
	MenuSourceUpload MenuSource = "upload"
	MenuSourceManual MenuSource = "manual"
)

// Menu is one logical menu extracted from a single source.
type Menu struct {
	ID            string     `json:"id"`
	PlaceID       string     `json:"place_id"`
	MenuType      string     `json:"menu_type,omitempty"`
	Source        MenuSource `json:"source"`
	ParsedAt      time.Time  `json:"parsed_at"`
	ParserVersion string     `json:"parser_version"`
	Confidence    float64    `json:"confidence"`
	Archived      bool       `json:"archived"`
}

// LabelMethod records whether a dietary label came from rules or the
// external classifier fallback.
type LabelMethod string

// Label methods.
const (
	LabelMethodRule     LabelMethod = "rule"
	LabelMethodFallback LabelMethod = "fallback"
)

// MenuItem is one dish on a menu.
type MenuItem struct {
	ID              string      `json:"id"`
	MenuID          string      `json:"menu_id"`
	PlaceID         string      `json:"place_id"`
	Section         string      `json:"section"`
	Name            string      `json:"name"`
	Description     string      `json:"description,omitempty"`
	Price           *float64    `json:"price,omitempty"`
	Currency        string      `json:"currency,omitempty"`
	DietaryLabels   []string    `json:"dietary_labels,omitempty"`
	LabelConfidence float64     `json:"label_confidence"`
	LabelMethod     LabelMethod `json:"label_method,omitempty"`
	Ingredients     []string    `json:"ingredients,omitempty"`
	Embedding       []float32   `json:"-"`
	EmbeddingModel  string      `json:"embedding_model,omitempty"`
	EmbeddedDigest  string      `json:"-"`
	Confidence      float64     `json:"confidence"`
	ArtifactID      string      `json:"artifact_id,omitempty"`
	Archived        bool        `json:"archived"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// TextBlock is one OCR-extracted region with its confidence.
type TextBlock struct {
	Text       string    `json:"text"`
	BBox       []float64 `json:"bbox,omitempty"`
	Confidence float64   `json:"confidence"`
	Page       int       `json:"page"`
}

// OCRResult is the structured output of the text-extraction engine,
// persisted as a derived artifact before parsing runs.
type OCRResult struct {
	ArtifactID string      `json:"artifact_id"`
	Blocks     []TextBlock `json:"blocks"`
	PageCount  int         `json:"page_count"`
	Engine     string      `json:"engine,omitempty"`
}

// StructuredItem is a menu item lifted from embedded schema.org markup.
// These are authoritative during the merge.
type StructuredItem struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Section     string   `json:"section,omitempty"`
	Price       *float64 `json:"price,omitempty"`
	Currency    string   `json:"currency,omitempty"`
}
