package pipeline

import (
	"context"
	"io"
	"time"
)

// JobQueue is the durable, priority-ordered, at-least-once dispatch
// mechanism every stage hangs off.
type JobQueue interface {
	// Enqueue persists a new pending job. Callers must have durably
	// persisted the rows the payload references before enqueuing.
	Enqueue(ctx context.Context, job Job) error

	// Claim atomically moves the highest-priority eligible pending job of
	// one of the given types to processing, recording the worker identity.
	// The second return is false when no job is eligible.
	Claim(ctx context.Context, workerID string, types ...JobType) (Job, bool, error)

	// Complete marks a processing job completed.
	Complete(ctx context.Context, jobID string) error

	// Fail records a failure. Transient failures requeue with exponential
	// backoff until attempts reach max; permanent failures and exhausted
	// jobs go terminal-failed.
	Fail(ctx context.Context, jobID string, cause error) error

	// Stats reports pending/processing/failed counts per job type.
	Stats(ctx context.Context) (map[JobType]StageStats, error)
}

// BlobStore persists raw artifact bytes and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
	GetObject(ctx context.Context, path string) ([]byte, error)
}

// ArtifactStore persists artifact metadata, keyed for dedup by content hash.
type ArtifactStore interface {
	GetByHash(ctx context.Context, hash string) (Artifact, bool, error)
	GetByID(ctx context.Context, id string) (Artifact, error)
	Create(ctx context.Context, artifact Artifact) error
	// Attach links an existing artifact to an additional crawl run.
	Attach(ctx context.Context, artifactID, crawlRunID string) error
}

// PlaceStore persists restaurants and their scores.
type PlaceStore interface {
	Get(ctx context.Context, id string) (Place, error)
	Create(ctx context.Context, place Place) error
	UpdateScore(ctx context.Context, id string, score *int, version string, detail []byte) error
	MarkCrawled(ctx context.Context, id string, at time.Time) error
	List(ctx context.Context) ([]Place, error)
}

// CrawlRunStore persists crawl attempts.
type CrawlRunStore interface {
	Create(ctx context.Context, run CrawlRun) error
	Update(ctx context.Context, run CrawlRun) error
	Get(ctx context.Context, id string) (CrawlRun, error)
}

// MenuStore persists menus and their items. Item mutations flow through
// here so every write path can trigger a score recompute.
type MenuStore interface {
	CreateMenu(ctx context.Context, menu Menu) error
	ArchiveMenus(ctx context.Context, placeID string, source MenuSource) error
	ListMenus(ctx context.Context, placeID string, includeArchived bool) ([]Menu, error)

	CreateItem(ctx context.Context, item MenuItem) error
	UpdateItem(ctx context.Context, item MenuItem) error
	GetItem(ctx context.Context, id string) (MenuItem, error)
	GetItems(ctx context.Context, ids []string) ([]MenuItem, error)
	// ListItems returns the non-archived items for a place; these are the
	// sole input to scoring.
	ListItems(ctx context.Context, placeID string) ([]MenuItem, error)
}

// Publisher pushes stage-completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes content digests for deduplication.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces entity IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// OCREngine is the boundary to the external text-extraction capability.
type OCREngine interface {
	Extract(ctx context.Context, image []byte, mimeType string) (OCRResult, error)
}

// Embedder produces fixed-dimension vectors for item or query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	ModelVersion() string
	Dimension() int
}

// Classification is the external classifier's verdict for one item.
type Classification struct {
	Labels     []string `json:"labels"`
	Confidence float64  `json:"confidence"`
}

// Classifier is the external fallback for low-confidence rule labeling.
type Classifier interface {
	Classify(ctx context.Context, texts []string) ([]Classification, error)
}

// VectorEntry is one item vector held by the index.
type VectorEntry struct {
	ItemID  string
	PlaceID string
	Vector  []float32
}

// VectorMatch is one similarity hit from the index.
type VectorMatch struct {
	ItemID     string
	PlaceID    string
	Similarity float64
}

// VectorIndex answers cosine-similarity queries over item embeddings.
type VectorIndex interface {
	Upsert(ctx context.Context, entries []VectorEntry) error
	Delete(ctx context.Context, itemIDs []string) error
	Search(ctx context.Context, vector []float32, topK int) ([]VectorMatch, error)
}

// QueryCache caches search responses under a normalized query hash.
type QueryCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
