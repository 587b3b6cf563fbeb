package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/grazeapp/menupipe/internal/pipeline"
)

// PlaceStore persists places in Postgres.
type PlaceStore struct {
	pool dbConn
}

// NewPlaceStore constructs the store from an existing pool.
func NewPlaceStore(pool dbConn) (*PlaceStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &PlaceStore{pool: pool}, nil
}

const placeColumns = `id, name, address, lat, lng, website_url, score, score_version, score_detail, crawl_allowed, last_crawled, created_at, updated_at`

// Get returns the place with the given ID.
func (s *PlaceStore) Get(ctx context.Context, id string) (pipeline.Place, error) {
	query := fmt.Sprintf(`SELECT %s FROM places WHERE id = $1`, placeColumns)
	p, err := scanPlace(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pipeline.Place{}, fmt.Errorf("place %q: %w", id, pipeline.ErrNotFound)
		}
		return pipeline.Place{}, fmt.Errorf("get place: %w", err)
	}
	return p, nil
}

// Create persists a new place.
func (s *PlaceStore) Create(ctx context.Context, place pipeline.Place) error {
	if place.ID == "" {
		return fmt.Errorf("place id is required")
	}
	const query = `
INSERT INTO places (id, name, address, lat, lng, website_url, crawl_allowed, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	if _, err := s.pool.Exec(ctx, query,
		place.ID, place.Name, nullable(place.Address), place.Lat, place.Lng,
		nullable(place.WebsiteURL), place.CrawlAllowed, place.CreatedAt, place.UpdatedAt,
	); err != nil {
		return fmt.Errorf("insert place: %w", err)
	}
	return nil
}

// UpdateScore writes the current score, algorithm version, and breakdown.
// A nil score clears the stored value.
func (s *PlaceStore) UpdateScore(ctx context.Context, id string, score *int, version string, detail []byte) error {
	const query = `
UPDATE places SET score = $2, score_version = $3, score_detail = $4, updated_at = NOW()
WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, id, score, version, detail)
	if err != nil {
		return fmt.Errorf("update place score: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("place %q: %w", id, pipeline.ErrNotFound)
	}
	return nil
}

// MarkCrawled records the completion time of the latest crawl.
func (s *PlaceStore) MarkCrawled(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE places SET last_crawled = $2, updated_at = $2 WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("mark place crawled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("place %q: %w", id, pipeline.ErrNotFound)
	}
	return nil
}

// List returns all places ordered by ID.
func (s *PlaceStore) List(ctx context.Context) ([]pipeline.Place, error) {
	query := fmt.Sprintf(`SELECT %s FROM places ORDER BY id`, placeColumns)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list places: %w", err)
	}
	defer rows.Close()

	var out []pipeline.Place
	for rows.Next() {
		p, err := scanPlace(rows)
		if err != nil {
			return nil, fmt.Errorf("scan place: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate places: %w", err)
	}
	return out, nil
}

func scanPlace(row pgx.Row) (pipeline.Place, error) {
	var (
		p            pipeline.Place
		address      *string
		websiteURL   *string
		scoreVersion *string
		scoreDetail  []byte
	)
	err := row.Scan(&p.ID, &p.Name, &address, &p.Lat, &p.Lng, &websiteURL,
		&p.Score, &scoreVersion, &scoreDetail, &p.CrawlAllowed, &p.LastCrawled,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return pipeline.Place{}, err
	}
	if address != nil {
		p.Address = *address
	}
	if websiteURL != nil {
		p.WebsiteURL = *websiteURL
	}
	if scoreVersion != nil {
		p.ScoreVersion = *scoreVersion
	}
	p.ScoreDetail = scoreDetail
	return p, nil
}
