package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/grazeapp/menupipe/internal/pipeline"
)

// MenuStore persists menus and items in Postgres. Label and ingredient
// lists are text arrays; embeddings are float4 arrays.
type MenuStore struct {
	pool dbConn
}

// NewMenuStore constructs the store from an existing pool.
func NewMenuStore(pool dbConn) (*MenuStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &MenuStore{pool: pool}, nil
}

// CreateMenu persists a new menu.
func (s *MenuStore) CreateMenu(ctx context.Context, menu pipeline.Menu) error {
	if menu.ID == "" {
		return fmt.Errorf("menu id is required")
	}
	const query = `
INSERT INTO menus (id, place_id, menu_type, source, parsed_at, parser_version, confidence, archived)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := s.pool.Exec(ctx, query,
		menu.ID, menu.PlaceID, nullable(menu.MenuType), string(menu.Source),
		menu.ParsedAt, menu.ParserVersion, menu.Confidence, menu.Archived,
	); err != nil {
		return fmt.Errorf("insert menu: %w", err)
	}
	return nil
}

// ArchiveMenus marks every non-archived menu of the place and source as
// archived, along with their items.
func (s *MenuStore) ArchiveMenus(ctx context.Context, placeID string, source pipeline.MenuSource) error {
	const itemQuery = `
UPDATE menu_items SET archived = TRUE, updated_at = NOW()
WHERE menu_id IN (
	SELECT id FROM menus WHERE place_id = $1 AND source = $2 AND archived = FALSE
) AND archived = FALSE`
	if _, err := s.pool.Exec(ctx, itemQuery, placeID, string(source)); err != nil {
		return fmt.Errorf("archive menu items: %w", err)
	}
	const menuQuery = `
UPDATE menus SET archived = TRUE
WHERE place_id = $1 AND source = $2 AND archived = FALSE`
	if _, err := s.pool.Exec(ctx, menuQuery, placeID, string(source)); err != nil {
		return fmt.Errorf("archive menus: %w", err)
	}
	return nil
}

// ListMenus returns the menus for a place, optionally including archived ones.
func (s *MenuStore) ListMenus(ctx context.Context, placeID string, includeArchived bool) ([]pipeline.Menu, error) {
	const query = `
SELECT id, place_id, menu_type, source, parsed_at, parser_version, confidence, archived
FROM menus WHERE place_id = $1 AND (archived = FALSE OR $2) ORDER BY id`
	rows, err := s.pool.Query(ctx, query, placeID, includeArchived)
	if err != nil {
		return nil, fmt.Errorf("list menus: %w", err)
	}
	defer rows.Close()

	var out []pipeline.Menu
	for rows.Next() {
		var (
			m        pipeline.Menu
			menuType *string
			source   string
		)
		if err := rows.Scan(&m.ID, &m.PlaceID, &menuType, &source,
			&m.ParsedAt, &m.ParserVersion, &m.Confidence, &m.Archived); err != nil {
			return nil, fmt.Errorf("scan menu: %w", err)
		}
		if menuType != nil {
			m.MenuType = *menuType
		}
		m.Source = pipeline.MenuSource(source)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate menus: %w", err)
	}
	return out, nil
}

const itemColumns = `id, menu_id, place_id, section, name, description, price, currency,
	dietary_labels, label_confidence, label_method, ingredients, embedding,
	embedding_model, embedded_digest, confidence, artifact_id, archived, updated_at`

// CreateItem persists a new menu item.
func (s *MenuStore) CreateItem(ctx context.Context, item pipeline.MenuItem) error {
	if item.ID == "" {
		return fmt.Errorf("item id is required")
	}
	const query = `
INSERT INTO menu_items (id, menu_id, place_id, section, name, description, price, currency,
	dietary_labels, label_confidence, label_method, ingredients, embedding,
	embedding_model, embedded_digest, confidence, artifact_id, archived, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`
	if _, err := s.pool.Exec(ctx, query,
		item.ID, item.MenuID, item.PlaceID, item.Section, item.Name,
		nullable(item.Description), item.Price, nullable(item.Currency),
		item.DietaryLabels, item.LabelConfidence, nullable(string(item.LabelMethod)),
		item.Ingredients, item.Embedding, nullable(item.EmbeddingModel),
		nullable(item.EmbeddedDigest), item.Confidence, nullable(item.ArtifactID),
		item.Archived, item.UpdatedAt,
	); err != nil {
		return fmt.Errorf("insert menu item: %w", err)
	}
	return nil
}

// UpdateItem replaces the stored item.
func (s *MenuStore) UpdateItem(ctx context.Context, item pipeline.MenuItem) error {
	const query = `
UPDATE menu_items SET section = $2, name = $3, description = $4, price = $5, currency = $6,
	dietary_labels = $7, label_confidence = $8, label_method = $9, ingredients = $10,
	embedding = $11, embedding_model = $12, embedded_digest = $13, confidence = $14,
	artifact_id = $15, archived = $16, updated_at = $17
WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query,
		item.ID, item.Section, item.Name, nullable(item.Description), item.Price,
		nullable(item.Currency), item.DietaryLabels, item.LabelConfidence,
		nullable(string(item.LabelMethod)), item.Ingredients, item.Embedding,
		nullable(item.EmbeddingModel), nullable(item.EmbeddedDigest),
		item.Confidence, nullable(item.ArtifactID), item.Archived, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update menu item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("item %q: %w", item.ID, pipeline.ErrNotFound)
	}
	return nil
}

// GetItem returns the item with the given ID.
func (s *MenuStore) GetItem(ctx context.Context, id string) (pipeline.MenuItem, error) {
	query := fmt.Sprintf(`SELECT %s FROM menu_items WHERE id = $1`, itemColumns)
	item, err := scanItem(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pipeline.MenuItem{}, fmt.Errorf("item %q: %w", id, pipeline.ErrNotFound)
		}
		return pipeline.MenuItem{}, fmt.Errorf("get menu item: %w", err)
	}
	return item, nil
}

// GetItems returns the items with the given IDs, skipping unknown ones.
func (s *MenuStore) GetItems(ctx context.Context, ids []string) ([]pipeline.MenuItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT %s FROM menu_items WHERE id = ANY($1) ORDER BY id`, itemColumns)
	return s.queryItems(ctx, query, ids)
}

// ListItems returns the non-archived items for a place.
func (s *MenuStore) ListItems(ctx context.Context, placeID string) ([]pipeline.MenuItem, error) {
	query := fmt.Sprintf(`SELECT %s FROM menu_items WHERE place_id = $1 AND archived = FALSE ORDER BY id`, itemColumns)
	return s.queryItems(ctx, query, placeID)
}

func (s *MenuStore) queryItems(ctx context.Context, query string, args ...any) ([]pipeline.MenuItem, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query menu items: %w", err)
	}
	defer rows.Close()

	var out []pipeline.MenuItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan menu item: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate menu items: %w", err)
	}
	return out, nil
}

func scanItem(row pgx.Row) (pipeline.MenuItem, error) {
	var (
		item           pipeline.MenuItem
		description    *string
		currency       *string
		labelMethod    *string
		embeddingModel *string
		embeddedDigest *string
		artifactID     *string
	)
	err := row.Scan(&item.ID, &item.MenuID, &item.PlaceID, &item.Section,
		&item.Name, &description, &item.Price, &currency, &item.DietaryLabels,
		&item.LabelConfidence, &labelMethod, &item.Ingredients, &item.Embedding,
		&embeddingModel, &embeddedDigest, &item.Confidence, &artifactID,
		&item.Archived, &item.UpdatedAt)
	if err != nil {
		return pipeline.MenuItem{}, err
	}
	if description != nil {
		item.Description = *description
	}
	if currency != nil {
		item.Currency = *currency
	}
	if labelMethod != nil {
		item.LabelMethod = pipeline.LabelMethod(*labelMethod)
	}
	if embeddingModel != nil {
		item.EmbeddingModel = *embeddingModel
	}
	if embeddedDigest != nil {
		item.EmbeddedDigest = *embeddedDigest
	}
	if artifactID != nil {
		item.ArtifactID = *artifactID
	}
	return item, nil
}
