// Package milvus backs the vector index with a Milvus collection using an
// HNSW index under cosine similarity.
package milvus

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/grazeapp/menupipe/internal/pipeline"
)

// Defaults for the HNSW index.
const (
	DefaultCollection         = "menu_items"
	DefaultHNSWM              = 16
	DefaultHNSWEfConstruction = 200
	DefaultSearchEf           = 128
)

// Config connects the index to a Milvus deployment.
type Config struct {
	Address            string
	Username           string
	Password           string
	Collection         string
	Dimension          int
	HNSWM              int
	HNSWEfConstruction int
	SearchEf           int
}

// Index implements pipeline.VectorIndex over one Milvus collection.
type Index struct {
	cfg    Config
	milvus client.Client
}

// NewIndex connects and ensures the collection, index, and in-memory load
// exist before returning.
func NewIndex(ctx context.Context, cfg Config) (*Index, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, fmt.Errorf("milvus address is required")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("vector dimension is required")
	}
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}
	if cfg.HNSWM <= 0 {
		cfg.HNSWM = DefaultHNSWM
	}
	if cfg.HNSWEfConstruction <= 0 {
		cfg.HNSWEfConstruction = DefaultHNSWEfConstruction
	}
	if cfg.SearchEf <= 0 {
		cfg.SearchEf = DefaultSearchEf
	}

	c, err := client.NewClient(ctx, client.Config{
		Address:  cfg.Address,
		Username: cfg.Username,
		Password: cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to milvus: %w", err)
	}

	idx := &Index{cfg: cfg, milvus: c}
	if err := idx.ensureCollection(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return idx, nil
}

// Close releases the Milvus connection.
func (idx *Index) Close() error {
	return idx.milvus.Close()
}

func (idx *Index) ensureCollection(ctx context.Context) error {
	has, err := idx.milvus.HasCollection(ctx, idx.cfg.Collection)
	if err != nil {
		return fmt.Errorf("check collection: %w", err)
	}
	if !has {
		schema := &entity.Schema{
			CollectionName: idx.cfg.Collection,
			Description:    "Menu item embeddings for craving search",
			Fields: []*entity.Field{
				{
					Name:       "item_id",
					DataType:   entity.FieldTypeVarChar,
					PrimaryKey: true,
					TypeParams: map[string]string{"max_length": "64"},
				},
				{
					Name:       "place_id",
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": "64"},
				},
				{
					Name:       "vector",
					DataType:   entity.FieldTypeFloatVector,
					TypeParams: map[string]string{"dim": strconv.Itoa(idx.cfg.Dimension)},
				},
			},
		}
		if err := idx.milvus.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
			return fmt.Errorf("create collection: %w", err)
		}
		hnsw, err := entity.NewIndexHNSW(entity.COSINE, idx.cfg.HNSWM, idx.cfg.HNSWEfConstruction)
		if err != nil {
			return fmt.Errorf("build hnsw index: %w", err)
		}
		if err := idx.milvus.CreateIndex(ctx, idx.cfg.Collection, "vector", hnsw, false); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	if err := idx.milvus.LoadCollection(ctx, idx.cfg.Collection, false); err != nil {
		return fmt.Errorf("load collection: %w", err)
	}
	return nil
}

// Upsert inserts or replaces the given entries.
func (idx *Index) Upsert(ctx context.Context, entries []pipeline.VectorEntry) error {
	if len(entries) == 0 {
		return nil
	}
	itemIDs := make([]string, len(entries))
	placeIDs := make([]string, len(entries))
	vectors := make([][]float32, len(entries))
	for i, e := range entries {
		itemIDs[i] = e.ItemID
		placeIDs[i] = e.PlaceID
		vectors[i] = e.Vector
	}
	_, err := idx.milvus.Upsert(ctx, idx.cfg.Collection, "",
		entity.NewColumnVarChar("item_id", itemIDs),
		entity.NewColumnVarChar("place_id", placeIDs),
		entity.NewColumnFloatVector("vector", idx.cfg.Dimension, vectors),
	)
	if err != nil {
		return fmt.Errorf("upsert %d vectors: %w", len(entries), err)
	}
	return nil
}

// Delete removes the given items.
func (idx *Index) Delete(ctx context.Context, itemIDs []string) error {
	if len(itemIDs) == 0 {
		return nil
	}
	quoted := make([]string, len(itemIDs))
	for i, id := range itemIDs {
		quoted[i] = fmt.Sprintf("%q", id)
	}
	expr := fmt.Sprintf("item_id in [%s]", strings.Join(quoted, ", "))
	if err := idx.milvus.Delete(ctx, idx.cfg.Collection, "", expr); err != nil {
		return fmt.Errorf("delete vectors: %w", err)
	}
	return nil
}

// Search returns the topK nearest items by cosine similarity.
func (idx *Index) Search(ctx context.Context, vector []float32, topK int) ([]pipeline.VectorMatch, error) {
	sp, err := entity.NewIndexHNSWSearchParam(idx.cfg.SearchEf)
	if err != nil {
		return nil, fmt.Errorf("build search param: %w", err)
	}
	results, err := idx.milvus.Search(ctx,
		idx.cfg.Collection,
		nil,
		"",
		[]string{"item_id", "place_id"},
		[]entity.Vector{entity.FloatVector(vector)},
		"vector",
		entity.COSINE,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("search vectors: %w", err)
	}

	var matches []pipeline.VectorMatch
	for _, result := range results {
		itemCol, _ := result.Fields.GetColumn("item_id").(*entity.ColumnVarChar)
		placeCol, _ := result.Fields.GetColumn("place_id").(*entity.ColumnVarChar)
		for i := 0; i < result.ResultCount; i++ {
			m := pipeline.VectorMatch{Similarity: float64(result.Scores[i])}
			if itemCol != nil {
				m.ItemID = itemCol.Data()[i]
			}
			if placeCol != nil {
				m.PlaceID = placeCol.Data()[i]
			}
			matches = append(matches, m)
		}
	}
	return matches, nil
}
