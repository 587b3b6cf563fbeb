// Package search answers free-text craving queries over embedded menu
// items, aggregated by place.
package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/grazeapp/menupipe/internal/metrics"
	"github.com/grazeapp/menupipe/internal/pipeline"
)

// Search defaults.
const (
	SimilarityFloor = 0.7
	DefaultLimit    = 20
	DefaultTopK     = 200
	DefaultCacheTTL = 60 * time.Second
)

// Request is one craving query.
type Request struct {
	Text          string   `json:"text"`
	Lat           *float64 `json:"lat,omitempty"`
	Lng           *float64 `json:"lng,omitempty"`
	MaxDistanceKM *float64 `json:"max_distance_km,omitempty"`
	Labels        []string `json:"labels,omitempty"`
	MinScore      *int     `json:"min_score,omitempty"`
	Limit         int      `json:"limit,omitempty"`
}

// MatchedItem is one menu item that survived filtering.
type MatchedItem struct {
	Item       pipeline.MenuItem `json:"item"`
	Similarity float64           `json:"similarity"`
}

// PlaceResult is one ranked place with its contributing items.
type PlaceResult struct {
	Place      pipeline.Place `json:"place"`
	Match      float64        `json:"match"`
	DistanceKM *float64       `json:"distance_km,omitempty"`
	Items      []MatchedItem  `json:"items"`
}

// Response is the ranked result set.
type Response struct {
	Results []PlaceResult `json:"results"`
}

// ServiceConfig tunes the search service.
type ServiceConfig struct {
	TopK     int
	CacheTTL time.Duration
}

// Service embeds queries, consults the vector index, and aggregates hits
// by place.
type Service struct {
	cfg      ServiceConfig
	embedder pipeline.Embedder
	index    pipeline.VectorIndex
	menus    pipeline.MenuStore
	places   pipeline.PlaceStore
	cache    pipeline.QueryCache
	logger   *zap.Logger
}

// NewService wires the search service. A nil cache disables caching.
func NewService(cfg ServiceConfig, embedder pipeline.Embedder, index pipeline.VectorIndex, menus pipeline.MenuStore, places pipeline.PlaceStore, cache pipeline.QueryCache, logger *zap.Logger) *Service {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	return &Service{
		cfg:      cfg,
		embedder: embedder,
		index:    index,
		menus:    menus,
		places:   places,
		cache:    cache,
		logger:   logger,
	}
}

// Search runs one craving query. Cache failures degrade to a live search.
func (s *Service) Search(ctx context.Context, req Request) (Response, error) {
	if strings.TrimSpace(req.Text) == "" {
		return Response{}, fmt.Errorf("query text is required")
	}
	if req.Limit <= 0 {
		req.Limit = DefaultLimit
	}

	key := cacheKey(req)
	if s.cache != nil {
		cached, found, err := s.cache.Get(ctx, key)
		switch {
		case err != nil:
			metrics.ObserveSearch("error")
			s.logger.Warn("query cache read failed", zap.Error(err))
		case found:
			var resp Response
			if err := json.Unmarshal(cached, &resp); err == nil {
				metrics.ObserveSearch("hit")
				return resp, nil
			}
			s.logger.Warn("query cache entry undecodable", zap.Error(err))
		default:
			metrics.ObserveSearch("miss")
		}
	}

	resp, err := s.searchLive(ctx, req)
	if err != nil {
		return Response{}, err
	}

	if s.cache != nil {
		encoded, err := json.Marshal(resp)
		if err == nil {
			if err := s.cache.Set(ctx, key, encoded, s.cfg.CacheTTL); err != nil {
				s.logger.Warn("query cache write failed", zap.Error(err))
			}
		}
	}
	return resp, nil
}

func (s *Service) searchLive(ctx context.Context, req Request) (Response, error) {
	vectors, err := s.embedder.Embed(ctx, []string{normalizeQuery(req.Text)})
	if err != nil {
		return Response{}, fmt.Errorf("embed query: %w", err)
	}

	matches, err := s.index.Search(ctx, vectors[0], s.cfg.TopK)
	if err != nil {
		return Response{}, fmt.Errorf("search index: %w", err)
	}

	var itemIDs []string
	similarity := make(map[string]float64)
	for _, m := range matches {
		if m.Similarity < SimilarityFloor {
			continue
		}
		itemIDs = append(itemIDs, m.ItemID)
		similarity[m.ItemID] = m.Similarity
	}
	if len(itemIDs) == 0 {
		return Response{Results: []PlaceResult{}}, nil
	}

	items, err := s.menus.GetItems(ctx, itemIDs)
	if err != nil {
		return Response{}, fmt.Errorf("load matched items: %w", err)
	}

	byPlace := make(map[string][]MatchedItem)
	for _, item := range items {
		if item.Archived || !hasAllLabels(item, req.Labels) {
			continue
		}
		byPlace[item.PlaceID] = append(byPlace[item.PlaceID], MatchedItem{
			Item:       item,
			Similarity: similarity[item.ID],
		})
	}

	var results []PlaceResult
	for placeID, matched := range byPlace {
		place, err := s.places.Get(ctx, placeID)
		if err != nil {
			s.logger.Warn("matched place unavailable", zap.String("place_id", placeID), zap.Error(err))
			continue
		}
		if req.MinScore != nil && (place.Score == nil || *place.Score < *req.MinScore) {
			continue
		}

		var distance *float64
		if req.Lat != nil && req.Lng != nil {
			d := haversineKM(*req.Lat, *req.Lng, place.Lat, place.Lng)
			if req.MaxDistanceKM != nil && d > *req.MaxDistanceKM {
				continue
			}
			distance = &d
		}

		sort.Slice(matched, func(i, j int) bool {
			if matched[i].Similarity != matched[j].Similarity {
				return matched[i].Similarity > matched[j].Similarity
			}
			return matched[i].Item.ID < matched[j].Item.ID
		})
		var sum float64
		for _, m := range matched {
			sum += m.Similarity
		}
		results = append(results, PlaceResult{
			Place:      place,
			Match:      sum / float64(len(matched)),
			DistanceKM: distance,
			Items:      matched,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Match != results[j].Match {
			return results[i].Match > results[j].Match
		}
		di, dj := math.Inf(1), math.Inf(1)
		if results[i].DistanceKM != nil {
			di = *results[i].DistanceKM
		}
		if results[j].DistanceKM != nil {
			dj = *results[j].DistanceKM
		}
		if di != dj {
			return di < dj
		}
		return results[i].Place.ID < results[j].Place.ID
	})
	if len(results) > req.Limit {
		results = results[:req.Limit]
	}
	if results == nil {
		results = []PlaceResult{}
	}
	return Response{Results: results}, nil
}

func hasAllLabels(item pipeline.MenuItem, wanted []string) bool {
	for _, w := range wanted {
		found := false
		for _, l := range item.DietaryLabels {
			if strings.EqualFold(l, w) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// normalizeQuery collapses case and whitespace so trivially different
// phrasings share a cache entry and an embedding.
func normalizeQuery(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// cacheKey hashes the normalized query plus every filter that affects the
// result set.
func cacheKey(req Request) string {
	var b strings.Builder
	b.WriteString(normalizeQuery(req.Text))
	b.WriteByte('\x00')
	labels := append([]string(nil), req.Labels...)
	for i := range labels {
		labels[i] = strings.ToLower(labels[i])
	}
	sort.Strings(labels)
	b.WriteString(strings.Join(labels, ","))
	if req.Lat != nil && req.Lng != nil {
		fmt.Fprintf(&b, "\x00%.5f,%.5f", *req.Lat, *req.Lng)
	}
	if req.MaxDistanceKM != nil {
		fmt.Fprintf(&b, "\x00r%.3f", *req.MaxDistanceKM)
	}
	if req.MinScore != nil {
		fmt.Fprintf(&b, "\x00s%d", *req.MinScore)
	}
	fmt.Fprintf(&b, "\x00l%d", req.Limit)
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

const earthRadiusKM = 6371.0

// haversineKM returns the great-circle distance between two coordinates.
func haversineKM(lat1, lng1, lat2, lng2 float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKM * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
