package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/grazeapp/menupipe/internal/pipeline"
	"github.com/grazeapp/menupipe/internal/search"
)

type createPlaceRequest struct {
	Name         string  `json:"name"`
	Address      string  `json:"address"`
	Lat          float64 `json:"lat"`
	Lng          float64 `json:"lng"`
	WebsiteURL   string  `json:"website_url"`
	CrawlAllowed *bool   `json:"crawl_allowed"`
}

func (s *Server) createPlace(w http.ResponseWriter, r *http.Request) {
	var req createPlaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusUnprocessableEntity, "name is required")
		return
	}

	id, err := s.deps.IDs.NewID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "generate place id")
		return
	}
	now := s.deps.Clock.Now()
	crawlAllowed := true
	if req.CrawlAllowed != nil {
		crawlAllowed = *req.CrawlAllowed
	}
	place := pipeline.Place{
		ID:           id,
		Name:         req.Name,
		Address:      req.Address,
		Lat:          req.Lat,
		Lng:          req.Lng,
		WebsiteURL:   req.WebsiteURL,
		CrawlAllowed: crawlAllowed,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.deps.Places.Create(r.Context(), place); err != nil {
		writeError(w, http.StatusInternalServerError, "create place")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"place": place})
}

func (s *Server) getPlace(w http.ResponseWriter, r *http.Request) {
	placeID := chi.URLParam(r, "place_id")
	place, err := s.deps.Places.Get(r.Context(), placeID)
	if err != nil {
		if errors.Is(err, pipeline.ErrNotFound) {
			writeError(w, http.StatusNotFound, "place not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "load place")
		return
	}

	menus, err := s.deps.Menus.ListMenus(r.Context(), placeID, false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load menus")
		return
	}
	items, err := s.deps.Menus.ListItems(r.Context(), placeID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load items")
		return
	}

	resp := map[string]any{
		"place": place,
		"menus": menus,
		"items": items,
	}
	if len(place.ScoreDetail) > 0 {
		resp["score_breakdown"] = json.RawMessage(place.ScoreDetail)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) discover(w http.ResponseWriter, r *http.Request) {
	s.startCrawl(w, r, discoverPriority, false)
}

func (s *Server) reprocess(w http.ResponseWriter, r *http.Request) {
	s.startCrawl(w, r, reprocessPriority, true)
}

// startCrawl creates a pending CrawlRun and enqueues the crawl job.
// Reprocessing additionally archives the current crawl menus so the new
// run fully supersedes them.
func (s *Server) startCrawl(w http.ResponseWriter, r *http.Request, priority int, archiveFirst bool) {
	ctx := r.Context()
	placeID := chi.URLParam(r, "place_id")
	place, err := s.deps.Places.Get(ctx, placeID)
	if err != nil {
		if errors.Is(err, pipeline.ErrNotFound) {
			writeError(w, http.StatusNotFound, "place not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "load place")
		return
	}
	if !place.CrawlAllowed {
		writeError(w, http.StatusConflict, "crawling is disabled for this place")
		return
	}
	if strings.TrimSpace(place.WebsiteURL) == "" {
		writeError(w, http.StatusUnprocessableEntity, "place has no website url")
		return
	}

	if archiveFirst {
		if err := s.deps.Menus.ArchiveMenus(ctx, placeID, pipeline.MenuSourceCrawl); err != nil {
			writeError(w, http.StatusInternalServerError, "archive menus")
			return
		}
		if _, _, err := s.deps.Recomputer.Recompute(ctx, placeID); err != nil {
			s.deps.Logger.Warn("recompute after archive failed",
				zap.String("place_id", placeID), zap.Error(err))
		}
	}

	runID, err := s.deps.IDs.NewID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "generate run id")
		return
	}
	if err := s.deps.Runs.Create(ctx, pipeline.CrawlRun{
		ID:      runID,
		PlaceID: placeID,
		Status:  pipeline.CrawlRunPending,
	}); err != nil {
		writeError(w, http.StatusInternalServerError, "create crawl run")
		return
	}

	jobID, err := s.enqueueCrawl(ctx, place, runID, priority)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"crawl_run_id": runID,
		"job_id":       jobID,
	})
}

func (s *Server) enqueueCrawl(ctx context.Context, place pipeline.Place, runID string, priority int) (string, error) {
	raw, err := pipeline.EncodePayload(pipeline.JobTypeCrawl, pipeline.CrawlPayload{
		PlaceID:    place.ID,
		CrawlRunID: runID,
		WebsiteURL: place.WebsiteURL,
	})
	if err != nil {
		return "", fmt.Errorf("encode crawl payload: %w", err)
	}
	jobID, err := s.deps.IDs.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	if err := s.deps.Queue.Enqueue(ctx, pipeline.Job{
		ID:       jobID,
		Type:     pipeline.JobTypeCrawl,
		Payload:  raw,
		Priority: priority,
	}); err != nil {
		return "", fmt.Errorf("enqueue crawl job: %w", err)
	}
	return jobID, nil
}

type patchItemRequest struct {
	Name          *string   `json:"name"`
	Description   *string   `json:"description"`
	Section       *string   `json:"section"`
	Price         *float64  `json:"price"`
	Currency      *string   `json:"currency"`
	DietaryLabels *[]string `json:"dietary_labels"`
	Ingredients   *[]string `json:"ingredients"`
}

// patchItem applies an out-of-band override to one item and synchronously
// rescores its place. Text changes re-enter the embed stage.
func (s *Server) patchItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	itemID := chi.URLParam(r, "item_id")

	var req patchItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	item, err := s.deps.Menus.GetItem(ctx, itemID)
	if err != nil {
		if errors.Is(err, pipeline.ErrNotFound) {
			writeError(w, http.StatusNotFound, "item not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "load item")
		return
	}

	if req.Name != nil {
		item.Name = *req.Name
	}
	if req.Description != nil {
		item.Description = *req.Description
	}
	if req.Section != nil {
		item.Section = *req.Section
	}
	if req.Price != nil {
		item.Price = req.Price
	}
	if req.Currency != nil {
		item.Currency = *req.Currency
	}
	if req.DietaryLabels != nil {
		item.DietaryLabels = *req.DietaryLabels
	}
	if req.Ingredients != nil {
		item.Ingredients = *req.Ingredients
	}
	item.UpdatedAt = s.deps.Clock.Now()

	if err := s.deps.Menus.UpdateItem(ctx, item); err != nil {
		writeError(w, http.StatusInternalServerError, "persist item")
		return
	}
	if _, _, err := s.deps.Recomputer.Recompute(ctx, item.PlaceID); err != nil {
		writeError(w, http.StatusInternalServerError, "recompute score")
		return
	}

	if err := s.enqueueEmbed(ctx, item); err != nil {
		s.deps.Logger.Warn("enqueue embed after item patch failed",
			zap.String("item_id", item.ID), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]any{"item": item})
}

func (s *Server) enqueueEmbed(ctx context.Context, item pipeline.MenuItem) error {
	raw, err := pipeline.EncodePayload(pipeline.JobTypeEmbed, pipeline.EmbedPayload{
		PlaceID:     item.PlaceID,
		MenuItemIDs: []string{item.ID},
	})
	if err != nil {
		return fmt.Errorf("encode embed payload: %w", err)
	}
	jobID, err := s.deps.IDs.NewID()
	if err != nil {
		return fmt.Errorf("generate job id: %w", err)
	}
	if err := s.deps.Queue.Enqueue(ctx, pipeline.Job{
		ID:       jobID,
		Type:     pipeline.JobTypeEmbed,
		Payload:  raw,
		Priority: discoverPriority,
	}); err != nil {
		return fmt.Errorf("enqueue embed job: %w", err)
	}
	return nil
}

func (s *Server) searchCravings(w http.ResponseWriter, r *http.Request) {
	var req search.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusUnprocessableEntity, "text is required")
		return
	}

	resp, err := s.deps.Search.Search(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadGateway, "search unavailable")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type recomputeRequest struct {
	PlaceID string `json:"place_id"`
}

type scoreDelta struct {
	PlaceID string `json:"place_id"`
	Before  *int   `json:"before"`
	After   *int   `json:"after"`
}

// recomputeScores rescores one place, or every place when no place_id is
// given, and reports before/after deltas.
func (s *Server) recomputeScores(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req recomputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	var places []pipeline.Place
	if req.PlaceID != "" {
		place, err := s.deps.Places.Get(ctx, req.PlaceID)
		if err != nil {
			if errors.Is(err, pipeline.ErrNotFound) {
				writeError(w, http.StatusNotFound, "place not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "load place")
			return
		}
		places = []pipeline.Place{place}
	} else {
		all, err := s.deps.Places.List(ctx)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "list places")
			return
		}
		places = all
	}

	deltas := make([]scoreDelta, 0, len(places))
	for _, place := range places {
		after, _, err := s.deps.Recomputer.Recompute(ctx, place.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("recompute %s", place.ID))
			return
		}
		deltas = append(deltas, scoreDelta{PlaceID: place.ID, Before: place.Score, After: after})
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": deltas})
}

func (s *Server) jobStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Queue.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load queue stats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stages": stats})
}
