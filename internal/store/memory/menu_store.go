package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/grazeapp/menupipe/internal/pipeline"
)

// MenuStore keeps menus and items in maps. All item reads used by scoring
// and search exclude archived rows.
type MenuStore struct {
	mu    sync.RWMutex
	menus map[string]pipeline.Menu
	items map[string]pipeline.MenuItem
}

// NewMenuStore constructs an empty MenuStore.
func NewMenuStore() *MenuStore {
	return &MenuStore{
		menus: make(map[string]pipeline.Menu),
		items: make(map[string]pipeline.MenuItem),
	}
}

// CreateMenu persists a new menu.
func (s *MenuStore) CreateMenu(_ context.Context, menu pipeline.Menu) error {
	if menu.ID == "" {
		return fmt.Errorf("menu id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.menus[menu.ID]; exists {
		return fmt.Errorf("menu %q already exists", menu.ID)
	}
	s.menus[menu.ID] = menu
	return nil
}

// ArchiveMenus marks every non-archived menu of the place and source as
// archived, along with the items hanging off them.
func (s *MenuStore) ArchiveMenus(_ context.Context, placeID string, source pipeline.MenuSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	archived := make(map[string]bool)
	for id, m := range s.menus {
		if m.PlaceID == placeID && m.Source == source && !m.Archived {
			m.Archived = true
			s.menus[id] = m
			archived[id] = true
		}
	}
	for id, it := range s.items {
		if archived[it.MenuID] && !it.Archived {
			it.Archived = true
			s.items[id] = it
		}
	}
	return nil
}

// ListMenus returns the menus for a place, optionally including archived ones.
func (s *MenuStore) ListMenus(_ context.Context, placeID string, includeArchived bool) ([]pipeline.Menu, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]pipeline.Menu, 0)
	for _, m := range s.menus {
		if m.PlaceID != placeID {
			continue
		}
		if m.Archived && !includeArchived {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateItem persists a new menu item.
func (s *MenuStore) CreateItem(_ context.Context, item pipeline.MenuItem) error {
	if item.ID == "" {
		return fmt.Errorf("item id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[item.ID]; exists {
		return fmt.Errorf("item %q already exists", item.ID)
	}
	s.items[item.ID] = item
	return nil
}

// UpdateItem replaces the stored item.
func (s *MenuStore) UpdateItem(_ context.Context, item pipeline.MenuItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[item.ID]; !ok {
		return fmt.Errorf("item %q: %w", item.ID, pipeline.ErrNotFound)
	}
	s.items[item.ID] = item
	return nil
}

// GetItem returns the item with the given ID.
func (s *MenuStore) GetItem(_ context.Context, id string) (pipeline.MenuItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[id]
	if !ok {
		return pipeline.MenuItem{}, fmt.Errorf("item %q: %w", id, pipeline.ErrNotFound)
	}
	return it, nil
}

// GetItems returns the items with the given IDs, skipping unknown ones.
func (s *MenuStore) GetItems(_ context.Context, ids []string) ([]pipeline.MenuItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]pipeline.MenuItem, 0, len(ids))
	for _, id := range ids {
		if it, ok := s.items[id]; ok {
			out = append(out, it)
		}
	}
	return out, nil
}

// ListItems returns the non-archived items for a place ordered by ID.
func (s *MenuStore) ListItems(_ context.Context, placeID string) ([]pipeline.MenuItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]pipeline.MenuItem, 0)
	for _, it := range s.items {
		if it.PlaceID == placeID && !it.Archived {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
