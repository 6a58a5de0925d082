package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/JakeFAU/wiki-mirror/internal/mirror"
)

// Classification kinds tracked by the in-memory store.
const (
	ClassArticle  = "article"
	ClassExcluded = "excluded"
	ClassClip     = "clip"
)

// Store is an in-memory relational store for development and tests.
type Store struct {
	mu         sync.RWMutex
	nextID     int64
	pages      map[int64]mirror.PageRecord
	bySourceID map[string]int64
	refs       map[int64][]mirror.TemporalCrossReference
	classified map[int64]map[string]bool
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		pages:      make(map[int64]mirror.PageRecord),
		bySourceID: make(map[string]int64),
		refs:       make(map[int64][]mirror.TemporalCrossReference),
		classified: make(map[int64]map[string]bool),
	}
}

// UpsertPage inserts or updates a page keyed by source id.
func (s *Store) UpsertPage(_ context.Context, page mirror.PageRecord) (int64, error) {
	if page.SourceID == "" {
		return 0, fmt.Errorf("page source id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.bySourceID[page.SourceID]; ok {
		existing := s.pages[id]
		existing.Title = page.Title
		existing.Updated = page.Updated
		existing.Image = page.Image
		s.pages[id] = existing
		return id, nil
	}
	s.nextID++
	page.ID = s.nextID
	s.pages[page.ID] = page
	s.bySourceID[page.SourceID] = page.ID
	return page.ID, nil
}

// ResolveTitles maps titles to ids; duplicates resolve to the most recently updated page.
func (s *Store) ResolveTitles(_ context.Context, titles []string) (map[string]int64, error) {
	want := make(map[string]bool, len(titles))
	for _, t := range titles {
		want[t] = true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int64, len(titles))
	best := make(map[string]mirror.PageRecord, len(titles))
	for _, p := range s.pages {
		if !want[p.Title] {
			continue
		}
		cur, ok := best[p.Title]
		if !ok || p.Updated.After(cur.Updated) || (p.Updated.Equal(cur.Updated) && p.ID > cur.ID) {
			best[p.Title] = p
			out[p.Title] = p.ID
		}
	}
	return out, nil
}

// ListDayPages returns day pages updated at or after the cutoff, ordered by title.
func (s *Store) ListDayPages(_ context.Context, q mirror.DayPageQuery) ([]mirror.DayPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []mirror.DayPage
	for _, p := range s.pages {
		if !mirror.IsDayKey(p.Title) || p.Updated.Before(q.UpdatedSince) {
			continue
		}
		if q.Start != "" && p.Title < q.Start {
			continue
		}
		if q.End != "" && p.Title > q.End {
			continue
		}
		out = append(out, mirror.DayPage{ID: p.ID, Title: p.Title, SourceID: p.SourceID, Updated: p.Updated})
	}
	slices.SortFunc(out, func(a, b mirror.DayPage) int {
		return cmp.Or(cmp.Compare(a.Title, b.Title), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

// ReplaceCrossReferences swaps the set owned by sourcePageID.
func (s *Store) ReplaceCrossReferences(_ context.Context, sourcePageID int64, refs []mirror.TemporalCrossReference) error {
	for _, r := range refs {
		if r.SourcePageID != sourcePageID {
			return fmt.Errorf("cross reference owned by page %d, want %d", r.SourcePageID, sourcePageID)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(refs) == 0 {
		delete(s.refs, sourcePageID)
		return nil
	}
	s.refs[sourcePageID] = slices.Clone(refs)
	return nil
}

// CrossReferences returns the set owned by sourcePageID.
func (s *Store) CrossReferences(sourcePageID int64) []mirror.TemporalCrossReference {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.refs[sourcePageID])
}

// CountByDayAndYear groups references by day page title and year.
func (s *Store) CountByDayAndYear(_ context.Context) ([]mirror.DayYearCount, error) {
	type key struct {
		day  string
		year int
	}
	s.mu.RLock()
	counts := make(map[key]int)
	for source, refs := range s.refs {
		page, ok := s.pages[source]
		if !ok || !mirror.IsDayKey(page.Title) {
			continue
		}
		for _, r := range refs {
			counts[key{page.Title, r.Year}]++
		}
	}
	s.mu.RUnlock()

	out := make([]mirror.DayYearCount, 0, len(counts))
	for k, n := range counts {
		out = append(out, mirror.DayYearCount{DayKey: k.day, Year: k.year, Count: n})
	}
	slices.SortFunc(out, func(a, b mirror.DayYearCount) int {
		return cmp.Or(cmp.Compare(a.DayKey, b.DayKey), cmp.Compare(a.Year, b.Year))
	})
	return out, nil
}

// Classify records a classification for pageID.
func (s *Store) Classify(pageID int64, kind string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.classified[pageID] == nil {
		s.classified[pageID] = make(map[string]bool)
	}
	s.classified[pageID][kind] = true
}

// ListUnclassified returns the newest non day/year pages with no classification.
func (s *Store) ListUnclassified(_ context.Context, limit int) ([]mirror.UnclassifiedPage, error) {
	s.mu.RLock()
	var out []mirror.UnclassifiedPage
	for id, p := range s.pages {
		if len(s.classified[id]) > 0 || mirror.IsDayKey(p.Title) {
			continue
		}
		out = append(out, mirror.UnclassifiedPage{ID: id, Title: p.Title, Created: p.Created})
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b mirror.UnclassifiedPage) int {
		return cmp.Or(b.Created.Compare(a.Created), cmp.Compare(b.ID, a.ID))
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Page returns the stored row for id.
func (s *Store) Page(id int64) (mirror.PageRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pages[id]
	return p, ok
}

// PageBySourceID returns the stored row for a source id.
func (s *Store) PageBySourceID(sourceID string) (mirror.PageRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.bySourceID[sourceID]
	if !ok {
		return mirror.PageRecord{}, false
	}
	return s.pages[id], true
}
