package syncer

import (
	"fmt"
	"time"

	"github.com/JakeFAU/wiki-mirror/internal/mirror"
)

// ComputeCutoff returns the sync window boundary: now minus one scheduling
// period and the configured slack.
func ComputeCutoff(now time.Time, period, slack time.Duration) int64 {
	return now.Add(-(period + slack)).Unix()
}

// ChunkResult is the filtered view of one listed chunk.
type ChunkResult struct {
	Pages []mirror.PageRef `json:"pages"`
	// Done reports that no later chunk can contain a qualifying page.
	Done bool `json:"done"`
	// LastUpdated is the updated value of the last unpinned item seen so
	// far, carried into the next chunk's order check.
	LastUpdated *int64 `json:"last_updated,omitempty"`
}

// FilterChunk keeps pinned items and items updated at or after cutoff.
// Unpinned items must arrive in descending updated order; a violation
// returns mirror.ErrUnsorted rather than silently truncating the window.
// requested is the limit the chunk was listed with; a shorter chunk marks
// the end of the list. prev is the LastUpdated of the preceding chunk, or nil
// for the first one.
func FilterChunk(items []mirror.ListItem, cutoff int64, requested int, prev *int64) (ChunkResult, error) {
	res := ChunkResult{Pages: make([]mirror.PageRef, 0, len(items)), LastUpdated: prev}
	for idx, item := range items {
		if !item.Pinned() {
			if res.LastUpdated != nil && item.Updated > *res.LastUpdated {
				return ChunkResult{}, fmt.Errorf("item %d (%s) updated %d after %d: %w",
					idx, item.ID, item.Updated, *res.LastUpdated, mirror.ErrUnsorted)
			}
			updated := item.Updated
			res.LastUpdated = &updated
			if item.Updated < cutoff {
				res.Done = true
				continue
			}
		}
		res.Pages = append(res.Pages, mirror.PageRef{ID: item.ID, Title: item.Title, Updated: item.Updated})
	}
	if len(items) < requested {
		res.Done = true
	}
	return res, nil
}

// Dedupe drops repeated ids, keeping the highest updated value for each.
// Pages can move between chunks while the list is read, and batches must
// stay disjoint.
func Dedupe(pages []mirror.PageRef) []mirror.PageRef {
	pos := make(map[string]int, len(pages))
	out := make([]mirror.PageRef, 0, len(pages))
	for _, p := range pages {
		if i, ok := pos[p.ID]; ok {
			if p.Updated > out[i].Updated {
				out[i] = p
			}
			continue
		}
		pos[p.ID] = len(out)
		out = append(out, p)
	}
	return out
}
