package search

import (
	"sort"

	"github.com/starford/notesearch/internal/models"
)

// Merge combines hits from every source into one list keyed by note id.
// A note keeps the best score per source and the union of its sources.
//
// Ordering: more contributing sources first, then the best normalized score,
// then note id. Normalized scores put the sources on a common 0..1 scale:
// exact scores are used as is, semantic similarity is clamped to [0,1], and
// full-text relevance is divided by the best full-text relevance of the query.
func Merge(hits []models.Hit, limit int) []models.SearchResult {
	var maxFullText float64
	for _, h := range hits {
		if h.Source == models.SourceFullText && h.Score > maxFullText {
			maxFullText = h.Score
		}
	}

	byID := make(map[string]*models.SearchResult)
	var order []string
	for _, h := range hits {
		r, ok := byID[h.NoteID]
		if !ok {
			r = &models.SearchResult{NoteID: h.NoteID, Scores: make(map[models.SourceKind]float64)}
			byID[h.NoteID] = r
			order = append(order, h.NoteID)
		}
		if prev, seen := r.Scores[h.Source]; !seen || h.Score > prev {
			r.Scores[h.Source] = h.Score
		}
		if r.Title == "" {
			r.Title = h.Title
		}
		if r.Folder == "" {
			r.Folder = h.Folder
		}
		if h.Snippet != "" && (r.Snippet == "" || h.Source == models.SourceFullText) {
			r.Snippet = h.Snippet
		}
	}

	out := make([]models.SearchResult, 0, len(order))
	for _, id := range order {
		r := byID[id]
		for _, kind := range models.AllSources {
			s, ok := r.Scores[kind]
			if !ok {
				continue
			}
			r.Sources = append(r.Sources, kind)
			if n := normalize(kind, s, maxFullText); n > r.Score {
				r.Score = n
			}
		}
		out = append(out, *r)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if len(a.Sources) != len(b.Sources) {
			return len(a.Sources) > len(b.Sources)
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.NoteID < b.NoteID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func normalize(kind models.SourceKind, score, maxFullText float64) float64 {
	switch kind {
	case models.SourceFullText:
		if maxFullText <= 0 {
			return 0
		}
		return clamp(score / maxFullText)
	case models.SourceSemantic:
		return clamp(score)
	default:
		return score
	}
}

func clamp(v float64) float64 {
	return max(0, min(1, v))
}
