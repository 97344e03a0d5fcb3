package rag

import (
	"sort"

	"report-rag/internal/models"
)

// rrfK dampens the weight of top ranks in reciprocal rank fusion
const rrfK = 60

// fuse merges vector and keyword hits by reciprocal rank fusion and keeps the
// best k. Fused hits keep their vector similarity; keyword-only hits report 0.
func fuse(vector, keyword []models.Citation, k int) []models.Citation {
	scores := map[string]float64{}
	byID := map[string]models.Citation{}
	var order []string

	add := func(hits []models.Citation, fromVector bool) {
		for rank, h := range hits {
			if _, ok := byID[h.ID]; !ok {
				if !fromVector {
					h.Similarity = 0
				}
				byID[h.ID] = h
				order = append(order, h.ID)
			}
			scores[h.ID] += 1.0 / float64(rrfK+rank+1)
		}
	}
	add(vector, true)
	add(keyword, false)

	sort.SliceStable(order, func(i, j int) bool {
		return scores[order[i]] > scores[order[j]]
	})
	if len(order) > k {
		order = order[:k]
	}

	out := make([]models.Citation, len(order))
	for i, id := range order {
		out[i] = byID[id]
	}
	return out
}

// restrictTo drops the hits whose chunk is not among allowed
func restrictTo(hits, allowed []models.Citation) []models.Citation {
	ids := make(map[string]bool, len(allowed))
	for _, h := range allowed {
		ids[h.ID] = true
	}
	var kept []models.Citation
	for _, h := range hits {
		if ids[h.ID] {
			kept = append(kept, h)
		}
	}
	return kept
}
