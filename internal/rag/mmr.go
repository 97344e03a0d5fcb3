package rag

import (
	"math"
	"slices"

	"report-rag/internal/models"
)

// mmr orders hits by maximal marginal relevance. Each step picks the hit
// with the best lambda*similarity - (1-lambda)*redundancy, where redundancy
// is the highest cosine similarity to a hit already picked. lambda 1 keeps
// the similarity order. Hits without an embedding are never redundant.
func mmr(hits []models.Citation, lambda float32) []models.Citation {
	if len(hits) < 2 {
		return hits
	}

	remaining := slices.Clone(hits)
	redundancy := make([]float32, len(remaining))
	for i := range redundancy {
		redundancy[i] = float32(math.Inf(-1))
	}

	out := make([]models.Citation, 0, len(hits))
	for len(remaining) > 0 {
		best, bestScore := 0, float32(math.Inf(-1))
		for i, h := range remaining {
			score := h.Similarity
			if len(out) > 0 {
				score = lambda*h.Similarity - (1-lambda)*redundancy[i]
			}
			if score > bestScore {
				best, bestScore = i, score
			}
		}

		picked := remaining[best]
		out = append(out, picked)
		remaining = slices.Delete(remaining, best, best+1)
		redundancy = slices.Delete(redundancy, best, best+1)
		for i, h := range remaining {
			redundancy[i] = max(redundancy[i], cosine(picked.Embedding, h.Embedding))
		}
	}
	return out
}

func cosine(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
