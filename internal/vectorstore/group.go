package vectorstore

import (
	"math"
	"sort"
)

// GroupByDocument keeps, in score order, the best perDoc chunks of the best
// limit documents. Input order does not matter.
func GroupByDocument(results []SearchResult, limit, perDoc int) []SearchResult {
	if limit <= 0 || len(results) == 0 {
		return nil
	}
	sorted := make([]SearchResult, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	type key struct{ set, name string }
	taken := make(map[key]int)
	out := make([]SearchResult, 0, min(len(sorted), limit*perDoc))
	for _, r := range sorted {
		k := key{r.DocumentSet, r.Filename}
		n, seen := taken[k]
		if !seen && len(taken) >= limit {
			continue
		}
		if n >= perDoc {
			continue
		}
		taken[k] = n + 1
		out = append(out, r)
	}
	return out
}

// CosineSimilarity returns 0 for mismatched or zero vectors.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
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
