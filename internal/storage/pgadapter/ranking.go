package pgadapter

import (
	"math"
	"sort"

	"github.com/pavilion-trust/amg-gateway/internal/gtype"
)

// rankByCosine sorts results by cosine similarity to query descending,
// mirroring memadapter's ranking so both adapters are observably
// interchangeable from the gateway's perspective (P6).
func rankByCosine(results []gtype.Memory, query []float64) {
	scores := make(map[string]float64, len(results))
	for _, m := range results {
		scores[m.MemoryID] = cosineSimilarity(m.Vector, query)
	}
	sort.SliceStable(results, func(i, j int) bool {
		si, sj := scores[results[i].MemoryID], scores[results[j].MemoryID]
		if si != sj {
			return si > sj
		}
		if !results[i].CreatedAt.Equal(results[j].CreatedAt) {
			return results[i].CreatedAt.After(results[j].CreatedAt)
		}
		return results[i].MemoryID < results[j].MemoryID
	})
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return -1
	}
	var dot, magA, magB float64
	for i := range a {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}
	if magA == 0 || magB == 0 {
		return -1
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

func sortDeterministic(results []gtype.Memory) {
	sort.Slice(results, func(i, j int) bool {
		if !results[i].CreatedAt.Equal(results[j].CreatedAt) {
			return results[i].CreatedAt.After(results[j].CreatedAt)
		}
		return results[i].MemoryID < results[j].MemoryID
	})
}
