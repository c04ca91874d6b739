package vectorstore

import (
	"container/heap"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32sInto decodes little-endian bytes into buf, reusing it when
// large enough. A length that is not a multiple of 4 indicates corruption.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float64 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum)
}

// scorer computes "higher is better" scores against a fixed query.
type scorer struct {
	metric Metric
	query  []float32
	qNorm  float64
}

func newScorer(metric Metric, query []float32) scorer {
	return scorer{metric: metric, query: query, qNorm: norm(query)}
}

func (s scorer) score(v []float32) float64 {
	switch s.metric {
	case Euclidean:
		var sum float64
		for i := range s.query {
			d := float64(s.query[i]) - float64(v[i])
			sum += d * d
		}
		return 1 / (1 + math.Sqrt(sum))
	case DotProduct:
		var dot float64
		for i := range s.query {
			dot += float64(s.query[i]) * float64(v[i])
		}
		return dot
	default:
		var dot, vNormSq float64
		for i := range s.query {
			dot += float64(s.query[i]) * float64(v[i])
			vNormSq += float64(v[i]) * float64(v[i])
		}
		if s.qNorm == 0 || vNormSq == 0 {
			return 0
		}
		return dot / (s.qNorm * math.Sqrt(vNormSq))
	}
}

// topK keeps the k best results seen so far. Ties are broken by id so that
// results are deterministic.
type topK struct {
	k int
	h resultHeap
}

func newTopK(k int) *topK {
	return &topK{k: k}
}

// wants reports whether a result with this score and id would be kept.
func (t *topK) wants(score float64, id string) bool {
	if t.k <= 0 {
		return false
	}
	if len(t.h) < t.k {
		return true
	}
	return worse(t.h[0], QueryResult{ID: id, Score: score})
}

func (t *topK) push(r QueryResult) {
	if len(t.h) < t.k {
		heap.Push(&t.h, r)
		return
	}
	t.h[0] = r
	heap.Fix(&t.h, 0)
}

// results returns the kept results by descending score.
func (t *topK) results() []QueryResult {
	out := make([]QueryResult, len(t.h))
	copy(out, t.h)
	sort.Slice(out, func(i, j int) bool { return worse(out[j], out[i]) })
	return out
}

// worse orders a below b: lower score, or equal score and greater id.
func worse(a, b QueryResult) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return a.ID > b.ID
}

// resultHeap is a min-heap with the worst kept result at the root.
type resultHeap []QueryResult

func (h resultHeap) Len() int           { return len(h) }
func (h resultHeap) Less(i, j int) bool { return worse(h[i], h[j]) }
func (h resultHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *resultHeap) Push(x any)        { *h = append(*h, x.(QueryResult)) }
func (h *resultHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
