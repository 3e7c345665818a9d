// Package index holds the in-memory exact inner-product vector index the
// retrieval stage searches.
package index

import (
	"container/heap"
	"fmt"
	"math"
	"sync"
)

// Hit is one search result: a position into the index and its inner product
// with the query.
type Hit struct {
	Position int
	Score    float32
}

// Flat is an exact inner-product index over fixed-dimension vectors stored
// contiguously. Positions are assigned in insertion order starting at zero.
type Flat struct {
	mu   sync.RWMutex
	dim  int
	data []float32
}

// NewFlat creates an empty index for vectors of the given dimension.
func NewFlat(dim int) *Flat {
	return &Flat{dim: dim}
}

// FromData wraps an existing row-major buffer of len(data)/dim vectors.
func FromData(dim int, data []float32) (*Flat, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dim)
	}
	if len(data)%dim != 0 {
		return nil, fmt.Errorf("buffer of %d floats is not a multiple of dimension %d", len(data), dim)
	}
	return &Flat{dim: dim, data: data}, nil
}

// Add appends vectors and returns the position of the first one.
func (f *Flat) Add(vectors ...[]float32) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	first := len(f.data) / f.dim
	for i, v := range vectors {
		if len(v) != f.dim {
			f.data = f.data[:first*f.dim]
			return 0, fmt.Errorf("vector %d has dimension %d, index expects %d", i, len(v), f.dim)
		}
		f.data = append(f.data, v...)
	}
	return first, nil
}

// Len returns the number of stored vectors.
func (f *Flat) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.data) / f.dim
}

// Dim returns the vector dimension.
func (f *Flat) Dim() int {
	return f.dim
}

// Data returns the underlying row-major buffer. Callers must not modify it.
func (f *Flat) Data() []float32 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.data
}

// Search returns up to k hits ordered by descending score. Equal scores are
// ordered by ascending position.
func (f *Flat) Search(query []float32, k int) ([]Hit, error) {
	if len(query) != f.dim {
		return nil, fmt.Errorf("query has dimension %d, index expects %d", len(query), f.dim)
	}
	if k <= 0 {
		return nil, nil
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	n := len(f.data) / f.dim
	if k > n {
		k = n
	}
	h := make(minHeap, 0, k)
	for pos := 0; pos < n; pos++ {
		score := Dot(query, f.data[pos*f.dim:(pos+1)*f.dim])
		hit := Hit{Position: pos, Score: score}
		if len(h) < k {
			heap.Push(&h, hit)
			continue
		}
		if better(hit, h[0]) {
			h[0] = hit
			heap.Fix(&h, 0)
		}
	}

	out := make([]Hit, len(h))
	for i := len(h) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&h).(Hit)
	}
	return out, nil
}

// Dot returns the inner product of a and b, which must have equal length.
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// Normalize scales v to unit L2 norm in place. Zero vectors are left as is.
func Normalize(v []float32) {
	var sq float64
	for _, x := range v {
		sq += float64(x) * float64(x)
	}
	if sq == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sq))
	for i := range v {
		v[i] *= inv
	}
}

func better(a, b Hit) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Position < b.Position
}

// minHeap keeps the worst retained hit at the root.
type minHeap []Hit

func (h minHeap) Len() int           { return len(h) }
func (h minHeap) Less(i, j int) bool { return better(h[j], h[i]) }
func (h minHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x any)        { *h = append(*h, x.(Hit)) }
func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
