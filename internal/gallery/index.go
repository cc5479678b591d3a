package gallery

import (
	"sync"

	"github.com/coder/hnsw"
)

// HNSW parameters for 128-dim face descriptors.
const (
	// hnswMaxNeighbors (M) is the maximum number of neighbors per node.
	// Higher values improve recall but increase memory and build time.
	hnswMaxNeighbors = 16

	// hnswEfSearch is the search candidate pool size.
	hnswEfSearch = 64

	// hnswSearchMultiplier requests extra candidates so that entries dropped
	// by a concurrent reload still leave k results.
	hnswSearchMultiplier = 2
)

// index wraps the HNSW graph used for approximate nearest-identity lookups.
// Exact matching never goes through it; see matcher.Identify.
type index struct {
	graph *hnsw.Graph[string]
	mu    sync.RWMutex
}

func newGraph() *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.M = hnswMaxNeighbors
	g.Ml = 1.0 / float64(hnswMaxNeighbors) // Standard HNSW formula
	g.EfSearch = hnswEfSearch
	g.Distance = hnsw.EuclideanDistance
	return g
}

func newIndex() *index {
	return &index{graph: newGraph()}
}

// rebuild replaces the graph with one built from entries.
func (x *index) rebuild(entries []Entry) {
	g := newGraph()
	for i := range entries {
		if len(entries[i].Embedding) == 0 {
			continue
		}
		g.Add(hnsw.MakeNode(entries[i].Identity.ID, []float32(entries[i].Embedding)))
	}

	x.mu.Lock()
	x.graph = g
	x.mu.Unlock()
}

// put adds or replaces the vector stored for id.
func (x *index) put(id string, e []float32) {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.graph.Delete(id)
	x.graph.Add(hnsw.MakeNode(id, e))
}

// search returns up to k identity IDs near the query, closest first.
func (x *index) search(query []float32, k int) []string {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if k <= 0 || x.graph.Len() == 0 {
		return nil
	}

	nodes := x.graph.Search(query, k*hnswSearchMultiplier)
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.Key
	}
	return ids
}

// count returns the number of indexed identities.
func (x *index) count() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.graph.Len()
}
