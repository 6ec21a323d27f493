package catalog

// HNSW index parameters for face embeddings
const (
	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	// Higher values improve recall but increase memory and build time.
	HNSWMaxNeighbors = 16

	// HNSWEfSearch is the search candidate pool size.
	// Higher values improve recall but slow down search.
	HNSWEfSearch = 100

	// HNSWSearchMultiplier is the factor to request more candidates from HNSW
	// so that stale nodes and exact re-ranking still leave k results.
	HNSWSearchMultiplier = 3

	// HNSWMinSearch is the minimum number of graph candidates fetched per search.
	HNSWMinSearch = 100
)
