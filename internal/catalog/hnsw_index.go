package catalog

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/coder/hnsw"
)

// HNSWIndexMetadata stores metadata for validating cached HNSW indexes.
type HNSWIndexMetadata struct {
	RecordCount int64     `json:"record_count"`
	MaxSeq      int64     `json:"max_seq"`
	LastWrite   time.Time `json:"last_write"`
	BuildTime   time.Time `json:"build_time"`
	Version     int       `json:"version"`
}

const hnswMetadataVersion = 1

// IndexedRecord is a record held by the HNSW index together with its
// insertion sequence and current graph node key.
type IndexedRecord struct {
	Record VectorRecord
	Seq    int64
	Node   int64
}

// HNSWIndex is an approximate nearest-neighbor accelerator kept in front of a
// durable store. Every write gets a fresh graph node; nodes superseded by a
// later write or a delete are ignored at search time and dropped once they
// outnumber the live records.
type HNSWIndex struct {
	graph    *hnsw.Graph[int64]
	records  map[string]*IndexedRecord // record ID -> live record
	nodes    map[int64]string          // live node key -> record ID
	nextNode int64
	mu       sync.RWMutex
}

// NewHNSWIndex creates a new empty HNSW index.
func NewHNSWIndex() *HNSWIndex {
	return &HNSWIndex{
		records: make(map[string]*IndexedRecord),
		nodes:   make(map[int64]string),
	}
}

func newGraph() *hnsw.Graph[int64] {
	g := hnsw.NewGraph[int64]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors) // Standard HNSW formula
	g.EfSearch = HNSWEfSearch
	g.Distance = hnsw.CosineDistance
	return g
}

// Build replaces the index contents with records.
func (h *HNSWIndex) Build(records []IndexedRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.graph = nil
	h.records = make(map[string]*IndexedRecord, len(records))
	h.nodes = make(map[int64]string, len(records))
	h.nextNode = 0

	for i := range records {
		h.addLocked(records[i].Record, records[i].Seq)
	}
}

// Add indexes rec, superseding any earlier version of the same record.
func (h *HNSWIndex) Add(rec VectorRecord, seq int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.addLocked(rec, seq)
	h.compactLocked()
}

func (h *HNSWIndex) addLocked(rec VectorRecord, seq int64) {
	if len(rec.Vector) == 0 {
		return
	}
	if h.graph == nil {
		h.graph = newGraph()
	}
	if prev, ok := h.records[rec.ID]; ok {
		delete(h.nodes, prev.Node)
	}

	node := h.nextNode
	h.nextNode++
	stored := VectorRecord{ID: rec.ID, Vector: cloneVector(rec.Vector), Metadata: rec.Metadata.Clone()}
	h.graph.Add(hnsw.MakeNode(node, stored.Vector))
	h.records[rec.ID] = &IndexedRecord{Record: stored, Seq: seq, Node: node}
	h.nodes[node] = rec.ID
}

// Delete removes a record from search results.
func (h *HNSWIndex) Delete(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	prev, ok := h.records[id]
	if !ok {
		return
	}
	// The graph keeps the node; dropping it from nodes hides it from Search.
	delete(h.nodes, prev.Node)
	delete(h.records, id)
	h.compactLocked()
}

// compactLocked rebuilds the graph from the live records once stale nodes
// outnumber them. Nodes are not removed from the graph one by one because
// hnsw.Graph.Delete can leave an upper layer without an entry point.
func (h *HNSWIndex) compactLocked() {
	if h.graph == nil || h.graph.Len()-len(h.nodes) <= max(len(h.records), HNSWMaxNeighbors) {
		return
	}

	live := make([]*IndexedRecord, 0, len(h.records))
	for _, rec := range h.records {
		live = append(live, rec)
	}
	sort.Slice(live, func(i, j int) bool { return live[i].Seq < live[j].Seq })

	h.graph = nil
	h.nodes = make(map[int64]string, len(live))
	h.nextNode = 0
	if len(live) == 0 {
		return
	}
	h.graph = newGraph()
	for _, rec := range live {
		rec.Node = h.nextNode
		h.nextNode++
		h.graph.Add(hnsw.MakeNode(rec.Node, rec.Record.Vector))
		h.nodes[rec.Node] = rec.Record.ID
	}
}

// Search returns up to k live records closest to query, ranked by exact
// cosine distance with ties broken by insertion sequence.
func (h *HNSWIndex) Search(query []float32, k int) []Candidate {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil || len(h.records) == 0 || k <= 0 {
		return []Candidate{}
	}

	searchK := max(k*HNSWSearchMultiplier, HNSWMinSearch)
	neighbors := h.graph.Search(query, searchK)

	hits := make([]scoredRecord, 0, len(neighbors))
	for _, n := range neighbors {
		id, live := h.nodes[n.Key]
		if !live {
			continue
		}
		rec := h.records[id]
		hits = append(hits, scoredRecord{rec: rec, dist: CosineDistance(query, rec.Record.Vector)})
	}
	// The graph walk can come back short when stale nodes crowd the window.
	if len(hits) < min(k, len(h.records)) {
		hits = h.scanLocked(query)
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].dist != hits[j].dist {
			return hits[i].dist < hits[j].dist
		}
		return hits[i].rec.Seq < hits[j].rec.Seq
	})
	if len(hits) > k {
		hits = hits[:k]
	}

	out := make([]Candidate, len(hits))
	for i, s := range hits {
		out[i] = Candidate{
			RecordID: s.rec.Record.ID,
			Distance: s.dist,
			Metadata: s.rec.Record.Metadata.Clone(),
		}
	}
	return out
}

type scoredRecord struct {
	rec  *IndexedRecord
	dist float64
}

// scanLocked scores every live record against query.
func (h *HNSWIndex) scanLocked(query []float32) []scoredRecord {
	out := make([]scoredRecord, 0, len(h.records))
	for _, rec := range h.records {
		out = append(out, scoredRecord{rec: rec, dist: CosineDistance(query, rec.Record.Vector)})
	}
	return out
}

// Count returns the number of live records.
func (h *HNSWIndex) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.records)
}

// StaleNodes returns the number of graph nodes no longer reachable by Search.
func (h *HNSWIndex) StaleNodes() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.graph == nil {
		return 0
	}
	return h.graph.Len() - len(h.nodes)
}

// IsEmpty returns true if the index has no graph loaded.
func (h *HNSWIndex) IsEmpty() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.graph == nil
}

// SaveWithMetadata persists the graph, its metadata and the live records.
// An empty index removes any files left at path.
func (h *HNSWIndex) SaveWithMetadata(path string, metadata HNSWIndexMetadata) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil {
		_ = os.Remove(path)
		_ = os.Remove(path + ".meta")
		_ = os.Remove(path + ".records")
		return nil
	}

	f, err := os.Create(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to create HNSW index file: %w", err)
	}
	if err := h.graph.Export(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to export HNSW graph: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close HNSW index file: %w", err)
	}

	metadata.Version = hnswMetadataVersion
	if metadata.BuildTime.IsZero() {
		metadata.BuildTime = time.Now()
	}
	metaData, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(path+".meta", metaData, 0600); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}

	records := make([]IndexedRecord, 0, len(h.records))
	for _, rec := range h.records {
		records = append(records, *rec)
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(records); err != nil {
		return fmt.Errorf("failed to encode records: %w", err)
	}
	if err := os.WriteFile(path+".records", buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write records file: %w", err)
	}
	return nil
}

// LoadHNSWMetadata loads metadata from a separate .meta file.
func LoadHNSWMetadata(path string) (HNSWIndexMetadata, error) {
	var metadata HNSWIndexMetadata

	data, err := os.ReadFile(path + ".meta") //nolint:gosec // path is from trusted config
	if err != nil {
		return metadata, fmt.Errorf("failed to read metadata file: %w", err)
	}
	if err := json.Unmarshal(data, &metadata); err != nil {
		return metadata, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	if metadata.Version != hnswMetadataVersion {
		return metadata, fmt.Errorf("unsupported metadata version %d", metadata.Version)
	}
	return metadata, nil
}

// Load reads a graph and its records written by SaveWithMetadata.
func (h *HNSWIndex) Load(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("HNSW index file not found: %w", err)
	}

	saved, err := hnsw.LoadSavedGraph[int64](path)
	if err != nil {
		return fmt.Errorf("failed to load HNSW index: %w", err)
	}

	data, err := os.ReadFile(path + ".records") //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to read records file: %w", err)
	}
	var records []IndexedRecord
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&records); err != nil {
		return fmt.Errorf("failed to decode records: %w", err)
	}
	if saved.Graph == nil {
		return errors.New("loaded HNSW graph is empty")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.graph = saved.Graph
	h.graph.Distance = hnsw.CosineDistance
	h.records = make(map[string]*IndexedRecord, len(records))
	h.nodes = make(map[int64]string, len(records))
	h.nextNode = 0
	for i := range records {
		rec := &records[i]
		h.records[rec.Record.ID] = rec
		h.nodes[rec.Node] = rec.Record.ID
		h.nextNode = max(h.nextNode, rec.Node+1)
	}
	// Nodes written before the snapshot may exceed every live key.
	h.nextNode = max(h.nextNode, int64(h.graph.Len()))
	return nil
}
