package handlers

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/kozaktomas/face-matcher/internal/catalog"
	"github.com/kozaktomas/face-matcher/internal/constants"
	"github.com/kozaktomas/face-matcher/internal/recognition"
)

// statsCache holds cached stats with expiry
type statsCache struct {
	mu        sync.RWMutex
	data      *StatsResponse
	expiresAt time.Time
}

func (c *statsCache) get() (*StatsResponse, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.data == nil || time.Now().After(c.expiresAt) {
		return nil, false
	}
	return c.data, true
}

func (c *statsCache) set(data *StatsResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = data
	c.expiresAt = time.Now().Add(constants.StatsCacheTTL)
}

func (c *statsCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = nil
}

// StatsHandler handles statistics endpoints
type StatsHandler struct {
	service *recognition.Service
	logger  *slog.Logger
	cache   statsCache
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(svc *recognition.Service, logger *slog.Logger) *StatsHandler {
	return &StatsHandler{service: svc, logger: logger}
}

// InvalidateCache clears the cached stats so the next request fetches fresh data
func (h *StatsHandler) InvalidateCache() {
	h.cache.invalidate()
}

// StatsResponse represents the statistics response
type StatsResponse struct {
	Backend   string `json:"backend"`
	Records   int    `json:"records"`
	Corrupt   int64  `json:"corrupt"`
	Dimension int    `json:"dimension"`
	Degraded  bool   `json:"degraded"`
}

// Get returns catalog statistics. Counts may be cached briefly; the degraded
// flag is always current.
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	if cached, ok := h.cache.get(); ok {
		resp := *cached
		resp.Degraded = h.service.Degraded()
		respondJSON(w, http.StatusOK, resp)
		return
	}

	st, err := h.service.Stats(r.Context())
	if err != nil {
		respondServiceError(w, r, h.logger, "stats", err)
		return
	}

	resp := newStatsResponse(st, h.service.Store().Dimension())
	// Fallback counts are not worth caching: they change as soon as the primary returns.
	if !st.Degraded {
		h.cache.set(&resp)
	}
	respondJSON(w, http.StatusOK, resp)
}

func newStatsResponse(st catalog.Stats, dim int) StatsResponse {
	return StatsResponse{
		Backend:   st.Backend,
		Records:   st.Records,
		Corrupt:   st.Corrupt,
		Dimension: dim,
		Degraded:  st.Degraded,
	}
}
