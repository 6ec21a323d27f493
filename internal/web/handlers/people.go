package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-matcher/internal/constants"
	"github.com/kozaktomas/face-matcher/internal/recognition"
)

// PeopleHandler handles enrollment endpoints
type PeopleHandler struct {
	service      *recognition.Service
	statsHandler *StatsHandler
	logger       *slog.Logger
}

// NewPeopleHandler creates a new people handler
func NewPeopleHandler(svc *recognition.Service, statsHandler *StatsHandler, logger *slog.Logger) *PeopleHandler {
	return &PeopleHandler{service: svc, statsHandler: statsHandler, logger: logger}
}

// EnrollRequest represents a face enrollment request
type EnrollRequest struct {
	Vector   []float32      `json:"vector"`
	Metadata map[string]any `json:"metadata"`
}

// EnrollResponse represents the stored record
type EnrollResponse struct {
	PersonID string `json:"person_id"`
	RecordID string `json:"record_id"`
}

// PeopleListResponse represents one page of enrolled people
type PeopleListResponse struct {
	People      []recognition.Person `json:"people"`
	Count       int                  `json:"count"`
	Total       int                  `json:"total"`
	Offset      int                  `json:"offset"`
	Limit       int                  `json:"limit"`
	Provisional bool                 `json:"provisional"`
}

// List returns enrolled people, oldest enrollment first.
func (h *PeopleHandler) List(w http.ResponseWriter, r *http.Request) {
	offset, ok := queryInt(r, "offset", 0, 0)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid offset")
		return
	}
	limit, ok := queryInt(r, "limit", constants.DefaultPeopleListLimit, 1)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	limit = min(limit, constants.MaxPeopleListLimit)

	page, err := h.service.ListPeople(r.Context(), offset, limit)
	if err != nil {
		respondServiceError(w, r, h.logger, "list people", err)
		return
	}

	respondJSON(w, http.StatusOK, PeopleListResponse{
		People:      page.People,
		Count:       len(page.People),
		Total:       page.Total,
		Offset:      offset,
		Limit:       limit,
		Provisional: page.Provisional,
	})
}

// queryInt reads an integer query parameter of at least minValue, falling
// back to def when it is absent.
func queryInt(r *http.Request, name string, def, minValue int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < minValue {
		return 0, false
	}
	return n, true
}

// Enroll stores the face of a person, replacing any previous one.
func (h *PeopleHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	personID := chi.URLParam(r, "personID")
	if personID == "" {
		respondError(w, http.StatusBadRequest, "missing person ID")
		return
	}

	var req EnrollRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	recordID, err := h.service.Enroll(r.Context(), personID, req.Vector, req.Metadata)
	if err != nil {
		respondServiceError(w, r, h.logger, "enroll "+sanitizeForLog(personID), err)
		return
	}
	h.invalidateStats()

	respondJSON(w, http.StatusCreated, EnrollResponse{PersonID: personID, RecordID: recordID})
}

// Remove deletes the face of a person. Unknown persons are not an error.
func (h *PeopleHandler) Remove(w http.ResponseWriter, r *http.Request) {
	personID := chi.URLParam(r, "personID")
	if personID == "" {
		respondError(w, http.StatusBadRequest, "missing person ID")
		return
	}

	if err := h.service.Remove(r.Context(), personID); err != nil {
		respondServiceError(w, r, h.logger, "remove "+sanitizeForLog(personID), err)
		return
	}
	h.invalidateStats()

	respondJSON(w, http.StatusOK, map[string]any{
		"person_id": personID,
		"removed":   true,
	})
}

func (h *PeopleHandler) invalidateStats() {
	if h.statsHandler != nil {
		h.statsHandler.InvalidateCache()
	}
}
