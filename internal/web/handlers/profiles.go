package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/kozaktomas/face-matcher/internal/constants"
	"github.com/kozaktomas/face-matcher/internal/profile"
	"github.com/kozaktomas/face-matcher/internal/recognition"
)

// ProfilesHandler handles profile lookup endpoints
type ProfilesHandler struct {
	service *recognition.Service
	logger  *slog.Logger
}

// NewProfilesHandler creates a new profiles handler
func NewProfilesHandler(svc *recognition.Service, logger *slog.Logger) *ProfilesHandler {
	return &ProfilesHandler{service: svc, logger: logger}
}

// ProfileSearchResponse represents a profile search result
type ProfileSearchResponse struct {
	Profiles []profile.Summary `json:"profiles"`
	Count    int               `json:"count"`
}

// Search finds profiles whose name contains the name query parameter,
// ignoring case and diacritics.
func (h *ProfilesHandler) Search(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}

	limit := constants.DefaultProfileSearchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, constants.MaxProfileSearchLimit)
	}

	found, err := h.service.SearchProfiles(r.Context(), name, limit)
	if err != nil {
		respondServiceError(w, r, h.logger, "profile search", err)
		return
	}
	if found == nil {
		found = []profile.Summary{}
	}

	respondJSON(w, http.StatusOK, ProfileSearchResponse{Profiles: found, Count: len(found)})
}
