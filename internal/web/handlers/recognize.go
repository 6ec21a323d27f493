package handlers

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/kozaktomas/face-matcher/internal/constants"
	"github.com/kozaktomas/face-matcher/internal/facematch"
	"github.com/kozaktomas/face-matcher/internal/recognition"
)

const (
	msgRecognized = "face recognized"
	msgNoMatch    = "no matching face found"
)

// RecognizeHandler handles face recognition endpoints
type RecognizeHandler struct {
	service *recognition.Service
	logger  *slog.Logger
}

// NewRecognizeHandler creates a new recognize handler
func NewRecognizeHandler(svc *recognition.Service, logger *slog.Logger) *RecognizeHandler {
	return &RecognizeHandler{service: svc, logger: logger}
}

// RecognizeRequest represents a single-face recognition request
type RecognizeRequest struct {
	Vector []float32 `json:"vector"`
}

// RecognizeResponse represents the result of a single-face recognition
type RecognizeResponse struct {
	Recognized  bool                `json:"recognized"`
	Provisional bool                `json:"provisional"`
	Message     string              `json:"message"`
	Best        *recognition.Match  `json:"best,omitempty"`
	Matches     []recognition.Match `json:"matches"`
}

// BatchFace is one detected face in a batch request
type BatchFace struct {
	Vector []float32 `json:"vector"`
	Box    []int     `json:"box"` // [top, right, bottom, left]
}

// BatchRecognizeRequest represents a multi-face recognition request
type BatchRecognizeRequest struct {
	Faces            []BatchFace `json:"faces"`
	IncludeUnmatched bool        `json:"include_unmatched"`
}

// BatchRecognizeResponse represents the result of a multi-face recognition
type BatchRecognizeResponse struct {
	Faces       []recognition.Match `json:"faces"`
	Count       int                 `json:"count"`
	Provisional bool                `json:"provisional"`
}

// Recognize matches a single face vector against the catalog.
// No match is a successful response with recognized=false.
func (h *RecognizeHandler) Recognize(w http.ResponseWriter, r *http.Request) {
	var req RecognizeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if len(req.Vector) == 0 {
		respondError(w, http.StatusBadRequest, "vector is required")
		return
	}

	res, err := h.service.RecognizeOne(r.Context(), req.Vector)
	if err != nil {
		respondServiceError(w, r, h.logger, "recognize", err)
		return
	}

	resp := RecognizeResponse{
		Recognized:  res.Recognized,
		Provisional: res.Provisional,
		Message:     msgNoMatch,
		Best:        res.Best,
		Matches:     res.Candidates,
	}
	if res.Recognized {
		resp.Message = msgRecognized
	}
	if resp.Matches == nil {
		resp.Matches = []recognition.Match{}
	}
	respondJSON(w, http.StatusOK, resp)
}

// RecognizeBatch matches every face of an image independently. An image
// without faces yields an empty result.
func (h *RecognizeHandler) RecognizeBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRecognizeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if len(req.Faces) > constants.MaxBatchFaces {
		respondError(w, http.StatusBadRequest,
			fmt.Sprintf("too many faces: %d (max %d)", len(req.Faces), constants.MaxBatchFaces))
		return
	}

	faces := make([]facematch.DetectedFace, len(req.Faces))
	for i, f := range req.Faces {
		box, err := facematch.BoxFromSlice(f.Box)
		if err != nil {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("face %d: %v", i, err))
			return
		}
		faces[i] = facematch.DetectedFace{Vector: f.Vector, Box: box}
	}

	res, err := h.service.RecognizeAll(r.Context(), faces, req.IncludeUnmatched)
	if err != nil {
		respondServiceError(w, r, h.logger, "batch recognize", err)
		return
	}

	respondJSON(w, http.StatusOK, BatchRecognizeResponse{
		Faces:       res.Faces,
		Count:       len(res.Faces),
		Provisional: res.Provisional,
	})
}
