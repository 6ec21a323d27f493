package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/face-matcher/internal/catalog"
	"github.com/kozaktomas/face-matcher/internal/facematch"
	"github.com/kozaktomas/face-matcher/internal/recognition"
)

var quietLogger = slog.New(slog.DiscardHandler)

// testService creates a recognition service with retrieval 0.5 and acceptance 0.6
func testService(t *testing.T, store catalog.EmbeddingStore, opts ...recognition.Option) *recognition.Service {
	t.Helper()
	searcher, err := facematch.NewSearcher(0.5)
	require.NoError(t, err)
	opts = append([]recognition.Option{recognition.WithLogger(quietLogger)}, opts...)
	svc, err := recognition.NewService(store, searcher, recognition.Policy{
		AcceptSimilarity: 0.6,
		MaxResults:       5,
		BatchConcurrency: 2,
	}, opts...)
	require.NoError(t, err)
	return svc
}

// enroll stores a face through the service
func enroll(t *testing.T, svc *recognition.Service, personID, name string, vector ...float32) {
	t.Helper()
	_, err := svc.Enroll(context.Background(), personID, vector, map[string]any{"name": name})
	require.NoError(t, err, "enroll %s", personID)
}

// jsonRequest creates a request with a JSON body. String bodies are sent as-is.
func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	raw, ok := body.(string)
	if !ok {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		raw = string(encoded)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(raw)))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// requestWithChiParams attaches chi URL parameters to r
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// serve runs handler on req and returns the recorded response
func serve(handler http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	handler(recorder, req)
	return recorder
}

// decodeBody parses a JSON response body into target
func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), target), "body: %s", recorder.Body.String())
}

// requireStatus checks the status code, printing the body on mismatch
func requireStatus(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	require.Equal(t, expected, recorder.Code, "body: %s", recorder.Body.String())
}

// assertJSONError checks that the response carries the expected error message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	var result map[string]string
	decodeBody(t, recorder, &result)
	assert.Equal(t, expected, result["error"])
}
