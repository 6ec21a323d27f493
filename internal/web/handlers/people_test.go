package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/face-matcher/internal/catalog"
	"github.com/kozaktomas/face-matcher/internal/catalog/mock"
)

func enrollRequest(t *testing.T, personID string, body any) *http.Request {
	t.Helper()
	return requestWithChiParams(jsonRequest(t, "POST", "/api/v1/people/"+personID+"/enroll", body),
		map[string]string{"personID": personID})
}

func TestPeopleHandler_Enroll(t *testing.T) {
	store := catalog.NewMemory(3)
	handler := NewPeopleHandler(testService(t, store), nil, quietLogger)

	body := EnrollRequest{Vector: []float32{1, 0, 0}, Metadata: map[string]any{"name": "Alice"}}
	recorder := serve(handler.Enroll, enrollRequest(t, "u1", body))

	requireStatus(t, recorder, http.StatusCreated)
	var resp EnrollResponse
	decodeBody(t, recorder, &resp)
	assert.Equal(t, EnrollResponse{PersonID: "u1", RecordID: catalog.RecordID("u1")}, resp)

	rec, ok := store.Get(resp.RecordID)
	require.True(t, ok, "record must be stored")
	assert.Equal(t, "Alice", rec.Metadata.String("name"))
}

func TestPeopleHandler_Enroll_WideIntegerMetadata(t *testing.T) {
	store := catalog.NewMemory(3)
	handler := NewPeopleHandler(testService(t, store), nil, quietLogger)

	recorder := serve(handler.Enroll,
		enrollRequest(t, "u1", `{"vector":[1,0,0],"metadata":{"employee_no":3000000000}}`))

	requireStatus(t, recorder, http.StatusCreated)
	rec, ok := store.Get(catalog.RecordID("u1"))
	require.True(t, ok)
	assert.Equal(t, "3000000000", rec.Metadata.String("employee_no"))
}

func TestPeopleHandler_Enroll_ReplacesPreviousFace(t *testing.T) {
	store := catalog.NewMemory(3)
	handler := NewPeopleHandler(testService(t, store), nil, quietLogger)

	for _, v := range [][]float32{{1, 0, 0}, {0, 1, 0}} {
		recorder := serve(handler.Enroll, enrollRequest(t, "u1", EnrollRequest{Vector: v}))
		requireStatus(t, recorder, http.StatusCreated)
	}

	assert.Equal(t, 1, store.Len())
	rec, _ := store.Get(catalog.RecordID("u1"))
	assert.Equal(t, []float32{0, 1, 0}, rec.Vector)
}

func TestPeopleHandler_Enroll_BadRequests(t *testing.T) {
	store := catalog.NewMemory(3)
	handler := NewPeopleHandler(testService(t, store), nil, quietLogger)

	tests := []struct {
		name   string
		params map[string]string
		body   any
	}{
		{"missing person", map[string]string{}, EnrollRequest{Vector: []float32{1, 0, 0}}},
		{"malformed JSON", map[string]string{"personID": "u1"}, "{"},
		{"wrong dimension", map[string]string{"personID": "u1"}, EnrollRequest{Vector: []float32{1, 0}}},
		{"empty vector", map[string]string{"personID": "u1"}, EnrollRequest{}},
		{"fractional metadata", map[string]string{"personID": "u1"}, `{"vector":[1,0,0],"metadata":{"score":0.5}}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := requestWithChiParams(jsonRequest(t, "POST", "/api/v1/people/x/enroll", tc.body), tc.params)
			recorder := serve(handler.Enroll, req)
			requireStatus(t, recorder, http.StatusBadRequest)
		})
	}

	assert.Zero(t, store.Len(), "rejected requests must not store anything")
}

func TestPeopleHandler_Enroll_Unavailable(t *testing.T) {
	store := mock.NewStore(3)
	store.SetUpsertError(catalog.Unavailable("upsert", context.DeadlineExceeded))
	handler := NewPeopleHandler(testService(t, store), nil, quietLogger)

	recorder := serve(handler.Enroll, enrollRequest(t, "u1", EnrollRequest{Vector: []float32{1, 0, 0}}))

	requireStatus(t, recorder, http.StatusServiceUnavailable)
}

func TestPeopleHandler_Remove(t *testing.T) {
	store := catalog.NewMemory(3)
	svc := testService(t, store)
	enroll(t, svc, "u1", "Alice", 1, 0, 0)
	handler := NewPeopleHandler(svc, nil, quietLogger)

	for _, personID := range []string{"u1", "unknown"} {
		req := requestWithChiParams(httptest.NewRequest("DELETE", "/api/v1/people/"+personID, nil),
			map[string]string{"personID": personID})
		recorder := serve(handler.Remove, req)

		requireStatus(t, recorder, http.StatusOK)
		assert.JSONEq(t, `{"person_id":"`+personID+`","removed":true}`, recorder.Body.String())
	}

	assert.Zero(t, store.Len())
}

func TestPeopleHandler_List(t *testing.T) {
	svc := testService(t, catalog.NewMemory(3))
	enroll(t, svc, "u1", "Alice", 1, 0, 0)
	enroll(t, svc, "u2", "Bob", 0, 1, 0)
	enroll(t, svc, "u3", "Carol", 0, 0, 1)
	handler := NewPeopleHandler(svc, nil, quietLogger)

	t.Run("default page", func(t *testing.T) {
		recorder := serve(handler.List, httptest.NewRequest("GET", "/api/v1/people", nil))

		requireStatus(t, recorder, http.StatusOK)
		var resp PeopleListResponse
		decodeBody(t, recorder, &resp)
		assert.Equal(t, 3, resp.Count)
		assert.Equal(t, 3, resp.Total)
		assert.Equal(t, 0, resp.Offset)
		assert.Equal(t, 50, resp.Limit)
		require.Len(t, resp.People, 3)
		assert.Equal(t, "u1", resp.People[0].PersonID)
		assert.Equal(t, "Alice", resp.People[0].Name)
		assert.Equal(t, catalog.RecordID("u1"), resp.People[0].RecordID)
	})

	t.Run("window", func(t *testing.T) {
		recorder := serve(handler.List, httptest.NewRequest("GET", "/api/v1/people?offset=1&limit=1", nil))

		requireStatus(t, recorder, http.StatusOK)
		var resp PeopleListResponse
		decodeBody(t, recorder, &resp)
		require.Len(t, resp.People, 1)
		assert.Equal(t, "Bob", resp.People[0].Name)
		assert.Equal(t, 3, resp.Total)
	})

	t.Run("past the end", func(t *testing.T) {
		recorder := serve(handler.List, httptest.NewRequest("GET", "/api/v1/people?offset=10", nil))

		requireStatus(t, recorder, http.StatusOK)
		assert.Contains(t, recorder.Body.String(), `"people":[]`)
	})

	t.Run("limit is capped", func(t *testing.T) {
		recorder := serve(handler.List, httptest.NewRequest("GET", "/api/v1/people?limit=100000", nil))

		requireStatus(t, recorder, http.StatusOK)
		var resp PeopleListResponse
		decodeBody(t, recorder, &resp)
		assert.Equal(t, 500, resp.Limit)
	})

	for _, query := range []string{"offset=-1", "offset=x", "limit=0", "limit=abc"} {
		t.Run("bad "+query, func(t *testing.T) {
			recorder := serve(handler.List, httptest.NewRequest("GET", "/api/v1/people?"+query, nil))
			requireStatus(t, recorder, http.StatusBadRequest)
		})
	}
}

func TestPeopleHandler_List_Unavailable(t *testing.T) {
	store := mock.NewStore(3)
	store.ListError = catalog.Unavailable("list", context.DeadlineExceeded)
	handler := NewPeopleHandler(testService(t, store), nil, quietLogger)

	recorder := serve(handler.List, httptest.NewRequest("GET", "/api/v1/people", nil))

	requireStatus(t, recorder, http.StatusServiceUnavailable)
	assertJSONError(t, recorder, errCatalogUnavailable)
}

func TestPeopleHandler_InvalidatesStats(t *testing.T) {
	svc := testService(t, catalog.NewMemory(3))
	stats := NewStatsHandler(svc, quietLogger)
	handler := NewPeopleHandler(svc, stats, quietLogger)

	records := func() int {
		recorder := serve(stats.Get, httptest.NewRequest("GET", "/api/v1/stats", nil))
		requireStatus(t, recorder, http.StatusOK)
		var resp StatsResponse
		decodeBody(t, recorder, &resp)
		return resp.Records
	}

	require.Equal(t, 0, records())
	requireStatus(t, serve(handler.Enroll, enrollRequest(t, "u1", EnrollRequest{Vector: []float32{1, 0, 0}})),
		http.StatusCreated)
	assert.Equal(t, 1, records(), "enroll must invalidate cached stats")
}
