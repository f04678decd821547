package visit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/internal/repositories/memory"
	"github.com/Ramsey-B/fern/pkg/crossing"
	"github.com/Ramsey-B/fern/pkg/middleware"
	"github.com/Ramsey-B/fern/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func newServer(recorder VisitRecorder, visits VisitLister) *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = middleware.Error(testLogger())
	e.Use(middleware.Context())
	NewHandler(recorder, visits, testLogger()).Register(e.Group("/api/v1"))
	return e
}

func post(e *echo.Echo, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/visits", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

type stubRecorder struct {
	result *crossing.CrossingResult
	err    error
}

func (s stubRecorder) RecordVisit(ctx context.Context, in models.VisitInput) (*crossing.CrossingResult, error) {
	return s.result, s.err
}

func TestHandler_RecordVisit(t *testing.T) {
	visits := memory.NewVisitStore()
	engine := crossing.NewEngine(visits, memory.NewCrossingCounter(), memory.NewRelationshipAggregator(), testLogger(), crossing.DefaultConfig())
	e := newServer(engine, visits)

	rec := post(e, `{"user_id":"alice","venue_id":"cafe","venue_name":"Cafe","latitude":40.7,"longitude":-74.0}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = post(e, `{"user_id":"bob","venue_id":"cafe","venue_name":"Cafe","latitude":40.7,"longitude":-74.0}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var result crossing.CrossingResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "bob", result.Visit.UserID)
	assert.Equal(t, 1, result.NewCrossings)
	assert.Equal(t, 1, result.RelationshipsCreated)
	require.Len(t, result.Crossings, 1)
	assert.Equal(t, "alice", result.Crossings[0].OtherUserID)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/bob/visits", nil)
	list := httptest.NewRecorder()
	e.ServeHTTP(list, req)
	require.Equal(t, http.StatusOK, list.Code)

	var stored []models.Visit
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &stored))
	assert.Len(t, stored, 1)
}

func TestHandler_RecordVisit_Errors(t *testing.T) {
	storage := errors.New("storage unavailable")
	valid := `{"user_id":"alice","venue_id":"cafe","venue_name":"Cafe","latitude":1,"longitude":2}`

	tests := []struct {
		name     string
		body     string
		recorder stubRecorder
		status   int
		contains string
	}{
		{name: "malformed body", body: `{"user_id":`, status: http.StatusBadRequest, contains: "invalid request body"},
		{name: "missing venue", body: `{"user_id":"alice","venue_name":"Cafe"}`, status: http.StatusBadRequest, contains: "VenueID"},
		{name: "bad latitude", body: `{"user_id":"alice","venue_id":"cafe","venue_name":"Cafe","latitude":120}`, status: http.StatusBadRequest, contains: "Latitude"},
		{
			name:     "write failure",
			body:     valid,
			recorder: stubRecorder{err: &crossing.WriteFailure{UserID: "alice", VenueID: "cafe", Err: storage}},
			status:   http.StatusServiceUnavailable,
			contains: "visit could not be recorded",
		},
		{
			name:     "lookup failure",
			body:     valid,
			recorder: stubRecorder{result: &crossing.CrossingResult{}, err: &crossing.LookupFailure{VisitID: "visit-1", VenueID: "cafe", Err: storage}},
			status:   http.StatusServiceUnavailable,
			contains: "visit-1",
		},
		{
			name: "pair failures",
			body: valid,
			recorder: stubRecorder{result: &crossing.CrossingResult{
				Visit:    &models.Visit{ID: "visit-1"},
				Failures: []crossing.PairUpdateFailure{{OtherUserID: "bob", Stage: crossing.StageCounter, Err: storage}},
			}},
			status:   http.StatusMultiStatus,
			contains: "storage unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newServer(tt.recorder, memory.NewVisitStore())
			rec := post(e, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.contains)
		})
	}
}

func TestHandler_ListUserVisits_BadLimit(t *testing.T) {
	e := newServer(stubRecorder{}, memory.NewVisitStore())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/alice/visits?limit=zero", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
