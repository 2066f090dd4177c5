// pkg/api/handlers_test.go
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/urbanmetrics/trip-ingress/pkg/config"
	"github.com/urbanmetrics/trip-ingress/pkg/connector"
	"github.com/urbanmetrics/trip-ingress/pkg/derive"
	"github.com/urbanmetrics/trip-ingress/pkg/loader"
	"github.com/urbanmetrics/trip-ingress/pkg/model"
	"github.com/urbanmetrics/trip-ingress/pkg/query"
)

func newTestServer(t *testing.T) *gin.Engine {
	t.Helper()
	db, err := sqlx.Open("sqlite", filepath.Join(t.TempDir(), "trips.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	require.NoError(t, connector.EnsureSchema(ctx, db, config.DriverSQLite, "trips"))

	var trips []model.CleanedTripRecord
	for i := 0; i < 4; i++ {
		rec := model.CleanedTripRecord{
			VendorCode:          "2",
			PickupDatetime:      time.Date(2016, 1, 1+i%2, 8, 0, 0, 0, time.UTC),
			DropoffDatetime:     time.Date(2016, 1, 1+i%2, 8, 20, 0, 0, time.UTC),
			PickupLat:           40.7580,
			PickupLon:           -73.9855,
			DropoffLat:          40.7128,
			DropoffLon:          -74.0060,
			PassengerCount:      1,
			TripDistanceKM:      5.0,
			TripDurationSeconds: 1200,
			FareAmount:          20.00,
			TipAmount:           2.00,
		}
		derive.Features(&rec)
		trips = append(trips, rec)
	}
	require.NoError(t, loader.NewSQLSink(db, "trips").InsertBatch(ctx, trips))

	return NewRouter(query.NewRepository(db, "trips"), zap.NewNop())
}

func get(t *testing.T, router *gin.Engine, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

func TestHealth(t *testing.T) {
	router := newTestServer(t)

	w, body := get(t, router, "/health")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "ok", body["status"])
	require.EqualValues(t, 4, body["trips"])
}

func TestIndexListsEndpoints(t *testing.T) {
	router := newTestServer(t)

	w, body := get(t, router, "/")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, body["endpoints"], "/api/summary")
}

func TestSummaryEndpoint(t *testing.T) {
	router := newTestServer(t)

	w, body := get(t, router, "/api/summary")
	require.Equal(t, http.StatusOK, w.Code)
	require.EqualValues(t, 4, body["total_trips"])
	require.EqualValues(t, 20.0, body["avg_fare"])
}

func TestSummaryDateFilter(t *testing.T) {
	router := newTestServer(t)

	w, body := get(t, router, "/api/summary?start_date=2016-01-02")
	require.Equal(t, http.StatusOK, w.Code)
	require.EqualValues(t, 2, body["total_trips"])
}

func TestSummaryRejectsBadDate(t *testing.T) {
	router := newTestServer(t)

	w, body := get(t, router, "/api/summary?start_date=Jan-1-2016")
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, body["error"], "start_date")
}

func TestTripsRejectsNegativeDistance(t *testing.T) {
	router := newTestServer(t)

	w, body := get(t, router, "/api/trips?min_distance=-2")
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, body["error"], "min_distance")
}

func TestTimeSeriesEndpoint(t *testing.T) {
	router := newTestServer(t)

	w, body := get(t, router, "/api/time-series?granularity=day")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "day", body["granularity"])
	points := body["points"].([]interface{})
	require.Len(t, points, 2)
}

func TestTimeSeriesRejectsBadGranularity(t *testing.T) {
	router := newTestServer(t)

	w, _ := get(t, router, "/api/time-series?granularity=century")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHotspotsEndpoint(t *testing.T) {
	router := newTestServer(t)

	w, body := get(t, router, "/api/hotspots?limit=5")
	require.Equal(t, http.StatusOK, w.Code)
	cells := body["hotspots"].([]interface{})
	require.NotEmpty(t, cells)
	top := cells[0].(map[string]interface{})
	require.EqualValues(t, 4, top["trips"])
}

func TestFareStatsEndpoint(t *testing.T) {
	router := newTestServer(t)

	w, body := get(t, router, "/api/fare-stats")
	require.Equal(t, http.StatusOK, w.Code)
	byHour := body["by_hour"].([]interface{})
	require.Len(t, byHour, 1)
	h := byHour[0].(map[string]interface{})
	require.EqualValues(t, 8, h["hour_of_day"])
	require.EqualValues(t, 0, h["stddev_fare"], "all fares equal")
}

func TestTopRoutesEndpoint(t *testing.T) {
	router := newTestServer(t)

	w, body := get(t, router, "/api/top-routes")
	require.Equal(t, http.StatusOK, w.Code)
	routes := body["routes"].([]interface{})
	require.Len(t, routes, 1)
}

func TestTripsEndpointPaginates(t *testing.T) {
	router := newTestServer(t)

	w, body := get(t, router, "/api/trips?page=1&limit=3")
	require.Equal(t, http.StatusOK, w.Code)
	require.EqualValues(t, 1, body["page"])
	require.EqualValues(t, 3, body["limit"])
	require.EqualValues(t, 4, body["total"])
	require.Len(t, body["rows"].([]interface{}), 3)

	_, body = get(t, router, "/api/trips?page=2&limit=3")
	require.Len(t, body["rows"].([]interface{}), 1)
}

func TestInsightsEndpoint(t *testing.T) {
	router := newTestServer(t)

	w, body := get(t, router, "/api/insights")
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, body["busiest_hours"])
	require.NotEmpty(t, body["morning_hotspots"], "all seeded pickups are at 08:00")
}

func TestCORSPreflight(t *testing.T) {
	router := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/summary", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
