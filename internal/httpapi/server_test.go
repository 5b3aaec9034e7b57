package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aboutPJS/price-api/internal/cache"
	"github.com/aboutPJS/price-api/internal/pricing"
	"github.com/aboutPJS/price-api/internal/service"
	"github.com/aboutPJS/price-api/internal/storage"
)

var start = time.Date(2025, 8, 7, 10, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, now time.Time, totals ...int64) (*httptest.Server, *Hub) {
	t.Helper()

	store := storage.NewMemoryStore()
	svc := service.New(store, nil, nil, nil, service.Options{
		Location: time.UTC,
		Now:      func() time.Time { return now },
	}, zerolog.Nop())

	records := make([]pricing.PriceRecord, len(totals))
	for i, v := range totals {
		records[i] = pricing.PriceRecord{
			Timestamp:       start.Add(time.Duration(i) * time.Hour),
			SpotPrice:       decimal.NewFromInt(v),
			TransportAndTax: decimal.Zero,
			TotalPrice:      decimal.NewFromInt(v),
		}
	}
	if len(records) > 0 {
		_, err := svc.Ingest(context.Background(), records)
		require.NoError(t, err)
	}

	hub := NewHub(zerolog.Nop())
	srv := httptest.NewServer(NewServer(svc, hub, Limits{MaxWithinHours: 168, MaxDuration: 24}, time.UTC, zerolog.Nop()).Handler())
	t.Cleanup(srv.Close)
	return srv, hub
}

func getJSON(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func scenario() []int64 { return []int64{5, 5, 5, 2, 2, 2, 8, 8, 8, 5, 5, 5} }

func TestCheapestSequenceStart(t *testing.T) {
	srv, _ := newTestServer(t, start, scenario()...)

	status, body := getJSON(t, srv.URL+"/api/v1/cheapest-sequence-start?duration=3&within_hours=12")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "2025-08-07T13:00:00Z", body["start_time"])
	assert.Equal(t, "2025-08-07T16:00:00Z", body["end_time"])
	assert.Equal(t, "03:00", body["time_until"])
	assert.Equal(t, "6", body["total_price"])
	assert.Len(t, body["hours"], 3)

	status, body = getJSON(t, srv.URL+"/api/v1/cheapest-sequence-start?duration=3&format=minutes")
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 180, body["time_until"])
}

func TestCheapestSequenceNotFound(t *testing.T) {
	srv, _ := newTestServer(t, start, scenario()...)

	status, body := getJSON(t, srv.URL+"/api/v1/cheapest-sequence-start?duration=2&within_hours=1")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body["error"], "look ahead window")

	status, _ = getJSON(t, srv.URL+"/api/v1/cheapest-sequence-start?duration=13")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestCheapestHour(t *testing.T) {
	srv, _ := newTestServer(t, start.Add(30*time.Minute), scenario()...)

	status, body := getJSON(t, srv.URL+"/api/v1/cheapest-hour")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "2025-08-07T13:00:00Z", body["start_time"])
	assert.Equal(t, "02:30", body["time_until"])
	assert.Equal(t, string(pricing.TierPrefer), body["tier"])

	status, body = getJSON(t, srv.URL+"/api/v1/cheapest-hour?within_hours=2")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "2025-08-07T11:00:00Z", body["start_time"])
}

func TestCheapestHourNoData(t *testing.T) {
	srv, _ := newTestServer(t, start)

	status, body := getJSON(t, srv.URL+"/api/v1/cheapest-hour")
	assert.Equal(t, http.StatusNotFound, status)
	assert.NotEmpty(t, body["error"])
}

func TestParameterValidation(t *testing.T) {
	srv, _ := newTestServer(t, start, scenario()...)

	cases := []string{
		"/api/v1/cheapest-hour?within_hours=0",
		"/api/v1/cheapest-hour?within_hours=169",
		"/api/v1/cheapest-hour?within_hours=abc",
		"/api/v1/cheapest-hour?format=days",
		"/api/v1/cheapest-sequence-start",
		"/api/v1/cheapest-sequence-start?duration=0",
		"/api/v1/cheapest-sequence-start?duration=25",
		"/api/v1/prices?hours=0",
	}
	for _, path := range cases {
		t.Run(path, func(t *testing.T) {
			status, body := getJSON(t, srv.URL+path)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, start, scenario()...)

	status, body := getJSON(t, srv.URL+"/api/v1/health")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "unknown", body["status"])
	assert.Equal(t, false, body["healthy"])
	assert.Equal(t, true, body["store_reachable"])
	assert.EqualValues(t, 12, body["future_hours"])
	assert.Nil(t, body["last_fetch"])
}

func TestPrices(t *testing.T) {
	srv, _ := newTestServer(t, start.Add(time.Hour), scenario()...)

	status, body := getJSON(t, srv.URL+"/api/v1/prices?hours=3")
	require.Equal(t, http.StatusOK, status)
	prices, ok := body["prices"].([]any)
	require.True(t, ok)
	require.Len(t, prices, 3)
	first := prices[0].(map[string]any)
	assert.Equal(t, "2025-08-07T11:00:00Z", first["start_time"])
	assert.Equal(t, "5", first["total_price"])
}

func TestStreamBroadcast(t *testing.T) {
	srv, hub := newTestServer(t, start)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)

	hub.Broadcast(cache.IngestEvent{RunID: "run-1", Status: "success", Records: 48})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg streamMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "ingest", msg.Type)
	assert.Equal(t, "run-1", msg.Event.RunID)
	assert.Equal(t, 48, msg.Event.Records)
}

func TestTimeUntil(t *testing.T) {
	now := time.Date(2025, 8, 7, 10, 0, 0, 0, time.UTC)

	assert.Equal(t, "02:05", TimeUntil(now.Add(125*time.Minute), now, FormatHours))
	assert.Equal(t, 125, TimeUntil(now.Add(125*time.Minute), now, FormatMinutes))
	assert.Equal(t, "00:00", TimeUntil(now.Add(-time.Hour), now, FormatHours))
	assert.Equal(t, 0, TimeUntil(now, now, FormatMinutes))
	assert.Equal(t, "26:00", TimeUntil(now.Add(26*time.Hour), now, FormatHours))
}
