package apify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("test-token",
		WithBaseURL(srv.URL),
		WithRateLimit(1000, 1000),
		WithRetry(3, time.Millisecond),
	)
}

func TestCreateRun(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/acts/actor-1/runs", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var input map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&input))
		assert.Equal(t, "place-1", input["placeId"])

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"data": Run{ID: "run-123", Status: StatusReady, DefaultDatasetID: "ds-1"},
		})
	})

	run, err := c.CreateRun(context.Background(), "actor-1", json.RawMessage(`{"placeId":"place-1"}`))
	require.NoError(t, err)
	assert.Equal(t, "run-123", run.ID)
	assert.Equal(t, StatusReady, run.Status)
}

func TestGetRun_Statuses(t *testing.T) {
	finished := time.Now().Add(-time.Hour)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/actor-runs/run-123", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"data": Run{ID: "run-123", Status: StatusSucceeded, FinishedAt: &finished, DefaultDatasetID: "ds-9"},
		})
	})

	run, err := c.GetRun(context.Background(), "run-123")
	require.NoError(t, err)
	assert.True(t, run.Finished())
	assert.True(t, run.Succeeded())
	assert.Equal(t, "ds-9", run.DefaultDatasetID)
}

func TestGetDatasetItems(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/datasets/ds-1/items", r.URL.Path)
		json.NewEncoder(w).Encode([]map[string]any{
			{"text": "Ottimo", "rating": 5},
			{"text": "Buono", "rating": 4},
		})
	})

	items, err := c.GetDatasetItems(context.Background(), "ds-1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Ottimo", items[0]["text"])
}

func TestRetryOn429(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate limited"}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"data": Run{ID: "run-1", Status: StatusRunning}})
	})

	run, err := c.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", run.ID)
	assert.Equal(t, int32(3), calls.Load())
}

func TestNoRetryOnOtherErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid input"}`))
	})

	_, err := c.GetRun(context.Background(), "run-1")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "invalid input")
	assert.Equal(t, int32(1), calls.Load())
}

func TestRetryCeiling(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.GetRun(context.Background(), "run-1")
	require.Error(t, err)
	assert.True(t, IsRateLimited(err))
	assert.Equal(t, int32(3), calls.Load())
}

func TestDeleteRun(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/actor-runs/run-old", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, c.DeleteRun(context.Background(), "run-old"))
}

func TestListRuns_Pagination(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/actor-runs", r.URL.Path)
		assert.Equal(t, "10", r.URL.Query().Get("offset"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		json.NewEncoder(w).Encode(map[string]any{
			"data": RunList{Total: 12, Offset: 10, Items: []Run{{ID: "run-11"}, {ID: "run-12"}}},
		})
	})

	page, err := c.ListRuns(context.Background(), 10, 5)
	require.NoError(t, err)
	assert.Equal(t, 12, page.Total)
	require.Len(t, page.Items, 2)
}
