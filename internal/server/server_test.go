package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/slotline/slotline/internal/config"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := &config.Config{
		Server: config.ServerConfig{Host: "localhost", Port: 0, Mode: "test"},
		Database: config.DatabaseConfig{
			Type: "sqlite",
			Path: fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()),
		},
		Scheduler: config.SchedulerConfig{
			MaxWorkers:     2,
			QueueSize:      32,
			MisfireGrace:   "5m",
			HealthInterval: "1h",
			StatsInterval:  "1h",
			Timezone:       "UTC",
		},
		Optimizer: config.OptimizerConfig{
			MinGapMinutes:  30,
			SearchDays:     3,
			ClusterWindow:  2,
			ClusterMaximum: 3,
		},
		Notifications: config.NotificationsConfig{RatePerMinute: 60},
		Publisher:     config.PublisherConfig{DryRun: true},
	}

	srv, err := NewServer(cfg, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, srv.Scheduler.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Scheduler.Stop(ctx)
	})

	return srv
}

func doRequest(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, into interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), into), "body: %s", w.Body.String())
}

type scheduleEnvelope struct {
	Schedule struct {
		ID            uint      `json:"id"`
		Status        string    `json:"status"`
		ScheduledTime time.Time `json:"scheduled_time"`
	} `json:"schedule"`
	Validation struct {
		Valid    bool     `json:"is_valid"`
		Errors   []string `json:"errors"`
		Warnings []string `json:"warnings"`
	} `json:"validation"`
}

func createTestContent(t *testing.T, srv *Server) uint {
	t.Helper()

	w := doRequest(t, srv, http.MethodPost, "/api/v1/content", map[string]interface{}{
		"title":        "Quarterly engineering update",
		"content":      "A longer body that walks through the quarterly numbers in enough detail to hold a reader from the opening paragraph to the closing call to action.",
		"content_type": "article",
		"platforms":    []string{"linkedin", "twitter"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Content struct {
			ID uint `json:"id"`
		} `json:"content"`
	}
	decodeBody(t, w, &resp)
	require.NotZero(t, resp.Content.ID)
	return resp.Content.ID
}

func createTestSchedule(t *testing.T, srv *Server, itemID uint, at time.Time) scheduleEnvelope {
	t.Helper()

	w := doRequest(t, srv, http.MethodPost, "/api/v1/schedules", map[string]interface{}{
		"content_item_id": itemID,
		"scheduled_time":  at.Format(time.RFC3339),
		"priority":        5,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp scheduleEnvelope
	decodeBody(t, w, &resp)
	require.NotZero(t, resp.Schedule.ID)
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	w := doRequest(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestContentAndScheduleLifecycle(t *testing.T) {
	srv := newTestServer(t)
	itemID := createTestContent(t, srv)

	created := createTestSchedule(t, srv, itemID, time.Now().Add(48*time.Hour))
	assert.True(t, created.Validation.Valid)
	assert.Equal(t, "scheduled", created.Schedule.Status)

	w := doRequest(t, srv, http.MethodGet, fmt.Sprintf("/api/v1/schedules/%d", created.Schedule.ID), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, srv, http.MethodGet, "/api/v1/schedules?status=scheduled", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Count int `json:"count"`
	}
	decodeBody(t, w, &list)
	assert.Equal(t, 1, list.Count)

	// Content with a pending schedule cannot be deleted.
	w = doRequest(t, srv, http.MethodDelete, fmt.Sprintf("/api/v1/content/%d", itemID), nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doRequest(t, srv, http.MethodPost, fmt.Sprintf("/api/v1/schedules/%d/cancel", created.Schedule.ID), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// A second cancel hits the status guard.
	w = doRequest(t, srv, http.MethodPost, fmt.Sprintf("/api/v1/schedules/%d/cancel", created.Schedule.ID), nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	// After cancellation the content is deletable.
	w = doRequest(t, srv, http.MethodDelete, fmt.Sprintf("/api/v1/content/%d", itemID), nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCreateScheduleRejectsPastTime(t *testing.T) {
	srv := newTestServer(t)
	itemID := createTestContent(t, srv)

	w := doRequest(t, srv, http.MethodPost, "/api/v1/schedules", map[string]interface{}{
		"content_item_id": itemID,
		"scheduled_time":  time.Now().Add(-2 * time.Hour).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())

	var resp struct {
		Validation struct {
			Valid  bool     `json:"is_valid"`
			Errors []string `json:"errors"`
		} `json:"validation"`
	}
	decodeBody(t, w, &resp)
	assert.False(t, resp.Validation.Valid)
	assert.NotEmpty(t, resp.Validation.Errors)
}

func TestScheduleNotFoundAndBadID(t *testing.T) {
	srv := newTestServer(t)

	w := doRequest(t, srv, http.MethodGet, "/api/v1/schedules/9999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(t, srv, http.MethodPost, "/api/v1/schedules/9999/cancel", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(t, srv, http.MethodGet, "/api/v1/schedules/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, srv, http.MethodGet, "/api/v1/schedules?status=nonsense", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRescheduleEndpointMovesSchedule(t *testing.T) {
	srv := newTestServer(t)
	itemID := createTestContent(t, srv)
	created := createTestSchedule(t, srv, itemID, time.Now().Add(48*time.Hour))

	newTime := time.Now().Add(72 * time.Hour).Truncate(time.Second)
	w := doRequest(t, srv, http.MethodPut, fmt.Sprintf("/api/v1/schedules/%d/time", created.Schedule.ID),
		map[string]interface{}{"scheduled_time": newTime.Format(time.RFC3339)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp scheduleEnvelope
	decodeBody(t, w, &resp)
	assert.Equal(t, newTime.Unix(), resp.Schedule.ScheduledTime.Unix())
}

func TestValidateEndpointFlagsTightSpacing(t *testing.T) {
	srv := newTestServer(t)
	itemID := createTestContent(t, srv)

	base := time.Now().Add(48 * time.Hour)
	w := doRequest(t, srv, http.MethodPost, "/api/v1/schedules/validate", map[string]interface{}{
		"schedules": []map[string]interface{}{
			{"content_item_id": itemID, "scheduled_time": base.Format(time.RFC3339)},
			{"content_item_id": itemID, "scheduled_time": base.Add(10 * time.Minute).Format(time.RFC3339)},
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Results []struct {
			Valid    bool     `json:"is_valid"`
			Warnings []string `json:"warnings"`
		} `json:"results"`
	}
	decodeBody(t, w, &resp)
	require.Len(t, resp.Results, 2)
	for _, result := range resp.Results {
		assert.True(t, result.Valid)
		assert.NotEmpty(t, result.Warnings)
	}
}

func TestConflictDetectionAndResolution(t *testing.T) {
	srv := newTestServer(t)
	itemID := createTestContent(t, srv)

	base := time.Now().Add(48 * time.Hour).Truncate(time.Hour)
	createTestSchedule(t, srv, itemID, base)
	createTestSchedule(t, srv, itemID, base.Add(10*time.Minute))

	w := doRequest(t, srv, http.MethodGet, "/api/v1/conflicts", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var detect struct {
		Count int `json:"count"`
	}
	decodeBody(t, w, &detect)
	require.GreaterOrEqual(t, detect.Count, 1)

	w = doRequest(t, srv, http.MethodPost, "/api/v1/conflicts/resolve?apply=true", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resolve struct {
		Report struct {
			Total    int `json:"total_conflicts"`
			Resolved int `json:"resolved"`
		} `json:"report"`
		Applied int `json:"applied"`
	}
	decodeBody(t, w, &resolve)
	assert.GreaterOrEqual(t, resolve.Report.Resolved, 1)
	assert.GreaterOrEqual(t, resolve.Applied, 1)
}

func TestSuggestionsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	w := doRequest(t, srv, http.MethodGet, "/api/v1/suggestions?content_type=video&count=3", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Suggestions []struct {
			Score float64 `json:"score"`
		} `json:"suggestions"`
	}
	decodeBody(t, w, &resp)
	assert.Len(t, resp.Suggestions, 3)

	w = doRequest(t, srv, http.MethodGet, "/api/v1/suggestions?content_type=hologram", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestJobsStatsAndErrorsEndpoints(t *testing.T) {
	srv := newTestServer(t)
	itemID := createTestContent(t, srv)
	createTestSchedule(t, srv, itemID, time.Now().Add(48*time.Hour))

	w := doRequest(t, srv, http.MethodGet, "/api/v1/jobs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var jobs struct {
		Count int `json:"count"`
	}
	decodeBody(t, w, &jobs)
	assert.Equal(t, 1, jobs.Count)

	w = doRequest(t, srv, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats struct {
		Running    bool `json:"running"`
		ActiveJobs int  `json:"active_jobs"`
	}
	decodeBody(t, w, &stats)
	assert.True(t, stats.Running)
	assert.Equal(t, 1, stats.ActiveJobs)

	w = doRequest(t, srv, http.MethodGet, "/api/v1/stats/system", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, srv, http.MethodGet, "/api/v1/errors", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var errs struct {
		Count int `json:"count"`
	}
	decodeBody(t, w, &errs)
	assert.Zero(t, errs.Count)
}

func TestPlatformsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	w := doRequest(t, srv, http.MethodGet, "/api/v1/platforms", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Platforms []string `json:"platforms"`
	}
	decodeBody(t, w, &resp)
	assert.Len(t, resp.Platforms, 5)
}
