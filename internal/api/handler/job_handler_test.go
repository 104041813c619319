package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/postpilot/publish-scheduler/internal/api/dto"
	"github.com/postpilot/publish-scheduler/internal/api/identity"
	"github.com/postpilot/publish-scheduler/internal/domain"
	"github.com/postpilot/publish-scheduler/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeJobStore struct {
	createdJob *domain.ScheduledJob
	createErr  error

	getJob *domain.ScheduledJob
	getErr error

	listJobs  []domain.ScheduledJob
	listErr   error
	gotFilter store.JobFilter
}

func (f *fakeJobStore) CreateJob(ctx context.Context, job *domain.ScheduledJob) error {
	f.createdJob = job
	return f.createErr
}

func (f *fakeJobStore) GetJob(ctx context.Context, jobID string) (*domain.ScheduledJob, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.getJob, nil
}

func (f *fakeJobStore) ListJobs(ctx context.Context, filter store.JobFilter) ([]domain.ScheduledJob, error) {
	f.gotFilter = filter
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.listJobs, nil
}

func newTestHandler(s JobStore) *SchedulerHandler {
	return NewSchedulerHandler(&Dependencies{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Store:  s,
	})
}

// withIdentity mimics the identity middleware for handler-level tests
func withIdentity(userID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID != "" {
			ctx := identity.NewContext(c.Request.Context(), identity.Identity{UserID: userID})
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	}
}

func setupRouter(h *SchedulerHandler, userID string) *gin.Engine {
	r := gin.New()
	g := r.Group("/scheduler", withIdentity(userID))
	g.POST("/schedule", h.Schedule)
	g.GET("/jobs", h.ListJobs)
	g.GET("/jobs/:job_id", h.GetJob)
	return r
}

func scheduleBody(t *testing.T, platform string) *bytes.Buffer {
	t.Helper()
	body, err := json.Marshal(dto.ScheduleRequest{
		ContentItemID:      "content-1",
		ConnectedAccountID: "account-1",
		Platform:           platform,
		ScheduledAt:        time.Now().UTC().Add(time.Hour),
	})
	require.NoError(t, err)
	return bytes.NewBuffer(body)
}

func TestSchedulerHandler_Schedule(t *testing.T) {
	t.Run("creates pending job", func(t *testing.T) {
		fs := &fakeJobStore{}
		r := setupRouter(newTestHandler(fs), "user-1")

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/scheduler/schedule", scheduleBody(t, "LINKEDIN"))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)

		require.Equal(t, http.StatusCreated, w.Code)
		require.NotNil(t, fs.createdJob)
		assert.Equal(t, "user-1", fs.createdJob.UserID)
		assert.Equal(t, domain.JobStatusPending, fs.createdJob.Status)
		assert.Zero(t, fs.createdJob.RetryCount)
		_, err := uuid.Parse(fs.createdJob.JobID)
		assert.NoError(t, err)

		var resp dto.JobDTO
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, fs.createdJob.JobID, resp.JobID)
		assert.Equal(t, "PENDING", resp.Status)
	})

	t.Run("rejects missing identity", func(t *testing.T) {
		fs := &fakeJobStore{}
		r := setupRouter(newTestHandler(fs), "")

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/scheduler/schedule", scheduleBody(t, "LINKEDIN"))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Nil(t, fs.createdJob)
	})

	t.Run("rejects missing fields", func(t *testing.T) {
		fs := &fakeJobStore{}
		r := setupRouter(newTestHandler(fs), "user-1")

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/scheduler/schedule",
			bytes.NewBufferString(`{"platform": "LINKEDIN"}`))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects unknown platform", func(t *testing.T) {
		fs := &fakeJobStore{}
		r := setupRouter(newTestHandler(fs), "user-1")

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/scheduler/schedule", scheduleBody(t, "MYSPACE"))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Nil(t, fs.createdJob)
	})

	t.Run("store failure is a server error", func(t *testing.T) {
		fs := &fakeJobStore{createErr: errors.New("connection refused")}
		r := setupRouter(newTestHandler(fs), "user-1")

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/scheduler/schedule", scheduleBody(t, "LINKEDIN"))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestSchedulerHandler_GetJob(t *testing.T) {
	jobID := uuid.New().String()

	ownedJob := &domain.ScheduledJob{
		JobID:            jobID,
		UserID:           "user-1",
		Platform:         domain.PlatformLinkedIn,
		Status:           domain.JobStatusFailed,
		RetryCount:       2,
		LastErrorCode:    sql.NullString{String: domain.ErrCodeRateLimited, Valid: true},
		LastErrorMessage: sql.NullString{String: "rate limited", Valid: true},
	}

	t.Run("owner sees the job", func(t *testing.T) {
		fs := &fakeJobStore{getJob: ownedJob}
		r := setupRouter(newTestHandler(fs), "user-1")

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/scheduler/jobs/"+jobID, nil))

		require.Equal(t, http.StatusOK, w.Code)

		var resp dto.JobDTO
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, jobID, resp.JobID)
		assert.Equal(t, "FAILED", resp.Status)
		assert.Equal(t, domain.ErrCodeRateLimited, resp.ErrorCode)
		assert.Equal(t, 2, resp.RetryCount)
	})

	t.Run("another user's job reads as not found", func(t *testing.T) {
		fs := &fakeJobStore{getJob: ownedJob}
		r := setupRouter(newTestHandler(fs), "user-2")

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/scheduler/jobs/"+jobID, nil))

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("missing job", func(t *testing.T) {
		fs := &fakeJobStore{getErr: domain.ErrJobNotFound}
		r := setupRouter(newTestHandler(fs), "user-1")

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/scheduler/jobs/"+uuid.New().String(), nil))

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("malformed job id", func(t *testing.T) {
		fs := &fakeJobStore{}
		r := setupRouter(newTestHandler(fs), "user-1")

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/scheduler/jobs/not-a-uuid", nil))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestSchedulerHandler_ListJobs(t *testing.T) {
	makeJobs := func(n int) []domain.ScheduledJob {
		jobs := make([]domain.ScheduledJob, n)
		base := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
		for i := range jobs {
			jobs[i] = domain.ScheduledJob{
				JobID:     fmt.Sprintf("job-%d", i),
				UserID:    "user-1",
				Platform:  domain.PlatformLinkedIn,
				Status:    domain.JobStatusPending,
				CreatedAt: base.Add(-time.Duration(i) * time.Minute),
			}
		}
		return jobs
	}

	t.Run("scopes the filter to the caller", func(t *testing.T) {
		fs := &fakeJobStore{listJobs: makeJobs(2)}
		r := setupRouter(newTestHandler(fs), "user-1")

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
			"/scheduler/jobs?platform=LINKEDIN&status=PENDING", nil))

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "user-1", fs.gotFilter.UserID)
		assert.Equal(t, "LINKEDIN", fs.gotFilter.Platform)
		assert.Equal(t, "PENDING", fs.gotFilter.Status)
		assert.Equal(t, 20, fs.gotFilter.PageSize)

		var resp dto.ListJobsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Len(t, resp.Jobs, 2)
		assert.Empty(t, resp.NextCursor)
	})

	t.Run("next cursor on a full page", func(t *testing.T) {
		fs := &fakeJobStore{listJobs: makeJobs(3)}
		r := setupRouter(newTestHandler(fs), "user-1")

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/scheduler/jobs?page_size=2", nil))

		require.Equal(t, http.StatusOK, w.Code)

		var resp dto.ListJobsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Len(t, resp.Jobs, 2)
		require.NotEmpty(t, resp.NextCursor)

		// The cursor round-trips to the last returned job
		cursor, err := DecodeJobCursor(resp.NextCursor)
		require.NoError(t, err)
		assert.Equal(t, "job-1", cursor.JobID)
	})

	t.Run("page size is clamped", func(t *testing.T) {
		fs := &fakeJobStore{}
		r := setupRouter(newTestHandler(fs), "user-1")

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/scheduler/jobs?page_size=500", nil))

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 100, fs.gotFilter.PageSize)
	})

	t.Run("rejects malformed cursor", func(t *testing.T) {
		fs := &fakeJobStore{}
		r := setupRouter(newTestHandler(fs), "user-1")

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/scheduler/jobs?cursor=%21%21%21", nil))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
