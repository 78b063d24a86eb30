package router

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"video_merge_service/internal/merge/api/handlers"
	"video_merge_service/internal/merge/domain"
	"video_merge_service/pkg/logger"
	"video_merge_service/pkg/middlewares"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubUseCase struct{}

func (stubUseCase) Merge(context.Context, domain.MergeReq) (*domain.MergeRes, error) {
	return &domain.MergeRes{}, nil
}

func (stubUseCase) GetJob(ctx context.Context, id string) (*domain.JobSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &domain.JobSnapshot{JobID: id, Status: domain.JobDone}, nil
}

func TestRegisterRoutes(t *testing.T) {
	logger.SetNewNop()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "merged_a.mp4"), []byte("AB"), 0o644))

	app := fiber.New()
	RegisterRoutes(app, handlers.NewMergeHandler(stubUseCase{}), &Static{Prefix: "/merged", Dir: dir}, middlewares.NewLifetime())

	tests := []struct {
		method string
		path   string
		status int
		body   string
	}{
		{http.MethodGet, "/healthz", http.StatusOK, "merge service start!"},
		{http.MethodGet, "/merge/abc", http.StatusOK, `"job_id":"abc"`},
		{http.MethodGet, "/merged/merged_a.mp4", http.StatusOK, "AB"},
		{http.MethodGet, "/metrics", http.StatusOK, "merge_service_job_duration_seconds"},
		{http.MethodGet, "/merged/nope.mp4", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := app.Test(httptest.NewRequest(tt.method, tt.path, nil), -1)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)
			body, _ := io.ReadAll(resp.Body)
			assert.Contains(t, string(body), tt.body)
		})
	}
}

func TestRegisterRoutes_NoStatic(t *testing.T) {
	logger.SetNewNop()
	app := fiber.New()
	RegisterRoutes(app, handlers.NewMergeHandler(stubUseCase{}), nil, middlewares.NewLifetime())

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/merged/merged_a.mp4", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRegisterRoutes_MergeRunsUnderLifetime(t *testing.T) {
	logger.SetNewNop()
	lt := middlewares.NewLifetime()
	app := fiber.New()
	RegisterRoutes(app, handlers.NewMergeHandler(stubUseCase{}), nil, lt)

	lt.Cancel()
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/merge/abc", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode, "use case sees the cancelled server context")

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/healthz", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
