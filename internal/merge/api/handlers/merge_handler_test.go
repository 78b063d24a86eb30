package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"video_merge_service/internal/merge/domain"
	"video_merge_service/internal/merge/repository"
	errprocess "video_merge_service/pkg/err"
	"video_merge_service/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockMergeUseCase 是 MergeUseCase 的 Mock
type MockMergeUseCase struct {
	mock.Mock
}

func (m *MockMergeUseCase) Merge(ctx context.Context, req domain.MergeReq) (*domain.MergeRes, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*domain.MergeRes)
	return res, args.Error(1)
}

func (m *MockMergeUseCase) GetJob(ctx context.Context, jobID string) (*domain.JobSnapshot, error) {
	args := m.Called(ctx, jobID)
	snap, _ := args.Get(0).(*domain.JobSnapshot)
	return snap, args.Error(1)
}

func newTestApp(uc *MockMergeUseCase) *fiber.App {
	logger.SetNewNop()
	h := NewMergeHandler(uc)
	a := fiber.New()
	a.Post("/merge", h.Merge)
	a.Get("/merge/:id", h.GetJob)
	a.Post("/debug", DebugLogFlag)
	a.Get("/healthz", ConnectCheck)
	return a
}

// multipartRequest builds POST /merge with one part per file plus form fields
func multipartRequest(t *testing.T, files map[string]string, order []string, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for _, name := range order {
		part, err := w.CreateFormFile(FormFiles, name)
		require.NoError(t, err)
		_, err = part.Write([]byte(files[name]))
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/merge", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestMergeHandler_Success(t *testing.T) {
	uc := new(MockMergeUseCase)
	uc.On("Merge", mock.Anything, mock.MatchedBy(func(req domain.MergeReq) bool {
		if len(req.Videos) != 2 || req.Videos[0].FileName != "b.mp4" || req.Videos[1].FileName != "a.mov" {
			return false
		}
		first, _ := io.ReadAll(req.Videos[0].File)
		return string(first) == "BBB" &&
			req.Quality.Preset == "1080p" &&
			req.Quality.Format == "webm" &&
			req.Quality.Framerate != nil && *req.Quality.Framerate == 24 &&
			req.Quality.Compression == nil
	})).Return(&domain.MergeRes{JobID: "job-1", URL: "/merged/merged_job-1.webm"}, nil)

	req := multipartRequest(t,
		map[string]string{"a.mov": "AAA", "b.mp4": "BBB"},
		[]string{"b.mp4", "a.mov"},
		map[string]string{"preset": "1080p", "format": "webm", "framerate": "24"},
	)
	resp, err := newTestApp(uc).Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode(t, resp)
	assert.Equal(t, "/merged/merged_job-1.webm", out["url"])
	assert.Equal(t, "job-1", out["job_id"])
	uc.AssertExpectations(t)
}

func TestMergeHandler_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantKind   string
		wantMsg    string
	}{
		{"validation", errprocess.Validation("at least 2 videos are required, got 1"), http.StatusBadRequest, "validation", "at least 2 videos are required, got 1"},
		{"engine", errprocess.Engine(2, "normalization failed for input 2", errors.New("Invalid data found")), http.StatusInternalServerError, "engine", "normalization failed for input 2"},
		{"resource", errprocess.Resource("failed to create workspace", errors.New("disk full")), http.StatusInternalServerError, "resource", "failed to create workspace"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uc := new(MockMergeUseCase)
			uc.On("Merge", mock.Anything, mock.Anything).Return(nil, tt.err)

			req := multipartRequest(t, map[string]string{"a.mp4": "A"}, []string{"a.mp4"}, nil)
			resp, err := newTestApp(uc).Test(req, -1)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			out := decode(t, resp)
			assert.Equal(t, tt.wantKind, out["kind"])
			assert.Equal(t, tt.wantMsg, out["error"])
			assert.NotContains(t, out["error"], "disk full")
		})
	}
}

func TestMergeHandler_BadQualityFields(t *testing.T) {
	uc := new(MockMergeUseCase)
	for _, field := range []string{"framerate", "compression"} {
		req := multipartRequest(t, map[string]string{"a.mp4": "A", "b.mp4": "B"}, []string{"a.mp4", "b.mp4"},
			map[string]string{field: "fast"})
		resp, err := newTestApp(uc).Test(req, -1)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		out := decode(t, resp)
		assert.Equal(t, "validation", out["kind"])
		assert.Contains(t, out["error"], field)
	}
	uc.AssertNotCalled(t, "Merge", mock.Anything, mock.Anything)
}

func TestMergeHandler_NotMultipart(t *testing.T) {
	uc := new(MockMergeUseCase)
	req := httptest.NewRequest(http.MethodPost, "/merge", bytes.NewBufferString(`{"files":[]}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := newTestApp(uc).Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	uc.AssertNotCalled(t, "Merge", mock.Anything, mock.Anything)
}

func TestGetJobHandler(t *testing.T) {
	uc := new(MockMergeUseCase)
	uc.On("GetJob", mock.Anything, "job-1").Return(&domain.JobSnapshot{JobID: "job-1", Status: domain.JobNormalizing, Inputs: 3}, nil)
	uc.On("GetJob", mock.Anything, "missing").Return(nil, repository.ErrJobNotFound)
	uc.On("GetJob", mock.Anything, "broken").Return(nil, errors.New("connection reset"))
	a := newTestApp(uc)

	resp, err := a.Test(httptest.NewRequest(http.MethodGet, "/merge/job-1", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode(t, resp)
	assert.Equal(t, "job-1", out["job_id"])
	assert.Equal(t, "normalizing", out["status"])

	resp, err = a.Test(httptest.NewRequest(http.MethodGet, "/merge/missing", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = a.Test(httptest.NewRequest(http.MethodGet, "/merge/broken", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.NotContains(t, decode(t, resp)["error"], "connection reset")
}

func TestDebugLogFlag(t *testing.T) {
	a := newTestApp(new(MockMergeUseCase))

	resp, err := a.Test(httptest.NewRequest(http.MethodPost, "/debug?status=true", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, logger.Log.DebugMode())

	resp, err = a.Test(httptest.NewRequest(http.MethodPost, "/debug?status=maybe", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = a.Test(httptest.NewRequest(http.MethodGet, "/healthz", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
