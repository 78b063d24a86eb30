package handlers

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"

	"video_merge_service/internal/merge/app"
	"video_merge_service/internal/merge/domain"
	"video_merge_service/internal/merge/repository"
	errprocess "video_merge_service/pkg/err"
	"video_merge_service/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// FormFiles multipart field carrying the uploads, in merge order
const FormFiles = "files"

// MergeHandler merge http handler
type MergeHandler struct {
	Usecase app.MergeUseCase
}

// NewMergeHandler create merge handler
func NewMergeHandler(usecase app.MergeUseCase) *MergeHandler {
	return &MergeHandler{Usecase: usecase}
}

// Merge godoc
// @Summary Merge videos
// @Description Normalizes every uploaded video to one quality profile and joins them in upload order
// @Tags Merge
// @Accept multipart/form-data
// @Produce json
// @Param files formData file true "Videos, at least 2, in merge order"
// @Param preset formData string false "480p, 720p, 1080p, 2160p or 4k"
// @Param resolution formData string false "WxH override"
// @Param bitrate formData string false "video bitrate override, e.g. 2500k"
// @Param framerate formData int false "1..60"
// @Param compression formData int false "tier 0..3"
// @Param format formData string false "mp4, webm or mov"
// @Success 200 {object} map[string]string "url and job_id"
// @Failure 400 {object} map[string]string "Validation error"
// @Failure 500 {object} map[string]string "Engine or resource error"
// @Router /merge [post]
func (h *MergeHandler) Merge(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return writeError(c, errprocess.Validation("invalid multipart form"))
	}

	sel, err := parseQuality(c)
	if err != nil {
		return writeError(c, err)
	}

	uploads := form.File[FormFiles]
	files := make([]multipart.File, 0, len(uploads))
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()

	videos := make([]domain.UploadedVideo, 0, len(uploads))
	for i, fh := range uploads {
		f, err := fh.Open()
		if err != nil {
			logger.Log.Error("Open upload failed", zap.Int("input", i+1), zap.Error(err))
			return writeError(c, errprocess.Resource("failed to read upload", err))
		}
		files = append(files, f)
		videos = append(videos, domain.UploadedVideo{FileName: fh.Filename, File: f})
	}

	res, err := h.Usecase.Merge(c.UserContext(), domain.MergeReq{Videos: videos, Quality: sel})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"url": res.URL, "job_id": res.JobID})
}

// GetJob godoc
// @Summary Get merge job status
// @Tags Merge
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} domain.JobSnapshot "Job status"
// @Failure 404 {object} map[string]string "Job not found"
// @Router /merge/{id} [get]
func (h *MergeHandler) GetJob(c *fiber.Ctx) error {
	snap, err := h.Usecase.GetJob(c.UserContext(), c.Params("id"))
	if errors.Is(err, repository.ErrJobNotFound) {
		return c.Status(http.StatusNotFound).JSON(fiber.Map{"error": "job not found"})
	}
	if err != nil {
		logger.Log.Error("Get job failed", zap.String("job_id", c.Params("id")), zap.Error(err))
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load job"})
	}
	return c.JSON(snap)
}

// parseQuality reads the optional quality fields; empty fields stay unset
func parseQuality(c *fiber.Ctx) (domain.QualitySelection, error) {
	sel := domain.QualitySelection{
		Preset:     c.FormValue("preset"),
		Resolution: c.FormValue("resolution"),
		Bitrate:    c.FormValue("bitrate"),
		Format:     c.FormValue("format"),
	}
	var err error
	if sel.Framerate, err = optionalInt(c.FormValue("framerate"), "framerate"); err != nil {
		return sel, err
	}
	if sel.Compression, err = optionalInt(c.FormValue("compression"), "compression"); err != nil {
		return sel, err
	}
	return sel, nil
}

func optionalInt(raw, field string) (*int, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, errprocess.Validation("%s must be an integer, got %q", field, raw)
	}
	return &v, nil
}

// writeError maps a classified error to the response; raw causes stay in the logs
func writeError(c *fiber.Ctx, err error) error {
	kind := errprocess.KindOf(err)
	status := http.StatusInternalServerError
	if kind == errprocess.KindValidation {
		status = http.StatusBadRequest
	}
	return c.Status(status).JSON(fiber.Map{"error": errprocess.PublicMessage(err), "kind": kind})
}
