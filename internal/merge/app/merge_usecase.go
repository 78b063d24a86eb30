package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"video_merge_service/internal/merge/domain"
	"video_merge_service/internal/merge/events"
	"video_merge_service/internal/merge/repository"
	"video_merge_service/internal/merge/storage"
	errprocess "video_merge_service/pkg/err"
	"video_merge_service/pkg/logger"
	"video_merge_service/pkg/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MinInputs merging is undefined below two inputs
const MinInputs = 2

// durationTolerance seconds of drift between the output and the sum of inputs
// accepted before a warning is logged
const durationTolerance = 0.5

var acceptedExts = map[string]bool{".mp4": true, ".avi": true, ".mov": true, ".mkv": true, ".webm": true}

// MergeUseCase 封裝了對外提供的合併服務
type MergeUseCase interface {
	Merge(ctx context.Context, req domain.MergeReq) (*domain.MergeRes, error)
	GetJob(ctx context.Context, jobID string) (*domain.JobSnapshot, error)
}

// MergeDeps collaborators of the coordinator. Jobs, Cache and Prober may be
// nil; a nil Notifier drops events.
type MergeDeps struct {
	Workspaces   *WorkspaceManager
	Normalizer   *Normalizer
	Concatenator *Concatenator
	Publisher    storage.Publisher
	Prober       Prober
	Jobs         repository.JobRepo
	Cache        repository.StatusCache
	Notifier     events.Notifier
}

type mergeUseCase struct {
	MergeDeps
	newID func() string
	now   func() time.Time
}

// NewMergeUseCase 建立一個新的 MergeUseCase
func NewMergeUseCase(deps MergeDeps) MergeUseCase {
	if deps.Notifier == nil {
		deps.Notifier = events.Nop{}
	}
	return &mergeUseCase{
		MergeDeps: deps,
		newID:     uuid.NewString,
		now:       time.Now,
	}
}

// 讓 merge usecase test 可替換
var (
	createFile = func(name string) (*os.File, error) {
		return os.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	}

	copyFile = func(dst *os.File, src io.Reader) (written int64, err error) {
		return io.Copy(dst, src)
	}
)

// Merge runs one job: validate, resolve, open the workspace, materialize,
// normalize, concatenate, publish. The workspace is closed on every path
// before the result is returned.
func (s *mergeUseCase) Merge(ctx context.Context, req domain.MergeReq) (res *domain.MergeRes, err error) {
	start := s.now()
	metrics.JobsInProgress.Inc()
	defer func() {
		metrics.JobsInProgress.Dec()
		metrics.JobDuration.Observe(s.now().Sub(start).Seconds())
		metrics.JobsTotal.WithLabelValues(outcome(err)).Inc()
	}()

	job := domain.NewJob(s.newID(), len(req.Videos), start)
	log := logger.Log.ForJob(job.ID)

	if err := s.advance(job, domain.JobResolving); err != nil {
		return nil, s.fail(ctx, log, job, err)
	}
	if err := validateVideos(req.Videos); err != nil {
		return nil, s.fail(ctx, log, job, err)
	}
	params, err := Resolve(req.Quality)
	if err != nil {
		return nil, s.fail(ctx, log, job, err)
	}
	job.Params = params
	s.accept(ctx, log, job)

	ws, err := s.Workspaces.Open(job.ID)
	if err != nil {
		return nil, s.fail(ctx, log, job, err)
	}
	defer ws.Close()

	inputs, err := materialize(ws, req.Videos)
	if err != nil {
		return nil, s.fail(ctx, log, job, err)
	}

	if err := s.advance(job, domain.JobNormalizing); err != nil {
		return nil, s.fail(ctx, log, job, err)
	}
	s.track(ctx, log, job, nil)
	normalized, err := s.Normalizer.NormalizeAll(ctx, ws, inputs, params)
	if err != nil {
		return nil, s.fail(ctx, log, job, err)
	}

	if err := s.advance(job, domain.JobConcatenating); err != nil {
		return nil, s.fail(ctx, log, job, err)
	}
	s.track(ctx, log, job, nil)
	manifest, err := s.Concatenator.WriteManifest(ws, normalized, len(inputs))
	if err != nil {
		return nil, s.fail(ctx, log, job, err)
	}
	out, err := s.Concatenator.Concatenate(ctx, ws, job.ID, manifest, params)
	if err != nil {
		return nil, s.fail(ctx, log, job, err)
	}
	job.OutputPath = out
	s.verifyOutput(ctx, log, out, normalized, params)

	if err := s.advance(job, domain.JobPublishing); err != nil {
		return nil, s.fail(ctx, log, job, err)
	}
	s.track(ctx, log, job, nil)
	url, err := s.Publisher.Publish(ctx, out)
	if err != nil {
		if ctx.Err() != nil {
			err = errprocess.Resource("job aborted before completion", ctx.Err())
		} else {
			err = errprocess.Resource("failed to publish merged output", err)
		}
		return nil, s.fail(ctx, log, job, err)
	}
	job.URL = url

	if err := s.advance(job, domain.JobDone); err != nil {
		return nil, s.fail(ctx, log, job, err)
	}
	s.track(ctx, log, job, nil)
	s.emit(ctx, log, domain.EventDone, job, nil)

	log.Info("merge job done",
		zap.Int("inputs", job.Inputs),
		zap.String("format", string(params.Output.Format)),
		zap.String("resolution", params.Resolution.String()),
		zap.String("url", url),
		zap.Duration("elapsed", s.now().Sub(start)),
	)
	return &domain.MergeRes{JobID: job.ID, URL: url}, nil
}

// GetJob returns the job status, from the cache when possible
func (s *mergeUseCase) GetJob(ctx context.Context, jobID string) (*domain.JobSnapshot, error) {
	if s.Cache != nil {
		snap, err := s.Cache.Get(ctx, jobID)
		if err == nil {
			return snap, nil
		}
		if !errors.Is(err, repository.ErrCacheMiss) {
			logger.Log.Warn("status cache lookup failed", zap.String("job_id", jobID), zap.Error(err))
		}
	}
	if s.Jobs == nil {
		return nil, repository.ErrJobNotFound
	}
	rec, err := s.Jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	snap := rec.Snapshot()
	return &snap, nil
}

func (s *mergeUseCase) advance(job *domain.Job, to domain.JobStatus) error {
	if err := job.Transition(to); err != nil {
		return errprocess.Resource("internal error", err)
	}
	return nil
}

// accept persists the job and emits the accepted event
func (s *mergeUseCase) accept(ctx context.Context, log *logger.LogInfo, job *domain.Job) {
	log.Info("merge job accepted",
		zap.Int("inputs", job.Inputs),
		zap.String("format", string(job.Params.Output.Format)),
		zap.String("resolution", job.Params.Resolution.String()),
	)
	if s.Jobs != nil {
		rec := &domain.JobRecord{
			ID:         job.ID,
			Status:     string(job.Status),
			Inputs:     job.Inputs,
			Format:     string(job.Params.Output.Format),
			Resolution: job.Params.Resolution.String(),
			CreatedAt:  job.CreatedAt,
			UpdatedAt:  job.CreatedAt,
		}
		if err := s.Jobs.Create(context.WithoutCancel(ctx), rec); err != nil {
			log.Warn("job record not created", zap.Error(err))
		}
	}
	s.cache(ctx, log, s.snapshot(job, nil))
	s.emit(ctx, log, domain.EventAccepted, job, nil)
}

// fail classifies err, records the failure and returns the classified error
func (s *mergeUseCase) fail(ctx context.Context, log *logger.LogInfo, job *domain.Job, err error) error {
	ce := errprocess.Classify(err)
	if !job.Status.IsTerminal() {
		_ = job.Transition(domain.JobFailed)
	}

	fields := []zap.Field{zap.String("kind", string(ce.Kind)), zap.String("message", ce.Message)}
	if ce.Input > 0 {
		fields = append(fields, zap.Int("input", ce.Input))
	}
	if ce.Err != nil {
		fields = append(fields, zap.Error(ce.Err))
	}
	if ce.Kind == errprocess.KindValidation {
		log.Info("merge job rejected", fields...)
		return ce
	}
	log.Error("merge job failed", fields...)

	s.track(ctx, log, job, ce)
	s.emit(ctx, log, domain.EventFailed, job, ce)
	return ce
}

// track writes the current status to the repository and the cache. Failures
// are logged, never returned.
func (s *mergeUseCase) track(ctx context.Context, log *logger.LogInfo, job *domain.Job, ce *errprocess.Error) {
	snap := s.snapshot(job, ce)
	if s.Jobs != nil {
		if err := s.Jobs.UpdateStatus(context.WithoutCancel(ctx), snap); err != nil {
			log.Warn("job status not recorded", zap.String("status", string(job.Status)), zap.Error(err))
		}
	}
	s.cache(ctx, log, snap)
}

func (s *mergeUseCase) cache(ctx context.Context, log *logger.LogInfo, snap domain.JobSnapshot) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.Put(context.WithoutCancel(ctx), snap); err != nil {
		log.Warn("job status not cached", zap.Error(err))
	}
}

func (s *mergeUseCase) emit(ctx context.Context, log *logger.LogInfo, typ domain.EventType, job *domain.Job, ce *errprocess.Error) {
	ev := domain.JobEvent{Type: typ, JobSnapshot: s.snapshot(job, ce)}
	if err := s.Notifier.Notify(context.WithoutCancel(ctx), ev); err != nil {
		log.Warn("job event not published", zap.String("event", string(typ)), zap.Error(err))
	}
}

func (s *mergeUseCase) snapshot(job *domain.Job, ce *errprocess.Error) domain.JobSnapshot {
	snap := domain.JobSnapshot{
		JobID:     job.ID,
		Status:    job.Status,
		Inputs:    job.Inputs,
		URL:       job.URL,
		UpdatedAt: s.now(),
	}
	if ce != nil {
		snap.ErrorKind = string(ce.Kind)
		snap.Error = ce.Message
	}
	return snap
}

// verifyOutput compares the merged duration with the sum of the inputs.
// Only logs; a probe problem never fails the job.
func (s *mergeUseCase) verifyOutput(ctx context.Context, log *logger.LogInfo, out string, assets []domain.NormalizedAsset, params domain.QualityParameters) {
	if s.Prober == nil {
		return
	}
	expected := 0.0
	for _, a := range assets {
		if a.Duration <= 0 {
			return
		}
		expected += a.Duration
	}

	info, err := s.Prober.Probe(ctx, out)
	if err != nil {
		log.Warn("merged output not probed", zap.Error(err))
		return
	}
	fields := []zap.Field{
		zap.Float64("expected_duration", expected),
		zap.Float64("actual_duration", info.Duration),
		zap.String("resolution", fmt.Sprintf("%dx%d", info.Width, info.Height)),
	}
	if math.Abs(info.Duration-expected) > durationTolerance || info.Width != params.Resolution.Width || info.Height != params.Resolution.Height {
		log.Warn("merged output differs from expectation", fields...)
		return
	}
	log.Debug("merged output verified", fields...)
}

func validateVideos(videos []domain.UploadedVideo) error {
	if len(videos) < MinInputs {
		return errprocess.Validation("at least %d videos are required, got %d", MinInputs, len(videos))
	}
	for i, v := range videos {
		if v.File == nil {
			return errprocess.Validation("video %d has no content", i+1)
		}
	}
	return nil
}

// materialize writes every upload into the workspace in upload order
func materialize(ws *Workspace, videos []domain.UploadedVideo) ([]domain.InputAsset, error) {
	inputs := make([]domain.InputAsset, len(videos))
	for i, v := range videos {
		idx := i + 1
		path, err := ws.File(fmt.Sprintf("input_%d%s", idx, inputExt(v.FileName)))
		if err != nil {
			return nil, err
		}

		f, err := createFile(path)
		if err != nil {
			return nil, errprocess.Resource(fmt.Sprintf("failed to store input %d", idx), err)
		}
		n, err := copyFile(f, v.File)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return nil, errprocess.Resource(fmt.Sprintf("failed to store input %d", idx), err)
		}

		inputs[i] = domain.InputAsset{Index: idx, Name: v.FileName, Path: path, Size: n}
	}
	return inputs, nil
}

func inputExt(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if acceptedExts[ext] {
		return ext
	}
	return ".bin"
}

func outcome(err error) string {
	if err == nil {
		return metrics.OutcomeDone
	}
	switch errprocess.KindOf(err) {
	case errprocess.KindValidation:
		return metrics.OutcomeValidation
	case errprocess.KindEngine:
		return metrics.OutcomeEngine
	default:
		return metrics.OutcomeResource
	}
}
