package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"video_merge_service/internal/merge/domain"

	"gorm.io/gorm"
)

// ErrJobNotFound no record for the job id
var ErrJobNotFound = errors.New("job not found")

// JobRepo definition merge job history
type JobRepo interface {
	AutoMigrate() error
	Create(ctx context.Context, job *domain.JobRecord) error
	UpdateStatus(ctx context.Context, s domain.JobSnapshot) error
	GetByID(ctx context.Context, id string) (*domain.JobRecord, error)
	FindByStatus(ctx context.Context, status domain.JobStatus) ([]domain.JobRecord, error)
}

type jobRepo struct {
	db *gorm.DB
}

// NewJobRepo create JobRepo
func NewJobRepo(db *gorm.DB) JobRepo {
	return &jobRepo{db: db}
}

// AutoMigrate 自動建立或更新 job 資料表
func (r *jobRepo) AutoMigrate() error {
	return r.db.AutoMigrate(&domain.JobRecord{})
}

func (r *jobRepo) Create(ctx context.Context, job *domain.JobRecord) error {
	return r.db.WithContext(ctx).Create(job).Error
}

// UpdateStatus 只更新狀態相關欄位；terminal 狀態同時寫入 finished_at
func (r *jobRepo) UpdateStatus(ctx context.Context, s domain.JobSnapshot) error {
	fields := map[string]any{
		"status":        string(s.Status),
		"url":           s.URL,
		"error_kind":    s.ErrorKind,
		"error_message": s.Error,
		"updated_at":    s.UpdatedAt,
	}
	if s.Status.IsTerminal() {
		fields["finished_at"] = s.UpdatedAt
	}

	res := r.db.WithContext(ctx).Model(&domain.JobRecord{}).Where("id = ?", s.JobID).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("update job %s: %w", s.JobID, ErrJobNotFound)
	}
	return nil
}

func (r *jobRepo) GetByID(ctx context.Context, id string) (*domain.JobRecord, error) {
	var rec domain.JobRecord
	err := r.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// FindByStatus find jobs by status, oldest first
func (r *jobRepo) FindByStatus(ctx context.Context, status domain.JobStatus) ([]domain.JobRecord, error) {
	var jobs []domain.JobRecord
	if err := r.db.WithContext(ctx).Where("status = ?", string(status)).Order("created_at ASC").Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// FailInterrupted marks jobs left non-terminal by a previous process as
// failed. Their workspaces are reclaimed by the stale sweep.
func FailInterrupted(ctx context.Context, repo JobRepo, now time.Time) (int, error) {
	count := 0
	for _, st := range []domain.JobStatus{domain.JobPending, domain.JobResolving, domain.JobNormalizing, domain.JobConcatenating, domain.JobPublishing} {
		jobs, err := repo.FindByStatus(ctx, st)
		if err != nil {
			return count, err
		}
		for _, j := range jobs {
			err := repo.UpdateStatus(ctx, domain.JobSnapshot{
				JobID:     j.ID,
				Status:    domain.JobFailed,
				ErrorKind: "resource",
				Error:     "job aborted before completion",
				UpdatedAt: now,
			})
			if err != nil {
				return count, err
			}
			count++
		}
	}
	return count, nil
}
