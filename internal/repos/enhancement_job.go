package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/clipso/clipso-backend/internal/domain"
	pkgerrors "github.com/clipso/clipso-backend/internal/pkg/errors"
	"github.com/clipso/clipso-backend/internal/pkg/logger"
)

type EnhancementJobRepo interface {
	Create(ctx context.Context, tx *gorm.DB, job *domain.EnhancementJob) (*domain.EnhancementJob, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*domain.EnhancementJob, error)
	GetByShareID(ctx context.Context, tx *gorm.DB, shareID string) (*domain.EnhancementJob, error)
	// ClaimNextRunnable picks one runnable job and marks it running
	// (SKIP LOCKED). The claim is the per-job single-owner token: a running
	// row with a fresh heartbeat cannot be claimed again.
	ClaimNextRunnable(ctx context.Context, tx *gorm.DB, staleRunning time.Duration) (*domain.EnhancementJob, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type enhancementJobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEnhancementJobRepo(db *gorm.DB, baseLog *logger.Logger) EnhancementJobRepo {
	return &enhancementJobRepo{
		db:  db,
		log: baseLog.With("repo", "EnhancementJobRepo"),
	}
}

func (r *enhancementJobRepo) Create(ctx context.Context, tx *gorm.DB, job *domain.EnhancementJob) (*domain.EnhancementJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if job == nil {
		return nil, pkgerrors.ErrInvalidArgument
	}
	if err := transaction.WithContext(ctx).Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

func (r *enhancementJobRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*domain.EnhancementJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var job domain.EnhancementJob
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *enhancementJobRepo) GetByShareID(ctx context.Context, tx *gorm.DB, shareID string) (*domain.EnhancementJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if shareID == "" {
		return nil, pkgerrors.ErrNotFound
	}
	var job domain.EnhancementJob
	err := transaction.WithContext(ctx).Where("share_id = ?", shareID).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *enhancementJobRepo) ClaimNextRunnable(ctx context.Context, tx *gorm.DB, staleRunning time.Duration) (*domain.EnhancementJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now()
	staleCutoff := now.Add(-staleRunning)
	var claimed *domain.EnhancementJob
	err := transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		var job domain.EnhancementJob
		q := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where(`
				(
					status = ?
					AND (next_run_at IS NULL OR next_run_at <= ?)
				)
				OR (
					status = ?
					AND heartbeat_at IS NOT NULL
					AND heartbeat_at < ?
				)
			`, domain.StatusQueued, now, domain.StatusRunning, staleCutoff).
			Order("created_at ASC")
		qErr := q.First(&job).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		uErr := txx.Model(&domain.EnhancementJob{}).
			Where("id = ?", job.ID).
			Updates(map[string]interface{}{
				"status":       domain.StatusRunning,
				"locked_at":    now,
				"heartbeat_at": now,
				"next_run_at":  nil,
				"updated_at":   now,
			}).Error
		if uErr != nil {
			return uErr
		}
		job.Status = domain.StatusRunning
		job.LockedAt = &now
		job.HeartbeatAt = &now
		job.NextRunAt = nil
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *enhancementJobRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil || len(updates) == 0 {
		return nil
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(ctx).
		Model(&domain.EnhancementJob{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *enhancementJobRepo) Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now()
	return transaction.WithContext(ctx).
		Model(&domain.EnhancementJob{}).
		Where("id = ? AND status = ?", id, domain.StatusRunning).
		Updates(map[string]interface{}{"heartbeat_at": now, "updated_at": now}).Error
}
