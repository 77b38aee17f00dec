package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/clipso/clipso-backend/internal/clients/gcs"
	"github.com/clipso/clipso-backend/internal/domain"
	pkgerrors "github.com/clipso/clipso-backend/internal/pkg/errors"
	"github.com/clipso/clipso-backend/internal/pkg/logger"
	"github.com/clipso/clipso-backend/internal/repos"
)

// JobStatus is the polling payload for GET /api/jobs/:share_id.
type JobStatus struct {
	ShareID         string       `json:"share_id"`
	Status          string       `json:"status"`
	Stage           domain.Stage `json:"stage"`
	Degraded        bool         `json:"degraded"`
	ProgressPercent int          `json:"progress_percent"`
	Error           string       `json:"error,omitempty"`
	VideoURL        string       `json:"video_url,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

type EnhancementService interface {
	// Submit enqueues an enhancement job for a video already present in
	// the artifact store and returns the job with its public share_id.
	Submit(ctx context.Context, tx *gorm.DB, sourceRef string) (*domain.EnhancementJob, error)
	Status(ctx context.Context, tx *gorm.DB, shareID string) (*JobStatus, error)
	// FinalVideoURL resolves the composed deliverable of a completed job.
	// ErrConflict while the job is still in flight.
	FinalVideoURL(ctx context.Context, tx *gorm.DB, shareID string) (string, error)
}

type enhancementService struct {
	db    *gorm.DB
	log   *logger.Logger
	repo  repos.EnhancementJobRepo
	store gcs.Store
}

func NewEnhancementService(db *gorm.DB, log *logger.Logger, repo repos.EnhancementJobRepo, store gcs.Store) EnhancementService {
	return &enhancementService{
		db:    db,
		log:   log.With("service", "EnhancementService"),
		repo:  repo,
		store: store,
	}
}

func (s *enhancementService) Submit(ctx context.Context, tx *gorm.DB, sourceRef string) (*domain.EnhancementJob, error) {
	sourceRef = strings.TrimSpace(sourceRef)
	if sourceRef == "" {
		return nil, fmt.Errorf("source_ref required: %w", pkgerrors.ErrInvalidArgument)
	}
	exists, err := s.store.Exists(ctx, sourceRef)
	if err != nil {
		return nil, fmt.Errorf("check source video: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("source video %q: %w", sourceRef, pkgerrors.ErrNotFound)
	}

	job := domain.NewEnhancementJob(sourceRef)
	if _, err := s.repo.Create(ctx, tx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	s.log.Info("job submitted", "job_id", job.ID, "share_id", job.ShareID, "source_ref", sourceRef)
	return job, nil
}

func (s *enhancementService) Status(ctx context.Context, tx *gorm.DB, shareID string) (*JobStatus, error) {
	job, err := s.repo.GetByShareID(ctx, tx, strings.TrimSpace(shareID))
	if err != nil {
		return nil, err
	}
	st := &JobStatus{
		ShareID:         job.ShareID,
		Status:          job.Status,
		Stage:           job.Stage,
		Degraded:        job.Degraded,
		ProgressPercent: job.Progress,
		Error:           job.Error,
		CreatedAt:       job.CreatedAt,
		UpdatedAt:       job.UpdatedAt,
	}
	if job.Status == domain.StatusCompleted {
		if ref, ok := job.Artifact(domain.StageCompositing); ok {
			st.VideoURL = s.store.PublicURL(ref)
		}
	}
	return st, nil
}

func (s *enhancementService) FinalVideoURL(ctx context.Context, tx *gorm.DB, shareID string) (string, error) {
	job, err := s.repo.GetByShareID(ctx, tx, strings.TrimSpace(shareID))
	if err != nil {
		return "", err
	}
	if job.Status == domain.StatusFailed {
		return "", fmt.Errorf("job failed: %s: %w", job.Error, pkgerrors.ErrConflict)
	}
	if job.Status != domain.StatusCompleted {
		return "", fmt.Errorf("job still %s: %w", job.Status, pkgerrors.ErrConflict)
	}
	ref, ok := job.Artifact(domain.StageCompositing)
	if !ok {
		return "", fmt.Errorf("completed job %s has no composed video: %w", job.ShareID, pkgerrors.ErrNotFound)
	}
	return s.store.PublicURL(ref), nil
}
