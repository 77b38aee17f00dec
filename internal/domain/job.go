package domain

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Queue lifecycle of a job row, orthogonal to the pipeline Stage.
// A worker claims queued rows; running rows have exactly one owner.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// EnhancementJob is the persisted Job Record: one uploaded video moving
// through transcription, captioning, b-roll generation, and compositing.
// The orchestrator is the only writer of Stage; attempt counters and
// per-stage artifacts/errors live in JSONB maps keyed by stage name.
// JobTypeVideoEnhance is the only job type today; the column exists so the
// worker dispatch stays generic.
const JobTypeVideoEnhance = "video_enhance"

type EnhancementJob struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	JobType     string         `gorm:"column:job_type;not null;index" json:"job_type"`
	ShareID     string         `gorm:"column:share_id;uniqueIndex;not null" json:"share_id"`
	SourceRef   string         `gorm:"column:source_ref;not null" json:"source_ref"`
	Status      string         `gorm:"column:status;not null;index" json:"status"`
	Stage       Stage          `gorm:"column:stage;not null;index" json:"stage"`
	Degraded    bool           `gorm:"column:degraded;not null;default:false" json:"degraded"`
	Progress    int            `gorm:"column:progress;not null;default:0" json:"progress"`
	Attempts    datatypes.JSON `gorm:"column:attempts;type:jsonb" json:"attempts"`
	Artifacts   datatypes.JSON `gorm:"column:artifacts;type:jsonb" json:"artifacts"`
	StageErrors datatypes.JSON `gorm:"column:stage_errors;type:jsonb" json:"stage_errors,omitempty"`
	StageMeta   datatypes.JSON `gorm:"column:stage_meta;type:jsonb" json:"stage_meta,omitempty"`
	Error       string         `gorm:"column:error" json:"error,omitempty"`
	NextRunAt   *time.Time     `gorm:"column:next_run_at;index" json:"next_run_at,omitempty"`
	LockedAt    *time.Time     `gorm:"column:locked_at;index" json:"locked_at,omitempty"`
	HeartbeatAt *time.Time     `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`
	CreatedAt   time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;index" json:"updated_at"`
}

func (EnhancementJob) TableName() string { return "enhancement_job" }

// NewShareID derives a short public identifier from a fresh uuid4:
// dashes stripped, first 12 hex chars. Stable once assigned.
func NewShareID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func NewEnhancementJob(sourceRef string) *EnhancementJob {
	now := time.Now().UTC()
	return &EnhancementJob{
		ID:        uuid.New(),
		JobType:   JobTypeVideoEnhance,
		ShareID:   NewShareID(),
		SourceRef: sourceRef,
		Status:    StatusQueued,
		Stage:     StageUploaded,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ---- JSONB map accessors ----
//
// The maps decode defensively: a nil or malformed column yields an empty map
// so callers never branch on decode errors mid-pipeline.

func (j *EnhancementJob) AttemptsMap() map[string]int {
	out := map[string]int{}
	decodeJSON(j.Attempts, &out)
	return out
}

func (j *EnhancementJob) ArtifactsMap() map[string]string {
	out := map[string]string{}
	decodeJSON(j.Artifacts, &out)
	return out
}

func (j *EnhancementJob) StageErrorsMap() map[string]string {
	out := map[string]string{}
	decodeJSON(j.StageErrors, &out)
	return out
}

func (j *EnhancementJob) StageMetaMap() map[string]string {
	out := map[string]string{}
	decodeJSON(j.StageMeta, &out)
	return out
}

// Artifact returns the recorded artifact ref for a stage, if any.
func (j *EnhancementJob) Artifact(stage Stage) (string, bool) {
	ref, ok := j.ArtifactsMap()[string(stage)]
	return ref, ok && ref != ""
}

func MarshalJSONB(v any) datatypes.JSON {
	b, _ := json.Marshal(v)
	return datatypes.JSON(b)
}

func decodeJSON(raw datatypes.JSON, out any) {
	if len(raw) == 0 || string(raw) == "null" {
		return
	}
	_ = json.Unmarshal(raw, out)
}
