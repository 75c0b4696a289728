package models

import (
	"time"

	"gorm.io/gorm"
)

// JobStatus represents the current status of a processing job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be executed.
	JobStatusPending JobStatus = "pending"
	// JobStatusScheduled indicates the job is waiting out a retry backoff.
	JobStatusScheduled JobStatus = "scheduled"
	// JobStatusRunning indicates the job is currently executing.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed and will not be retried.
	JobStatusFailed JobStatus = "failed"
)

const (
	// DefaultMaxAttempts is the attempt cap for a processing job.
	DefaultMaxAttempts = 3
	// DefaultBackoff is the base of the exponential retry backoff.
	DefaultBackoff = 2 * time.Second
	// maxBackoff caps the exponential retry backoff.
	maxBackoff = time.Hour
)

// ProcessingJob is one request to turn an asset's source files into an
// encoded output. It lives in the queue until a worker settles it.
type ProcessingJob struct {
	BaseModel

	// AssetID is the asset this job processes. At most one active job may
	// exist per asset.
	AssetID ULID `gorm:"type:varchar(26);not null;index" json:"asset_id"`

	// UserID is the owner of the asset.
	UserID string `gorm:"not null;size:64;index" json:"user_id"`

	// SourceFiles is the ordered list of inputs. More than one forces a merge.
	SourceFiles []SourceFile `gorm:"serializer:json" json:"source_files"`

	// Preferences is the style selection the encoding plan is derived from.
	Preferences StylePreferences `gorm:"serializer:json" json:"preferences"`

	// Status indicates the current status of the job.
	Status JobStatus `gorm:"not null;default:'pending';size:20;index" json:"status"`

	// Priority determines execution order (higher = more important).
	Priority int `gorm:"default:0;index" json:"priority"`

	// NextRunAt is the earliest time the job may be acquired.
	NextRunAt *Time `gorm:"index" json:"next_run_at,omitempty"`

	StartedAt   *Time `json:"started_at,omitempty"`
	CompletedAt *Time `json:"completed_at,omitempty"`
	DurationMs  int64 `json:"duration_ms,omitempty"`

	// AttemptCount is the number of times this job has been attempted.
	AttemptCount int `gorm:"default:0" json:"attempt_count"`

	// MaxAttempts is the total number of attempts allowed.
	MaxAttempts int `gorm:"default:3" json:"max_attempts"`

	// BackoffMs is the base retry backoff in milliseconds.
	BackoffMs int64 `gorm:"default:2000" json:"backoff_ms"`

	// LastError is the failure reason of the most recent attempt, verbatim.
	LastError string `gorm:"type:text" json:"last_error,omitempty"`

	// MergedPath is set once the merge stage has produced its output so a
	// retry can skip straight to encoding.
	MergedPath string `gorm:"size:1024" json:"merged_path,omitempty"`

	// LockedBy is the worker ID that holds the job.
	LockedBy string `gorm:"size:100;index" json:"locked_by,omitempty"`
	LockedAt *Time  `json:"locked_at,omitempty"`

	// ActiveAssetID mirrors AssetID while the job is active and is NULL once
	// it finishes. Its unique index allows one active job per asset.
	ActiveAssetID *ULID `gorm:"type:varchar(26);uniqueIndex:idx_processing_jobs_active_asset" json:"-"`
}

// TableName returns the table name for ProcessingJob.
func (ProcessingJob) TableName() string {
	return "processing_jobs"
}

// NewProcessingJob creates a pending job for an asset.
func NewProcessingJob(assetID ULID, userID string, files []SourceFile, prefs StylePreferences, priority int) *ProcessingJob {
	now := Now()
	return &ProcessingJob{
		BaseModel:   BaseModel{ID: NewULID(), CreatedAt: now, UpdatedAt: now},
		AssetID:     assetID,
		UserID:      userID,
		SourceFiles: files,
		Preferences: prefs,
		Status:      JobStatusPending,
		Priority:    priority,
		NextRunAt:   &now,
		MaxAttempts: DefaultMaxAttempts,
		BackoffMs:   DefaultBackoff.Milliseconds(),
	}
}

// NeedsMerge reports whether the job has more than one input.
func (j *ProcessingJob) NeedsMerge() bool {
	return len(j.SourceFiles) > 1
}

// IsPending returns true if the job is waiting to execute.
func (j *ProcessingJob) IsPending() bool {
	return j.Status == JobStatusPending || j.Status == JobStatusScheduled
}

// IsRunning returns true if the job is currently executing.
func (j *ProcessingJob) IsRunning() bool {
	return j.Status == JobStatusRunning
}

// IsActive returns true if the job still owns its asset.
func (j *ProcessingJob) IsActive() bool {
	return j.IsPending() || j.IsRunning()
}

// IsFinished returns true if the job has settled.
func (j *ProcessingJob) IsFinished() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// HasAttemptsLeft reports whether another attempt is allowed after the current one.
func (j *ProcessingJob) HasAttemptsLeft() bool {
	return j.AttemptCount < j.MaxAttempts
}

// MarkRunning marks the job as running.
func (j *ProcessingJob) MarkRunning(workerID string) {
	j.Status = JobStatusRunning
	now := Now()
	j.StartedAt = &now
	j.LockedBy = workerID
	j.LockedAt = &now
	j.AttemptCount++
}

// MarkCompleted marks the job as completed successfully.
func (j *ProcessingJob) MarkCompleted() {
	j.Status = JobStatusCompleted
	j.finish()
	j.LastError = ""
}

// MarkFailed marks the job as failed with the reason preserved.
func (j *ProcessingJob) MarkFailed(err error) {
	j.Status = JobStatusFailed
	j.finish()
	if err != nil {
		j.LastError = err.Error()
	}
}

func (j *ProcessingJob) finish() {
	now := Now()
	j.CompletedAt = &now
	if j.StartedAt != nil {
		j.DurationMs = now.Sub(*j.StartedAt).Milliseconds()
	}
	j.LockedBy = ""
	j.LockedAt = nil
}

// CalculateNextBackoff returns the backoff duration for the next retry.
// Uses exponential backoff: base * 2^(attemptCount-1), capped at 1 hour.
func (j *ProcessingJob) CalculateNextBackoff() time.Duration {
	base := time.Duration(j.BackoffMs) * time.Millisecond
	if base <= 0 {
		base = DefaultBackoff
	}

	attempts := max(j.AttemptCount, 1)
	if attempts > 30 {
		return maxBackoff
	}

	return min(base*time.Duration(1<<(attempts-1)), maxBackoff)
}

// ScheduleRetry records the failure and moves the job back to waiting,
// eligible again after delay.
func (j *ProcessingJob) ScheduleRetry(err error, delay time.Duration) {
	if err != nil {
		j.LastError = err.Error()
	}
	next := Now().Add(delay)
	j.NextRunAt = &next
	j.Status = JobStatusScheduled
	j.LockedBy = ""
	j.LockedAt = nil
}

// Validate performs basic validation on the job.
func (j *ProcessingJob) Validate() error {
	if j.AssetID.IsZero() {
		return ErrAssetIDRequired
	}
	if j.UserID == "" {
		return ErrUserIDRequired
	}
	if len(j.SourceFiles) == 0 {
		return ErrNoSourceFiles
	}
	for _, f := range j.SourceFiles {
		if err := f.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the job and generates ULID.
func (j *ProcessingJob) BeforeCreate(tx *gorm.DB) error {
	if err := j.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return j.Validate()
}

// BeforeSave is a GORM hook that keeps ActiveAssetID in step with Status.
func (j *ProcessingJob) BeforeSave(*gorm.DB) error {
	j.syncActiveAsset()
	return nil
}

func (j *ProcessingJob) syncActiveAsset() {
	if j.IsActive() {
		id := j.AssetID
		j.ActiveAssetID = &id
		return
	}
	j.ActiveAssetID = nil
}

// JobHistory stores the settled outcome of a processing job for diagnostics.
type JobHistory struct {
	BaseModel

	JobID         ULID      `gorm:"type:varchar(26);not null;index" json:"job_id"`
	AssetID       ULID      `gorm:"type:varchar(26);index" json:"asset_id"`
	UserID        string    `gorm:"size:64;index" json:"user_id"`
	Status        JobStatus `gorm:"not null;size:20" json:"status"`
	FileCount     int       `json:"file_count"`
	StartedAt     *Time     `gorm:"index" json:"started_at,omitempty"`
	CompletedAt   *Time     `gorm:"index" json:"completed_at,omitempty"`
	DurationMs    int64     `json:"duration_ms,omitempty"`
	AttemptNumber int       `json:"attempt_number"`
	Error         string    `gorm:"type:text" json:"error,omitempty"`
	OutputPath    string    `gorm:"size:1024" json:"output_path,omitempty"`
}

// TableName returns the table name for JobHistory.
func (JobHistory) TableName() string {
	return "job_history"
}

// NewJobHistory snapshots a finished job.
func NewJobHistory(job *ProcessingJob, outputPath string) *JobHistory {
	return &JobHistory{
		JobID:         job.ID,
		AssetID:       job.AssetID,
		UserID:        job.UserID,
		Status:        job.Status,
		FileCount:     len(job.SourceFiles),
		StartedAt:     job.StartedAt,
		CompletedAt:   job.CompletedAt,
		DurationMs:    job.DurationMs,
		AttemptNumber: job.AttemptCount,
		Error:         job.LastError,
		OutputPath:    outputPath,
	}
}

// QueueStats summarizes the state of the processing queue.
type QueueStats struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Total     int64 `json:"total"`
}
