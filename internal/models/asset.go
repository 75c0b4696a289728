package models

import (
	"strings"

	"gorm.io/gorm"
)

// AssetStatus is the lifecycle state of an uploaded asset.
type AssetStatus string

const (
	// AssetStatusUploading indicates source files are still being received.
	AssetStatusUploading AssetStatus = "uploading"
	// AssetStatusQueued indicates a processing job is waiting for a worker.
	AssetStatusQueued AssetStatus = "queued"
	// AssetStatusProcessing indicates a worker owns the asset.
	AssetStatusProcessing AssetStatus = "processing"
	// AssetStatusEditing is a legacy display alias of AssetStatusProcessing.
	AssetStatusEditing AssetStatus = "editing"
	// AssetStatusReady indicates the encoded output is available.
	AssetStatusReady AssetStatus = "ready"
	// AssetStatusFailed indicates processing ended with an error.
	AssetStatusFailed AssetStatus = "failed"
)

// Normalize folds legacy aliases onto their canonical status.
func (s AssetStatus) Normalize() AssetStatus {
	if s == AssetStatusEditing {
		return AssetStatusProcessing
	}
	return s
}

// IsActive reports whether a job currently owns or is about to own the asset.
func (s AssetStatus) IsActive() bool {
	switch s.Normalize() {
	case AssetStatusQueued, AssetStatusProcessing:
		return true
	}
	return false
}

// IsTerminal reports whether the status is ready or failed.
func (s AssetStatus) IsTerminal() bool {
	return s == AssetStatusReady || s == AssetStatusFailed
}

// SourceFile describes one uploaded media file belonging to an asset.
type SourceFile struct {
	Path         string `json:"path"`
	OriginalName string `json:"original_name,omitempty"`
	Size         int64  `json:"size,omitempty"`
	Format       string `json:"format,omitempty"`
}

// Validate checks that the descriptor points at something.
func (f SourceFile) Validate() error {
	if strings.TrimSpace(f.Path) == "" {
		return ErrSourcePathRequired
	}
	return nil
}

// StylePreferences holds the user's choices from the upload wizard, stored
// as the raw labels the UI sent.
type StylePreferences struct {
	EditingStyle   string `json:"editing_style,omitempty"`
	TargetAudience string `json:"target_audience,omitempty"`
	DurationBucket string `json:"duration_bucket,omitempty"`

	// IncludeAudio is nil when the user did not choose; audio is kept then.
	IncludeAudio *bool `json:"include_audio,omitempty"`

	// SpecialRequests is free text for human editors. It is stored and
	// displayed, never passed to the encoder.
	SpecialRequests string `json:"special_requests,omitempty"`

	// StoryEnabled marks uploads that also produce a story cut.
	StoryEnabled bool `json:"story_enabled,omitempty"`
}

// WantsAudio reports whether the audio track should be carried into the output.
func (p StylePreferences) WantsAudio() bool {
	return p.IncludeAudio == nil || *p.IncludeAudio
}

// Asset is the durable media entity. The pipeline only writes the status,
// progress, output, thumbnail, error and timestamp fields; all other fields
// belong to the upload side.
type Asset struct {
	BaseModel

	UserID string `gorm:"not null;size:64;index" json:"user_id"`
	Title  string `gorm:"size:255" json:"title,omitempty"`

	SourceFiles []SourceFile     `gorm:"serializer:json" json:"source_files"`
	Preferences StylePreferences `gorm:"serializer:json" json:"preferences"`

	Status   AssetStatus `gorm:"not null;default:'uploading';size:20;index" json:"status"`
	Progress int         `gorm:"not null;default:0" json:"progress"`

	OutputPath    string `gorm:"size:1024" json:"output_path,omitempty"`
	ThumbnailPath string `gorm:"size:1024" json:"thumbnail_path,omitempty"`
	ErrorMessage  string `gorm:"type:text" json:"error_message,omitempty"`

	ProcessingAttempts int   `gorm:"not null;default:0" json:"processing_attempts"`
	StartedAt          *Time `json:"started_at,omitempty"`
	CompletedAt        *Time `json:"completed_at,omitempty"`
}

// TableName returns the table name for Asset.
func (Asset) TableName() string {
	return "assets"
}

// Validate performs basic validation on the asset.
func (a *Asset) Validate() error {
	if strings.TrimSpace(a.UserID) == "" {
		return ErrUserIDRequired
	}
	if a.Progress < 0 || a.Progress > 100 {
		return ErrValidation{Field: "progress", Message: "must be between 0 and 100"}
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the asset and generates ULID.
func (a *Asset) BeforeCreate(tx *gorm.DB) error {
	if err := a.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	if a.Status == "" {
		a.Status = AssetStatusUploading
	}
	return a.Validate()
}

// Asset column names written through partial updates.
const (
	AssetColumnStatus             = "status"
	AssetColumnProgress           = "progress"
	AssetColumnOutputPath         = "output_path"
	AssetColumnThumbnailPath      = "thumbnail_path"
	AssetColumnErrorMessage       = "error_message"
	AssetColumnProcessingAttempts = "processing_attempts"
	AssetColumnStartedAt          = "started_at"
	AssetColumnCompletedAt        = "completed_at"
)
