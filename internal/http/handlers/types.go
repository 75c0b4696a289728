// Package handlers provides HTTP API handlers for reelcast.
package handlers

import (
	"time"

	"github.com/jmylchreest/reelcast/internal/models"
	"github.com/jmylchreest/reelcast/internal/queue"
	"github.com/jmylchreest/reelcast/internal/service"
)

// Processing types

// SourceFileRequest describes one uploaded file to process.
type SourceFileRequest struct {
	Path         string `json:"path" doc:"Storage path of the uploaded file"`
	OriginalName string `json:"original_name,omitempty" doc:"File name as uploaded"`
	Size         int64  `json:"size,omitempty" doc:"Size in bytes"`
	Format       string `json:"format,omitempty" doc:"Container or MIME hint"`
}

// ProcessAssetRequest is the body of a processing request.
type ProcessAssetRequest struct {
	UserID      string                  `json:"user_id,omitempty" doc:"Owner; defaults to the asset's owner"`
	SourceFiles []SourceFileRequest     `json:"source_files" doc:"Files to merge and encode, in order"`
	Preferences models.StylePreferences `json:"preferences,omitempty" doc:"Style preferences from the upload wizard"`
	Priority    *int                    `json:"priority,omitempty" doc:"Queue priority override (higher runs first)"`
	Reprocess   bool                    `json:"reprocess,omitempty" doc:"Re-run an existing upload without debiting credits"`
}

func (r ProcessAssetRequest) sourceFiles() []models.SourceFile {
	files := make([]models.SourceFile, 0, len(r.SourceFiles))
	for _, f := range r.SourceFiles {
		files = append(files, models.SourceFile{
			Path:         f.Path,
			OriginalName: f.OriginalName,
			Size:         f.Size,
			Format:       f.Format,
		})
	}
	return files
}

// JobHandleResponse is returned when a job is accepted.
type JobHandleResponse struct {
	JobID   models.ULID `json:"job_id"`
	AssetID models.ULID `json:"asset_id"`
	Mode    queue.Mode  `json:"mode" doc:"redis, database or direct"`
}

// JobHandleFromService converts a service handle to a response.
func JobHandleFromService(h *service.JobHandle) JobHandleResponse {
	return JobHandleResponse{JobID: h.JobID, AssetID: h.AssetID, Mode: h.Mode}
}

// ProcessingStatusResponse reports an asset's processing fields.
type ProcessingStatusResponse struct {
	AssetID       models.ULID        `json:"asset_id"`
	Status        models.AssetStatus `json:"status"`
	Progress      int                `json:"progress" minimum:"0" maximum:"100"`
	StartedAt     *time.Time         `json:"started_at,omitempty"`
	CompletedAt   *time.Time         `json:"completed_at,omitempty"`
	ErrorMessage  string             `json:"error_message,omitempty"`
	OutputPath    string             `json:"output_path,omitempty"`
	ThumbnailPath string             `json:"thumbnail_path,omitempty"`
	Attempts      int                `json:"attempts"`
}

// ProcessingStatusFromService converts a service status to a response.
// Legacy status aliases are folded onto their canonical value.
func ProcessingStatusFromService(s *service.ProcessingStatus) ProcessingStatusResponse {
	return ProcessingStatusResponse{
		AssetID:       s.AssetID,
		Status:        s.Status.Normalize(),
		Progress:      s.Progress,
		StartedAt:     s.StartedAt,
		CompletedAt:   s.CompletedAt,
		ErrorMessage:  s.ErrorMessage,
		OutputPath:    s.OutputPath,
		ThumbnailPath: s.ThumbnailPath,
		Attempts:      s.Attempts,
	}
}

// QueueStatsResponse reports queue counts.
type QueueStatsResponse struct {
	Waiting    int64      `json:"waiting"`
	Active     int64      `json:"active"`
	Completed  int64      `json:"completed"`
	Failed     int64      `json:"failed"`
	Total      int64      `json:"total"`
	Mode       queue.Mode `json:"mode"`
	Annotation string     `json:"annotation,omitempty" doc:"Why counts are unavailable, when running without a durable queue"`
}

// QueueStatsFromService converts service stats to a response.
func QueueStatsFromService(s *service.QueueStats) QueueStatsResponse {
	return QueueStatsResponse{
		Waiting:    s.Waiting,
		Active:     s.Active,
		Completed:  s.Completed,
		Failed:     s.Failed,
		Total:      s.Total,
		Mode:       s.Mode,
		Annotation: s.Annotation,
	}
}

// Health types

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status        string            `json:"status"`
	Timestamp     string            `json:"timestamp"`
	Version       string            `json:"version"`
	Uptime        string            `json:"uptime"`
	UptimeSeconds float64           `json:"uptime_seconds"`
	Queue         QueueHealth       `json:"queue"`
	Database      DatabaseHealth    `json:"database"`
	CPUInfo       CPUInfo           `json:"cpu_info"`
	Memory        MemoryInfo        `json:"memory"`
	Checks        map[string]string `json:"checks,omitempty"`
}

// QueueHealth describes the execution mode chosen at startup.
type QueueHealth struct {
	Mode       queue.Mode `json:"mode"`
	Durable    bool       `json:"durable"`
	Annotation string     `json:"annotation,omitempty"`
}

// DatabaseHealth reports database reachability.
type DatabaseHealth struct {
	Status         string  `json:"status"`
	Driver         string  `json:"driver,omitempty"`
	ResponseTimeMS float64 `json:"response_time_ms"`
	Error          string  `json:"error,omitempty"`
}

// CPUInfo reports load averages.
type CPUInfo struct {
	Cores              int     `json:"cores"`
	Load1Min           float64 `json:"load_1min"`
	Load5Min           float64 `json:"load_5min"`
	Load15Min          float64 `json:"load_15min"`
	LoadPercentage1Min float64 `json:"load_percentage_1min"`
}

// MemoryInfo reports system and process memory in megabytes.
type MemoryInfo struct {
	TotalMemoryMB     float64 `json:"total_memory_mb"`
	UsedMemoryMB      float64 `json:"used_memory_mb"`
	AvailableMemoryMB float64 `json:"available_memory_mb"`
	ProcessMemoryMB   float64 `json:"process_memory_mb"`
	ChildProcessCount int     `json:"child_process_count" doc:"Running ffmpeg/ffprobe children"`
}
