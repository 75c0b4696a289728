package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/reelcast/internal/models"
	"github.com/jmylchreest/reelcast/internal/service"
)

// ProcessingService is the subset of service.ProcessingService the handler uses.
type ProcessingService interface {
	Enqueue(ctx context.Context, req service.EnqueueRequest) (*service.JobHandle, error)
	GetQueueStats(ctx context.Context) (*service.QueueStats, error)
	GetProcessingStatus(ctx context.Context, assetID models.ULID) (*service.ProcessingStatus, error)
}

// ProcessingHandler handles processing API endpoints.
type ProcessingHandler struct {
	service ProcessingService
}

// NewProcessingHandler creates a new processing handler.
func NewProcessingHandler(svc ProcessingService) *ProcessingHandler {
	return &ProcessingHandler{service: svc}
}

// Register registers the processing routes with the API.
func (h *ProcessingHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "processAsset",
		Method:        http.MethodPost,
		Path:          "/api/v1/assets/{id}/process",
		Summary:       "Process asset",
		Description:   "Queues the asset's source files for merging and encoding. Returns as soon as the job is accepted.",
		Tags:          []string{"Processing"},
		DefaultStatus: http.StatusAccepted,
	}, h.Process)

	huma.Register(api, huma.Operation{
		OperationID: "getAssetStatus",
		Method:      http.MethodGet,
		Path:        "/api/v1/assets/{id}/status",
		Summary:     "Get processing status",
		Description: "Returns the asset's status, progress and output",
		Tags:        []string{"Processing"},
	}, h.GetStatus)

	huma.Register(api, huma.Operation{
		OperationID: "getQueueStats",
		Method:      http.MethodGet,
		Path:        "/api/v1/queue/stats",
		Summary:     "Get queue statistics",
		Description: "Returns job counts by state. Counts are zero when running without a durable queue.",
		Tags:        []string{"Processing"},
	}, h.GetQueueStats)
}

// ProcessAssetInput is the input for queueing an asset.
type ProcessAssetInput struct {
	ID   string `path:"id" doc:"Asset ID (ULID)"`
	Body ProcessAssetRequest
}

// ProcessAssetOutput is the output for queueing an asset.
type ProcessAssetOutput struct {
	Body JobHandleResponse
}

// Process queues an asset for processing.
func (h *ProcessingHandler) Process(ctx context.Context, input *ProcessAssetInput) (*ProcessAssetOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}

	handle, err := h.service.Enqueue(ctx, service.EnqueueRequest{
		AssetID:     id,
		UserID:      input.Body.UserID,
		SourceFiles: input.Body.sourceFiles(),
		Preferences: input.Body.Preferences,
		Priority:    input.Body.Priority,
		Reprocess:   input.Body.Reprocess,
	})
	if err != nil {
		return nil, mapServiceError(err, "failed to queue asset")
	}

	return &ProcessAssetOutput{Body: JobHandleFromService(handle)}, nil
}

// GetAssetStatusInput is the input for reading an asset's status.
type GetAssetStatusInput struct {
	ID string `path:"id" doc:"Asset ID (ULID)"`
}

// GetAssetStatusOutput is the output for reading an asset's status.
type GetAssetStatusOutput struct {
	Body ProcessingStatusResponse
}

// GetStatus returns an asset's processing status.
func (h *ProcessingHandler) GetStatus(ctx context.Context, input *GetAssetStatusInput) (*GetAssetStatusOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}

	status, err := h.service.GetProcessingStatus(ctx, id)
	if err != nil {
		return nil, mapServiceError(err, "failed to get asset status")
	}

	return &GetAssetStatusOutput{Body: ProcessingStatusFromService(status)}, nil
}

// GetQueueStatsInput is the input for queue statistics.
type GetQueueStatsInput struct{}

// GetQueueStatsOutput is the output for queue statistics.
type GetQueueStatsOutput struct {
	Body QueueStatsResponse
}

// GetQueueStats returns queue statistics.
func (h *ProcessingHandler) GetQueueStats(ctx context.Context, _ *GetQueueStatsInput) (*GetQueueStatsOutput, error) {
	stats, err := h.service.GetQueueStats(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get queue stats", err)
	}
	return &GetQueueStatsOutput{Body: QueueStatsFromService(stats)}, nil
}

// mapServiceError turns service sentinels into HTTP status errors.
func mapServiceError(err error, fallback string) error {
	var validation models.ErrValidation
	switch {
	case errors.Is(err, models.ErrAssetNotFound):
		return huma.Error404NotFound("asset not found")
	case errors.Is(err, models.ErrAssetBusy):
		return huma.Error409Conflict("asset already has a job queued or in progress")
	case errors.Is(err, models.ErrUserJobLimit):
		return huma.Error429TooManyRequests("too many active jobs for this user")
	case errors.Is(err, models.ErrNoSourceFiles),
		errors.Is(err, models.ErrSourcePathRequired),
		errors.As(err, &validation):
		return huma.Error400BadRequest(err.Error())
	default:
		return huma.Error500InternalServerError(fallback, err)
	}
}
