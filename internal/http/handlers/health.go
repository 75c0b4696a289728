package handlers

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/jmylchreest/reelcast/internal/queue"
)

// Database is what the health check needs from the database.
type Database interface {
	Ping(ctx context.Context) error
	Driver() string
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	version   string
	startTime time.Time
	db        Database
	backend   *queue.Backend
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
	}
}

// WithDB sets the database used for reachability checks.
func (h *HealthHandler) WithDB(db Database) *HealthHandler {
	h.db = db
	return h
}

// WithBackend sets the queue backend reported by the health check.
func (h *HealthHandler) WithBackend(backend *queue.Backend) *HealthHandler {
	h.backend = backend
	return h
}

// HealthInput is the input for the health check endpoint.
type HealthInput struct{}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// LivezInput is the input for the liveness probe.
type LivezInput struct{}

// LivezOutput is the output for the liveness probe.
type LivezOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

// ReadyzInput is the input for the readiness probe.
type ReadyzInput struct{}

// ReadyzOutput is the output for the readiness probe.
type ReadyzOutput struct {
	Body struct {
		Status     string            `json:"status"`
		Components map[string]string `json:"components"`
	}
}

// Register registers the health routes with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns service health including queue mode, database reachability and system metrics",
		Tags:        []string{"System"},
	}, h.GetHealth)

	huma.Register(api, huma.Operation{
		OperationID: "getLivez",
		Method:      http.MethodGet,
		Path:        "/livez",
		Summary:     "Liveness probe",
		Tags:        []string{"System"},
	}, h.GetLivez)

	huma.Register(api, huma.Operation{
		OperationID: "getReadyz",
		Method:      http.MethodGet,
		Path:        "/readyz",
		Summary:     "Readiness probe",
		Tags:        []string{"System"},
	}, h.GetReadyz)
}

// GetHealth returns the health status of the service. A degraded queue
// backend does not make the service unhealthy; an unreachable database does.
func (h *HealthHandler) GetHealth(ctx context.Context, _ *HealthInput) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)

	dbHealth := h.getDatabaseHealth(ctx)
	queueHealth := h.getQueueHealth()

	status := "healthy"
	if dbHealth.Status == "error" {
		status = "unhealthy"
	} else if !queueHealth.Durable {
		status = "degraded"
	}

	return &HealthOutput{
		Body: HealthResponse{
			Status:        status,
			Timestamp:     now.UTC().Format(time.RFC3339),
			Version:       h.version,
			Uptime:        uptime.Round(time.Second).String(),
			UptimeSeconds: uptime.Seconds(),
			Queue:         queueHealth,
			Database:      dbHealth,
			CPUInfo:       getCPUInfo(),
			Memory:        getMemoryInfo(),
			Checks: map[string]string{
				"database": dbHealth.Status,
				"queue":    string(queueHealth.Mode),
			},
		},
	}, nil
}

// GetLivez reports that the process is serving requests.
func (h *HealthHandler) GetLivez(_ context.Context, _ *LivezInput) (*LivezOutput, error) {
	out := &LivezOutput{}
	out.Body.Status = "ok"
	return out, nil
}

// GetReadyz reports whether the database is reachable.
func (h *HealthHandler) GetReadyz(ctx context.Context, _ *ReadyzInput) (*ReadyzOutput, error) {
	out := &ReadyzOutput{}
	out.Body.Components = map[string]string{"queue": string(h.getQueueHealth().Mode)}

	switch {
	case h.db == nil:
		out.Body.Components["database"] = "not_configured"
		out.Body.Status = "not_ready"
	case h.db.Ping(ctx) != nil:
		out.Body.Components["database"] = "error"
		out.Body.Status = "not_ready"
	default:
		out.Body.Components["database"] = "ok"
		out.Body.Status = "ready"
	}
	return out, nil
}

func (h *HealthHandler) getQueueHealth() QueueHealth {
	if h.backend == nil {
		return QueueHealth{Mode: queue.ModeDirect}
	}
	return QueueHealth{
		Mode:       h.backend.Mode,
		Durable:    h.backend.Durable(),
		Annotation: h.backend.Annotation(),
	}
}

func (h *HealthHandler) getDatabaseHealth(ctx context.Context) DatabaseHealth {
	if h.db == nil {
		return DatabaseHealth{Status: "unknown"}
	}

	health := DatabaseHealth{Status: "ok", Driver: h.db.Driver()}
	start := time.Now()
	err := h.db.Ping(ctx)
	health.ResponseTimeMS = float64(time.Since(start).Microseconds()) / 1000
	if err != nil {
		health.Status = "error"
		health.Error = err.Error()
	}
	return health
}

func getCPUInfo() CPUInfo {
	info := CPUInfo{Cores: runtime.NumCPU()}

	avg, err := load.Avg()
	if err == nil && avg != nil {
		info.Load1Min = avg.Load1
		info.Load5Min = avg.Load5
		info.Load15Min = avg.Load15
		if info.Cores > 0 {
			info.LoadPercentage1Min = avg.Load1 / float64(info.Cores) * 100
		}
	}
	return info
}

func getMemoryInfo() MemoryInfo {
	const mb = 1024 * 1024
	info := MemoryInfo{}

	if vm, err := mem.VirtualMemory(); err == nil && vm != nil {
		info.TotalMemoryMB = float64(vm.Total) / mb
		info.UsedMemoryMB = float64(vm.Used) / mb
		info.AvailableMemoryMB = float64(vm.Available) / mb
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return info
	}
	if m, err := proc.MemoryInfo(); err == nil && m != nil {
		info.ProcessMemoryMB = float64(m.RSS) / mb
	}
	// Children errors when there are none.
	if children, err := proc.Children(); err == nil {
		info.ChildProcessCount = len(children)
	}
	return info
}
