package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/cmdbroker/internal/command"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Status        string           `json:"status"`
	Timestamp     string           `json:"timestamp"`
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Runtime       RuntimeMetrics   `json:"runtime"`
	Queue         QueueMetrics     `json:"queue"`
	WebSocket     WSMetrics        `json:"websocket"`
	MQTT          *BackendMetrics  `json:"mqtt,omitempty"`
	InfluxDB      *BackendMetrics  `json:"influxdb,omitempty"`
	Database      *DatabaseMetrics `json:"database,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// QueueMetrics contains queue counts and the active retention windows.
type QueueMetrics struct {
	command.Stats
	CompletedRetentionSeconds int64 `json:"completed_retention_seconds"`
	FailedRetentionSeconds    int64 `json:"failed_retention_seconds"`
	ProcessingTimeoutSeconds  int64 `json:"processing_timeout_seconds"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int    `json:"connected_clients"`
	DroppedMessages  uint64 `json:"dropped_messages"`
}

// BackendMetrics reports an optional backend's connectivity.
type BackendMetrics struct {
	Connected bool `json:"connected"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

const bytesPerMB = 1024 * 1024

// handleMetrics returns runtime, queue and backend metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	policy := s.queue.Policy()

	metrics := SystemMetrics{
		Status:        statusSuccess,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / bytesPerMB,
			MemoryTotalMB: float64(memStats.TotalAlloc) / bytesPerMB,
			NumGC:         memStats.NumGC,
		},
		Queue: QueueMetrics{
			Stats:                     s.queue.Stats(r.Context()),
			CompletedRetentionSeconds: int64(policy.Completed.Seconds()),
			FailedRetentionSeconds:    int64(policy.Failed.Seconds()),
			ProcessingTimeoutSeconds:  int64(policy.ProcessingTimeout.Seconds()),
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
			DroppedMessages:  s.hub.Dropped(),
		},
	}

	if s.mqtt != nil {
		metrics.MQTT = &BackendMetrics{Connected: s.mqtt.IsConnected()}
	}
	if s.influx != nil {
		metrics.InfluxDB = &BackendMetrics{Connected: s.influx.IsConnected()}
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = &DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
