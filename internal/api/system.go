package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/instance-watch/internal/infrastructure/database"
)

// SystemSummary is the body of GET /api/v1/system.
type SystemSummary struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	Instances     InstanceMetrics `json:"instances"`
	Database      *DatabaseInfo   `json:"database,omitempty"`
}

// DatabaseInfo describes the transition-log database.
type DatabaseInfo struct {
	Path            string                 `json:"path"`
	OpenConnections int                    `json:"open_connections"`
	InUse           int                    `json:"in_use"`
	Idle            int                    `json:"idle"`
	WaitCount       int64                  `json:"wait_count"`
	Schema          *database.SchemaStatus `json:"schema,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// InstanceMetrics counts the watched instances by mode and status.
type InstanceMetrics struct {
	Total        int            `json:"total"`
	Enabled      int            `json:"enabled"`
	NotOperating int            `json:"not_operating"`
	ByMode       map[string]int `json:"by_mode"`
}

// handleSystem returns runtime, catalog and database statistics.
func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	summary := SystemSummary{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		Instances: InstanceMetrics{ByMode: make(map[string]int)},
	}

	for _, inst := range s.watcher.Instances() {
		summary.Instances.Total++
		summary.Instances.ByMode[inst.Mode.String()]++
		if inst.Enabled {
			summary.Instances.Enabled++
		}
	}
	summary.Instances.NotOperating = len(s.watcher.NotOperating())

	if s.db != nil {
		stats := s.db.Stats()
		summary.Database = &DatabaseInfo{
			Path:            s.db.Path(),
			OpenConnections: stats.OpenConnections,
			InUse:           stats.InUse,
			Idle:            stats.Idle,
			WaitCount:       stats.WaitCount,
		}
		if schema, err := s.db.SchemaStatus(r.Context()); err != nil {
			s.logger.Warn("reading schema status", "error", err)
		} else {
			summary.Database.Schema = &schema
		}
	}

	writeJSON(w, http.StatusOK, summary)
}
