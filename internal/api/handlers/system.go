// MIT License
//
// Copyright (c) 2026 Kolin
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.
//
package handlers

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"authguard/internal/database"
	"authguard/internal/realtime"
	"authguard/internal/version"

	"github.com/gin-gonic/gin"
	"github.com/pterm/pterm"
)

// SystemHandler handles system statistics requests
type SystemHandler struct {
	cleanupService *database.CleanupService
	collector      *realtime.Collector
	logger         *pterm.Logger
	startTime      time.Time
	dbPath         string
	retentionDays  int
}

// SystemStats holds process and maintenance statistics
type SystemStats struct {
	AppVersion    string  `json:"app_version"`
	Uptime        string  `json:"uptime"`
	UptimeSeconds int64   `json:"uptime_seconds"`
	StartTime     string  `json:"start_time"`
	GoVersion     string  `json:"go_version"`
	NumCPU        int     `json:"num_cpu"`
	NumGoroutines int     `json:"num_goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`

	DatabasePath   string  `json:"database_path"`
	DatabaseSizeMB float64 `json:"database_size_mb"`

	RetentionDays      int    `json:"retention_days"`
	NextCleanupTime    string `json:"next_cleanup_time"`
	LastCleanupTime    string `json:"last_cleanup_time"`
	LastCleanupDeleted int64  `json:"last_cleanup_deleted"`
}

// NewSystemHandler creates a new system handler
func NewSystemHandler(
	cleanupService *database.CleanupService,
	collector *realtime.Collector,
	logger *pterm.Logger,
	dbPath string,
	retentionDays int,
) *SystemHandler {
	return &SystemHandler{
		cleanupService: cleanupService,
		collector:      collector,
		logger:         logger,
		startTime:      time.Now(),
		dbPath:         dbPath,
		retentionDays:  retentionDays,
	}
}

// GetSystemStats returns process, database and cleanup statistics
func (h *SystemHandler) GetSystemStats(c *gin.Context) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	uptime := time.Since(h.startTime)
	stats := SystemStats{
		AppVersion:    version.Version,
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: int64(uptime.Seconds()),
		StartTime:     h.startTime.Format(time.RFC3339),
		GoVersion:     runtime.Version(),
		NumCPU:        runtime.NumCPU(),
		NumGoroutines: runtime.NumGoroutine(),
		MemoryAllocMB: float64(memStats.Alloc) / (1024 * 1024),
		DatabasePath:  h.dbPath,
		RetentionDays: h.retentionDays,
	}

	if info, err := os.Stat(h.dbPath); err == nil {
		stats.DatabaseSizeMB = float64(info.Size()) / (1024 * 1024)
	}

	if h.cleanupService != nil {
		cleanupStats := h.cleanupService.GetStats()
		stats.NextCleanupTime = cleanupStats.NextScheduledRun.Format(time.RFC3339)
		if !cleanupStats.LastRunTime.IsZero() {
			stats.LastCleanupTime = cleanupStats.LastRunTime.Format(time.RFC3339)
		}
		stats.LastCleanupDeleted = cleanupStats.RecordsDeleted
	}

	c.JSON(http.StatusOK, stats)
}

// GetRealtimeMetrics returns the live attack-pressure view
func (h *SystemHandler) GetRealtimeMetrics(c *gin.Context) {
	if h.collector == nil {
		c.JSON(http.StatusOK, gin.H{"status": "disabled"})
		return
	}
	c.JSON(http.StatusOK, h.collector.Snapshot())
}

// TriggerCleanup handles POST /api/v1/system/cleanup
func (h *SystemHandler) TriggerCleanup(c *gin.Context) {
	if h.cleanupService == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "cleanup service not running"})
		return
	}
	if err := h.cleanupService.ManualCleanup(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"triggered": true})
}
