package database

import (
	"context"
	"fmt"
	"time"

	"authguard/internal/database/repositories"

	"github.com/pterm/pterm"
	"gorm.io/gorm"
)

// CleanupService purges address records older than the retention window.
// Records with an unexpired block are never purged, regardless of age.
type CleanupService struct {
	db            *gorm.DB
	repo          repositories.AddressRecordRepository
	logger        *pterm.Logger
	retentionDays int
	checkInterval time.Duration
	cleanupTime   string
	vacuumEnabled bool
	stopChan      chan struct{}
	running       bool
	// Stats tracking
	lastRunTime     time.Time
	recordsDeleted  int64
	cleanupDuration time.Duration
}

// CleanupStats holds statistics about cleanup operations
type CleanupStats struct {
	LastRunTime      time.Time     `json:"last_run_time"`
	RecordsDeleted   int64         `json:"records_deleted"`
	CleanupDuration  time.Duration `json:"cleanup_duration"`
	NextScheduledRun time.Time     `json:"next_scheduled_run"`
}

// NewCleanupService creates a new cleanup service
func NewCleanupService(db *gorm.DB, repo repositories.AddressRecordRepository, logger *pterm.Logger, retentionDays int, checkInterval time.Duration, cleanupTime string, vacuumEnabled bool) *CleanupService {
	return &CleanupService{
		db:            db,
		repo:          repo,
		logger:        logger,
		retentionDays: retentionDays,
		checkInterval: checkInterval,
		cleanupTime:   cleanupTime,
		vacuumEnabled: vacuumEnabled,
		stopChan:      make(chan struct{}),
		running:       false,
	}
}

// Start begins the cleanup service
func (s *CleanupService) Start() {
	if s.retentionDays <= 0 {
		s.logger.Info("Data retention disabled (AUTHGUARD_RETENTION_DAYS=0), cleanup service not started")
		return
	}

	s.running = true
	s.logger.Info("Starting retention cleanup service",
		s.logger.Args(
			"retention_days", s.retentionDays,
			"cleanup_time", s.cleanupTime,
			"vacuum_enabled", s.vacuumEnabled,
		))

	go s.scheduledCleanupLoop()
}

// Stop stops the cleanup service
func (s *CleanupService) Stop() {
	if !s.running {
		return
	}

	s.logger.Info("Stopping retention cleanup service")
	close(s.stopChan)
	s.running = false
}

// scheduledCleanupLoop runs cleanup at the scheduled time daily
func (s *CleanupService) scheduledCleanupLoop() {
	for {
		select {
		case <-s.stopChan:
			return
		default:
			now := time.Now()
			targetTime := s.parseCleanupTime(now)

			// If target time has passed today, schedule for tomorrow
			if now.After(targetTime) {
				targetTime = targetTime.Add(24 * time.Hour)
			}

			waitDuration := time.Until(targetTime)
			s.logger.Debug("Next cleanup scheduled",
				s.logger.Args("next_run", targetTime.Format("2006-01-02 15:04:05"), "wait_duration", waitDuration.Round(time.Minute)))

			select {
			case <-s.stopChan:
				return
			case <-time.After(minDuration(waitDuration, s.checkInterval)):
				if time.Now().After(targetTime.Add(-1 * time.Minute)) {
					s.runCleanup()
				}
			}
		}
	}
}

// parseCleanupTime parses the cleanup time string (HH:MM) and returns today's time
func (s *CleanupService) parseCleanupTime(baseTime time.Time) time.Time {
	cleanupTime, err := time.Parse("15:04", s.cleanupTime)
	if err != nil {
		s.logger.Warn("Invalid cleanup time format, using 02:00",
			s.logger.Args("configured", s.cleanupTime, "error", err))
		cleanupTime, _ = time.Parse("15:04", "02:00")
	}

	return time.Date(
		baseTime.Year(), baseTime.Month(), baseTime.Day(),
		cleanupTime.Hour(), cleanupTime.Minute(), 0, 0,
		baseTime.Location(),
	)
}

// runCleanup performs the cleanup operation. Failures are logged, not
// escalated; no request is ever waiting on the sweeper.
func (s *CleanupService) runCleanup() {
	s.logger.Info("Starting scheduled retention cleanup",
		s.logger.Args("retention_days", s.retentionDays))

	startTime := time.Now()
	cutoff := startTime.AddDate(0, 0, -s.retentionDays)

	totalDeleted, err := s.repo.DeleteOlderThan(context.Background(), cutoff, startTime, 1000)
	if err != nil {
		s.logger.WithCaller().Error("Failed to delete old records",
			s.logger.Args("error", err, "cutoff", cutoff.Format("2006-01-02"), "deleted_before_error", totalDeleted))
		return
	}

	cleanupDuration := time.Since(startTime)

	s.lastRunTime = startTime
	s.recordsDeleted = totalDeleted
	s.cleanupDuration = cleanupDuration

	s.logger.Info("Cleanup completed",
		s.logger.Args(
			"records_deleted", totalDeleted,
			"duration", cleanupDuration.Round(time.Second),
			"cutoff", cutoff.Format("2006-01-02"),
		))

	if s.vacuumEnabled && totalDeleted > 0 {
		s.runVacuum()
	}
}

// runVacuum runs VACUUM to reclaim space
func (s *CleanupService) runVacuum() {
	s.logger.Info("Running VACUUM to reclaim disk space (database will be briefly unavailable)")

	startTime := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if err := s.db.WithContext(ctx).Exec("VACUUM").Error; err != nil {
		s.logger.WithCaller().Error("Failed to run VACUUM",
			s.logger.Args("error", err))
		return
	}

	s.logger.Info("VACUUM completed",
		s.logger.Args("duration", time.Since(startTime).Round(time.Second)))
}

// GetStats returns cleanup statistics
func (s *CleanupService) GetStats() *CleanupStats {
	now := time.Now()
	targetTime := s.parseCleanupTime(now)
	if now.After(targetTime) {
		targetTime = targetTime.Add(24 * time.Hour)
	}

	return &CleanupStats{
		LastRunTime:      s.lastRunTime,
		RecordsDeleted:   s.recordsDeleted,
		CleanupDuration:  s.cleanupDuration,
		NextScheduledRun: targetTime,
	}
}

// ManualCleanup triggers cleanup immediately (useful for testing/admin)
func (s *CleanupService) ManualCleanup() error {
	if s.retentionDays <= 0 {
		return fmt.Errorf("retention disabled (AUTHGUARD_RETENTION_DAYS=0)")
	}

	s.logger.Info("Manual cleanup triggered")
	go s.runCleanup()
	return nil
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
