package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"authguard/internal/database/models"
	"authguard/internal/database/repositories"

	"github.com/glebarez/sqlite"
	"github.com/pterm/pterm"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "test.db") +
		"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(&models.AddressRecord{}); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	return db
}

func TestParseCleanupTime(t *testing.T) {
	logger := pterm.DefaultLogger.WithLevel(pterm.LogLevelError)
	service := NewCleanupService(nil, nil, logger, 30, time.Hour, "02:30", false)

	base := time.Date(2026, 8, 29, 14, 0, 0, 0, time.Local)
	target := service.parseCleanupTime(base)

	if target.Hour() != 2 || target.Minute() != 30 {
		t.Errorf("Expected 02:30, got %02d:%02d", target.Hour(), target.Minute())
	}
	if target.Day() != base.Day() {
		t.Errorf("Expected same day as base, got %d", target.Day())
	}
}

func TestParseCleanupTime_InvalidFallsBack(t *testing.T) {
	logger := pterm.DefaultLogger.WithLevel(pterm.LogLevelError)
	service := NewCleanupService(nil, nil, logger, 30, time.Hour, "nonsense", false)

	target := service.parseCleanupTime(time.Now())
	if target.Hour() != 2 || target.Minute() != 0 {
		t.Errorf("Expected fallback to 02:00, got %02d:%02d", target.Hour(), target.Minute())
	}
}

func TestGetStats_NextScheduledRunInFuture(t *testing.T) {
	logger := pterm.DefaultLogger.WithLevel(pterm.LogLevelError)
	service := NewCleanupService(nil, nil, logger, 30, time.Hour, "02:00", false)

	stats := service.GetStats()
	if !stats.NextScheduledRun.After(time.Now()) {
		t.Errorf("Expected next scheduled run in the future, got %s", stats.NextScheduledRun)
	}
	if !stats.LastRunTime.IsZero() {
		t.Errorf("Expected zero last run time before first cleanup, got %s", stats.LastRunTime)
	}
}

func TestRunCleanup_PurgesOldKeepsActiveBlocks(t *testing.T) {
	db := openTestDB(t)
	logger := pterm.DefaultLogger.WithLevel(pterm.LogLevelError)
	repo := repositories.NewAddressRecordRepository(db, logger)
	ctx := context.Background()

	now := time.Now()
	old := now.AddDate(0, 0, -60)

	seed := func(address string) {
		for i := 0; i < 5; i++ {
			if _, err := repo.IncrementAttempt(ctx, address, "admin", old); err != nil {
				t.Fatalf("IncrementAttempt failed: %v", err)
			}
		}
	}
	seed("203.0.113.1") // old, will be blocked with a live block
	seed("203.0.113.2") // old, purgeable
	seed("203.0.113.3")

	if err := db.Exec(`UPDATE address_records SET created_at = ? WHERE address != '203.0.113.3'`, old).Error; err != nil {
		t.Fatalf("Failed to backdate records: %v", err)
	}
	if won, err := repo.MarkBlocked(ctx, "203.0.113.1", now.Add(time.Hour), 5); err != nil || !won {
		t.Fatalf("Expected MarkBlocked to win, got won=%v err=%v", won, err)
	}

	service := NewCleanupService(db, repo, logger, 30, time.Hour, "02:00", false)
	service.runCleanup()

	stats := service.GetStats()
	if stats.RecordsDeleted != 1 {
		t.Errorf("Expected 1 record purged, got %d", stats.RecordsDeleted)
	}
	if stats.LastRunTime.IsZero() {
		t.Error("Expected last run time recorded")
	}

	blocked, err := repo.Find(ctx, "203.0.113.1")
	if err != nil || blocked == nil {
		t.Errorf("Expected actively blocked record to survive, got record=%v err=%v", blocked, err)
	}
	recent, err := repo.Find(ctx, "203.0.113.3")
	if err != nil || recent == nil {
		t.Errorf("Expected record inside retention window to survive, got record=%v err=%v", recent, err)
	}
	purged, err := repo.Find(ctx, "203.0.113.2")
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if purged != nil {
		t.Error("Expected old unblocked record to be purged")
	}
}

func TestManualCleanup_RetentionDisabled(t *testing.T) {
	logger := pterm.DefaultLogger.WithLevel(pterm.LogLevelError)
	service := NewCleanupService(nil, nil, logger, 0, time.Hour, "02:00", false)

	if err := service.ManualCleanup(); err == nil {
		t.Error("Expected error when retention is disabled")
	}
}
