package repositories

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"authguard/internal/database/models"

	"github.com/glebarez/sqlite"
	"github.com/pterm/pterm"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func openTestRepo(t *testing.T) AddressRecordRepository {
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

	logger := pterm.DefaultLogger.WithLevel(pterm.LogLevelError)
	return NewAddressRecordRepository(db, logger)
}

func TestIncrementAttempt_CreatesRecord(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	record, err := repo.IncrementAttempt(ctx, "203.0.113.7", "admin", time.Now())
	if err != nil {
		t.Fatalf("IncrementAttempt failed: %v", err)
	}
	if record.Address != "203.0.113.7" {
		t.Errorf("Expected address '203.0.113.7', got '%s'", record.Address)
	}
	if record.AttemptCount != 1 {
		t.Errorf("Expected attempt count 1, got %d", record.AttemptCount)
	}
	if record.IdentityAttempted != "admin" {
		t.Errorf("Expected identity 'admin', got '%s'", record.IdentityAttempted)
	}
	if record.Blocked {
		t.Error("Expected new record to be unblocked")
	}
}

func TestIncrementAttempt_CountsUp(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		record, err := repo.IncrementAttempt(ctx, "203.0.113.7", "root", time.Now())
		if err != nil {
			t.Fatalf("IncrementAttempt %d failed: %v", i, err)
		}
		if record.AttemptCount != int64(i) {
			t.Errorf("Expected attempt count %d, got %d", i, record.AttemptCount)
		}
	}
}

func TestIncrementAttempt_ActiveBlockKeepsCounter(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	now := time.Now()
	for i := 0; i < 5; i++ {
		if _, err := repo.IncrementAttempt(ctx, "203.0.113.7", "admin", now); err != nil {
			t.Fatalf("IncrementAttempt failed: %v", err)
		}
	}
	won, err := repo.MarkBlocked(ctx, "203.0.113.7", now.Add(time.Hour), 5)
	if err != nil || !won {
		t.Fatalf("Expected MarkBlocked to win, got won=%v err=%v", won, err)
	}

	record, err := repo.IncrementAttempt(ctx, "203.0.113.7", "admin", time.Now())
	if err != nil {
		t.Fatalf("IncrementAttempt on blocked address failed: %v", err)
	}
	if record.AttemptCount != 5 {
		t.Errorf("Expected counter to stay at 5 during active block, got %d", record.AttemptCount)
	}
	if !record.BlockActive(time.Now()) {
		t.Error("Expected block to remain active")
	}
}

func TestIncrementAttempt_ExpiredBlockResetsToOne(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	past := time.Now().Add(-2 * time.Hour)
	for i := 0; i < 5; i++ {
		if _, err := repo.IncrementAttempt(ctx, "203.0.113.7", "admin", past); err != nil {
			t.Fatalf("IncrementAttempt failed: %v", err)
		}
	}
	// Block that expired an hour ago
	if won, err := repo.MarkBlocked(ctx, "203.0.113.7", time.Now().Add(-time.Hour), 5); err != nil || !won {
		t.Fatalf("Expected MarkBlocked to win, got won=%v err=%v", won, err)
	}

	record, err := repo.IncrementAttempt(ctx, "203.0.113.7", "admin", time.Now())
	if err != nil {
		t.Fatalf("IncrementAttempt after expiry failed: %v", err)
	}
	if record.AttemptCount != 1 {
		t.Errorf("Expected fresh count of 1 after expired block, got %d", record.AttemptCount)
	}
	if record.Blocked {
		t.Error("Expected blocked flag cleared after expired block")
	}
	if record.BlockedUntil != nil {
		t.Errorf("Expected blocked_until cleared, got %v", record.BlockedUntil)
	}
}

func TestIncrementAttempt_Concurrent(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	const attempts = 25
	var wg sync.WaitGroup
	errs := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.IncrementAttempt(ctx, "203.0.113.7", "admin", time.Now()); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Concurrent IncrementAttempt failed: %v", err)
	}

	record, err := repo.Find(ctx, "203.0.113.7")
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if record.AttemptCount != attempts {
		t.Errorf("Expected attempt count %d after %d concurrent attempts, got %d",
			attempts, attempts, record.AttemptCount)
	}
}

func TestMarkBlocked_SingleWinner(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	now := time.Now()
	for i := 0; i < 5; i++ {
		if _, err := repo.IncrementAttempt(ctx, "203.0.113.7", "admin", now); err != nil {
			t.Fatalf("IncrementAttempt failed: %v", err)
		}
	}

	until := now.Add(time.Hour)
	first, err := repo.MarkBlocked(ctx, "203.0.113.7", until, 5)
	if err != nil {
		t.Fatalf("First MarkBlocked failed: %v", err)
	}
	second, err := repo.MarkBlocked(ctx, "203.0.113.7", until, 5)
	if err != nil {
		t.Fatalf("Second MarkBlocked failed: %v", err)
	}

	if !first {
		t.Error("Expected first MarkBlocked to win")
	}
	if second {
		t.Error("Expected second MarkBlocked to lose")
	}
}

func TestMarkBlocked_BelowThresholdIsNoOp(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	if _, err := repo.IncrementAttempt(ctx, "203.0.113.7", "admin", time.Now()); err != nil {
		t.Fatalf("IncrementAttempt failed: %v", err)
	}

	won, err := repo.MarkBlocked(ctx, "203.0.113.7", time.Now().Add(time.Hour), 5)
	if err != nil {
		t.Fatalf("MarkBlocked failed: %v", err)
	}
	if won {
		t.Error("Expected MarkBlocked below threshold to not fire")
	}
}

func TestReset_ClearsCounterAndBlockTogether(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	now := time.Now()
	for i := 0; i < 5; i++ {
		if _, err := repo.IncrementAttempt(ctx, "203.0.113.7", "admin", now); err != nil {
			t.Fatalf("IncrementAttempt failed: %v", err)
		}
	}
	if _, err := repo.MarkBlocked(ctx, "203.0.113.7", now.Add(time.Hour), 5); err != nil {
		t.Fatalf("MarkBlocked failed: %v", err)
	}

	if err := repo.Reset(ctx, "203.0.113.7"); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	record, err := repo.Find(ctx, "203.0.113.7")
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if record.AttemptCount != 0 {
		t.Errorf("Expected attempt count 0 after reset, got %d", record.AttemptCount)
	}
	if record.Blocked || record.BlockedUntil != nil {
		t.Error("Expected block state cleared after reset")
	}
}

func TestReset_AbsentAddressIsNoOp(t *testing.T) {
	repo := openTestRepo(t)

	if err := repo.Reset(context.Background(), "198.51.100.1"); err != nil {
		t.Errorf("Expected reset of absent address to succeed, got %v", err)
	}
}

func TestFind_UnknownAddressReturnsNil(t *testing.T) {
	repo := openTestRepo(t)

	record, err := repo.Find(context.Background(), "198.51.100.1")
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if record != nil {
		t.Errorf("Expected nil record for unknown address, got %+v", record)
	}
}

func TestSaveGeo_WriteOnce(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	if _, err := repo.IncrementAttempt(ctx, "203.0.113.7", "admin", time.Now()); err != nil {
		t.Fatalf("IncrementAttempt failed: %v", err)
	}

	first := &models.AddressRecord{GeoCountryCode: "DE", GeoCountryName: "Germany", GeoCity: "Berlin"}
	if err := repo.SaveGeo(ctx, "203.0.113.7", first); err != nil {
		t.Fatalf("First SaveGeo failed: %v", err)
	}

	// A slower lookup landing later must not clobber the first result
	second := &models.AddressRecord{GeoCountryCode: "FR", GeoCountryName: "France", GeoCity: "Paris"}
	if err := repo.SaveGeo(ctx, "203.0.113.7", second); err != nil {
		t.Fatalf("Second SaveGeo failed: %v", err)
	}

	record, err := repo.Find(ctx, "203.0.113.7")
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if !record.GeoResolved {
		t.Error("Expected geo_resolved set")
	}
	if record.GeoCountryCode != "DE" {
		t.Errorf("Expected country 'DE' from first write, got '%s'", record.GeoCountryCode)
	}
}

func TestListBlocked_ExcludesExpiredBlocks(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	block := func(address string, until time.Time) {
		for i := 0; i < 5; i++ {
			if _, err := repo.IncrementAttempt(ctx, address, "admin", now.Add(-time.Minute)); err != nil {
				t.Fatalf("IncrementAttempt failed: %v", err)
			}
		}
		if won, err := repo.MarkBlocked(ctx, address, until, 5); err != nil || !won {
			t.Fatalf("Expected MarkBlocked to win for %s, got won=%v err=%v", address, won, err)
		}
	}

	block("203.0.113.1", now.Add(time.Hour))
	block("203.0.113.2", now.Add(-time.Hour)) // already expired

	records, total, err := repo.ListBlocked(ctx, now, 1, 50, "")
	if err != nil {
		t.Fatalf("ListBlocked failed: %v", err)
	}
	if total != 1 {
		t.Errorf("Expected 1 active block, got %d", total)
	}
	if len(records) != 1 || records[0].Address != "203.0.113.1" {
		t.Errorf("Expected only '203.0.113.1' in blocked list, got %+v", records)
	}
}

func TestListBlocked_SearchFilter(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	for _, address := range []string{"203.0.113.1", "198.51.100.9"} {
		for i := 0; i < 5; i++ {
			if _, err := repo.IncrementAttempt(ctx, address, "admin", now.Add(-time.Minute)); err != nil {
				t.Fatalf("IncrementAttempt failed: %v", err)
			}
		}
		if _, err := repo.MarkBlocked(ctx, address, now.Add(time.Hour), 5); err != nil {
			t.Fatalf("MarkBlocked failed: %v", err)
		}
	}

	records, total, err := repo.ListBlocked(ctx, now, 1, 50, "198.51")
	if err != nil {
		t.Fatalf("ListBlocked with search failed: %v", err)
	}
	if total != 1 || len(records) != 1 {
		t.Fatalf("Expected 1 match for '198.51', got total=%d len=%d", total, len(records))
	}
	if records[0].Address != "198.51.100.9" {
		t.Errorf("Expected '198.51.100.9', got '%s'", records[0].Address)
	}
}

func TestDeleteOlderThan_KeepsActiveBlocks(t *testing.T) {
	repo := openTestRepo(t)
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
	seed("203.0.113.1")
	seed("203.0.113.2")

	// Backdate created_at past the retention cutoff
	db := repo.(*addressRecordRepo).db
	if err := db.Exec(`UPDATE address_records SET created_at = ?`, old).Error; err != nil {
		t.Fatalf("Failed to backdate records: %v", err)
	}

	// One of the two old records carries a block that is still active
	if won, err := repo.MarkBlocked(ctx, "203.0.113.1", now.Add(time.Hour), 5); err != nil || !won {
		t.Fatalf("Expected MarkBlocked to win, got won=%v err=%v", won, err)
	}

	cutoff := now.AddDate(0, 0, -30)
	deleted, err := repo.DeleteOlderThan(ctx, cutoff, now, 1000)
	if err != nil {
		t.Fatalf("DeleteOlderThan failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 record purged, got %d", deleted)
	}

	survivor, err := repo.Find(ctx, "203.0.113.1")
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if survivor == nil {
		t.Fatal("Expected actively blocked record to survive the purge")
	}
	if !survivor.BlockActive(now) {
		t.Error("Expected surviving record to still be blocked")
	}

	purged, err := repo.Find(ctx, "203.0.113.2")
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if purged != nil {
		t.Error("Expected unblocked old record to be purged")
	}
}

func TestStats_Counts(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 3; i++ {
		if _, err := repo.IncrementAttempt(ctx, "203.0.113.1", "admin", now); err != nil {
			t.Fatalf("IncrementAttempt failed: %v", err)
		}
	}
	for i := 0; i < 5; i++ {
		if _, err := repo.IncrementAttempt(ctx, "203.0.113.2", "root", now); err != nil {
			t.Fatalf("IncrementAttempt failed: %v", err)
		}
	}
	if _, err := repo.MarkBlocked(ctx, "203.0.113.2", now.Add(time.Hour), 5); err != nil {
		t.Fatalf("MarkBlocked failed: %v", err)
	}

	stats, err := repo.Stats(ctx, now.AddDate(0, 0, -30), now)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalAddresses != 2 {
		t.Errorf("Expected 2 total addresses, got %d", stats.TotalAddresses)
	}
	if stats.CurrentlyBlocked != 1 {
		t.Errorf("Expected 1 currently blocked, got %d", stats.CurrentlyBlocked)
	}
	if stats.ActiveInPeriod != 2 {
		t.Errorf("Expected 2 active in period, got %d", stats.ActiveInPeriod)
	}
	if stats.AttemptsInPeriod != 8 {
		t.Errorf("Expected 8 attempts in period, got %d", stats.AttemptsInPeriod)
	}
}

func TestDeleteAllBlocked(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	for _, address := range []string{"203.0.113.1", "203.0.113.2"} {
		for i := 0; i < 5; i++ {
			if _, err := repo.IncrementAttempt(ctx, address, "admin", now); err != nil {
				t.Fatalf("IncrementAttempt failed: %v", err)
			}
		}
	}
	if _, err := repo.MarkBlocked(ctx, "203.0.113.1", now.Add(time.Hour), 5); err != nil {
		t.Fatalf("MarkBlocked failed: %v", err)
	}

	deleted, err := repo.DeleteAllBlocked(ctx)
	if err != nil {
		t.Fatalf("DeleteAllBlocked failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 blocked record deleted, got %d", deleted)
	}

	remaining, err := repo.Find(ctx, "203.0.113.2")
	if err != nil || remaining == nil {
		t.Errorf("Expected unblocked record to remain, got record=%v err=%v", remaining, err)
	}
}
