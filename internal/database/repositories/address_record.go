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
package repositories

import (
	"context"
	"errors"
	"time"

	"authguard/internal/database/models"

	"github.com/pterm/pterm"
	"gorm.io/gorm"
)

// QueryTimeout bounds every store operation so callers never hang on the
// database; they get a retriable error instead.
const QueryTimeout = 5 * time.Second

// AddressStats holds aggregate counts for a reporting period
type AddressStats struct {
	TotalAddresses   int64           `json:"total_addresses"`
	CurrentlyBlocked int64           `json:"currently_blocked"`
	ActiveInPeriod   int64           `json:"active_in_period"`
	AttemptsInPeriod int64           `json:"attempts_in_period"`
	TopCountries     []*CountryCount `json:"top_countries"`
}

// CountryCount is one row of the per-country breakdown
type CountryCount struct {
	CountryCode string `json:"country_code"`
	Addresses   int64  `json:"addresses"`
}

// AddressRecordRepository handles all reads and writes of per-address state.
// Every state transition is a single SQL statement so that concurrent
// callers for the same address are serialized by the database writer and
// the blocked/blocked_until/attempt_count triple is never written apart.
type AddressRecordRepository interface {
	// IncrementAttempt atomically fetches-or-creates the record for address
	// and applies one failed attempt. An active block leaves the counter
	// untouched; an expired block resets to a fresh count of 1 and clears
	// the block flags in the same statement. Returns the post-image.
	IncrementAttempt(ctx context.Context, address, identity string, now time.Time) (*models.AddressRecord, error)

	// MarkBlocked is the compare-and-swap block transition. It only fires
	// when the record is unblocked and at or over the threshold, so exactly
	// one of any number of concurrent callers observes won == true.
	MarkBlocked(ctx context.Context, address string, until time.Time, maxAttempts int64) (won bool, err error)

	// Reset clears attempt_count, blocked and blocked_until together.
	// Resetting an absent or already-clear record is a no-op success.
	Reset(ctx context.Context, address string) error
	ResetAll(ctx context.Context) (int64, error)

	Find(ctx context.Context, address string) (*models.AddressRecord, error)
	Delete(ctx context.Context, address string) error
	DeleteAll(ctx context.Context) (int64, error)
	DeleteAllBlocked(ctx context.Context) (int64, error)

	// SaveGeo stores enrichment data once; later calls for the same address
	// are ignored so a slow lookup cannot clobber an earlier result.
	SaveGeo(ctx context.Context, address string, geo *models.AddressRecord) error

	ListBlocked(ctx context.Context, now time.Time, page, pageSize int, search string) ([]*models.AddressRecord, int64, error)
	Stats(ctx context.Context, since, now time.Time) (*AddressStats, error)

	// DeleteOlderThan purges records created before cutoff in batches,
	// never touching a record whose block is still active at now.
	DeleteOlderThan(ctx context.Context, cutoff, now time.Time, batchSize int) (int64, error)
	CountOlderThan(ctx context.Context, cutoff, now time.Time) (int64, error)
}

type addressRecordRepo struct {
	db     *gorm.DB
	logger *pterm.Logger
}

// NewAddressRecordRepository creates a new address record repository
func NewAddressRecordRepository(db *gorm.DB, logger *pterm.Logger) AddressRecordRepository {
	return &addressRecordRepo{db: db, logger: logger}
}

func (r *addressRecordRepo) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, QueryTimeout)
}

// incrementSQL encodes the whole per-address state machine in one upsert:
// the CASE guards mean an active block never inflates the counter, and an
// expired block resets count and flags together before counting the new
// attempt as 1. SQLite serializes writers, so concurrent increments for the
// same address are linearizable with no read-modify-write window.
const incrementSQL = `
INSERT INTO address_records (
	address, identity_attempted, attempt_count, last_attempt_at,
	blocked, blocked_until, geo_resolved, created_at, updated_at
) VALUES (?, ?, 1, ?, 0, NULL, 0, ?, ?)
ON CONFLICT(address) DO UPDATE SET
	identity_attempted = excluded.identity_attempted,
	last_attempt_at    = excluded.last_attempt_at,
	updated_at         = excluded.updated_at,
	attempt_count = CASE
		WHEN blocked AND blocked_until > excluded.last_attempt_at THEN attempt_count
		WHEN blocked THEN 1
		ELSE attempt_count + 1
	END,
	blocked_until = CASE
		WHEN blocked AND blocked_until > excluded.last_attempt_at THEN blocked_until
		ELSE NULL
	END,
	blocked = CASE
		WHEN blocked AND blocked_until > excluded.last_attempt_at THEN blocked
		ELSE 0
	END
RETURNING *`

func (r *addressRecordRepo) IncrementAttempt(ctx context.Context, address, identity string, now time.Time) (*models.AddressRecord, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var record models.AddressRecord
	err := r.db.WithContext(ctx).
		Raw(incrementSQL, address, identity, now, now, now).
		Scan(&record).Error
	if err != nil {
		r.logger.WithCaller().Error("Failed to record attempt",
			r.logger.Args("address", address, "error", err))
		return nil, err
	}

	r.logger.Trace("Recorded failed attempt",
		r.logger.Args("address", address, "attempt_count", record.AttemptCount))
	return &record, nil
}

func (r *addressRecordRepo) MarkBlocked(ctx context.Context, address string, until time.Time, maxAttempts int64) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	result := r.db.WithContext(ctx).Exec(`
		UPDATE address_records
		SET blocked = 1, blocked_until = ?, updated_at = ?
		WHERE address = ? AND blocked = 0 AND attempt_count >= ?`,
		until, time.Now(), address, maxAttempts)
	if result.Error != nil {
		r.logger.WithCaller().Error("Failed to mark address blocked",
			r.logger.Args("address", address, "error", result.Error))
		return false, result.Error
	}

	return result.RowsAffected == 1, nil
}

func (r *addressRecordRepo) Reset(ctx context.Context, address string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	result := r.db.WithContext(ctx).Exec(`
		UPDATE address_records
		SET attempt_count = 0, blocked = 0, blocked_until = NULL, updated_at = ?
		WHERE address = ?`,
		time.Now(), address)
	if result.Error != nil {
		r.logger.WithCaller().Error("Failed to reset address",
			r.logger.Args("address", address, "error", result.Error))
		return result.Error
	}

	r.logger.Trace("Reset address state",
		r.logger.Args("address", address, "existed", result.RowsAffected == 1))
	return nil
}

func (r *addressRecordRepo) ResetAll(ctx context.Context) (int64, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	result := r.db.WithContext(ctx).Exec(`
		UPDATE address_records
		SET attempt_count = 0, blocked = 0, blocked_until = NULL, updated_at = ?
		WHERE attempt_count <> 0 OR blocked = 1`,
		time.Now())
	if result.Error != nil {
		r.logger.WithCaller().Error("Failed to reset all addresses",
			r.logger.Args("error", result.Error))
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// Find returns (nil, nil) for an address that has never been seen.
func (r *addressRecordRepo) Find(ctx context.Context, address string) (*models.AddressRecord, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var record models.AddressRecord
	err := r.db.WithContext(ctx).Where("address = ?", address).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.logger.WithCaller().Error("Failed to find address record",
			r.logger.Args("address", address, "error", err))
		return nil, err
	}
	return &record, nil
}

func (r *addressRecordRepo) Delete(ctx context.Context, address string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if err := r.db.WithContext(ctx).
		Where("address = ?", address).
		Delete(&models.AddressRecord{}).Error; err != nil {
		r.logger.WithCaller().Error("Failed to delete address record",
			r.logger.Args("address", address, "error", err))
		return err
	}
	return nil
}

func (r *addressRecordRepo) DeleteAll(ctx context.Context) (int64, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	result := r.db.WithContext(ctx).Exec(`DELETE FROM address_records`)
	if result.Error != nil {
		r.logger.WithCaller().Error("Failed to delete all address records",
			r.logger.Args("error", result.Error))
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *addressRecordRepo) DeleteAllBlocked(ctx context.Context) (int64, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	result := r.db.WithContext(ctx).Exec(`DELETE FROM address_records WHERE blocked = 1`)
	if result.Error != nil {
		r.logger.WithCaller().Error("Failed to delete blocked address records",
			r.logger.Args("error", result.Error))
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *addressRecordRepo) SaveGeo(ctx context.Context, address string, geo *models.AddressRecord) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	// geo_resolved = 0 guard keeps enrichment write-once per address
	result := r.db.WithContext(ctx).Exec(`
		UPDATE address_records
		SET geo_resolved = 1, geo_country_code = ?, geo_country_name = ?,
		    geo_city = ?, geo_region = ?, geo_isp = ?,
		    geo_latitude = ?, geo_longitude = ?, updated_at = ?
		WHERE address = ? AND geo_resolved = 0`,
		geo.GeoCountryCode, geo.GeoCountryName, geo.GeoCity, geo.GeoRegion,
		geo.GeoISP, geo.GeoLatitude, geo.GeoLongitude, time.Now(), address)
	if result.Error != nil {
		r.logger.WithCaller().Error("Failed to save geolocation",
			r.logger.Args("address", address, "error", result.Error))
		return result.Error
	}

	r.logger.Trace("Saved geolocation",
		r.logger.Args("address", address, "applied", result.RowsAffected == 1))
	return nil
}

// ListBlocked returns the active-block view: the same blocked_until
// predicate as AddressRecord.BlockActive, so the admin list never shows a
// block that the gate would already treat as expired.
func (r *addressRecordRepo) ListBlocked(ctx context.Context, now time.Time, page, pageSize int, search string) ([]*models.AddressRecord, int64, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 500 {
		pageSize = 50
	}

	query := r.db.WithContext(ctx).Model(&models.AddressRecord{}).
		Where("blocked = 1 AND blocked_until > ?", now)
	if search != "" {
		like := "%" + search + "%"
		query = query.Where("address LIKE ? OR identity_attempted LIKE ?", like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		r.logger.WithCaller().Error("Failed to count blocked records",
			r.logger.Args("error", err))
		return nil, 0, err
	}

	var records []*models.AddressRecord
	err := query.Order("blocked_until DESC").
		Limit(pageSize).
		Offset((page - 1) * pageSize).
		Find(&records).Error
	if err != nil {
		r.logger.WithCaller().Error("Failed to list blocked records",
			r.logger.Args("error", err))
		return nil, 0, err
	}

	r.logger.Trace("Listed blocked records",
		r.logger.Args("count", len(records), "total", total, "page", page))
	return records, total, nil
}

func (r *addressRecordRepo) Stats(ctx context.Context, since, now time.Time) (*AddressStats, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	stats := &AddressStats{}
	db := r.db.WithContext(ctx).Model(&models.AddressRecord{})

	if err := db.Count(&stats.TotalAddresses).Error; err != nil {
		r.logger.WithCaller().Error("Failed to count addresses", r.logger.Args("error", err))
		return nil, err
	}

	if err := r.db.WithContext(ctx).Model(&models.AddressRecord{}).
		Where("blocked = 1 AND blocked_until > ?", now).
		Count(&stats.CurrentlyBlocked).Error; err != nil {
		r.logger.WithCaller().Error("Failed to count blocked addresses", r.logger.Args("error", err))
		return nil, err
	}

	row := r.db.WithContext(ctx).Raw(`
		SELECT COUNT(*), COALESCE(SUM(attempt_count), 0)
		FROM address_records
		WHERE last_attempt_at > ?`, since).Row()
	if err := row.Scan(&stats.ActiveInPeriod, &stats.AttemptsInPeriod); err != nil {
		r.logger.WithCaller().Error("Failed to aggregate period stats", r.logger.Args("error", err))
		return nil, err
	}

	err := r.db.WithContext(ctx).Raw(`
		SELECT geo_country_code AS country_code, COUNT(*) AS addresses
		FROM address_records
		WHERE last_attempt_at > ? AND geo_country_code != ''
		GROUP BY geo_country_code
		ORDER BY addresses DESC
		LIMIT 10`, since).Scan(&stats.TopCountries).Error
	if err != nil {
		r.logger.WithCaller().Error("Failed to aggregate country stats", r.logger.Args("error", err))
		return nil, err
	}

	return stats, nil
}

func (r *addressRecordRepo) CountOlderThan(ctx context.Context, cutoff, now time.Time) (int64, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var count int64
	err := r.db.WithContext(ctx).Model(&models.AddressRecord{}).
		Where("created_at < ? AND NOT (blocked = 1 AND blocked_until > ?)", cutoff, now).
		Count(&count).Error
	if err != nil {
		r.logger.WithCaller().Error("Failed to count purgeable records", r.logger.Args("error", err))
		return 0, err
	}
	return count, nil
}

// DeleteOlderThan mirrors BlockActive in SQL: a record with an unexpired
// block survives the purge no matter how old its created_at is.
func (r *addressRecordRepo) DeleteOlderThan(ctx context.Context, cutoff, now time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}

	totalDeleted := int64(0)
	for {
		batchCtx, cancel := r.withTimeout(ctx)
		result := r.db.WithContext(batchCtx).Exec(`
			DELETE FROM address_records
			WHERE id IN (
				SELECT id FROM address_records
				WHERE created_at < ? AND NOT (blocked = 1 AND blocked_until > ?)
				LIMIT ?
			)`, cutoff, now, batchSize)
		cancel()

		if result.Error != nil {
			return totalDeleted, result.Error
		}

		totalDeleted += result.RowsAffected
		if result.RowsAffected == 0 {
			break
		}

		r.logger.Trace("Deleted retention batch",
			r.logger.Args("batch_deleted", result.RowsAffected, "total_deleted", totalDeleted))

		// Small pause between batches to avoid hogging the database
		time.Sleep(50 * time.Millisecond)
	}

	return totalDeleted, nil
}
