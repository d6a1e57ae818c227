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
package protection

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"authguard/internal/database/models"
	"authguard/internal/database/repositories"
	"authguard/internal/enrichment"
	"authguard/internal/notification"
	"authguard/internal/realtime"

	"github.com/pterm/pterm"
)

// ErrInvalidAddress is returned for input that is not a valid IP literal.
// Validation failures never reach the state machine.
var ErrInvalidAddress = errors.New("invalid address")

// Limits are the hot-reloadable protection thresholds
type Limits struct {
	MaxAttempts   int64
	BlockDuration time.Duration
}

// Processor is the sole writer of attempt-count and block state
// transitions. All mutations funnel through the repository's atomic
// statements; the processor adds validation, threshold election,
// notification and enrichment around them.
type Processor struct {
	repo      repositories.AddressRecordRepository
	resolver  *enrichment.Resolver
	notifier  notification.Notifier
	collector *realtime.Collector
	logger    *pterm.Logger

	limitsMu sync.RWMutex
	limits   Limits
}

// NewProcessor creates the attempt processor. resolver and collector may be
// nil; notification then falls back to log-only behavior upstream.
func NewProcessor(
	repo repositories.AddressRecordRepository,
	resolver *enrichment.Resolver,
	notifier notification.Notifier,
	collector *realtime.Collector,
	limits Limits,
	logger *pterm.Logger,
) *Processor {
	if limits.MaxAttempts <= 0 {
		limits.MaxAttempts = 5
	}
	if limits.BlockDuration <= 0 {
		limits.BlockDuration = time.Hour
	}

	return &Processor{
		repo:      repo,
		resolver:  resolver,
		notifier:  notifier,
		collector: collector,
		limits:    limits,
		logger:    logger,
	}
}

// Limits returns the currently active thresholds
func (p *Processor) Limits() Limits {
	p.limitsMu.RLock()
	defer p.limitsMu.RUnlock()
	return p.limits
}

// SetLimits swaps the active thresholds; used by the config watcher.
// In-flight attempts finish under the limits they started with.
func (p *Processor) SetLimits(limits Limits) {
	if limits.MaxAttempts <= 0 || limits.BlockDuration <= 0 {
		p.logger.Warn("Ignoring invalid limits update",
			p.logger.Args("max_attempts", limits.MaxAttempts, "block_duration", limits.BlockDuration))
		return
	}

	p.limitsMu.Lock()
	p.limits = limits
	p.limitsMu.Unlock()

	p.logger.Info("Protection limits updated",
		p.logger.Args("max_attempts", limits.MaxAttempts, "block_duration", limits.BlockDuration))
}

// RecordFailedAttempt applies one failed login event. An address with an
// active block is returned as-is, counter untouched. The threshold crossing
// is elected by the repository CAS, so under concurrent attempts exactly one
// caller emits the block event.
func (p *Processor) RecordFailedAttempt(ctx context.Context, address, identity string) (*models.AddressRecord, error) {
	ip := net.ParseIP(address)
	if ip == nil {
		p.logger.Warn("Rejected failed-login event with invalid address",
			p.logger.Args("address", address))
		return nil, ErrInvalidAddress
	}
	address = ip.String()

	now := time.Now()
	record, err := p.repo.IncrementAttempt(ctx, address, identity, now)
	if err != nil {
		return nil, err
	}

	// Active block: the upsert left the counter alone, nothing more to do
	if record.BlockActive(now) {
		p.logger.Debug("Attempt on already-blocked address",
			p.logger.Args("address", address, "blocked_until", record.BlockedUntil))
		p.ingest(record, false)
		return record, nil
	}

	if record.AttemptCount == 1 && !record.GeoResolved {
		p.enrichAsync(address)
	}

	limits := p.Limits()
	if record.AttemptCount >= limits.MaxAttempts {
		until := now.Add(limits.BlockDuration)
		won, err := p.repo.MarkBlocked(ctx, address, until, limits.MaxAttempts)
		if err != nil {
			// The increment already landed; report the transition failure
			// so the caller can retry, rather than silently staying open
			return record, err
		}

		if won {
			record.Blocked = true
			record.BlockedUntil = &until

			p.logger.Info("Address blocked",
				p.logger.Args(
					"address", address,
					"attempt_count", record.AttemptCount,
					"blocked_until", until.Format(time.RFC3339),
				))

			p.notifyBlocked(record)
			p.ingest(record, true)
			return record, nil
		}

		// A concurrent caller won the transition; reflect its block state
		if current, ferr := p.repo.Find(ctx, address); ferr == nil && current != nil {
			record = current
		}
	}

	p.ingest(record, false)
	return record, nil
}

// Unblock clears the block and counter together. Unblocking an unknown or
// already-clear address is a no-op success.
func (p *Processor) Unblock(ctx context.Context, address string) error {
	ip := net.ParseIP(address)
	if ip == nil {
		p.logger.Warn("Rejected unblock with invalid address", p.logger.Args("address", address))
		return ErrInvalidAddress
	}
	return p.repo.Reset(ctx, ip.String())
}

// UnblockAll resets every record, returning how many were touched
func (p *Processor) UnblockAll(ctx context.Context) (int64, error) {
	return p.repo.ResetAll(ctx)
}

// Delete removes one record entirely
func (p *Processor) Delete(ctx context.Context, address string) error {
	ip := net.ParseIP(address)
	if ip == nil {
		p.logger.Warn("Rejected delete with invalid address", p.logger.Args("address", address))
		return ErrInvalidAddress
	}
	return p.repo.Delete(ctx, ip.String())
}

func (p *Processor) DeleteAll(ctx context.Context) (int64, error) {
	return p.repo.DeleteAll(ctx)
}

func (p *Processor) DeleteAllBlocked(ctx context.Context) (int64, error) {
	return p.repo.DeleteAllBlocked(ctx)
}

// Get returns the record for an address, nil if never seen
func (p *Processor) Get(ctx context.Context, address string) (*models.AddressRecord, error) {
	ip := net.ParseIP(address)
	if ip == nil {
		return nil, ErrInvalidAddress
	}
	return p.repo.Find(ctx, ip.String())
}

func (p *Processor) ListBlocked(ctx context.Context, page, pageSize int, search string) ([]*models.AddressRecord, int64, error) {
	return p.repo.ListBlocked(ctx, time.Now(), page, pageSize, search)
}

func (p *Processor) Stats(ctx context.Context, periodDays int) (*repositories.AddressStats, error) {
	if periodDays <= 0 {
		periodDays = 30
	}
	now := time.Now()
	return p.repo.Stats(ctx, now.AddDate(0, 0, -periodDays), now)
}

// enrichAsync resolves geolocation off the attempt path. First sight only;
// the repository's write-once guard makes duplicate kicks harmless.
func (p *Processor) enrichAsync(address string) {
	if p.resolver == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), enrichment.DefaultLookupTimeout)
		defer cancel()

		info := p.resolver.Resolve(ctx, address)
		if info.Source == "unknown" {
			// Leave geo_resolved unset so a later block event can retry
			p.logger.Debug("Geolocation unresolved, will retry on block",
				p.logger.Args("address", address))
			return
		}

		geo := &models.AddressRecord{
			GeoCountryCode: info.CountryCode,
			GeoCountryName: info.CountryName,
			GeoCity:        info.City,
			GeoRegion:      info.Region,
			GeoISP:         info.ISP,
			GeoLatitude:    info.Latitude,
			GeoLongitude:   info.Longitude,
		}
		if err := p.repo.SaveGeo(ctx, address, geo); err != nil {
			p.logger.Debug("Failed to persist geolocation",
				p.logger.Args("address", address, "error", err))
		}
	}()
}

// notifyBlocked emits the single ip_blocked event, fire-and-forget.
// Geolocation in the payload is best effort and never delays the decision.
func (p *Processor) notifyBlocked(record *models.AddressRecord) {
	if p.notifier == nil {
		return
	}

	snapshot := *record
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), enrichment.DefaultLookupTimeout)
		defer cancel()

		payload := map[string]interface{}{
			"address":            snapshot.Address,
			"identity_attempted": snapshot.IdentityAttempted,
			"attempt_count":      snapshot.AttemptCount,
			"blocked_until":      snapshot.BlockedUntil,
		}

		if snapshot.GeoResolved {
			payload["country_code"] = snapshot.GeoCountryCode
			payload["country_name"] = snapshot.GeoCountryName
			payload["city"] = snapshot.GeoCity
			payload["isp"] = snapshot.GeoISP
		} else if p.resolver != nil {
			info := p.resolver.Resolve(ctx, snapshot.Address)
			payload["country_code"] = info.CountryCode
			payload["country_name"] = info.CountryName
			payload["city"] = info.City
			payload["isp"] = info.ISP
		}

		p.notifier.Notify(ctx, notification.Event{
			Type:      notification.EventIPBlocked,
			Timestamp: time.Now(),
			Payload:   payload,
		})
	}()
}

func (p *Processor) ingest(record *models.AddressRecord, blockedNow bool) {
	if p.collector == nil {
		return
	}
	p.collector.Ingest(realtime.AttemptEvent{
		Address:   record.Address,
		Blocked:   blockedNow,
		Timestamp: time.Now(),
	})
}
