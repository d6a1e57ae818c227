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
package models

import (
	"time"
)

// AddressRecord stores per-address failed-attempt state and block status
type AddressRecord struct {
	ID      uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	Address string `gorm:"uniqueIndex;not null" json:"address"`

	// Attempt tracking
	IdentityAttempted string    `gorm:"size:255" json:"identity_attempted"`
	AttemptCount      int64     `gorm:"not null;default:0" json:"attempt_count"`
	LastAttemptAt     time.Time `gorm:"not null;index" json:"last_attempt_at"`

	// Block state. The three fields below are only ever written together.
	Blocked      bool       `gorm:"not null;default:false;index:idx_blocked_until,priority:1" json:"blocked"`
	BlockedUntil *time.Time `gorm:"index:idx_blocked_until,priority:2" json:"blocked_until"`

	// Geolocation enrichment, populated once per address (best effort)
	GeoResolved    bool    `gorm:"not null;default:false" json:"geo_resolved"`
	GeoCountryCode string  `gorm:"size:2;index" json:"geo_country_code"`
	GeoCountryName string  `gorm:"size:100" json:"geo_country_name"`
	GeoCity        string  `gorm:"size:100" json:"geo_city"`
	GeoRegion      string  `gorm:"size:100" json:"geo_region"`
	GeoISP         string  `gorm:"size:255" json:"geo_isp"`
	GeoLatitude    float64 `json:"geo_latitude"`
	GeoLongitude   float64 `json:"geo_longitude"`

	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (AddressRecord) TableName() string {
	return "address_records"
}

// BlockActive is the single authoritative block predicate. A stale
// blocked flag whose expiry has passed does not count as blocked; every
// reader (gate, processor, stats, sweeper SQL) agrees on this definition.
func (r *AddressRecord) BlockActive(now time.Time) bool {
	if r == nil || !r.Blocked || r.BlockedUntil == nil {
		return false
	}
	return now.Before(*r.BlockedUntil)
}

// RetryAfter returns how long until the block expires, zero if not blocked.
func (r *AddressRecord) RetryAfter(now time.Time) time.Duration {
	if !r.BlockActive(now) {
		return 0
	}
	return r.BlockedUntil.Sub(now)
}
