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
package enrichment

import (
	"context"
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
	"github.com/pterm/pterm"
)

// GeoIPProvider resolves addresses from a local MaxMind City database.
// When configured it sits first in the provider chain: no network call,
// no rate-limit charge.
type GeoIPProvider struct {
	cityDB *geoip2.Reader
	logger *pterm.Logger
}

// NewGeoIPProvider opens the City database at path. A missing or unreadable
// database is not fatal; the resolver simply falls through to the HTTP
// providers.
func NewGeoIPProvider(path string, logger *pterm.Logger) (*GeoIPProvider, error) {
	cityDB, err := geoip2.Open(path)
	if err != nil {
		logger.Warn("GeoIP City database not available",
			logger.Args("path", path, "error", err))
		return nil, err
	}

	logger.Info("Loaded GeoIP City database", logger.Args("path", path))
	return &GeoIPProvider{cityDB: cityDB, logger: logger}, nil
}

func (p *GeoIPProvider) Name() string { return "geoip" }

func (p *GeoIPProvider) Lookup(ctx context.Context, address string) (*LocationInfo, error) {
	ip := net.ParseIP(address)
	if ip == nil {
		return nil, fmt.Errorf("invalid IP: %s", address)
	}

	record, err := p.cityDB.City(ip)
	if err != nil {
		p.logger.Debug("GeoIP City lookup failed", p.logger.Args("ip", address, "error", err))
		return nil, err
	}
	if record.Country.IsoCode == "" {
		// City databases answer for unknown ranges with an empty record
		return nil, fmt.Errorf("no GeoIP data for %s", address)
	}

	region := ""
	if len(record.Subdivisions) > 0 {
		region = record.Subdivisions[0].Names["en"]
	}

	info := &LocationInfo{
		CountryCode: record.Country.IsoCode,
		CountryName: record.Country.Names["en"],
		City:        record.City.Names["en"],
		Region:      region,
		Latitude:    record.Location.Latitude,
		Longitude:   record.Location.Longitude,
		Source:      p.Name(),
	}
	return info.Sanitize(), nil
}

// Close closes the GeoIP database
func (p *GeoIPProvider) Close() error {
	return p.cityDB.Close()
}
