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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Provider resolves one address to a location. Implementations return an
// error on any failure; the resolver owns the fallback chain.
type Provider interface {
	Name() string
	Lookup(ctx context.Context, address string) (*LocationInfo, error)
}

// 1MB is far beyond any sane geolocation payload
const maxResponseBytes = 1 << 20

// IPAPIProvider queries ip-api.com (primary HTTP provider)
type IPAPIProvider struct {
	client  *http.Client
	baseURL string
}

func NewIPAPIProvider(client *http.Client) *IPAPIProvider {
	return &IPAPIProvider{client: client, baseURL: "http://ip-api.com/json"}
}

func (p *IPAPIProvider) Name() string { return "ip-api" }

type ipAPIResponse struct {
	Status      string  `json:"status"`
	Message     string  `json:"message"`
	CountryCode string  `json:"countryCode"`
	Country     string  `json:"country"`
	City        string  `json:"city"`
	RegionName  string  `json:"regionName"`
	ISP         string  `json:"isp"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
}

func (p *IPAPIProvider) Lookup(ctx context.Context, address string) (*LocationInfo, error) {
	url := fmt.Sprintf("%s/%s?fields=status,message,countryCode,country,city,regionName,isp,lat,lon", p.baseURL, address)

	payload, err := p.fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	var body ipAPIResponse
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("malformed ip-api payload: %w", err)
	}
	if body.Status != "success" {
		return nil, fmt.Errorf("ip-api lookup failed: %s", body.Message)
	}

	info := &LocationInfo{
		CountryCode: body.CountryCode,
		CountryName: body.Country,
		City:        body.City,
		Region:      body.RegionName,
		ISP:         body.ISP,
		Latitude:    body.Lat,
		Longitude:   body.Lon,
		Source:      p.Name(),
	}
	return info.Sanitize(), nil
}

func (p *IPAPIProvider) fetch(ctx context.Context, url string) ([]byte, error) {
	return fetchJSON(ctx, p.client, url)
}

// IPWhoisProvider queries ipwho.is (secondary HTTP provider)
type IPWhoisProvider struct {
	client  *http.Client
	baseURL string
}

func NewIPWhoisProvider(client *http.Client) *IPWhoisProvider {
	return &IPWhoisProvider{client: client, baseURL: "https://ipwho.is"}
}

func (p *IPWhoisProvider) Name() string { return "ipwhois" }

type ipWhoisResponse struct {
	Success     bool    `json:"success"`
	Message     string  `json:"message"`
	CountryCode string  `json:"country_code"`
	Country     string  `json:"country"`
	City        string  `json:"city"`
	Region      string  `json:"region"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Connection  struct {
		ISP string `json:"isp"`
	} `json:"connection"`
}

func (p *IPWhoisProvider) Lookup(ctx context.Context, address string) (*LocationInfo, error) {
	payload, err := fetchJSON(ctx, p.client, fmt.Sprintf("%s/%s", p.baseURL, address))
	if err != nil {
		return nil, err
	}

	var body ipWhoisResponse
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("malformed ipwho.is payload: %w", err)
	}
	if !body.Success {
		return nil, fmt.Errorf("ipwho.is lookup failed: %s", body.Message)
	}

	info := &LocationInfo{
		CountryCode: body.CountryCode,
		CountryName: body.Country,
		City:        body.City,
		Region:      body.Region,
		ISP:         body.Connection.ISP,
		Latitude:    body.Latitude,
		Longitude:   body.Longitude,
		Source:      p.Name(),
	}
	return info.Sanitize(), nil
}

func fetchJSON(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
}
