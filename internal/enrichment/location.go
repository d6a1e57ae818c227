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
	"strings"
	"unicode"
)

// Upstream data is untrusted; all free-text fields are capped before storage.
const (
	maxCountryCodeLen = 2
	maxNameLen        = 100
	maxISPLen         = 255
)

// LocationInfo is the enrichment payload for one address
type LocationInfo struct {
	CountryCode string  `json:"country_code"`
	CountryName string  `json:"country_name"`
	City        string  `json:"city"`
	Region      string  `json:"region"`
	ISP         string  `json:"isp"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Source      string  `json:"source"` // provider name, "local" or "unknown"
}

// Local is returned for private/reserved ranges without any external call.
func Local() *LocationInfo {
	return &LocationInfo{CountryName: "Local Network", Source: "local"}
}

// Unknown is the degraded sentinel: rate limited, all providers failed,
// or lookup not possible. Cached like any other result.
func Unknown() *LocationInfo {
	return &LocationInfo{CountryName: "Unknown", Source: "unknown"}
}

// Sanitize caps and cleans every free-text field in place and returns the
// receiver for chaining.
func (l *LocationInfo) Sanitize() *LocationInfo {
	l.CountryCode = strings.ToUpper(sanitizeText(l.CountryCode, maxCountryCodeLen))
	l.CountryName = sanitizeText(l.CountryName, maxNameLen)
	l.City = sanitizeText(l.City, maxNameLen)
	l.Region = sanitizeText(l.Region, maxNameLen)
	l.ISP = sanitizeText(l.ISP, maxISPLen)
	return l
}

func sanitizeText(s string, max int) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	for _, r := range s {
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	runes := []rune(b.String())
	if len(runes) > max {
		runes = runes[:max]
	}
	return string(runes)
}
