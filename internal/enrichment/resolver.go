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
	"net"
	"sync"
	"time"

	"github.com/pterm/pterm"
	"golang.org/x/time/rate"
)

const (
	// DefaultLookupTimeout bounds a single provider call; enrichment is
	// best effort and must never stall the attempt path longer than this.
	DefaultLookupTimeout = 5 * time.Second

	defaultCacheSize = 10000
)

type cacheEntry struct {
	info      *LocationInfo
	expiresAt time.Time
}

// Resolver answers address-to-location lookups with caching, a process-wide
// outbound rate limit, and a provider fallback chain. Resolve never returns
// an error: every failure degrades to the "unknown" sentinel.
type Resolver struct {
	providers []Provider
	logger    *pterm.Logger
	limiter   *rate.Limiter

	cache     map[string]cacheEntry
	cacheMu   sync.RWMutex
	cacheTTL  time.Duration
	cacheSize int

	lookupTimeout time.Duration
}

// NewResolver creates a resolver over the given provider chain. Providers
// are tried in order; callsPerHour caps external calls across all of them.
func NewResolver(providers []Provider, cacheTTL time.Duration, callsPerHour int, logger *pterm.Logger) *Resolver {
	if cacheTTL <= 0 {
		cacheTTL = 6 * time.Hour
	}
	if callsPerHour <= 0 {
		callsPerHour = 100
	}

	return &Resolver{
		providers:     providers,
		logger:        logger,
		limiter:       rate.NewLimiter(rate.Every(time.Hour/time.Duration(callsPerHour)), callsPerHour/10+1),
		cache:         make(map[string]cacheEntry, defaultCacheSize),
		cacheTTL:      cacheTTL,
		cacheSize:     defaultCacheSize,
		lookupTimeout: DefaultLookupTimeout,
	}
}

// Resolve returns the location for address. Private and reserved ranges
// short-circuit to the "local" sentinel without an external call.
func (r *Resolver) Resolve(ctx context.Context, address string) *LocationInfo {
	ip := net.ParseIP(address)
	if ip == nil {
		r.logger.Debug("Invalid IP address for geolocation lookup", r.logger.Args("ip", address))
		return Unknown()
	}

	if isLocalAddress(ip) {
		return Local()
	}

	if cached := r.cachedLookup(address); cached != nil {
		r.logger.Trace("Geolocation cache hit", r.logger.Args("ip", address, "source", cached.Source))
		return cached
	}

	// Unknown results are cached too, so a hostile burst of unresolvable
	// addresses cannot drain the hourly budget twice for the same key
	if !r.limiter.Allow() {
		r.logger.Debug("Geolocation rate limit exceeded, returning unknown", r.logger.Args("ip", address))
		info := Unknown()
		r.store(address, info)
		return info
	}

	info := r.lookupChain(ctx, address)
	r.store(address, info)
	return info
}

// CachedOnly returns the cached location for address, or nil. Used where
// even a bounded external call is unwelcome.
func (r *Resolver) CachedOnly(address string) *LocationInfo {
	return r.cachedLookup(address)
}

func (r *Resolver) lookupChain(ctx context.Context, address string) *LocationInfo {
	for _, provider := range r.providers {
		lookupCtx, cancel := context.WithTimeout(ctx, r.lookupTimeout)
		info, err := provider.Lookup(lookupCtx, address)
		cancel()

		if err != nil {
			r.logger.Debug("Geolocation provider failed, trying next",
				r.logger.Args("provider", provider.Name(), "ip", address, "error", err))
			continue
		}

		r.logger.Debug("Geolocation lookup successful",
			r.logger.Args("provider", provider.Name(), "ip", address, "country", info.CountryCode))
		return info
	}

	r.logger.Warn("All geolocation providers failed", r.logger.Args("ip", address))
	return Unknown()
}

func (r *Resolver) cachedLookup(address string) *LocationInfo {
	r.cacheMu.RLock()
	entry, exists := r.cache[address]
	r.cacheMu.RUnlock()

	if !exists || time.Now().After(entry.expiresAt) {
		return nil
	}
	return entry.info
}

func (r *Resolver) store(address string, info *LocationInfo) {
	now := time.Now()

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	if len(r.cache) >= r.cacheSize {
		r.evictLocked(now)
	}

	r.cache[address] = cacheEntry{info: info, expiresAt: now.Add(r.cacheTTL)}
}

// evictLocked drops expired entries first, then oldest-expiring entries
// until 10% of the cache is free. Caller holds cacheMu.
func (r *Resolver) evictLocked(now time.Time) {
	for addr, entry := range r.cache {
		if now.After(entry.expiresAt) {
			delete(r.cache, addr)
		}
	}

	target := r.cacheSize - r.cacheSize/10
	for len(r.cache) > target {
		var oldestAddr string
		var oldestExpiry time.Time
		for addr, entry := range r.cache {
			if oldestAddr == "" || entry.expiresAt.Before(oldestExpiry) {
				oldestAddr = addr
				oldestExpiry = entry.expiresAt
			}
		}
		delete(r.cache, oldestAddr)
	}

	r.logger.Debug("Geolocation cache eviction performed",
		r.logger.Args("cache_size", len(r.cache), "max_size", r.cacheSize))
}

// CacheLen returns the number of cached entries
func (r *Resolver) CacheLen() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

func isLocalAddress(ip net.IP) bool {
	return ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}
