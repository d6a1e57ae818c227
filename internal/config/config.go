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
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config enumerates every tunable explicitly; there is no generic option
// map and no process-wide singleton. Constructed once at startup and
// injected into the components that need it.
type Config struct {
	// Protection
	MaxAttempts   int64
	BlockDuration time.Duration
	FailMode      string // open | closed | hybrid

	// Retention
	RetentionDays int
	CleanupTime   string // HH:MM
	VacuumEnabled bool

	// Geolocation
	GeoCacheDuration    time.Duration
	GeoRateLimitPerHour int
	GeoIPCityDBPath     string

	// Infrastructure
	DBPath     string
	ListenAddr string
	LogLevel   string
	WebhookURL string
	LimitsFile string
}

// Default returns the documented defaults
func Default() *Config {
	return &Config{
		MaxAttempts:         5,
		BlockDuration:       3600 * time.Second,
		FailMode:            "hybrid",
		RetentionDays:       30,
		CleanupTime:         "02:00",
		VacuumEnabled:       true,
		GeoCacheDuration:    21600 * time.Second,
		GeoRateLimitPerHour: 100,
		DBPath:              "authguard.db",
		ListenAddr:          ":8395",
		LogLevel:            "info",
	}
}

// Load builds the configuration from the environment on top of defaults.
// A .env file is honored when present, ignored when not.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	cfg.MaxAttempts = envInt64("AUTHGUARD_MAX_ATTEMPTS", cfg.MaxAttempts)
	cfg.BlockDuration = time.Duration(envInt64("AUTHGUARD_BLOCK_DURATION_SECONDS", int64(cfg.BlockDuration/time.Second))) * time.Second
	cfg.FailMode = envString("AUTHGUARD_FAIL_MODE", cfg.FailMode)
	cfg.RetentionDays = int(envInt64("AUTHGUARD_RETENTION_DAYS", int64(cfg.RetentionDays)))
	cfg.CleanupTime = envString("AUTHGUARD_CLEANUP_TIME", cfg.CleanupTime)
	cfg.VacuumEnabled = envBool("AUTHGUARD_VACUUM_ENABLED", cfg.VacuumEnabled)
	cfg.GeoCacheDuration = time.Duration(envInt64("AUTHGUARD_GEO_CACHE_DURATION_SECONDS", int64(cfg.GeoCacheDuration/time.Second))) * time.Second
	cfg.GeoRateLimitPerHour = int(envInt64("AUTHGUARD_GEO_RATE_LIMIT_PER_HOUR", int64(cfg.GeoRateLimitPerHour)))
	cfg.GeoIPCityDBPath = envString("AUTHGUARD_GEOIP_CITY_DB", cfg.GeoIPCityDBPath)
	cfg.DBPath = envString("AUTHGUARD_DB_PATH", cfg.DBPath)
	cfg.ListenAddr = envString("AUTHGUARD_LISTEN_ADDR", cfg.ListenAddr)
	cfg.LogLevel = envString("AUTHGUARD_LOG_LEVEL", cfg.LogLevel)
	cfg.WebhookURL = envString("AUTHGUARD_WEBHOOK_URL", cfg.WebhookURL)
	cfg.LimitsFile = envString("AUTHGUARD_LIMITS_FILE", cfg.LimitsFile)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects out-of-range values at the boundary so they never
// reach the state machine.
func (c *Config) Validate() error {
	if c.MaxAttempts < 1 || c.MaxAttempts > 100 {
		return fmt.Errorf("max_attempts must be in 1..100, got %d", c.MaxAttempts)
	}
	if c.BlockDuration < time.Second {
		return fmt.Errorf("block_duration must be at least 1s, got %s", c.BlockDuration)
	}
	switch c.FailMode {
	case "open", "closed", "hybrid":
	default:
		return fmt.Errorf("fail_mode must be open, closed or hybrid, got %q", c.FailMode)
	}
	if c.RetentionDays < 0 {
		return fmt.Errorf("retention_days must not be negative, got %d", c.RetentionDays)
	}
	if _, err := time.Parse("15:04", c.CleanupTime); err != nil {
		return fmt.Errorf("cleanup_time must be HH:MM, got %q", c.CleanupTime)
	}
	if c.GeoCacheDuration < time.Minute {
		return fmt.Errorf("geo_cache_duration must be at least 1m, got %s", c.GeoCacheDuration)
	}
	if c.GeoRateLimitPerHour < 1 {
		return fmt.Errorf("geo_rate_limit_per_hour must be positive, got %d", c.GeoRateLimitPerHour)
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path must not be empty")
	}
	return nil
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
