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
	"net"
	"sync"
	"time"

	"authguard/internal/database/repositories"

	"github.com/pterm/pterm"
)

// FailMode selects gate behavior when the store is unavailable
type FailMode string

const (
	// FailOpen allows every attempt on store error
	FailOpen FailMode = "open"
	// FailClosed denies every attempt on store error
	FailClosed FailMode = "closed"
	// FailHybrid denies only addresses whose active block is still cached
	// in memory and allows everything else, so a store outage neither
	// locks out all users nor silently releases known attackers.
	FailHybrid FailMode = "hybrid"
)

// Decision is the gate's answer for one authentication attempt
type Decision struct {
	Allowed    bool          `json:"allowed"`
	Reason     string        `json:"reason,omitempty"`
	RetryAfter time.Duration `json:"-"`
}

const (
	ReasonBlocked      = "address_blocked"
	ReasonStoreFailure = "store_unavailable"
)

const knownBlockCacheMax = 10000

// Gate is the read path consulted before every authentication attempt.
// It shares the block predicate with the processor via
// models.AddressRecord.BlockActive and lazily heals expired blocks.
type Gate struct {
	repo     repositories.AddressRecordRepository
	logger   *pterm.Logger
	failMode FailMode

	// Last-known active blocks, maintained on reads. Only consulted when
	// the store is unreachable (FailHybrid).
	knownMu     sync.Mutex
	knownBlocks map[string]time.Time
}

// NewGate creates a block gate with the given store-outage policy
func NewGate(repo repositories.AddressRecordRepository, failMode FailMode, logger *pterm.Logger) *Gate {
	switch failMode {
	case FailOpen, FailClosed, FailHybrid:
	default:
		failMode = FailHybrid
	}

	return &Gate{
		repo:        repo,
		logger:      logger,
		failMode:    failMode,
		knownBlocks: make(map[string]time.Time),
	}
}

// CheckAttempt decides whether an authentication attempt from address may
// proceed. Deny decisions carry a retry-after hint for the login flow.
func (g *Gate) CheckAttempt(ctx context.Context, address string) Decision {
	ip := net.ParseIP(address)
	if ip == nil {
		// Validation failure, not a block: the event never reaches the
		// state machine, so there is nothing to deny on
		g.logger.Warn("Gate consulted with invalid address", g.logger.Args("address", address))
		return Decision{Allowed: true}
	}
	address = ip.String()

	now := time.Now()
	record, err := g.repo.Find(ctx, address)
	if err != nil {
		return g.decideOnStoreFailure(address, now, err)
	}

	if record == nil {
		g.forgetKnownBlock(address)
		return Decision{Allowed: true}
	}

	if record.BlockActive(now) {
		g.rememberKnownBlock(address, *record.BlockedUntil)
		return Decision{
			Allowed:    false,
			Reason:     ReasonBlocked,
			RetryAfter: record.RetryAfter(now),
		}
	}

	g.forgetKnownBlock(address)

	// Expiry is self-healing: a stale blocked flag is cleared on read,
	// counter and flags together, so the next attempt starts fresh
	if record.Blocked {
		if err := g.repo.Reset(ctx, address); err != nil {
			g.logger.Warn("Failed to clear expired block, allowing anyway",
				g.logger.Args("address", address, "error", err))
		} else {
			g.logger.Debug("Cleared expired block", g.logger.Args("address", address))
		}
	}

	return Decision{Allowed: true}
}

// IsBlocked reports whether address is currently blocked
func (g *Gate) IsBlocked(ctx context.Context, address string) bool {
	return !g.CheckAttempt(ctx, address).Allowed
}

func (g *Gate) decideOnStoreFailure(address string, now time.Time, err error) Decision {
	g.logger.WithCaller().Error("Store unavailable during gate check",
		g.logger.Args("address", address, "fail_mode", g.failMode, "error", err))

	switch g.failMode {
	case FailOpen:
		return Decision{Allowed: true, Reason: ReasonStoreFailure}
	case FailClosed:
		return Decision{Allowed: false, Reason: ReasonStoreFailure, RetryAfter: time.Minute}
	default:
		if until, ok := g.lookupKnownBlock(address); ok && now.Before(until) {
			return Decision{
				Allowed:    false,
				Reason:     ReasonBlocked,
				RetryAfter: until.Sub(now),
			}
		}
		return Decision{Allowed: true, Reason: ReasonStoreFailure}
	}
}

func (g *Gate) rememberKnownBlock(address string, until time.Time) {
	g.knownMu.Lock()
	defer g.knownMu.Unlock()

	if len(g.knownBlocks) >= knownBlockCacheMax {
		now := time.Now()
		for addr, u := range g.knownBlocks {
			if now.After(u) {
				delete(g.knownBlocks, addr)
			}
		}
	}
	g.knownBlocks[address] = until
}

func (g *Gate) forgetKnownBlock(address string) {
	g.knownMu.Lock()
	delete(g.knownBlocks, address)
	g.knownMu.Unlock()
}

func (g *Gate) lookupKnownBlock(address string) (time.Time, bool) {
	g.knownMu.Lock()
	defer g.knownMu.Unlock()
	until, ok := g.knownBlocks[address]
	return until, ok
}
