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
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"authguard/internal/protection"

	"github.com/gin-gonic/gin"
	"github.com/pterm/pterm"
)

// ProtectionHandler exposes the attempt processor and block gate over HTTP
type ProtectionHandler struct {
	processor *protection.Processor
	gate      *protection.Gate
	logger    *pterm.Logger
}

// NewProtectionHandler creates a new protection handler
func NewProtectionHandler(processor *protection.Processor, gate *protection.Gate, logger *pterm.Logger) *ProtectionHandler {
	return &ProtectionHandler{
		processor: processor,
		gate:      gate,
		logger:    logger,
	}
}

type failedAttemptRequest struct {
	Address  string `json:"address" binding:"required"`
	Identity string `json:"identity"`
}

// RecordFailedAttempt handles POST /api/v1/attempts
func (h *ProtectionHandler) RecordFailedAttempt(c *gin.Context) {
	var req failedAttemptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "address is required"})
		return
	}

	record, err := h.processor.RecordFailedAttempt(c.Request.Context(), req.Address, req.Identity)
	if err != nil {
		if errors.Is(err, protection.ErrInvalidAddress) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address"})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable, retry"})
		return
	}

	c.JSON(http.StatusOK, record)
}

// CheckGate handles GET /api/v1/gate/:address — consulted by the host's
// authentication pipeline before the credential check
func (h *ProtectionHandler) CheckGate(c *gin.Context) {
	decision := h.gate.CheckAttempt(c.Request.Context(), c.Param("address"))

	status := http.StatusOK
	if !decision.Allowed {
		status = http.StatusForbidden
	}

	c.JSON(status, gin.H{
		"allowed":             decision.Allowed,
		"reason":              decision.Reason,
		"retry_after_seconds": int64(decision.RetryAfter.Seconds()),
	})
}

// GetAddress handles GET /api/v1/addresses/:address
func (h *ProtectionHandler) GetAddress(c *gin.Context) {
	record, err := h.processor.Get(c.Request.Context(), c.Param("address"))
	if err != nil {
		if errors.Is(err, protection.ErrInvalidAddress) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address"})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable, retry"})
		return
	}
	if record == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "address not seen"})
		return
	}

	c.JSON(http.StatusOK, record)
}

// Unblock handles POST /api/v1/addresses/:address/unblock
func (h *ProtectionHandler) Unblock(c *gin.Context) {
	address := c.Param("address")
	if err := h.processor.Unblock(c.Request.Context(), address); err != nil {
		if errors.Is(err, protection.ErrInvalidAddress) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address"})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable, retry"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"address": address, "unblocked": true})
}

// UnblockAll handles POST /api/v1/unblock-all
func (h *ProtectionHandler) UnblockAll(c *gin.Context) {
	affected, err := h.processor.UnblockAll(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable, retry"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"unblocked": affected})
}

// DeleteAddress handles DELETE /api/v1/addresses/:address
func (h *ProtectionHandler) DeleteAddress(c *gin.Context) {
	if err := h.processor.Delete(c.Request.Context(), c.Param("address")); err != nil {
		if errors.Is(err, protection.ErrInvalidAddress) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address"})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable, retry"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// DeleteAll handles DELETE /api/v1/addresses
func (h *ProtectionHandler) DeleteAll(c *gin.Context) {
	affected, err := h.processor.DeleteAll(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable, retry"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": affected})
}

// DeleteAllBlocked handles DELETE /api/v1/blocked
func (h *ProtectionHandler) DeleteAllBlocked(c *gin.Context) {
	affected, err := h.processor.DeleteAllBlocked(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable, retry"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": affected})
}

// ListBlocked handles GET /api/v1/blocked with pagination and search
func (h *ProtectionHandler) ListBlocked(c *gin.Context) {
	page := 1
	if p := c.Query("page"); p != "" {
		if val, err := strconv.Atoi(p); err == nil && val > 0 {
			page = val
		}
	}

	pageSize := 50
	if ps := c.Query("page_size"); ps != "" {
		if val, err := strconv.Atoi(ps); err == nil && val > 0 && val <= 500 {
			pageSize = val
		}
	}

	records, total, err := h.processor.ListBlocked(c.Request.Context(), page, pageSize, c.Query("search"))
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable, retry"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"records":   records,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// GetStats handles GET /api/v1/stats?days=
func (h *ProtectionHandler) GetStats(c *gin.Context) {
	days := 30
	if d := c.Query("days"); d != "" {
		if val, err := strconv.Atoi(d); err == nil && val > 0 && val <= 365 {
			days = val
		}
	}

	stats, err := h.processor.Stats(c.Request.Context(), days)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable, retry"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"period_days": days, "stats": stats})
}
